package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/smartmed/analyser-backend/internal/apierr"
	"github.com/smartmed/analyser-backend/internal/logger"
	"github.com/smartmed/analyser-backend/internal/types"
)

// ExtractionService turns an uploaded lab-report document into a
// StructuredRecord. A JSON artifact of the record is written back to object
// storage under a key derived from the document, so re-running extraction
// overwrites rather than appends.
type ExtractionService interface {
	Extract(ctx context.Context, doc *types.Document) (*types.StructuredRecord, error)
	ArtifactKey(doc *types.Document) string
}

type extractionService struct {
	log    *logger.Logger
	bucket BucketService
}

func NewExtractionService(bucket BucketService, baseLog *logger.Logger) ExtractionService {
	serviceLog := baseLog.With("service", "ExtractionService")
	return &extractionService{log: serviceLog, bucket: bucket}
}

func (s *extractionService) ArtifactKey(doc *types.Document) string {
	return fmt.Sprintf("artifacts/%s.json", doc.ID)
}

func (s *extractionService) Extract(ctx context.Context, doc *types.Document) (*types.StructuredRecord, error) {
	data, err := s.bucket.DownloadFile(ctx, doc.StorageKey)
	if err != nil {
		return nil, apierr.AtStage("extract", apierr.KindExtraction, err)
	}

	var record *types.StructuredRecord
	if looksLikeJSON(data) {
		record, err = RecordFromJSON(data)
	} else {
		var text string
		text, err = ExtractTextLines(doc.OriginalName, doc.MimeType, data)
		if err == nil {
			record = ParseLabText(text)
		}
	}
	if err != nil {
		return nil, apierr.AtStage("extract", apierr.KindExtraction, err)
	}
	record.TestCount = len(record.TestEntries)

	artifact, err := json.Marshal(record)
	if err != nil {
		return nil, apierr.AtStage("extract", apierr.KindExtraction, err)
	}
	if err := s.bucket.UploadFile(ctx, s.ArtifactKey(doc), bytes.NewReader(artifact)); err != nil {
		// Artifact is audit/cache only. Extraction still succeeded.
		s.log.Warn("Failed to persist extraction artifact", "document_id", doc.ID, "error", err)
	}

	return record, nil
}

func looksLikeJSON(data []byte) bool {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	return len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[')
}

// testListAliases is the ordered set of field names accepted as "the test
// list" in upstream JSON shapes. First non-empty match wins.
var testListAliases = []string{
	"test_entries",
	"test_results",
	"tests",
	"medical_tests",
	"results",
	"lab_tests",
}

// patientAliases mirrors testListAliases for the patient block.
var patientAliases = []string{
	"patient_hints",
	"patient_info",
	"patient",
	"demographics",
}

// RecordFromJSON parses a heterogeneous upstream JSON document into a
// StructuredRecord via tagged alias lookup.
func RecordFromJSON(data []byte) (*types.StructuredRecord, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid json document: %w", err)
	}

	record := &types.StructuredRecord{}

	for _, alias := range testListAliases {
		blob, ok := raw[alias]
		if !ok {
			continue
		}
		var entries []jsonTestEntry
		if err := json.Unmarshal(blob, &entries); err != nil || len(entries) == 0 {
			continue
		}
		for _, e := range entries {
			entry := e.toTestEntry()
			if entry.Name == "" {
				continue
			}
			record.TestEntries = append(record.TestEntries, entry)
		}
		if len(record.TestEntries) > 0 {
			break
		}
	}
	if len(record.TestEntries) == 0 {
		return nil, fmt.Errorf("no test entries found under any known field name")
	}

	for _, alias := range patientAliases {
		blob, ok := raw[alias]
		if !ok {
			continue
		}
		var hints types.PatientHints
		if err := json.Unmarshal(blob, &hints); err != nil {
			continue
		}
		if hints.Name != "" || hints.Age != 0 || hints.Gender != "" {
			record.PatientHints = hints
			break
		}
	}

	for i := range record.TestEntries {
		deriveAbnormal(&record.TestEntries[i])
	}
	return record, nil
}

// jsonTestEntry tolerates the field spellings seen in upstream artifacts.
type jsonTestEntry struct {
	Name           string                `json:"name"`
	TestName       string                `json:"test_name"`
	ResultValue    *float64              `json:"result_value"`
	Unit           string                `json:"unit"`
	ReferenceRange *types.ReferenceRange `json:"reference_range"`
	Abnormal       bool                  `json:"abnormal"`
	Flag           string                `json:"flag"`
}

func (e jsonTestEntry) toTestEntry() types.TestEntry {
	name := e.Name
	if name == "" {
		name = e.TestName
	}
	entry := types.TestEntry{
		Name:        strings.TrimSpace(name),
		ResultValue: e.ResultValue,
		Unit:        e.Unit,
		Abnormal:    e.Abnormal,
	}
	if e.ReferenceRange != nil {
		entry.ReferenceRange = *e.ReferenceRange
	}
	if f := strings.ToUpper(strings.TrimSpace(e.Flag)); f == "H" || f == "L" || f == "HIGH" || f == "LOW" {
		entry.Abnormal = true
	}
	return entry
}

var (
	columnSplitRe = regexp.MustCompile(`\s{2,}`)
	valueRe       = regexp.MustCompile(`^([HLhl])?\s*(\d+\.?\d*)$`)
	rangeRe       = regexp.MustCompile(`(\d+\.?\d*)\s*-\s*(\d+\.?\d*)`)
	boundRe       = regexp.MustCompile(`([<>])\s*(\d+\.?\d*)`)
	nameRe        = regexp.MustCompile(`Patient\s*Name\s*:\s*([A-Za-z][A-Za-z.\s]*?)(?:\s{2,}|$)`)
	ageGenderRe   = regexp.MustCompile(`(?i)(\d+)\s*(Years?|Yrs?|Y|Months?|M|Days?|D)\s*/\s*(Male|Female|M|F)`)
)

// skipMarkers are section headers and boilerplate that must never be read as
// test rows.
var skipMarkers = []string{
	"TEST NAME", "PATIENT NAME", "AGE/GENDER", "CLIENT NAME", "REFERRAL",
	"SAMPLE TYPE", "SCAN TO", "PRINT DATE", "PACKAGE", "COMPLETE BLOOD COUNT",
	"INDICES", "DIFFERENTIAL", "ABSOLUTE COUNTS", "PLATELETS", "WHITE BLOOD",
	"HAEMOGLOBIN AND RBC", "END OF REPORT", "REG NO", "M.D.",
}

// ParseLabText parses columnar lab-report text into a StructuredRecord. Rows
// look like "Test Name  [H|L] Value  Unit  Range  Method" with columns
// separated by two or more spaces.
func ParseLabText(text string) *types.StructuredRecord {
	record := &types.StructuredRecord{}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if m := nameRe.FindStringSubmatch(line); m != nil && record.PatientHints.Name == "" {
			if name := cleanCell(m[1]); len(name) > 2 {
				record.PatientHints.Name = name
			}
		}
		if m := ageGenderRe.FindStringSubmatch(line); m != nil && record.PatientHints.Age == 0 {
			if age, err := strconv.Atoi(m[1]); err == nil {
				record.PatientHints.Age = age
				record.PatientHints.AgeUnit = strings.ToUpper(m[2])
				g := strings.ToUpper(m[3])
				if g == "M" || g == "MALE" {
					record.PatientHints.Gender = "Male"
				} else {
					record.PatientHints.Gender = "Female"
				}
			}
		}

		if isSkippableLine(line) {
			continue
		}

		entry, ok := parseTestLine(line)
		if !ok {
			continue
		}
		record.TestEntries = append(record.TestEntries, entry)
	}

	record.TestCount = len(record.TestEntries)
	return record
}

func isSkippableLine(line string) bool {
	upper := strings.ToUpper(line)
	for _, marker := range skipMarkers {
		if strings.Contains(upper, marker) {
			return true
		}
	}
	return strings.HasPrefix(line, "Dr.")
}

func parseTestLine(line string) (types.TestEntry, bool) {
	parts := columnSplitRe.Split(line, -1)
	if len(parts) < 3 {
		return types.TestEntry{}, false
	}

	name := cleanCell(parts[0])
	if name == "" || strings.Contains(name, ":") {
		return types.TestEntry{}, false
	}

	m := valueRe.FindStringSubmatch(strings.TrimSpace(parts[1]))
	if m == nil {
		return types.TestEntry{}, false
	}
	value, err := strconv.ParseFloat(m[2], 64)
	if err != nil {
		return types.TestEntry{}, false
	}

	entry := types.TestEntry{
		Name:        name,
		ResultValue: &value,
		Unit:        cleanCell(parts[2]),
	}
	if flag := strings.ToUpper(m[1]); flag == "H" || flag == "L" {
		entry.Abnormal = true
	}
	if len(parts) > 3 {
		entry.ReferenceRange = parseReferenceRange(parts[3])
	}
	deriveAbnormal(&entry)
	return entry, true
}

func parseReferenceRange(text string) types.ReferenceRange {
	text = strings.TrimSpace(text)
	rr := types.ReferenceRange{Text: text}
	if m := rangeRe.FindStringSubmatch(text); m != nil {
		min, _ := strconv.ParseFloat(m[1], 64)
		max, _ := strconv.ParseFloat(m[2], 64)
		rr.Min = &min
		rr.Max = &max
		return rr
	}
	if m := boundRe.FindStringSubmatch(text); m != nil {
		bound, _ := strconv.ParseFloat(m[2], 64)
		if m[1] == "<" {
			rr.Max = &bound
		} else {
			rr.Min = &bound
		}
	}
	return rr
}

// deriveAbnormal makes the abnormal flag consistent with the parsed value and
// range. With both bounds present the range wins over any source H/L flag.
// With one bound, only that bound is checked. With no bounds or no value, the
// source flag stands.
func deriveAbnormal(e *types.TestEntry) {
	if e.ResultValue == nil {
		return
	}
	v := *e.ResultValue
	min, max := e.ReferenceRange.Min, e.ReferenceRange.Max
	switch {
	case min != nil && max != nil:
		e.Abnormal = v < *min || v > *max
	case max != nil:
		e.Abnormal = v > *max
	case min != nil:
		e.Abnormal = v < *min
	}
}

func cleanCell(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	return strings.Trim(s, ".,;:-_ ")
}
