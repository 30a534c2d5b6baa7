package types

// StructuredRecord is the canonical machine-readable extraction of a lab
// report. It is stored as the jsonb payload of a Report and is immutable
// once extraction succeeds.
type StructuredRecord struct {
	PatientHints PatientHints `json:"patient_hints"`
	TestEntries  []TestEntry  `json:"test_entries"`
	TestCount    int          `json:"test_count"`
}

// PatientHints are best-effort identity fields found in the document. Any of
// them may be empty.
type PatientHints struct {
	Name    string `json:"name,omitempty"`
	Age     int    `json:"age,omitempty"`
	AgeUnit string `json:"age_unit,omitempty"`
	Gender  string `json:"gender,omitempty"`
}

type ReferenceRange struct {
	Min  *float64 `json:"min,omitempty"`
	Max  *float64 `json:"max,omitempty"`
	Text string   `json:"text,omitempty"`
}

// TestEntry is one result line. ResultValue may be nil when the test name was
// recognized but its value could not be parsed; such partial entries are kept,
// not dropped.
type TestEntry struct {
	Name           string         `json:"name"`
	ResultValue    *float64       `json:"result_value,omitempty"`
	Unit           string         `json:"unit,omitempty"`
	ReferenceRange ReferenceRange `json:"reference_range"`
	Abnormal       bool           `json:"abnormal"`
}

// AbnormalCount returns the number of flagged entries.
func (r *StructuredRecord) AbnormalCount() int {
	n := 0
	for _, e := range r.TestEntries {
		if e.Abnormal {
			n++
		}
	}
	return n
}

// Risk levels derived from the abnormal-entry fraction.
const (
	RiskUnknown = "unknown"
	RiskNormal  = "normal"
	RiskMedium  = "medium"
	RiskHigh    = "high"
)

// RiskLevel applies the fixed classification rule: no entries -> unknown,
// >30% abnormal -> high, >15% -> medium, otherwise normal.
func (r *StructuredRecord) RiskLevel() string {
	total := len(r.TestEntries)
	if total == 0 {
		return RiskUnknown
	}
	frac := float64(r.AbnormalCount()) / float64(total)
	switch {
	case frac > 0.30:
		return RiskHigh
	case frac > 0.15:
		return RiskMedium
	default:
		return RiskNormal
	}
}
