package services

import (
	"context"
	"strings"
	"testing"

	"github.com/smartmed/analyser-backend/internal/apierr"
	"github.com/smartmed/analyser-backend/internal/logger"
	"github.com/smartmed/analyser-backend/internal/types"
)

func insightRecord() *types.StructuredRecord {
	v := 7.0
	return &types.StructuredRecord{
		TestEntries: []types.TestEntry{{Name: "Hemoglobin", ResultValue: &v, Abnormal: true}},
		TestCount:   1,
	}
}

func TestInsightGenerateIncludesRecordData(t *testing.T) {
	gen := &fakeGenerator{reply: "summary text"}
	svc := NewInsightService(gen, logger.NewNop())

	n, err := svc.Generate(context.Background(), NarrativeSummary, insightRecord())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if n.Kind != NarrativeSummary || n.Text != "summary text" || n.Model != "fake-model" {
		t.Fatalf("narrative = %+v", n)
	}
	if !strings.Contains(gen.prompts[0], "Hemoglobin") {
		t.Fatalf("prompt missing record data:\n%s", gen.prompts[0])
	}
	if gen.systems[0] == "" {
		t.Fatal("no system prompt supplied")
	}
}

func TestInsightGenerateDistinctPrompts(t *testing.T) {
	gen := &fakeGenerator{reply: "text"}
	svc := NewInsightService(gen, logger.NewNop())
	ctx := context.Background()

	if _, err := svc.Generate(ctx, NarrativeSummary, insightRecord()); err != nil {
		t.Fatalf("summary: %v", err)
	}
	if _, err := svc.Generate(ctx, NarrativeRecommendations, insightRecord()); err != nil {
		t.Fatalf("recommendations: %v", err)
	}
	if gen.systems[0] == gen.systems[1] {
		t.Fatal("summary and recommendations share a system prompt")
	}
}

func TestInsightGenerateUnknownKind(t *testing.T) {
	svc := NewInsightService(&fakeGenerator{reply: "x"}, logger.NewNop())
	if _, err := svc.Generate(context.Background(), "poetry", insightRecord()); !apierr.Is(err, apierr.KindValidation) {
		t.Fatalf("err = %v, want validation error", err)
	}
}

func TestInsightGenerateEmptyReply(t *testing.T) {
	svc := NewInsightService(&fakeGenerator{reply: "   "}, logger.NewNop())
	_, err := svc.Generate(context.Background(), NarrativeSummary, insightRecord())
	if !apierr.Is(err, apierr.KindGenerationPermanent) {
		t.Fatalf("err = %v, want permanent generation error", err)
	}
}
