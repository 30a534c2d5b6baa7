package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/smartmed/analyser-backend/internal/apierr"
	"github.com/smartmed/analyser-backend/internal/logger"
	"github.com/smartmed/analyser-backend/internal/types"
)

// Narrative kinds. Each maps to a distinct instruction template applied to
// the same structured record.
const (
	NarrativeSummary         = "summary"
	NarrativeRecommendations = "recommendations"
)

// Narrative is one generated text blob plus the model that produced it.
type Narrative struct {
	Kind        string
	Text        string
	Model       string
	GeneratedAt time.Time
}

// InsightService produces the summary and recommendations narratives for a
// structured record. Empty or whitespace-only model output is treated as a
// failure, never returned.
type InsightService interface {
	Generate(ctx context.Context, kind string, record *types.StructuredRecord) (*Narrative, error)
}

type insightService struct {
	log       *logger.Logger
	generator TextGenerator
	timeout   time.Duration
}

func NewInsightService(generator TextGenerator, baseLog *logger.Logger) InsightService {
	serviceLog := baseLog.With("service", "InsightService")
	return &insightService{
		log:       serviceLog,
		generator: generator,
		timeout:   90 * time.Second,
	}
}

const summarySystemPrompt = `You are a warm, friendly and clear AI health assistant.
Think of yourself as a kind doctor explaining results to a patient with zero medical background.
Translate the provided lab report data into a simple story about the patient's health.
Avoid complex jargon; if you must use a medical term, explain it with a simple real-world analogy.
Structure: a short big-picture summary, what each key result means, how results connect, and a gentle reminder that you are an AI helper, not a replacement for their real doctor.`

const recommendationsSystemPrompt = `You are a practical AI health coach working from lab report data.
Produce specific, actionable lifestyle and dietary recommendations tied to the values in the report.
For each abnormal value suggest concrete foods to increase and foods to limit, with a one-line reason.
Give small steps the patient could start tomorrow. Never name medications or dosages.
End with a reminder to discuss the results with their doctor.`

func (s *insightService) Generate(ctx context.Context, kind string, record *types.StructuredRecord) (*Narrative, error) {
	var system string
	switch kind {
	case NarrativeSummary:
		system = summarySystemPrompt
	case NarrativeRecommendations:
		system = recommendationsSystemPrompt
	default:
		return nil, apierr.Newf(apierr.KindValidation, "unknown narrative kind %q", kind)
	}

	payload, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return nil, apierr.AtStage("narratives", apierr.KindGenerationPermanent, err)
	}
	user := fmt.Sprintf("LAB REPORT DATA:\n%s", payload)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	text, model, err := s.generator.GenerateText(ctx, system, user)
	if err != nil {
		return nil, apierr.AtStage("narratives", apierr.KindGenerationTransient, err)
	}
	if strings.TrimSpace(text) == "" {
		// An empty reply means a silent upstream failure, not a valid answer.
		return nil, apierr.AtStage("narratives", apierr.KindGenerationPermanent,
			fmt.Errorf("generator returned empty %s narrative", kind))
	}

	return &Narrative{
		Kind:        kind,
		Text:        text,
		Model:       model,
		GeneratedAt: time.Now(),
	}, nil
}
