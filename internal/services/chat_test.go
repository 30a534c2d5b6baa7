package services

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/smartmed/analyser-backend/internal/apierr"
	"github.com/smartmed/analyser-backend/internal/db"
	"github.com/smartmed/analyser-backend/internal/logger"
	"github.com/smartmed/analyser-backend/internal/repos"
	"github.com/smartmed/analyser-backend/internal/types"
)

// fakeGenerator returns a scripted reply and records every prompt it saw.
type fakeGenerator struct {
	reply   string
	err     error
	prompts []string
	systems []string
}

func (g *fakeGenerator) GenerateText(_ context.Context, system, user string) (string, string, error) {
	g.systems = append(g.systems, system)
	g.prompts = append(g.prompts, user)
	if g.err != nil {
		return "", "", g.err
	}
	return g.reply, "fake-model", nil
}

type fakeCooldown struct{ allow bool }

func (c *fakeCooldown) Acquire(context.Context, uuid.UUID) bool { return c.allow }

type chatFixture struct {
	svc      ChatService
	gen      *fakeGenerator
	cooldown *fakeCooldown
	sessions repos.ChatSessionRepo
	userID   uuid.UUID
	report   *types.Report
}

func newChatFixture(t *testing.T, maxHistory int) *chatFixture {
	t.Helper()
	gdb := db.OpenTest(t)
	log := logger.NewNop()

	userID := uuid.New()
	value := 7.0
	record := &types.StructuredRecord{
		PatientHints: types.PatientHints{Name: "Jane Doe"},
		TestEntries: []types.TestEntry{{
			Name:        "Hemoglobin",
			ResultValue: &value,
			Unit:        "g/dL",
			ReferenceRange: types.ReferenceRange{
				Min: ptrFloat(12.0), Max: ptrFloat(15.5), Text: "12.0 - 15.5",
			},
			Abnormal: true,
		}},
		TestCount: 1,
	}
	structured, err := json.Marshal(record)
	if err != nil {
		t.Fatalf("marshal record: %v", err)
	}
	report := &types.Report{
		ID:         uuid.New(),
		UserID:     userID,
		DocumentID: uuid.New(),
		OwnerName:  "Jane Doe",
		ReportKind: "lab_report",
		RiskLevel:  types.RiskHigh,
		TestCount:  1,
		Structured: datatypes.JSON(structured),
		Summary:    "Your hemoglobin is quite low.\nEverything else looks fine.",
	}
	reportRepo := repos.NewReportRepo(gdb, log)
	if _, err := reportRepo.Create(context.Background(), nil, []*types.Report{report}); err != nil {
		t.Fatalf("create report: %v", err)
	}

	gen := &fakeGenerator{reply: "Your hemoglobin of 7 g/dL is below range. Please consult your doctor."}
	cooldown := &fakeCooldown{allow: true}
	sessions := repos.NewChatSessionRepo(gdb, log)
	svc := NewChatService(sessions, reportRepo, gen, NewSafetyFilter(), cooldown, maxHistory, log)

	return &chatFixture{
		svc:      svc,
		gen:      gen,
		cooldown: cooldown,
		sessions: sessions,
		userID:   userID,
		report:   report,
	}
}

func ptrFloat(v float64) *float64 { return &v }

func TestStartSessionSeedsWelcome(t *testing.T) {
	fx := newChatFixture(t, 0)
	ctx := context.Background()

	session, err := fx.svc.StartSession(ctx, fx.userID, fx.report.ID)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	history, err := fx.svc.GetHistory(ctx, fx.userID, session.ID)
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("seeded history has %d entries, want 1", len(history))
	}
	if history[0].Role != types.ChatRoleAssistant {
		t.Fatalf("seed role = %q", history[0].Role)
	}
	if !strings.Contains(history[0].Content, "Jane Doe") {
		t.Fatalf("welcome mentions no owner: %q", history[0].Content)
	}
	if !strings.Contains(history[0].Content, "hemoglobin is quite low") {
		t.Fatalf("welcome missing summary lead: %q", history[0].Content)
	}

	// A second start hands back the same session.
	again, err := fx.svc.StartSession(ctx, fx.userID, fx.report.ID)
	if err != nil {
		t.Fatalf("second StartSession: %v", err)
	}
	if again.ID != session.ID {
		t.Fatalf("second start created a new session %s != %s", again.ID, session.ID)
	}
}

func TestStartSessionForeignReport(t *testing.T) {
	fx := newChatFixture(t, 0)
	if _, err := fx.svc.StartSession(context.Background(), uuid.New(), fx.report.ID); !apierr.Is(err, apierr.KindNotFound) {
		t.Fatalf("err = %v, want not-found on someone else's report", err)
	}
}

func TestSendTurnGroundsOnStructuredValues(t *testing.T) {
	fx := newChatFixture(t, 0)
	ctx := context.Background()
	session, err := fx.svc.StartSession(ctx, fx.userID, fx.report.ID)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	result, err := fx.svc.SendTurn(ctx, fx.userID, session.ID, "what does my hemoglobin mean?")
	if err != nil {
		t.Fatalf("SendTurn: %v", err)
	}

	if len(fx.gen.prompts) != 1 {
		t.Fatalf("generator called %d times, want 1", len(fx.gen.prompts))
	}
	prompt := fx.gen.prompts[0]
	if !strings.Contains(prompt, "Hemoglobin") || !strings.Contains(prompt, "7") {
		t.Fatalf("prompt missing the grounded lab value:\n%s", prompt)
	}
	if !strings.Contains(prompt, `"abnormal": true`) {
		t.Fatalf("prompt does not flag the abnormal entry:\n%s", prompt)
	}

	if !strings.Contains(strings.ToLower(result.Reply), "consult") {
		t.Fatalf("reply discussing abnormal values lacks a consult note: %q", result.Reply)
	}

	// seed + user + assistant
	if len(result.History) != 3 {
		t.Fatalf("history length = %d, want 3", len(result.History))
	}
	if result.History[1].Role != types.ChatRoleUser || result.History[2].Role != types.ChatRoleAssistant {
		t.Fatal("turn did not append a user/assistant pair")
	}
}

func TestSendTurnAppendsDisclaimer(t *testing.T) {
	fx := newChatFixture(t, 0)
	fx.gen.reply = "Your hemoglobin of 7 g/dL is below its reference range."
	ctx := context.Background()
	session, _ := fx.svc.StartSession(ctx, fx.userID, fx.report.ID)

	result, err := fx.svc.SendTurn(ctx, fx.userID, session.ID, "is my hemoglobin ok?")
	if err != nil {
		t.Fatalf("SendTurn: %v", err)
	}
	if !strings.Contains(result.Reply, ConsultDisclaimer) {
		t.Fatalf("disclaimer missing: %q", result.Reply)
	}
}

func TestSendTurnEmptyMessage(t *testing.T) {
	fx := newChatFixture(t, 0)
	ctx := context.Background()
	session, _ := fx.svc.StartSession(ctx, fx.userID, fx.report.ID)

	if _, err := fx.svc.SendTurn(ctx, fx.userID, session.ID, "   "); !apierr.Is(err, apierr.KindValidation) {
		t.Fatalf("err = %v, want validation error", err)
	}
}

func TestSendTurnCooldownLeavesHistoryUnchanged(t *testing.T) {
	fx := newChatFixture(t, 0)
	ctx := context.Background()
	session, _ := fx.svc.StartSession(ctx, fx.userID, fx.report.ID)

	before, _ := fx.svc.GetHistory(ctx, fx.userID, session.ID)

	fx.cooldown.allow = false
	if _, err := fx.svc.SendTurn(ctx, fx.userID, session.ID, "hello"); !apierr.Is(err, apierr.KindRateLimit) {
		t.Fatalf("err = %v, want rate-limit error", err)
	}

	after, _ := fx.svc.GetHistory(ctx, fx.userID, session.ID)
	if len(after) != len(before) {
		t.Fatalf("rejected turn changed history: %d -> %d entries", len(before), len(after))
	}
	if len(fx.gen.prompts) != 0 {
		t.Fatal("rejected turn must not reach the generator")
	}
}

func TestSendTurnSafetyScreenSkipsGenerator(t *testing.T) {
	fx := newChatFixture(t, 0)
	ctx := context.Background()
	session, _ := fx.svc.StartSession(ctx, fx.userID, fx.report.ID)

	result, err := fx.svc.SendTurn(ctx, fx.userID, session.ID, "can you prescribe something for this?")
	if err != nil {
		t.Fatalf("SendTurn: %v", err)
	}
	if len(fx.gen.prompts) != 0 {
		t.Fatal("screened query must not reach the generator")
	}
	if !strings.Contains(result.Reply, "cannot provide medical diagnoses") {
		t.Fatalf("reply = %q, want the canned policy reply", result.Reply)
	}
	// The screened exchange is still recorded as a pair.
	if len(result.History) != 3 {
		t.Fatalf("history length = %d, want seed + screened pair", len(result.History))
	}
}

func TestSendTurnGenerationFailureFallsBack(t *testing.T) {
	fx := newChatFixture(t, 0)
	fx.gen.err = apierr.New(apierr.KindQuotaExhausted, "all models exhausted")
	ctx := context.Background()
	session, _ := fx.svc.StartSession(ctx, fx.userID, fx.report.ID)

	result, err := fx.svc.SendTurn(ctx, fx.userID, session.ID, "what does this mean?")
	if err != nil {
		t.Fatalf("SendTurn must still answer: %v", err)
	}
	if result.Reply != FallbackReply {
		t.Fatalf("reply = %q, want fallback", result.Reply)
	}
	if len(result.History) != 3 {
		t.Fatalf("history length = %d, want the pair recorded despite the failure", len(result.History))
	}
}

func TestTruncateHistory(t *testing.T) {
	mk := func(roles ...string) []types.ChatMessage {
		out := make([]types.ChatMessage, len(roles))
		for i, r := range roles {
			out[i] = types.ChatMessage{Role: r, Content: r}
		}
		return out
	}
	u, a := types.ChatRoleUser, types.ChatRoleAssistant

	// Leading seed drops alone, then whole pairs oldest-first.
	h := TruncateHistory(mk(a, u, a, u, a, u, a), 4)
	if len(h) != 4 {
		t.Fatalf("len = %d, want 4", len(h))
	}
	if h[0].Role != u || h[1].Role != a || h[2].Role != u || h[3].Role != a {
		t.Fatalf("pairs broken after truncation: %+v", h)
	}

	// Under the bound nothing changes.
	h = TruncateHistory(mk(a, u, a), 20)
	if len(h) != 3 {
		t.Fatalf("len = %d, want untouched history", len(h))
	}
}

func TestSendTurnBoundsHistory(t *testing.T) {
	fx := newChatFixture(t, 6)
	ctx := context.Background()
	session, _ := fx.svc.StartSession(ctx, fx.userID, fx.report.ID)

	for i := 0; i < 8; i++ {
		if _, err := fx.svc.SendTurn(ctx, fx.userID, session.ID, "turn question"); err != nil {
			t.Fatalf("SendTurn %d: %v", i, err)
		}
	}

	history, err := fx.svc.GetHistory(ctx, fx.userID, session.ID)
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if len(history) > 6 {
		t.Fatalf("history length = %d, exceeds bound 6", len(history))
	}
	for i := 0; i < len(history); i += 2 {
		if history[i].Role != types.ChatRoleUser || history[i+1].Role != types.ChatRoleAssistant {
			t.Fatalf("entry %d breaks user/assistant pairing: %+v", i, history)
		}
	}
}

func TestDeleteSessionOwnership(t *testing.T) {
	fx := newChatFixture(t, 0)
	ctx := context.Background()
	session, _ := fx.svc.StartSession(ctx, fx.userID, fx.report.ID)

	if err := fx.svc.DeleteSession(ctx, uuid.New(), session.ID); !apierr.Is(err, apierr.KindNotFound) {
		t.Fatalf("foreign delete err = %v, want not-found", err)
	}
	if err := fx.svc.DeleteSession(ctx, fx.userID, session.ID); err != nil {
		t.Fatalf("owner delete: %v", err)
	}
	if _, err := fx.svc.GetHistory(ctx, fx.userID, session.ID); !apierr.Is(err, apierr.KindNotFound) {
		t.Fatalf("deleted session still readable: %v", err)
	}
}
