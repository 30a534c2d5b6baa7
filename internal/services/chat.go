package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/smartmed/analyser-backend/internal/apierr"
	"github.com/smartmed/analyser-backend/internal/logger"
	"github.com/smartmed/analyser-backend/internal/repos"
	"github.com/smartmed/analyser-backend/internal/types"
)

const defaultMaxHistory = 20

// ContextEntry is one test result in the filtered context view that anchors
// every chat turn. The model is grounded on these values, not on the
// free-form narrative text.
type ContextEntry struct {
	Name     string   `json:"name"`
	Value    *float64 `json:"value,omitempty"`
	Unit     string   `json:"unit,omitempty"`
	Range    string   `json:"range,omitempty"`
	Abnormal bool     `json:"abnormal"`
}

// TurnResult is what a completed chat turn returns to the caller.
type TurnResult struct {
	Reply   string              `json:"reply"`
	History []types.ChatMessage `json:"history"`
}

// ChatService runs grounded Q&A sessions against a persisted report. One
// session exists per (user, report) pair; turns on a session are strictly
// serialized.
type ChatService interface {
	StartSession(ctx context.Context, userID uuid.UUID, reportID uuid.UUID) (*types.ChatSession, error)
	SendTurn(ctx context.Context, userID uuid.UUID, sessionID uuid.UUID, userText string) (*TurnResult, error)
	GetHistory(ctx context.Context, userID uuid.UUID, sessionID uuid.UUID) ([]types.ChatMessage, error)
	ListSessions(ctx context.Context, userID uuid.UUID) ([]*types.ChatSession, error)
	DeleteSession(ctx context.Context, userID uuid.UUID, sessionID uuid.UUID) error
}

type chatService struct {
	log       *logger.Logger
	sessions  repos.ChatSessionRepo
	reports   repos.ReportRepo
	generator TextGenerator
	safety    *SafetyFilter
	cooldown  CooldownService

	maxHistory  int
	turnTimeout time.Duration

	mu       sync.Mutex
	inFlight map[uuid.UUID]bool
}

func NewChatService(
	sessions repos.ChatSessionRepo,
	reports repos.ReportRepo,
	generator TextGenerator,
	safety *SafetyFilter,
	cooldown CooldownService,
	maxHistory int,
	baseLog *logger.Logger,
) ChatService {
	serviceLog := baseLog.With("service", "ChatService")
	if maxHistory <= 0 {
		maxHistory = defaultMaxHistory
	}
	return &chatService{
		log:         serviceLog,
		sessions:    sessions,
		reports:     reports,
		generator:   generator,
		safety:      safety,
		cooldown:    cooldown,
		maxHistory:  maxHistory,
		turnTimeout: 60 * time.Second,
		inFlight:    make(map[uuid.UUID]bool),
	}
}

// StartSession returns the existing session for (user, report) or creates a
// new one seeded with a welcome message derived from the report's summary, so
// the first view already has context without a live model call.
func (s *chatService) StartSession(ctx context.Context, userID uuid.UUID, reportID uuid.UUID) (*types.ChatSession, error) {
	report, err := s.reports.GetByID(ctx, nil, reportID)
	if err != nil {
		return nil, err
	}
	if report == nil || report.UserID != userID {
		return nil, apierr.New(apierr.KindNotFound, "report not found")
	}

	existing, err := s.sessions.GetByUserAndReport(ctx, nil, userID, reportID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	welcome := types.ChatMessage{
		Role:      types.ChatRoleAssistant,
		Content:   buildWelcome(report),
		CreatedAt: time.Now(),
	}
	history, err := json.Marshal([]types.ChatMessage{welcome})
	if err != nil {
		return nil, err
	}

	session := &types.ChatSession{
		ID:       uuid.New(),
		UserID:   userID,
		ReportID: reportID,
		History:  history,
	}
	if _, err := s.sessions.Create(ctx, nil, []*types.ChatSession{session}); err != nil {
		// Lost a create race: the unique (user, report) index means the
		// other session is the one to hand back.
		raced, getErr := s.sessions.GetByUserAndReport(ctx, nil, userID, reportID)
		if getErr == nil && raced != nil {
			return raced, nil
		}
		return nil, err
	}
	return session, nil
}

func buildWelcome(report *types.Report) string {
	var b strings.Builder
	b.WriteString("Hi! I've reviewed this lab report")
	if report.OwnerName != "" && report.OwnerName != types.UnlabeledOwner {
		fmt.Fprintf(&b, " for %s", report.OwnerName)
	}
	fmt.Fprintf(&b, ". It contains %d test result(s) and the overall risk level is %s.", report.TestCount, report.RiskLevel)
	if summary := strings.TrimSpace(report.Summary); summary != "" {
		b.WriteString("\n\n")
		b.WriteString(summaryLead(summary))
	}
	b.WriteString("\n\nAsk me anything about these results.")
	return b.String()
}

// summaryLead keeps the welcome message short: first few lines of the
// generated summary.
func summaryLead(summary string) string {
	lines := strings.Split(summary, "\n")
	if len(lines) > 6 {
		lines = lines[:6]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func (s *chatService) SendTurn(ctx context.Context, userID uuid.UUID, sessionID uuid.UUID, userText string) (*TurnResult, error) {
	if strings.TrimSpace(userText) == "" {
		return nil, apierr.New(apierr.KindValidation, "message must not be empty")
	}

	// One in-flight turn per session.
	s.mu.Lock()
	if s.inFlight[sessionID] {
		s.mu.Unlock()
		return nil, apierr.New(apierr.KindRateLimit, "a turn is already in progress for this session")
	}
	s.inFlight[sessionID] = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.inFlight, sessionID)
		s.mu.Unlock()
	}()

	session, err := s.sessions.GetByID(ctx, nil, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil || session.UserID != userID {
		return nil, apierr.New(apierr.KindNotFound, "chat session not found")
	}

	if !s.cooldown.Acquire(ctx, sessionID) {
		return nil, apierr.New(apierr.KindRateLimit, "please wait a moment before sending another message")
	}

	// Re-read the report every turn; sessions never cache it.
	report, err := s.reports.GetByID(ctx, nil, session.ReportID)
	if err != nil {
		return nil, err
	}
	if report == nil {
		return nil, apierr.New(apierr.KindNotFound, "report for this session no longer exists")
	}

	record, err := recordFromReport(report)
	if err != nil {
		return nil, err
	}
	contextView := FilterContext(record)
	hasAbnormal := record.AbnormalCount() > 0

	var history []types.ChatMessage
	if len(session.History) > 0 {
		if err := json.Unmarshal(session.History, &history); err != nil {
			return nil, fmt.Errorf("corrupt session history: %w", err)
		}
	}

	if canned, blocked := s.safety.ScreenQuery(userText); blocked {
		history = s.appendTurn(history, userText, canned)
		if err := s.persistHistory(ctx, session, history); err != nil {
			return nil, err
		}
		return &TurnResult{Reply: canned, History: history}, nil
	}

	now := time.Now()
	history = append(history, types.ChatMessage{Role: types.ChatRoleUser, Content: userText, CreatedAt: now})

	reply := FallbackReply
	candidate, genErr := s.generateReply(ctx, contextView, history, userText)
	if genErr != nil {
		// The user message stays recorded; the user still gets a reply.
		s.log.Warn("Chat generation failed, returning fallback reply",
			"session_id", sessionID, "error", genErr)
	} else {
		reply = s.safety.FilterReply(candidate, hasAbnormal)
	}

	history = append(history, types.ChatMessage{Role: types.ChatRoleAssistant, Content: reply, CreatedAt: time.Now()})
	history = TruncateHistory(history, s.maxHistory)

	if err := s.persistHistory(ctx, session, history); err != nil {
		return nil, err
	}
	return &TurnResult{Reply: reply, History: history}, nil
}

func (s *chatService) appendTurn(history []types.ChatMessage, userText, reply string) []types.ChatMessage {
	now := time.Now()
	history = append(history,
		types.ChatMessage{Role: types.ChatRoleUser, Content: userText, CreatedAt: now},
		types.ChatMessage{Role: types.ChatRoleAssistant, Content: reply, CreatedAt: now},
	)
	return TruncateHistory(history, s.maxHistory)
}

func (s *chatService) persistHistory(ctx context.Context, session *types.ChatSession, history []types.ChatMessage) error {
	blob, err := json.Marshal(history)
	if err != nil {
		return err
	}
	now := time.Now()
	return s.sessions.UpdateFields(ctx, nil, session.ID, map[string]interface{}{
		"history":      blob,
		"turn_count":   session.TurnCount + 1,
		"last_turn_at": now,
	})
}

const chatSystemPrompt = `You are a clinical support assistant specialized in lab report explanation.
Always reference the user's actual lab values and compare them to their reference ranges.
Use risk language ("may indicate", "could suggest"), never state a diagnosis as fact.
Never name medications or dosages; only lifestyle and dietary guidance.
Use plain language and explain any medical term you must use.
When the results include abnormal values, end with: "` + ConsultDisclaimer + `"`

func (s *chatService) generateReply(ctx context.Context, contextView []ContextEntry, history []types.ChatMessage, userText string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.turnTimeout)
	defer cancel()

	contextJSON, err := json.MarshalIndent(contextView, "", "  ")
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "USER'S LAB RESULTS:\n%s\n\n", contextJSON)
	if len(history) > 1 {
		b.WriteString("CONVERSATION SO FAR:\n")
		prior := history[:len(history)-1]
		for _, msg := range prior {
			fmt.Fprintf(&b, "%s: %s\n", msg.Role, msg.Content)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "USER QUESTION: %s", userText)

	text, _, err := s.generator.GenerateText(ctx, chatSystemPrompt, b.String())
	return text, err
}

func (s *chatService) GetHistory(ctx context.Context, userID uuid.UUID, sessionID uuid.UUID) ([]types.ChatMessage, error) {
	session, err := s.sessions.GetByID(ctx, nil, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil || session.UserID != userID {
		return nil, apierr.New(apierr.KindNotFound, "chat session not found")
	}
	var history []types.ChatMessage
	if len(session.History) > 0 {
		if err := json.Unmarshal(session.History, &history); err != nil {
			return nil, fmt.Errorf("corrupt session history: %w", err)
		}
	}
	return history, nil
}

func (s *chatService) ListSessions(ctx context.Context, userID uuid.UUID) ([]*types.ChatSession, error) {
	return s.sessions.ListByUserID(ctx, nil, userID)
}

func (s *chatService) DeleteSession(ctx context.Context, userID uuid.UUID, sessionID uuid.UUID) error {
	session, err := s.sessions.GetByID(ctx, nil, sessionID)
	if err != nil {
		return err
	}
	if session == nil || session.UserID != userID {
		return apierr.New(apierr.KindNotFound, "chat session not found")
	}
	return s.sessions.DeleteByIDs(ctx, nil, []uuid.UUID{session.ID})
}

// FilterContext reduces a structured record to the entries worth discussing:
// named results with their values, ranges and an explicit abnormal flag.
func FilterContext(record *types.StructuredRecord) []ContextEntry {
	out := make([]ContextEntry, 0, len(record.TestEntries))
	for _, e := range record.TestEntries {
		if e.Name == "" {
			continue
		}
		entry := ContextEntry{
			Name:     e.Name,
			Value:    e.ResultValue,
			Unit:     e.Unit,
			Abnormal: e.Abnormal,
		}
		switch {
		case e.ReferenceRange.Min != nil && e.ReferenceRange.Max != nil:
			entry.Range = fmt.Sprintf("%g - %g", *e.ReferenceRange.Min, *e.ReferenceRange.Max)
		case e.ReferenceRange.Text != "":
			entry.Range = e.ReferenceRange.Text
		}
		out = append(out, entry)
	}
	return out
}

// TruncateHistory bounds the history to the most recent entries. Whole
// user/assistant pairs are dropped oldest-first; a leading unpaired assistant
// entry (the welcome seed) drops on its own.
func TruncateHistory(history []types.ChatMessage, max int) []types.ChatMessage {
	for len(history) > max {
		if history[0].Role == types.ChatRoleAssistant {
			history = history[1:]
			continue
		}
		if len(history) >= 2 {
			history = history[2:]
			continue
		}
		history = history[1:]
	}
	return history
}

func recordFromReport(report *types.Report) (*types.StructuredRecord, error) {
	var record types.StructuredRecord
	if len(report.Structured) == 0 {
		return &record, nil
	}
	if err := json.Unmarshal(report.Structured, &record); err != nil {
		return nil, fmt.Errorf("corrupt structured payload on report %s: %w", report.ID, err)
	}
	return &record, nil
}
