// Package assessment drives the session lifecycle: starting a session,
// running conversational rounds, upgrading depth, continuing for precision,
// and producing the cached final report.
package assessment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ashureev/mbti-assistant/internal/catalog"
	"github.com/ashureev/mbti-assistant/internal/domain"
	"github.com/ashureev/mbti-assistant/internal/metrics"
	"github.com/ashureev/mbti-assistant/internal/oracle"
	"github.com/ashureev/mbti-assistant/internal/store"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

const (
	maxContentRunes   = 5000
	maxQuestionRunes  = 2000
	maxUserNameRunes  = 100
	maxUserAgentRunes = 500

	defaultReportTimeout = 5 * time.Minute
)

// Options configures a Service. ReportTimeout bounds a shared report
// generation, which runs detached from the caller that started it.
type Options struct {
	Policy           domain.RoundPolicy
	AllowEarlyFinish bool
	DefaultLanguage  string
	Catalog          *catalog.Catalog
	Metrics          *metrics.Metrics
	ReportTimeout    time.Duration
	Now              func() time.Time
	NewID            func() string
}

// Service implements the assessment operations on top of a repository and
// an oracle.
type Service struct {
	repo             store.Repository
	oracle           oracle.Oracle
	catalog          *catalog.Catalog
	metrics          *metrics.Metrics
	policy           domain.RoundPolicy
	allowEarlyFinish bool
	defaultLanguage  string
	reportTimeout    time.Duration
	now              func() time.Time
	newID            func() string

	locks   *sessionLocks
	reports singleflight.Group
}

// New creates a Service. The round policy is validated.
func New(repo store.Repository, orc oracle.Oracle, opts Options) (*Service, error) {
	if opts.Policy == (domain.RoundPolicy{}) {
		opts.Policy = domain.DefaultRoundPolicy()
	}
	if err := opts.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("round policy: %w", err)
	}
	if opts.DefaultLanguage == "" {
		opts.DefaultLanguage = "zh-CN"
	}
	if opts.Catalog == nil {
		opts.Catalog = catalog.Default()
	}
	if opts.ReportTimeout <= 0 {
		opts.ReportTimeout = defaultReportTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return uuid.NewString() }
	}
	return &Service{
		repo:             repo,
		oracle:           orc,
		catalog:          opts.Catalog,
		metrics:          opts.Metrics,
		policy:           opts.Policy,
		allowEarlyFinish: opts.AllowEarlyFinish,
		defaultLanguage:  opts.DefaultLanguage,
		reportTimeout:    opts.ReportTimeout,
		now:              opts.Now,
		newID:            opts.NewID,
		locks:            newSessionLocks(),
	}, nil
}

// Policy returns the round budgets in effect.
func (s *Service) Policy() domain.RoundPolicy { return s.policy }

// StartParams describes a new session.
type StartParams struct {
	Depth     string
	Language  string
	UserName  string
	ClientIP  string
	UserAgent string
}

// Started is the result of Start.
type Started struct {
	Session   *domain.Session
	Greeting  string
	MaxRounds int
}

// Start creates a session at round zero and stores the greeting as its first
// message.
func (s *Service) Start(ctx context.Context, p StartParams) (*Started, error) {
	depth, err := domain.ParseDepth(p.Depth)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDepth, p.Depth)
	}
	language := strings.TrimSpace(p.Language)
	if language == "" {
		language = s.defaultLanguage
	}

	greeting, err := s.oracle.Greeting(ctx, depth, language)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOracleUnavailable, err)
	}

	now := s.now()
	session := domain.NewSession(s.newID(), depth, language, now)
	session.UserName = truncateRunes(strings.TrimSpace(p.UserName), maxUserNameRunes)
	session.ClientIP = p.ClientIP
	session.UserAgent = truncateRunes(p.UserAgent, maxUserAgentRunes)

	msg := &domain.Message{
		Role:      domain.RoleModel,
		Content:   greeting,
		Metadata:  domain.StandardTurn{Prediction: domain.UnknownPrediction},
		CreatedAt: now,
	}
	if err := s.repo.CreateSession(ctx, session, msg); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	s.metrics.SessionStarted(depth.String())
	slog.Info("Session created",
		"session_id", session.ID,
		"depth", depth,
		"language", language,
		"client_ip", p.ClientIP)

	return &Started{Session: session, Greeting: greeting, MaxRounds: s.policy.MaxRounds(depth)}, nil
}

// TurnOutcome is the result of one committed round.
type TurnOutcome struct {
	MessageID         int64    `json:"message_id"`
	ReplyText         string   `json:"reply_text"`
	IsFinished        bool     `json:"is_finished"`
	IsAtMaxRounds     bool     `json:"is_at_max_rounds"`
	CurrentPrediction string   `json:"current_prediction"`
	ConfidenceScore   int      `json:"confidence_score"`
	Progress          int      `json:"progress"`
	CurrentRound      int      `json:"current_round"`
	MaxRounds         int      `json:"max_rounds"`
	CognitiveStack    []string `json:"cognitive_stack,omitempty"`
	DevelopmentLevel  string   `json:"development_level,omitempty"`
}

// SubmitMessage runs one conversational round. The user message is stored
// before the oracle is called; the reply and the session update are
// committed together only when the oracle succeeds, so a failed round can be
// retried without advancing the round counter.
func (s *Service) SubmitMessage(ctx context.Context, sessionID, content string) (*TurnOutcome, error) {
	id, err := canonicalID(sessionID)
	if err != nil {
		return nil, err
	}
	content = strings.TrimSpace(content)
	if content == "" || utf8.RuneCountInString(content) > maxContentRunes {
		return nil, ErrInvalidContent
	}

	unlock, err := s.locks.acquire(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("acquire session lock: %w", err)
	}
	defer unlock()

	session, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !session.IsActive {
		return nil, ErrSessionInactive
	}
	if session.IsComplete {
		return nil, ErrSessionAlreadyComplete
	}
	maxRounds := s.policy.MaxRounds(session.Depth)
	if session.CurrentRound >= maxRounds {
		return nil, ErrNoRoundsLeft
	}

	msgs, err := s.repo.ListMessages(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	history := msgs
	if pendingUserMessage(msgs, content) {
		// A previous attempt stored this message but its round never committed.
		history = msgs[:len(msgs)-1]
	} else {
		userMsg := &domain.Message{
			SessionID: id,
			Role:      domain.RoleUser,
			Content:   content,
			CreatedAt: s.now(),
		}
		if err := s.repo.AppendMessage(ctx, userMsg); err != nil {
			return nil, fmt.Errorf("store user message: %w", err)
		}
	}

	newRound := session.CurrentRound + 1
	req := oracle.TurnRequest{
		History:   domain.Transcript(history),
		UserInput: content,
		Depth:     session.Depth,
		Round:     newRound,
		MaxRounds: maxRounds,
		Language:  session.Language,
	}
	if u, ok := domain.LastUpgrade(msgs); ok {
		req.Anchor = &oracle.Anchor{
			PreviousDepth: u.FromDepth,
			Prediction:    u.FrozenPrediction,
			Confidence:    u.FrozenConfidence,
		}
	}

	res, err := s.oracle.Converse(ctx, req)
	if err != nil {
		s.metrics.Turn(session.Depth.String(), "failed")
		slog.Error("Oracle turn failed",
			"session_id", id,
			"round", newRound,
			"error", err)
		return nil, fmt.Errorf("%w: %w", ErrOracleUnavailable, err)
	}

	atMax := newRound >= maxRounds
	finished := atMax
	if !atMax && res.IsFinished {
		finished = s.allowEarlyFinish && s.continueSatisfied(session, newRound)
	}

	next := session.Clone()
	next.CurrentRound = newRound
	if domain.IsRealPrediction(res.Prediction) {
		next.CurrentPrediction = res.Prediction
		next.ConfidenceScore = res.Confidence
	}
	next.Progress = res.Progress
	if finished {
		next.Progress = 100
	}
	if len(res.CognitiveStack) > 0 {
		next.CognitiveStack = res.CognitiveStack
	}
	if res.DevelopmentLevel != "" {
		next.DevelopmentLevel = res.DevelopmentLevel
	}
	if finished {
		next.IsActive = false
	}

	reply := &domain.Message{
		SessionID: id,
		Role:      domain.RoleModel,
		Content:   res.ReplyText,
		Metadata:  turnMetadata(session.Depth, res, finished),
		CreatedAt: s.now(),
	}
	if err := s.repo.CommitTurn(ctx, next, reply); err != nil {
		return nil, commitError(err)
	}

	outcome := "continued"
	if finished {
		outcome = "finished"
	}
	s.metrics.Turn(session.Depth.String(), outcome)
	slog.Info("Message processed",
		"session_id", id,
		"round", newRound,
		"max_rounds", maxRounds,
		"prediction", next.CurrentPrediction,
		"confidence", next.ConfidenceScore,
		"is_finished", finished)

	return &TurnOutcome{
		MessageID:         reply.ID,
		ReplyText:         res.ReplyText,
		IsFinished:        finished,
		IsAtMaxRounds:     atMax,
		CurrentPrediction: next.CurrentPrediction,
		ConfidenceScore:   next.ConfidenceScore,
		Progress:          next.Progress,
		CurrentRound:      newRound,
		MaxRounds:         maxRounds,
		CognitiveStack:    res.CognitiveStack,
		DevelopmentLevel:  res.DevelopmentLevel,
	}, nil
}

// Upgraded is the result of Upgrade.
type Upgraded struct {
	SessionID       string       `json:"session_id"`
	PreviousDepth   domain.Depth `json:"previous_depth"`
	NewDepth        domain.Depth `json:"new_depth"`
	RemainingRounds int          `json:"remaining_rounds"`
	Message         string       `json:"message"`
	AIQuestion      string       `json:"ai_question"`
	UsedFallback    bool         `json:"-"`
}

// Upgrade moves a session to the next depth tier and reopens it. The
// prediction and confidence are left untouched; the transition question is
// stored with both frozen. An oracle failure substitutes a catalog question.
func (s *Service) Upgrade(ctx context.Context, sessionID string) (*Upgraded, error) {
	id, err := canonicalID(sessionID)
	if err != nil {
		return nil, err
	}
	unlock, err := s.locks.acquire(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("acquire session lock: %w", err)
	}
	defer unlock()

	session, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	to, ok := session.Depth.Next()
	if !ok {
		return nil, ErrNoFurtherUpgrade
	}
	target := s.policy.MaxRounds(to)
	remaining := max(0, target-session.CurrentRound)

	msgs, err := s.repo.ListMessages(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	usedFallback := false
	question, err := s.oracle.UpgradeQuestion(ctx, oracle.UpgradeRequest{
		History:        domain.Transcript(msgs),
		NewDepth:       to,
		PreviousDepth:  session.Depth,
		Prediction:     session.CurrentPrediction,
		Confidence:     session.ConfidenceScore,
		CognitiveStack: session.CognitiveStack,
		Language:       session.Language,
	})
	if err != nil {
		slog.Warn("Upgrade question generation failed, using fallback",
			"session_id", id,
			"error", err)
		question = s.catalog.UpgradeFallback(session.Language, to, session.CurrentPrediction)
		usedFallback = true
	}

	progress := 0
	if target > 0 {
		progress = session.CurrentRound * 100 / target
	}

	next := session.Clone()
	next.Depth = to
	next.IsActive = true
	next.IsComplete = false
	next.ContinuePrecisionRound = nil
	next.Progress = progress

	msg := &domain.Message{
		SessionID: id,
		Role:      domain.RoleModel,
		Content:   question,
		Metadata: domain.UpgradeTurn{
			FrozenPrediction: session.CurrentPrediction,
			FrozenConfidence: session.ConfidenceScore,
			Progress:         progress,
			FromDepth:        session.Depth,
			ToDepth:          to,
		},
		CreatedAt: s.now(),
	}
	if err := s.repo.CommitTurn(ctx, next, msg); err != nil {
		return nil, commitError(err)
	}

	s.metrics.Upgrade(session.Depth.String(), to.String(), usedFallback)
	slog.Info("Session upgraded",
		"session_id", id,
		"from", session.Depth,
		"to", to,
		"round", session.CurrentRound,
		"remaining", remaining,
		"prediction", session.CurrentPrediction)

	return &Upgraded{
		SessionID:       id,
		PreviousDepth:   session.Depth,
		NewDepth:        to,
		RemainingRounds: remaining,
		Message:         s.catalog.UpgradeNotice(session.Language, to, remaining),
		AIQuestion:      question,
		UsedFallback:    usedFallback,
	}, nil
}

// Report is the final result of a session.
type Report struct {
	SessionID        string   `json:"session_id"`
	MBTIType         string   `json:"mbti_type"`
	TypeName         string   `json:"type_name"`
	Group            string   `json:"group"`
	GroupName        string   `json:"group_name"`
	ConfidenceScore  int      `json:"confidence_score"`
	AnalysisReport   string   `json:"analysis_report"`
	TotalRounds      int      `json:"total_rounds"`
	CognitiveStack   []string `json:"cognitive_stack,omitempty"`
	DevelopmentLevel string   `json:"development_level,omitempty"`
	Cached           bool     `json:"cached"`

	// FirstCompletion is set when this call completed the session.
	FirstCompletion bool `json:"-"`
}

// Finish returns the final report, generating it at most once. A completed
// session with a stored report replays it without calling the oracle.
// Concurrent calls for the same session share one generation.
func (s *Service) Finish(ctx context.Context, sessionID string) (*Report, error) {
	id, err := canonicalID(sessionID)
	if err != nil {
		return nil, err
	}
	// The shared generation outlives any single caller; each caller can
	// still stop waiting on its own context.
	ch := s.reports.DoChan(id, func() (any, error) {
		work, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.reportTimeout)
		defer cancel()
		return s.finish(work, id)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		report := *res.Val.(*Report)
		return &report, nil
	}
}

func (s *Service) finish(ctx context.Context, id string) (*Report, error) {
	unlock, err := s.locks.acquire(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("acquire session lock: %w", err)
	}
	defer unlock()

	session, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !session.HasPrediction() {
		return nil, ErrNotReadyToConclude
	}

	if session.IsComplete && session.HasReport() {
		s.metrics.Report(true)
		slog.Info("Session result revisited with stored report",
			"session_id", id,
			"prediction", session.CurrentPrediction)
		return s.buildReport(session, true, false), nil
	}

	if !session.IsComplete && session.CurrentRound < s.policy.MaxRounds(session.Depth) &&
		!s.continueSatisfied(session, session.CurrentRound) {
		return nil, ErrNotReadyToConclude
	}

	msgs, err := s.repo.ListMessages(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	text, err := s.oracle.Report(ctx, oracle.ReportRequest{
		History:          domain.Transcript(msgs),
		Depth:            session.Depth,
		Prediction:       session.CurrentPrediction,
		Confidence:       session.ConfidenceScore,
		CognitiveStack:   session.CognitiveStack,
		DevelopmentLevel: session.DevelopmentLevel,
		Language:         session.Language,
	})
	if err != nil {
		slog.Error("Failed to generate final report", "session_id", id, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrReportGenerationFailed, err)
	}

	first := !session.IsComplete
	next := session.Clone()
	next.AnalysisReport = text
	if first {
		next.IsComplete = true
		next.IsActive = false
	}
	if err := s.repo.CommitTurn(ctx, next); err != nil {
		return nil, commitError(err)
	}

	s.metrics.Report(false)
	if first {
		slog.Info("Session finished",
			"session_id", id,
			"prediction", next.CurrentPrediction,
			"confidence", next.ConfidenceScore)
	} else {
		slog.Info("Session report regenerated", "session_id", id)
	}
	return s.buildReport(next, false, first), nil
}

func (s *Service) buildReport(session *domain.Session, cached, first bool) *Report {
	group := s.catalog.Group(session.CurrentPrediction)
	return &Report{
		SessionID:        session.ID,
		MBTIType:         session.CurrentPrediction,
		TypeName:         s.catalog.TypeName(session.Language, session.CurrentPrediction),
		Group:            group,
		GroupName:        s.catalog.GroupName(session.Language, group),
		ConfidenceScore:  session.ConfidenceScore,
		AnalysisReport:   session.AnalysisReport,
		TotalRounds:      session.CurrentRound,
		CognitiveStack:   session.CognitiveStack,
		DevelopmentLevel: session.DevelopmentLevel,
		Cached:           cached,
		FirstCompletion:  first,
	}
}

// Continued is the result of Continue.
type Continued struct {
	SessionID      string `json:"session_id"`
	CurrentRound   int    `json:"current_round"`
	MaxRounds      int    `json:"max_rounds"`
	MinExtraRounds int    `json:"min_extra_rounds"`
	IsActive       bool   `json:"is_active"`
}

// Continue marks the current round as the point the user asked for more
// precision. Finishing is then refused until the depth's minimum number of
// extra rounds has been played or the round budget is exhausted.
func (s *Service) Continue(ctx context.Context, sessionID string) (*Continued, error) {
	id, err := canonicalID(sessionID)
	if err != nil {
		return nil, err
	}
	unlock, err := s.locks.acquire(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("acquire session lock: %w", err)
	}
	defer unlock()

	session, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.IsComplete {
		return nil, ErrSessionAlreadyComplete
	}
	maxRounds := s.policy.MaxRounds(session.Depth)
	if session.CurrentRound >= maxRounds {
		return nil, ErrNoRoundsLeft
	}

	next := session.Clone()
	round := session.CurrentRound
	next.ContinuePrecisionRound = &round
	next.IsActive = true
	if err := s.repo.CommitTurn(ctx, next); err != nil {
		return nil, commitError(err)
	}

	minExtra := s.policy.MinExtraAfterContinue(session.Depth)
	slog.Info("Session continued for precision",
		"session_id", id,
		"round", round,
		"min_extra", minExtra)

	return &Continued{
		SessionID:      id,
		CurrentRound:   round,
		MaxRounds:      maxRounds,
		MinExtraRounds: minExtra,
		IsActive:       true,
	}, nil
}

// Answer is the result of Ask.
type Answer struct {
	Answer   string `json:"answer"`
	MBTIType string `json:"mbti_type"`
	TypeName string `json:"type_name"`
}

// Ask answers a question about the session's result. Nothing is stored.
func (s *Service) Ask(ctx context.Context, sessionID, question string, history []domain.Turn) (*Answer, error) {
	id, err := canonicalID(sessionID)
	if err != nil {
		return nil, err
	}
	question = strings.TrimSpace(question)
	if question == "" || utf8.RuneCountInString(question) > maxQuestionRunes {
		return nil, ErrInvalidQuestion
	}

	session, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !session.HasPrediction() {
		return nil, ErrNotReadyToConclude
	}

	code := session.CurrentPrediction
	typeName := s.catalog.TypeName(session.Language, code)
	answer, err := s.oracle.Answer(ctx, oracle.QARequest{
		Question:         question,
		TypeCode:         code,
		TypeName:         typeName,
		GroupName:        s.catalog.GroupName(session.Language, s.catalog.Group(code)),
		Confidence:       session.ConfidenceScore,
		CognitiveStack:   session.CognitiveStack,
		DevelopmentLevel: session.DevelopmentLevel,
		Depth:            session.Depth,
		Language:         session.Language,
		History:          history,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOracleUnavailable, err)
	}

	slog.Info("Q&A processed", "session_id", id, "type", code, "question_length", len(question))
	return &Answer{Answer: answer, MBTIType: code, TypeName: typeName}, nil
}

// History is a session together with its ordered messages.
type History struct {
	Session  *domain.Session
	Messages []*domain.Message
}

// History returns the session and every message in creation order.
func (s *Service) History(ctx context.Context, sessionID string) (*History, error) {
	id, err := canonicalID(sessionID)
	if err != nil {
		return nil, err
	}
	session, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	msgs, err := s.repo.ListMessages(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return &History{Session: session, Messages: msgs}, nil
}

// Status returns the session without its messages.
func (s *Service) Status(ctx context.Context, sessionID string) (*domain.Session, error) {
	id, err := canonicalID(sessionID)
	if err != nil {
		return nil, err
	}
	return s.load(ctx, id)
}

func (s *Service) load(ctx context.Context, id string) (*domain.Session, error) {
	session, err := s.repo.GetSession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if session == nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return session, nil
}

// continueSatisfied reports whether enough rounds have passed since a
// continue-for-precision action for the session to conclude at round.
func (s *Service) continueSatisfied(session *domain.Session, round int) bool {
	if session.ContinuePrecisionRound == nil {
		return true
	}
	return round-*session.ContinuePrecisionRound >= s.policy.MinExtraAfterContinue(session.Depth)
}

func canonicalID(raw string) (string, error) {
	u, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", ErrInvalidSessionID
	}
	return u.String(), nil
}

// pendingUserMessage reports whether the transcript ends with an unanswered
// user message carrying content.
func pendingUserMessage(msgs []*domain.Message, content string) bool {
	if len(msgs) == 0 {
		return false
	}
	last := msgs[len(msgs)-1]
	return last.Role == domain.RoleUser && last.Content == content
}

func turnMetadata(depth domain.Depth, res *oracle.TurnResult, finished bool) domain.TurnMetadata {
	std := domain.StandardTurn{
		IsFinished: finished,
		Prediction: res.Prediction,
		Confidence: res.Confidence,
		Progress:   res.Progress,
	}
	if depth == domain.DepthDeep || len(res.CognitiveStack) > 0 || res.DevelopmentLevel != "" {
		return domain.DeepTurn{
			StandardTurn:     std,
			CognitiveStack:   res.CognitiveStack,
			DevelopmentLevel: res.DevelopmentLevel,
		}
	}
	return std
}

func commitError(err error) error {
	switch {
	case errors.Is(err, store.ErrVersionConflict):
		return fmt.Errorf("%w: %w", ErrConcurrentModification, err)
	case errors.Is(err, store.ErrSessionNotFound):
		return ErrSessionNotFound
	default:
		return fmt.Errorf("commit session: %w", err)
	}
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
