package domain

import (
	"strings"
	"time"
)

// UnknownPrediction is the placeholder before the oracle commits to a type.
const UnknownPrediction = "Unknown"

// Session is one assessment conversation.
type Session struct {
	ID        string `json:"session_id"`
	Depth     Depth  `json:"depth"`
	Language  string `json:"language"`
	UserName  string `json:"user_name,omitempty"`
	ClientIP  string `json:"-"`
	UserAgent string `json:"-"`

	CurrentRound           int  `json:"current_round"`
	ContinuePrecisionRound *int `json:"continue_precision_round,omitempty"`

	CurrentPrediction string   `json:"current_prediction"`
	ConfidenceScore   int      `json:"confidence_score"`
	Progress          int      `json:"progress"`
	CognitiveStack    []string `json:"cognitive_stack,omitempty"`
	DevelopmentLevel  string   `json:"development_level,omitempty"`

	IsActive       bool   `json:"is_active"`
	IsComplete     bool   `json:"is_complete"`
	AnalysisReport string `json:"-"`

	// Version is bumped on every committed write and checked on update.
	Version int64 `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSession returns a fresh session at round zero.
func NewSession(id string, depth Depth, language string, now time.Time) *Session {
	return &Session{
		ID:                id,
		Depth:             depth,
		Language:          language,
		CurrentPrediction: UnknownPrediction,
		IsActive:          true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// HasPrediction reports whether the oracle has produced a real type guess.
func (s *Session) HasPrediction() bool {
	return IsRealPrediction(s.CurrentPrediction)
}

// HasReport reports whether a final report is cached.
func (s *Session) HasReport() bool {
	return s.AnalysisReport != ""
}

// IsRealPrediction is false for empty and placeholder predictions.
func IsRealPrediction(p string) bool {
	p = strings.TrimSpace(p)
	return p != "" && !strings.EqualFold(p, UnknownPrediction)
}

// Clone returns a deep copy so callers can mutate without aliasing.
func (s *Session) Clone() *Session {
	c := *s
	if s.ContinuePrecisionRound != nil {
		v := *s.ContinuePrecisionRound
		c.ContinuePrecisionRound = &v
	}
	if s.CognitiveStack != nil {
		c.CognitiveStack = append([]string(nil), s.CognitiveStack...)
	}
	return &c
}
