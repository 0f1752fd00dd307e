// Package oracle wraps the language model that drives the assessment
// conversation: it builds prompts, calls a provider, parses structured
// replies, and retries transient failures.
package oracle

import (
	"context"
	"errors"
	"fmt"

	"github.com/ashureev/mbti-assistant/internal/domain"
)

// Oracle is the capability the assessment controller consumes.
type Oracle interface {
	// Greeting returns the opening message of a session.
	Greeting(ctx context.Context, depth domain.Depth, language string) (string, error)

	// Converse produces the reply and classification state for one round.
	Converse(ctx context.Context, req TurnRequest) (*TurnResult, error)

	// Report writes the final analysis for a session.
	Report(ctx context.Context, req ReportRequest) (string, error)

	// UpgradeQuestion writes the first question after a tier upgrade.
	UpgradeQuestion(ctx context.Context, req UpgradeRequest) (string, error)

	// Answer responds to a follow-up question about a result.
	Answer(ctx context.Context, req QARequest) (string, error)
}

// Anchor carries the prediction a session held when it was last upgraded.
type Anchor struct {
	PreviousDepth domain.Depth
	Prediction    string
	Confidence    int
}

// TurnRequest is the input to Converse.
type TurnRequest struct {
	History   []domain.Turn
	UserInput string
	Depth     domain.Depth
	Round     int
	MaxRounds int
	Language  string
	Anchor    *Anchor
}

// TurnResult is the parsed structured reply of one round.
type TurnResult struct {
	ReplyText        string   `json:"reply_text"`
	IsFinished       bool     `json:"is_finished"`
	Prediction       string   `json:"current_prediction"`
	Confidence       int      `json:"confidence_score"`
	Progress         int      `json:"progress"`
	CognitiveStack   []string `json:"cognitive_stack,omitempty"`
	DevelopmentLevel string   `json:"development_level,omitempty"`
}

// ReportRequest is the input to Report.
type ReportRequest struct {
	History          []domain.Turn
	Depth            domain.Depth
	Prediction       string
	Confidence       int
	CognitiveStack   []string
	DevelopmentLevel string
	Language         string
}

// UpgradeRequest is the input to UpgradeQuestion.
type UpgradeRequest struct {
	History        []domain.Turn
	NewDepth       domain.Depth
	PreviousDepth  domain.Depth
	Prediction     string
	Confidence     int
	CognitiveStack []string
	Language       string
}

// QARequest is the input to Answer.
type QARequest struct {
	Question         string
	TypeCode         string
	TypeName         string
	GroupName        string
	Confidence       int
	CognitiveStack   []string
	DevelopmentLevel string
	Depth            domain.Depth
	Language         string
	History          []domain.Turn
}

// Kind classifies oracle failures.
type Kind int

const (
	// KindUnavailable covers timeouts, network errors and 5xx responses.
	KindUnavailable Kind = iota
	// KindRateLimited is a provider quota rejection.
	KindRateLimited
	// KindMalformed is output that could not be parsed.
	KindMalformed
	// KindConfig is a bad model name, key or argument. Never retried.
	KindConfig
)

func (k Kind) String() string {
	switch k {
	case KindUnavailable:
		return "unavailable"
	case KindRateLimited:
		return "rate_limited"
	case KindMalformed:
		return "malformed"
	case KindConfig:
		return "config"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Retryable reports whether another attempt may succeed.
func (k Kind) Retryable() bool { return k != KindConfig }

// Error is the single error type returned across the oracle boundary.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("oracle %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("oracle %s %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the failure kind. Errors that are not *Error are
// reported as KindUnavailable.
func KindOf(err error) Kind {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Kind
	}
	return KindUnavailable
}

func newError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}
