package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/mbti-assistant/internal/catalog"
	"github.com/ashureev/mbti-assistant/internal/domain"
)

// Tier selects which configured model serves a prompt.
type Tier int

const (
	TierChat Tier = iota
	TierAnalysis
)

// Prompt is a provider-neutral completion request.
type Prompt struct {
	Tier        Tier
	System      string
	History     []domain.Turn
	Input       string
	Temperature float32
	MaxTokens   int32
	JSON        bool
}

// Completer sends one prompt to a model provider. Implementations return
// *Error so failures can be classified for retry.
type Completer interface {
	Complete(ctx context.Context, p Prompt) (string, error)
	Name() string
}

// Observer receives the outcome of every oracle operation.
type Observer interface {
	ObserveOracleCall(op string, elapsed time.Duration, err error)
}

// Options tunes retry and timeouts.
type Options struct {
	MaxAttempts int
	BackoffBase time.Duration
	CallTimeout time.Duration
	Catalog     *catalog.Catalog
	Observer    Observer
}

// Client implements Oracle on top of a Completer.
type Client struct {
	completer Completer
	opts      Options
}

var _ Oracle = (*Client)(nil)

// NewClient wraps a completer with prompting, parsing and bounded retry.
func NewClient(completer Completer, opts Options) *Client {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.BackoffBase < 0 {
		opts.BackoffBase = 0
	}
	if opts.Catalog == nil {
		opts.Catalog = catalog.Default()
	}
	return &Client{completer: completer, opts: opts}
}

// Provider names the underlying completer.
func (c *Client) Provider() string { return c.completer.Name() }

// Greeting returns the static catalog greeting; the model is not consulted.
func (c *Client) Greeting(_ context.Context, depth domain.Depth, language string) (string, error) {
	return c.opts.Catalog.Greeting(language, depth), nil
}

// Converse runs one conversational round.
func (c *Client) Converse(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	p := Prompt{
		Tier:        TierChat,
		System:      conversationPrompt(req),
		History:     req.History,
		Input:       req.UserInput,
		Temperature: 0.8,
		MaxTokens:   4096,
		JSON:        true,
	}
	return withRetry(ctx, c, "converse", func(ctx context.Context) (*TurnResult, error) {
		raw, err := c.completer.Complete(ctx, p)
		if err != nil {
			return nil, err
		}
		return parseTurn(raw)
	})
}

// Report generates the final analysis with the analysis-tier model.
func (c *Client) Report(ctx context.Context, req ReportRequest) (string, error) {
	p := Prompt{
		Tier:        TierAnalysis,
		System:      reportPrompt(req),
		Input:       reportInput(req.History),
		Temperature: 0.7,
		MaxTokens:   8192,
	}
	return withRetry(ctx, c, "report", c.textCall(p))
}

// UpgradeQuestion writes the transition question for a tier upgrade.
func (c *Client) UpgradeQuestion(ctx context.Context, req UpgradeRequest) (string, error) {
	p := Prompt{
		Tier:        TierChat,
		System:      upgradePrompt(req),
		Input:       upgradeInput(req.History),
		Temperature: 0.8,
		MaxTokens:   1024,
	}
	return withRetry(ctx, c, "upgrade_question", c.textCall(p))
}

// Answer responds to a question about the user's result.
func (c *Client) Answer(ctx context.Context, req QARequest) (string, error) {
	p := Prompt{
		Tier:        TierChat,
		System:      qaPrompt(req),
		History:     req.History,
		Input:       req.Question,
		Temperature: 0.7,
		MaxTokens:   2048,
	}
	return withRetry(ctx, c, "answer", c.textCall(p))
}

func (c *Client) textCall(p Prompt) func(context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		raw, err := c.completer.Complete(ctx, p)
		if err != nil {
			return "", err
		}
		text := strings.TrimSpace(raw)
		if text == "" {
			return "", newError(KindMalformed, errors.New("empty response"))
		}
		return text, nil
	}
}

// withRetry runs fn up to MaxAttempts times with exponential backoff
// (BackoffBase * 2^n) between retryable failures. Each attempt gets its own
// CallTimeout deadline.
func withRetry[T any](ctx context.Context, c *Client, op string, fn func(context.Context) (T, error)) (T, error) {
	start := time.Now()
	result, err := retryLoop(ctx, c, op, fn)
	if c.opts.Observer != nil {
		c.opts.Observer.ObserveOracleCall(op, time.Since(start), err)
	}
	return result, err
}

func retryLoop[T any](ctx context.Context, c *Client, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr *Error
	for attempt := 0; attempt < c.opts.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := c.opts.BackoffBase * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return zero, &Error{Kind: KindUnavailable, Op: op, Err: ctx.Err()}
			case <-time.After(delay):
			}
		}

		result, err := callWithTimeout(ctx, c.opts.CallTimeout, fn)
		if err == nil {
			return result, nil
		}

		lastErr = classify(err)
		lastErr.Op = op
		if ctx.Err() != nil || !lastErr.Kind.Retryable() {
			break
		}
		slog.Warn("Oracle call failed, retrying",
			"op", op,
			"provider", c.completer.Name(),
			"attempt", attempt+1,
			"kind", lastErr.Kind.String(),
			"error", lastErr.Err)
	}

	slog.Error("Oracle call failed", "op", op, "provider", c.completer.Name(), "error", lastErr)
	return zero, lastErr
}

func callWithTimeout[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(callCtx)
}

func classify(err error) *Error {
	var oe *Error
	if errors.As(err, &oe) {
		copied := *oe
		return &copied
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return newError(KindUnavailable, err)
	}
	return newError(KindUnavailable, fmt.Errorf("unclassified: %w", err))
}
