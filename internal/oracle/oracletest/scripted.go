// Package oracletest provides a scriptable Oracle for tests.
package oracletest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ashureev/mbti-assistant/internal/domain"
	"github.com/ashureev/mbti-assistant/internal/oracle"
)

// Scripted is an oracle.Oracle whose behaviour is set per method. Unset
// methods return canned successful values.
type Scripted struct {
	ConverseFunc func(ctx context.Context, req oracle.TurnRequest) (*oracle.TurnResult, error)
	ReportFunc   func(ctx context.Context, req oracle.ReportRequest) (string, error)
	UpgradeFunc  func(ctx context.Context, req oracle.UpgradeRequest) (string, error)
	AnswerFunc   func(ctx context.Context, req oracle.QARequest) (string, error)

	GreetingCalls atomic.Int32
	ConverseCalls atomic.Int32
	ReportCalls   atomic.Int32
	UpgradeCalls  atomic.Int32
	AnswerCalls   atomic.Int32

	mu       sync.Mutex
	converse []oracle.TurnRequest
}

var _ oracle.Oracle = (*Scripted)(nil)

// Unavailable is a ready-made transient oracle failure.
var Unavailable = &oracle.Error{Kind: oracle.KindUnavailable, Op: "test", Err: errors.New("provider down")}

func (s *Scripted) Greeting(_ context.Context, depth domain.Depth, language string) (string, error) {
	s.GreetingCalls.Add(1)
	return fmt.Sprintf("hello (%s, %s)", depth, language), nil
}

func (s *Scripted) Converse(ctx context.Context, req oracle.TurnRequest) (*oracle.TurnResult, error) {
	s.ConverseCalls.Add(1)
	s.mu.Lock()
	s.converse = append(s.converse, req)
	s.mu.Unlock()
	if s.ConverseFunc != nil {
		return s.ConverseFunc(ctx, req)
	}
	return &oracle.TurnResult{
		ReplyText:  fmt.Sprintf("reply %d", req.Round),
		Prediction: "INTJ",
		Confidence: 60,
		Progress:   req.Round * 100 / max(req.MaxRounds, 1),
	}, nil
}

func (s *Scripted) Report(ctx context.Context, req oracle.ReportRequest) (string, error) {
	s.ReportCalls.Add(1)
	if s.ReportFunc != nil {
		return s.ReportFunc(ctx, req)
	}
	return "report for " + req.Prediction, nil
}

func (s *Scripted) UpgradeQuestion(ctx context.Context, req oracle.UpgradeRequest) (string, error) {
	s.UpgradeCalls.Add(1)
	if s.UpgradeFunc != nil {
		return s.UpgradeFunc(ctx, req)
	}
	return "next question for " + string(req.NewDepth), nil
}

func (s *Scripted) Answer(ctx context.Context, req oracle.QARequest) (string, error) {
	s.AnswerCalls.Add(1)
	if s.AnswerFunc != nil {
		return s.AnswerFunc(ctx, req)
	}
	return "answer: " + req.Question, nil
}

// ConverseRequests returns a copy of every Converse request received.
func (s *Scripted) ConverseRequests() []oracle.TurnRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]oracle.TurnRequest, len(s.converse))
	copy(out, s.converse)
	return out
}
