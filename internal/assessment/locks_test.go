package assessment

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestSessionLocksReleaseEntries(t *testing.T) {
	l := newSessionLocks()
	unlock, err := l.acquire(context.Background(), "a")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if l.size() != 1 {
		t.Fatalf("expected 1 entry, got %d", l.size())
	}
	unlock()
	unlock() // second call is a no-op
	if l.size() != 0 {
		t.Fatalf("expected entries to be released, got %d", l.size())
	}
}

func TestSessionLocksRespectContext(t *testing.T) {
	l := newSessionLocks()
	unlock, err := l.acquire(context.Background(), "a")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := l.acquire(ctx, "a"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	other, err := l.acquire(context.Background(), "b")
	if err != nil {
		t.Fatalf("independent key should not block: %v", err)
	}
	other()
}

func TestKindClassification(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{ErrInvalidDepth, KindValidation},
		{fmt.Errorf("wrapped: %w", ErrInvalidSessionID), KindValidation},
		{ErrSessionNotFound, KindNotFound},
		{ErrSessionInactive, KindState},
		{ErrNoFurtherUpgrade, KindState},
		{ErrNoRoundsLeft, KindState},
		{fmt.Errorf("%w: %w", ErrOracleUnavailable, errors.New("503")), KindUnavailable},
		{context.DeadlineExceeded, KindUnavailable},
		{ErrConcurrentModification, KindConflict},
		{errors.New("disk on fire"), KindInternal},
	}
	for _, tt := range tests {
		if got := Kind(tt.err); got != tt.want {
			t.Errorf("Kind(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestMessageHidesWrappedDetail(t *testing.T) {
	err := fmt.Errorf("%w: %w", ErrReportGenerationFailed, errors.New("googleapi: 500 backend secret"))
	if got := Message(err); got != ErrReportGenerationFailed.Error() {
		t.Fatalf("expected sentinel message, got %q", got)
	}
	if got := Message(errors.New("sql: connection refused")); got != "internal server error" {
		t.Fatalf("expected generic message, got %q", got)
	}
}
