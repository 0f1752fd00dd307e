package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLimiter(limits Limits) (*Limiter, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)}
	l := New(limits)
	l.now = clock.Now
	return l, clock
}

func TestBurstWindowDeniesThirdMessage(t *testing.T) {
	limits := DefaultLimits()
	limits.MessagesPerMinute = 2
	l, clock := newTestLimiter(limits)

	for i := 0; i < 2; i++ {
		if d := l.Check(ActionSendMessage, "1.2.3.4"); !d.Allowed {
			t.Fatalf("message %d should be allowed", i+1)
		}
		l.Record(ActionSendMessage, "1.2.3.4")
		clock.Advance(10 * time.Second)
	}

	d := l.Check(ActionSendMessage, "1.2.3.4")
	if d.Allowed {
		t.Fatal("expected third message to be denied")
	}
	if d.RetryAfter <= 0 || d.RetryAfter > time.Minute {
		t.Errorf("expected retry estimate in (0, 60s], got %v", d.RetryAfter)
	}
	// Oldest was recorded 20s ago, so the window frees up in 40s.
	if d.RetryAfter != 40*time.Second {
		t.Errorf("expected retry after 40s, got %v", d.RetryAfter)
	}
	if d.Window != time.Minute {
		t.Errorf("expected burst window to bind, got %v", d.Window)
	}

	clock.Advance(41 * time.Second)
	if d := l.Check(ActionSendMessage, "1.2.3.4"); !d.Allowed {
		t.Error("expected message to be allowed after burst window passes")
	}
}

func TestDailyWindowBindsFirst(t *testing.T) {
	limits := DefaultLimits()
	limits.MessagesPerDay = 3
	limits.MessagesPerMinute = 3
	l, clock := newTestLimiter(limits)

	for i := 0; i < 3; i++ {
		l.Record(ActionSendMessage, "client")
		clock.Advance(5 * time.Minute)
	}

	d := l.Check(ActionSendMessage, "client")
	if d.Allowed {
		t.Fatal("expected daily quota to deny")
	}
	if d.Window != 24*time.Hour {
		t.Errorf("expected day window, got %v", d.Window)
	}
	want := 24*time.Hour - 15*time.Minute
	if d.RetryAfter != want {
		t.Errorf("expected retry after %v, got %v", want, d.RetryAfter)
	}
}

func TestZeroLimitAlwaysDenies(t *testing.T) {
	limits := DefaultLimits()
	limits.SessionsPerDay = 0
	l, _ := newTestLimiter(limits)

	d := l.Check(ActionCreateSession, "fresh-client")
	if d.Allowed {
		t.Fatal("expected zero limit to deny")
	}
	if d.RetryAfter != 24*time.Hour {
		t.Errorf("expected full-window retry estimate, got %v", d.RetryAfter)
	}
	if d.Reason() == "" {
		t.Error("expected denial reason")
	}
}

func TestActionsAreIndependent(t *testing.T) {
	limits := DefaultLimits()
	limits.SessionsPerDay = 1
	l, _ := newTestLimiter(limits)

	l.Record(ActionCreateSession, "c")
	if d := l.Check(ActionCreateSession, "c"); d.Allowed {
		t.Error("expected session creation to be denied")
	}
	if d := l.Check(ActionSendMessage, "c"); !d.Allowed {
		t.Error("message quota must not be affected by session creation")
	}
	if d := l.Check(ActionCreateSession, "other"); !d.Allowed {
		t.Error("other clients must not be affected")
	}
}

func TestUsageSnapshot(t *testing.T) {
	l, clock := newTestLimiter(DefaultLimits())
	l.Record(ActionCreateSession, "c")
	l.Record(ActionSendMessage, "c")
	clock.Advance(2 * time.Minute)
	l.Record(ActionSendMessage, "c")

	u := l.Usage("c")
	if u.SessionsToday != 1 || u.MessagesToday != 2 || u.MessagesLastMinute != 1 {
		t.Errorf("unexpected usage: %+v", u)
	}
	if u.SessionsLimit != 5 || u.MessagesLimit != 100 || u.MessagesPerMinute != 10 {
		t.Errorf("unexpected limits in usage: %+v", u)
	}
}

func TestSweepRemovesExpiredClients(t *testing.T) {
	l, clock := newTestLimiter(DefaultLimits())
	l.Record(ActionSendMessage, "old")
	clock.Advance(23 * time.Hour)
	l.Record(ActionSendMessage, "recent")
	clock.Advance(2 * time.Hour)

	if removed := l.Sweep(); removed != 1 {
		t.Fatalf("expected 1 client removed, got %d", removed)
	}
	if u := l.Usage("recent"); u.MessagesToday != 1 {
		t.Errorf("sweep must keep live entries, got %+v", u)
	}
}

func TestConcurrentRecord(t *testing.T) {
	l := New(DefaultLimits())
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Record(ActionSendMessage, "burst")
			_ = l.Check(ActionSendMessage, "burst")
		}()
	}
	wg.Wait()
	if u := l.Usage("burst"); u.MessagesToday != 50 {
		t.Errorf("expected 50 recorded messages, got %d", u.MessagesToday)
	}
}

func TestStartStopsWithContext(t *testing.T) {
	l := New(DefaultLimits())
	ctx, cancel := context.WithCancel(context.Background())
	l.Start(ctx, time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	cancel()
}
