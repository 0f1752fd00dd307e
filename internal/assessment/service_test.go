package assessment

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/mbti-assistant/internal/domain"
	"github.com/ashureev/mbti-assistant/internal/oracle"
	"github.com/ashureev/mbti-assistant/internal/oracle/oracletest"
	"github.com/ashureev/mbti-assistant/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) *store.SQLiteStore {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func newTestService(t *testing.T, orc oracle.Oracle, opts Options) (*Service, *store.SQLiteStore) {
	t.Helper()
	repo := newTestRepo(t)
	svc, err := New(repo, orc, opts)
	require.NoError(t, err)
	return svc, repo
}

func start(t *testing.T, svc *Service, depth string) string {
	t.Helper()
	res, err := svc.Start(context.Background(), StartParams{Depth: depth, Language: "en", ClientIP: "10.0.0.1"})
	require.NoError(t, err)
	return res.Session.ID
}

func submitN(t *testing.T, svc *Service, id string, n int) *TurnOutcome {
	t.Helper()
	var last *TurnOutcome
	for i := 0; i < n; i++ {
		out, err := svc.SubmitMessage(context.Background(), id, fmt.Sprintf("message %d", i+1))
		require.NoError(t, err)
		last = out
	}
	return last
}

func TestStartCreatesSessionWithGreeting(t *testing.T) {
	orc := &oracletest.Scripted{}
	svc, _ := newTestService(t, orc, Options{})
	ctx := context.Background()

	res, err := svc.Start(ctx, StartParams{Depth: "Shallow ", UserName: "Ada", UserAgent: "test-agent"})
	require.NoError(t, err)
	assert.Equal(t, domain.DepthShallow, res.Session.Depth)
	assert.Equal(t, "zh-CN", res.Session.Language)
	assert.Equal(t, 5, res.MaxRounds)
	assert.Equal(t, "hello (shallow, zh-CN)", res.Greeting)

	hist, err := svc.History(ctx, res.Session.ID)
	require.NoError(t, err)
	require.Len(t, hist.Messages, 1)
	assert.Equal(t, domain.RoleModel, hist.Messages[0].Role)
	assert.Equal(t, res.Greeting, hist.Messages[0].Content)
	assert.Equal(t, 0, hist.Session.CurrentRound)
	assert.True(t, hist.Session.IsActive)
	assert.False(t, hist.Session.IsComplete)
	assert.Equal(t, domain.UnknownPrediction, hist.Session.CurrentPrediction)
	assert.Equal(t, "Ada", hist.Session.UserName)
}

func TestStartRejectsInvalidDepth(t *testing.T) {
	svc, _ := newTestService(t, &oracletest.Scripted{}, Options{})

	_, err := svc.Start(context.Background(), StartParams{Depth: "bottomless"})
	require.ErrorIs(t, err, ErrInvalidDepth)
	assert.Equal(t, KindValidation, Kind(err))
}

func TestShallowSessionFinishesAtMaxRounds(t *testing.T) {
	orc := &oracletest.Scripted{}
	orc.ConverseFunc = func(_ context.Context, req oracle.TurnRequest) (*oracle.TurnResult, error) {
		return &oracle.TurnResult{
			ReplyText:  "reply",
			IsFinished: req.Round == 2, // early claim is ignored; final claim is missing
			Prediction: "Purple",
			Confidence: 70,
			Progress:   req.Round * 20,
		}, nil
	}
	svc, _ := newTestService(t, orc, Options{})
	ctx := context.Background()
	id := start(t, svc, "shallow")

	for round := 1; round <= 5; round++ {
		out, err := svc.SubmitMessage(ctx, id, fmt.Sprintf("answer %d", round))
		require.NoError(t, err)
		assert.Equal(t, round, out.CurrentRound)
		assert.LessOrEqual(t, out.CurrentRound, out.MaxRounds)
		if round < 5 {
			assert.False(t, out.IsFinished, "round %d should not finish", round)
			assert.False(t, out.IsAtMaxRounds)
		} else {
			assert.True(t, out.IsFinished)
			assert.True(t, out.IsAtMaxRounds)
		}
	}

	_, err := svc.SubmitMessage(ctx, id, "one more")
	require.ErrorIs(t, err, ErrSessionInactive)
	assert.Equal(t, KindState, Kind(err))

	st, err := svc.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 5, st.CurrentRound)
	assert.False(t, st.IsActive)

	for i, req := range orc.ConverseRequests() {
		assert.Equal(t, i+1, req.Round)
		assert.Equal(t, 5, req.MaxRounds)
	}
}

func TestEarlyFinishHonouredWhenAllowed(t *testing.T) {
	orc := &oracletest.Scripted{}
	orc.ConverseFunc = func(_ context.Context, req oracle.TurnRequest) (*oracle.TurnResult, error) {
		return &oracle.TurnResult{ReplyText: "done", IsFinished: true, Prediction: "Blue", Confidence: 90}, nil
	}
	svc, _ := newTestService(t, orc, Options{AllowEarlyFinish: true})
	id := start(t, svc, "standard")

	out := submitN(t, svc, id, 1)
	assert.True(t, out.IsFinished)
	assert.False(t, out.IsAtMaxRounds)
}

func TestFailedTurnDoesNotAdvanceRound(t *testing.T) {
	orc := &oracletest.Scripted{}
	orc.ConverseFunc = func(_ context.Context, req oracle.TurnRequest) (*oracle.TurnResult, error) {
		if orc.ConverseCalls.Load() == 1 {
			return nil, oracletest.Unavailable
		}
		return &oracle.TurnResult{ReplyText: "welcome back", Prediction: "ENFP", Confidence: 40, Progress: 10}, nil
	}
	svc, _ := newTestService(t, orc, Options{})
	ctx := context.Background()
	id := start(t, svc, "standard")

	_, err := svc.SubmitMessage(ctx, id, "I went hiking")
	require.ErrorIs(t, err, ErrOracleUnavailable)
	assert.Equal(t, KindUnavailable, Kind(err))

	st, err := svc.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 0, st.CurrentRound)
	assert.True(t, st.IsActive)
	assert.False(t, st.IsComplete)

	out, err := svc.SubmitMessage(ctx, id, "I went hiking")
	require.NoError(t, err)
	assert.Equal(t, 1, out.CurrentRound)

	hist, err := svc.History(ctx, id)
	require.NoError(t, err)
	require.Len(t, hist.Messages, 3, "greeting, one user message, one reply")
	assert.Equal(t, domain.RoleUser, hist.Messages[1].Role)
	assert.Equal(t, domain.RoleModel, hist.Messages[2].Role)

	reqs := orc.ConverseRequests()
	require.Len(t, reqs, 2)
	assert.Len(t, reqs[1].History, 1, "pending user message is sent as input, not history")
	assert.Equal(t, "I went hiking", reqs[1].UserInput)
}

func TestUnknownPredictionDoesNotOverwrite(t *testing.T) {
	orc := &oracletest.Scripted{}
	orc.ConverseFunc = func(_ context.Context, req oracle.TurnRequest) (*oracle.TurnResult, error) {
		if req.Round == 1 {
			return &oracle.TurnResult{ReplyText: "a", Prediction: "ISTJ", Confidence: 55}, nil
		}
		return &oracle.TurnResult{ReplyText: "b", Prediction: domain.UnknownPrediction, Confidence: 0}, nil
	}
	svc, _ := newTestService(t, orc, Options{})
	id := start(t, svc, "standard")

	out := submitN(t, svc, id, 2)
	assert.Equal(t, "ISTJ", out.CurrentPrediction)
	assert.Equal(t, 55, out.ConfidenceScore)
}

func TestFinishCachesReport(t *testing.T) {
	orc := &oracletest.Scripted{}
	svc, _ := newTestService(t, orc, Options{})
	ctx := context.Background()
	id := start(t, svc, "standard")
	submitN(t, svc, id, 2)

	first, err := svc.Finish(ctx, id)
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.True(t, first.FirstCompletion)
	assert.Equal(t, "INTJ", first.MBTIType)
	assert.Equal(t, "Architect", first.TypeName)
	assert.Equal(t, "analyst", first.Group)

	second, err := svc.Finish(ctx, id)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.False(t, second.FirstCompletion)
	assert.Equal(t, first.AnalysisReport, second.AnalysisReport)
	assert.Equal(t, int32(1), orc.ReportCalls.Load())

	st, err := svc.Status(ctx, id)
	require.NoError(t, err)
	assert.True(t, st.IsComplete)
	assert.False(t, st.IsActive)

	_, err = svc.SubmitMessage(ctx, id, "more?")
	assert.Error(t, err)
	assert.Equal(t, KindState, Kind(err))
}

func TestConcurrentFinishGeneratesOnce(t *testing.T) {
	orc := &oracletest.Scripted{}
	svc, _ := newTestService(t, orc, Options{})
	id := start(t, svc, "shallow")
	submitN(t, svc, id, 1)

	var wg sync.WaitGroup
	reports := make([]string, 4)
	for i := range reports {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := svc.Finish(context.Background(), id)
			if err == nil {
				reports[i] = r.AnalysisReport
			}
		}(i)
	}
	wg.Wait()

	for _, r := range reports {
		assert.Equal(t, "report for INTJ", r)
	}
	assert.Equal(t, int32(1), orc.ReportCalls.Load())
}

func TestFinishOutlivesCancelledFirstCaller(t *testing.T) {
	var once sync.Once
	entered := make(chan struct{})
	release := make(chan struct{})
	orc := &oracletest.Scripted{
		ReportFunc: func(ctx context.Context, req oracle.ReportRequest) (string, error) {
			once.Do(func() { close(entered) })
			select {
			case <-release:
				return "report for " + req.Prediction, nil
			case <-ctx.Done():
				return "", ctx.Err()
			}
		},
	}
	svc, _ := newTestService(t, orc, Options{})
	id := start(t, svc, "shallow")
	submitN(t, svc, id, 1)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := svc.Finish(firstCtx, id)
		firstErr <- err
	}()
	<-entered

	type result struct {
		report *Report
		err    error
	}
	second := make(chan result, 1)
	go func() {
		r, err := svc.Finish(context.Background(), id)
		second <- result{r, err}
	}()

	cancelFirst()
	require.ErrorIs(t, <-firstErr, context.Canceled)
	close(release)

	select {
	case got := <-second:
		require.NoError(t, got.err)
		assert.Equal(t, "report for INTJ", got.report.AnalysisReport)
	case <-time.After(5 * time.Second):
		t.Fatal("second caller never received the report")
	}
	assert.Equal(t, int32(1), orc.ReportCalls.Load())

	st, err := svc.Status(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, st.IsComplete)
	assert.True(t, st.HasReport())
}

func TestForcedFinishReportsFullProgress(t *testing.T) {
	orc := &oracletest.Scripted{
		ConverseFunc: func(_ context.Context, req oracle.TurnRequest) (*oracle.TurnResult, error) {
			return &oracle.TurnResult{ReplyText: "ok", Prediction: "ISFP", Confidence: 55, Progress: 40}, nil
		},
	}
	svc, _ := newTestService(t, orc, Options{})
	ctx := context.Background()
	id := start(t, svc, "shallow")

	var out *TurnOutcome
	for round := 1; round <= 5; round++ {
		var err error
		out, err = svc.SubmitMessage(ctx, id, "answer")
		require.NoError(t, err)
		if round < 5 {
			assert.Equal(t, 40, out.Progress)
		}
	}
	assert.True(t, out.IsFinished)
	assert.Equal(t, 100, out.Progress)

	st, err := svc.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 100, st.Progress)
}

func TestFinishRequiresPrediction(t *testing.T) {
	svc, _ := newTestService(t, &oracletest.Scripted{}, Options{})
	id := start(t, svc, "deep")

	_, err := svc.Finish(context.Background(), id)
	require.ErrorIs(t, err, ErrNotReadyToConclude)
}

func TestFinishFailureLeavesStateUnchanged(t *testing.T) {
	orc := &oracletest.Scripted{
		ReportFunc: func(context.Context, oracle.ReportRequest) (string, error) {
			return "", oracletest.Unavailable
		},
	}
	svc, _ := newTestService(t, orc, Options{})
	ctx := context.Background()
	id := start(t, svc, "standard")
	submitN(t, svc, id, 1)
	before, err := svc.Status(ctx, id)
	require.NoError(t, err)

	_, err = svc.Finish(ctx, id)
	require.ErrorIs(t, err, ErrReportGenerationFailed)
	assert.Equal(t, KindUnavailable, Kind(err))

	after, err := svc.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, before.Version, after.Version)
	assert.False(t, after.IsComplete)
	assert.True(t, after.IsActive)
	assert.Empty(t, after.AnalysisReport)
}

func TestUpgradePreservesPrediction(t *testing.T) {
	orc := &oracletest.Scripted{}
	orc.ConverseFunc = func(_ context.Context, req oracle.TurnRequest) (*oracle.TurnResult, error) {
		prediction := "INTJ"
		if req.Depth == domain.DepthDeep {
			prediction = "INTP"
		}
		return &oracle.TurnResult{ReplyText: "ok", Prediction: prediction, Confidence: 65, Progress: 20}, nil
	}
	svc, _ := newTestService(t, orc, Options{})
	ctx := context.Background()
	id := start(t, svc, "standard")
	submitN(t, svc, id, 3)

	up, err := svc.Upgrade(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.DepthDeep, up.NewDepth)
	assert.Equal(t, domain.DepthStandard, up.PreviousDepth)
	assert.Equal(t, 27, up.RemainingRounds)
	assert.Equal(t, "next question for deep", up.AIQuestion)
	assert.Contains(t, up.Message, "27")
	assert.False(t, up.UsedFallback)

	st, err := svc.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.DepthDeep, st.Depth)
	assert.True(t, st.IsActive)
	assert.False(t, st.IsComplete)
	assert.Equal(t, "INTJ", st.CurrentPrediction)
	assert.Equal(t, 65, st.ConfidenceScore)
	assert.Equal(t, 3, st.CurrentRound)

	hist, err := svc.History(ctx, id)
	require.NoError(t, err)
	last := hist.Messages[len(hist.Messages)-1]
	marker, ok := last.Metadata.(domain.UpgradeTurn)
	require.True(t, ok, "expected upgrade metadata, got %T", last.Metadata)
	assert.Equal(t, "INTJ", marker.FrozenPrediction)
	assert.Equal(t, 65, marker.FrozenConfidence)
	assert.Equal(t, 10, marker.Progress)

	out, err := svc.SubmitMessage(ctx, id, "new evidence")
	require.NoError(t, err)
	assert.Equal(t, "INTP", out.CurrentPrediction)

	reqs := orc.ConverseRequests()
	anchor := reqs[len(reqs)-1].Anchor
	require.NotNil(t, anchor)
	assert.Equal(t, "INTJ", anchor.Prediction)
	assert.Equal(t, domain.DepthStandard, anchor.PreviousDepth)
}

func TestUpgradeFromDeepFails(t *testing.T) {
	svc, _ := newTestService(t, &oracletest.Scripted{}, Options{})
	ctx := context.Background()
	id := start(t, svc, "deep")
	submitN(t, svc, id, 1)
	before, err := svc.Status(ctx, id)
	require.NoError(t, err)

	_, err = svc.Upgrade(ctx, id)
	require.ErrorIs(t, err, ErrNoFurtherUpgrade)

	after, err := svc.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, before.Version, after.Version)
	assert.Equal(t, domain.DepthDeep, after.Depth)
}

func TestUpgradeFallsBackWhenOracleFails(t *testing.T) {
	orc := &oracletest.Scripted{
		UpgradeFunc: func(context.Context, oracle.UpgradeRequest) (string, error) {
			return "", oracletest.Unavailable
		},
	}
	orc.ConverseFunc = func(_ context.Context, req oracle.TurnRequest) (*oracle.TurnResult, error) {
		return &oracle.TurnResult{ReplyText: "ok", Prediction: "Green", Confidence: 80}, nil
	}
	svc, _ := newTestService(t, orc, Options{})
	id := start(t, svc, "shallow")
	submitN(t, svc, id, 2)

	up, err := svc.Upgrade(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, up.UsedFallback)
	assert.Contains(t, up.AIQuestion, "Green")
	assert.Equal(t, domain.DepthStandard, up.NewDepth)
	assert.Equal(t, 13, up.RemainingRounds)
}

func TestUpgradeReopensCompletedSession(t *testing.T) {
	orc := &oracletest.Scripted{}
	svc, _ := newTestService(t, orc, Options{})
	ctx := context.Background()
	id := start(t, svc, "shallow")
	submitN(t, svc, id, 5)
	first, err := svc.Finish(ctx, id)
	require.NoError(t, err)

	_, err = svc.Upgrade(ctx, id)
	require.NoError(t, err)

	st, err := svc.Status(ctx, id)
	require.NoError(t, err)
	assert.True(t, st.IsActive)
	assert.False(t, st.IsComplete)
	assert.Equal(t, first.AnalysisReport, st.AnalysisReport, "old report kept until the next finish")

	out, err := svc.SubmitMessage(ctx, id, "round six")
	require.NoError(t, err)
	assert.Equal(t, 6, out.CurrentRound)
	assert.Equal(t, 15, out.MaxRounds)

	again, err := svc.Finish(ctx, id)
	require.NoError(t, err)
	assert.False(t, again.Cached)
	assert.Equal(t, int32(2), orc.ReportCalls.Load())
}

func TestContinueRequiresExtraRounds(t *testing.T) {
	orc := &oracletest.Scripted{}
	svc, _ := newTestService(t, orc, Options{})
	ctx := context.Background()
	id := start(t, svc, "standard")
	submitN(t, svc, id, 3)

	cont, err := svc.Continue(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 3, cont.CurrentRound)
	assert.Equal(t, 2, cont.MinExtraRounds)

	_, err = svc.Finish(ctx, id)
	require.ErrorIs(t, err, ErrNotReadyToConclude)

	submitN(t, svc, id, 1)
	_, err = svc.Finish(ctx, id)
	require.ErrorIs(t, err, ErrNotReadyToConclude)

	submitN(t, svc, id, 1)
	report, err := svc.Finish(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 5, report.TotalRounds)
}

func TestContinueSuppressesEarlyFinish(t *testing.T) {
	orc := &oracletest.Scripted{}
	orc.ConverseFunc = func(_ context.Context, req oracle.TurnRequest) (*oracle.TurnResult, error) {
		return &oracle.TurnResult{ReplyText: "ok", IsFinished: req.Round >= 2, Prediction: "ESFP", Confidence: 90}, nil
	}
	svc, _ := newTestService(t, orc, Options{AllowEarlyFinish: true})
	ctx := context.Background()
	id := start(t, svc, "standard")
	submitN(t, svc, id, 1)

	_, err := svc.Continue(ctx, id)
	require.NoError(t, err)

	out := submitN(t, svc, id, 1)
	assert.False(t, out.IsFinished, "one extra round is below the standard minimum")
	out = submitN(t, svc, id, 1)
	assert.True(t, out.IsFinished)
}

func TestContinueErrors(t *testing.T) {
	svc, _ := newTestService(t, &oracletest.Scripted{}, Options{})
	ctx := context.Background()

	atMax := start(t, svc, "shallow")
	submitN(t, svc, atMax, 5)
	_, err := svc.Continue(ctx, atMax)
	require.ErrorIs(t, err, ErrNoRoundsLeft)

	done := start(t, svc, "standard")
	submitN(t, svc, done, 1)
	_, err = svc.Finish(ctx, done)
	require.NoError(t, err)
	_, err = svc.Continue(ctx, done)
	require.ErrorIs(t, err, ErrSessionAlreadyComplete)
}

func TestAsk(t *testing.T) {
	orc := &oracletest.Scripted{}
	svc, _ := newTestService(t, orc, Options{})
	ctx := context.Background()
	id := start(t, svc, "standard")

	_, err := svc.Ask(ctx, id, "What does my type mean?", nil)
	require.ErrorIs(t, err, ErrNotReadyToConclude)

	submitN(t, svc, id, 1)
	ans, err := svc.Ask(ctx, id, "What does my type mean?", []domain.Turn{{Role: domain.RoleUser, Content: "earlier"}})
	require.NoError(t, err)
	assert.Equal(t, "answer: What does my type mean?", ans.Answer)
	assert.Equal(t, "INTJ", ans.MBTIType)
	assert.Equal(t, "Architect", ans.TypeName)

	_, err = svc.Ask(ctx, id, "   ", nil)
	require.ErrorIs(t, err, ErrInvalidQuestion)
}

func TestSessionIDValidation(t *testing.T) {
	svc, _ := newTestService(t, &oracletest.Scripted{}, Options{})
	ctx := context.Background()

	_, err := svc.SubmitMessage(ctx, "not-a-uuid", "hi")
	require.ErrorIs(t, err, ErrInvalidSessionID)

	_, err = svc.Status(ctx, "6f1c1f8e-2b7a-4c55-9d0a-3f3c8f1e2a10")
	require.ErrorIs(t, err, ErrSessionNotFound)
	assert.Equal(t, KindNotFound, Kind(err))

	id := start(t, svc, "standard")
	_, err = svc.SubmitMessage(ctx, id, "  ")
	require.ErrorIs(t, err, ErrInvalidContent)
}

func TestConcurrentSubmitSerializes(t *testing.T) {
	svc, _ := newTestService(t, &oracletest.Scripted{}, Options{})
	id := start(t, svc, "standard")

	var wg sync.WaitGroup
	rounds := make([]int, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := svc.SubmitMessage(context.Background(), id, fmt.Sprintf("parallel %d", i))
			errs[i] = err
			if err == nil {
				rounds[i] = out.CurrentRound
			}
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	sort.Ints(rounds)
	assert.Equal(t, []int{1, 2}, rounds)
	assert.Equal(t, 0, svc.locks.size())
}

func TestVersionConflictAcrossInstances(t *testing.T) {
	repo := newTestRepo(t)

	var arrived sync.WaitGroup
	arrived.Add(2)
	orc := &oracletest.Scripted{}
	orc.ConverseFunc = func(_ context.Context, req oracle.TurnRequest) (*oracle.TurnResult, error) {
		arrived.Done()
		arrived.Wait()
		return &oracle.TurnResult{ReplyText: "ok", Prediction: "INFJ", Confidence: 50}, nil
	}

	// Two services stand in for two processes sharing one database.
	a, err := New(repo, orc, Options{})
	require.NoError(t, err)
	b, err := New(repo, orc, Options{})
	require.NoError(t, err)
	id := start(t, a, "standard")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, svc := range []*Service{a, b} {
		wg.Add(1)
		go func(i int, svc *Service) {
			defer wg.Done()
			_, errs[i] = svc.SubmitMessage(context.Background(), id, fmt.Sprintf("from %d", i))
		}(i, svc)
	}
	wg.Wait()

	var conflicts, successes int
	for _, err := range errs {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ErrConcurrentModification):
			conflicts++
			assert.Equal(t, KindConflict, Kind(err))
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, conflicts)

	st, err := a.Status(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 1, st.CurrentRound)
}
