package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/mbti-assistant/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedSession(t *testing.T, s *SQLiteStore, id string) *domain.Session {
	t.Helper()
	sess := domain.NewSession(id, domain.DepthStandard, "en", time.Now())
	greeting := &domain.Message{
		Role:     domain.RoleModel,
		Content:  "hello",
		Metadata: domain.StandardTurn{Prediction: domain.UnknownPrediction},
	}
	require.NoError(t, s.CreateSession(context.Background(), sess, greeting))
	require.NotZero(t, greeting.ID)
	return sess
}

func TestCreateAndGetSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedSession(t, s, "s-1")

	got, err := s.GetSession(ctx, "s-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, domain.DepthStandard, got.Depth)
	assert.Equal(t, 0, got.CurrentRound)
	assert.True(t, got.IsActive)
	assert.False(t, got.IsComplete)
	assert.Equal(t, int64(1), got.Version)

	msgs, err := s.ListMessages(ctx, "s-1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.RoleModel, msgs[0].Role)
	assert.IsType(t, domain.StandardTurn{}, msgs[0].Metadata)
}

func TestGetSessionMissingReturnsNil(t *testing.T) {
	s := newTestStore(t)
	got, err := s.GetSession(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCommitTurnPersistsAtomically(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess := seedSession(t, s, "s-2")

	sess.CurrentRound = 1
	sess.CurrentPrediction = "INTP"
	sess.ConfidenceScore = 40
	sess.CognitiveStack = []string{"Ti", "Ne", "Si", "Fe"}
	reply := &domain.Message{
		Role:    domain.RoleModel,
		Content: "tell me more",
		Metadata: domain.DeepTurn{
			StandardTurn:   domain.StandardTurn{Prediction: "INTP", Confidence: 40},
			CognitiveStack: []string{"Ti", "Ne", "Si", "Fe"},
		},
	}
	require.NoError(t, s.CommitTurn(ctx, sess, reply))
	assert.Equal(t, int64(2), sess.Version)
	assert.NotZero(t, reply.ID)

	got, err := s.GetSession(ctx, "s-2")
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentRound)
	assert.Equal(t, "INTP", got.CurrentPrediction)
	assert.Equal(t, []string{"Ti", "Ne", "Si", "Fe"}, got.CognitiveStack)

	msgs, err := s.ListMessages(ctx, "s-2")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	deep, ok := msgs[1].Metadata.(domain.DeepTurn)
	require.True(t, ok)
	assert.Equal(t, "INTP", deep.Prediction)
}

func TestCommitTurnRejectsStaleVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess := seedSession(t, s, "s-3")

	stale := sess.Clone()

	sess.CurrentRound = 1
	require.NoError(t, s.CommitTurn(ctx, sess, &domain.Message{Role: domain.RoleModel, Content: "first"}))

	stale.CurrentRound = 1
	err := s.CommitTurn(ctx, stale, &domain.Message{Role: domain.RoleModel, Content: "second"})
	require.ErrorIs(t, err, ErrVersionConflict)

	msgs, err := s.ListMessages(ctx, "s-3")
	require.NoError(t, err)
	assert.Len(t, msgs, 2, "losing writer must not leave its message behind")
}

func TestCommitTurnMissingSession(t *testing.T) {
	s := newTestStore(t)
	sess := domain.NewSession("ghost", domain.DepthShallow, "en", time.Now())
	sess.Version = 1
	err := s.CommitTurn(context.Background(), sess)
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestStatsAggregates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	done := seedSession(t, s, "s-done")
	done.CurrentPrediction = "ENFP"
	done.IsComplete = true
	done.IsActive = false
	require.NoError(t, s.CommitTurn(ctx, done))
	seedSession(t, s, "s-open")

	require.NoError(t, s.RecordEvents(ctx, []*domain.Event{
		{AnonymousID: "a1", Name: "page_view", Category: "navigation"},
		{AnonymousID: "a1", Name: "page_view", Category: "navigation"},
		{AnonymousID: "a1", Name: "session_start", Category: "chat", Data: map[string]any{"depth": "standard"}},
	}))

	nps := 9
	require.NoError(t, s.SaveFeedback(ctx, &domain.Feedback{AnonymousID: "a1", Type: domain.FeedbackNPS, NPSScore: &nps}))

	stats, err := s.Stats(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalSessions)
	assert.Equal(t, int64(1), stats.CompletedSessions)
	assert.InDelta(t, 50.0, stats.CompletionRate, 0.001)
	assert.Equal(t, int64(3), stats.TotalEvents)
	require.NotEmpty(t, stats.EventsByName)
	assert.Equal(t, domain.NamedCount{Name: "page_view", Count: 2}, stats.EventsByName[0])
	require.Len(t, stats.Predictions, 1)
	assert.Equal(t, "ENFP", stats.Predictions[0].Name)
	require.NotNil(t, stats.AverageNPS)
	assert.InDelta(t, 9.0, *stats.AverageNPS, 0.001)
}
