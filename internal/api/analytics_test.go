package api

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func event(name string) map[string]any {
	return map[string]any{
		"anonymous_id":   "anon-1",
		"event_name":     name,
		"event_category": "engagement",
		"event_data":     map[string]any{"button": "start"},
		"page_path":      "/",
	}
}

func TestAnalyticsEvent(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, body := env.do(t, http.MethodPost, "/api/analytics/event", event("page_view"))
	require.Equal(t, http.StatusOK, resp.StatusCode, "%v", body)
	require.Equal(t, "page_view", body["event_name"])
	require.Equal(t, "engagement", body["event_category"])
	require.NotZero(t, body["id"])

	bad := event("page_view")
	delete(bad, "anonymous_id")
	resp, body = env.do(t, http.MethodPost, "/api/analytics/event", bad)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "anonymous_id is required", body["error"])

	neg := event("timer")
	neg["duration_seconds"] = -1
	resp, _ = env.do(t, http.MethodPost, "/api/analytics/event", neg)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAnalyticsBatch(t *testing.T) {
	env := newTestEnv(t, nil)

	events := make([]map[string]any, 0, 101)
	for i := 0; i < 101; i++ {
		events = append(events, event(fmt.Sprintf("e%d", i)))
	}

	resp, _ := env.do(t, http.MethodPost, "/api/analytics/events/batch", map[string]any{"events": events})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/api/analytics/events/batch", map[string]any{"events": []any{}})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/api/analytics/events/batch", map[string]any{"events": events[:3]})
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAnalyticsFeedback(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, body := env.do(t, http.MethodPost, "/api/analytics/feedback", map[string]any{
		"anonymous_id":  "anon-1",
		"feedback_type": "nps",
		"nps_score":     9,
		"feedback_text": "spot on",
		"mbti_result":   "INTJ",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, "%v", body)
	require.Equal(t, "nps", body["feedback_type"])

	tests := []struct {
		name string
		body map[string]any
	}{
		{"nps out of range", map[string]any{"anonymous_id": "a", "feedback_type": "nps", "nps_score": 11}},
		{"accuracy out of range", map[string]any{"anonymous_id": "a", "feedback_type": "result_rating", "result_accuracy": 0}},
		{"unknown type", map[string]any{"anonymous_id": "a", "feedback_type": "rant"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := env.do(t, http.MethodPost, "/api/analytics/feedback", tt.body)
			require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestAnalyticsStats(t *testing.T) {
	env := newTestEnv(t, nil)
	env.start(t, "shallow")
	for _, name := range []string{"page_view", "page_view", "start_click"} {
		resp, _ := env.do(t, http.MethodPost, "/api/analytics/event", event(name))
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	resp, _ := env.do(t, http.MethodPost, "/api/analytics/feedback", map[string]any{
		"anonymous_id": "anon-1", "feedback_type": "nps", "nps_score": 8,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = env.do(t, http.MethodGet, "/api/analytics/stats", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = env.do(t, http.MethodGet, "/api/analytics/stats", nil, "X-Tracking-Key", "wrong")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body := env.do(t, http.MethodGet, "/api/analytics/stats?days=7", nil, "X-Tracking-Key", testTrackingKey)
	require.Equal(t, http.StatusOK, resp.StatusCode, "%v", body)
	require.EqualValues(t, 7, body["period_days"])
	require.EqualValues(t, 1, body["total_sessions"])
	require.EqualValues(t, 3, body["total_events"])
	require.EqualValues(t, 1, body["total_feedback"])
	require.EqualValues(t, 8, body["average_nps"])
	byName := body["events_by_name"].([]any)
	require.Equal(t, "page_view", byName[0].(map[string]any)["name"])
	require.EqualValues(t, 2, byName[0].(map[string]any)["count"])

	for _, days := range []string{"0", "366", "abc"} {
		resp, _ = env.do(t, http.MethodGet, "/api/analytics/stats?days="+days, nil, "X-Tracking-Key", testTrackingKey)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode, "days=%s", days)
	}
}

func TestAnalyticsExports(t *testing.T) {
	env := newTestEnv(t, nil)
	withID := event("page_view")
	withID["anonymous_id"] = "0123456789abcdef"
	for _, ev := range []map[string]any{withID, event("start_click")} {
		resp, _ := env.do(t, http.MethodPost, "/api/analytics/event", ev)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	resp, _ := env.do(t, http.MethodPost, "/api/analytics/feedback", map[string]any{
		"anonymous_id": "0123456789abcdef", "feedback_type": "result_rating", "result_accuracy": 4,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = env.do(t, http.MethodGet, "/api/analytics/events/export", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp, _ = env.do(t, http.MethodGet, "/api/analytics/feedback/export", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body := env.do(t, http.MethodGet, "/api/analytics/events/export", nil, "X-Tracking-Key", testTrackingKey)
	require.Equal(t, http.StatusOK, resp.StatusCode, "%v", body)
	require.EqualValues(t, 2, body["total"])
	require.EqualValues(t, 30, body["period_days"])
	ids := map[string]bool{}
	for _, e := range body["events"].([]any) {
		ids[e.(map[string]any)["anonymous_id"].(string)] = true
	}
	require.True(t, ids["01234567..."], "%v", ids)
	require.True(t, ids["anon-1..."], "%v", ids)

	resp, body = env.do(t, http.MethodGet, "/api/analytics/events/export?limit=1", nil, "X-Tracking-Key", testTrackingKey)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.EqualValues(t, 1, body["total"])

	resp, body = env.do(t, http.MethodGet, "/api/analytics/feedback/export?days=7", nil, "X-Tracking-Key", testTrackingKey)
	require.Equal(t, http.StatusOK, resp.StatusCode, "%v", body)
	require.EqualValues(t, 1, body["total"])
	require.EqualValues(t, 7, body["period_days"])
	fb := body["feedbacks"].([]any)[0].(map[string]any)
	require.Equal(t, "01234567...", fb["anonymous_id"])
	require.Equal(t, "result_rating", fb["feedback_type"])
	require.EqualValues(t, 4, fb["result_accuracy"])
	require.Nil(t, fb["nps_score"])

	for _, q := range []string{"limit=0", "limit=100001", "days=400"} {
		resp, _ = env.do(t, http.MethodGet, "/api/analytics/events/export?"+q, nil, "X-Tracking-Key", testTrackingKey)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode, q)
	}
	resp, _ = env.do(t, http.MethodGet, "/api/analytics/feedback/export?limit=10001", nil, "X-Tracking-Key", testTrackingKey)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
