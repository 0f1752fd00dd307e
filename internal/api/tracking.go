package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/mbti-assistant/internal/domain"
	"github.com/ashureev/mbti-assistant/internal/middleware"
	"github.com/ashureev/mbti-assistant/internal/store"
	"github.com/go-chi/chi/v5"
)

type trackSessionRequest struct {
	AnonymousID string `json:"anonymous_id" validate:"required,max=64"`
	SessionID   string `json:"session_id" validate:"required,max=36"`
	Mode        string `json:"mode" validate:"required,oneof=shallow standard deep"`
	DeviceType  string `json:"device_type" validate:"max=20"`
	Browser     string `json:"browser" validate:"max=50"`
	OS          string `json:"os" validate:"max=50"`
}

type trackCompletionRequest struct {
	AnonymousID string `json:"anonymous_id" validate:"required,max=64"`
	SessionID   string `json:"session_id" validate:"required,max=36"`
	MBTIResult  string `json:"mbti_result" validate:"required,max=10"`
	Mode        string `json:"mode" validate:"required,oneof=shallow standard deep"`
}

type conversationMessage struct {
	Role      domain.Role `json:"role"`
	Content   string      `json:"content"`
	Timestamp time.Time   `json:"timestamp"`
}

type conversation struct {
	SessionID       string                `json:"session_id"`
	Mode            domain.Depth          `json:"mode"`
	IsComplete      bool                  `json:"is_complete"`
	MBTIResult      string                `json:"mbti_result"`
	ConfidenceScore int                   `json:"confidence_score"`
	TotalRounds     int                   `json:"total_rounds"`
	CreatedAt       time.Time             `json:"created_at"`
	MessageCount    int                   `json:"message_count"`
	Messages        []conversationMessage `json:"messages"`
}

type trackedUser struct {
	*domain.UserTracker
	Journey       domain.Journey `json:"journey_analysis"`
	Conversations []conversation `json:"conversations,omitempty"`
}

// TrackingHandler follows anonymous users across sessions. Ingestion is
// open; every read is behind the tracking key.
type TrackingHandler struct {
	*Handler
	trackingKey string
	now         func() time.Time
}

// NewTrackingHandler creates a tracking handler. An empty trackingKey
// disables the read routes.
func NewTrackingHandler(base *Handler, trackingKey string) *TrackingHandler {
	return &TrackingHandler{Handler: base, trackingKey: trackingKey, now: time.Now}
}

// RegisterRoutes registers tracking routes.
func (h *TrackingHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/tracking", func(r chi.Router) {
		r.Post("/track-session", h.TrackSession)
		r.Post("/track-completion", h.TrackCompletion)
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireTrackingKey(h.trackingKey))
			r.Get("/users", h.Users)
			r.Get("/users/{anonymous_id}", h.User)
			r.Get("/users/{anonymous_id}/conversations", h.Conversations)
			r.Get("/export", h.Export)
			r.Get("/stats", h.Stats)
		})
	})
}

// TrackSession records a session start for an anonymous user.
func (h *TrackingHandler) TrackSession(w http.ResponseWriter, r *http.Request) {
	var req trackSessionRequest
	if err := h.decode(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	device := domain.Device{Type: req.DeviceType, Browser: req.Browser, OS: req.OS}
	tracker, err := h.repo.TrackSession(r.Context(), req.AnonymousID, req.SessionID, domain.Depth(req.Mode), device, h.now())
	if err != nil {
		slog.Error("Failed to track session", "session_id", req.SessionID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to track session")
		return
	}
	slog.Info("Tracked session", "session_id", req.SessionID, "mode", req.Mode, "total_sessions", tracker.TotalSessions)
	JSON(w, http.StatusOK, map[string]any{"status": "ok", "total_sessions": tracker.TotalSessions})
}

// TrackCompletion records a session's final type.
func (h *TrackingHandler) TrackCompletion(w http.ResponseWriter, r *http.Request) {
	var req trackCompletionRequest
	if err := h.decode(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	tracker, err := h.repo.TrackCompletion(r.Context(), req.AnonymousID, req.SessionID, req.MBTIResult, domain.Depth(req.Mode), h.now())
	if errors.Is(err, store.ErrTrackerNotFound) {
		Error(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		slog.Error("Failed to track completion", "session_id", req.SessionID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to track completion")
		return
	}
	slog.Info("Tracked completion", "session_id", req.SessionID, "result", req.MBTIResult, "mode", req.Mode)
	JSON(w, http.StatusOK, map[string]any{"status": "ok", "completed_sessions": tracker.CompletedSessions})
}

// Users lists every tracked user, most recently seen first.
func (h *TrackingHandler) Users(w http.ResponseWriter, r *http.Request) {
	trackers, err := h.repo.ListTrackers(r.Context())
	if err != nil {
		slog.Error("Failed to list trackers", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list users")
		return
	}
	completed := 0
	for _, t := range trackers {
		if t.CompletedSessions > 0 {
			completed++
		}
	}
	JSON(w, http.StatusOK, map[string]any{
		"total_users":     len(trackers),
		"users_completed": completed,
		"users":           trackers,
	})
}

// User returns one tracked user with their journey classification.
func (h *TrackingHandler) User(w http.ResponseWriter, r *http.Request) {
	tracker, ok := h.loadTracker(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, trackedUser{UserTracker: tracker, Journey: domain.AnalyzeJourney(tracker)})
}

// Conversations returns the full transcript of every session a user started.
func (h *TrackingHandler) Conversations(w http.ResponseWriter, r *http.Request) {
	tracker, ok := h.loadTracker(w, r)
	if !ok {
		return
	}
	convs, err := h.conversations(r.Context(), tracker)
	if err != nil {
		slog.Error("Failed to load conversations", "error", err)
		Error(w, http.StatusInternalServerError, "failed to load conversations")
		return
	}
	JSON(w, http.StatusOK, map[string]any{
		"anonymous_id":        tracker.AnonymousID,
		"total_conversations": len(convs),
		"conversations":       convs,
	})
}

// Export dumps every tracked user with journeys and transcripts.
func (h *TrackingHandler) Export(w http.ResponseWriter, r *http.Request) {
	trackers, err := h.repo.ListTrackers(r.Context())
	if err != nil {
		slog.Error("Failed to list trackers", "error", err)
		Error(w, http.StatusInternalServerError, "failed to export users")
		return
	}

	users := make([]trackedUser, 0, len(trackers))
	for _, t := range trackers {
		convs, err := h.conversations(r.Context(), t)
		if err != nil {
			slog.Error("Failed to load conversations", "error", err)
			Error(w, http.StatusInternalServerError, "failed to export users")
			return
		}
		users = append(users, trackedUser{UserTracker: t, Journey: domain.AnalyzeJourney(t), Conversations: convs})
	}
	JSON(w, http.StatusOK, map[string]any{
		"exported_at": h.now(),
		"summary":     domain.SummarizeTrackers(trackers),
		"users":       users,
	})
}

// Stats summarizes journeys and reported results across tracked users.
func (h *TrackingHandler) Stats(w http.ResponseWriter, r *http.Request) {
	trackers, err := h.repo.ListTrackers(r.Context())
	if err != nil {
		slog.Error("Failed to list trackers", "error", err)
		Error(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}
	JSON(w, http.StatusOK, domain.SummarizeTrackers(trackers))
}

func (h *TrackingHandler) loadTracker(w http.ResponseWriter, r *http.Request) (*domain.UserTracker, bool) {
	tracker, err := h.repo.GetTracker(r.Context(), chi.URLParam(r, "anonymous_id"))
	if err != nil {
		slog.Error("Failed to load tracker", "error", err)
		Error(w, http.StatusInternalServerError, "failed to load user")
		return nil, false
	}
	if tracker == nil {
		Error(w, http.StatusNotFound, "user not found")
		return nil, false
	}
	return tracker, true
}

// conversations skips tracked session IDs that have no stored session.
func (h *TrackingHandler) conversations(ctx context.Context, t *domain.UserTracker) ([]conversation, error) {
	convs := make([]conversation, 0, len(t.SessionIDs))
	for _, id := range t.SessionIDs {
		session, err := h.repo.GetSession(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("session %s: %w", id, err)
		}
		if session == nil {
			continue
		}
		msgs, err := h.repo.ListMessages(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("messages %s: %w", id, err)
		}
		c := conversation{
			SessionID:       id,
			Mode:            session.Depth,
			IsComplete:      session.IsComplete,
			MBTIResult:      session.CurrentPrediction,
			ConfidenceScore: session.ConfidenceScore,
			TotalRounds:     session.CurrentRound,
			CreatedAt:       session.CreatedAt,
			MessageCount:    len(msgs),
			Messages:        make([]conversationMessage, 0, len(msgs)),
		}
		for _, m := range msgs {
			c.Messages = append(c.Messages, conversationMessage{Role: m.Role, Content: m.Content, Timestamp: m.CreatedAt})
		}
		convs = append(convs, c)
	}
	return convs, nil
}
