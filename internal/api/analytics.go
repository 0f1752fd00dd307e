package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ashureev/mbti-assistant/internal/domain"
	"github.com/ashureev/mbti-assistant/internal/identity"
	"github.com/ashureev/mbti-assistant/internal/middleware"
	"github.com/go-chi/chi/v5"
)

const (
	defaultStatsDays = 30
	maxStatsDays     = 365

	defaultEventExportLimit    = 10000
	maxEventExportLimit        = 100000
	defaultFeedbackExportLimit = 1000
	maxFeedbackExportLimit     = 10000
)

type eventRequest struct {
	AnonymousID     string         `json:"anonymous_id" validate:"required,max=64"`
	SessionID       string         `json:"session_id" validate:"max=36"`
	EventName       string         `json:"event_name" validate:"required,max=100"`
	EventCategory   string         `json:"event_category" validate:"required,max=50"`
	EventData       map[string]any `json:"event_data"`
	PagePath        string         `json:"page_path" validate:"max=500"`
	DurationSeconds *float64       `json:"duration_seconds" validate:"omitempty,min=0"`
}

type batchRequest struct {
	Events []eventRequest `json:"events" validate:"required,min=1,max=100,dive"`
}

type eventResponse struct {
	ID            int64     `json:"id"`
	EventName     string    `json:"event_name"`
	EventCategory string    `json:"event_category"`
	Timestamp     time.Time `json:"timestamp"`
}

type feedbackRequest struct {
	AnonymousID      string `json:"anonymous_id" validate:"required,max=64"`
	SessionID        string `json:"session_id" validate:"max=36"`
	FeedbackType     string `json:"feedback_type" validate:"required,oneof=nps result_rating feature_request bug_report general"`
	NPSScore         *int   `json:"nps_score" validate:"omitempty,min=0,max=10"`
	ResultAccuracy   *int   `json:"result_accuracy" validate:"omitempty,min=1,max=5"`
	ExperienceRating *int   `json:"experience_rating" validate:"omitempty,min=1,max=5"`
	FeedbackText     string `json:"feedback_text" validate:"max=5000"`
	MBTIResult       string `json:"mbti_result" validate:"max=10"`
}

type feedbackResponse struct {
	ID           int64     `json:"id"`
	FeedbackType string    `json:"feedback_type"`
	CreatedAt    time.Time `json:"created_at"`
}

type exportedEvent struct {
	ID              int64          `json:"id"`
	AnonymousID     string         `json:"anonymous_id"`
	SessionID       string         `json:"session_id,omitempty"`
	EventName       string         `json:"event_name"`
	EventCategory   string         `json:"event_category"`
	EventData       map[string]any `json:"event_data,omitempty"`
	PagePath        string         `json:"page_path,omitempty"`
	Timestamp       time.Time      `json:"timestamp"`
	DurationSeconds *float64       `json:"duration_seconds"`
}

type exportedFeedback struct {
	ID               int64     `json:"id"`
	AnonymousID      string    `json:"anonymous_id"`
	SessionID        string    `json:"session_id,omitempty"`
	FeedbackType     string    `json:"feedback_type"`
	NPSScore         *int      `json:"nps_score"`
	ResultAccuracy   *int      `json:"result_accuracy"`
	ExperienceRating *int      `json:"experience_rating"`
	FeedbackText     string    `json:"feedback_text,omitempty"`
	MBTIResult       string    `json:"mbti_result,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// AnalyticsHandler serves tracking ingestion and the protected stats view.
type AnalyticsHandler struct {
	*Handler
	trackingKey string
	now         func() time.Time
}

// NewAnalyticsHandler creates an analytics handler. An empty trackingKey
// disables the stats route.
func NewAnalyticsHandler(base *Handler, trackingKey string) *AnalyticsHandler {
	return &AnalyticsHandler{Handler: base, trackingKey: trackingKey, now: time.Now}
}

// RegisterRoutes registers analytics routes.
func (h *AnalyticsHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/analytics", func(r chi.Router) {
		r.Post("/event", h.Event)
		r.Post("/events/batch", h.EventsBatch)
		r.Post("/feedback", h.Feedback)
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireTrackingKey(h.trackingKey))
			r.Get("/stats", h.Stats)
			r.Get("/events/export", h.ExportEvents)
			r.Get("/feedback/export", h.ExportFeedback)
		})
	})
}

func (h *AnalyticsHandler) toEvent(r *http.Request, req eventRequest, now time.Time) *domain.Event {
	return &domain.Event{
		AnonymousID:     req.AnonymousID,
		SessionID:       req.SessionID,
		Name:            req.EventName,
		Category:        req.EventCategory,
		Data:            req.EventData,
		PagePath:        req.PagePath,
		DurationSeconds: req.DurationSeconds,
		ClientIP:        identity.ClientIPFromContext(r.Context()),
		UserAgent:       identity.UserAgentFromContext(r.Context()),
		Timestamp:       now,
	}
}

func toEventResponse(ev *domain.Event) eventResponse {
	return eventResponse{ID: ev.ID, EventName: ev.Name, EventCategory: ev.Category, Timestamp: ev.Timestamp}
}

// Event records a single tracking event.
func (h *AnalyticsHandler) Event(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := h.decode(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	ev := h.toEvent(r, req, h.now())
	if err := h.repo.RecordEvents(r.Context(), []*domain.Event{ev}); err != nil {
		slog.Error("Failed to record event", "event_name", req.EventName, "error", err)
		Error(w, http.StatusInternalServerError, "failed to record event")
		return
	}
	JSON(w, http.StatusOK, toEventResponse(ev))
}

// EventsBatch records up to 100 events in one transaction.
func (h *AnalyticsHandler) EventsBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := h.decode(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	now := h.now()
	events := make([]*domain.Event, 0, len(req.Events))
	for _, e := range req.Events {
		events = append(events, h.toEvent(r, e, now))
	}
	if err := h.repo.RecordEvents(r.Context(), events); err != nil {
		slog.Error("Failed to record event batch", "count", len(events), "error", err)
		Error(w, http.StatusInternalServerError, "failed to record events")
		return
	}

	resp := make([]eventResponse, 0, len(events))
	for _, ev := range events {
		resp = append(resp, toEventResponse(ev))
	}
	JSON(w, http.StatusOK, resp)
}

// Feedback stores a rating or comment.
func (h *AnalyticsHandler) Feedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := h.decode(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	fb := &domain.Feedback{
		AnonymousID:      req.AnonymousID,
		SessionID:        req.SessionID,
		Type:             domain.FeedbackType(req.FeedbackType),
		NPSScore:         req.NPSScore,
		ResultAccuracy:   req.ResultAccuracy,
		ExperienceRating: req.ExperienceRating,
		Text:             req.FeedbackText,
		MBTIResult:       req.MBTIResult,
		ClientIP:         identity.ClientIPFromContext(r.Context()),
		UserAgent:        identity.UserAgentFromContext(r.Context()),
		CreatedAt:        h.now(),
	}
	if err := h.repo.SaveFeedback(r.Context(), fb); err != nil {
		slog.Error("Failed to save feedback", "feedback_type", req.FeedbackType, "error", err)
		Error(w, http.StatusInternalServerError, "failed to save feedback")
		return
	}
	slog.Info("Feedback received", "feedback_type", fb.Type, "session_id", fb.SessionID)
	JSON(w, http.StatusOK, feedbackResponse{ID: fb.ID, FeedbackType: string(fb.Type), CreatedAt: fb.CreatedAt})
}

// queryInt reads an optional integer query parameter bounded to [1, upper].
func queryInt(r *http.Request, name string, def, upper int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > upper {
		return 0, fmt.Errorf("%s must be between 1 and %d", name, upper)
	}
	return n, nil
}

// maskAnonymousID keeps only a short prefix of a browser ID in exports.
func maskAnonymousID(id string) string {
	if len(id) > 8 {
		id = id[:8]
	}
	return id + "..."
}

// Stats aggregates usage over the last ?days= days (1-365, default 30).
func (h *AnalyticsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	days, err := queryInt(r, "days", defaultStatsDays, maxStatsDays)
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	since := h.now().Add(-time.Duration(days) * 24 * time.Hour)
	stats, err := h.repo.Stats(r.Context(), since)
	if err != nil {
		slog.Error("Failed to compute analytics stats", "days", days, "error", err)
		Error(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}
	stats.PeriodDays = days
	JSON(w, http.StatusOK, stats)
}

// ExportEvents returns raw events from the last ?days= days, newest first,
// capped at ?limit= (default 10000).
func (h *AnalyticsHandler) ExportEvents(w http.ResponseWriter, r *http.Request) {
	days, err := queryInt(r, "days", defaultStatsDays, maxStatsDays)
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := queryInt(r, "limit", defaultEventExportLimit, maxEventExportLimit)
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	since := h.now().Add(-time.Duration(days) * 24 * time.Hour)
	events, err := h.repo.ExportEvents(r.Context(), since, limit)
	if err != nil {
		slog.Error("Failed to export events", "days", days, "error", err)
		Error(w, http.StatusInternalServerError, "failed to export events")
		return
	}

	out := make([]exportedEvent, 0, len(events))
	for _, ev := range events {
		out = append(out, exportedEvent{
			ID:              ev.ID,
			AnonymousID:     maskAnonymousID(ev.AnonymousID),
			SessionID:       ev.SessionID,
			EventName:       ev.Name,
			EventCategory:   ev.Category,
			EventData:       ev.Data,
			PagePath:        ev.PagePath,
			Timestamp:       ev.Timestamp,
			DurationSeconds: ev.DurationSeconds,
		})
	}
	JSON(w, http.StatusOK, map[string]any{"total": len(out), "period_days": days, "events": out})
}

// ExportFeedback returns feedback from the last ?days= days, newest first,
// capped at ?limit= (default 1000).
func (h *AnalyticsHandler) ExportFeedback(w http.ResponseWriter, r *http.Request) {
	days, err := queryInt(r, "days", defaultStatsDays, maxStatsDays)
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := queryInt(r, "limit", defaultFeedbackExportLimit, maxFeedbackExportLimit)
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	since := h.now().Add(-time.Duration(days) * 24 * time.Hour)
	feedback, err := h.repo.ExportFeedback(r.Context(), since, limit)
	if err != nil {
		slog.Error("Failed to export feedback", "days", days, "error", err)
		Error(w, http.StatusInternalServerError, "failed to export feedback")
		return
	}

	out := make([]exportedFeedback, 0, len(feedback))
	for _, fb := range feedback {
		out = append(out, exportedFeedback{
			ID:               fb.ID,
			AnonymousID:      maskAnonymousID(fb.AnonymousID),
			SessionID:        fb.SessionID,
			FeedbackType:     string(fb.Type),
			NPSScore:         fb.NPSScore,
			ResultAccuracy:   fb.ResultAccuracy,
			ExperienceRating: fb.ExperienceRating,
			FeedbackText:     fb.Text,
			MBTIResult:       fb.MBTIResult,
			CreatedAt:        fb.CreatedAt,
		})
	}
	JSON(w, http.StatusOK, map[string]any{"total": len(out), "period_days": days, "feedbacks": out})
}
