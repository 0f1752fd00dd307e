package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/mbti-assistant/internal/assessment"
	"github.com/ashureev/mbti-assistant/internal/domain"
	"github.com/ashureev/mbti-assistant/internal/identity"
	"github.com/ashureev/mbti-assistant/internal/ratelimit"
	"github.com/go-chi/chi/v5"
)

type startRequest struct {
	Depth    string `json:"depth"`
	Language string `json:"language" validate:"max=10"`
	UserName string `json:"user_name" validate:"max=100"`
}

type startResponse struct {
	SessionID string          `json:"session_id"`
	Depth     domain.Depth    `json:"depth"`
	Language  string          `json:"language"`
	Greeting  string          `json:"greeting"`
	MaxRounds int             `json:"max_rounds"`
	RateLimit ratelimit.Usage `json:"rate_limit"`
}

type sessionRequest struct {
	SessionID string `json:"session_id" validate:"required"`
}

type messageRequest struct {
	SessionID string `json:"session_id" validate:"required"`
	Content   string `json:"content" validate:"required,max=5000"`
}

type qaTurn struct {
	Role    string `json:"role" validate:"oneof=user model assistant"`
	Content string `json:"content" validate:"max=5000"`
}

type qaRequest struct {
	SessionID string   `json:"session_id" validate:"required"`
	Question  string   `json:"question" validate:"required,max=2000"`
	History   []qaTurn `json:"history" validate:"max=50,dive"`
}

// ChatHandler serves the assessment session endpoints.
type ChatHandler struct {
	*Handler
	conns          *connRegistry
	originPatterns []string
}

// NewChatHandler creates a chat handler. originPatterns are the Origin host
// patterns accepted on the WebSocket handshake; empty allows any origin.
func NewChatHandler(base *Handler, originPatterns []string) *ChatHandler {
	if len(originPatterns) == 0 {
		originPatterns = []string{"*"}
	}
	return &ChatHandler{Handler: base, conns: newConnRegistry(), originPatterns: originPatterns}
}

// RegisterRoutes registers chat routes.
func (h *ChatHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/chat", func(r chi.Router) {
		r.Post("/start", h.Start)
		r.Post("/message", h.Message)
		r.Post("/finish", h.Finish)
		r.Post("/upgrade", h.Upgrade)
		r.Post("/continue", h.Continue)
		r.Post("/qa", h.QA)
		r.Get("/history/{session_id}", h.History)
		r.Get("/status/{session_id}", h.Status)
		r.Get("/ws/{session_id}", h.ServeWS)
	})
}

// Start creates a session and returns its greeting.
func (h *ChatHandler) Start(w http.ResponseWriter, r *http.Request) {
	client := identity.ClientIPFromContext(r.Context())
	if !h.allow(w, ratelimit.ActionCreateSession, client) {
		return
	}

	req := startRequest{Depth: string(domain.DepthStandard)}
	if err := h.decode(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	started, err := h.svc.Start(r.Context(), assessment.StartParams{
		Depth:     req.Depth,
		Language:  req.Language,
		UserName:  req.UserName,
		ClientIP:  client,
		UserAgent: identity.UserAgentFromContext(r.Context()),
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	h.limiter.Record(ratelimit.ActionCreateSession, client)

	JSON(w, http.StatusOK, startResponse{
		SessionID: started.Session.ID,
		Depth:     started.Session.Depth,
		Language:  started.Session.Language,
		Greeting:  started.Greeting,
		MaxRounds: started.MaxRounds,
		RateLimit: h.limiter.Usage(client),
	})
}

// Message runs one conversational round.
func (h *ChatHandler) Message(w http.ResponseWriter, r *http.Request) {
	client := identity.ClientIPFromContext(r.Context())
	if !h.allow(w, ratelimit.ActionSendMessage, client) {
		return
	}

	var req messageRequest
	if err := h.decode(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	out, err := h.svc.SubmitMessage(r.Context(), req.SessionID, req.Content)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	h.limiter.Record(ratelimit.ActionSendMessage, client)
	logTurn("http", req.SessionID, out)
	JSON(w, http.StatusOK, out)
}

// Finish returns the final report, generating it on first completion.
func (h *ChatHandler) Finish(w http.ResponseWriter, r *http.Request) {
	client := identity.ClientIPFromContext(r.Context())
	if !h.allow(w, ratelimit.ActionSendMessage, client) {
		return
	}

	var req sessionRequest
	if err := h.decode(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	report, err := h.svc.Finish(r.Context(), req.SessionID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if report.FirstCompletion {
		h.limiter.Record(ratelimit.ActionSendMessage, client)
	}
	JSON(w, http.StatusOK, report)
}

// Upgrade moves the session to the next depth.
func (h *ChatHandler) Upgrade(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := h.decode(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	up, err := h.svc.Upgrade(r.Context(), req.SessionID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, up)
}

// Continue asks for more rounds before the session may be finished.
func (h *ChatHandler) Continue(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := h.decode(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	cont, err := h.svc.Continue(r.Context(), req.SessionID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, cont)
}

// QA answers a question about the session's result.
func (h *ChatHandler) QA(w http.ResponseWriter, r *http.Request) {
	client := identity.ClientIPFromContext(r.Context())
	if !h.allow(w, ratelimit.ActionSendMessage, client) {
		return
	}

	var req qaRequest
	if err := h.decode(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	history := make([]domain.Turn, 0, len(req.History))
	for _, t := range req.History {
		role := domain.RoleUser
		if t.Role != string(domain.RoleUser) {
			role = domain.RoleModel
		}
		history = append(history, domain.Turn{Role: role, Content: t.Content})
	}

	ans, err := h.svc.Ask(r.Context(), req.SessionID, req.Question, history)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	h.limiter.Record(ratelimit.ActionSendMessage, client)
	JSON(w, http.StatusOK, ans)
}

type historyMessage struct {
	ID        int64                `json:"id"`
	Role      domain.Role          `json:"role"`
	Content   string               `json:"content"`
	Metadata  *domain.MetadataWire `json:"metadata"`
	CreatedAt time.Time            `json:"created_at"`
}

type historyResponse struct {
	*domain.Session
	MaxRounds int              `json:"max_rounds"`
	Messages  []historyMessage `json:"messages"`
}

// History returns the session summary and every message in order.
func (h *ChatHandler) History(w http.ResponseWriter, r *http.Request) {
	hist, err := h.svc.History(r.Context(), chi.URLParam(r, "session_id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	msgs := make([]historyMessage, 0, len(hist.Messages))
	for _, m := range hist.Messages {
		hm := historyMessage{ID: m.ID, Role: m.Role, Content: m.Content, CreatedAt: m.CreatedAt}
		if m.Metadata != nil {
			wire := domain.WireMetadata(m.Metadata)
			hm.Metadata = &wire
		}
		msgs = append(msgs, hm)
	}
	JSON(w, http.StatusOK, historyResponse{
		Session:   hist.Session,
		MaxRounds: h.svc.Policy().MaxRounds(hist.Session.Depth),
		Messages:  msgs,
	})
}

type statusResponse struct {
	*domain.Session
	MaxRounds int  `json:"max_rounds"`
	HasReport bool `json:"has_report"`
}

// Status returns the session state without messages.
func (h *ChatHandler) Status(w http.ResponseWriter, r *http.Request) {
	session, err := h.svc.Status(r.Context(), chi.URLParam(r, "session_id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, statusResponse{
		Session:   session,
		MaxRounds: h.svc.Policy().MaxRounds(session.Depth),
		HasReport: session.HasReport(),
	})
}

// logTurn records a committed round at debug level for transport tracing.
func logTurn(transport, sessionID string, out *assessment.TurnOutcome) {
	slog.Debug("Turn delivered",
		"transport", transport,
		"session_id", sessionID,
		"round", out.CurrentRound,
		"is_finished", out.IsFinished)
}
