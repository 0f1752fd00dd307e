package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/ashureev/mbti-assistant/internal/assessment"
	"github.com/ashureev/mbti-assistant/internal/identity"
	"github.com/ashureev/mbti-assistant/internal/ratelimit"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
)

// wsInbound is one client frame; each frame is one conversational round.
type wsInbound struct {
	Content string `json:"content"`
}

// wsOutbound is a server frame: either a committed turn or an error.
type wsOutbound struct {
	Type              string                  `json:"type"`
	Turn              *assessment.TurnOutcome `json:"turn,omitempty"`
	Error             string                  `json:"error,omitempty"`
	Status            int                     `json:"status,omitempty"`
	RetryAfterSeconds int                     `json:"retry_after_seconds,omitempty"`
}

// connRegistry keeps at most one live socket per assessment session. A new
// connection for the same session replaces the old one.
type connRegistry struct {
	mu     sync.Mutex
	active map[string]*websocket.Conn
}

func newConnRegistry() *connRegistry {
	return &connRegistry{active: make(map[string]*websocket.Conn)}
}

func (c *connRegistry) register(sessionID string, conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.active[sessionID]; ok && existing != conn {
		_ = existing.Close(websocket.StatusPolicyViolation, "session opened elsewhere")
	}
	c.active[sessionID] = conn
}

func (c *connRegistry) unregister(sessionID string, conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if current, ok := c.active[sessionID]; ok && current == conn {
		delete(c.active, sessionID)
	}
}

func (c *connRegistry) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}

// ServeWS upgrades to a WebSocket carrying chat rounds for one session.
func (h *ChatHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	session, err := h.svc.Status(r.Context(), chi.URLParam(r, "session_id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	sessionID := session.ID
	client := identity.ClientIPFromContext(r.Context())

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "session_id", sessionID)
		return
	}
	defer func() { _ = ws.CloseNow() }()
	ws.SetReadLimit(h.maxBody)

	h.conns.register(sessionID, ws)
	defer h.conns.unregister(sessionID, ws)
	slog.Info("Chat socket opened", "session_id", sessionID, "client_ip", client, "active_sockets", h.conns.count())

	ctx := r.Context()
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("Chat socket closed by client", "session_id", sessionID)
			} else {
				slog.Debug("Chat socket read ended", "session_id", sessionID, "error", err)
			}
			return
		}

		var in wsInbound
		if err := json.Unmarshal(data, &in); err != nil {
			if !h.writeFrame(ctx, ws, wsOutbound{Type: "error", Error: "invalid frame", Status: http.StatusBadRequest}) {
				return
			}
			continue
		}

		finished, ok := h.handleFrame(ctx, ws, sessionID, client, in)
		if !ok {
			return
		}
		if finished {
			_ = ws.Close(websocket.StatusNormalClosure, "assessment finished")
			return
		}
	}
}

// handleFrame runs one round. ok is false when the socket can no longer be written.
func (h *ChatHandler) handleFrame(ctx context.Context, ws *websocket.Conn, sessionID, client string, in wsInbound) (finished, ok bool) {
	if d := h.limiter.Check(ratelimit.ActionSendMessage, client); !d.Allowed {
		h.metrics.RateLimitDenied(string(d.Action))
		return false, h.writeFrame(ctx, ws, wsOutbound{
			Type:              "error",
			Error:             d.Reason(),
			Status:            http.StatusTooManyRequests,
			RetryAfterSeconds: retryAfterSeconds(d),
		})
	}

	out, err := h.svc.SubmitMessage(ctx, sessionID, in.Content)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			slog.Error("Chat socket turn failed", "session_id", sessionID, "error", err)
		}
		return false, h.writeFrame(ctx, ws, wsOutbound{Type: "error", Error: assessment.Message(err), Status: status})
	}
	h.limiter.Record(ratelimit.ActionSendMessage, client)
	logTurn("ws", sessionID, out)

	return out.IsFinished, h.writeFrame(ctx, ws, wsOutbound{Type: "turn", Turn: out})
}

func (h *ChatHandler) writeFrame(ctx context.Context, ws *websocket.Conn, frame wsOutbound) bool {
	if err := wsjson.Write(ctx, ws, frame); err != nil {
		slog.Debug("Chat socket write failed", "error", err)
		return false
	}
	return true
}
