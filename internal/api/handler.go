// Package api provides HTTP handlers for the MBTI assistant API.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/ashureev/mbti-assistant/internal/assessment"
	"github.com/ashureev/mbti-assistant/internal/metrics"
	"github.com/ashureev/mbti-assistant/internal/ratelimit"
	"github.com/ashureev/mbti-assistant/internal/store"
	"github.com/go-playground/validator/v10"
)

const defaultMaxRequestBodySize = 1 << 20

// validate is shared by every request DTO. Field names in errors use the
// JSON tag so messages match what the client sent.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Handler provides common handler utilities.
type Handler struct {
	svc     *assessment.Service
	repo    store.Repository
	limiter *ratelimit.Limiter
	metrics *metrics.Metrics
	maxBody int64
}

// NewHandler creates a new Handler with common dependencies. A non-positive
// maxBody uses 1 MiB.
func NewHandler(svc *assessment.Service, repo store.Repository, limiter *ratelimit.Limiter, m *metrics.Metrics, maxBody int64) *Handler {
	if maxBody <= 0 {
		maxBody = defaultMaxRequestBodySize
	}
	return &Handler{
		svc:     svc,
		repo:    repo,
		limiter: limiter,
		metrics: m,
		maxBody: maxBody,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Failed to encode response", "error", err)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// requestError is a decode or validation failure with its HTTP status.
type requestError struct {
	status int
	msg    string
}

func (e *requestError) Error() string { return e.msg }

// decode reads a size-capped JSON body into dst and validates it.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return &requestError{status: http.StatusRequestEntityTooLarge, msg: "request body too large"}
		}
		return &requestError{status: http.StatusBadRequest, msg: "invalid request body"}
	}
	if err := validate.Struct(dst); err != nil {
		return &requestError{status: http.StatusBadRequest, msg: validationMessage(err)}
	}
	return nil
}

func validationMessage(err error) string {
	var fields validator.ValidationErrors
	if !errors.As(err, &fields) || len(fields) == 0 {
		return "invalid request body"
	}
	fe := fields[0]
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "max":
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}

// writeDecodeError renders a decode failure.
func writeDecodeError(w http.ResponseWriter, err error) {
	var re *requestError
	if errors.As(err, &re) {
		Error(w, re.status, re.msg)
		return
	}
	Error(w, http.StatusBadRequest, "invalid request body")
}

// statusFor maps an assessment error to its HTTP status.
func statusFor(err error) int {
	switch assessment.Kind(err) {
	case assessment.KindValidation, assessment.KindState:
		return http.StatusBadRequest
	case assessment.KindNotFound:
		return http.StatusNotFound
	case assessment.KindUnavailable:
		return http.StatusServiceUnavailable
	case assessment.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error("Request failed", "path", r.URL.Path, "status", status, "error", err)
	} else {
		slog.Debug("Request rejected", "path", r.URL.Path, "status", status, "error", err)
	}
	Error(w, status, assessment.Message(err))
}

// rateLimitBody is the 429 response.
type rateLimitBody struct {
	Error             string `json:"error"`
	Message           string `json:"message"`
	Type              string `json:"type"`
	RetryAfterSeconds int    `json:"retry_after_seconds"`
}

// allow checks the limiter and writes a 429 when the request is denied.
func (h *Handler) allow(w http.ResponseWriter, action ratelimit.Action, client string) bool {
	d := h.limiter.Check(action, client)
	if d.Allowed {
		return true
	}
	h.metrics.RateLimitDenied(string(action))
	slog.Warn("Rate limit denied", "action", action, "client_ip", client, "retry_after", d.RetryAfter)
	writeRateLimited(w, d)
	return false
}

func writeRateLimited(w http.ResponseWriter, d ratelimit.Decision) {
	retry := retryAfterSeconds(d)
	kind := "message_limit"
	if d.Action == ratelimit.ActionCreateSession {
		kind = "session_limit"
	}
	w.Header().Set("Retry-After", strconv.Itoa(retry))
	JSON(w, http.StatusTooManyRequests, rateLimitBody{
		Error:             "rate_limit_exceeded",
		Message:           d.Reason(),
		Type:              kind,
		RetryAfterSeconds: retry,
	})
}

func retryAfterSeconds(d ratelimit.Decision) int {
	return max(1, int(math.Ceil(d.RetryAfter.Seconds())))
}
