package assessment

import (
	"context"
	"errors"
)

// Validation errors.
var (
	ErrInvalidDepth     = errors.New("invalid depth: must be shallow, standard or deep")
	ErrInvalidSessionID = errors.New("invalid session_id format")
	ErrInvalidContent   = errors.New("content must be between 1 and 5000 characters")
	ErrInvalidQuestion  = errors.New("question must be between 1 and 2000 characters")
)

// State errors.
var (
	ErrSessionNotFound        = errors.New("session not found")
	ErrSessionInactive        = errors.New("this session is no longer active")
	ErrSessionAlreadyComplete = errors.New("this session has already been completed")
	ErrNoFurtherUpgrade       = errors.New("deep mode sessions cannot be upgraded further")
	ErrNotReadyToConclude     = errors.New("assessment not ready to conclude, please continue the conversation")
	ErrNoRoundsLeft           = errors.New("no rounds left at this depth, upgrade or finish instead")
)

// Oracle and concurrency errors.
var (
	ErrOracleUnavailable      = errors.New("AI service temporarily unavailable, please try again")
	ErrReportGenerationFailed = errors.New("failed to generate analysis report, please try again")
	ErrConcurrentModification = errors.New("session was modified concurrently, please retry")
)

// ErrorKind groups controller errors for transport mapping.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindValidation
	KindNotFound
	KindState
	KindUnavailable
	KindConflict
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindState:
		return "state"
	case KindUnavailable:
		return "unavailable"
	case KindConflict:
		return "conflict"
	default:
		return "internal"
	}
}

// Kind classifies err. Unknown errors are KindInternal.
func Kind(err error) ErrorKind {
	switch {
	case err == nil:
		return KindInternal
	case isAny(err, ErrInvalidDepth, ErrInvalidSessionID, ErrInvalidContent, ErrInvalidQuestion):
		return KindValidation
	case errors.Is(err, ErrSessionNotFound):
		return KindNotFound
	case isAny(err, ErrSessionInactive, ErrSessionAlreadyComplete, ErrNoFurtherUpgrade,
		ErrNotReadyToConclude, ErrNoRoundsLeft):
		return KindState
	case isAny(err, ErrOracleUnavailable, ErrReportGenerationFailed,
		context.DeadlineExceeded, context.Canceled):
		return KindUnavailable
	case errors.Is(err, ErrConcurrentModification):
		return KindConflict
	default:
		return KindInternal
	}
}

var publicErrors = []error{
	ErrInvalidDepth, ErrInvalidSessionID, ErrInvalidContent, ErrInvalidQuestion,
	ErrSessionNotFound, ErrSessionInactive, ErrSessionAlreadyComplete, ErrNoFurtherUpgrade,
	ErrNotReadyToConclude, ErrNoRoundsLeft,
	ErrReportGenerationFailed, ErrOracleUnavailable, ErrConcurrentModification,
}

// Message returns a client-safe description of err. Wrapped provider or
// database details are never included.
func Message(err error) string {
	for _, target := range publicErrors {
		if errors.Is(err, target) {
			return target.Error()
		}
	}
	if isAny(err, context.DeadlineExceeded, context.Canceled) {
		return "request timed out, please try again"
	}
	return "internal server error"
}

func isAny(err error, targets ...error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}
