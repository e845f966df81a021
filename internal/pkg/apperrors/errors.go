package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorType string

const (
	ErrInvalidIntent       ErrorType = "INVALID_INTENT"
	ErrChainUnavailable    ErrorType = "CHAIN_UNAVAILABLE"
	ErrSigning             ErrorType = "SIGNING_ERROR"
	ErrSubmissionRejected  ErrorType = "SUBMISSION_REJECTED"
	ErrConfirmationTimeout ErrorType = "CONFIRMATION_TIMEOUT"
	ErrNotFound            ErrorType = "NOT_FOUND"

	ErrRiskReject     ErrorType = "RISK_REJECT"
	ErrAuthFailed     ErrorType = "AUTH_FAILED"
	ErrRateLimited    ErrorType = "RATE_LIMITED"
	ErrReadOnly       ErrorType = "READ_ONLY"
	ErrConflict       ErrorType = "CONFLICT"
	ErrInvalidRequest ErrorType = "INVALID_REQUEST"
	ErrInternal       ErrorType = "INTERNAL_ERROR"
)

// Rejection reasons reported with ErrSubmissionRejected.
const (
	ReasonInsufficientFunds = "insufficient_funds"
	ReasonSequenceMismatch  = "sequence_mismatch"
	ReasonSimulationFailed  = "simulation_failed"
	ReasonUnderpriced       = "underpriced"
	ReasonRejected          = "rejected"
)

// AppError is the standard error struct for the application
type AppError struct {
	Type       ErrorType `json:"code"`
	Message    string    `json:"message"`
	Reason     string    `json:"reason,omitempty"`
	Suggestion string    `json:"suggestion,omitempty"`
	Retryable  bool      `json:"retryable"`
	HTTPStatus int       `json:"-"`
	Cause      error     `json:"-"`
}

func (e *AppError) Error() string {
	msg := string(e.Type) + ": " + e.Message
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches on Type so callers can write errors.Is(err, apperrors.SubmissionRejected).
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Type == e.Type && (t.Reason == "" || t.Reason == e.Reason)
}

// Sentinels for errors.Is.
var (
	InvalidIntent       = &AppError{Type: ErrInvalidIntent}
	ChainUnavailable    = &AppError{Type: ErrChainUnavailable}
	Signing             = &AppError{Type: ErrSigning}
	SubmissionRejected  = &AppError{Type: ErrSubmissionRejected}
	ConfirmationTimeout = &AppError{Type: ErrConfirmationTimeout}
	NotFound            = &AppError{Type: ErrNotFound}
)

func New(errType ErrorType, msg string, cause error) *AppError {
	return &AppError{
		Type:       errType,
		Message:    msg,
		Cause:      cause,
		Retryable:  mapTypeToRetryable(errType),
		HTTPStatus: mapTypeToStatus(errType),
		Suggestion: mapTypeToSuggestion(errType),
	}
}

func NewInvalidIntent(format string, args ...any) *AppError {
	return New(ErrInvalidIntent, fmt.Sprintf(format, args...), nil)
}

func NewInvalidRequest(msg string) *AppError {
	return New(ErrInvalidRequest, msg, nil)
}

func NewRiskReject(msg string) *AppError {
	return New(ErrRiskReject, msg, nil)
}

func NewChainUnavailable(msg string, cause error) *AppError {
	return New(ErrChainUnavailable, msg, cause)
}

func NewSigning(msg string, cause error) *AppError {
	return New(ErrSigning, msg, cause)
}

func NewSubmissionRejected(reason, msg string, cause error) *AppError {
	e := New(ErrSubmissionRejected, msg, cause)
	e.Reason = reason
	return e
}

func NewConfirmationTimeout(msg string, cause error) *AppError {
	return New(ErrConfirmationTimeout, msg, cause)
}

func NewNotFound(msg string) *AppError {
	return New(ErrNotFound, msg, nil)
}

func Wrap(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return New(ErrInternal, err.Error(), err)
}

// TypeOf returns the ErrorType of err, or ErrInternal for foreign errors.
func TypeOf(err error) ErrorType {
	if err == nil {
		return ""
	}
	return Wrap(err).Type
}

func mapTypeToStatus(t ErrorType) int {
	switch t {
	case ErrInvalidIntent, ErrInvalidRequest, ErrRiskReject:
		return http.StatusBadRequest
	case ErrAuthFailed:
		return http.StatusUnauthorized
	case ErrReadOnly:
		return http.StatusForbidden
	case ErrNotFound:
		return http.StatusNotFound
	case ErrConflict:
		return http.StatusConflict
	case ErrSubmissionRejected:
		return http.StatusUnprocessableEntity
	case ErrRateLimited:
		return http.StatusTooManyRequests
	case ErrChainUnavailable:
		return http.StatusServiceUnavailable
	case ErrConfirmationTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func mapTypeToRetryable(t ErrorType) bool {
	switch t {
	case ErrChainUnavailable, ErrRateLimited, ErrConflict:
		return true
	default:
		return false
	}
}

func mapTypeToSuggestion(t ErrorType) string {
	switch t {
	case ErrInvalidIntent:
		return "Fix the intent parameters; resubmitting the same input will fail again."
	case ErrChainUnavailable:
		return "Retry after a backoff."
	case ErrSigning:
		return "Check the signing key material."
	case ErrSubmissionRejected:
		return "Rebuild the transaction from fresh account state before retrying."
	case ErrConfirmationTimeout:
		return "Outcome unknown: query chain state for the transaction hash before resubmitting."
	case ErrRiskReject:
		return "Check intent parameters against risk limits."
	case ErrAuthFailed:
		return "Check the gateway API key."
	case ErrReadOnly:
		return "Trading is suspended; only reads are served."
	default:
		return ""
	}
}
