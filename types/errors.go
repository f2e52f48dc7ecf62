package types

import "errors"

// Error codes. Structural errors resolve locally into a failed intent with
// a specific reason; SESSION_EXPIRED is the only code that propagates to a
// full re-authentication.
const (
	ErrInvalidDestination  = "INVALID_DESTINATION"
	ErrRiskElevated        = "RISK_ELEVATED"
	ErrInsufficientBalance = "INSUFFICIENT_BALANCE"
	ErrAuthExpired         = "AUTH_EXPIRED"
	ErrChallengeFailed     = "CHALLENGE_FAILED"
	ErrChallengeExpired    = "CHALLENGE_EXPIRED"
	ErrSignatureNotFound   = "SIGNATURE_NOT_FOUND"
	ErrUnsupportedRoute    = "UNSUPPORTED_ROUTE"
	ErrNetworkTransient    = "NETWORK_TRANSIENT"
	ErrSessionExpired      = "SESSION_EXPIRED"
	ErrAuthUnavailable     = "AUTH_UNAVAILABLE"
	ErrRefreshFailed       = "REFRESH_FAILED"
	ErrIntentConflict      = "INTENT_CONFLICT"
	ErrIntentNotFound      = "INTENT_NOT_FOUND"
)

// OrchestratorError is the typed error surfaced by every component.
type OrchestratorError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

func (e *OrchestratorError) Error() string {
	return e.Code + ": " + e.Message
}

// NewError builds an OrchestratorError for the given code.
func NewError(code, message string) *OrchestratorError {
	return &OrchestratorError{Code: code, Message: message}
}

// ErrorCode extracts the taxonomy code from err, or "" if err is not an
// OrchestratorError.
func ErrorCode(err error) string {
	var oe *OrchestratorError
	if errors.As(err, &oe) {
		return oe.Code
	}
	return ""
}

// IsCode reports whether err carries the given taxonomy code.
func IsCode(err error, code string) bool {
	return ErrorCode(err) == code
}

// IsTransient reports whether err should be absorbed by the polling layer
// rather than interrupting the state machine.
func IsTransient(err error) bool {
	return IsCode(err, ErrNetworkTransient)
}
