package response

import "errors"

// ErrCode is a typed error code enum for consistent error identification,
// both for session failures and for kiosk API responses.
type ErrCode string

const (
	// ─── Session ───────────────────────────────────────────────────────
	ErrServiceUnavailableCode ErrCode = "SERVICE_UNAVAILABLE"
	ErrSessionInvalidCode     ErrCode = "SESSION_INVALID"
	ErrNoActiveSessionCode    ErrCode = "NO_ACTIVE_SESSION"

	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid  ErrCode = "TOKEN_INVALID"
	ErrTokenExpired  ErrCode = "TOKEN_EXPIRED"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"

	// ─── Server ────────────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"
	ErrInternal          ErrCode = "INTERNAL_ERROR"
)

// Sentinel values for errors.Is. Every *Error with the matching code is Is-equal to them.
var (
	ErrServiceUnavailable = errors.New("exam service unavailable")
	ErrSessionInvalid     = errors.New("exam session invalid")
	ErrNoActiveSession    = errors.New("no active exam session")
	ErrInvalidInput       = errors.New("invalid input")
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Session ───────────────────────────────────────────────────────
	case ErrServiceUnavailableCode:
		return "The exam service could not be reached. Please start the exam again."
	case ErrSessionInvalidCode:
		return "This exam session is no longer valid. Please start the exam again."
	case ErrNoActiveSessionCode:
		return "There is no active exam session."

	// ─── Authentication ────────────────────────────────────────────────
	case ErrTokenRequired:
		return "Authentication token is required."
	case ErrTokenInvalid:
		return "Authentication token is invalid."
	case ErrTokenExpired:
		return "Authentication token has expired. Please log in again."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validation failed. Please check your input."
	case ErrInvalidID:
		return "Invalid ID format."
	case ErrInvalidPayload:
		return "Invalid request payload."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Resource not found."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Too many requests. Please try again later."
	case ErrInternal:
		return "Internal server error."
	default:
		return "An unexpected error occurred."
	}
}
