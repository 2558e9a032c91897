package apierr

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mcoot/secretgame/internal/model"
	"github.com/mcoot/secretgame/internal/services/auth"
)

// APIError represents an API error response
type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retriable bool   `json:"retriable"`
}

// ErrorResponse wraps an APIError
type ErrorResponse struct {
	Error APIError `json:"error"`
}

// Common error codes
const (
	CodeInvalidRequest     = "INVALID_REQUEST"
	CodeInvalidSecret      = "INVALID_SECRET"
	CodeSelfGuess          = "SELF_GUESS"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodePlayerNotFound     = "PLAYER_NOT_FOUND"
	CodeSecretRevealed     = "SECRET_REVEALED"
	CodeUsernameExists     = "USERNAME_EXISTS"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeWriteFailed        = "WRITE_FAILED"
	CodeInternalError      = "INTERNAL_ERROR"
)

// httpError combines an HTTP status code with an APIError
type httpError struct {
	status   int
	apiError APIError
}

// Error implements error interface
func (e *httpError) Error() string {
	return e.apiError.Message
}

// WriteError writes an error response to the response writer
func WriteError(w http.ResponseWriter, err error) {
	he := toHTTPError(err)
	w.Header().Set("Content-Type", "application/json")
	if he.apiError.Retriable {
		w.Header().Set("Retry-After", "1")
	}
	w.WriteHeader(he.status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: he.apiError})
}

// Status returns the HTTP status err maps to
func Status(err error) int {
	return toHTTPError(err).status
}

// toHTTPError converts an error to an httpError
func toHTTPError(err error) *httpError {
	// Check for specific error types
	var he *httpError
	if errors.As(err, &he) {
		return he
	}

	switch {
	// Auth errors first; they all wrap model.ErrAuthFailure
	case errors.Is(err, auth.ErrInvalidCredentials):
		return &httpError{http.StatusUnauthorized, APIError{Code: CodeInvalidCredentials, Message: "Invalid username or password"}}
	case errors.Is(err, auth.ErrUsernameExists):
		return &httpError{http.StatusConflict, APIError{Code: CodeUsernameExists, Message: "Username already exists"}}
	case errors.Is(err, auth.ErrInvalidUsername):
		return &httpError{http.StatusBadRequest, APIError{Code: CodeInvalidRequest, Message: "Username and password are required"}}
	case errors.Is(err, model.ErrAuthFailure):
		return &httpError{http.StatusUnauthorized, APIError{Code: CodeUnauthorized, Message: "Invalid or expired session"}}

	// Map model errors
	case errors.Is(err, model.ErrPlayerNotFound):
		return &httpError{http.StatusNotFound, APIError{Code: CodePlayerNotFound, Message: "Player not found"}}
	case errors.Is(err, model.ErrWriteFailure):
		return &httpError{http.StatusServiceUnavailable, APIError{Code: CodeWriteFailed, Message: "Could not save the change, please retry", Retriable: true}}
	case errors.Is(err, model.ErrSecretRevealed):
		return &httpError{http.StatusConflict, APIError{Code: CodeSecretRevealed, Message: "Your secret has been revealed and can no longer be changed"}}
	case errors.Is(err, model.ErrInvalidSecret):
		return &httpError{http.StatusBadRequest, APIError{Code: CodeInvalidSecret, Message: "Secret must not be blank"}}
	case errors.Is(err, model.ErrSelfGuess):
		return &httpError{http.StatusBadRequest, APIError{Code: CodeSelfGuess, Message: "You cannot guess your own secret"}}

	default:
		return &httpError{http.StatusInternalServerError, APIError{Code: CodeInternalError, Message: "Internal server error"}}
	}
}

// NewInvalidRequestError creates an invalid request error
func NewInvalidRequestError(message string) error {
	return &httpError{http.StatusBadRequest, APIError{Code: CodeInvalidRequest, Message: message}}
}

// NewUnauthorizedError creates an unauthorized error
func NewUnauthorizedError() error {
	return &httpError{http.StatusUnauthorized, APIError{Code: CodeUnauthorized, Message: "Authentication required"}}
}

// NewInternalError creates an internal server error
func NewInternalError() error {
	return &httpError{http.StatusInternalServerError, APIError{Code: CodeInternalError, Message: "Internal server error"}}
}
