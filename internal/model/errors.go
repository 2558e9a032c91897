package model

import "errors"

// Common errors used across the application
var (
	// Player errors
	ErrPlayerNotFound = errors.New("player not found")

	// Session errors. AuthFailure covers every credential problem.
	ErrAuthFailure = errors.New("authentication failed")

	// ErrWriteFailure means a durable write did not complete. Local state is
	// kept and the caller may retry.
	ErrWriteFailure = errors.New("write failed")

	// Reveal errors
	ErrAlreadyRevealed = errors.New("secret already revealed")
	ErrNoSecretSet     = errors.New("player has not chosen a secret")
	ErrSecretMismatch  = errors.New("stored secret does not match")

	// Secret choice errors
	ErrSecretRevealed = errors.New("secret has been revealed and can no longer be changed")
	ErrInvalidSecret  = errors.New("secret must not be blank")

	// Guess errors
	ErrSelfGuess = errors.New("players cannot guess their own secret")
)

// IsRetriable reports whether err is a transient write failure
func IsRetriable(err error) bool {
	return errors.Is(err, ErrWriteFailure)
}
