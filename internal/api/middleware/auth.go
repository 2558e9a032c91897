package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/mcoot/secretgame/internal/api/apierr"
	"github.com/mcoot/secretgame/internal/model"
	"github.com/mcoot/secretgame/internal/services/auth"
)

type contextKey string

const (
	playerIDContextKey contextKey = "player_id"
	claimsContextKey   contextKey = "claims"
	tokenContextKey    contextKey = "token"
)

// Auth creates authentication middleware
func Auth(authService *auth.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractToken(r)
			if token == "" {
				apierr.WriteError(w, apierr.NewUnauthorizedError())
				return
			}

			claims, err := authService.ValidateSession(token)
			if err != nil {
				apierr.WriteError(w, err)
				return
			}

			ctx := r.Context()
			ctx = context.WithValue(ctx, claimsContextKey, claims)
			ctx = context.WithValue(ctx, playerIDContextKey, claims.PlayerID)
			ctx = context.WithValue(ctx, tokenContextKey, token)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// extractToken extracts the session token from the request. Browsers cannot
// set headers on EventSource or WebSocket requests, so a token query
// parameter is accepted too.
func extractToken(r *http.Request) string {
	// Check Authorization header first
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}

	// Fall back to cookie
	if cookie, err := r.Cookie("session"); err == nil {
		return cookie.Value
	}

	return r.URL.Query().Get("token")
}

// GetPlayerID returns the authenticated player id from the request context
func GetPlayerID(ctx context.Context) model.PlayerID {
	id, _ := ctx.Value(playerIDContextKey).(model.PlayerID)
	return id
}

// GetClaims returns the session claims from the request context
func GetClaims(ctx context.Context) *auth.Claims {
	claims, _ := ctx.Value(claimsContextKey).(*auth.Claims)
	return claims
}

// GetToken returns the raw session token from the request context
func GetToken(ctx context.Context) string {
	token, _ := ctx.Value(tokenContextKey).(string)
	return token
}

// MustGetPlayerID returns the authenticated player id or panics
func MustGetPlayerID(ctx context.Context) model.PlayerID {
	id := GetPlayerID(ctx)
	if id == "" {
		panic("no player in context - auth middleware not applied?")
	}
	return id
}
