package cli

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFailure(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", "0")
	w.WriteHeader(http.StatusServiceUnavailable)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: APIError{
		Code:      "WRITE_FAILED",
		Message:   "Could not save the change, please retry",
		Retriable: true,
	}})
}

func TestClientSendsBearerToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(Player{ID: "p1", Username: "Alice"})
	}))
	defer srv.Close()

	var p Player
	require.NoError(t, NewClient(srv.URL+"/", "tok").Get("/api/v1/players/me", &p))
	assert.Equal(t, "Alice", p.Username)
}

func TestClientRetriesIdempotentWriteFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			writeFailure(w)
			return
		}
		secret := "Ninja"
		_ = json.NewEncoder(w).Encode(Player{ID: "p1", Secret: &secret})
	}))
	defer srv.Close()

	var p Player
	err := NewClient(srv.URL, "tok").Put("/api/v1/players/me/secret", map[string]string{"secret": "Ninja"}, &p)
	require.NoError(t, err)
	assert.EqualValues(t, 2, calls.Load())
	assert.Equal(t, "Ninja", *p.Secret)
}

func TestClientDoesNotRetryGuesses(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeFailure(w)
	}))
	defer srv.Close()

	err := NewClient(srv.URL, "tok").Post("/api/v1/guesses", map[string]string{"target_id": "p2", "guess": "Ninja"}, nil)
	require.Error(t, err)
	assert.True(t, IsRetriable(err))
	assert.Contains(t, err.Error(), "WRITE_FAILED")
	assert.EqualValues(t, 1, calls.Load())
}

func TestClientGivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeFailure(w)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	c.SetRetries(1)
	err := c.Get("/api/v1/players", nil)
	assert.True(t, IsRetriable(err))
	assert.EqualValues(t, 2, calls.Load())
}

func TestClientReportsNonJSONErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewClient(srv.URL, "").Get("/api/v1/health", nil)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.False(t, IsRetriable(err))
	assert.Contains(t, err.Error(), "HTTP 502")
}
