package handler

import (
	"net/http"

	"github.com/mcoot/secretgame/internal/api/middleware"
	"github.com/mcoot/secretgame/internal/feed"
)

// FeedHandler serves the live player feed
type FeedHandler struct {
	hub *feed.Hub
}

// NewFeedHandler creates a new feed handler
func NewFeedHandler(hub *feed.Hub) *FeedHandler {
	return &FeedHandler{hub: hub}
}

// Events handles GET /api/v1/events
func (h *FeedHandler) Events(w http.ResponseWriter, r *http.Request) {
	feed.ServeSSE(w, r, h.hub, middleware.MustGetPlayerID(r.Context()))
}

// WebSocket handles GET /api/v1/ws
func (h *FeedHandler) WebSocket(w http.ResponseWriter, r *http.Request) {
	feed.ServeWS(w, r, h.hub, middleware.MustGetPlayerID(r.Context()))
}
