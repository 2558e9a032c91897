package api

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/mcoot/secretgame/internal/api/apierr"
	"github.com/mcoot/secretgame/internal/api/handler"
	"github.com/mcoot/secretgame/internal/api/middleware"
	"github.com/mcoot/secretgame/internal/api/response"
	"github.com/mcoot/secretgame/internal/feed"
	httpmw "github.com/mcoot/secretgame/internal/middleware"
	"github.com/mcoot/secretgame/internal/services/auth"
	"github.com/mcoot/secretgame/internal/services/catalog"
	"github.com/mcoot/secretgame/internal/services/game"
	"github.com/mcoot/secretgame/internal/services/playerstore"
)

// RouterConfig holds configuration for the API router
type RouterConfig struct {
	Logger      *slog.Logger
	AuthService *auth.Service
	Players     *playerstore.Store
	Engine      *game.Engine
	Catalog     *catalog.Service
	Hub         *feed.Hub
	StorageType string
}

// NewRouter creates a new API router with all routes configured
func NewRouter(cfg RouterConfig) http.Handler {
	r := mux.NewRouter()

	// Create handlers
	playerHandler := handler.NewPlayerHandler(cfg.AuthService, cfg.Players)
	gameHandler := handler.NewGameHandler(cfg.Engine, cfg.Catalog)
	feedHandler := handler.NewFeedHandler(cfg.Hub)

	// Create middleware
	authMiddleware := middleware.Auth(cfg.AuthService)
	loggingMiddleware := httpmw.Logging(cfg.Logger)
	recoveryMiddleware := httpmw.Recovery(cfg.Logger, writePanicError)

	// API subrouter with common middleware
	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(recoveryMiddleware)
	api.Use(loggingMiddleware)

	// Sign-in routes (no auth required)
	api.HandleFunc("/players/guest", playerHandler.CreateGuest).Methods(http.MethodPost)
	api.HandleFunc("/players/register", playerHandler.Register).Methods(http.MethodPost)
	api.HandleFunc("/players/login", playerHandler.Login).Methods(http.MethodPost)

	// Health check endpoint (no auth)
	api.HandleFunc("/health", healthHandler(cfg)).Methods(http.MethodGet)

	// Protected routes
	protected := api.NewRoute().Subrouter()
	protected.Use(authMiddleware)
	protected.HandleFunc("/players/logout", playerHandler.Logout).Methods(http.MethodPost)
	protected.HandleFunc("/players/me", playerHandler.GetMe).Methods(http.MethodGet)
	protected.HandleFunc("/players/me/secret", gameHandler.ChooseSecret).Methods(http.MethodPut)
	protected.HandleFunc("/players", playerHandler.List).Methods(http.MethodGet)
	protected.HandleFunc("/players/{id}", playerHandler.Get).Methods(http.MethodGet)
	protected.HandleFunc("/leaderboard", playerHandler.Leaderboard).Methods(http.MethodGet)
	protected.HandleFunc("/guesses", gameHandler.Guess).Methods(http.MethodPost)
	protected.HandleFunc("/secrets", gameHandler.Secrets).Methods(http.MethodGet)
	protected.HandleFunc("/events", feedHandler.Events).Methods(http.MethodGet)
	protected.HandleFunc("/ws", feedHandler.WebSocket).Methods(http.MethodGet)

	return r
}

// writePanicError answers a panicking request with the JSON error envelope
func writePanicError(w http.ResponseWriter, _ *http.Request, _ any) {
	apierr.WriteError(w, apierr.NewInternalError())
}

func healthHandler(cfg RouterConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, http.StatusOK, response.HealthResponse{
			Status:  "ok",
			Storage: cfg.StorageType,
			Players: len(cfg.Players.All()),
			Clients: cfg.Hub.ClientCount(),
		})
	}
}
