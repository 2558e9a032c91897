package handler

import (
	"net/http"

	"github.com/mcoot/secretgame/internal/api/middleware"
	"github.com/mcoot/secretgame/internal/api/request"
	"github.com/mcoot/secretgame/internal/api/response"
	"github.com/mcoot/secretgame/internal/model"
	"github.com/mcoot/secretgame/internal/services/catalog"
	"github.com/mcoot/secretgame/internal/services/game"
)

// GameHandler handles secret choice, guesses and the secret catalog
type GameHandler struct {
	engine  *game.Engine
	catalog *catalog.Service
}

// NewGameHandler creates a new game handler
func NewGameHandler(engine *game.Engine, catalog *catalog.Service) *GameHandler {
	return &GameHandler{
		engine:  engine,
		catalog: catalog,
	}
}

// ChooseSecret handles PUT /api/v1/players/me/secret
func (h *GameHandler) ChooseSecret(w http.ResponseWriter, r *http.Request) {
	playerID := middleware.MustGetPlayerID(r.Context())

	var req request.ChooseSecretRequest
	if err := decode(r, &req); err != nil {
		WriteError(w, err)
		return
	}

	player, err := h.engine.ChooseSecret(r.Context(), playerID, req.Secret)
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.PrivatePlayer(player))
}

// Guess handles POST /api/v1/guesses. Every outcome, including wrong
// guesses, is a 200 with the outcome in the body.
func (h *GameHandler) Guess(w http.ResponseWriter, r *http.Request) {
	playerID := middleware.MustGetPlayerID(r.Context())

	var req request.GuessRequest
	if err := decode(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	if req.TargetID == "" {
		WriteError(w, NewInvalidRequestError("target_id is required"))
		return
	}

	result, err := h.engine.AttemptGuess(r.Context(), playerID, model.PlayerID(req.TargetID), req.Guess)
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.GuessResponseFromModel(result))
}

// Secrets handles GET /api/v1/secrets?q=
func (h *GameHandler) Secrets(w http.ResponseWriter, r *http.Request) {
	secrets := h.catalog.Secrets()
	if q := r.URL.Query().Get("q"); q != "" {
		secrets = h.catalog.Search(q)
	}

	response.JSON(w, http.StatusOK, response.SecretsResponse{Secrets: secrets, Count: len(secrets)})
}
