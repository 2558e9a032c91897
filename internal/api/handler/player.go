package handler

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/mcoot/secretgame/internal/api/middleware"
	"github.com/mcoot/secretgame/internal/api/request"
	"github.com/mcoot/secretgame/internal/api/response"
	"github.com/mcoot/secretgame/internal/model"
	"github.com/mcoot/secretgame/internal/services/auth"
	"github.com/mcoot/secretgame/internal/services/playerstore"
)

// PlayerHandler handles player and session endpoints
type PlayerHandler struct {
	authService *auth.Service
	players     *playerstore.Store
}

// NewPlayerHandler creates a new player handler
func NewPlayerHandler(authService *auth.Service, players *playerstore.Store) *PlayerHandler {
	return &PlayerHandler{
		authService: authService,
		players:     players,
	}
}

// CreateGuest handles POST /api/v1/players/guest. A blank display name gets
// a generated one.
func (h *PlayerHandler) CreateGuest(w http.ResponseWriter, r *http.Request) {
	var req request.CreateGuestRequest
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			WriteError(w, err)
			return
		}
	}

	session, err := h.authService.SignInAnonymous(r.Context(), req.DisplayName)
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusCreated, response.AuthResponseFromSession(session))
}

// Register handles POST /api/v1/players/register
func (h *PlayerHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req request.RegisterRequest
	if err := decode(r, &req); err != nil {
		WriteError(w, err)
		return
	}

	if req.Username == "" {
		WriteError(w, NewInvalidRequestError("username is required"))
		return
	}
	if req.Password == "" {
		WriteError(w, NewInvalidRequestError("password is required"))
		return
	}

	session, err := h.authService.Register(r.Context(), req.Username, req.Password, req.DisplayName)
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusCreated, response.AuthResponseFromSession(session))
}

// Login handles POST /api/v1/players/login
func (h *PlayerHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req request.LoginRequest
	if err := decode(r, &req); err != nil {
		WriteError(w, err)
		return
	}

	if req.Username == "" {
		WriteError(w, NewInvalidRequestError("username is required"))
		return
	}
	if req.Password == "" {
		WriteError(w, NewInvalidRequestError("password is required"))
		return
	}

	session, err := h.authService.SignInWithCredential(r.Context(), req.Username, req.Password)
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.AuthResponseFromSession(session))
}

// Logout handles POST /api/v1/players/logout
func (h *PlayerHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.authService.SignOut(middleware.GetToken(r.Context()))
	response.NoContent(w)
}

// GetMe handles GET /api/v1/players/me
func (h *PlayerHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	playerID := middleware.MustGetPlayerID(r.Context())

	player, err := h.players.Fetch(r.Context(), playerID)
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.PrivatePlayer(player))
}

// List handles GET /api/v1/players
func (h *PlayerHandler) List(w http.ResponseWriter, r *http.Request) {
	viewer := middleware.MustGetPlayerID(r.Context())

	players := h.players.All()
	resp := response.PlayersResponse{Players: make([]response.Player, len(players))}
	for i, p := range players {
		resp.Players[i] = response.PlayerFor(p, viewer)
	}

	response.JSON(w, http.StatusOK, resp)
}

// Get handles GET /api/v1/players/{id}
func (h *PlayerHandler) Get(w http.ResponseWriter, r *http.Request) {
	viewer := middleware.MustGetPlayerID(r.Context())
	id := model.PlayerID(mux.Vars(r)["id"])

	player, ok := h.players.Get(id)
	if !ok {
		var err error
		if player, err = h.players.Fetch(r.Context(), id); err != nil {
			WriteError(w, err)
			return
		}
	}

	response.JSON(w, http.StatusOK, response.PlayerFor(player, viewer))
}

// Leaderboard handles GET /api/v1/leaderboard
func (h *PlayerHandler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, response.LeaderboardFromModel(h.players.Leaderboard()))
}
