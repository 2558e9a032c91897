package response

import (
	"time"

	"github.com/mcoot/secretgame/internal/model"
	"github.com/mcoot/secretgame/internal/services/auth"
)

// Player represents a player in API responses. Secret is only filled for
// the player's own record, or once the secret has been revealed.
type Player struct {
	ID         string     `json:"id"`
	Username   string     `json:"username"`
	IsGuest    bool       `json:"is_guest"`
	Points     int        `json:"points"`
	HasSecret  bool       `json:"has_secret"`
	Secret     *string    `json:"secret,omitempty"`
	Revealed   bool       `json:"revealed"`
	RevealedBy string     `json:"revealed_by,omitempty"`
	RevealedAt *time.Time `json:"revealed_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// PublicPlayer converts a model.Player for other players to see
func PublicPlayer(p *model.Player) Player {
	resp := Player{
		ID:         string(p.ID),
		Username:   p.Username,
		IsGuest:    p.IsGuest,
		Points:     p.Points,
		HasSecret:  p.HasSecret(),
		Revealed:   p.Revealed,
		RevealedBy: string(p.RevealedBy),
		RevealedAt: p.RevealedAt,
		CreatedAt:  p.CreatedAt,
	}
	if p.Revealed && p.Secret != nil {
		resp.Secret = model.Ptr(*p.Secret)
	}
	return resp
}

// PrivatePlayer converts a model.Player for its owner
func PrivatePlayer(p *model.Player) Player {
	resp := PublicPlayer(p)
	if p.Secret != nil {
		resp.Secret = model.Ptr(*p.Secret)
	}
	return resp
}

// PlayerFor converts p as seen by viewer
func PlayerFor(p *model.Player, viewer model.PlayerID) Player {
	if p.ID == viewer {
		return PrivatePlayer(p)
	}
	return PublicPlayer(p)
}

// PublicPlayers converts a list of players for other players to see
func PublicPlayers(players []*model.Player) []Player {
	resp := make([]Player, len(players))
	for i, p := range players {
		resp[i] = PublicPlayer(p)
	}
	return resp
}

// AuthResponse is the response for authentication endpoints
type AuthResponse struct {
	Player       Player    `json:"player"`
	SessionToken string    `json:"session_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// AuthResponseFromSession creates an AuthResponse from a session
func AuthResponseFromSession(s *auth.Session) AuthResponse {
	return AuthResponse{
		Player:       PrivatePlayer(s.Player),
		SessionToken: s.Token,
		ExpiresAt:    s.ExpiresAt,
	}
}

// PlayersResponse is the response for listing players
type PlayersResponse struct {
	Players []Player `json:"players"`
}

// Snapshot is the live feed payload
type Snapshot struct {
	Players []Player  `json:"players"`
	Changed *Player   `json:"changed,omitempty"`
	At      time.Time `json:"at"`
}

// SnapshotFromModel converts a model.Snapshot, hiding unrevealed secrets
func SnapshotFromModel(s model.Snapshot) Snapshot {
	resp := Snapshot{
		Players: PublicPlayers(s.Players),
		At:      s.At,
	}
	if s.Changed != nil {
		changed := PublicPlayer(s.Changed)
		resp.Changed = &changed
	}
	return resp
}

// LeaderboardEntry is one ranked player
type LeaderboardEntry struct {
	Rank     int    `json:"rank"`
	PlayerID string `json:"player_id"`
	Username string `json:"username"`
	Points   int    `json:"points"`
	Revealed bool   `json:"revealed"`
}

// LeaderboardResponse is the response for the leaderboard endpoint
type LeaderboardResponse struct {
	Entries []LeaderboardEntry `json:"entries"`
}

// LeaderboardFromModel ranks players already ordered by points. Tied
// players share a rank.
func LeaderboardFromModel(players []*model.Player) LeaderboardResponse {
	entries := make([]LeaderboardEntry, len(players))
	for i, p := range players {
		rank := i + 1
		if i > 0 && p.Points == players[i-1].Points {
			rank = entries[i-1].Rank
		}
		entries[i] = LeaderboardEntry{
			Rank:     rank,
			PlayerID: string(p.ID),
			Username: p.Username,
			Points:   p.Points,
			Revealed: p.Revealed,
		}
	}
	return LeaderboardResponse{Entries: entries}
}

// GuessResponse is the response for a guess attempt
type GuessResponse struct {
	Outcome     string `json:"outcome"`
	Message     string `json:"message"`
	PointsDelta int    `json:"points_delta"`
	Guesser     Player `json:"guesser"`
	Target      Player `json:"target"`
}

// GuessResponseFromModel converts a model.GuessResult. The guesser sees
// their own record in full.
func GuessResponseFromModel(r *model.GuessResult) GuessResponse {
	return GuessResponse{
		Outcome:     string(r.Outcome),
		Message:     r.Message,
		PointsDelta: r.PointsDelta,
		Guesser:     PrivatePlayer(r.Guesser),
		Target:      PublicPlayer(r.Target),
	}
}

// SecretsResponse is the response for the secret catalog
type SecretsResponse struct {
	Secrets []string `json:"secrets"`
	Count   int      `json:"count"`
}

// HealthResponse is the response for the health endpoint
type HealthResponse struct {
	Status  string `json:"status"`
	Storage string `json:"storage"`
	Players int    `json:"players"`
	Clients int    `json:"clients"`
}
