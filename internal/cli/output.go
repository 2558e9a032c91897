package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Output handles formatting output based on the configured format
type Output struct {
	format string
}

// NewOutput creates a new Output formatter
func NewOutput(format string) *Output {
	return &Output{format: format}
}

// Print outputs data in the configured format
func (o *Output) Print(data any) {
	if o.format == "json" {
		o.printJSON(data)
	} else {
		o.printText(data)
	}
}

// PrintError outputs an error
func (o *Output) PrintError(err error) {
	if o.format == "json" {
		errData := map[string]any{
			"error": map[string]string{
				"message": err.Error(),
			},
		}
		data, _ := json.Marshal(errData)
		fmt.Fprintln(os.Stderr, string(data))
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
	}
}

// PrintMessage outputs a simple message
func (o *Output) PrintMessage(msg string) {
	if o.format == "json" {
		data, _ := json.Marshal(map[string]string{"message": msg})
		fmt.Println(string(data))
	} else {
		fmt.Println(msg)
	}
}

func (o *Output) printJSON(data any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(data)
}

func (o *Output) printText(data any) {
	switch v := data.(type) {
	case Player:
		o.printPlayer(v)
	case AuthResult:
		o.printAuthResult(v)
	case PlayerList:
		o.printPlayerList(v)
	case Leaderboard:
		o.printLeaderboard(v)
	case GuessResult:
		o.printGuessResult(v)
	case SecretList:
		o.printSecretList(v)
	case HealthResult:
		o.printHealthResult(v)
	default:
		// Fallback to JSON for unknown types
		o.printJSON(data)
	}
}

// Player response type (matches API)
type Player struct {
	ID         string  `json:"id"`
	Username   string  `json:"username"`
	IsGuest    bool    `json:"is_guest"`
	Points     int     `json:"points"`
	HasSecret  bool    `json:"has_secret"`
	Secret     *string `json:"secret,omitempty"`
	Revealed   bool    `json:"revealed"`
	RevealedBy string  `json:"revealed_by,omitempty"`
}

// AuthResult combines player and token
type AuthResult struct {
	Player       Player `json:"player"`
	SessionToken string `json:"session_token"`
}

// PlayerList response type
type PlayerList struct {
	Players []Player `json:"players"`
}

// Leaderboard response type
type Leaderboard struct {
	Entries []LeaderboardEntry `json:"entries"`
}

// LeaderboardEntry response type
type LeaderboardEntry struct {
	Rank     int    `json:"rank"`
	PlayerID string `json:"player_id"`
	Username string `json:"username"`
	Points   int    `json:"points"`
	Revealed bool   `json:"revealed"`
}

// GuessResult response type
type GuessResult struct {
	Outcome     string `json:"outcome"`
	Message     string `json:"message"`
	PointsDelta int    `json:"points_delta"`
	Guesser     Player `json:"guesser"`
	Target      Player `json:"target"`
}

// SecretList response type
type SecretList struct {
	Secrets []string `json:"secrets"`
	Count   int      `json:"count"`
}

// HealthResult response type
type HealthResult struct {
	Status  string `json:"status"`
	Storage string `json:"storage"`
	Players int    `json:"players"`
	Clients int    `json:"clients"`
}

func (o *Output) printPlayer(p Player) {
	guestStr := "no"
	if p.IsGuest {
		guestStr = "yes"
	}
	fmt.Printf("Player: %s (%s)\n", p.Username, p.ID)
	fmt.Printf("Guest: %s\n", guestStr)
	fmt.Printf("Points: %d\n", p.Points)
	fmt.Printf("Secret: %s\n", secretLabel(p))
}

func (o *Output) printAuthResult(a AuthResult) {
	o.printPlayer(a.Player)
	fmt.Printf("Token: %s\n", a.SessionToken)
}

func (o *Output) printPlayerList(l PlayerList) {
	fmt.Printf("Players (%d):\n", len(l.Players))
	for _, p := range l.Players {
		fmt.Printf("  - %s (%s) %d pts, secret: %s\n", p.Username, p.ID, p.Points, secretLabel(p))
	}
}

func (o *Output) printLeaderboard(l Leaderboard) {
	for _, e := range l.Entries {
		revealed := ""
		if e.Revealed {
			revealed = " [revealed]"
		}
		fmt.Printf("%3d. %-20s %4d pts%s\n", e.Rank, e.Username, e.Points, revealed)
	}
}

func (o *Output) printGuessResult(g GuessResult) {
	fmt.Printf("Outcome: %s\n", g.Outcome)
	if g.Message != "" {
		fmt.Println(g.Message)
	}
	if g.PointsDelta != 0 {
		fmt.Printf("Points: %+d (now %d)\n", g.PointsDelta, g.Guesser.Points)
	}
}

func (o *Output) printSecretList(l SecretList) {
	fmt.Println(strings.Join(l.Secrets, "\n"))
}

func (o *Output) printHealthResult(h HealthResult) {
	fmt.Printf("Status: %s\n", h.Status)
	if h.Storage != "" {
		fmt.Printf("Storage: %s\n", h.Storage)
		fmt.Printf("Players: %d\n", h.Players)
		fmt.Printf("Live clients: %d\n", h.Clients)
	}
}

func secretLabel(p Player) string {
	switch {
	case p.Secret != nil && p.Revealed:
		return *p.Secret + " (revealed)"
	case p.Secret != nil:
		return *p.Secret
	case p.HasSecret:
		return "hidden"
	default:
		return "none"
	}
}
