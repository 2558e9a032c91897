package model

import (
	"sort"
	"time"
)

// Reveal is one "reveal + pay" event: the target's secret is marked found,
// attributed to the guesser, and the guesser is credited.
type Reveal struct {
	ID             string    `json:"id"`
	GuesserID      PlayerID  `json:"guesser_id"`
	TargetID       PlayerID  `json:"target_id"`
	ExpectedSecret string    `json:"expected_secret"`
	WinDelta       int       `json:"win_delta"`
	ZeroTarget     bool      `json:"zero_target"`
	ClearSecret    bool      `json:"clear_secret"`
	At             time.Time `json:"at"`
}

// Mark returns the markRevealed arguments for this reveal
func (r Reveal) Mark() RevealMark {
	expected := r.ExpectedSecret
	return RevealMark{
		By:             r.GuesserID,
		At:             r.At,
		ClearSecret:    r.ClearSecret,
		ExpectedSecret: &expected,
	}
}

// RevealResult holds both records after a settled reveal
type RevealResult struct {
	Guesser *Player
	Target  *Player
}

// IntentStage tracks how far an intent-logged reveal has progressed
type IntentStage string

const (
	IntentPending  IntentStage = "pending"  // nothing applied yet
	IntentRevealed IntentStage = "revealed" // target marked, guesser not yet paid
	IntentPaid     IntentStage = "paid"     // guesser paid, target penalty outstanding
)

// RevealIntent is the compensating-action log entry written before the
// sub-writes of a reveal when no multi-record transaction is available
type RevealIntent struct {
	Reveal    Reveal      `json:"reveal"`
	Stage     IntentStage `json:"stage"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// SortIntents orders intents oldest first
func SortIntents(intents []*RevealIntent) {
	sort.SliceStable(intents, func(i, j int) bool {
		return intents[i].CreatedAt.Before(intents[j].CreatedAt)
	})
}
