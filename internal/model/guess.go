package model

import "time"

// GuessOutcome is the result category of a guess
type GuessOutcome string

const (
	OutcomeCorrect         GuessOutcome = "correct"
	OutcomeIncorrect       GuessOutcome = "incorrect"
	OutcomeNoSecretSet     GuessOutcome = "no_secret_set"
	OutcomeAlreadyRevealed GuessOutcome = "already_revealed"
)

// Scored reports whether the outcome changed any balance
func (o GuessOutcome) Scored() bool {
	return o == OutcomeCorrect || o == OutcomeIncorrect
}

// GuessAttempt is one validation request. It is never persisted.
type GuessAttempt struct {
	GuesserID PlayerID
	TargetID  PlayerID
	Text      string
	At        time.Time
}

// GuessResult is returned to the presentation layer after a guess
type GuessResult struct {
	Outcome     GuessOutcome
	Message     string
	PointsDelta int // applied to the guesser

	Guesser *Player
	Target  *Player
}

// WrongGuess is the penalty for an incorrect guess. It only applies while the
// target is unrevealed and still holds TargetSecret, the secret the guess was
// compared against.
type WrongGuess struct {
	GuesserID    PlayerID
	TargetID     PlayerID
	TargetSecret string
	Delta        int
	Floor        *int // nil leaves the balance unbounded
	At           time.Time
}
