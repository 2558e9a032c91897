package scoring

import (
	"errors"

	"github.com/mcoot/secretgame/internal/model"
)

// Rules holds the tunable scoring parameters for guesses
type Rules struct {
	// WinDelta is added to a guesser's balance on a correct guess
	WinDelta int
	// LoseDelta is subtracted from a guesser's balance on a wrong guess
	LoseDelta int
	// ZeroTargetOnReveal resets the revealed player's balance to 0
	ZeroTargetOnReveal bool
	// RemoveSecretOnReveal deletes the secret text once it is found
	RemoveSecretOnReveal bool
}

// DefaultRules returns the default scoring rules
func DefaultRules() Rules {
	return Rules{
		WinDelta:  3,
		LoseDelta: 1,
	}
}

// Validate checks the deltas are non-negative magnitudes
func (r Rules) Validate() error {
	if r.WinDelta < 0 {
		return errors.New("win delta must not be negative")
	}
	if r.LoseDelta < 0 {
		return errors.New("lose delta must not be negative")
	}
	return nil
}

// Evaluate classifies a guess against the target's current state. A revealed
// target is checked first so a removed secret still reports already revealed.
func (r Rules) Evaluate(target *model.Player, guess string) model.GuessOutcome {
	switch target.GuessState() {
	case model.GuessStateAlreadyRevealed:
		return model.OutcomeAlreadyRevealed
	case model.GuessStateNoSecretSet:
		return model.OutcomeNoSecretSet
	}
	if guess == *target.Secret {
		return model.OutcomeCorrect
	}
	return model.OutcomeIncorrect
}

// Delta returns the guesser's balance change for an outcome
func (r Rules) Delta(outcome model.GuessOutcome) int {
	switch outcome {
	case model.OutcomeCorrect:
		return r.WinDelta
	case model.OutcomeIncorrect:
		return -r.LoseDelta
	default:
		return 0
	}
}
