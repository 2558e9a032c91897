package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mcoot/secretgame/internal/dependencies/clock"
	"github.com/mcoot/secretgame/internal/dependencies/random"
	"github.com/mcoot/secretgame/internal/model"
	"github.com/mcoot/secretgame/internal/services/playerstore"
	"github.com/mcoot/secretgame/internal/services/scoring"
)

// maxEvaluations bounds re-evaluation when a target changes its secret
// while a guess is being settled
const maxEvaluations = 3

// Engine is the sole authority on guess outcomes and point transfers
type Engine struct {
	players *playerstore.Store
	rules   scoring.Rules
	clock   clock.Clock
	random  random.Random
	logger  *slog.Logger
}

// NewEngine creates a new guess engine
func NewEngine(
	players *playerstore.Store,
	rules scoring.Rules,
	clock clock.Clock,
	random random.Random,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		players: players,
		rules:   rules,
		clock:   clock,
		random:  random,
		logger:  logger,
	}
}

// AttemptGuess validates a guess of the target's secret and applies the
// resulting point transfer. Informational outcomes (no secret, already
// revealed) are results, not errors. Write failures are returned wrapping
// model.ErrWriteFailure and are not retried.
func (e *Engine) AttemptGuess(ctx context.Context, guesserID, targetID model.PlayerID, text string) (*model.GuessResult, error) {
	attempt := model.GuessAttempt{
		GuesserID: guesserID,
		TargetID:  targetID,
		Text:      text,
		At:        e.clock.Now(),
	}
	if attempt.GuesserID == attempt.TargetID {
		return nil, model.ErrSelfGuess
	}

	guesser, err := e.players.Fetch(ctx, attempt.GuesserID)
	if err != nil {
		return nil, err
	}

	for range maxEvaluations {
		target, err := e.players.Fetch(ctx, attempt.TargetID)
		if err != nil {
			return nil, err
		}

		outcome := e.rules.Evaluate(target, attempt.Text)
		switch outcome {
		case model.OutcomeNoSecretSet, model.OutcomeAlreadyRevealed:
			return e.finish(attempt, outcome, guesser, guesser, target), nil

		case model.OutcomeIncorrect:
			after, err := e.players.ChargeWrongGuess(ctx, model.WrongGuess{
				GuesserID:    attempt.GuesserID,
				TargetID:     attempt.TargetID,
				TargetSecret: *target.Secret,
				Delta:        e.rules.Delta(outcome),
				At:           attempt.At,
			})
			switch {
			case err == nil:
				return e.finish(attempt, outcome, guesser, after, target), nil
			case errors.Is(err, model.ErrAlreadyRevealed):
				return e.revealedElsewhere(ctx, attempt, guesser)
			case errors.Is(err, model.ErrSecretMismatch), errors.Is(err, model.ErrNoSecretSet):
				e.logger.Debug("target secret changed during guess, re-evaluating",
					slog.String("target_id", string(attempt.TargetID)),
				)
				continue
			default:
				return nil, err
			}

		case model.OutcomeCorrect:
			result, err := e.players.SettleReveal(ctx, e.reveal(attempt))
			switch {
			case err == nil:
				return e.finish(attempt, outcome, guesser, result.Guesser, result.Target), nil
			case errors.Is(err, model.ErrAlreadyRevealed):
				return e.revealedElsewhere(ctx, attempt, guesser)
			case errors.Is(err, model.ErrSecretMismatch), errors.Is(err, model.ErrNoSecretSet):
				e.logger.Debug("target secret changed during guess, re-evaluating",
					slog.String("target_id", string(attempt.TargetID)),
				)
				continue
			default:
				return nil, err
			}
		}
	}

	return nil, fmt.Errorf("guess on %s kept racing secret changes: %w", attempt.TargetID, model.ErrSecretMismatch)
}

// ChooseSecret sets a player's secret. Only allowed while the player's
// current secret has not been revealed.
func (e *Engine) ChooseSecret(ctx context.Context, playerID model.PlayerID, text string) (*model.Player, error) {
	if strings.TrimSpace(text) == "" {
		return nil, model.ErrInvalidSecret
	}

	p, err := e.players.Fetch(ctx, playerID)
	if err != nil {
		return nil, err
	}
	if p.Revealed {
		return nil, model.ErrSecretRevealed
	}

	// Only the secret field is written so a concurrent reveal is never undone
	updated, err := e.players.Upsert(ctx, playerID, model.PlayerUpdate{Secret: model.Ptr(text)})
	if err != nil {
		return nil, err
	}

	e.logger.Info("secret chosen", slog.String("player_id", string(playerID)))
	return updated, nil
}

// revealedElsewhere reports a target another guesser revealed while this
// guess was being settled. Nothing was charged.
func (e *Engine) revealedElsewhere(ctx context.Context, attempt model.GuessAttempt, guesser *model.Player) (*model.GuessResult, error) {
	target, err := e.players.Fetch(ctx, attempt.TargetID)
	if err != nil {
		return nil, err
	}
	return e.finish(attempt, model.OutcomeAlreadyRevealed, guesser, guesser, target), nil
}

func (e *Engine) reveal(attempt model.GuessAttempt) model.Reveal {
	return model.Reveal{
		ID:             e.random.UUID(),
		GuesserID:      attempt.GuesserID,
		TargetID:       attempt.TargetID,
		ExpectedSecret: attempt.Text,
		WinDelta:       e.rules.Delta(model.OutcomeCorrect),
		ZeroTarget:     e.rules.ZeroTargetOnReveal,
		ClearSecret:    e.rules.RemoveSecretOnReveal,
		At:             attempt.At,
	}
}

func (e *Engine) finish(attempt model.GuessAttempt, outcome model.GuessOutcome, before, guesser, target *model.Player) *model.GuessResult {
	delta := guesser.Points - before.Points
	if !outcome.Scored() {
		delta = 0
	}

	e.logger.Info("guess evaluated",
		slog.String("guesser_id", string(attempt.GuesserID)),
		slog.String("target_id", string(attempt.TargetID)),
		slog.String("outcome", string(outcome)),
		slog.Int("points_delta", delta),
	)

	return &model.GuessResult{
		Outcome:     outcome,
		Message:     message(outcome, target, delta),
		PointsDelta: delta,
		Guesser:     guesser,
		Target:      target,
	}
}

func message(outcome model.GuessOutcome, target *model.Player, delta int) string {
	name := target.Username
	if name == "" {
		name = string(target.ID)
	}
	switch outcome {
	case model.OutcomeCorrect:
		return fmt.Sprintf("Correct! You found %s's secret (%+d points)", name, delta)
	case model.OutcomeIncorrect:
		return fmt.Sprintf("Wrong guess (%+d points)", delta)
	case model.OutcomeNoSecretSet:
		return fmt.Sprintf("%s has not chosen a secret yet", name)
	case model.OutcomeAlreadyRevealed:
		return fmt.Sprintf("%s's secret has already been found", name)
	default:
		return ""
	}
}
