package playerstore

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mcoot/secretgame/internal/model"
	"github.com/mcoot/secretgame/internal/storage"
)

// SettleReveal atomically marks the target revealed and pays the guesser.
// It fails with model.ErrAlreadyRevealed, model.ErrNoSecretSet or
// model.ErrSecretMismatch when the target is no longer open with the
// expected secret.
func (s *Store) SettleReveal(ctx context.Context, reveal model.Reveal) (*model.RevealResult, error) {
	if tx, ok := s.storage.(storage.Transactor); ok && s.cfg.Strategy == StrategyTransaction {
		result, err := tx.RevealAndPay(ctx, reveal)
		if err != nil {
			return nil, s.writeError("reveal and pay", reveal.TargetID, err)
		}
		s.reconcile(result.Target)
		s.reconcile(result.Guesser)
		return result, nil
	}

	now := s.clock.Now()
	intent := &model.RevealIntent{
		Reveal:    reveal,
		Stage:     model.IntentPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.storage.SaveRevealIntent(ctx, intent); err != nil {
		return nil, s.writeError("save reveal intent", reveal.TargetID, err)
	}
	return s.applyIntent(ctx, intent, false)
}

// RecoverIntents completes reveals left unfinished by a crash. It returns
// the number of intents completed.
func (s *Store) RecoverIntents(ctx context.Context) (int, error) {
	intents, err := s.storage.ListRevealIntents(ctx)
	if err != nil {
		return 0, err
	}

	completed := 0
	var errs []error
	for _, intent := range intents {
		_, err := s.applyIntent(ctx, intent, true)
		switch {
		case err == nil:
			completed++
		case isDomainError(err) && !errors.Is(err, model.ErrWriteFailure):
			// Target changed under us; the intent was discarded
		default:
			errs = append(errs, err)
		}
	}

	if len(intents) > 0 {
		s.logger.Info("reveal intents recovered",
			slog.Int("pending", len(intents)),
			slog.Int("completed", completed),
		)
	}
	return completed, errors.Join(errs...)
}

// applyIntent runs the remaining steps of an intent, saving progress after
// each one. Steps are replayed at least once: a crash between a step and
// its stage save repeats that step on recovery.
func (s *Store) applyIntent(ctx context.Context, intent *model.RevealIntent, recovering bool) (*model.RevealResult, error) {
	r := intent.Reveal
	result := &model.RevealResult{}

	if intent.Stage == model.IntentPending {
		target, changed, err := s.MarkRevealed(ctx, r.TargetID, r.Mark())
		if err != nil {
			if !errors.Is(err, model.ErrWriteFailure) {
				s.discardIntent(ctx, r.ID)
			}
			return nil, err
		}
		if !changed && !(recovering && revealedBy(target, r)) {
			s.discardIntent(ctx, r.ID)
			return nil, model.ErrAlreadyRevealed
		}
		result.Target = target
		if err := s.advance(ctx, intent, model.IntentRevealed); err != nil {
			return nil, err
		}
	}

	if intent.Stage == model.IntentRevealed {
		guesser, err := s.ChangePoints(ctx, r.GuesserID, r.WinDelta)
		if err != nil {
			return nil, err
		}
		result.Guesser = guesser
		if err := s.advance(ctx, intent, model.IntentPaid); err != nil {
			return nil, err
		}
	}

	if r.ZeroTarget {
		target, err := s.Upsert(ctx, r.TargetID, model.PlayerUpdate{Points: model.Ptr(0)})
		if err != nil {
			return nil, err
		}
		result.Target = target
	}

	if err := s.storage.DeleteRevealIntent(ctx, r.ID); err != nil {
		return nil, s.writeError("delete reveal intent", r.TargetID, err)
	}

	if err := s.fillResult(ctx, result, r); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) advance(ctx context.Context, intent *model.RevealIntent, stage model.IntentStage) error {
	intent.Stage = stage
	intent.UpdatedAt = s.clock.Now()
	if err := s.storage.SaveRevealIntent(ctx, intent); err != nil {
		return s.writeError("save reveal intent", intent.Reveal.TargetID, err)
	}
	return nil
}

func (s *Store) discardIntent(ctx context.Context, id string) {
	if err := s.storage.DeleteRevealIntent(ctx, id); err != nil {
		s.logger.Warn("failed to discard reveal intent",
			slog.String("reveal_id", id),
			slog.String("error", err.Error()),
		)
	}
}

// fillResult loads whichever records a resumed intent did not touch
func (s *Store) fillResult(ctx context.Context, result *model.RevealResult, r model.Reveal) error {
	var err error
	if result.Target == nil {
		if result.Target, err = s.Fetch(ctx, r.TargetID); err != nil {
			return err
		}
	}
	if result.Guesser == nil {
		if result.Guesser, err = s.Fetch(ctx, r.GuesserID); err != nil {
			return err
		}
	}
	return nil
}

// revealedBy reports whether target carries this reveal's own mark.
// Timestamps are compared to the microsecond, the coarsest backend precision.
func revealedBy(target *model.Player, r model.Reveal) bool {
	return target.Revealed &&
		target.RevealedBy == r.GuesserID &&
		target.RevealedAt != nil &&
		target.RevealedAt.Sub(r.At).Abs() <= time.Microsecond
}
