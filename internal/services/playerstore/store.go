package playerstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mcoot/secretgame/internal/dependencies/clock"
	"github.com/mcoot/secretgame/internal/model"
	"github.com/mcoot/secretgame/internal/storage"
)

// Strategy selects how a reveal and its payment are made atomic
type Strategy string

const (
	// StrategyTransaction uses the backend's multi-record transaction,
	// falling back to the intent log when the backend has none
	StrategyTransaction Strategy = "transaction"
	// StrategyIntentLog always uses the compensating intent log
	StrategyIntentLog Strategy = "intent_log"
)

// Config holds configuration for the player store
type Config struct {
	// PointsFloor clamps negative deltas. Nil leaves balances unbounded.
	PointsFloor *int
	Strategy    Strategy
}

// DefaultConfig returns default player store configuration
func DefaultConfig() Config {
	return Config{
		PointsFloor: model.Ptr(0),
		Strategy:    StrategyTransaction,
	}
}

// Store is the authoritative player record service. Durable state lives in
// the storage backend; an in-memory mirror serves reads and is reconciled
// from the backend's change feed by version.
type Store struct {
	storage storage.Storage
	clock   clock.Clock
	logger  *slog.Logger
	cfg     Config

	mu     sync.RWMutex
	mirror map[model.PlayerID]*model.Player

	subMu sync.Mutex
	sub   *subscription
}

type subscription struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a new player store
func New(storage storage.Storage, clock clock.Clock, logger *slog.Logger, cfg Config) *Store {
	if cfg.Strategy == "" {
		cfg.Strategy = DefaultConfig().Strategy
	}
	return &Store{
		storage: storage,
		clock:   clock,
		logger:  logger,
		cfg:     cfg,
		mirror:  make(map[model.PlayerID]*model.Player),
	}
}

// Upsert creates or merges a player record. The mirror is updated before the
// durable write and is kept if that write fails.
func (s *Store) Upsert(ctx context.Context, id model.PlayerID, update model.PlayerUpdate) (*model.Player, error) {
	s.applyLocal(id, func(p *model.Player) { update.ApplyTo(p) }, true)

	p, err := s.storage.UpsertPlayer(ctx, id, update)
	if err != nil {
		return nil, s.writeError("upsert player", id, err)
	}
	s.reconcile(p)
	return p.Clone(), nil
}

// ChangePoints atomically adds delta to a balance. Negative deltas are
// clamped to the configured floor.
func (s *Store) ChangePoints(ctx context.Context, id model.PlayerID, delta int) (*model.Player, error) {
	var floor *int
	if delta < 0 {
		floor = s.cfg.PointsFloor
	}

	s.applyLocal(id, func(p *model.Player) {
		p.AddPoints(delta, floor)
	}, false)

	p, err := s.storage.ChangePoints(ctx, id, delta, floor)
	if err != nil {
		return nil, s.writeError("change points", id, err)
	}
	s.reconcile(p)
	return p.Clone(), nil
}

// ChargeWrongGuess debits the guesser for a wrong guess, but only while the
// target is unrevealed and still holds charge.TargetSecret. Otherwise it
// fails with model.ErrAlreadyRevealed, model.ErrNoSecretSet or
// model.ErrSecretMismatch and nothing is charged. The write is durable first.
func (s *Store) ChargeWrongGuess(ctx context.Context, charge model.WrongGuess) (*model.Player, error) {
	if charge.Delta < 0 {
		charge.Floor = s.cfg.PointsFloor
	}

	p, err := s.storage.ChargeWrongGuess(ctx, charge)
	if err != nil {
		return nil, s.writeError("charge wrong guess", charge.GuesserID, err)
	}
	s.reconcile(p)
	return p.Clone(), nil
}

// MarkRevealed flags a player's secret as found. Repeat calls keep the first
// attribution and report changed=false.
func (s *Store) MarkRevealed(ctx context.Context, id model.PlayerID, mark model.RevealMark) (*model.Player, bool, error) {
	p, changed, err := s.storage.MarkRevealed(ctx, id, mark)
	if err != nil {
		return nil, false, s.writeError("mark revealed", id, err)
	}
	s.reconcile(p)
	return p.Clone(), changed, nil
}

// Get returns the mirrored record for id
func (s *Store) Get(id model.PlayerID) (*model.Player, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.mirror[id]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

// All returns every mirrored record ordered by creation time
func (s *Store) All() []*model.Player {
	s.mu.RLock()
	players := make([]*model.Player, 0, len(s.mirror))
	for _, p := range s.mirror {
		players = append(players, p.Clone())
	}
	s.mu.RUnlock()

	model.SortByCreation(players)
	return players
}

// Leaderboard returns every mirrored record ordered by points
func (s *Store) Leaderboard() []*model.Player {
	players := s.All()
	model.SortByPoints(players)
	return players
}

// Fetch reads a record from the backend and reconciles the mirror with it
func (s *Store) Fetch(ctx context.Context, id model.PlayerID) (*model.Player, error) {
	p, err := s.storage.GetPlayer(ctx, id)
	if err != nil {
		return nil, err
	}
	s.reconcile(p)
	return p, nil
}

// Subscribe starts the live feed. onChange receives an initial snapshot and
// then one per backend change. Only one subscription is active: a new call
// cancels the previous feed and waits for it to stop. The returned function
// cancels this feed.
func (s *Store) Subscribe(ctx context.Context, onChange func(model.Snapshot)) (func(), error) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	s.stopLocked()

	subCtx, cancel := context.WithCancel(ctx)

	// Watch before listing so no change falls between the two
	changes, err := s.storage.Watch(subCtx)
	if err != nil {
		cancel()
		return nil, err
	}
	players, err := s.storage.ListPlayers(subCtx)
	if err != nil {
		cancel()
		return nil, err
	}
	for _, p := range players {
		s.reconcile(p)
	}

	sub := &subscription{cancel: cancel, done: make(chan struct{})}
	s.sub = sub

	onChange(s.snapshot(nil))

	go func() {
		defer close(sub.done)
		for {
			select {
			case <-subCtx.Done():
				return
			case change, ok := <-changes:
				if !ok {
					if subCtx.Err() == nil {
						s.logger.Warn("player change feed closed")
					}
					return
				}
				if s.reconcile(change.Player) {
					onChange(s.snapshot(change.Player))
				}
			}
		}
	}()

	s.logger.Info("player subscription started", slog.Int("player_count", len(players)))
	return cancel, nil
}

// Close stops the active subscription, if any
func (s *Store) Close() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.stopLocked()
}

func (s *Store) stopLocked() {
	if s.sub == nil {
		return
	}
	s.sub.cancel()
	<-s.sub.done
	s.sub = nil
}

func (s *Store) snapshot(changed *model.Player) model.Snapshot {
	return model.Snapshot{
		Players: s.All(),
		Changed: changed.Clone(),
		At:      s.clock.Now(),
	}
}

// reconcile replaces the mirrored record when the remote one is strictly
// newer. It reports whether the mirror changed.
func (s *Store) reconcile(remote *model.Player) bool {
	if remote == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	local, ok := s.mirror[remote.ID]
	if ok && remote.Version <= local.Version {
		return false
	}
	s.mirror[remote.ID] = remote.Clone()
	return true
}

// applyLocal mutates the mirrored record in place, keeping its version so
// the backend's echo supersedes it. Missing records are created with
// defaults only when create is set.
func (s *Store) applyLocal(id model.PlayerID, fn func(p *model.Player), create bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.mirror[id]
	if !ok {
		if !create {
			return
		}
		now := s.clock.Now()
		p = &model.Player{ID: id, Points: model.DefaultStartingPoints, CreatedAt: now, UpdatedAt: now}
		s.mirror[id] = p
	}
	fn(p)
}

// writeError passes domain errors through and wraps everything else as a
// retriable write failure
func (s *Store) writeError(op string, id model.PlayerID, err error) error {
	if isDomainError(err) {
		return err
	}
	s.logger.Error("durable write failed",
		slog.String("op", op),
		slog.String("player_id", string(id)),
		slog.String("error", err.Error()),
	)
	return fmt.Errorf("%s: %w: %w", op, model.ErrWriteFailure, err)
}

func isDomainError(err error) bool {
	return errors.Is(err, model.ErrPlayerNotFound) ||
		errors.Is(err, model.ErrAlreadyRevealed) ||
		errors.Is(err, model.ErrNoSecretSet) ||
		errors.Is(err, model.ErrSecretMismatch) ||
		errors.Is(err, model.ErrWriteFailure)
}
