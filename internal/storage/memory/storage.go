package memory

import (
	"context"
	"sync"
	"time"

	"github.com/mcoot/secretgame/internal/dependencies/clock"
	"github.com/mcoot/secretgame/internal/model"
	"github.com/mcoot/secretgame/internal/storage"
)

// watchBuffer is the per-watcher channel capacity
const watchBuffer = 256

// Storage is an in-memory implementation of the storage interface
type Storage struct {
	mu    sync.RWMutex
	clock clock.Clock

	players           map[model.PlayerID]*model.Player
	registeredPlayers map[model.PlayerID]*model.RegisteredPlayer
	usernameIndex     map[string]model.PlayerID
	secretPool        []string
	intents           map[string]*model.RevealIntent

	watchMu  sync.Mutex
	watchers map[*watcher]struct{}
}

type watcher struct {
	ch   chan model.PlayerChange
	done <-chan struct{}
}

// New creates a new in-memory storage instance
func New(clk clock.Clock) *Storage {
	return &Storage{
		clock:             clk,
		players:           make(map[model.PlayerID]*model.Player),
		registeredPlayers: make(map[model.PlayerID]*model.RegisteredPlayer),
		usernameIndex:     make(map[string]model.PlayerID),
		intents:           make(map[string]*model.RevealIntent),
		watchers:          make(map[*watcher]struct{}),
	}
}

// Ensure Storage implements the interfaces
var (
	_ storage.Storage    = (*Storage)(nil)
	_ storage.Transactor = (*Storage)(nil)
)

// Player operations

func (s *Storage) UpsertPlayer(ctx context.Context, id model.PlayerID, update model.PlayerUpdate) (*model.Player, error) {
	s.mu.Lock()
	now := s.clock.Now()
	kind := model.ChangeUpdated
	p, ok := s.players[id]
	if !ok {
		kind = model.ChangeCreated
		p = &model.Player{
			ID:        id,
			Points:    model.DefaultStartingPoints,
			CreatedAt: now,
		}
		s.players[id] = p
	}
	update.ApplyTo(p)
	s.touch(p, now)
	out := p.Clone()
	s.mu.Unlock()

	s.publish(model.PlayerChange{Kind: kind, Player: out.Clone()})
	return out, nil
}

func (s *Storage) GetPlayer(ctx context.Context, id model.PlayerID) (*model.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.players[id]
	if !ok {
		return nil, model.ErrPlayerNotFound
	}
	return p.Clone(), nil
}

func (s *Storage) ListPlayers(ctx context.Context) ([]*model.Player, error) {
	s.mu.RLock()
	players := make([]*model.Player, 0, len(s.players))
	for _, p := range s.players {
		players = append(players, p.Clone())
	}
	s.mu.RUnlock()

	model.SortByCreation(players)
	return players, nil
}

func (s *Storage) ChangePoints(ctx context.Context, id model.PlayerID, delta int, floor *int) (*model.Player, error) {
	s.mu.Lock()
	p, ok := s.players[id]
	if !ok {
		s.mu.Unlock()
		return nil, model.ErrPlayerNotFound
	}
	p.AddPoints(delta, floor)
	s.touch(p, s.clock.Now())
	out := p.Clone()
	s.mu.Unlock()

	s.publish(model.PlayerChange{Kind: model.ChangeUpdated, Player: out.Clone()})
	return out, nil
}

func (s *Storage) MarkRevealed(ctx context.Context, id model.PlayerID, mark model.RevealMark) (*model.Player, bool, error) {
	s.mu.Lock()
	p, ok := s.players[id]
	if !ok {
		s.mu.Unlock()
		return nil, false, model.ErrPlayerNotFound
	}
	changed, err := p.ApplyMark(mark)
	if err != nil {
		s.mu.Unlock()
		return nil, false, err
	}
	if !changed {
		out := p.Clone()
		s.mu.Unlock()
		return out, false, nil
	}
	s.touch(p, mark.At)
	out := p.Clone()
	s.mu.Unlock()

	s.publish(model.PlayerChange{Kind: model.ChangeUpdated, Player: out.Clone()})
	return out, true, nil
}

// RevealAndPay settles a reveal under the storage lock
func (s *Storage) RevealAndPay(ctx context.Context, reveal model.Reveal) (*model.RevealResult, error) {
	s.mu.Lock()
	target, ok := s.players[reveal.TargetID]
	if !ok {
		s.mu.Unlock()
		return nil, model.ErrPlayerNotFound
	}
	guesser, ok := s.players[reveal.GuesserID]
	if !ok {
		s.mu.Unlock()
		return nil, model.ErrPlayerNotFound
	}

	if err := target.CheckRevealable(reveal.ExpectedSecret); err != nil {
		s.mu.Unlock()
		return nil, err
	}

	if _, err := target.ApplyMark(reveal.Mark()); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if reveal.ZeroTarget {
		target.Points = 0
	}
	s.touch(target, reveal.At)

	guesser.Points += reveal.WinDelta
	s.touch(guesser, reveal.At)

	result := &model.RevealResult{Guesser: guesser.Clone(), Target: target.Clone()}
	s.mu.Unlock()

	s.publish(
		model.PlayerChange{Kind: model.ChangeUpdated, Player: result.Target.Clone()},
		model.PlayerChange{Kind: model.ChangeUpdated, Player: result.Guesser.Clone()},
	)
	return result, nil
}

// ChargeWrongGuess applies a wrong-guess penalty under the storage lock
func (s *Storage) ChargeWrongGuess(ctx context.Context, charge model.WrongGuess) (*model.Player, error) {
	s.mu.Lock()
	target, ok := s.players[charge.TargetID]
	if !ok {
		s.mu.Unlock()
		return nil, model.ErrPlayerNotFound
	}
	guesser, ok := s.players[charge.GuesserID]
	if !ok {
		s.mu.Unlock()
		return nil, model.ErrPlayerNotFound
	}
	if err := target.CheckRevealable(charge.TargetSecret); err != nil {
		s.mu.Unlock()
		return nil, err
	}

	guesser.AddPoints(charge.Delta, charge.Floor)
	s.touch(guesser, charge.At)
	out := guesser.Clone()
	s.mu.Unlock()

	s.publish(model.PlayerChange{Kind: model.ChangeUpdated, Player: out.Clone()})
	return out, nil
}

// Watch returns a feed of player changes until ctx is done
func (s *Storage) Watch(ctx context.Context) (<-chan model.PlayerChange, error) {
	w := &watcher{
		ch:   make(chan model.PlayerChange, watchBuffer),
		done: ctx.Done(),
	}

	s.watchMu.Lock()
	s.watchers[w] = struct{}{}
	s.watchMu.Unlock()

	go func() {
		<-ctx.Done()
		s.watchMu.Lock()
		delete(s.watchers, w)
		close(w.ch)
		s.watchMu.Unlock()
	}()

	return w.ch, nil
}

// WatcherCount returns the number of active watch feeds
func (s *Storage) WatcherCount() int {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	return len(s.watchers)
}

// publish delivers changes to every watcher in order. Must not be called
// with s.mu held.
func (s *Storage) publish(changes ...model.PlayerChange) {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	for w := range s.watchers {
		for _, c := range changes {
			select {
			case w.ch <- c:
			case <-w.done:
			}
		}
	}
}

func (s *Storage) touch(p *model.Player, at time.Time) {
	p.UpdatedAt = at
	p.Version++
}

// Registered player operations

func (s *Storage) SaveRegisteredPlayer(ctx context.Context, rp *model.RegisteredPlayer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *rp
	s.registeredPlayers[rp.PlayerID] = &c
	s.usernameIndex[rp.Username] = rp.PlayerID
	return nil
}

func (s *Storage) GetRegisteredPlayer(ctx context.Context, playerID model.PlayerID) (*model.RegisteredPlayer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rp, ok := s.registeredPlayers[playerID]
	if !ok {
		return nil, model.ErrPlayerNotFound
	}
	c := *rp
	return &c, nil
}

func (s *Storage) GetRegisteredPlayerByUsername(ctx context.Context, username string) (*model.RegisteredPlayer, error) {
	s.mu.RLock()
	playerID, ok := s.usernameIndex[username]
	s.mu.RUnlock()
	if !ok {
		return nil, model.ErrPlayerNotFound
	}
	return s.GetRegisteredPlayer(ctx, playerID)
}

// Secret pool operations

func (s *Storage) GetSecretPool(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.secretPool...), nil
}

func (s *Storage) SaveSecretPool(ctx context.Context, secrets []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secretPool = append([]string(nil), secrets...)
	return nil
}

// Reveal intent operations

func (s *Storage) SaveRevealIntent(ctx context.Context, intent *model.RevealIntent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *intent
	s.intents[intent.Reveal.ID] = &c
	return nil
}

func (s *Storage) DeleteRevealIntent(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.intents, id)
	return nil
}

func (s *Storage) ListRevealIntents(ctx context.Context) ([]*model.RevealIntent, error) {
	s.mu.RLock()
	intents := make([]*model.RevealIntent, 0, len(s.intents))
	for _, in := range s.intents {
		c := *in
		intents = append(intents, &c)
	}
	s.mu.RUnlock()

	model.SortIntents(intents)
	return intents, nil
}
