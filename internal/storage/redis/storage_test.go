package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	"github.com/mcoot/secretgame/internal/dependencies/mocks"
	"github.com/mcoot/secretgame/internal/model"
	"github.com/mcoot/secretgame/internal/testutil"
)

type StorageSuite struct {
	suite.Suite
	mini    *miniredis.Miniredis
	clock   *mocks.MockClock
	storage *Storage
	ctx     context.Context
}

func TestStorageSuite(t *testing.T) {
	suite.Run(t, new(StorageSuite))
}

func (s *StorageSuite) SetupTest() {
	s.mini = miniredis.RunT(s.T())

	client := redis.NewClient(&redis.Options{
		Addr: s.mini.Addr(),
	})

	s.clock = mocks.NewMockClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	s.storage = NewWithClient(client, DefaultConfig(), s.clock, testutil.NopLogger())
	s.ctx = context.Background()
}

func (s *StorageSuite) TearDownTest() {
	if s.storage != nil {
		_ = s.storage.Close()
	}
	if s.mini != nil {
		s.mini.Close()
	}
}

func (s *StorageSuite) createPlayer(id model.PlayerID, name string) *model.Player {
	p, err := s.storage.UpsertPlayer(s.ctx, id, model.PlayerUpdate{Username: model.Ptr(name)})
	s.Require().NoError(err)
	return p
}

func (s *StorageSuite) setSecret(id model.PlayerID, secret string) {
	_, err := s.storage.UpsertPlayer(s.ctx, id, model.PlayerUpdate{Secret: model.Ptr(secret)})
	s.Require().NoError(err)
}

// Player tests

func (s *StorageSuite) TestUpsertCreatesWithDefaults() {
	p := s.createPlayer("player-1", "Alice")

	s.Equal(model.PlayerID("player-1"), p.ID)
	s.Equal("Alice", p.Username)
	s.Equal(model.DefaultStartingPoints, p.Points)
	s.Nil(p.Secret)
	s.False(p.Revealed)
	s.Equal(int64(1), p.Version)
	s.True(p.CreatedAt.Equal(s.clock.Now()))
}

func (s *StorageSuite) TestUpsertMergesAndKeepsCreatedAt() {
	created := s.createPlayer("player-1", "Alice")
	s.clock.Advance(time.Minute)

	updated, err := s.storage.UpsertPlayer(s.ctx, "player-1", model.PlayerUpdate{Secret: model.Ptr("Ninja")})
	s.Require().NoError(err)

	s.Equal("Alice", updated.Username)
	s.Require().NotNil(updated.Secret)
	s.Equal("Ninja", *updated.Secret)
	s.True(updated.CreatedAt.Equal(created.CreatedAt))
	s.True(updated.UpdatedAt.Equal(s.clock.Now()))
	s.Equal(int64(2), updated.Version)
}

func (s *StorageSuite) TestUpsertClearSecret() {
	s.createPlayer("player-1", "Alice")
	s.setSecret("player-1", "Ninja")

	p, err := s.storage.UpsertPlayer(s.ctx, "player-1", model.PlayerUpdate{ClearSecret: true})
	s.Require().NoError(err)
	s.Nil(p.Secret)
}

func (s *StorageSuite) TestGetPlayerNotFound() {
	_, err := s.storage.GetPlayer(s.ctx, "nonexistent")
	s.ErrorIs(err, model.ErrPlayerNotFound)
}

func (s *StorageSuite) TestListPlayersOrderedByCreation() {
	s.createPlayer("b", "Bob")
	s.clock.Advance(time.Second)
	s.createPlayer("a", "Alice")

	players, err := s.storage.ListPlayers(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(players, 2)
	s.Equal(model.PlayerID("b"), players[0].ID)
	s.Equal(model.PlayerID("a"), players[1].ID)
}

func (s *StorageSuite) TestListPlayersPrunesDanglingIndexEntries() {
	s.createPlayer("player-1", "Alice")
	s.mini.Del(playerKey("player-1"))

	players, err := s.storage.ListPlayers(s.ctx)
	s.Require().NoError(err)
	s.Empty(players)

	s.False(s.mini.Exists(playersIndexKey()))
}

func (s *StorageSuite) TestGuestPlayersNeverExpire() {
	_, err := s.storage.UpsertPlayer(s.ctx, "guest-1", model.PlayerUpdate{
		Username: model.Ptr("Joueur_AB12CD"),
		IsGuest:  model.Ptr(true),
	})
	s.Require().NoError(err)
	s.Equal(time.Duration(0), s.mini.TTL(playerKey("guest-1")))

	// A guest who only guesses after joining must still be there days later
	_, err = s.storage.ChangePoints(s.ctx, "guest-1", -1, model.Ptr(0))
	s.Require().NoError(err)
	s.mini.FastForward(72 * time.Hour)

	p, err := s.storage.GetPlayer(s.ctx, "guest-1")
	s.Require().NoError(err)
	s.True(p.IsGuest)
	s.Equal(model.DefaultStartingPoints-1, p.Points)

	players, err := s.storage.ListPlayers(s.ctx)
	s.Require().NoError(err)
	s.Len(players, 1)
}

// ChangePoints tests

func (s *StorageSuite) TestChangePoints() {
	s.createPlayer("player-1", "Alice")

	p, err := s.storage.ChangePoints(s.ctx, "player-1", 3, nil)
	s.Require().NoError(err)
	s.Equal(8, p.Points)
	s.Equal(int64(2), p.Version)
}

func (s *StorageSuite) TestChangePointsClampsToFloor() {
	s.createPlayer("player-1", "Alice")

	p, err := s.storage.ChangePoints(s.ctx, "player-1", -7, model.Ptr(0))
	s.Require().NoError(err)
	s.Equal(0, p.Points)
}

func (s *StorageSuite) TestChangePointsWithoutFloorGoesNegative() {
	s.createPlayer("player-1", "Alice")

	p, err := s.storage.ChangePoints(s.ctx, "player-1", -7, nil)
	s.Require().NoError(err)
	s.Equal(-2, p.Points)
}

func (s *StorageSuite) TestChangePointsNotFound() {
	_, err := s.storage.ChangePoints(s.ctx, "nobody", 1, nil)
	s.ErrorIs(err, model.ErrPlayerNotFound)
}

func (s *StorageSuite) TestConcurrentChangePointsAllApplied() {
	s.createPlayer("player-1", "Alice")

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.storage.ChangePoints(s.ctx, "player-1", 1, nil)
		}()
	}
	wg.Wait()

	p, err := s.storage.GetPlayer(s.ctx, "player-1")
	s.Require().NoError(err)
	s.Equal(model.DefaultStartingPoints+20, p.Points)
}

// MarkRevealed tests

func (s *StorageSuite) TestMarkRevealedIsIdempotent() {
	s.createPlayer("target", "Bob")
	s.setSecret("target", "Ninja")

	first, changed, err := s.storage.MarkRevealed(s.ctx, "target", model.RevealMark{By: "alice", At: s.clock.Now()})
	s.Require().NoError(err)
	s.True(changed)
	s.True(first.Revealed)
	s.Equal(model.PlayerID("alice"), first.RevealedBy)
	s.Require().NotNil(first.RevealedAt)

	s.clock.Advance(time.Minute)
	second, changed, err := s.storage.MarkRevealed(s.ctx, "target", model.RevealMark{By: "carol", At: s.clock.Now()})
	s.Require().NoError(err)
	s.False(changed)
	s.Equal(model.PlayerID("alice"), second.RevealedBy)
	s.Equal(first.Version, second.Version)
}

func (s *StorageSuite) TestMarkRevealedChecksExpectedSecret() {
	s.createPlayer("target", "Bob")
	s.setSecret("target", "Ninja")

	_, _, err := s.storage.MarkRevealed(s.ctx, "target", model.RevealMark{By: "alice", At: s.clock.Now(), ExpectedSecret: model.Ptr("Pirate")})
	s.ErrorIs(err, model.ErrSecretMismatch)
}

func (s *StorageSuite) TestMarkRevealedClearsSecret() {
	s.createPlayer("target", "Bob")
	s.setSecret("target", "Ninja")

	p, _, err := s.storage.MarkRevealed(s.ctx, "target", model.RevealMark{By: "alice", At: s.clock.Now(), ClearSecret: true})
	s.Require().NoError(err)
	s.Nil(p.Secret)
	s.Equal(model.GuessStateAlreadyRevealed, p.GuessState())
}

func (s *StorageSuite) TestMarkRevealedNotFound() {
	_, _, err := s.storage.MarkRevealed(s.ctx, "nobody", model.RevealMark{By: "alice"})
	s.ErrorIs(err, model.ErrPlayerNotFound)
}

// RevealAndPay tests

func (s *StorageSuite) TestRevealAndPay() {
	s.createPlayer("guesser", "Alice")
	s.createPlayer("target", "Bob")
	s.setSecret("target", "Ninja")

	result, err := s.storage.RevealAndPay(s.ctx, model.Reveal{
		ID: "r1", GuesserID: "guesser", TargetID: "target",
		ExpectedSecret: "Ninja", WinDelta: 5, ZeroTarget: true, At: s.clock.Now(),
	})
	s.Require().NoError(err)
	s.Equal(10, result.Guesser.Points)
	s.True(result.Target.Revealed)
	s.Equal(model.PlayerID("guesser"), result.Target.RevealedBy)
	s.Equal(0, result.Target.Points)
}

func (s *StorageSuite) TestRevealAndPayOnlyOnce() {
	s.createPlayer("guesser", "Alice")
	s.createPlayer("target", "Bob")
	s.setSecret("target", "Ninja")
	reveal := model.Reveal{ID: "r1", GuesserID: "guesser", TargetID: "target", ExpectedSecret: "Ninja", WinDelta: 5, At: s.clock.Now()}

	_, err := s.storage.RevealAndPay(s.ctx, reveal)
	s.Require().NoError(err)

	_, err = s.storage.RevealAndPay(s.ctx, reveal)
	s.ErrorIs(err, model.ErrAlreadyRevealed)

	p, _ := s.storage.GetPlayer(s.ctx, "guesser")
	s.Equal(10, p.Points)
}

func (s *StorageSuite) TestRevealAndPayErrors() {
	s.createPlayer("guesser", "Alice")
	s.createPlayer("target", "Bob")

	_, err := s.storage.RevealAndPay(s.ctx, model.Reveal{GuesserID: "guesser", TargetID: "target", ExpectedSecret: "Ninja"})
	s.ErrorIs(err, model.ErrNoSecretSet)

	s.setSecret("target", "Pirate")
	_, err = s.storage.RevealAndPay(s.ctx, model.Reveal{GuesserID: "guesser", TargetID: "target", ExpectedSecret: "Ninja"})
	s.ErrorIs(err, model.ErrSecretMismatch)

	_, err = s.storage.RevealAndPay(s.ctx, model.Reveal{GuesserID: "nobody", TargetID: "target", ExpectedSecret: "Pirate"})
	s.ErrorIs(err, model.ErrPlayerNotFound)
}

// ChargeWrongGuess tests

func (s *StorageSuite) TestChargeWrongGuessClampsToFloor() {
	s.createPlayer("guesser", "Alice")
	s.createPlayer("target", "Bob")
	s.setSecret("target", "Ninja")

	p, err := s.storage.ChargeWrongGuess(s.ctx, model.WrongGuess{
		GuesserID: "guesser", TargetID: "target", TargetSecret: "Ninja",
		Delta: -7, Floor: model.Ptr(0), At: s.clock.Now(),
	})
	s.Require().NoError(err)
	s.Equal(0, p.Points)

	target, _ := s.storage.GetPlayer(s.ctx, "target")
	s.Equal(model.DefaultStartingPoints, target.Points)
	s.False(target.Revealed)
}

func (s *StorageSuite) TestChargeWrongGuessSkipsClosedTargets() {
	s.createPlayer("guesser", "Alice")
	s.createPlayer("target", "Bob")
	charge := model.WrongGuess{GuesserID: "guesser", TargetID: "target", TargetSecret: "Ninja", Delta: -1, At: s.clock.Now()}

	_, err := s.storage.ChargeWrongGuess(s.ctx, charge)
	s.ErrorIs(err, model.ErrNoSecretSet)

	s.setSecret("target", "Pirate")
	_, err = s.storage.ChargeWrongGuess(s.ctx, charge)
	s.ErrorIs(err, model.ErrSecretMismatch)

	_, err = s.storage.RevealAndPay(s.ctx, model.Reveal{
		ID: "r1", GuesserID: "guesser", TargetID: "target",
		ExpectedSecret: "Pirate", WinDelta: 3, At: s.clock.Now(),
	})
	s.Require().NoError(err)
	charge.TargetSecret = "Pirate"
	_, err = s.storage.ChargeWrongGuess(s.ctx, charge)
	s.ErrorIs(err, model.ErrAlreadyRevealed)

	p, _ := s.storage.GetPlayer(s.ctx, "guesser")
	s.Equal(model.DefaultStartingPoints+3, p.Points)

	charge.GuesserID = "nobody"
	_, err = s.storage.ChargeWrongGuess(s.ctx, charge)
	s.ErrorIs(err, model.ErrPlayerNotFound)
}

// Watch tests

func (s *StorageSuite) TestWatchDeliversChanges() {
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	ch, err := s.storage.Watch(ctx)
	s.Require().NoError(err)

	s.createPlayer("player-1", "Alice")
	_, err = s.storage.ChangePoints(s.ctx, "player-1", 1, nil)
	s.Require().NoError(err)

	first := s.receive(ch)
	s.Equal(model.ChangeCreated, first.Kind)
	s.Equal("Alice", first.Player.Username)

	second := s.receive(ch)
	s.Equal(model.ChangeUpdated, second.Kind)
	s.Equal(6, second.Player.Points)
	s.Equal(int64(2), second.Player.Version)
}

func (s *StorageSuite) TestWatchClosesOnCancel() {
	ctx, cancel := context.WithCancel(s.ctx)
	ch, err := s.storage.Watch(ctx)
	s.Require().NoError(err)

	cancel()

	s.Eventually(func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}

func (s *StorageSuite) receive(ch <-chan model.PlayerChange) model.PlayerChange {
	select {
	case c := <-ch:
		return c
	case <-time.After(2 * time.Second):
		s.FailNow("timed out waiting for player change")
		return model.PlayerChange{}
	}
}

// Registered player tests

func (s *StorageSuite) TestSaveAndGetRegisteredPlayer() {
	rp := &model.RegisteredPlayer{
		PlayerID:     "player-1",
		Username:     "alice",
		PasswordHash: "hash123",
		CreatedAt:    time.Now(),
	}

	err := s.storage.SaveRegisteredPlayer(s.ctx, rp)
	s.Require().NoError(err)

	retrieved, err := s.storage.GetRegisteredPlayer(s.ctx, "player-1")
	s.Require().NoError(err)
	s.Equal(rp.Username, retrieved.Username)
}

func (s *StorageSuite) TestGetRegisteredPlayerByUsername() {
	rp := &model.RegisteredPlayer{
		PlayerID:     "player-1",
		Username:     "alice",
		PasswordHash: "hash123",
	}
	_ = s.storage.SaveRegisteredPlayer(s.ctx, rp)

	retrieved, err := s.storage.GetRegisteredPlayerByUsername(s.ctx, "alice")
	s.Require().NoError(err)
	s.Equal("player-1", string(retrieved.PlayerID))
}

func (s *StorageSuite) TestGetRegisteredPlayerByUsernameNotFound() {
	_, err := s.storage.GetRegisteredPlayerByUsername(s.ctx, "nonexistent")
	s.ErrorIs(err, model.ErrPlayerNotFound)
}

// Secret pool tests

func (s *StorageSuite) TestSecretPoolEmptyWhenMissing() {
	pool, err := s.storage.GetSecretPool(s.ctx)
	s.Require().NoError(err)
	s.Empty(pool)
}

func (s *StorageSuite) TestSaveSecretPoolReplaces() {
	s.Require().NoError(s.storage.SaveSecretPool(s.ctx, []string{"Old"}))
	s.Require().NoError(s.storage.SaveSecretPool(s.ctx, []string{"Custom1", "Custom2"}))

	pool, err := s.storage.GetSecretPool(s.ctx)
	s.Require().NoError(err)
	s.Equal([]string{"Custom1", "Custom2"}, pool)
}

// Intent tests

func (s *StorageSuite) TestRevealIntentLifecycle() {
	older := &model.RevealIntent{
		Reveal:    model.Reveal{ID: "r1", GuesserID: "a", TargetID: "b"},
		Stage:     model.IntentRevealed,
		CreatedAt: s.clock.Now(),
	}
	newer := &model.RevealIntent{
		Reveal:    model.Reveal{ID: "r2", GuesserID: "c", TargetID: "d"},
		Stage:     model.IntentPending,
		CreatedAt: s.clock.Now().Add(time.Second),
	}
	s.Require().NoError(s.storage.SaveRevealIntent(s.ctx, newer))
	s.Require().NoError(s.storage.SaveRevealIntent(s.ctx, older))

	intents, err := s.storage.ListRevealIntents(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(intents, 2)
	s.Equal("r1", intents[0].Reveal.ID)
	s.Equal(model.IntentRevealed, intents[0].Stage)

	s.Require().NoError(s.storage.DeleteRevealIntent(s.ctx, "r1"))
	intents, _ = s.storage.ListRevealIntents(s.ctx)
	s.Len(intents, 1)
}
