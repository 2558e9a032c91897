package postgres

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/suite"

	"github.com/mcoot/secretgame/internal/dependencies/mocks"
	"github.com/mcoot/secretgame/internal/model"
	"github.com/mcoot/secretgame/internal/testutil"
)

// Set SECRETGAME_TEST_DATABASE_URL to run these against a scratch database
const testDatabaseEnv = "SECRETGAME_TEST_DATABASE_URL"

type StorageSuite struct {
	suite.Suite
	pool    *pgxpool.Pool
	clock   *mocks.MockClock
	storage *Storage
	ctx     context.Context
}

func TestStorageSuite(t *testing.T) {
	if os.Getenv(testDatabaseEnv) == "" {
		t.Skipf("%s not set", testDatabaseEnv)
	}
	suite.Run(t, new(StorageSuite))
}

func (s *StorageSuite) SetupSuite() {
	s.ctx = context.Background()
	url := os.Getenv(testDatabaseEnv)

	s.Require().NoError(Migrate(url, testutil.NopLogger()))

	pool, err := pgxpool.New(s.ctx, url)
	s.Require().NoError(err)
	s.pool = pool
}

func (s *StorageSuite) TearDownSuite() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *StorageSuite) SetupTest() {
	_, err := s.pool.Exec(s.ctx, `TRUNCATE players, registered_players, secret_pool, reveal_intents`)
	s.Require().NoError(err)

	s.clock = mocks.NewMockClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	s.storage = NewWithPool(s.pool, s.clock, testutil.NopLogger())
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

	s.Equal("Alice", p.Username)
	s.Equal(model.DefaultStartingPoints, p.Points)
	s.Nil(p.Secret)
	s.Equal(int64(1), p.Version)
}

func (s *StorageSuite) TestUpsertMerges() {
	s.createPlayer("player-1", "Alice")
	s.clock.Advance(time.Minute)
	s.setSecret("player-1", "Ninja")

	p, err := s.storage.GetPlayer(s.ctx, "player-1")
	s.Require().NoError(err)
	s.Equal("Alice", p.Username)
	s.Require().NotNil(p.Secret)
	s.Equal("Ninja", *p.Secret)
	s.Equal(int64(2), p.Version)
	s.True(p.UpdatedAt.After(p.CreatedAt))
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
}

// ChangePoints tests

func (s *StorageSuite) TestChangePointsClampsToFloor() {
	s.createPlayer("player-1", "Alice")

	p, err := s.storage.ChangePoints(s.ctx, "player-1", -7, model.Ptr(0))
	s.Require().NoError(err)
	s.Equal(0, p.Points)

	p, err = s.storage.ChangePoints(s.ctx, "player-1", 4, model.Ptr(0))
	s.Require().NoError(err)
	s.Equal(4, p.Points)
}

func (s *StorageSuite) TestChangePointsNotFound() {
	_, err := s.storage.ChangePoints(s.ctx, "nobody", 1, nil)
	s.ErrorIs(err, model.ErrPlayerNotFound)
}

// MarkRevealed tests

func (s *StorageSuite) TestMarkRevealedIsIdempotent() {
	s.createPlayer("target", "Bob")
	s.setSecret("target", "Ninja")

	_, changed, err := s.storage.MarkRevealed(s.ctx, "target", model.RevealMark{By: "alice", At: s.clock.Now()})
	s.Require().NoError(err)
	s.True(changed)

	p, changed, err := s.storage.MarkRevealed(s.ctx, "target", model.RevealMark{By: "carol", At: s.clock.Now()})
	s.Require().NoError(err)
	s.False(changed)
	s.Equal(model.PlayerID("alice"), p.RevealedBy)
}

// RevealAndPay tests

func (s *StorageSuite) TestConcurrentRevealAndPayHasOneWinner() {
	s.createPlayer("a", "Alice")
	s.createPlayer("c", "Carol")
	s.createPlayer("target", "Bob")
	s.setSecret("target", "Ninja")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, guesser := range []model.PlayerID{"a", "c"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = s.storage.RevealAndPay(s.ctx, model.Reveal{
				ID: string(guesser), GuesserID: guesser, TargetID: "target",
				ExpectedSecret: "Ninja", WinDelta: 3, At: s.clock.Now(),
			})
		}()
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else {
			s.ErrorIs(err, model.ErrAlreadyRevealed)
		}
	}
	s.Equal(1, wins)
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

	select {
	case c := <-ch:
		s.Equal(model.ChangeCreated, c.Kind)
		s.Equal(model.PlayerID("player-1"), c.Player.ID)
	case <-time.After(5 * time.Second):
		s.FailNow("timed out waiting for player change")
	}
}

// Secret pool and intent tests

func (s *StorageSuite) TestSecretPoolKeepsOrder() {
	s.Require().NoError(s.storage.SaveSecretPool(s.ctx, []string{"Custom2", "Custom1"}))

	pool, err := s.storage.GetSecretPool(s.ctx)
	s.Require().NoError(err)
	s.Equal([]string{"Custom2", "Custom1"}, pool)
}

func (s *StorageSuite) TestRevealIntentLifecycle() {
	intent := &model.RevealIntent{
		Reveal:    model.Reveal{ID: "r1", GuesserID: "a", TargetID: "b"},
		Stage:     model.IntentPending,
		CreatedAt: s.clock.Now(),
	}
	s.Require().NoError(s.storage.SaveRevealIntent(s.ctx, intent))
	intent.Stage = model.IntentPaid
	s.Require().NoError(s.storage.SaveRevealIntent(s.ctx, intent))

	intents, err := s.storage.ListRevealIntents(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(intents, 1)
	s.Equal(model.IntentPaid, intents[0].Stage)

	s.Require().NoError(s.storage.DeleteRevealIntent(s.ctx, "r1"))
	intents, _ = s.storage.ListRevealIntents(s.ctx)
	s.Empty(intents)
}

func (s *StorageSuite) TestRegisteredPlayerByUsername() {
	rp := &model.RegisteredPlayer{PlayerID: "player-1", Username: "alice", PasswordHash: "hash", CreatedAt: s.clock.Now(), UpdatedAt: s.clock.Now()}
	s.Require().NoError(s.storage.SaveRegisteredPlayer(s.ctx, rp))

	got, err := s.storage.GetRegisteredPlayerByUsername(s.ctx, "alice")
	s.Require().NoError(err)
	s.Equal(model.PlayerID("player-1"), got.PlayerID)

	_, err = s.storage.GetRegisteredPlayerByUsername(s.ctx, "bob")
	s.ErrorIs(err, model.ErrPlayerNotFound)
}
