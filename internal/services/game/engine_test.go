package game

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/mcoot/secretgame/internal/dependencies/mocks"
	"github.com/mcoot/secretgame/internal/model"
	"github.com/mcoot/secretgame/internal/services/playerstore"
	"github.com/mcoot/secretgame/internal/services/scoring"
	"github.com/mcoot/secretgame/internal/storage/memory"
	"github.com/mcoot/secretgame/internal/testutil"
)

// racingStorage runs beforeCharge once, just before a wrong guess is
// charged, to land a competing write between evaluation and settlement
type racingStorage struct {
	*memory.Storage
	beforeCharge func()
}

func (r *racingStorage) ChargeWrongGuess(ctx context.Context, charge model.WrongGuess) (*model.Player, error) {
	if r.beforeCharge != nil {
		hook := r.beforeCharge
		r.beforeCharge = nil
		hook()
	}
	return r.Storage.ChargeWrongGuess(ctx, charge)
}

type EngineSuite struct {
	suite.Suite
	storage *racingStorage
	players *playerstore.Store
	clock   *mocks.MockClock
	random  *mocks.MockRandom
	engine  *Engine
	ctx     context.Context
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

func (s *EngineSuite) SetupTest() {
	s.clock = mocks.NewMockClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	s.random = mocks.NewMockRandom()
	s.storage = &racingStorage{Storage: memory.New(s.clock)}
	s.ctx = context.Background()
	s.build(scoring.Rules{WinDelta: 5, LoseDelta: 5}, playerstore.DefaultConfig())

	s.createPlayer("alice", "Alice")
	s.createPlayer("bob", "Bob")
}

func (s *EngineSuite) build(rules scoring.Rules, cfg playerstore.Config) {
	s.players = playerstore.New(s.storage, s.clock, testutil.NopLogger(), cfg)
	s.engine = NewEngine(s.players, rules, s.clock, s.random, testutil.NopLogger())
}

func (s *EngineSuite) createPlayer(id model.PlayerID, name string) {
	_, err := s.players.Upsert(s.ctx, id, model.PlayerUpdate{Username: model.Ptr(name)})
	s.Require().NoError(err)
}

func (s *EngineSuite) choose(id model.PlayerID, secret string) {
	_, err := s.engine.ChooseSecret(s.ctx, id, secret)
	s.Require().NoError(err)
}

func (s *EngineSuite) points(id model.PlayerID) int {
	p, err := s.storage.GetPlayer(s.ctx, id)
	s.Require().NoError(err)
	return p.Points
}

// AttemptGuess tests

func (s *EngineSuite) TestCorrectGuessRevealsAndPays() {
	s.choose("bob", "Ninja")

	result, err := s.engine.AttemptGuess(s.ctx, "alice", "bob", "Ninja")
	s.Require().NoError(err)

	s.Equal(model.OutcomeCorrect, result.Outcome)
	s.Equal(5, result.PointsDelta)
	s.Equal(10, result.Guesser.Points)
	s.True(result.Target.Revealed)
	s.Equal(model.PlayerID("alice"), result.Target.RevealedBy)
	s.Contains(result.Message, "Bob")

	s.Equal(10, s.points("alice"))
	bob, _ := s.storage.GetPlayer(s.ctx, "bob")
	s.True(bob.Revealed)
	s.Equal(model.DefaultStartingPoints, bob.Points)
}

func (s *EngineSuite) TestIncorrectGuessIsFlooredAtZero() {
	s.choose("bob", "Ninja")

	result, err := s.engine.AttemptGuess(s.ctx, "alice", "bob", "Pirate")
	s.Require().NoError(err)

	s.Equal(model.OutcomeIncorrect, result.Outcome)
	s.Equal(-5, result.PointsDelta)
	s.Equal(0, s.points("alice"))

	_, err = s.engine.AttemptGuess(s.ctx, "alice", "bob", "Pirate")
	s.Require().NoError(err)
	s.Equal(0, s.points("alice"))

	bob, _ := s.storage.GetPlayer(s.ctx, "bob")
	s.False(bob.Revealed)
}

func (s *EngineSuite) TestIncorrectGuessWithDefaultRules() {
	s.build(scoring.DefaultRules(), playerstore.DefaultConfig())
	s.choose("bob", "Ninja")

	result, err := s.engine.AttemptGuess(s.ctx, "alice", "bob", "ninja")
	s.Require().NoError(err)
	s.Equal(model.OutcomeIncorrect, result.Outcome)
	s.Equal(4, s.points("alice"))
}

func (s *EngineSuite) TestGuessAgainstRevealedTargetChangesNothing() {
	s.choose("bob", "Ninja")
	s.createPlayer("carol", "Carol")
	_, err := s.engine.AttemptGuess(s.ctx, "carol", "bob", "Ninja")
	s.Require().NoError(err)

	for _, text := range []string{"Ninja", "Pirate"} {
		result, err := s.engine.AttemptGuess(s.ctx, "alice", "bob", text)
		s.Require().NoError(err)
		s.Equal(model.OutcomeAlreadyRevealed, result.Outcome)
		s.Equal(0, result.PointsDelta)
	}
	s.Equal(model.DefaultStartingPoints, s.points("alice"))

	bob, _ := s.storage.GetPlayer(s.ctx, "bob")
	s.Equal(model.PlayerID("carol"), bob.RevealedBy)
}

func (s *EngineSuite) TestRevealedWithRemovedSecretStillReportsRevealed() {
	s.build(scoring.Rules{WinDelta: 5, LoseDelta: 5, RemoveSecretOnReveal: true}, playerstore.DefaultConfig())
	s.createPlayer("carol", "Carol")
	s.choose("bob", "Ninja")

	result, err := s.engine.AttemptGuess(s.ctx, "carol", "bob", "Ninja")
	s.Require().NoError(err)
	s.Nil(result.Target.Secret)

	result, err = s.engine.AttemptGuess(s.ctx, "alice", "bob", "Ninja")
	s.Require().NoError(err)
	s.Equal(model.OutcomeAlreadyRevealed, result.Outcome)
}

func (s *EngineSuite) TestGuessAgainstTargetWithoutSecret() {
	result, err := s.engine.AttemptGuess(s.ctx, "alice", "bob", "Ninja")
	s.Require().NoError(err)

	s.Equal(model.OutcomeNoSecretSet, result.Outcome)
	s.Equal(model.DefaultStartingPoints, s.points("alice"))
}

func (s *EngineSuite) TestZeroTargetOnReveal() {
	s.build(scoring.Rules{WinDelta: 3, LoseDelta: 1, ZeroTargetOnReveal: true}, playerstore.DefaultConfig())
	s.choose("bob", "Ninja")

	result, err := s.engine.AttemptGuess(s.ctx, "alice", "bob", "Ninja")
	s.Require().NoError(err)
	s.Equal(0, result.Target.Points)
	s.Equal(8, result.Guesser.Points)
}

func (s *EngineSuite) TestSelfGuessRejected() {
	s.choose("alice", "Ninja")

	_, err := s.engine.AttemptGuess(s.ctx, "alice", "alice", "Ninja")
	s.ErrorIs(err, model.ErrSelfGuess)
}

func (s *EngineSuite) TestBlankGuessFollowsTargetState() {
	s.createPlayer("carol", "Carol")

	result, err := s.engine.AttemptGuess(s.ctx, "alice", "carol", "  ")
	s.Require().NoError(err)
	s.Equal(model.OutcomeNoSecretSet, result.Outcome)

	s.choose("bob", "Ninja")
	result, err = s.engine.AttemptGuess(s.ctx, "alice", "bob", "")
	s.Require().NoError(err)
	s.Equal(model.OutcomeIncorrect, result.Outcome)
	s.Equal(-5, result.PointsDelta)

	_, err = s.engine.AttemptGuess(s.ctx, "carol", "bob", "Ninja")
	s.Require().NoError(err)
	result, err = s.engine.AttemptGuess(s.ctx, "alice", "bob", "")
	s.Require().NoError(err)
	s.Equal(model.OutcomeAlreadyRevealed, result.Outcome)
	s.Equal(0, result.PointsDelta)
}

func (s *EngineSuite) TestWrongGuessNotChargedWhenTargetRevealedMeanwhile() {
	s.createPlayer("carol", "Carol")
	s.choose("bob", "Ninja")
	s.storage.beforeCharge = func() {
		_, err := s.storage.RevealAndPay(s.ctx, model.Reveal{
			GuesserID:      "carol",
			TargetID:       "bob",
			ExpectedSecret: "Ninja",
			WinDelta:       5,
			At:             s.clock.Now(),
		})
		s.Require().NoError(err)
	}

	result, err := s.engine.AttemptGuess(s.ctx, "alice", "bob", "Pirate")
	s.Require().NoError(err)

	s.Equal(model.OutcomeAlreadyRevealed, result.Outcome)
	s.Equal(0, result.PointsDelta)
	s.Equal(model.PlayerID("carol"), result.Target.RevealedBy)
	s.Equal(model.DefaultStartingPoints, s.points("alice"))
	s.Equal(model.DefaultStartingPoints+5, s.points("carol"))
}

func (s *EngineSuite) TestWrongGuessReevaluatedWhenSecretChangedMeanwhile() {
	s.choose("bob", "Ninja")
	s.storage.beforeCharge = func() {
		_, err := s.storage.UpsertPlayer(s.ctx, "bob", model.PlayerUpdate{Secret: model.Ptr("Pirate")})
		s.Require().NoError(err)
	}

	result, err := s.engine.AttemptGuess(s.ctx, "alice", "bob", "Pirate")
	s.Require().NoError(err)

	s.Equal(model.OutcomeCorrect, result.Outcome)
	s.Equal(model.DefaultStartingPoints+5, s.points("alice"))
}

func (s *EngineSuite) TestGuessUnknownTarget() {
	_, err := s.engine.AttemptGuess(s.ctx, "alice", "nobody", "Ninja")
	s.ErrorIs(err, model.ErrPlayerNotFound)
}

func (s *EngineSuite) TestConcurrentCorrectGuessesHaveOneWinner() {
	for _, strategy := range []playerstore.Strategy{playerstore.StrategyTransaction, playerstore.StrategyIntentLog} {
		s.Run(string(strategy), func() {
			s.SetupTest()
			s.build(scoring.Rules{WinDelta: 5, LoseDelta: 5}, playerstore.Config{PointsFloor: model.Ptr(0), Strategy: strategy})
			s.createPlayer("carol", "Carol")
			s.choose("bob", "Ninja")

			guessers := []model.PlayerID{"alice", "carol"}
			results := make([]*model.GuessResult, len(guessers))
			var wg sync.WaitGroup
			for i, g := range guessers {
				wg.Add(1)
				go func() {
					defer wg.Done()
					res, err := s.engine.AttemptGuess(s.ctx, g, "bob", "Ninja")
					s.NoError(err)
					results[i] = res
				}()
			}
			wg.Wait()

			correct := 0
			for _, res := range results {
				s.Require().NotNil(res)
				switch res.Outcome {
				case model.OutcomeCorrect:
					correct++
				default:
					s.Equal(model.OutcomeAlreadyRevealed, res.Outcome)
				}
			}
			s.Equal(1, correct)
			s.Equal(2*model.DefaultStartingPoints+5, s.points("alice")+s.points("carol"))
		})
	}
}

// ChooseSecret tests

func (s *EngineSuite) TestChooseSecret() {
	p, err := s.engine.ChooseSecret(s.ctx, "alice", "Dragon Slayer")
	s.Require().NoError(err)

	s.Require().NotNil(p.Secret)
	s.Equal("Dragon Slayer", *p.Secret)
	s.False(p.Revealed)
}

func (s *EngineSuite) TestChooseSecretCanChangeBeforeReveal() {
	s.choose("alice", "Dragon Slayer")
	p, err := s.engine.ChooseSecret(s.ctx, "alice", "Master Chef")
	s.Require().NoError(err)
	s.Equal("Master Chef", *p.Secret)
}

func (s *EngineSuite) TestChooseSecretRejectedAfterReveal() {
	s.choose("bob", "Ninja")
	_, err := s.engine.AttemptGuess(s.ctx, "alice", "bob", "Ninja")
	s.Require().NoError(err)

	_, err = s.engine.ChooseSecret(s.ctx, "bob", "Pirate")
	s.ErrorIs(err, model.ErrSecretRevealed)

	bob, _ := s.storage.GetPlayer(s.ctx, "bob")
	s.Equal("Ninja", *bob.Secret)
}

func (s *EngineSuite) TestChooseSecretRejectsBlank() {
	_, err := s.engine.ChooseSecret(s.ctx, "alice", "   ")
	s.ErrorIs(err, model.ErrInvalidSecret)
}

func (s *EngineSuite) TestChooseSecretUnknownPlayer() {
	_, err := s.engine.ChooseSecret(s.ctx, "nobody", "Ninja")
	s.ErrorIs(err, model.ErrPlayerNotFound)
}
