package storage

import (
	"context"

	"github.com/mcoot/secretgame/internal/model"
)

// Storage defines the interface for data persistence.
//
// Player writes are field-scoped: UpsertPlayer merges, ChangePoints is an
// atomic increment and MarkRevealed touches only the reveal fields, so
// concurrent writers to disjoint fields never clobber each other. Every
// durable player write bumps the record's Version and is published to Watch.
type Storage interface {
	// Player operations
	UpsertPlayer(ctx context.Context, id model.PlayerID, update model.PlayerUpdate) (*model.Player, error)
	GetPlayer(ctx context.Context, id model.PlayerID) (*model.Player, error)
	ListPlayers(ctx context.Context) ([]*model.Player, error)

	// ChangePoints adds delta to the balance. When floor is non-nil the
	// result is clamped so it never drops below *floor.
	ChangePoints(ctx context.Context, id model.PlayerID, delta int, floor *int) (*model.Player, error)

	// MarkRevealed is idempotent: changed is false when the player was
	// already revealed, and the first attribution is kept.
	MarkRevealed(ctx context.Context, id model.PlayerID, mark model.RevealMark) (player *model.Player, changed bool, err error)

	// ChargeWrongGuess debits the guesser (clamped to charge.Floor) only if
	// the target is still unrevealed with charge.TargetSecret, checked
	// atomically with the debit. Otherwise it fails with
	// model.ErrAlreadyRevealed, model.ErrNoSecretSet or
	// model.ErrSecretMismatch without mutating anything.
	ChargeWrongGuess(ctx context.Context, charge model.WrongGuess) (*model.Player, error)

	// Watch streams every player change until ctx is done
	Watch(ctx context.Context) (<-chan model.PlayerChange, error)

	// Registered player operations
	SaveRegisteredPlayer(ctx context.Context, rp *model.RegisteredPlayer) error
	GetRegisteredPlayer(ctx context.Context, playerID model.PlayerID) (*model.RegisteredPlayer, error)
	GetRegisteredPlayerByUsername(ctx context.Context, username string) (*model.RegisteredPlayer, error)

	// Secret pool operations
	GetSecretPool(ctx context.Context) ([]string, error)
	SaveSecretPool(ctx context.Context, secrets []string) error

	// Reveal intent log operations
	SaveRevealIntent(ctx context.Context, intent *model.RevealIntent) error
	DeleteRevealIntent(ctx context.Context, id string) error
	ListRevealIntents(ctx context.Context) ([]*model.RevealIntent, error)
}

// Transactor is implemented by backends that can settle a reveal in a
// single multi-record transaction.
type Transactor interface {
	// RevealAndPay atomically checks the target is open with the expected
	// secret, marks it revealed, credits the guesser and optionally zeroes
	// the target. Fails with model.ErrAlreadyRevealed, model.ErrNoSecretSet
	// or model.ErrSecretMismatch without mutating anything.
	RevealAndPay(ctx context.Context, reveal model.Reveal) (*model.RevealResult, error)
}

// Closer is implemented by backends holding external connections
type Closer interface {
	Close() error
}
