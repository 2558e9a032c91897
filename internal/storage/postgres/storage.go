package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mcoot/secretgame/internal/dependencies/clock"
	"github.com/mcoot/secretgame/internal/model"
	"github.com/mcoot/secretgame/internal/storage"
)

// changesChannel is the LISTEN/NOTIFY channel for player changes
const changesChannel = "player_changes"

const watchBuffer = 256

const playerColumns = `id, username, is_guest, secret, points, revealed, revealed_by,
	revealed_at, version, created_at, updated_at`

// Config holds PostgreSQL connection settings
type Config struct {
	URL      string
	MaxConns int32
}

// DefaultConfig returns default PostgreSQL configuration
func DefaultConfig() Config {
	return Config{
		MaxConns: 10,
	}
}

// Storage is a PostgreSQL-backed implementation of the storage interface
type Storage struct {
	pool   *pgxpool.Pool
	clock  clock.Clock
	logger *slog.Logger
}

// notification is the NOTIFY payload; watchers load the row by id
type notification struct {
	Kind model.ChangeKind `json:"kind"`
	ID   model.PlayerID   `json:"id"`
}

// New connects a pool and verifies the connection
func New(ctx context.Context, cfg Config, clk clock.Clock, logger *slog.Logger) (*Storage, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, err
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return NewWithPool(pool, clk, logger), nil
}

// NewWithPool creates a storage over an existing pool
func NewWithPool(pool *pgxpool.Pool, clk clock.Clock, logger *slog.Logger) *Storage {
	return &Storage{pool: pool, clock: clk, logger: logger}
}

// Close closes the pool
func (s *Storage) Close() error {
	s.pool.Close()
	return nil
}

// Ensure Storage implements the interfaces
var (
	_ storage.Storage    = (*Storage)(nil)
	_ storage.Transactor = (*Storage)(nil)
	_ storage.Closer     = (*Storage)(nil)
)

// Player operations

func (s *Storage) UpsertPlayer(ctx context.Context, id model.PlayerID, update model.PlayerUpdate) (*model.Player, error) {
	now := s.clock.Now()
	var out *model.Player

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`INSERT INTO players (id, points, version, created_at, updated_at)
			 VALUES ($1, $2, 0, $3, $3)
			 ON CONFLICT (id) DO NOTHING`,
			id, model.DefaultStartingPoints, now,
		)
		if err != nil {
			return err
		}
		kind := model.ChangeUpdated
		if tag.RowsAffected() == 1 {
			kind = model.ChangeCreated
		}

		p, err := lockPlayer(ctx, tx, id)
		if err != nil {
			return err
		}
		update.ApplyTo(p)
		if err := writePlayer(ctx, tx, p, now); err != nil {
			return err
		}
		out = p
		return notify(ctx, tx, kind, id)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Storage) GetPlayer(ctx context.Context, id model.PlayerID) (*model.Player, error) {
	return scanPlayer(s.pool.QueryRow(ctx, `SELECT `+playerColumns+` FROM players WHERE id = $1`, id))
}

func (s *Storage) ListPlayers(ctx context.Context) ([]*model.Player, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+playerColumns+` FROM players ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	players := []*model.Player{}
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, err
		}
		players = append(players, p)
	}
	return players, rows.Err()
}

func (s *Storage) ChangePoints(ctx context.Context, id model.PlayerID, delta int, floor *int) (*model.Player, error) {
	var out *model.Player

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		p, err := scanPlayer(tx.QueryRow(ctx,
			`UPDATE players
			 SET points = GREATEST(points + $2, COALESCE($3::integer, points + $2)),
			     version = version + 1,
			     updated_at = $4
			 WHERE id = $1
			 RETURNING `+playerColumns,
			id, delta, floor, s.clock.Now(),
		))
		if err != nil {
			return err
		}
		out = p
		return notify(ctx, tx, model.ChangeUpdated, id)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Storage) MarkRevealed(ctx context.Context, id model.PlayerID, mark model.RevealMark) (*model.Player, bool, error) {
	var out *model.Player
	var changed bool

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		p, err := lockPlayer(ctx, tx, id)
		if err != nil {
			return err
		}
		out = p
		if changed, err = p.ApplyMark(mark); err != nil || !changed {
			return err
		}
		if err := writePlayer(ctx, tx, p, mark.At); err != nil {
			return err
		}
		return notify(ctx, tx, model.ChangeUpdated, id)
	})
	if err != nil {
		return nil, false, err
	}
	return out, changed, nil
}

// RevealAndPay settles a reveal in one transaction with both rows locked
func (s *Storage) RevealAndPay(ctx context.Context, reveal model.Reveal) (*model.RevealResult, error) {
	result := &model.RevealResult{}

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		result.Guesser, result.Target, err = lockPair(ctx, tx, reveal.GuesserID, reveal.TargetID)
		if err != nil {
			return err
		}

		if err := result.Target.CheckRevealable(reveal.ExpectedSecret); err != nil {
			return err
		}
		if _, err := result.Target.ApplyMark(reveal.Mark()); err != nil {
			return err
		}
		if reveal.ZeroTarget {
			result.Target.Points = 0
		}
		result.Guesser.Points += reveal.WinDelta

		if err := writePlayer(ctx, tx, result.Target, reveal.At); err != nil {
			return err
		}
		if err := writePlayer(ctx, tx, result.Guesser, reveal.At); err != nil {
			return err
		}
		if err := notify(ctx, tx, model.ChangeUpdated, reveal.TargetID); err != nil {
			return err
		}
		return notify(ctx, tx, model.ChangeUpdated, reveal.GuesserID)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ChargeWrongGuess debits the guesser with both rows locked, so a reveal
// committing concurrently is either seen here or waits for this debit
func (s *Storage) ChargeWrongGuess(ctx context.Context, charge model.WrongGuess) (*model.Player, error) {
	var out *model.Player

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		guesser, target, err := lockPair(ctx, tx, charge.GuesserID, charge.TargetID)
		if err != nil {
			return err
		}
		if err := target.CheckRevealable(charge.TargetSecret); err != nil {
			return err
		}
		guesser.AddPoints(charge.Delta, charge.Floor)
		if err := writePlayer(ctx, tx, guesser, charge.At); err != nil {
			return err
		}
		out = guesser
		return notify(ctx, tx, model.ChangeUpdated, charge.GuesserID)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// lockPair locks the guesser and target rows in id order so concurrent
// settlements cannot deadlock
func lockPair(ctx context.Context, tx pgx.Tx, guesserID, targetID model.PlayerID) (guesser, target *model.Player, err error) {
	rows, err := tx.Query(ctx,
		`SELECT `+playerColumns+` FROM players
		 WHERE id = ANY($1) ORDER BY id FOR UPDATE`,
		[]string{string(guesserID), string(targetID)},
	)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, nil, err
		}
		switch p.ID {
		case targetID:
			target = p
		case guesserID:
			guesser = p
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	if guesser == nil || target == nil {
		return nil, nil, model.ErrPlayerNotFound
	}
	return guesser, target, nil
}

// Watch listens for player change notifications on a dedicated connection
func (s *Storage) Watch(ctx context.Context) (<-chan model.PlayerChange, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Exec(ctx, "LISTEN "+changesChannel); err != nil {
		conn.Release()
		return nil, err
	}

	out := make(chan model.PlayerChange, watchBuffer)
	go func() {
		defer close(out)
		defer func() {
			if !conn.Conn().IsClosed() {
				_, _ = conn.Exec(context.Background(), "UNLISTEN *")
			}
			conn.Release()
		}()

		for {
			n, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() == nil {
					s.logger.Warn("player change listener stopped", slog.String("error", err.Error()))
				}
				return
			}

			var msg notification
			if err := json.Unmarshal([]byte(n.Payload), &msg); err != nil {
				s.logger.Warn("dropping malformed player change", slog.String("error", err.Error()))
				continue
			}
			p, err := s.GetPlayer(ctx, msg.ID)
			if err != nil {
				s.logger.Warn("failed to load changed player", slog.String("player_id", string(msg.ID)), slog.String("error", err.Error()))
				continue
			}

			select {
			case out <- model.PlayerChange{Kind: msg.Kind, Player: p}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlayer(row rowScanner) (*model.Player, error) {
	var p model.Player
	var revealedBy *string
	err := row.Scan(
		&p.ID, &p.Username, &p.IsGuest, &p.Secret, &p.Points, &p.Revealed, &revealedBy,
		&p.RevealedAt, &p.Version, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrPlayerNotFound
		}
		return nil, err
	}
	if revealedBy != nil {
		p.RevealedBy = model.PlayerID(*revealedBy)
	}
	return &p, nil
}

func lockPlayer(ctx context.Context, tx pgx.Tx, id model.PlayerID) (*model.Player, error) {
	return scanPlayer(tx.QueryRow(ctx, `SELECT `+playerColumns+` FROM players WHERE id = $1 FOR UPDATE`, id))
}

// writePlayer persists every mutable column and bumps the version
func writePlayer(ctx context.Context, tx pgx.Tx, p *model.Player, now time.Time) error {
	var revealedBy *string
	if p.RevealedBy != "" {
		revealedBy = model.Ptr(string(p.RevealedBy))
	}
	p.Version++
	p.UpdatedAt = now

	_, err := tx.Exec(ctx,
		`UPDATE players
		 SET username = $2, is_guest = $3, secret = $4, points = $5, revealed = $6,
		     revealed_by = $7, revealed_at = $8, version = $9, updated_at = $10
		 WHERE id = $1`,
		p.ID, p.Username, p.IsGuest, p.Secret, p.Points, p.Revealed,
		revealedBy, p.RevealedAt, p.Version, p.UpdatedAt,
	)
	return err
}

// notify queues a change notification, delivered when tx commits
func notify(ctx context.Context, tx pgx.Tx, kind model.ChangeKind, id model.PlayerID) error {
	payload, err := json.Marshal(notification{Kind: kind, ID: id})
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `SELECT pg_notify($1, $2)`, changesChannel, string(payload))
	return err
}

// Registered player operations

func (s *Storage) SaveRegisteredPlayer(ctx context.Context, rp *model.RegisteredPlayer) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO registered_players (player_id, username, password_hash, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (player_id) DO UPDATE
		 SET username = EXCLUDED.username,
		     password_hash = EXCLUDED.password_hash,
		     updated_at = EXCLUDED.updated_at`,
		rp.PlayerID, rp.Username, rp.PasswordHash, rp.CreatedAt, rp.UpdatedAt,
	)
	return err
}

func (s *Storage) GetRegisteredPlayer(ctx context.Context, playerID model.PlayerID) (*model.RegisteredPlayer, error) {
	return scanRegisteredPlayer(s.pool.QueryRow(ctx,
		`SELECT player_id, username, password_hash, created_at, updated_at
		 FROM registered_players WHERE player_id = $1`,
		playerID,
	))
}

func (s *Storage) GetRegisteredPlayerByUsername(ctx context.Context, username string) (*model.RegisteredPlayer, error) {
	return scanRegisteredPlayer(s.pool.QueryRow(ctx,
		`SELECT player_id, username, password_hash, created_at, updated_at
		 FROM registered_players WHERE username = $1`,
		username,
	))
}

func scanRegisteredPlayer(row rowScanner) (*model.RegisteredPlayer, error) {
	var rp model.RegisteredPlayer
	err := row.Scan(&rp.PlayerID, &rp.Username, &rp.PasswordHash, &rp.CreatedAt, &rp.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrPlayerNotFound
		}
		return nil, err
	}
	return &rp, nil
}

// Secret pool operations

func (s *Storage) GetSecretPool(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT phrase FROM secret_pool ORDER BY position`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (s *Storage) SaveSecretPool(ctx context.Context, secrets []string) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM secret_pool`); err != nil {
			return err
		}
		rows := make([][]any, len(secrets))
		for i, sec := range secrets {
			rows[i] = []any{i, sec}
		}
		_, err := tx.CopyFrom(ctx, pgx.Identifier{"secret_pool"}, []string{"position", "phrase"}, pgx.CopyFromRows(rows))
		return err
	})
}

// Reveal intent operations

func (s *Storage) SaveRevealIntent(ctx context.Context, intent *model.RevealIntent) error {
	payload, err := json.Marshal(intent)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO reveal_intents (id, payload, created_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET payload = EXCLUDED.payload`,
		intent.Reveal.ID, payload, intent.CreatedAt,
	)
	return err
}

func (s *Storage) DeleteRevealIntent(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM reveal_intents WHERE id = $1`, id)
	return err
}

func (s *Storage) ListRevealIntents(ctx context.Context) ([]*model.RevealIntent, error) {
	rows, err := s.pool.Query(ctx, `SELECT payload FROM reveal_intents ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	payloads, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		return nil, err
	}

	intents := make([]*model.RevealIntent, 0, len(payloads))
	for _, payload := range payloads {
		var intent model.RevealIntent
		if err := json.Unmarshal(payload, &intent); err != nil {
			return nil, fmt.Errorf("decode reveal intent: %w", err)
		}
		intents = append(intents, &intent)
	}
	return intents, nil
}
