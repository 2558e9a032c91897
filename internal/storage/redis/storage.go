package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mcoot/secretgame/internal/dependencies/clock"
	"github.com/mcoot/secretgame/internal/model"
	"github.com/mcoot/secretgame/internal/storage"
)

// Player hash fields
const (
	fieldID         = "id"
	fieldUsername   = "username"
	fieldIsGuest    = "is_guest"
	fieldSecret     = "secret"
	fieldPoints     = "points"
	fieldRevealed   = "revealed"
	fieldRevealedBy = "revealed_by"
	fieldRevealedAt = "revealed_at"
	fieldVersion    = "version"
	fieldCreatedAt  = "created_at"
	fieldUpdatedAt  = "updated_at"
)

const watchBuffer = 256

// Storage is a Redis-backed implementation of the storage interface
type Storage struct {
	client *redis.Client
	cfg    Config
	clock  clock.Clock
	logger *slog.Logger
}

// changeMessage is the pub/sub payload for a player change
type changeMessage struct {
	Kind   model.ChangeKind  `json:"kind"`
	Fields map[string]string `json:"fields"`
}

// New creates a new Redis storage instance
func New(cfg Config, clk clock.Clock, logger *slog.Logger) (*Storage, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns

	client := redis.NewClient(opts)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return NewWithClient(client, cfg, clk, logger), nil
}

// NewWithClient creates a Redis storage with an existing client (for testing)
func NewWithClient(client *redis.Client, cfg Config, clk clock.Clock, logger *slog.Logger) *Storage {
	return &Storage{
		client: client,
		cfg:    cfg,
		clock:  clk,
		logger: logger,
	}
}

// Close closes the Redis connection
func (s *Storage) Close() error {
	return s.client.Close()
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
	sets, dels := updateFields(update)

	args := []interface{}{
		string(id),
		formatTime(now),
		now.UnixMilli(),
		model.DefaultStartingPoints,
		len(sets) / 2,
	}
	args = append(args, sets...)
	args = append(args, dels...)

	created, err := upsertScript.Run(ctx, s.client, []string{playerKey(id), playersIndexKey()}, args...).Int()
	if err != nil {
		return nil, err
	}

	kind := model.ChangeUpdated
	if created == 1 {
		kind = model.ChangeCreated
	}
	return s.readAndPublish(ctx, id, kind)
}

func (s *Storage) GetPlayer(ctx context.Context, id model.PlayerID) (*model.Player, error) {
	fields, err := s.client.HGetAll(ctx, playerKey(id)).Result()
	if err != nil {
		return nil, err
	}
	return parsePlayer(fields)
}

func (s *Storage) ListPlayers(ctx context.Context) ([]*model.Player, error) {
	ids, err := s.client.ZRange(ctx, playersIndexKey(), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []*model.Player{}, nil
	}

	// Fetch all hashes in one round trip
	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, playerKey(model.PlayerID(id)))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	players := make([]*model.Player, 0, len(ids))
	var dangling []interface{}
	for i, cmd := range cmds {
		p, err := parsePlayer(cmd.Val())
		if errors.Is(err, model.ErrPlayerNotFound) {
			dangling = append(dangling, ids[i]) // Hash removed outside the app
			continue
		}
		if err != nil {
			return nil, err
		}
		players = append(players, p)
	}

	if len(dangling) > 0 {
		if err := s.client.ZRem(ctx, playersIndexKey(), dangling...).Err(); err != nil {
			s.logger.Warn("failed to prune dangling players from index", slog.String("error", err.Error()))
		}
	}

	model.SortByCreation(players)
	return players, nil
}

func (s *Storage) ChangePoints(ctx context.Context, id model.PlayerID, delta int, floor *int) (*model.Player, error) {
	err := changePointsScript.Run(ctx, s.client, []string{playerKey(id)}, delta, floorField(floor), formatTime(s.clock.Now())).Err()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, model.ErrPlayerNotFound
		}
		return nil, err
	}
	return s.readAndPublish(ctx, id, model.ChangeUpdated)
}

func (s *Storage) ChargeWrongGuess(ctx context.Context, charge model.WrongGuess) (*model.Player, error) {
	status, err := chargeWrongGuessScript.Run(ctx, s.client,
		[]string{playerKey(charge.TargetID), playerKey(charge.GuesserID)},
		charge.TargetSecret, charge.Delta, floorField(charge.Floor), formatTime(charge.At),
	).Text()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, model.ErrPlayerNotFound
		}
		return nil, err
	}

	switch status {
	case statusAlreadyRevealed:
		return nil, model.ErrAlreadyRevealed
	case statusNoSecret:
		return nil, model.ErrNoSecretSet
	case statusMismatch:
		return nil, model.ErrSecretMismatch
	case statusOK:
		return s.readAndPublish(ctx, charge.GuesserID, model.ChangeUpdated)
	default:
		return nil, fmt.Errorf("unexpected wrong guess status %q", status)
	}
}

func (s *Storage) MarkRevealed(ctx context.Context, id model.PlayerID, mark model.RevealMark) (*model.Player, bool, error) {
	checkExpected, expected := "0", ""
	if mark.ExpectedSecret != nil {
		checkExpected, expected = "1", *mark.ExpectedSecret
	}

	status, err := markRevealedScript.Run(ctx, s.client, []string{playerKey(id)},
		string(mark.By), formatTime(mark.At), boolField(mark.ClearSecret), checkExpected, expected,
	).Text()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, model.ErrPlayerNotFound
		}
		return nil, false, err
	}

	switch status {
	case statusNoSecret:
		return nil, false, model.ErrNoSecretSet
	case statusMismatch:
		return nil, false, model.ErrSecretMismatch
	case statusUnchanged:
		p, err := s.GetPlayer(ctx, id)
		return p, false, err
	case statusChanged:
		p, err := s.readAndPublish(ctx, id, model.ChangeUpdated)
		return p, err == nil, err
	default:
		return nil, false, fmt.Errorf("unexpected mark revealed status %q", status)
	}
}

// RevealAndPay settles a reveal in a single Lua script
func (s *Storage) RevealAndPay(ctx context.Context, reveal model.Reveal) (*model.RevealResult, error) {
	status, err := revealAndPayScript.Run(ctx, s.client,
		[]string{playerKey(reveal.TargetID), playerKey(reveal.GuesserID)},
		string(reveal.GuesserID), formatTime(reveal.At), boolField(reveal.ClearSecret),
		reveal.ExpectedSecret, reveal.WinDelta, boolField(reveal.ZeroTarget),
	).Text()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, model.ErrPlayerNotFound
		}
		return nil, err
	}

	switch status {
	case statusAlreadyRevealed:
		return nil, model.ErrAlreadyRevealed
	case statusNoSecret:
		return nil, model.ErrNoSecretSet
	case statusMismatch:
		return nil, model.ErrSecretMismatch
	case statusOK:
	default:
		return nil, fmt.Errorf("unexpected reveal status %q", status)
	}

	target, err := s.readAndPublish(ctx, reveal.TargetID, model.ChangeUpdated)
	if err != nil {
		return nil, err
	}
	guesser, err := s.readAndPublish(ctx, reveal.GuesserID, model.ChangeUpdated)
	if err != nil {
		return nil, err
	}
	return &model.RevealResult{Guesser: guesser, Target: target}, nil
}

// Watch subscribes to the player change channel until ctx is done
func (s *Storage) Watch(ctx context.Context) (<-chan model.PlayerChange, error) {
	sub := s.client.Subscribe(ctx, playerChangesChannel())

	// Wait for the subscription to be confirmed so no change is missed
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}

	out := make(chan model.PlayerChange, watchBuffer)
	go func() {
		defer close(out)
		defer sub.Close()

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				change, err := decodeChange(msg.Payload)
				if err != nil {
					s.logger.Warn("dropping malformed player change", slog.String("error", err.Error()))
					continue
				}
				select {
				case out <- change:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// readAndPublish loads the current record and publishes it to watchers
func (s *Storage) readAndPublish(ctx context.Context, id model.PlayerID, kind model.ChangeKind) (*model.Player, error) {
	fields, err := s.client.HGetAll(ctx, playerKey(id)).Result()
	if err != nil {
		return nil, err
	}
	p, err := parsePlayer(fields)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(changeMessage{Kind: kind, Fields: fields})
	if err != nil {
		return nil, err
	}
	if err := s.client.Publish(ctx, playerChangesChannel(), data).Err(); err != nil {
		// The write is durable; watchers will catch up on the next change
		s.logger.Warn("failed to publish player change", slog.String("player_id", string(id)), slog.String("error", err.Error()))
	}
	return p, nil
}

func decodeChange(payload string) (model.PlayerChange, error) {
	var msg changeMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return model.PlayerChange{}, err
	}
	p, err := parsePlayer(msg.Fields)
	if err != nil {
		return model.PlayerChange{}, err
	}
	return model.PlayerChange{Kind: msg.Kind, Player: p}, nil
}

// updateFields converts an update into HSET pairs and HDEL fields
func updateFields(u model.PlayerUpdate) (sets, dels []interface{}) {
	if u.Username != nil {
		sets = append(sets, fieldUsername, *u.Username)
	}
	if u.IsGuest != nil {
		sets = append(sets, fieldIsGuest, boolField(*u.IsGuest))
	}
	if u.Secret != nil {
		sets = append(sets, fieldSecret, *u.Secret)
	} else if u.ClearSecret {
		dels = append(dels, fieldSecret)
	}
	if u.Points != nil {
		sets = append(sets, fieldPoints, *u.Points)
	}
	if u.Revealed != nil {
		sets = append(sets, fieldRevealed, boolField(*u.Revealed))
		if !*u.Revealed {
			dels = append(dels, fieldRevealedBy, fieldRevealedAt)
		}
	}
	return sets, dels
}

func parsePlayer(fields map[string]string) (*model.Player, error) {
	if len(fields) == 0 {
		return nil, model.ErrPlayerNotFound
	}

	p := &model.Player{
		ID:         model.PlayerID(fields[fieldID]),
		Username:   fields[fieldUsername],
		IsGuest:    fields[fieldIsGuest] == "1",
		Revealed:   fields[fieldRevealed] == "1",
		RevealedBy: model.PlayerID(fields[fieldRevealedBy]),
	}

	var err error
	if secret, ok := fields[fieldSecret]; ok {
		p.Secret = &secret
	}
	if p.Points, err = strconv.Atoi(fields[fieldPoints]); err != nil {
		return nil, fmt.Errorf("parse points: %w", err)
	}
	if p.Version, err = strconv.ParseInt(fields[fieldVersion], 10, 64); err != nil {
		return nil, fmt.Errorf("parse version: %w", err)
	}
	if p.CreatedAt, err = parseTime(fields[fieldCreatedAt]); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if p.UpdatedAt, err = parseTime(fields[fieldUpdatedAt]); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	if raw, ok := fields[fieldRevealedAt]; ok {
		at, err := parseTime(raw)
		if err != nil {
			return nil, fmt.Errorf("parse revealed_at: %w", err)
		}
		p.RevealedAt = &at
	}
	return p, nil
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// floorField encodes an optional floor, "" meaning unbounded
func floorField(floor *int) string {
	if floor == nil {
		return ""
	}
	return strconv.Itoa(*floor)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// Registered player operations

func (s *Storage) SaveRegisteredPlayer(ctx context.Context, rp *model.RegisteredPlayer) error {
	data, err := json.Marshal(rp)
	if err != nil {
		return err
	}

	// Use pipeline for atomic save + index update
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, registeredPlayerKey(rp.PlayerID), data, 0) // No TTL
	pipe.Set(ctx, usernameIndexKey(rp.Username), string(rp.PlayerID), 0)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Storage) GetRegisteredPlayer(ctx context.Context, playerID model.PlayerID) (*model.RegisteredPlayer, error) {
	data, err := s.client.Get(ctx, registeredPlayerKey(playerID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, model.ErrPlayerNotFound
		}
		return nil, err
	}

	var rp model.RegisteredPlayer
	if err := json.Unmarshal(data, &rp); err != nil {
		return nil, err
	}
	return &rp, nil
}

func (s *Storage) GetRegisteredPlayerByUsername(ctx context.Context, username string) (*model.RegisteredPlayer, error) {
	// Look up player ID from username index
	playerIDStr, err := s.client.Get(ctx, usernameIndexKey(username)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, model.ErrPlayerNotFound
		}
		return nil, err
	}

	return s.GetRegisteredPlayer(ctx, model.PlayerID(playerIDStr))
}

// Secret pool operations

func (s *Storage) GetSecretPool(ctx context.Context) ([]string, error) {
	return s.client.LRange(ctx, secretPoolKey(), 0, -1).Result()
}

func (s *Storage) SaveSecretPool(ctx context.Context, secrets []string) error {
	key := secretPoolKey()

	// Replace the list atomically
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	if len(secrets) > 0 {
		members := make([]interface{}, len(secrets))
		for i, sec := range secrets {
			members[i] = sec
		}
		pipe.RPush(ctx, key, members...)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Reveal intent operations

func (s *Storage) SaveRevealIntent(ctx context.Context, intent *model.RevealIntent) error {
	data, err := json.Marshal(intent)
	if err != nil {
		return err
	}
	return s.client.HSet(ctx, revealIntentsKey(), intent.Reveal.ID, data).Err()
}

func (s *Storage) DeleteRevealIntent(ctx context.Context, id string) error {
	return s.client.HDel(ctx, revealIntentsKey(), id).Err()
}

func (s *Storage) ListRevealIntents(ctx context.Context) ([]*model.RevealIntent, error) {
	values, err := s.client.HVals(ctx, revealIntentsKey()).Result()
	if err != nil {
		return nil, err
	}

	intents := make([]*model.RevealIntent, 0, len(values))
	for _, val := range values {
		var intent model.RevealIntent
		if err := json.Unmarshal([]byte(val), &intent); err != nil {
			s.logger.Warn("skipping malformed reveal intent", slog.String("error", err.Error()))
			continue
		}
		intents = append(intents, &intent)
	}

	model.SortIntents(intents)
	return intents, nil
}
