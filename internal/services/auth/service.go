package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/mcoot/secretgame/internal/dependencies/clock"
	"github.com/mcoot/secretgame/internal/dependencies/random"
	"github.com/mcoot/secretgame/internal/model"
	"github.com/mcoot/secretgame/internal/services/playerstore"
	"github.com/mcoot/secretgame/internal/storage"
)

// Errors. Every credential or token problem wraps model.ErrAuthFailure.
var (
	ErrInvalidCredentials = fmt.Errorf("invalid credentials: %w", model.ErrAuthFailure)
	ErrInvalidSession     = fmt.Errorf("invalid or expired session: %w", model.ErrAuthFailure)
	ErrUsernameExists     = fmt.Errorf("username already exists: %w", model.ErrAuthFailure)
	ErrInvalidUsername    = fmt.Errorf("username and password are required: %w", model.ErrAuthFailure)
)

// GuestNamePrefix prefixes generated names for anonymous players
const GuestNamePrefix = "Joueur_"

const guestSuffixLength = 6

// Session represents an authenticated session
type Session struct {
	Token     string
	PlayerID  model.PlayerID
	Player    *model.Player
	IsGuest   bool
	ExpiresAt time.Time
}

// Service handles sign-in and session tokens. Tokens are stateless JWTs;
// only signed-out token ids are remembered, until they would have expired.
type Service struct {
	players *playerstore.Store
	storage storage.Storage
	clock   clock.Clock
	random  random.Random
	logger  *slog.Logger

	secret          []byte
	sessionDuration time.Duration

	mu      sync.Mutex
	revoked map[string]time.Time
}

// Config holds configuration for the auth service
type Config struct {
	// TokenSecret signs session tokens. A random secret is generated when
	// empty, so tokens do not survive a restart.
	TokenSecret     []byte
	SessionDuration time.Duration
}

// DefaultConfig returns default auth configuration
func DefaultConfig() Config {
	return Config{
		SessionDuration: 24 * time.Hour,
	}
}

// New creates a new auth service
func New(players *playerstore.Store, storage storage.Storage, clock clock.Clock, rng random.Random, logger *slog.Logger, cfg Config) *Service {
	if cfg.SessionDuration == 0 {
		cfg.SessionDuration = DefaultConfig().SessionDuration
	}
	if len(cfg.TokenSecret) == 0 {
		cfg.TokenSecret = []byte(rng.String(32, random.Alphanumeric) + rng.UUID())
	}
	return &Service{
		players:         players,
		storage:         storage,
		clock:           clock,
		random:          rng,
		logger:          logger,
		secret:          cfg.TokenSecret,
		sessionDuration: cfg.SessionDuration,
		revoked:         make(map[string]time.Time),
	}
}

// SignInAnonymous creates a guest player and session. A blank display name
// is replaced with a generated one.
func (s *Service) SignInAnonymous(ctx context.Context, displayName string) (*Session, error) {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		displayName = GuestNamePrefix + s.random.String(guestSuffixLength, random.Alphanumeric)
	}

	player, err := s.players.Upsert(ctx, model.PlayerID(s.random.UUID()), model.PlayerUpdate{
		Username: model.Ptr(displayName),
		IsGuest:  model.Ptr(true),
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("guest signed in",
		slog.String("player_id", string(player.ID)),
		slog.String("username", player.Username),
	)
	return s.createSession(player)
}

// Register creates a registered player account and session
func (s *Service) Register(ctx context.Context, username, password, displayName string) (*Session, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, ErrInvalidUsername
	}

	// Check if username exists
	_, err := s.storage.GetRegisteredPlayerByUsername(ctx, username)
	if err == nil {
		return nil, ErrUsernameExists
	}
	if !errors.Is(err, model.ErrPlayerNotFound) {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		displayName = username
	}

	player, err := s.players.Upsert(ctx, model.PlayerID(s.random.UUID()), model.PlayerUpdate{
		Username: model.Ptr(displayName),
		IsGuest:  model.Ptr(false),
	})
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	registeredPlayer := &model.RegisteredPlayer{
		PlayerID:     player.ID,
		Username:     username,
		PasswordHash: string(hash),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.storage.SaveRegisteredPlayer(ctx, registeredPlayer); err != nil {
		return nil, err
	}

	s.logger.Info("player registered",
		slog.String("player_id", string(player.ID)),
		slog.String("username", username),
	)
	return s.createSession(player)
}

// SignInWithCredential authenticates a registered player and creates a session
func (s *Service) SignInWithCredential(ctx context.Context, username, password string) (*Session, error) {
	rp, err := s.storage.GetRegisteredPlayerByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, model.ErrPlayerNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(rp.PasswordHash), []byte(password)); err != nil {
		s.logger.Warn("sign-in rejected", slog.String("username", rp.Username))
		return nil, ErrInvalidCredentials
	}

	player, err := s.players.Fetch(ctx, rp.PlayerID)
	if err != nil {
		return nil, err
	}

	return s.createSession(player)
}

// ValidateSession checks a session token and returns its claims
func (s *Service) ValidateSession(token string) (*Claims, error) {
	claims, err := verify(s.secret, token, s.clock.Now)
	if err != nil {
		return nil, ErrInvalidSession
	}

	s.mu.Lock()
	_, revoked := s.revoked[claims.ID]
	s.mu.Unlock()
	if revoked {
		return nil, ErrInvalidSession
	}

	return claims, nil
}

// CurrentIdentity returns the player id a token was issued for
func (s *Service) CurrentIdentity(token string) (model.PlayerID, error) {
	claims, err := s.ValidateSession(token)
	if err != nil {
		return "", err
	}
	return claims.PlayerID, nil
}

// SignOut revokes a token until it would have expired. Invalid tokens are
// ignored.
func (s *Service) SignOut(token string) {
	claims, err := s.ValidateSession(token)
	if err != nil {
		return
	}

	s.mu.Lock()
	s.revoked[claims.ID] = claims.ExpiresAt.Time
	s.mu.Unlock()

	s.logger.Info("player signed out", slog.String("player_id", string(claims.PlayerID)))
}

// CleanRevoked forgets revoked token ids that have since expired (call
// periodically). It returns the number removed.
func (s *Service) CleanRevoked() int {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, expiresAt := range s.revoked {
		if now.After(expiresAt) {
			delete(s.revoked, id)
			removed++
		}
	}
	return removed
}

// createSession issues a token for a player
func (s *Service) createSession(player *model.Player) (*Session, error) {
	now := s.clock.Now()
	expiresAt := now.Add(s.sessionDuration)

	token, err := sign(s.secret, Claims{
		PlayerID: player.ID,
		Guest:    player.IsGuest,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        s.random.UUID(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	if err != nil {
		return nil, err
	}

	return &Session{
		Token:     token,
		PlayerID:  player.ID,
		Player:    player,
		IsGuest:   player.IsGuest,
		ExpiresAt: expiresAt,
	}, nil
}
