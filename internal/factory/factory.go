package factory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/mcoot/secretgame/internal/config"
	"github.com/mcoot/secretgame/internal/dependencies/clock"
	"github.com/mcoot/secretgame/internal/dependencies/random"
	"github.com/mcoot/secretgame/internal/feed"
	"github.com/mcoot/secretgame/internal/services/auth"
	"github.com/mcoot/secretgame/internal/services/catalog"
	"github.com/mcoot/secretgame/internal/services/game"
	"github.com/mcoot/secretgame/internal/services/playerstore"
	"github.com/mcoot/secretgame/internal/services/scoring"
	"github.com/mcoot/secretgame/internal/storage"
	"github.com/mcoot/secretgame/internal/storage/memory"
	pgstorage "github.com/mcoot/secretgame/internal/storage/postgres"
	redisstorage "github.com/mcoot/secretgame/internal/storage/redis"
)

// Storage type constants
const (
	StorageTypeMemory   = config.StorageMemory
	StorageTypeRedis    = config.StorageRedis
	StorageTypePostgres = config.StoragePostgres
)

// App contains all wired application components
type App struct {
	// Storage
	Storage     storage.Storage
	StorageType string

	// External dependencies
	Clock  clock.Clock
	Random random.Random
	Logger *slog.Logger

	// Services
	Players     *playerstore.Store
	Catalog     *catalog.Service
	Engine      *game.Engine
	AuthService *auth.Service

	// Live feed
	Hub         *feed.Hub
	Broadcaster *feed.Broadcaster

	stopFeed func()
}

// Config holds configuration for the application factory
type Config struct {
	// Logger is the application logger (optional)
	// If nil, a no-op logger is used
	Logger *slog.Logger
	// StorageType selects the storage backend ("memory", "redis" or "postgres")
	// If empty, defaults to "memory"
	StorageType string
	// RedisConfig holds Redis connection settings (required if StorageType is "redis")
	RedisConfig *redisstorage.Config
	// PostgresConfig holds database settings (required if StorageType is "postgres")
	PostgresConfig *pgstorage.Config
	// RunMigrations applies the Postgres schema before connecting
	RunMigrations bool

	// AuthConfig holds configuration for the auth service (optional)
	AuthConfig auth.Config
	// Rules holds the scoring rules. If zero value, scoring.DefaultRules() is used
	Rules scoring.Rules
	// PlayerStore configures the points floor and reveal strategy
	// If zero value, playerstore.DefaultConfig() is used
	PlayerStore playerstore.Config
	// DefaultSecrets overrides the catalog's built-in list (optional)
	DefaultSecrets []string
}

// ConfigFromEnv maps the server configuration onto a factory Config
func ConfigFromEnv(env config.Config, logger *slog.Logger) Config {
	cfg := Config{
		Logger:        logger,
		StorageType:   env.StorageType,
		RunMigrations: env.RunMigrations,
		AuthConfig: auth.Config{
			TokenSecret:     []byte(env.JWTSecret),
			SessionDuration: env.SessionTTL,
		},
		Rules: scoring.Rules{
			WinDelta:             env.WinDelta,
			LoseDelta:            env.LoseDelta,
			ZeroTargetOnReveal:   env.ZeroTargetOnReveal,
			RemoveSecretOnReveal: env.RemoveSecretOnReveal,
		},
		PlayerStore: playerstore.Config{
			PointsFloor: env.PointsFloor,
			Strategy:    playerstore.Strategy(env.RevealStrategy),
		},
		DefaultSecrets: env.DefaultSecrets,
	}

	switch env.StorageType {
	case StorageTypeRedis:
		redisCfg := redisstorage.DefaultConfig()
		redisCfg.URL = env.RedisURL
		cfg.RedisConfig = &redisCfg
	case StorageTypePostgres:
		pgCfg := pgstorage.DefaultConfig()
		pgCfg.URL = env.DatabaseURL
		cfg.PostgresConfig = &pgCfg
	}
	return cfg
}

// New creates a new application with all dependencies wired
func New(ctx context.Context, cfg Config) (*App, error) {
	// Use no-op logger if not provided
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}

	// Create external dependencies
	clk := clock.New()
	rnd := random.New()

	// Create storage based on type
	var store storage.Storage
	storageType := cfg.StorageType
	if storageType == "" {
		storageType = StorageTypeMemory
	}

	switch storageType {
	case StorageTypeMemory:
		store = memory.New(clk)
	case StorageTypeRedis:
		if cfg.RedisConfig == nil {
			return nil, errors.New("RedisConfig required when StorageType is redis")
		}
		redisStore, err := redisstorage.New(*cfg.RedisConfig, clk, logger)
		if err != nil {
			return nil, err
		}
		store = redisStore
	case StorageTypePostgres:
		if cfg.PostgresConfig == nil {
			return nil, errors.New("PostgresConfig required when StorageType is postgres")
		}
		if cfg.RunMigrations {
			if err := pgstorage.Migrate(cfg.PostgresConfig.URL, logger); err != nil {
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}
		pgStore, err := pgstorage.New(ctx, *cfg.PostgresConfig, clk, logger)
		if err != nil {
			return nil, err
		}
		store = pgStore
	default:
		return nil, errors.New("invalid StorageType: must be 'memory', 'redis' or 'postgres'")
	}

	rules := cfg.Rules
	if rules == (scoring.Rules{}) {
		rules = scoring.DefaultRules()
	}
	if err := rules.Validate(); err != nil {
		return nil, err
	}

	playerCfg := cfg.PlayerStore
	if playerCfg == (playerstore.Config{}) {
		playerCfg = playerstore.DefaultConfig()
	}

	authCfg := cfg.AuthConfig
	if authCfg.SessionDuration == 0 {
		authCfg.SessionDuration = auth.DefaultConfig().SessionDuration
	}

	app := newWithDependencies(store, clk, rnd, dependencyConfig{
		auth:           authCfg,
		rules:          rules,
		players:        playerCfg,
		defaultSecrets: cfg.DefaultSecrets,
	}, logger)
	app.StorageType = storageType
	return app, nil
}

type dependencyConfig struct {
	auth           auth.Config
	rules          scoring.Rules
	players        playerstore.Config
	defaultSecrets []string
}

// newWithDependencies creates an App with the given dependencies (useful for testing)
func newWithDependencies(store storage.Storage, clk clock.Clock, rnd random.Random, cfg dependencyConfig, logger *slog.Logger) *App {
	players := playerstore.New(store, clk, logger.With(slog.String("component", "playerstore")), cfg.players)
	catalogService := catalog.New(store, logger.With(slog.String("component", "catalog")), cfg.defaultSecrets)
	engine := game.NewEngine(players, cfg.rules, clk, rnd, logger.With(slog.String("component", "game")))
	authService := auth.New(players, store, clk, rnd, logger.With(slog.String("component", "auth")), cfg.auth)
	hub := feed.NewHub(logger)

	return &App{
		Storage:     store,
		StorageType: StorageTypeMemory,
		Clock:       clk,
		Random:      rnd,
		Logger:      logger,
		Players:     players,
		Catalog:     catalogService,
		Engine:      engine,
		AuthService: authService,
		Hub:         hub,
		Broadcaster: feed.NewBroadcaster(players, hub, logger),
	}
}

// Start loads the catalog, completes reveals interrupted by a previous
// crash and starts the live feed
func (a *App) Start(ctx context.Context) error {
	a.Catalog.Load(ctx)

	if _, err := a.Players.RecoverIntents(ctx); err != nil {
		a.Logger.Warn("some reveal intents could not be recovered", slog.String("error", err.Error()))
	}

	go a.Hub.Run()

	stop, err := a.Broadcaster.Start(ctx)
	if err != nil {
		a.Hub.Close()
		return fmt.Errorf("start player feed: %w", err)
	}
	a.stopFeed = stop
	return nil
}

// RunMaintenance forgets expired revoked sessions every interval until ctx
// is done
func (a *App) RunMaintenance(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.AuthService.CleanRevoked(); n > 0 {
				a.Logger.Debug("revoked sessions cleaned", slog.Int("removed", n))
			}
		}
	}
}

// Close stops the live feed and releases storage connections
func (a *App) Close() error {
	if a.stopFeed != nil {
		a.stopFeed()
	}
	a.Players.Close()
	a.Hub.Close()
	if closer, ok := a.Storage.(storage.Closer); ok {
		return closer.Close()
	}
	return nil
}
