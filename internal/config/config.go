package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Storage backends
const (
	StorageMemory   = "memory"
	StorageRedis    = "redis"
	StoragePostgres = "postgres"
)

// Reveal strategies
const (
	StrategyTransaction = "transaction"
	StrategyIntentLog   = "intent_log"
)

// Config is the server configuration, read from the environment
type Config struct {
	AppEnv    string
	LogFormat string // json or text
	LogLevel  string

	Host string
	Port int

	StorageType   string
	RedisURL      string
	DatabaseURL   string
	RunMigrations bool

	JWTSecret  string
	SessionTTL time.Duration

	WinDelta             int
	LoseDelta            int
	PointsFloor          *int // nil when POINTS_FLOOR=none
	ZeroTargetOnReveal   bool
	RemoveSecretOnReveal bool
	RevealStrategy       string

	DefaultSecrets []string
	SecretsFile    string
}

// Default returns the configuration used for unset keys
func Default() Config {
	floor := 0
	return Config{
		AppEnv:         "development",
		LogFormat:      "json",
		LogLevel:       "info",
		Port:           8080,
		StorageType:    StorageMemory,
		SessionTTL:     24 * time.Hour,
		WinDelta:       3,
		LoseDelta:      1,
		PointsFloor:    &floor,
		RevealStrategy: StrategyTransaction,
	}
}

// LoadFromEnv reads configuration through getenv (usually os.Getenv).
// Malformed values are reported together.
func LoadFromEnv(getenv func(string) string) (Config, error) {
	cfg := Default()
	p := parser{getenv: getenv}

	p.str("APP_ENV", &cfg.AppEnv)
	p.str("LOG_FORMAT", &cfg.LogFormat)
	p.str("LOG_LEVEL", &cfg.LogLevel)
	p.str("HOST", &cfg.Host)
	p.int("PORT", &cfg.Port)
	p.str("STORAGE_TYPE", &cfg.StorageType)
	p.str("REDIS_URL", &cfg.RedisURL)
	p.str("DATABASE_URL", &cfg.DatabaseURL)
	p.bool("RUN_MIGRATIONS", &cfg.RunMigrations)
	p.str("JWT_SECRET", &cfg.JWTSecret)
	p.duration("SESSION_TTL", &cfg.SessionTTL)
	p.int("WIN_DELTA", &cfg.WinDelta)
	p.int("LOSE_DELTA", &cfg.LoseDelta)
	p.floor("POINTS_FLOOR", &cfg.PointsFloor)
	p.bool("ZERO_TARGET_ON_REVEAL", &cfg.ZeroTargetOnReveal)
	p.bool("REMOVE_SECRET_ON_REVEAL", &cfg.RemoveSecretOnReveal)
	p.str("REVEAL_STRATEGY", &cfg.RevealStrategy)
	p.list("DEFAULT_SECRETS", &cfg.DefaultSecrets)
	p.str("SECRETS_FILE", &cfg.SecretsFile)

	if err := errors.Join(p.errs...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the configuration is usable
func (c Config) Validate() error {
	var errs []error

	switch c.StorageType {
	case StorageMemory:
	case StorageRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("REDIS_URL required when STORAGE_TYPE=redis"))
		}
	case StoragePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL required when STORAGE_TYPE=postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid STORAGE_TYPE %q: must be memory, redis or postgres", c.StorageType))
	}

	switch c.RevealStrategy {
	case StrategyTransaction, StrategyIntentLog:
	default:
		errs = append(errs, fmt.Errorf("invalid REVEAL_STRATEGY %q", c.RevealStrategy))
	}

	switch c.LogFormat {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("invalid LOG_FORMAT %q", c.LogFormat))
	}

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid PORT %d", c.Port))
	}
	if c.WinDelta < 0 || c.LoseDelta < 0 {
		errs = append(errs, errors.New("WIN_DELTA and LOSE_DELTA must not be negative"))
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, errors.New("SESSION_TTL must be positive"))
	}
	if c.IsProduction() && c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET required in production"))
	}

	return errors.Join(errs...)
}

// IsProduction reports whether APP_ENV is production
func (c Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// Addr returns the listen address
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type parser struct {
	getenv func(string) string
	errs   []error
}

func (p *parser) lookup(key string) (string, bool) {
	v := strings.TrimSpace(p.getenv(key))
	return v, v != ""
}

func (p *parser) str(key string, dst *string) {
	if v, ok := p.lookup(key); ok {
		*dst = v
	}
}

func (p *parser) int(key string, dst *int) {
	v, ok := p.lookup(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = n
}

func (p *parser) bool(key string, dst *bool) {
	v, ok := p.lookup(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = b
}

func (p *parser) duration(key string, dst *time.Duration) {
	v, ok := p.lookup(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = d
}

// floor accepts an integer or "none" for an unbounded balance
func (p *parser) floor(key string, dst **int) {
	v, ok := p.lookup(key)
	if !ok {
		return
	}
	if strings.EqualFold(v, "none") {
		*dst = nil
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = &n
}

// list reads a comma-separated list, dropping blank entries
func (p *parser) list(key string, dst *[]string) {
	v, ok := p.lookup(key)
	if !ok {
		return
	}
	var items []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	*dst = items
}
