package factory

import (
	"context"
	"time"

	"github.com/mcoot/secretgame/internal/dependencies/mocks"
	"github.com/mcoot/secretgame/internal/services/auth"
	"github.com/mcoot/secretgame/internal/services/playerstore"
	"github.com/mcoot/secretgame/internal/services/scoring"
	"github.com/mcoot/secretgame/internal/storage/memory"
	"github.com/mcoot/secretgame/internal/testutil"
)

// TestApp extends App with test-specific helpers
type TestApp struct {
	*App

	// Mocks for test control
	MockClock  *mocks.MockClock
	MockRandom *mocks.MockRandom
	Memory     *memory.Storage
}

// TestOption adjusts the test app's configuration
type TestOption func(*dependencyConfig)

// WithRules sets the scoring rules
func WithRules(rules scoring.Rules) TestOption {
	return func(c *dependencyConfig) { c.rules = rules }
}

// WithStrategy sets the reveal strategy
func WithStrategy(strategy playerstore.Strategy) TestOption {
	return func(c *dependencyConfig) { c.players.Strategy = strategy }
}

// NewTestApp creates an App configured for testing with mocked dependencies
func NewTestApp(opts ...TestOption) *TestApp {
	mockClock := mocks.NewMockClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	mockRandom := mocks.NewMockRandom()
	store := memory.New(mockClock)

	cfg := dependencyConfig{
		auth:    auth.Config{TokenSecret: []byte("test-secret"), SessionDuration: auth.DefaultConfig().SessionDuration},
		rules:   scoring.DefaultRules(),
		players: playerstore.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	app := newWithDependencies(store, mockClock, mockRandom, cfg, testutil.NopLogger())

	return &TestApp{
		App:        app,
		MockClock:  mockClock,
		MockRandom: mockRandom,
		Memory:     store,
	}
}

// SeedSecrets stores extra catalog secrets and reloads the catalog
func (t *TestApp) SeedSecrets(ctx context.Context, secrets ...string) error {
	if err := t.Storage.SaveSecretPool(ctx, secrets); err != nil {
		return err
	}
	t.Catalog.Load(ctx)
	return nil
}
