package catalog

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/mcoot/secretgame/internal/dependencies/mocks"
	"github.com/mcoot/secretgame/internal/storage"
	"github.com/mcoot/secretgame/internal/storage/memory"
	"github.com/mcoot/secretgame/internal/testutil"
)

type unavailableStorage struct {
	storage.Storage
}

func (unavailableStorage) GetSecretPool(context.Context) ([]string, error) {
	return nil, errors.New("connection refused")
}

type CatalogSuite struct {
	suite.Suite
	storage *memory.Storage
	catalog *Service
	ctx     context.Context
}

func TestCatalogSuite(t *testing.T) {
	suite.Run(t, new(CatalogSuite))
}

func (s *CatalogSuite) SetupTest() {
	s.ctx = context.Background()
	s.storage = memory.New(mocks.NewMockClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)))
	s.catalog = New(s.storage, testutil.NopLogger(), nil)
}

func (s *CatalogSuite) TestLoadDefaultsOnly() {
	secrets := s.catalog.Load(s.ctx)

	s.Equal(DefaultSecrets, secrets)
	s.True(s.catalog.IsLoaded())
	s.Equal(4, s.catalog.Count())
}

func (s *CatalogSuite) TestLoadAppendsExtras() {
	s.Require().NoError(s.storage.SaveSecretPool(s.ctx, []string{"Custom1"}))

	secrets := s.catalog.Load(s.ctx)

	s.Equal([]string{"Dragon Slayer", "Master Chef", "Secret Agent", "Time Traveler", "Custom1"}, secrets)
}

func (s *CatalogSuite) TestLoadDropsExactDuplicates() {
	s.Require().NoError(s.storage.SaveSecretPool(s.ctx, []string{"Master Chef", "master chef", "Custom1", "Custom1"}))

	secrets := s.catalog.Load(s.ctx)

	s.Equal([]string{"Dragon Slayer", "Master Chef", "Secret Agent", "Time Traveler", "master chef", "Custom1"}, secrets)
}

func (s *CatalogSuite) TestLoadFallsBackWhenPoolUnavailable() {
	logger, buf := testutil.CaptureLogger(slog.LevelWarn)
	catalog := New(unavailableStorage{Storage: s.storage}, logger, nil)

	secrets := catalog.Load(s.ctx)

	s.Equal(DefaultSecrets, secrets)
	s.True(catalog.IsLoaded())

	entries := testutil.LogEntries(s.T(), buf)
	s.Require().Len(entries, 1)
	s.Equal("WARN", entries[0]["level"])
	s.Equal("connection refused", entries[0]["error"])
}

func (s *CatalogSuite) TestCustomDefaults() {
	catalog := New(s.storage, testutil.NopLogger(), []string{"Pirate", "Ninja", "Pirate"})

	s.Equal([]string{"Pirate", "Ninja"}, catalog.Load(s.ctx))
}

func (s *CatalogSuite) TestSecretsBeforeLoadAreDefaults() {
	s.False(s.catalog.IsLoaded())
	s.Equal(DefaultSecrets, s.catalog.Secrets())
}

func (s *CatalogSuite) TestSecretsReturnsCopy() {
	secrets := s.catalog.Secrets()
	secrets[0] = "Changed"

	s.Equal("Dragon Slayer", s.catalog.Secrets()[0])
}

func (s *CatalogSuite) TestSearch() {
	s.catalog.Load(s.ctx)

	s.Equal([]string{"Dragon Slayer", "Secret Agent"}, s.catalog.Search("AG"))
	s.Equal([]string{"Time Traveler"}, s.catalog.Search("time"))
	s.Empty(s.catalog.Search("zzz"))
	s.Len(s.catalog.Search(""), 4)
}

func (s *CatalogSuite) TestSeedFromFile() {
	path := filepath.Join(s.T().TempDir(), "secrets.txt")
	s.Require().NoError(os.WriteFile(path, []byte("Custom1\n\n  Custom2  \nDragon Slayer\n"), 0o600))

	secrets, err := s.catalog.SeedFromFile(s.ctx, path)
	s.Require().NoError(err)

	s.Equal([]string{"Dragon Slayer", "Master Chef", "Secret Agent", "Time Traveler", "Custom1", "Custom2"}, secrets)

	pool, err := s.storage.GetSecretPool(s.ctx)
	s.Require().NoError(err)
	s.Equal([]string{"Custom1", "Custom2", "Dragon Slayer"}, pool)
}

func (s *CatalogSuite) TestSeedFromMissingFile() {
	_, err := s.catalog.SeedFromFile(s.ctx, filepath.Join(s.T().TempDir(), "missing.txt"))
	s.Error(err)
	s.False(s.catalog.IsLoaded())
}
