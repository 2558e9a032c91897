package catalog

import (
	"bufio"
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/mcoot/secretgame/internal/storage"
)

// DefaultSecrets is the built-in ordered secret list
var DefaultSecrets = []string{
	"Dragon Slayer",
	"Master Chef",
	"Secret Agent",
	"Time Traveler",
}

// Service provides the list of secret phrases offered at selection time
type Service struct {
	storage  storage.Storage
	logger   *slog.Logger
	defaults []string

	mu      sync.RWMutex
	secrets []string
	loaded  bool
}

// New creates a new catalog. A nil or empty defaults uses DefaultSecrets.
func New(storage storage.Storage, logger *slog.Logger, defaults []string) *Service {
	if len(defaults) == 0 {
		defaults = DefaultSecrets
	}
	defaults = merge(defaults, nil)
	return &Service{
		storage:  storage,
		logger:   logger,
		defaults: defaults,
		secrets:  defaults,
	}
}

// Load merges the built-in list with the extras held in storage. Defaults
// keep their order and come first; extras follow in their own order with
// exact-match duplicates dropped. If storage is unavailable the defaults
// alone are used.
func (s *Service) Load(ctx context.Context) []string {
	extras, err := s.storage.GetSecretPool(ctx)
	if err != nil {
		s.logger.Warn("secret pool unavailable, using built-in secrets",
			slog.String("error", err.Error()),
		)
		extras = nil
	}

	merged := merge(s.defaults, extras)

	s.mu.Lock()
	s.secrets = merged
	s.loaded = true
	s.mu.Unlock()

	s.logger.Info("secret catalog loaded",
		slog.Int("defaults", len(s.defaults)),
		slog.Int("total", len(merged)),
	)
	return append([]string(nil), merged...)
}

// SeedFromFile replaces the stored secret pool with the phrases in a file
// (one per line) and reloads the catalog
func (s *Service) SeedFromFile(ctx context.Context, path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var phrases []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		phrase := strings.TrimSpace(scanner.Text())
		if phrase != "" {
			phrases = append(phrases, phrase)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if err := s.storage.SaveSecretPool(ctx, phrases); err != nil {
		return nil, err
	}
	return s.Load(ctx), nil
}

// Secrets returns the current list
func (s *Service) Secrets() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.secrets...)
}

// Search returns the secrets containing query, ignoring case. An empty
// query matches everything.
func (s *Service) Search(query string) []string {
	query = strings.ToLower(strings.TrimSpace(query))

	s.mu.RLock()
	defer s.mu.RUnlock()

	results := []string{}
	for _, secret := range s.secrets {
		if strings.Contains(strings.ToLower(secret), query) {
			results = append(results, secret)
		}
	}
	return results
}

// IsLoaded returns whether Load has run
func (s *Service) IsLoaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}

// Count returns the number of secrets
func (s *Service) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.secrets)
}

// merge appends extras to base, dropping exact duplicates and blanks
func merge(base, extras []string) []string {
	seen := make(map[string]struct{}, len(base)+len(extras))
	merged := make([]string, 0, len(base)+len(extras))
	for _, list := range [][]string{base, extras} {
		for _, secret := range list {
			if strings.TrimSpace(secret) == "" {
				continue
			}
			if _, ok := seen[secret]; ok {
				continue
			}
			seen[secret] = struct{}{}
			merged = append(merged, secret)
		}
	}
	return merged
}
