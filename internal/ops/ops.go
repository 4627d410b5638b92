// Package ops implements the operations shared by the CLI, MCP server and
// web UI. Each operation takes an Input struct and returns an Output struct
// that serializes directly as the JSON response.
package ops

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/hpungsan/promptmeta/internal/config"
	"github.com/hpungsan/promptmeta/internal/errors"
	"github.com/hpungsan/promptmeta/internal/observation"
	"github.com/hpungsan/promptmeta/internal/ps1"
)

// Pagination limits
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// Pagination contains pagination metadata for list operations.
type Pagination struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
	Total   int  `json:"total"`
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	return min(limit, MaxListLimit), max(offset, 0)
}

// NewScanner builds the scanner for the markers configured in cfg, or the
// default markers when none are set.
func NewScanner(cfg *config.Config, logger *zap.Logger) (*ps1.Scanner, error) {
	begin, end, ok := cfg.Markers()
	if !ok {
		return ps1.DefaultScanner(logger), nil
	}
	return ps1.NewScanner(begin, end, logger)
}

func maxChars(cfg *config.Config) int {
	if cfg == nil || cfg.MaxOutputChars <= 0 {
		return observation.DefaultMaxChars
	}
	return cfg.MaxOutputChars
}

func parseKind(s string) (observation.Kind, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return observation.KindRun, nil
	}
	k := observation.Kind(s)
	if !k.Valid() {
		return "", errors.NewInvalidRequest("observation must be one of: run, run_ipython")
	}
	return k, nil
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// generateULID returns a new identifier. IDs generated by one process are
// strictly increasing, which breaks created_at ties in listings.
func generateULID() (string, error) {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	id, err := ulid.New(ulid.Timestamp(time.Now()), entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
