package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
)

// DefaultMaxOutputChars bounds command output kept in an observation.
const DefaultMaxOutputChars = 30000

// Config holds application configuration.
type Config struct {
	// MaxOutputChars is the truncation threshold (in characters) for non-hidden output
	MaxOutputChars int `json:"max_output_chars"`

	// BeginMarker and EndMarker override the PS1 sentinel literals.
	// Both must be set together; the shell prompt has to emit the same literals.
	BeginMarker string `json:"begin_marker,omitempty"`
	EndMarker   string `json:"end_marker,omitempty"`

	// LogLevel is one of debug, info, warn, error. Logs always go to stderr.
	LogLevel string `json:"log_level,omitempty"`

	// AllowedPaths is an allowlist of directories for import/export operations.
	// Paths outside ~/.promptmeta/exports require either being in this list or AllowUnsafePaths=true.
	// Paths should be absolute (relative paths are ignored).
	AllowedPaths []string `json:"allowed_paths,omitempty"`

	// AllowUnsafePaths disables directory restrictions for import/export.
	// Symlink and extension checks still apply.
	AllowUnsafePaths bool `json:"allow_unsafe_paths,omitempty"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// 0 means use sql.DB default (unlimited).
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	// Unknown tool names are logged as warnings.
	DisabledTools []string `json:"disabled_tools,omitempty"`

	// DisabledTypes is a list of type names to disable entirely.
	// Known types: "ps1", "observation".
	DisabledTypes []string `json:"disabled_types,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxOutputChars: DefaultMaxOutputChars,
		LogLevel:       "info",
	}
}

// Markers returns the configured sentinel pair and whether an override is active.
func (c *Config) Markers() (begin, end string, ok bool) {
	if c == nil || c.BeginMarker == "" || c.EndMarker == "" {
		return "", "", false
	}
	return c.BeginMarker, c.EndMarker, true
}

// Load reads baseDir/config.json over the defaults. A missing file is not
// an error.
func Load(baseDir string) (*Config, error) {
	cfg, err := readFile(filepath.Join(baseDir, "config.json"))
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// LoadWithRepo layers defaults, globalDir/config.json and the closest
// .promptmeta/config.json at or above startDir, in that order.
func LoadWithRepo(globalDir, startDir string) (*Config, error) {
	cfg := DefaultConfig()
	for _, path := range []string{filepath.Join(globalDir, "config.json"), FindRepoConfig(startDir)} {
		layer, err := readFile(path)
		if err != nil {
			return nil, err
		}
		cfg = Merge(cfg, layer)
	}
	return cfg, nil
}

// FindRepoConfig returns the path of the closest .promptmeta/config.json at
// or above startDir, or "" when there is none.
func FindRepoConfig(startDir string) string {
	if startDir == "" {
		return ""
	}
	for dir := startDir; ; {
		candidate := filepath.Join(dir, ".promptmeta", "config.json")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		up := filepath.Dir(dir)
		if up == dir {
			return ""
		}
		dir = up
	}
}

// readFile decodes one config layer. Comments and trailing commas are
// allowed. A blank path or a missing file yields an empty layer.
func readFile(path string) (*Config, error) {
	layer := &Config{}
	if path == "" {
		return layer, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return layer, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(jsonc.ToJSON(data), layer); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return layer, nil
}

// Merge returns base with overlay applied. Non-zero overlay scalars win,
// list fields are unioned and AllowUnsafePaths is sticky.
func Merge(base, overlay *Config) *Config {
	out := &Config{
		MaxOutputChars:   pick(overlay.MaxOutputChars, base.MaxOutputChars),
		LogLevel:         pick(strings.TrimSpace(overlay.LogLevel), base.LogLevel),
		DBMaxOpenConns:   pick(overlay.DBMaxOpenConns, base.DBMaxOpenConns),
		DBMaxIdleConns:   pick(overlay.DBMaxIdleConns, base.DBMaxIdleConns),
		AllowUnsafePaths: base.AllowUnsafePaths || overlay.AllowUnsafePaths,
		AllowedPaths:     union(base.AllowedPaths, overlay.AllowedPaths),
		DisabledTools:    union(base.DisabledTools, overlay.DisabledTools),
		DisabledTypes:    union(base.DisabledTypes, overlay.DisabledTypes),
	}

	// Markers only replace the base as a complete pair.
	out.BeginMarker, out.EndMarker = base.BeginMarker, base.EndMarker
	if overlay.BeginMarker != "" && overlay.EndMarker != "" {
		out.BeginMarker, out.EndMarker = overlay.BeginMarker, overlay.EndMarker
	}
	return out
}

func pick[T comparable](v, fallback T) T {
	var zero T
	if v == zero {
		return fallback
	}
	return v
}

// union concatenates a and b, trimming entries and dropping blanks and
// repeats. The result is nil when nothing survives.
func union(a, b []string) []string {
	var out []string
	seen := make(map[string]struct{}, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, s := range list {
			s = strings.TrimSpace(s)
			if _, dup := seen[s]; s == "" || dup {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}
