package observation

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// DefaultSession groups records stored without a session.
const DefaultSession = "default"

var whitespaceRegex = regexp.MustCompile(`\s+`)

// NormalizeSession trims, lowercases and collapses internal whitespace.
// An empty result becomes DefaultSession.
func NormalizeSession(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = whitespaceRegex.ReplaceAllString(s, " ")
	if s == "" {
		return DefaultSession
	}
	return s
}

// Record is a stored observation.
type Record struct {
	ID         string `json:"id"`
	SessionRaw string `json:"session_raw"`
	Session    string `json:"session"`
	Observation
	CreatedAt int64  `json:"created_at"`
	DeletedAt *int64 `json:"deleted_at,omitempty"`
}

// Summary is the listing view of a record: everything but the content.
type Summary struct {
	ID            string  `json:"id"`
	Session       string  `json:"session"`
	Kind          Kind    `json:"observation"`
	Command       string  `json:"command"`
	ExitCode      int     `json:"exit_code"`
	PID           int     `json:"pid"`
	WorkingDir    *string `json:"working_dir,omitempty"`
	Hidden        bool    `json:"hidden"`
	Truncated     bool    `json:"truncated"`
	OriginalChars int     `json:"original_chars"`
	ContentChars  int     `json:"content_chars"`
	Success       bool    `json:"success"`
	CreatedAt     int64   `json:"created_at"`
	DeletedAt     *int64  `json:"deleted_at,omitempty"`
}

// Summarize builds the listing view of r.
func (r *Record) Summarize() Summary {
	return Summary{
		ID:            r.ID,
		Session:       r.Session,
		Kind:          r.Kind,
		Command:       r.Command,
		ExitCode:      r.ExitCode(),
		PID:           r.CommandID(),
		WorkingDir:    r.Metadata.WorkingDir,
		Hidden:        r.Hidden,
		Truncated:     r.Truncated,
		OriginalChars: r.OriginalChars,
		ContentChars:  utf8.RuneCountInString(r.Content),
		Success:       r.Success(),
		CreatedAt:     r.CreatedAt,
		DeletedAt:     r.DeletedAt,
	}
}
