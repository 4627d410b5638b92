// Package ps1 reads the metadata block a shell prompt prints after each
// command: it finds sentinel-delimited payloads in captured output, repairs
// the one malformation shell expansion commonly produces, and coerces the
// result into a Metadata record.
package ps1

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/hpungsan/promptmeta/internal/errors"
	"github.com/hpungsan/promptmeta/internal/logging"
)

// Class is the outcome of examining one candidate block.
type Class int

const (
	ClassAccepted Class = iota
	ClassRepaired
	ClassTemplate
	ClassUnrecoverable
)

var classNames = map[Class]string{
	ClassAccepted:      "accepted",
	ClassRepaired:      "accepted-repaired",
	ClassTemplate:      "skipped-template",
	ClassUnrecoverable: "skipped-unrecoverable",
}

func (c Class) String() string {
	if name, ok := classNames[c]; ok {
		return name
	}
	return fmt.Sprintf("class(%d)", int(c))
}

// MarshalText renders the class name in JSON output.
func (c Class) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// Accepted reports whether the candidate yields a usable payload.
func (c Class) Accepted() bool {
	return c == ClassAccepted || c == ClassRepaired
}

// Match is an accepted metadata block.
type Match struct {
	// Start and End are byte offsets of the block (begin marker through end marker).
	Start int `json:"start"`
	End   int `json:"end"`

	// Payload is the trimmed text between the markers, as captured.
	Payload string `json:"payload"`

	// JSON is the text that parsed: Payload itself, or its repair.
	JSON string `json:"json"`

	Repaired bool `json:"repaired"`

	Fields map[string]any `json:"-"`
}

// Candidate is any marker-delimited block together with its classification.
type Candidate struct {
	Match
	Class Class `json:"class"`
}

// Scanner finds metadata blocks delimited by a fixed pair of sentinels.
// It holds no mutable state and is safe for concurrent use.
type Scanner struct {
	begin   string
	end     string
	pattern *regexp.Regexp
	logger  *zap.Logger
}

// NewScanner builds a scanner for the given sentinels. Surrounding
// whitespace of each literal is ignored; the begin literal must start a line.
func NewScanner(begin, end string, logger *zap.Logger) (*Scanner, error) {
	begin = strings.TrimSpace(begin)
	end = strings.TrimSpace(end)
	if begin == "" || end == "" {
		return nil, errors.NewInvalidRequest("begin and end markers must not be empty")
	}
	if begin == end {
		return nil, errors.NewInvalidRequest("begin and end markers must differ")
	}

	pattern, err := regexp.Compile(`(?ms)^` + regexp.QuoteMeta(begin) + `(.*?)` + regexp.QuoteMeta(end))
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	return &Scanner{
		begin:   begin,
		end:     end,
		pattern: pattern,
		logger:  logging.OrNop(logger),
	}, nil
}

// DefaultScanner returns a scanner for DefaultBeginMarker/DefaultEndMarker.
func DefaultScanner(logger *zap.Logger) *Scanner {
	s, err := NewScanner(DefaultBeginMarker, DefaultEndMarker, logger)
	if err != nil {
		panic(err)
	}
	return s
}

// Markers returns the trimmed sentinel literals.
func (s *Scanner) Markers() (begin, end string) {
	return s.begin, s.end
}

// Prompt renders the PS1 value matching this scanner's sentinels.
func (s *Scanner) Prompt() string {
	return PromptTemplate(s.begin, s.end)
}

// Inspect classifies every marker-delimited block in text, in order.
// It never fails; malformed blocks are reported through their Class.
func (s *Scanner) Inspect(text string) []Candidate {
	locs := s.pattern.FindAllStringSubmatchIndex(text, -1)
	if len(locs) == 0 {
		return nil
	}

	candidates := make([]Candidate, 0, len(locs))
	for _, loc := range locs {
		c := s.classify(strings.TrimSpace(text[loc[2]:loc[3]]))
		c.Start, c.End = loc[0], loc[1]
		candidates = append(candidates, c)
	}
	return candidates
}

// Scan returns the accepted blocks in text, in order. An empty result is
// normal: the prompt may not have run yet or printed only templates.
func (s *Scanner) Scan(text string) []Match {
	var matches []Match
	for _, c := range s.Inspect(text) {
		if c.Class.Accepted() {
			matches = append(matches, c.Match)
		}
	}
	return matches
}

func (s *Scanner) classify(payload string) Candidate {
	c := Candidate{Match: Match{Payload: payload}}

	fields, err := parseObject(payload)
	if err == nil {
		c.JSON, c.Fields, c.Class = payload, fields, ClassAccepted
		return c
	}

	if isUnexpandedTemplate(payload) {
		s.logger.Debug("Skipping PS1 template (not expanded)", zap.String("payload", preview(payload, 100)))
		c.Class = ClassTemplate
		return c
	}

	fixed, ok := RepairJSON(payload)
	if !ok {
		s.logger.Warn("Could not fix malformed PS1 JSON, skipping", zap.String("payload", payload))
		c.Class = ClassUnrecoverable
		return c
	}
	fields, err = parseObject(fixed)
	if err != nil {
		s.logger.Warn("Failed to parse PS1 metadata, skipping", zap.String("payload", payload), zap.Error(err))
		c.Class = ClassUnrecoverable
		return c
	}

	s.logger.Debug("Fixed malformed PS1 JSON", zap.String("payload", preview(payload, 50)))
	c.JSON, c.Fields, c.Repaired, c.Class = fixed, fields, true, ClassRepaired
	return c
}

// MetadataFromMatch converts a single known match. Unlike Scan, a payload
// that neither parses nor repairs is a MALFORMED_METADATA error.
func (s *Scanner) MetadataFromMatch(m Match) (Metadata, error) {
	return ParseMetadata(m.Payload, s.logger)
}

// Last returns the metadata of the final accepted block in text, which
// describes the most recently finished command. ok is false when text
// holds no accepted block.
func (s *Scanner) Last(text string) (meta Metadata, ok bool, err error) {
	matches := s.Scan(text)
	if len(matches) == 0 {
		return NewMetadata(), false, nil
	}
	meta, err = s.MetadataFromMatch(matches[len(matches)-1])
	if err != nil {
		return NewMetadata(), false, err
	}
	return meta, true, nil
}

// Strip removes the given blocks from text and returns the remaining
// command output. Newlines left around a removed block are dropped and
// empty segments are skipped.
func Strip(text string, matches []Match) string {
	if len(matches) == 0 {
		return text
	}

	var parts []string
	prev := 0
	for _, m := range matches {
		if m.Start < prev || m.End > len(text) {
			continue
		}
		if seg := strings.Trim(text[prev:m.Start], "\n"); seg != "" {
			parts = append(parts, seg)
		}
		prev = m.End
	}
	if seg := strings.Trim(text[prev:], "\n"); seg != "" {
		parts = append(parts, seg)
	}
	return strings.Join(parts, "\n")
}

// ParseMetadata parses one payload, repairing it if needed, and coerces it.
// Failure to obtain a JSON object is a MALFORMED_METADATA error.
func ParseMetadata(payload string, logger *zap.Logger) (Metadata, error) {
	payload = strings.TrimSpace(payload)

	fields, err := parseObject(payload)
	if err != nil {
		fixed, ok := RepairJSON(payload)
		if !ok {
			return NewMetadata(), errors.NewMalformedMetadata(payload)
		}
		if fields, err = parseObject(fixed); err != nil {
			return NewMetadata(), errors.NewMalformedMetadata(payload)
		}
	}

	return FromFields(fields, logger)
}

// parseObject strictly decodes a single JSON object. Numbers are kept as
// json.Number so integer values survive exactly.
func parseObject(s string) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()

	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, fmt.Errorf("not a JSON object")
	}
	if _, err := dec.Token(); !stderrors.Is(err, io.EOF) {
		return nil, fmt.Errorf("unexpected data after JSON object")
	}
	return obj, nil
}

// preview shortens s to at most n bytes for logging without splitting a rune.
func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
