package observation

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/hpungsan/promptmeta/internal/errors"
	"github.com/hpungsan/promptmeta/internal/logging"
	"github.com/hpungsan/promptmeta/internal/ps1"
)

// Kind tags the observation variant.
type Kind string

const (
	KindRun        Kind = "run"
	KindRunIPython Kind = "run_ipython"
)

// Valid reports whether k names a known variant.
func (k Kind) Valid() bool {
	_, ok := behaviors[k]
	return ok
}

// Observation is the output of one executed command or interactive cell
// together with the metadata its prompt reported. Construct it with
// NewCommandOutput or NewIPythonCell; treat it as immutable afterwards.
type Observation struct {
	Kind    Kind   `json:"observation"`
	Content string `json:"content"`

	// Command is the command line for KindRun and the cell source for KindRunIPython.
	Command string `json:"command"`

	// Hidden output never reaches the agent, so it is kept verbatim.
	Hidden bool `json:"hidden"`

	Metadata ps1.Metadata `json:"metadata"`

	// Truncated is set when construction shortened Content; OriginalChars
	// is the rune count before that.
	Truncated     bool `json:"truncated"`
	OriginalChars int  `json:"original_chars"`
}

// behavior is the per-variant part of an observation.
type behavior struct {
	message func(*Observation) string
	success func(*Observation) bool
	render  func(*Observation) string
	banner  func(*Observation) string
}

var behaviors = map[Kind]behavior{
	KindRun: {
		message: func(o *Observation) string {
			return fmt.Sprintf("Command `%s` executed with exit code %d.", o.Command, o.Metadata.ExitCode)
		},
		success: func(o *Observation) bool { return o.Metadata.ExitCode == 0 },
		render:  renderCommandOutput,
		banner: func(o *Observation) string {
			meta, _ := json.MarshalIndent(o.Metadata, "", "  ")
			return fmt.Sprintf("**CommandOutput (exit code=%d, metadata=%s)**\n"+
				"--BEGIN AGENT OBSERVATION--\n%s\n--END AGENT OBSERVATION--",
				o.Metadata.ExitCode, meta, renderCommandOutput(o))
		},
	},
	KindRunIPython: {
		message: func(*Observation) string { return "Code executed in IPython cell." },
		success: func(*Observation) bool { return true },
		render:  func(o *Observation) string { return o.Content },
		banner: func(o *Observation) string {
			return "**IPythonRunCell**\n" + o.Content
		},
	},
}

func (o *Observation) behavior() behavior {
	if b, ok := behaviors[o.Kind]; ok {
		return b
	}
	return behaviors[KindRun]
}

// CommandOutputInput holds the parameters of NewCommandOutput.
type CommandOutputInput struct {
	Content string
	Command string
	Hidden  bool

	// Metadata is used as-is when set. Otherwise Fields, when non-nil, is
	// validated with ps1.FromFields. With neither, defaults apply.
	Metadata *ps1.Metadata
	Fields   map[string]any

	// Legacy is applied once, after Metadata/Fields.
	Legacy LegacyOverrides

	// MaxChars bounds non-hidden content; 0 means DefaultMaxChars.
	MaxChars int
}

// NewCommandOutput builds a KindRun observation. Non-hidden content is
// truncated here and never again.
func NewCommandOutput(in CommandOutputInput, logger *zap.Logger) (*Observation, error) {
	logger = logging.OrNop(logger)

	meta := ps1.NewMetadata()
	switch {
	case in.Metadata != nil:
		meta = *in.Metadata
	case in.Fields != nil:
		m, err := ps1.FromFields(in.Fields, logger)
		if err != nil {
			return nil, err
		}
		meta = m
	}
	meta = in.Legacy.Apply(meta)

	o := &Observation{
		Kind:          KindRun,
		Content:       in.Content,
		Command:       in.Command,
		Hidden:        in.Hidden,
		Metadata:      meta,
		OriginalChars: utf8.RuneCountInString(in.Content),
	}

	if !in.Hidden {
		o.Content, o.Truncated = truncate(in.Content, in.MaxChars)
		if o.Truncated {
			logger.Debug("Truncated large command output",
				zap.Int("original_chars", o.OriginalChars),
				zap.Int("truncated_chars", utf8.RuneCountInString(o.Content)))
		}
	}

	return o, nil
}

// NewIPythonCell builds a KindRunIPython observation. Cells carry no
// prompt metadata and are not truncated.
func NewIPythonCell(content, code string) *Observation {
	return &Observation{
		Kind:          KindRunIPython,
		Content:       content,
		Command:       code,
		Metadata:      ps1.NewMetadata(),
		OriginalChars: utf8.RuneCountInString(content),
	}
}

// Restore rebuilds an observation from stored fields without truncating
// again. It rejects unknown kinds.
func Restore(o Observation) (*Observation, error) {
	if !o.Kind.Valid() {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("unknown observation kind %q", o.Kind))
	}
	return &o, nil
}

// ExitCode is the captured exit code, -1 when unknown.
func (o *Observation) ExitCode() int { return o.Metadata.ExitCode }

// CommandID is the pid reported by the prompt, -1 when unknown.
func (o *Observation) CommandID() int { return o.Metadata.PID }

// Message is a one-line summary.
func (o *Observation) Message() string { return o.behavior().message(o) }

// Success reports whether the command succeeded.
func (o *Observation) Success() bool { return o.behavior().success(o) }

// Error is the negation of Success.
func (o *Observation) Error() bool { return !o.Success() }

// AgentObservation renders the text shown to the agent.
func (o *Observation) AgentObservation() string { return o.behavior().render(o) }

// String renders a debug banner around AgentObservation.
func (o *Observation) String() string { return o.behavior().banner(o) }

func renderCommandOutput(o *Observation) string {
	m := o.Metadata

	var b strings.Builder
	b.WriteString(m.Prefix)
	b.WriteString(o.Content)
	b.WriteString(m.Suffix)
	if m.WorkingDir != nil && *m.WorkingDir != "" {
		fmt.Fprintf(&b, "\n[Current working directory: %s]", *m.WorkingDir)
	}
	if m.InterpreterPath != nil && *m.InterpreterPath != "" {
		fmt.Fprintf(&b, "\n[Python interpreter: %s]", *m.InterpreterPath)
	}
	if m.HasExitCode() {
		fmt.Fprintf(&b, "\n[Command finished with exit code %d]", m.ExitCode)
	}
	return b.String()
}
