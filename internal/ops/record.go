package ops

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/promptmeta/internal/config"
	"github.com/hpungsan/promptmeta/internal/db"
	"github.com/hpungsan/promptmeta/internal/errors"
	"github.com/hpungsan/promptmeta/internal/observation"
	"github.com/hpungsan/promptmeta/internal/ps1"
)

// ObserveInput describes one executed command or interactive cell.
type ObserveInput struct {
	Kind    string // "run" (default) or "run_ipython"
	Command string // command line, or cell source
	Output  string // raw captured output, prompt blocks included
	Hidden  bool

	// Metadata, when set, is used instead of scanning Output.
	Metadata map[string]any

	// Legacy carries flat exit_code / command_id values from older callers.
	Legacy observation.LegacyOverrides
}

// RenderOutput contains the result of the Render operation.
type RenderOutput struct {
	observation.Observation
	Message          string `json:"message"`
	Success          bool   `json:"success"`
	AgentObservation string `json:"agent_observation"`
	BlocksFound      int    `json:"blocks_found"`
}

// Render builds an observation without storing it.
func Render(cfg *config.Config, logger *zap.Logger, input ObserveInput) (*RenderOutput, error) {
	o, blocks, err := observe(cfg, logger, input)
	if err != nil {
		return nil, err
	}
	return &RenderOutput{
		Observation:      *o,
		Message:          o.Message(),
		Success:          o.Success(),
		AgentObservation: o.AgentObservation(),
		BlocksFound:      blocks,
	}, nil
}

// observe turns raw output into an observation. For command runs without
// explicit metadata, the last accepted prompt block supplies the metadata
// and every accepted block is stripped from the content.
func observe(cfg *config.Config, logger *zap.Logger, input ObserveInput) (*observation.Observation, int, error) {
	kind, err := parseKind(input.Kind)
	if err != nil {
		return nil, 0, err
	}
	if kind == observation.KindRunIPython {
		return observation.NewIPythonCell(input.Output, input.Command), 0, nil
	}

	in := observation.CommandOutputInput{
		Content:  input.Output,
		Command:  input.Command,
		Hidden:   input.Hidden,
		Fields:   input.Metadata,
		Legacy:   input.Legacy,
		MaxChars: maxChars(cfg),
	}

	blocks := 0
	if input.Metadata == nil {
		scanner, err := NewScanner(cfg, logger)
		if err != nil {
			return nil, 0, err
		}
		if matches := scanner.Scan(input.Output); len(matches) > 0 {
			meta, err := scanner.MetadataFromMatch(matches[len(matches)-1])
			if err != nil {
				return nil, 0, err
			}
			in.Metadata = &meta
			in.Content = ps1.Strip(input.Output, matches)
			blocks = len(matches)
		}
	}

	o, err := observation.NewCommandOutput(in, logger)
	if err != nil {
		return nil, 0, err
	}
	return o, blocks, nil
}

// RecordInput contains parameters for the Record operation.
type RecordInput struct {
	ObserveInput
	Session string // default: "default"
}

// RecordOutput contains the result of the Record operation.
type RecordOutput struct {
	ID          string `json:"id"`
	Session     string `json:"session"`
	Message     string `json:"message"`
	Success     bool   `json:"success"`
	ExitCode    int    `json:"exit_code"`
	Truncated   bool   `json:"truncated"`
	BlocksFound int    `json:"blocks_found"`
	CreatedAt   int64  `json:"created_at"`
}

// Record builds an observation and stores it in the history.
func Record(ctx context.Context, database *sql.DB, cfg *config.Config, logger *zap.Logger, input RecordInput) (*RecordOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.NewCancelled("record")
	}

	o, blocks, err := observe(cfg, logger, input.ObserveInput)
	if err != nil {
		return nil, err
	}

	id, err := generateULID()
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	r := &observation.Record{
		ID:          id,
		SessionRaw:  input.Session,
		Session:     observation.NormalizeSession(input.Session),
		Observation: *o,
		CreatedAt:   time.Now().Unix(),
	}
	if err := db.Insert(database, r); err != nil {
		return nil, err
	}

	return &RecordOutput{
		ID:          r.ID,
		Session:     r.Session,
		Message:     o.Message(),
		Success:     o.Success(),
		ExitCode:    o.ExitCode(),
		Truncated:   o.Truncated,
		BlocksFound: blocks,
		CreatedAt:   r.CreatedAt,
	}, nil
}
