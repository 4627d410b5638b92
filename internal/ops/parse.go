package ops

import (
	"go.uber.org/zap"

	"github.com/hpungsan/promptmeta/internal/config"
	"github.com/hpungsan/promptmeta/internal/logging"
	"github.com/hpungsan/promptmeta/internal/ps1"
)

// ParseInput contains parameters for the Parse operation.
type ParseInput struct {
	Text string // captured terminal output
	All  bool   // also return every accepted block, not just the last
}

// ParseOutput contains the result of the Parse operation.
type ParseOutput struct {
	Found    bool          `json:"found"`
	Metadata ps1.Metadata  `json:"metadata"` // last accepted block, or defaults
	Blocks   []ParsedBlock `json:"blocks,omitempty"`
	Output   string        `json:"output"` // Text with accepted blocks removed
}

// ParsedBlock is one accepted block. Error is set, and Metadata left at
// defaults, when the block's fields do not validate.
type ParsedBlock struct {
	Start    int          `json:"start"`
	End      int          `json:"end"`
	Repaired bool         `json:"repaired"`
	Metadata ps1.Metadata `json:"metadata"`
	Error    string       `json:"error,omitempty"`
}

// Parse extracts prompt metadata from captured output. The last accepted
// block describes the command that just finished.
func Parse(cfg *config.Config, logger *zap.Logger, input ParseInput) (*ParseOutput, error) {
	logger = logging.OrNop(logger)
	scanner, err := NewScanner(cfg, logger)
	if err != nil {
		return nil, err
	}

	matches := scanner.Scan(input.Text)
	output := &ParseOutput{
		Metadata: ps1.NewMetadata(),
		Output:   ps1.Strip(input.Text, matches),
	}
	if len(matches) == 0 {
		return output, nil
	}

	// Only the newest block can fail the call; with All, earlier blocks
	// that do not validate are reported per block.
	last, err := scanner.MetadataFromMatch(matches[len(matches)-1])
	if err != nil {
		return nil, err
	}
	output.Metadata = last

	if input.All {
		output.Blocks = make([]ParsedBlock, 0, len(matches))
		for i, m := range matches {
			block := ParsedBlock{Start: m.Start, End: m.End, Repaired: m.Repaired, Metadata: last}
			if i < len(matches)-1 {
				meta, err := scanner.MetadataFromMatch(m)
				if err != nil {
					logger.Warn("Skipping invalid PS1 block", zap.Int("start", m.Start), zap.Error(err))
					meta, block.Error = ps1.NewMetadata(), err.Error()
				}
				block.Metadata = meta
			}
			output.Blocks = append(output.Blocks, block)
		}
	}
	output.Found = true
	return output, nil
}

// InspectInput contains parameters for the Inspect operation.
type InspectInput struct {
	Text string
}

// InspectOutput contains the result of the Inspect operation.
type InspectOutput struct {
	Candidates []ps1.Candidate `json:"candidates"`
	Accepted   int             `json:"accepted"`
	Skipped    int             `json:"skipped"`
}

// Inspect classifies every marker-delimited block in the text, including
// the ones Parse skips.
func Inspect(cfg *config.Config, logger *zap.Logger, input InspectInput) (*InspectOutput, error) {
	scanner, err := NewScanner(cfg, logger)
	if err != nil {
		return nil, err
	}

	candidates := scanner.Inspect(input.Text)
	if candidates == nil {
		candidates = []ps1.Candidate{}
	}

	output := &InspectOutput{Candidates: candidates}
	for _, c := range candidates {
		if c.Class.Accepted() {
			output.Accepted++
		} else {
			output.Skipped++
		}
	}
	return output, nil
}

// PromptOutput contains the result of the Prompt operation.
type PromptOutput struct {
	PS1         string `json:"ps1"`
	BeginMarker string `json:"begin_marker"`
	EndMarker   string `json:"end_marker"`
}

// Prompt renders the PS1 value the shell must use for Parse to find its
// metadata.
func Prompt(cfg *config.Config) (*PromptOutput, error) {
	scanner, err := NewScanner(cfg, nil)
	if err != nil {
		return nil, err
	}
	begin, end := scanner.Markers()
	return &PromptOutput{
		PS1:         scanner.Prompt(),
		BeginMarker: begin,
		EndMarker:   end,
	}, nil
}
