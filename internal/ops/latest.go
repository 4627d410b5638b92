package ops

import (
	"database/sql"

	"github.com/hpungsan/promptmeta/internal/db"
	"github.com/hpungsan/promptmeta/internal/observation"
)

// LatestInput contains parameters for the Latest operation.
type LatestInput struct {
	Session        *string // optional filter
	IncludeContent *bool   // default: false (summary only)
	IncludeDeleted bool
}

// LatestOutput contains the result of the Latest operation.
type LatestOutput struct {
	Item *LatestItem `json:"item"` // nil if nothing is recorded
}

// LatestItem is the newest observation with optional content.
type LatestItem struct {
	observation.Summary
	AgentObservation string `json:"agent_observation,omitempty"` // only if include_content
}

// Latest retrieves the most recently recorded observation.
func Latest(database *sql.DB, input LatestInput) (*LatestOutput, error) {
	filter, err := buildFilter(input.Session, "", input.IncludeDeleted)
	if err != nil {
		return nil, err
	}

	r, err := db.GetLatest(database, filter)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return &LatestOutput{Item: nil}, nil
	}

	item := &LatestItem{Summary: r.Summarize()}
	if input.IncludeContent != nil && *input.IncludeContent {
		item.AgentObservation = r.AgentObservation()
	}
	return &LatestOutput{Item: item}, nil
}
