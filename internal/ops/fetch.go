package ops

import (
	"database/sql"
	"strings"

	"github.com/hpungsan/promptmeta/internal/db"
	"github.com/hpungsan/promptmeta/internal/errors"
	"github.com/hpungsan/promptmeta/internal/observation"
)

// FetchInput contains parameters for the Fetch operation.
type FetchInput struct {
	ID             string
	IncludeDeleted bool
	IncludeContent *bool // default: true (nil means default)
}

// FetchOutput contains the result of the Fetch operation.
type FetchOutput struct {
	observation.Record
	Message          string `json:"message"`
	Success          bool   `json:"success"`
	AgentObservation string `json:"agent_observation,omitempty"`
}

// Fetch retrieves a stored observation by ID.
func Fetch(database *sql.DB, input FetchInput) (*FetchOutput, error) {
	id := strings.TrimSpace(input.ID)
	if id == "" {
		return nil, errors.NewInvalidRequest("id is required")
	}

	r, err := db.GetByID(database, id, input.IncludeDeleted)
	if err != nil {
		return nil, err
	}

	output := &FetchOutput{
		Record:  *r,
		Message: r.Message(),
		Success: r.Success(),
	}
	if input.IncludeContent == nil || *input.IncludeContent {
		output.AgentObservation = r.AgentObservation()
	} else {
		output.Content = ""
	}
	return output, nil
}
