package ops

import (
	"context"
	"database/sql"
	"strings"

	"github.com/hpungsan/promptmeta/internal/db"
	"github.com/hpungsan/promptmeta/internal/errors"
)

// DeleteInput contains parameters for the Delete operation.
type DeleteInput struct {
	ID string
}

// DeleteOutput contains the result of the Delete operation.
type DeleteOutput struct {
	Deleted bool   `json:"deleted"`
	ID      string `json:"id"`
}

// Delete soft-deletes an observation. Purge removes it for good.
func Delete(ctx context.Context, database *sql.DB, input DeleteInput) (*DeleteOutput, error) {
	id := strings.TrimSpace(input.ID)
	if id == "" {
		return nil, errors.NewInvalidRequest("id is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.NewCancelled("delete")
	}

	if err := db.SoftDelete(database, id); err != nil {
		return nil, err
	}
	return &DeleteOutput{Deleted: true, ID: id}, nil
}
