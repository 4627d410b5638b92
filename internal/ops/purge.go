package ops

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hpungsan/promptmeta/internal/db"
	"github.com/hpungsan/promptmeta/internal/errors"
)

// PurgeInput contains parameters for the Purge operation.
type PurgeInput struct {
	Session       *string // optional filter by session
	OlderThanDays *int    // optional, only purge if deleted_at < (now - N days)
}

// PurgeOutput contains the result of the Purge operation.
type PurgeOutput struct {
	Purged  int    `json:"purged"`
	Message string `json:"message"`
}

// Purge permanently deletes soft-deleted observations.
func Purge(ctx context.Context, database *sql.DB, input PurgeInput) (*PurgeOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.NewCancelled("purge")
	}

	count, err := db.PurgeDeleted(database, input.Session, input.OlderThanDays)
	if err != nil {
		return nil, err
	}

	return &PurgeOutput{
		Purged:  count,
		Message: purgeMessage(count, input.Session, input.OlderThanDays),
	}, nil
}

func purgeMessage(count int, session *string, olderThanDays *int) string {
	if count == 0 {
		return "No deleted observations to purge"
	}

	noun := "observation"
	if count > 1 {
		noun = "observations"
	}
	msg := fmt.Sprintf("Permanently deleted %d %s", count, noun)
	if session != nil {
		msg += fmt.Sprintf(" from session %q", *session)
	}
	if olderThanDays != nil {
		msg += fmt.Sprintf(" (deleted more than %d days ago)", *olderThanDays)
	}
	return msg
}
