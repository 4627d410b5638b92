package ops

import (
	"database/sql"

	"github.com/hpungsan/promptmeta/internal/db"
	"github.com/hpungsan/promptmeta/internal/observation"
)

// ListInput contains parameters for the List operation.
type ListInput struct {
	Session        *string // optional filter
	Kind           string  // optional filter: run, run_ipython
	ExitCode       *int    // optional filter
	FailedOnly     bool
	Limit          int // default: 20, max: 100
	Offset         int // default: 0
	IncludeDeleted bool
}

// ListOutput contains the result of the List operation.
type ListOutput struct {
	Items      []observation.Summary `json:"items"`
	Pagination Pagination            `json:"pagination"`
	Sort       string                `json:"sort"`
}

// List retrieves observation summaries, newest first, with pagination.
func List(database *sql.DB, input ListInput) (*ListOutput, error) {
	filter, err := buildFilter(input.Session, input.Kind, input.IncludeDeleted)
	if err != nil {
		return nil, err
	}
	filter.ExitCode = input.ExitCode
	filter.FailedOnly = input.FailedOnly

	limit, offset := clampPage(input.Limit, input.Offset)

	items, total, err := db.List(database, filter, limit, offset)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []observation.Summary{}
	}

	return &ListOutput{
		Items: items,
		Pagination: Pagination{
			Limit:   limit,
			Offset:  offset,
			HasMore: offset+len(items) < total,
			Total:   total,
		},
		Sort: "created_at_desc",
	}, nil
}

func buildFilter(session *string, kind string, includeDeleted bool) (db.ListFilter, error) {
	filter := db.ListFilter{IncludeDeleted: includeDeleted}
	if session != nil {
		norm := observation.NormalizeSession(*session)
		filter.Session = &norm
	}
	if kind != "" {
		k, err := parseKind(kind)
		if err != nil {
			return filter, err
		}
		filter.Kind = &k
	}
	return filter, nil
}
