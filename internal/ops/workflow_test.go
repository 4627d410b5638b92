package ops

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/promptmeta/internal/config"
	"github.com/hpungsan/promptmeta/internal/errors"
)

// TestFullWorkflow exercises the observation lifecycle:
// record → fetch → list → latest → export → delete → purge → import → fetch
func TestFullWorkflow(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()
	cfg := config.DefaultConfig()

	// 1. Record two commands
	first, err := Record(ctx, database, cfg, nil, RecordInput{
		Session:      "workflow",
		ObserveInput: ObserveInput{Command: "go build ./...", Output: "ok" + exitBlock(0)},
	})
	require.NoError(t, err)
	require.True(t, first.Success)

	second, err := Record(ctx, database, cfg, nil, RecordInput{
		Session:      "workflow",
		ObserveInput: ObserveInput{Command: "go vet ./...", Output: "bad" + exitBlock(1)},
	})
	require.NoError(t, err)
	require.False(t, second.Success)

	// 2. Fetch
	fetched, err := Fetch(database, FetchInput{ID: first.ID})
	require.NoError(t, err)
	require.Equal(t, "ok", fetched.Content)
	require.Contains(t, fetched.AgentObservation, "[Command finished with exit code 0]")

	// 3. List failures
	failures, err := List(database, ListInput{Session: stringPtr("workflow"), FailedOnly: true})
	require.NoError(t, err)
	require.Len(t, failures.Items, 1)
	require.Equal(t, second.ID, failures.Items[0].ID)

	// 4. Latest
	latest, err := Latest(database, LatestInput{Session: stringPtr("workflow")})
	require.NoError(t, err)
	require.NotNil(t, latest.Item)
	require.Equal(t, second.ID, latest.Item.ID)

	// 5. Export
	exportCfg := config.DefaultConfig()
	exportCfg.AllowUnsafePaths = true
	path := filepath.Join(t.TempDir(), "workflow.jsonl")
	exported, err := Export(ctx, database, exportCfg, ExportInput{Path: path})
	require.NoError(t, err)
	require.Equal(t, 2, exported.Count)

	// 6. Delete + purge
	_, err = Delete(ctx, database, DeleteInput{ID: first.ID})
	require.NoError(t, err)
	purged, err := Purge(ctx, database, PurgeInput{})
	require.NoError(t, err)
	require.Equal(t, 1, purged.Purged)

	_, err = Fetch(database, FetchInput{ID: first.ID, IncludeDeleted: true})
	require.True(t, errors.Is(err, errors.ErrNotFound))

	// 7. Import restores the purged record; the survivor is replaced in place
	imported, err := Import(ctx, database, exportCfg, nil, ImportInput{Path: path, Mode: ImportModeReplace})
	require.NoError(t, err)
	require.Equal(t, 2, imported.Imported)
	require.Empty(t, imported.Errors)

	restored, err := Fetch(database, FetchInput{ID: first.ID})
	require.NoError(t, err)
	require.Equal(t, "go build ./...", restored.Command)

	all, err := List(database, ListInput{})
	require.NoError(t, err)
	require.Equal(t, 2, all.Pagination.Total)
}
