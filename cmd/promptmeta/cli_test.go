package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/hpungsan/promptmeta/internal/config"
	"github.com/hpungsan/promptmeta/internal/db"
	"github.com/hpungsan/promptmeta/internal/ops"
)

const sampleOutput = "collected 3 items\n3 passed\n" +
	"\n###PS1JSON###\n" +
	`{"pid": "501", "exit_code": "0", "username": "dev", "hostname": "box", "working_dir": "/proj", "py_interpreter_path": "/usr/bin/python3"}` +
	"\n###PS1END###\n"

// setupEnv creates a temporary database and config for testing.
func setupEnv(t *testing.T) *env {
	t.Helper()
	database, err := db.Init(t.TempDir())
	if err != nil {
		t.Fatalf("failed to init test db: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	cfg := config.DefaultConfig()
	cfg.AllowUnsafePaths = true
	return &env{db: database, cfg: cfg, logger: zaptest.NewLogger(t)}
}

// run executes the CLI with the given stdin and returns stdout.
func run(t *testing.T, e *env, stdin string, args ...string) (string, error) {
	t.Helper()
	app := newCLIApp(e)
	var out bytes.Buffer
	app.Writer = &out
	app.ErrWriter = &bytes.Buffer{}
	app.Reader = strings.NewReader(stdin)
	err := app.Run(append([]string{"promptmeta"}, args...))
	return out.String(), err
}

func decodeJSON[T any](t *testing.T, s string) T {
	t.Helper()
	var v T
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		t.Fatalf("failed to parse output: %v\nOutput: %s", err, s)
	}
	return v
}

func TestCLIPrompt(t *testing.T) {
	e := setupEnv(t)

	out, err := run(t, e, "", "prompt")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, "\n###PS1JSON###\n"), "raw PS1 starts with the begin marker: %q", out)

	out, err = run(t, e, "", "prompt", "--json")
	require.NoError(t, err)
	prompt := decodeJSON[ops.PromptOutput](t, out)
	require.Equal(t, "###PS1END###", prompt.EndMarker)
}

func TestCLIParse(t *testing.T) {
	e := setupEnv(t)

	out, err := run(t, e, sampleOutput, "parse")
	require.NoError(t, err)
	parsed := decodeJSON[ops.ParseOutput](t, out)
	require.True(t, parsed.Found)
	require.Equal(t, 0, parsed.Metadata.ExitCode)
	require.Equal(t, 501, parsed.Metadata.PID)
	require.Equal(t, "collected 3 items\n3 passed", parsed.Output)
}

func TestCLIParse_FromFile(t *testing.T) {
	e := setupEnv(t)
	path := filepath.Join(t.TempDir(), "capture.txt")
	require.NoError(t, os.WriteFile(path, []byte(sampleOutput), 0o600))

	out, err := run(t, e, "", "parse", "--file", path)
	require.NoError(t, err)
	require.True(t, decodeJSON[ops.ParseOutput](t, out).Found)

	_, err = run(t, e, "", "parse", "--file", filepath.Join(t.TempDir(), "missing.txt"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "[FILE_NOT_FOUND]")
}

func TestCLIInspect(t *testing.T) {
	e := setupEnv(t)

	out, err := run(t, e, sampleOutput, "inspect")
	require.NoError(t, err)
	inspected := decodeJSON[ops.InspectOutput](t, out)
	require.Equal(t, 1, inspected.Accepted)
	require.Equal(t, 0, inspected.Skipped)
}

func TestCLIRender(t *testing.T) {
	e := setupEnv(t)

	out, err := run(t, e, sampleOutput, "render", "--command", "pytest")
	require.NoError(t, err)
	rendered := decodeJSON[map[string]any](t, out)
	require.Equal(t, "Command `pytest` executed with exit code 0.", rendered["message"])
	require.Equal(t, true, rendered["success"])

	out, err = run(t, e, sampleOutput, "render", "--command", "pytest", "--text")
	require.NoError(t, err)
	require.Contains(t, out, "--BEGIN AGENT OBSERVATION--")
	require.Contains(t, out, "[Python interpreter: /usr/bin/python3]")
}

func TestCLIRender_Flags(t *testing.T) {
	e := setupEnv(t)

	t.Run("explicit metadata with comments", func(t *testing.T) {
		out, err := run(t, e, "boom", "render", "--metadata", `{"exit_code": 3, /* from hook */ "pid": 1,}`)
		require.NoError(t, err)
		rendered := decodeJSON[map[string]any](t, out)
		require.Equal(t, false, rendered["success"])
		require.Equal(t, float64(3), rendered["metadata"].(map[string]any)["exit_code"])
	})

	t.Run("legacy exit code", func(t *testing.T) {
		out, err := run(t, e, "x", "render", "--exit-code", "7")
		require.NoError(t, err)
		require.Equal(t, float64(7), decodeJSON[map[string]any](t, out)["metadata"].(map[string]any)["exit_code"])
	})

	t.Run("bad metadata", func(t *testing.T) {
		_, err := run(t, e, "x", "render", "--metadata", "[1,2]")
		require.Error(t, err)
		require.Contains(t, err.Error(), "[INVALID_REQUEST]")
	})

	t.Run("bad exit code", func(t *testing.T) {
		_, err := run(t, e, "x", "render", "--exit-code", "zero")
		require.Error(t, err)
	})

	t.Run("ipython", func(t *testing.T) {
		out, err := run(t, e, "2", "render", "--kind", "run_ipython", "--command", "1+1")
		require.NoError(t, err)
		require.Equal(t, "Code executed in IPython cell.", decodeJSON[map[string]any](t, out)["message"])
	})
}

func TestCLIRecordFetchList(t *testing.T) {
	e := setupEnv(t)

	out, err := run(t, e, sampleOutput, "record", "--session", "Work", "--command", "pytest")
	require.NoError(t, err)
	recorded := decodeJSON[ops.RecordOutput](t, out)
	require.NotEmpty(t, recorded.ID)
	require.Equal(t, "work", recorded.Session)

	out, err = run(t, e, "", "fetch", recorded.ID)
	require.NoError(t, err)
	fetched := decodeJSON[ops.FetchOutput](t, out)
	require.Equal(t, "pytest", fetched.Command)
	require.NotEmpty(t, fetched.AgentObservation)

	out, err = run(t, e, "", "fetch", "--no-content", recorded.ID)
	require.NoError(t, err)
	require.Empty(t, decodeJSON[ops.FetchOutput](t, out).AgentObservation)

	_, err = run(t, e, "false\n", "record", "--command", "false", "--exit-code", "1")
	require.NoError(t, err)

	out, err = run(t, e, "", "list")
	require.NoError(t, err)
	require.Len(t, decodeJSON[ops.ListOutput](t, out).Items, 2)

	out, err = run(t, e, "", "list", "--failed")
	require.NoError(t, err)
	failed := decodeJSON[ops.ListOutput](t, out)
	require.Len(t, failed.Items, 1)
	require.Equal(t, "false", failed.Items[0].Command)

	out, err = run(t, e, "", "list", "--session", "WORK")
	require.NoError(t, err)
	require.Len(t, decodeJSON[ops.ListOutput](t, out).Items, 1)
}

func TestCLILatest(t *testing.T) {
	e := setupEnv(t)

	out, err := run(t, e, "", "latest")
	require.NoError(t, err)
	require.Nil(t, decodeJSON[ops.LatestOutput](t, out).Item)

	_, err = run(t, e, sampleOutput, "record", "--command", "first")
	require.NoError(t, err)
	_, err = run(t, e, sampleOutput, "record", "--command", "second")
	require.NoError(t, err)

	out, err = run(t, e, "", "latest", "--content")
	require.NoError(t, err)
	latest := decodeJSON[ops.LatestOutput](t, out)
	require.NotNil(t, latest.Item)
	require.Equal(t, "second", latest.Item.Command)
	require.NotEmpty(t, latest.Item.AgentObservation)
}

func TestCLIDeletePurge(t *testing.T) {
	e := setupEnv(t)

	out, err := run(t, e, sampleOutput, "record")
	require.NoError(t, err)
	id := decodeJSON[ops.RecordOutput](t, out).ID

	out, err = run(t, e, "", "delete", id)
	require.NoError(t, err)
	require.True(t, decodeJSON[ops.DeleteOutput](t, out).Deleted)

	_, err = run(t, e, "", "fetch", id)
	require.Error(t, err)
	require.Contains(t, err.Error(), "[NOT_FOUND]")

	out, err = run(t, e, "", "purge", "--session", "default")
	require.NoError(t, err)
	require.Equal(t, 1, decodeJSON[ops.PurgeOutput](t, out).Purged)
}

func TestCLIExportImport(t *testing.T) {
	e := setupEnv(t)

	_, err := run(t, e, sampleOutput, "record", "--session", "a")
	require.NoError(t, err)
	_, err = run(t, e, sampleOutput, "record", "--session", "b")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "history.jsonl")
	out, err := run(t, e, "", "export", "--path", path, "--session", "a")
	require.NoError(t, err)
	require.Equal(t, 1, decodeJSON[ops.ExportOutput](t, out).Count)

	other := setupEnv(t)
	other.cfg = e.cfg
	out, err = run(t, other, "", "import", "--path", path)
	require.NoError(t, err)
	require.Equal(t, 1, decodeJSON[ops.ImportOutput](t, out).Imported)

	out, err = run(t, other, "", "import", "--path", path, "--mode", "replace")
	require.NoError(t, err)
	require.Equal(t, 1, decodeJSON[ops.ImportOutput](t, out).Imported)

	_, err = run(t, other, "", "import")
	require.Error(t, err, "--path is required")
}

func TestCLIErrorHandling(t *testing.T) {
	e := setupEnv(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"fetch without id", []string{"fetch"}, "[INVALID_REQUEST]"},
		{"delete unknown", []string{"delete", "NOPE"}, "[NOT_FOUND]"},
		{"invalid duration", []string{"purge", "--older-than=soon"}, "[INVALID_REQUEST]"},
		{"invalid kind", []string{"list", "--kind", "fish"}, "[INVALID_REQUEST]"},
		{"invalid import mode", []string{"import", "--path", "x.jsonl", "--mode", "merge"}, "[INVALID_REQUEST]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, e, "", tt.args...)
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		input   string
		want    int
		wantErr bool
	}{
		{"7d", 7, false},
		{"0d", 0, false},
		{"30d", 30, false},
		{"-1d", 0, true},
		{"7", 0, true},
		{"7h", 0, true},
		{"d", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parseDuration(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseDuration(%q) err = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parseDuration(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestReadLimited(t *testing.T) {
	got, err := readLimited(strings.NewReader("  keep whitespace \n"), 100)
	require.NoError(t, err)
	require.Equal(t, "  keep whitespace \n", got)

	_, err = readLimited(strings.NewReader(strings.Repeat("x", 100)), 50)
	require.Error(t, err)

	got, err = readLimited(strings.NewReader(strings.Repeat("x", 50)), 50)
	require.NoError(t, err)
	require.Len(t, got, 50)
}

func TestIsCLIMode(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantCLI  bool
		wantDB   bool
		wantHelp bool
	}{
		{"no args", []string{"promptmeta"}, false, true, false},
		{"parse", []string{"promptmeta", "parse"}, true, false, false},
		{"record", []string{"promptmeta", "record"}, true, true, false},
		{"serve", []string{"promptmeta", "serve"}, true, true, false},
		{"help flag", []string{"promptmeta", "--help"}, true, false, true},
		{"short version", []string{"promptmeta", "-v"}, true, false, true},
		{"help subcommand", []string{"promptmeta", "help"}, true, false, true},
		{"unknown arg defaults to MCP", []string{"promptmeta", "--unknown"}, false, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oldArgs := os.Args
			defer func() { os.Args = oldArgs }()
			os.Args = tt.args

			if got := isCLIMode(); got != tt.wantCLI {
				t.Errorf("isCLIMode() = %v, want %v", got, tt.wantCLI)
			}
			if got := needsDB(); got != tt.wantDB {
				t.Errorf("needsDB() = %v, want %v", got, tt.wantDB)
			}
			if got := isHelpOrVersion(); got != tt.wantHelp {
				t.Errorf("isHelpOrVersion() = %v, want %v", got, tt.wantHelp)
			}
		})
	}
}

func TestBaseDir(t *testing.T) {
	t.Setenv("PROMPTMETA_HOME", "/tmp/pm-home")
	dir, err := baseDir()
	require.NoError(t, err)
	require.Equal(t, "/tmp/pm-home", dir)
}
