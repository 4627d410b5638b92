package ops

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hpungsan/promptmeta/internal/config"
	"github.com/hpungsan/promptmeta/internal/errors"
)

func unsafeConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.AllowUnsafePaths = true
	return cfg
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open export: %v", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024), 1<<20)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines
}

func TestExport_HappyPath(t *testing.T) {
	database := openTestDB(t)
	recordRun(t, database, "default", "first", 0)
	recordRun(t, database, "default", "second", 1)

	path := filepath.Join(t.TempDir(), "out.jsonl")
	out, err := Export(context.Background(), database, unsafeConfig(), ExportInput{Path: path})
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if out.Count != 2 || out.Path != path || out.ExportedAt == 0 {
		t.Errorf("output = %+v", out)
	}

	lines := readLines(t, path)
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want header + 2", len(lines))
	}

	var header ExportHeader
	if err := json.Unmarshal([]byte(lines[0]), &header); err != nil {
		t.Fatalf("header: %v", err)
	}
	if !header.PromptmetaExport || header.SchemaVersion != ExportSchemaVersion {
		t.Errorf("header = %+v", header)
	}

	var first map[string]any
	if err := json.Unmarshal([]byte(lines[1]), &first); err != nil {
		t.Fatalf("record: %v", err)
	}
	if first["command"] != "first" || first["observation"] != "run" {
		t.Errorf("first record = %v", first)
	}
	meta, ok := first["metadata"].(map[string]any)
	if !ok || meta["exit_code"] != float64(0) {
		t.Errorf("metadata = %v", first["metadata"])
	}
}

func TestExport_SessionFilterAndDeleted(t *testing.T) {
	database := openTestDB(t)
	recordRun(t, database, "one", "a", 0)
	deleted := recordRun(t, database, "one", "b", 0)
	recordRun(t, database, "two", "c", 0)
	if _, err := Delete(context.Background(), database, DeleteInput{ID: deleted}); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	dir := t.TempDir()
	out, err := Export(context.Background(), database, unsafeConfig(), ExportInput{
		Path:    filepath.Join(dir, "one.jsonl"),
		Session: stringPtr("One"),
	})
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if out.Count != 1 {
		t.Errorf("Count = %d, want 1", out.Count)
	}

	out, err = Export(context.Background(), database, unsafeConfig(), ExportInput{
		Path:           filepath.Join(dir, "one-all.jsonl"),
		Session:        stringPtr("one"),
		IncludeDeleted: true,
	})
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if out.Count != 2 {
		t.Errorf("Count = %d, want 2", out.Count)
	}
}

func TestExport_Empty(t *testing.T) {
	database := openTestDB(t)

	path := filepath.Join(t.TempDir(), "empty.jsonl")
	out, err := Export(context.Background(), database, unsafeConfig(), ExportInput{Path: path})
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if out.Count != 0 || len(readLines(t, path)) != 1 {
		t.Error("empty export should hold only the header")
	}
}

func TestExport_FilePermissions(t *testing.T) {
	database := openTestDB(t)

	path := filepath.Join(t.TempDir(), "perm.jsonl")
	if _, err := Export(context.Background(), database, unsafeConfig(), ExportInput{Path: path}); err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("permissions = %o, want 600", perm)
	}
}

func TestExport_DefaultPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	database := openTestDB(t)

	out, err := Export(context.Background(), database, config.DefaultConfig(), ExportInput{Session: stringPtr("../My Session")})
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	wantDir := filepath.Join(home, ".promptmeta", "exports")
	if filepath.Dir(out.Path) != wantDir {
		t.Errorf("dir = %q, want %q", filepath.Dir(out.Path), wantDir)
	}
	if base := filepath.Base(out.Path); !strings.HasPrefix(base, "my session-") || !strings.HasSuffix(base, ".jsonl") {
		t.Errorf("file name = %q", base)
	}
}

func TestExport_PathRules(t *testing.T) {
	database := openTestDB(t)

	tests := []struct {
		name string
		path string
		cfg  *config.Config
	}{
		{"traversal", "../out.jsonl", unsafeConfig()},
		{"extension", filepath.Join(t.TempDir(), "out.json"), unsafeConfig()},
		{"outside allowed dirs", filepath.Join(t.TempDir(), "out.jsonl"), config.DefaultConfig()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Export(context.Background(), database, tt.cfg, ExportInput{Path: tt.path})
			if !errors.Is(err, errors.ErrInvalidRequest) {
				t.Errorf("err = %v, want INVALID_REQUEST", err)
			}
		})
	}
}

func TestExport_Cancelled(t *testing.T) {
	database := openTestDB(t)
	recordRun(t, database, "default", "a", 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	path := filepath.Join(t.TempDir(), "cancel.jsonl")
	_, err := Export(ctx, database, unsafeConfig(), ExportInput{Path: path})
	if !errors.Is(err, errors.ErrCancelled) {
		t.Errorf("err = %v, want CANCELLED", err)
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Error("a cancelled export must not leave a file behind")
	}
}
