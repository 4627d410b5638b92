package ops

import (
	"bufio"
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/hpungsan/promptmeta/internal/config"
	"github.com/hpungsan/promptmeta/internal/db"
	"github.com/hpungsan/promptmeta/internal/errors"
	"github.com/hpungsan/promptmeta/internal/observation"
)

// ExportSchemaVersion is written in the header of every export file.
const ExportSchemaVersion = "1.0"

// ExportInput contains parameters for the Export operation.
type ExportInput struct {
	Path           string  // optional, default: ~/.promptmeta/exports/<session>-<timestamp>.jsonl
	Session        *string // optional filter by session
	IncludeDeleted bool
}

// ExportOutput contains the result of the Export operation.
type ExportOutput struct {
	Path       string `json:"path"`
	Count      int    `json:"count"`
	ExportedAt int64  `json:"exported_at"`
}

// ExportHeader is the first line of a JSONL export file.
type ExportHeader struct {
	PromptmetaExport bool   `json:"_promptmeta_export"`
	SchemaVersion    string `json:"schema_version"`
	ExportedAt       int64  `json:"exported_at"`
}

// Export writes observations to a JSONL file: a header line, then one
// record per line in creation order. The file is written to a temporary
// name and renamed into place, so a failed export leaves any existing
// file untouched.
func Export(ctx context.Context, database *sql.DB, cfg *config.Config, input ExportInput) (*ExportOutput, error) {
	if ctx.Err() != nil {
		return nil, errors.NewCancelled("export")
	}
	now := time.Now()

	exportPath := input.Path
	if exportPath == "" {
		var err error
		if exportPath, err = defaultExportPath(input.Session, now); err != nil {
			return nil, err
		}
	}
	// Default paths are validated too: they embed the session name.
	if err := ValidatePath(exportPath, PathCheckWrite, cfg); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(exportPath), 0700); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to create export directory: %w", err))
	}

	suffix := make([]byte, 8)
	if _, err := rand.Read(suffix); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to generate temp file name: %w", err))
	}
	tempPath := exportPath + "." + hex.EncodeToString(suffix) + ".tmp"
	file, err := createExportFile(tempPath)
	if err != nil {
		return nil, err
	}

	success := false
	defer func() {
		if file != nil {
			file.Close()
		}
		if !success {
			os.Remove(tempPath)
		}
	}()

	w := bufio.NewWriter(file)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(ExportHeader{
		PromptmetaExport: true,
		SchemaVersion:    ExportSchemaVersion,
		ExportedAt:       now.Unix(),
	}); err != nil {
		return nil, errors.NewInternal(err)
	}

	count, err := writeRecords(ctx, database, enc, input)
	if err != nil {
		return nil, err
	}

	if err := w.Flush(); err != nil {
		return nil, errors.NewInternal(err)
	}
	if err := file.Sync(); err != nil {
		return nil, errors.NewInternal(err)
	}
	if err := file.Close(); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to close export file: %w", err))
	}
	file = nil

	// os.Rename would replace a symlink's target.
	if isSymlink(exportPath) {
		return nil, errors.NewInternal(fmt.Errorf("export path is a symlink"))
	}
	if err := os.Rename(tempPath, exportPath); err != nil {
		// Windows refuses to rename over an existing file; keep the original.
		if runtime.GOOS == "windows" {
			if _, statErr := os.Stat(exportPath); statErr == nil {
				return nil, errors.NewInvalidRequest("export destination already exists; choose a new path or delete the existing file")
			}
		}
		return nil, errors.NewInternal(fmt.Errorf("failed to finalize export: %w", err))
	}

	success = true
	return &ExportOutput{
		Path:       exportPath,
		Count:      count,
		ExportedAt: now.Unix(),
	}, nil
}

func writeRecords(ctx context.Context, database *sql.DB, enc *json.Encoder, input ExportInput) (int, error) {
	rows, err := db.StreamForExport(ctx, database, input.Session, input.IncludeDeleted)
	if err != nil {
		if ctx.Err() != nil {
			return 0, errors.NewCancelled("export")
		}
		return 0, err
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		if ctx.Err() != nil {
			return 0, errors.NewCancelled("export")
		}
		r, err := db.ScanRecordFromRows(rows)
		if err != nil {
			return 0, errors.NewInternal(err)
		}
		if err := enc.Encode(r); err != nil {
			return 0, errors.NewInternal(err)
		}
		count++
	}
	if err := rows.Err(); err != nil {
		if ctx.Err() != nil {
			return 0, errors.NewCancelled("export")
		}
		return 0, errors.NewInternal(err)
	}
	return count, nil
}

// defaultExportPath is ~/.promptmeta/exports/<session>-<timestamp>.jsonl,
// or all-<timestamp>.jsonl without a session filter.
func defaultExportPath(session *string, now time.Time) (string, error) {
	dir, err := DefaultExportsDir()
	if err != nil {
		return "", err
	}
	name := "all"
	if session != nil && *session != "" {
		name = SanitizeForFilename(observation.NormalizeSession(*session))
	}
	return filepath.Join(dir, fmt.Sprintf("%s-%s.jsonl", name, now.Format("2006-01-02T150405"))), nil
}
