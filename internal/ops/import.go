package ops

import (
	"bufio"
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/hpungsan/promptmeta/internal/config"
	"github.com/hpungsan/promptmeta/internal/db"
	"github.com/hpungsan/promptmeta/internal/errors"
	"github.com/hpungsan/promptmeta/internal/logging"
	"github.com/hpungsan/promptmeta/internal/observation"
	"github.com/hpungsan/promptmeta/internal/ps1"
)

// maxImportLine bounds one JSONL line; records carry full command output.
const maxImportLine = 64 << 20

// ImportMode controls collision behavior during import.
type ImportMode string

const (
	ImportModeError   ImportMode = "error"   // fail on any problem (atomic)
	ImportModeReplace ImportMode = "replace" // overwrite on ID collision
	ImportModeRename  ImportMode = "rename"  // new ID on collision
)

// ImportInput contains parameters for the Import operation.
type ImportInput struct {
	Path string     // required
	Mode ImportMode // default: error
}

// ImportOutput contains the result of the Import operation.
type ImportOutput struct {
	Imported int           `json:"imported"`
	Skipped  int           `json:"skipped"`
	Migrated int           `json:"migrated"` // records that carried legacy keys
	Errors   []ImportError `json:"errors"`
}

// ImportError describes one line that was not imported.
type ImportError struct {
	Line    int    `json:"line"`
	ID      string `json:"id,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// exportLine is the lenient decoding of one export line. Metadata is
// decoded loosely so older files with string numbers still import.
type exportLine struct {
	Header        bool           `json:"_promptmeta_export"`
	ID            string         `json:"id"`
	SessionRaw    string         `json:"session_raw"`
	Session       string         `json:"session"`
	Kind          string         `json:"observation"`
	Content       string         `json:"content"`
	Command       string         `json:"command"`
	Hidden        bool           `json:"hidden"`
	Truncated     bool           `json:"truncated"`
	OriginalChars *int           `json:"original_chars"`
	Metadata      map[string]any `json:"metadata"`
	CreatedAt     int64          `json:"created_at"`
	DeletedAt     *int64         `json:"deleted_at"`
}

type parsedRecord struct {
	line   int
	record *observation.Record
}

// Import loads observations from a JSONL export file. Records written by
// older producers with flat exit_code / command_id keys are migrated into
// the metadata on the way in.
func Import(ctx context.Context, database *sql.DB, cfg *config.Config, logger *zap.Logger, input ImportInput) (*ImportOutput, error) {
	logger = logging.OrNop(logger)

	if input.Path == "" {
		return nil, errors.NewInvalidRequest("path is required")
	}
	if input.Mode == "" {
		input.Mode = ImportModeError
	}
	switch input.Mode {
	case ImportModeError, ImportModeReplace, ImportModeRename:
	default:
		return nil, errors.NewInvalidRequest("mode must be one of: error, replace, rename")
	}

	if err := ValidatePath(input.Path, PathCheckRead, cfg); err != nil {
		return nil, err
	}
	file, err := openImportFile(input.Path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	records, migrated, parseErrors := parseExportFile(file, logger)
	if ctx.Err() != nil {
		return nil, errors.NewCancelled("import")
	}

	if input.Mode == ImportModeError {
		if len(parseErrors) > 0 {
			return &ImportOutput{Errors: parseErrors}, nil
		}
		out, err := importAtomic(ctx, database, records)
		if err != nil {
			return nil, err
		}
		if out.Imported > 0 {
			out.Migrated = migrated
		}
		return out, nil
	}

	out, err := importEach(ctx, database, records, input.Mode)
	if err != nil {
		return nil, err
	}
	out.Migrated = migrated
	out.Errors = append(append([]ImportError{}, parseErrors...), out.Errors...)
	out.Skipped += len(parseErrors)
	return out, nil
}

func parseExportFile(r io.Reader, logger *zap.Logger) ([]parsedRecord, int, []ImportError) {
	var (
		records  []parsedRecord
		errs     []ImportError
		migrated int
	)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxImportLine)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		rec, legacy, err := decodeExportLine(line, logger)
		if err != nil {
			code := "INVALID_RECORD"
			if _, ok := err.(*json.SyntaxError); ok {
				code = "PARSE_ERROR"
			}
			errs = append(errs, ImportError{Line: lineNum, Code: code, Message: err.Error()})
			continue
		}
		if rec == nil {
			continue // header
		}
		if legacy {
			migrated++
		}
		records = append(records, parsedRecord{line: lineNum, record: rec})
	}

	if err := scanner.Err(); err != nil {
		errs = append(errs, ImportError{
			Line:    lineNum + 1,
			Code:    "READ_ERROR",
			Message: fmt.Sprintf("failed to read file: %v", err),
		})
	}
	return records, migrated, errs
}

// decodeExportLine returns (nil, false, nil) for the header line.
func decodeExportLine(line []byte, logger *zap.Logger) (*observation.Record, bool, error) {
	var el exportLine
	if err := json.Unmarshal(line, &el); err != nil {
		if syntaxErr, ok := err.(*json.SyntaxError); ok {
			return nil, false, syntaxErr
		}
		return nil, false, fmt.Errorf("invalid record: %v", err)
	}
	if el.Header {
		return nil, false, nil
	}
	if el.ID == "" {
		return nil, false, fmt.Errorf("missing id field")
	}

	meta := ps1.NewMetadata()
	if el.Metadata != nil {
		m, err := ps1.FromFields(el.Metadata, logger)
		if err != nil {
			return nil, false, err
		}
		meta = m
	}

	var raw map[string]any
	if err := json.Unmarshal(line, &raw); err != nil {
		return nil, false, fmt.Errorf("invalid record: %v", err)
	}
	legacy := observation.LegacyFromFields(raw)
	meta = legacy.Apply(meta)

	kind := observation.Kind(el.Kind)
	if kind == "" {
		kind = observation.KindRun
	}
	originalChars := utf8.RuneCountInString(el.Content)
	if el.OriginalChars != nil {
		originalChars = *el.OriginalChars
	}

	o, err := observation.Restore(observation.Observation{
		Kind:          kind,
		Content:       el.Content,
		Command:       el.Command,
		Hidden:        el.Hidden,
		Metadata:      meta,
		Truncated:     el.Truncated,
		OriginalChars: originalChars,
	})
	if err != nil {
		return nil, false, err
	}

	sessionRaw := el.SessionRaw
	if sessionRaw == "" {
		sessionRaw = el.Session
	}
	createdAt := el.CreatedAt
	if createdAt == 0 {
		createdAt = time.Now().Unix()
	}

	return &observation.Record{
		ID:          el.ID,
		SessionRaw:  sessionRaw,
		Session:     observation.NormalizeSession(sessionRaw),
		Observation: *o,
		CreatedAt:   createdAt,
		DeletedAt:   el.DeletedAt,
	}, !legacy.IsZero(), nil
}

// importAtomic inserts every record in one transaction; the first ID
// collision rolls everything back.
func importAtomic(ctx context.Context, database *sql.DB, records []parsedRecord) (*ImportOutput, error) {
	tx, err := database.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, p := range records {
		exists, err := db.Exists(tx, p.record.ID)
		if err != nil {
			return nil, err
		}
		if exists {
			return &ImportOutput{Errors: []ImportError{{
				Line:    p.line,
				ID:      p.record.ID,
				Code:    "ID_COLLISION",
				Message: fmt.Sprintf("observation with id %q already exists", p.record.ID),
			}}}, nil
		}
		if err := db.Insert(tx, p.record); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		if ctx.Err() != nil {
			return nil, errors.NewCancelled("import")
		}
		return nil, errors.NewInternal(err)
	}
	return &ImportOutput{Imported: len(records), Errors: []ImportError{}}, nil
}

// importEach writes records one at a time; failures are reported and skipped.
func importEach(ctx context.Context, database *sql.DB, records []parsedRecord, mode ImportMode) (*ImportOutput, error) {
	out := &ImportOutput{Errors: []ImportError{}}

	for _, p := range records {
		if ctx.Err() != nil {
			return nil, errors.NewCancelled("import")
		}

		r := p.record
		var err error
		if mode == ImportModeReplace {
			err = db.Upsert(database, r)
		} else {
			exists, existsErr := db.Exists(database, r.ID)
			if existsErr != nil {
				return nil, existsErr
			}
			if exists {
				if r.ID, err = generateULID(); err != nil {
					return nil, errors.NewInternal(err)
				}
			}
			err = db.Insert(database, r)
		}

		if err != nil {
			out.Errors = append(out.Errors, ImportError{
				Line:    p.line,
				ID:      r.ID,
				Code:    "INSERT_FAILED",
				Message: fmt.Sprintf("failed to insert: %v", err),
			})
			out.Skipped++
			continue
		}
		out.Imported++
	}
	return out, nil
}
