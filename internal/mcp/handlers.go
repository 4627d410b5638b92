package mcp

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/hpungsan/promptmeta/internal/config"
	"github.com/hpungsan/promptmeta/internal/errors"
	"github.com/hpungsan/promptmeta/internal/logging"
	"github.com/hpungsan/promptmeta/internal/observation"
	"github.com/hpungsan/promptmeta/internal/ops"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	db     *sql.DB
	cfg    *config.Config
	logger *zap.Logger
}

// NewHandlers creates a new Handlers instance. A nil logger discards output.
func NewHandlers(db *sql.DB, cfg *config.Config, logger *zap.Logger) *Handlers {
	return &Handlers{db: db, cfg: cfg, logger: logging.OrNop(logger)}
}

// Request types for each tool

// ParseRequest represents the arguments for ps1_parse.
type ParseRequest struct {
	Text string `json:"text"`
	All  bool   `json:"all,omitempty"`
}

// InspectRequest represents the arguments for ps1_inspect.
type InspectRequest struct {
	Text string `json:"text"`
}

// ObserveRequest represents the arguments shared by observation_render
// and observation_record.
type ObserveRequest struct {
	Output    string         `json:"output"`
	Command   string         `json:"command,omitempty"`
	Kind      string         `json:"kind,omitempty"`
	Hidden    bool           `json:"hidden,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	ExitCode  *int           `json:"exit_code,omitempty"`
	CommandID *int           `json:"command_id,omitempty"`
}

func (r ObserveRequest) toInput() ops.ObserveInput {
	return ops.ObserveInput{
		Kind:     r.Kind,
		Command:  r.Command,
		Output:   r.Output,
		Hidden:   r.Hidden,
		Metadata: r.Metadata,
		Legacy: observation.LegacyOverrides{
			ExitCode:  r.ExitCode,
			CommandID: r.CommandID,
		},
	}
}

// RecordRequest represents the arguments for observation_record.
type RecordRequest struct {
	ObserveRequest
	Session string `json:"session,omitempty"`
}

// FetchRequest represents the arguments for observation_fetch.
type FetchRequest struct {
	ID             string `json:"id"`
	IncludeContent *bool  `json:"include_content,omitempty"`
	IncludeDeleted bool   `json:"include_deleted,omitempty"`
}

// ListRequest represents the arguments for observation_list.
type ListRequest struct {
	Session        *string `json:"session,omitempty"`
	Kind           string  `json:"kind,omitempty"`
	ExitCode       *int    `json:"exit_code,omitempty"`
	FailedOnly     bool    `json:"failed_only,omitempty"`
	Limit          int     `json:"limit,omitempty"`
	Offset         int     `json:"offset,omitempty"`
	IncludeDeleted bool    `json:"include_deleted,omitempty"`
}

// LatestRequest represents the arguments for observation_latest.
type LatestRequest struct {
	Session        *string `json:"session,omitempty"`
	IncludeContent *bool   `json:"include_content,omitempty"`
	IncludeDeleted bool    `json:"include_deleted,omitempty"`
}

// DeleteRequest represents the arguments for observation_delete.
type DeleteRequest struct {
	ID string `json:"id"`
}

// PurgeRequest represents the arguments for observation_purge.
type PurgeRequest struct {
	Session       *string `json:"session,omitempty"`
	OlderThanDays *int    `json:"older_than_days,omitempty"`
}

// ExportRequest represents the arguments for observation_export.
type ExportRequest struct {
	Path           string  `json:"path,omitempty"`
	Session        *string `json:"session,omitempty"`
	IncludeDeleted bool    `json:"include_deleted,omitempty"`
}

// ImportRequest represents the arguments for observation_import.
type ImportRequest struct {
	Path string `json:"path"`
	Mode string `json:"mode,omitempty"`
}

// Handler implementations

// HandlePrompt handles the ps1_prompt tool call.
func (h *Handlers) HandlePrompt(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := ops.Prompt(h.cfg)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleParse handles the ps1_parse tool call.
func (h *Handlers) HandleParse(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ParseRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Parse(h.cfg, h.logger, ops.ParseInput{Text: input.Text, All: input.All})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleInspect handles the ps1_inspect tool call.
func (h *Handlers) HandleInspect(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[InspectRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Inspect(h.cfg, h.logger, ops.InspectInput{Text: input.Text})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleRender handles the observation_render tool call.
func (h *Handlers) HandleRender(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ObserveRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Render(h.cfg, h.logger, input.toInput())
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleRecord handles the observation_record tool call.
func (h *Handlers) HandleRecord(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[RecordRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Record(ctx, h.db, h.cfg, h.logger, ops.RecordInput{
		ObserveInput: input.toInput(),
		Session:      input.Session,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleFetch handles the observation_fetch tool call.
func (h *Handlers) HandleFetch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[FetchRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Fetch(h.db, ops.FetchInput{
		ID:             input.ID,
		IncludeDeleted: input.IncludeDeleted,
		IncludeContent: input.IncludeContent,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleList handles the observation_list tool call.
func (h *Handlers) HandleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ListRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.List(h.db, ops.ListInput{
		Session:        input.Session,
		Kind:           input.Kind,
		ExitCode:       input.ExitCode,
		FailedOnly:     input.FailedOnly,
		Limit:          input.Limit,
		Offset:         input.Offset,
		IncludeDeleted: input.IncludeDeleted,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleLatest handles the observation_latest tool call.
func (h *Handlers) HandleLatest(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[LatestRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Latest(h.db, ops.LatestInput{
		Session:        input.Session,
		IncludeContent: input.IncludeContent,
		IncludeDeleted: input.IncludeDeleted,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleDelete handles the observation_delete tool call.
func (h *Handlers) HandleDelete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[DeleteRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Delete(ctx, h.db, ops.DeleteInput{ID: input.ID})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandlePurge handles the observation_purge tool call.
func (h *Handlers) HandlePurge(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[PurgeRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Purge(ctx, h.db, ops.PurgeInput{
		Session:       input.Session,
		OlderThanDays: input.OlderThanDays,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleExport handles the observation_export tool call.
func (h *Handlers) HandleExport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ExportRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Export(ctx, h.db, h.cfg, ops.ExportInput{
		Path:           input.Path,
		Session:        input.Session,
		IncludeDeleted: input.IncludeDeleted,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleImport handles the observation_import tool call.
func (h *Handlers) HandleImport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ImportRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Import(ctx, h.db, h.cfg, h.logger, ops.ImportInput{
		Path: input.Path,
		Mode: ops.ImportMode(input.Mode),
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Internal error details are never exposed.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	var metaErr *errors.MetaError
	if stderrors.As(err, &metaErr) {
		message := metaErr.Message
		// Keep wrapper context such as "line 3: ..." when the error was wrapped.
		if err != error(metaErr) {
			message = err.Error()
		}
		errorObj := map[string]any{
			"code":    metaErr.Code,
			"message": message,
			"status":  metaErr.Status,
		}
		if metaErr.Code == errors.ErrInternal {
			errorObj["message"] = "an internal error occurred"
		} else if metaErr.Details != nil {
			errorObj["details"] = metaErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    errors.ErrInternal,
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
