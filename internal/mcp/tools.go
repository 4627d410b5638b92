package mcp

import "github.com/mark3labs/mcp-go/mcp"

var promptToolDef = mcp.NewTool(
	"ps1_prompt",
	mcp.WithDescription("Return the PS1 template that makes a shell emit JSON metadata blocks after every command, plus the sentinel markers in use."),
)

var parseToolDef = mcp.NewTool(
	"ps1_parse",
	mcp.WithDescription("Extract PS1 metadata from captured shell output. Returns the last valid block (or all of them) and the output with blocks stripped."),
	mcp.WithString("text",
		mcp.Required(),
		mcp.Description("Raw terminal output containing zero or more prompt blocks"),
	),
	mcp.WithBoolean("all",
		mcp.Description("Return every accepted block, not only the last (default: false)"),
	),
)

var inspectToolDef = mcp.NewTool(
	"ps1_inspect",
	mcp.WithDescription("Classify every marker-delimited candidate in the text as accepted, repaired, template or unrecoverable."),
	mcp.WithString("text",
		mcp.Required(),
		mcp.Description("Raw terminal output to inspect"),
	),
)

var renderToolDef = mcp.NewTool(
	"observation_render",
	mcp.WithDescription("Build a command observation from raw output without storing it. Returns the message, success flag and agent-facing text."),
	mcp.WithString("output",
		mcp.Required(),
		mcp.Description("Captured output; prompt blocks are parsed and stripped"),
	),
	mcp.WithString("command",
		mcp.Description("Command line, or cell source for run_ipython"),
	),
	mcp.WithString("kind",
		mcp.Description("Observation kind (default: run)"),
		mcp.Enum("run", "run_ipython"),
	),
	mcp.WithBoolean("hidden",
		mcp.Description("Hidden output is never truncated (default: false)"),
	),
	mcp.WithObject("metadata",
		mcp.Description("Explicit metadata fields; when set the output is not scanned"),
	),
	mcp.WithNumber("exit_code",
		mcp.Description("Legacy flat exit code override"),
	),
	mcp.WithNumber("command_id",
		mcp.Description("Legacy flat command id (pid) override"),
	),
)

var recordToolDef = mcp.NewTool(
	"observation_record",
	mcp.WithDescription("Build a command observation from raw output and store it in the history."),
	mcp.WithString("output",
		mcp.Required(),
		mcp.Description("Captured output; prompt blocks are parsed and stripped"),
	),
	mcp.WithString("session",
		mcp.Description("Session name (default: \"default\")"),
	),
	mcp.WithString("command",
		mcp.Description("Command line, or cell source for run_ipython"),
	),
	mcp.WithString("kind",
		mcp.Description("Observation kind (default: run)"),
		mcp.Enum("run", "run_ipython"),
	),
	mcp.WithBoolean("hidden",
		mcp.Description("Hidden output is never truncated (default: false)"),
	),
	mcp.WithObject("metadata",
		mcp.Description("Explicit metadata fields; when set the output is not scanned"),
	),
	mcp.WithNumber("exit_code",
		mcp.Description("Legacy flat exit code override"),
	),
	mcp.WithNumber("command_id",
		mcp.Description("Legacy flat command id (pid) override"),
	),
)

var fetchToolDef = mcp.NewTool(
	"observation_fetch",
	mcp.WithDescription("Fetch one stored observation by id."),
	mcp.WithString("id",
		mcp.Required(),
		mcp.Description("Observation ULID"),
	),
	mcp.WithBoolean("include_content",
		mcp.Description("Include content and agent_observation (default: true)"),
	),
	mcp.WithBoolean("include_deleted",
		mcp.Description("Return soft-deleted observations too (default: false)"),
	),
)

var listToolDef = mcp.NewTool(
	"observation_list",
	mcp.WithDescription("List stored observation summaries, newest first."),
	mcp.WithString("session",
		mcp.Description("Filter by session"),
	),
	mcp.WithString("kind",
		mcp.Description("Filter by kind"),
		mcp.Enum("run", "run_ipython"),
	),
	mcp.WithNumber("exit_code",
		mcp.Description("Filter by exact exit code"),
	),
	mcp.WithBoolean("failed_only",
		mcp.Description("Only commands that finished with a non-zero exit code"),
	),
	mcp.WithNumber("limit",
		mcp.Description("Max items (default: 20, max: 100)"),
	),
	mcp.WithNumber("offset",
		mcp.Description("Items to skip (default: 0)"),
	),
	mcp.WithBoolean("include_deleted",
		mcp.Description("Include soft-deleted observations (default: false)"),
	),
)

var latestToolDef = mcp.NewTool(
	"observation_latest",
	mcp.WithDescription("Return the most recent observation, optionally within a session."),
	mcp.WithString("session",
		mcp.Description("Session to look in (default: all sessions)"),
	),
	mcp.WithBoolean("include_content",
		mcp.Description("Include agent_observation (default: false)"),
	),
	mcp.WithBoolean("include_deleted",
		mcp.Description("Consider soft-deleted observations (default: false)"),
	),
)

var deleteToolDef = mcp.NewTool(
	"observation_delete",
	mcp.WithDescription("Soft-delete an observation. It stays recoverable until purged."),
	mcp.WithString("id",
		mcp.Required(),
		mcp.Description("Observation ULID"),
	),
)

var purgeToolDef = mcp.NewTool(
	"observation_purge",
	mcp.WithDescription("Permanently remove soft-deleted observations."),
	mcp.WithString("session",
		mcp.Description("Only purge this session"),
	),
	mcp.WithNumber("older_than_days",
		mcp.Description("Only purge observations deleted more than N days ago"),
	),
)

var exportToolDef = mcp.NewTool(
	"observation_export",
	mcp.WithDescription("Export observations to a JSONL file."),
	mcp.WithString("path",
		mcp.Description("Output path (default: ~/.promptmeta/exports/<session>-<timestamp>.jsonl)"),
	),
	mcp.WithString("session",
		mcp.Description("Only export this session"),
	),
	mcp.WithBoolean("include_deleted",
		mcp.Description("Include soft-deleted observations (default: false)"),
	),
)

var importToolDef = mcp.NewTool(
	"observation_import",
	mcp.WithDescription("Import observations from a JSONL export file."),
	mcp.WithString("path",
		mcp.Required(),
		mcp.Description("JSONL file to import"),
	),
	mcp.WithString("mode",
		mcp.Description("Collision handling (default: error)"),
		mcp.Enum("error", "replace", "rename"),
	),
)
