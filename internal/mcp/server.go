package mcp

import (
	"context"
	"database/sql"
	"slices"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/hpungsan/promptmeta/internal/config"
)

// KnownTypes are the tool families that can be disabled as a whole.
var KnownTypes = []string{"ps1", "observation"}

type toolHandler func(*Handlers, context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)

// tools is the registration list. A tool's family is the part of its name
// before the first underscore.
var tools = []struct {
	def    mcp.Tool
	handle toolHandler
}{
	{promptToolDef, (*Handlers).HandlePrompt},
	{parseToolDef, (*Handlers).HandleParse},
	{inspectToolDef, (*Handlers).HandleInspect},
	{renderToolDef, (*Handlers).HandleRender},
	{recordToolDef, (*Handlers).HandleRecord},
	{fetchToolDef, (*Handlers).HandleFetch},
	{listToolDef, (*Handlers).HandleList},
	{latestToolDef, (*Handlers).HandleLatest},
	{deleteToolDef, (*Handlers).HandleDelete},
	{purgeToolDef, (*Handlers).HandlePurge},
	{exportToolDef, (*Handlers).HandleExport},
	{importToolDef, (*Handlers).HandleImport},
}

var toolIndex = func() map[string]int {
	idx := make(map[string]int, len(tools))
	for i, t := range tools {
		idx[t.def.Name] = i
	}
	return idx
}()

// AllToolNames returns every tool name in sorted order.
func AllToolNames() []string {
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		names = append(names, t.def.Name)
	}
	sort.Strings(names)
	return names
}

// ValidateDisabledTools returns the entries of names that are not tools.
func ValidateDisabledTools(names []string) []string {
	unknown := []string{}
	for _, name := range names {
		if _, ok := toolIndex[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// ValidateDisabledTypes returns the entries of names that are not in KnownTypes.
func ValidateDisabledTypes(names []string) []string {
	unknown := []string{}
	for _, name := range names {
		if !slices.Contains(KnownTypes, name) {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// GetTypeForTool returns the family of a tool name: "ps1_parse" is "ps1".
func GetTypeForTool(toolName string) string {
	family, _, found := strings.Cut(toolName, "_")
	if !found || family == "" {
		return ""
	}
	return family
}

// ExpandTypesToTools returns the sorted names of every tool in the given families.
func ExpandTypesToTools(types []string) []string {
	if len(types) == 0 {
		return nil
	}
	var names []string
	for _, t := range tools {
		if slices.Contains(types, GetTypeForTool(t.def.Name)) {
			names = append(names, t.def.Name)
		}
	}
	sort.Strings(names)
	return names
}

// NewServer creates an MCP server with the promptmeta tools registered.
// Tools listed in cfg.DisabledTools or belonging to cfg.DisabledTypes
// are skipped.
func NewServer(db *sql.DB, cfg *config.Config, logger *zap.Logger, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"promptmeta",
		version,
		server.WithToolCapabilities(true),
	)

	h := NewHandlers(db, cfg, logger)

	skip := append(ExpandTypesToTools(cfg.DisabledTypes), cfg.DisabledTools...)
	for _, t := range tools {
		if slices.Contains(skip, t.def.Name) {
			continue
		}
		handle := t.handle
		s.AddTool(t.def, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handle(h, ctx, req)
		})
	}

	return s
}

// Run starts the MCP server using stdio transport.
func Run(db *sql.DB, cfg *config.Config, logger *zap.Logger, version string) error {
	s := NewServer(db, cfg, logger, version)
	logger.Info("Serving MCP over stdio", zap.Int("tools", len(s.ListTools())))
	return server.ServeStdio(s)
}
