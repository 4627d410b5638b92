package main

import (
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/tidwall/jsonc"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/hpungsan/promptmeta/internal/config"
	"github.com/hpungsan/promptmeta/internal/errors"
	"github.com/hpungsan/promptmeta/internal/observation"
	"github.com/hpungsan/promptmeta/internal/ops"
	"github.com/hpungsan/promptmeta/internal/web"
)

// maxInputBytes caps output read from stdin or --file.
const maxInputBytes = 64 << 20

// env carries what commands need. db is nil for commands that never touch
// storage (prompt, parse, inspect, render).
type env struct {
	db     *sql.DB
	cfg    *config.Config
	logger *zap.Logger
}

// newCLIApp creates the CLI application with all commands.
func newCLIApp(e *env) *cli.App {
	app := &cli.App{
		Name:    "promptmeta",
		Usage:   "Parse shell prompt metadata and keep a history of command observations",
		Version: Version,
		Commands: []*cli.Command{
			promptCmd(e),
			parseCmd(e),
			inspectCmd(e),
			renderCmd(e),
			recordCmd(e),
			fetchCmd(e),
			listCmd(e),
			latestCmd(e),
			deleteCmd(e),
			purgeCmd(e),
			exportCmd(e),
			importCmd(e),
			serveCmd(e),
		},
	}
	// Return errors to the caller instead of exiting, so tests can inspect them.
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

func fileFlag() cli.Flag {
	return &cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "Read output from `PATH` instead of stdin"}
}

func observeFlags() []cli.Flag {
	return []cli.Flag{
		fileFlag(),
		&cli.StringFlag{Name: "command", Aliases: []string{"c"}, Usage: "Command line (or cell source for run_ipython)"},
		&cli.StringFlag{Name: "kind", Aliases: []string{"k"}, Value: "run", Usage: "Observation kind: run|run_ipython"},
		&cli.BoolFlag{Name: "hidden", Usage: "Output is hidden from the agent (never truncated)"},
		&cli.StringFlag{Name: "metadata", Usage: "Explicit metadata as a JSON object; skips scanning the output"},
		&cli.StringFlag{Name: "exit-code", Usage: "Legacy exit code override"},
		&cli.StringFlag{Name: "command-id", Usage: "Legacy command id (pid) override"},
	}
}

// observeInput builds an ObserveInput from the shared observe flags.
func observeInput(c *cli.Context) (ops.ObserveInput, error) {
	output, err := readInput(c)
	if err != nil {
		return ops.ObserveInput{}, err
	}

	input := ops.ObserveInput{
		Kind:    c.String("kind"),
		Command: c.String("command"),
		Output:  output,
		Hidden:  c.Bool("hidden"),
	}

	if raw := c.String("metadata"); raw != "" {
		var fields map[string]any
		if err := json.Unmarshal(jsonc.ToJSON([]byte(raw)), &fields); err != nil {
			return input, errors.NewInvalidRequest(fmt.Sprintf("--metadata must be a JSON object: %v", err))
		}
		input.Metadata = fields
	}

	if input.Legacy.ExitCode, err = optionalInt(c, "exit-code"); err != nil {
		return input, err
	}
	if input.Legacy.CommandID, err = optionalInt(c, "command-id"); err != nil {
		return input, err
	}
	return input, nil
}

func promptCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "prompt",
		Usage: "Print the PS1 value that makes the shell emit metadata blocks",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "Print the template and markers as JSON"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.Prompt(e.cfg)
			if err != nil {
				return outputError(err)
			}
			if c.Bool("json") {
				return outputJSON(c, output)
			}
			_, err = io.WriteString(c.App.Writer, output.PS1)
			return err
		},
	}
}

func parseCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "parse",
		Usage: "Extract PS1 metadata from captured output (stdin or --file)",
		Flags: []cli.Flag{
			fileFlag(),
			&cli.BoolFlag{Name: "all", Aliases: []string{"a"}, Usage: "Return every accepted block"},
		},
		Action: func(c *cli.Context) error {
			text, err := readInput(c)
			if err != nil {
				return outputError(err)
			}
			output, err := ops.Parse(e.cfg, e.logger, ops.ParseInput{Text: text, All: c.Bool("all")})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c, output)
		},
	}
}

func inspectCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "inspect",
		Usage: "Classify every prompt block in captured output",
		Flags: []cli.Flag{fileFlag()},
		Action: func(c *cli.Context) error {
			text, err := readInput(c)
			if err != nil {
				return outputError(err)
			}
			output, err := ops.Inspect(e.cfg, e.logger, ops.InspectInput{Text: text})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c, output)
		},
	}
}

func renderCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "render",
		Usage: "Build an observation from captured output without storing it",
		Flags: append(observeFlags(),
			&cli.BoolFlag{Name: "text", Aliases: []string{"t"}, Usage: "Print only the agent-facing text"},
		),
		Action: func(c *cli.Context) error {
			input, err := observeInput(c)
			if err != nil {
				return outputError(err)
			}
			output, err := ops.Render(e.cfg, e.logger, input)
			if err != nil {
				return outputError(err)
			}
			if c.Bool("text") {
				_, err = fmt.Fprintln(c.App.Writer, output.AgentObservation)
				return err
			}
			return outputJSON(c, output)
		},
	}
}

func recordCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "record",
		Usage: "Build an observation from captured output and store it",
		Flags: append(observeFlags(),
			&cli.StringFlag{Name: "session", Aliases: []string{"s"}, Value: observation.DefaultSession, Usage: "Session name"},
		),
		Action: func(c *cli.Context) error {
			input, err := observeInput(c)
			if err != nil {
				return outputError(err)
			}
			output, err := ops.Record(c.Context, e.db, e.cfg, e.logger, ops.RecordInput{
				ObserveInput: input,
				Session:      c.String("session"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c, output)
		},
	}
}

func fetchCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:      "fetch",
		Usage:     "Fetch an observation by ID",
		ArgsUsage: "<id>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "include-deleted", Usage: "Include soft-deleted observations"},
			&cli.BoolFlag{Name: "no-content", Usage: "Omit the agent-facing text"},
		},
		Action: func(c *cli.Context) error {
			input := ops.FetchInput{
				ID:             c.Args().First(),
				IncludeDeleted: c.Bool("include-deleted"),
			}
			if c.Bool("no-content") {
				includeContent := false
				input.IncludeContent = &includeContent
			}

			output, err := ops.Fetch(e.db, input)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c, output)
		},
	}
}

func listCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List observations, newest first",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "session", Aliases: []string{"s"}, Usage: "Filter by session"},
			&cli.StringFlag{Name: "kind", Aliases: []string{"k"}, Usage: "Filter by kind: run|run_ipython"},
			&cli.StringFlag{Name: "exit-code", Usage: "Filter by exit code"},
			&cli.BoolFlag{Name: "failed", Usage: "Only commands with a non-zero exit code"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: ops.DefaultListLimit, Usage: "Maximum items to return"},
			&cli.IntFlag{Name: "offset", Aliases: []string{"o"}, Value: 0, Usage: "Items to skip"},
			&cli.BoolFlag{Name: "include-deleted", Usage: "Include soft-deleted observations"},
		},
		Action: func(c *cli.Context) error {
			exitCode, err := optionalInt(c, "exit-code")
			if err != nil {
				return outputError(err)
			}
			output, err := ops.List(e.db, ops.ListInput{
				Session:        optionalString(c, "session"),
				Kind:           c.String("kind"),
				ExitCode:       exitCode,
				FailedOnly:     c.Bool("failed"),
				Limit:          c.Int("limit"),
				Offset:         c.Int("offset"),
				IncludeDeleted: c.Bool("include-deleted"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c, output)
		},
	}
}

func latestCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "latest",
		Usage: "Show the most recent observation",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "session", Aliases: []string{"s"}, Usage: "Limit to a session"},
			&cli.BoolFlag{Name: "content", Usage: "Include the agent-facing text"},
			&cli.BoolFlag{Name: "include-deleted", Usage: "Consider soft-deleted observations"},
		},
		Action: func(c *cli.Context) error {
			includeContent := c.Bool("content")
			output, err := ops.Latest(e.db, ops.LatestInput{
				Session:        optionalString(c, "session"),
				IncludeContent: &includeContent,
				IncludeDeleted: c.Bool("include-deleted"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c, output)
		},
	}
}

func deleteCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "Soft-delete an observation",
		ArgsUsage: "<id>",
		Action: func(c *cli.Context) error {
			output, err := ops.Delete(c.Context, e.db, ops.DeleteInput{ID: c.Args().First()})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c, output)
		},
	}
}

func purgeCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "purge",
		Usage: "Permanently delete soft-deleted observations",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "session", Aliases: []string{"s"}, Usage: "Filter by session"},
			&cli.StringFlag{Name: "older-than", Usage: "Only purge if deleted more than N days ago (e.g., 7d)"},
		},
		Action: func(c *cli.Context) error {
			input := ops.PurgeInput{Session: optionalString(c, "session")}
			if olderThan := c.String("older-than"); olderThan != "" {
				days, err := parseDuration(olderThan)
				if err != nil {
					return outputError(errors.NewInvalidRequest(err.Error()))
				}
				input.OlderThanDays = &days
			}

			output, err := ops.Purge(c.Context, e.db, input)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c, output)
		},
	}
}

func exportCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Export observations to a JSONL file",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "path", Aliases: []string{"p"}, Usage: "Export file path (default: ~/.promptmeta/exports/<session>-<timestamp>.jsonl)"},
			&cli.StringFlag{Name: "session", Aliases: []string{"s"}, Usage: "Filter by session"},
			&cli.BoolFlag{Name: "include-deleted", Usage: "Include soft-deleted observations"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.Export(c.Context, e.db, e.cfg, ops.ExportInput{
				Path:           c.String("path"),
				Session:        optionalString(c, "session"),
				IncludeDeleted: c.Bool("include-deleted"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c, output)
		},
	}
}

func importCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "import",
		Usage: "Import observations from a JSONL file",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "path", Aliases: []string{"p"}, Required: true, Usage: "Import file path"},
			&cli.StringFlag{Name: "mode", Aliases: []string{"m"}, Value: string(ops.ImportModeError), Usage: "Collision mode: error|replace|rename"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.Import(c.Context, e.db, e.cfg, e.logger, ops.ImportInput{
				Path: c.String("path"),
				Mode: ops.ImportMode(c.String("mode")),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c, output)
		},
	}
}

func serveCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the web UI for browsing observations",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Value: "127.0.0.1", Usage: "Address to bind"},
			&cli.IntFlag{Name: "port", Value: 8484, Usage: "Port to listen on"},
		},
		Action: func(c *cli.Context) error {
			srv, err := web.NewServer(e.db, e.cfg, e.logger, Version, c.String("bind"), c.Int("port"))
			if err != nil {
				return outputError(errors.NewInternal(err))
			}
			return web.Run(srv, e.logger)
		},
	}
}

// Helper functions

// outputJSON writes v as indented JSON to the app's writer.
func outputJSON(c *cli.Context, v any) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	var metaErr *errors.MetaError
	if stderrors.As(err, &metaErr) {
		return cli.Exit(fmt.Sprintf("[%s] %s", metaErr.Code, metaErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// readInput reads captured output from --file, or from the app's reader
// when it is piped. Output is returned verbatim.
func readInput(c *cli.Context) (string, error) {
	r := c.App.Reader
	if path := c.String("file"); path != "" {
		f, err := os.Open(path)
		if err != nil {
			if os.IsNotExist(err) {
				return "", errors.NewFileNotFound(path)
			}
			return "", errors.NewInternal(err)
		}
		defer f.Close()
		r = f
	} else if f, ok := r.(*os.File); ok && isTerminalFile(f) {
		return "", errors.NewInvalidRequest("pipe output via stdin or pass --file")
	}
	return readLimited(r, maxInputBytes)
}

// readLimited reads all of r, failing when it holds more than limit bytes.
func readLimited(r io.Reader, limit int64) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return "", errors.NewInternal(err)
	}
	if int64(len(data)) > limit {
		return "", errors.NewInvalidRequest(fmt.Sprintf("input exceeds %d bytes", limit))
	}
	return string(data), nil
}

func isTerminalFile(f *os.File) bool {
	stat, err := f.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) != 0
}

func optionalString(c *cli.Context, name string) *string {
	if s := c.String(name); s != "" {
		return &s
	}
	return nil
}

// optionalInt parses a string flag as an integer; unset flags yield nil.
func optionalInt(c *cli.Context, name string) (*int, error) {
	s := strings.TrimSpace(c.String(name))
	if s == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("--%s must be an integer", name))
	}
	return &n, nil
}

// parseDuration parses "7d" format to days.
func parseDuration(s string) (int, error) {
	if numStr, ok := strings.CutSuffix(s, "d"); ok {
		days, err := strconv.Atoi(numStr)
		if err != nil {
			return 0, fmt.Errorf("invalid duration: %s", s)
		}
		if days < 0 {
			return 0, fmt.Errorf("duration must be non-negative")
		}
		return days, nil
	}
	return 0, fmt.Errorf("duration must end with 'd' (days), e.g., 7d")
}
