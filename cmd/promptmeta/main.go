package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"github.com/hpungsan/promptmeta/internal/config"
	"github.com/hpungsan/promptmeta/internal/db"
	"github.com/hpungsan/promptmeta/internal/logging"
	"github.com/hpungsan/promptmeta/internal/mcp"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// cliCommands maps known subcommands to whether they need the database.
var cliCommands = map[string]bool{
	"prompt": false, "parse": false, "inspect": false, "render": false,
	"record": true, "fetch": true, "list": true, "latest": true,
	"delete": true, "purge": true, "export": true, "import": true,
	"serve": true,
	"help":  false,
}

// isCLIMode determines if we should run CLI vs MCP server.
func isCLIMode() bool {
	if len(os.Args) < 2 {
		return false
	}
	arg := os.Args[1]
	if _, ok := cliCommands[arg]; ok {
		return true
	}
	return isHelpOrVersion()
}

// needsDB reports whether the invocation touches observation storage.
// MCP mode always does.
func needsDB() bool {
	if !isCLIMode() {
		return true
	}
	return cliCommands[os.Args[1]]
}

// isHelpOrVersion returns true if the user is requesting help or version info.
func isHelpOrVersion() bool {
	if len(os.Args) < 2 {
		return false
	}
	arg := os.Args[1]
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" || arg == "help"
}

// isTerminal returns true if stdin is a terminal (not piped).
func isTerminal() bool {
	return isTerminalFile(os.Stdin)
}

// baseDir returns the data directory: $PROMPTMETA_HOME or ~/.promptmeta.
func baseDir() (string, error) {
	if dir := os.Getenv("PROMPTMETA_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".promptmeta"), nil
}

func printBanner() {
	fmt.Println(`
  promptmeta: shell prompt metadata and command observations

  Usage: promptmeta <command> [options]
         promptmeta --help

  MCP server mode requires piped input.`)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

func main() {
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return
	}

	if isHelpOrVersion() {
		if err := newCLIApp(&env{cfg: config.DefaultConfig(), logger: zap.NewNop()}).Run(os.Args); err != nil {
			fatal("%v", err)
		}
		return
	}

	// Unknown argument + terminal: show error instead of starting the MCP server.
	if len(os.Args) >= 2 && !isCLIMode() && isTerminal() {
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", os.Args[1])
		fmt.Fprintf(os.Stderr, "Run 'promptmeta --help' for usage.\n")
		os.Exit(1)
	}

	dir, err := baseDir()
	if err != nil {
		fatal("%v", err)
	}

	wd, _ := os.Getwd()
	cfg, err := config.LoadWithRepo(dir, wd)
	if err != nil {
		fatal("failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		fatal("%v", err)
	}
	defer logger.Sync() //nolint:errcheck

	if unknown := mcp.ValidateDisabledTools(cfg.DisabledTools); len(unknown) > 0 {
		logger.Warn("Unknown tools in disabled_tools", zap.Strings("tools", unknown))
	}
	if unknown := mcp.ValidateDisabledTypes(cfg.DisabledTypes); len(unknown) > 0 {
		logger.Warn("Unknown types in disabled_types", zap.Strings("types", unknown))
	}

	e := &env{cfg: cfg, logger: logger}
	if needsDB() {
		database, err := db.Init(dir)
		if err != nil {
			fatal("failed to initialize database: %v", err)
		}
		defer database.Close()
		db.ConfigurePool(database, cfg)
		e.db = database
	}

	if isCLIMode() {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		err := newCLIApp(e).RunContext(ctx, os.Args)
		stop()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			logger.Sync() //nolint:errcheck
			os.Exit(1)
		}
		return
	}

	if err := mcp.Run(e.db, cfg, logger, Version); err != nil {
		logger.Error("MCP server stopped", zap.Error(err))
		os.Exit(1)
	}
}
