package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/hpungsan/tandem/internal/config"
	"github.com/hpungsan/tandem/internal/db"
	"github.com/hpungsan/tandem/internal/docs"
	"github.com/hpungsan/tandem/internal/mcp"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"create": true, "show": true, "append": true,
	"merge": true, "rebase": true, "log": true,
	"list": true, "delete": true, "serve": true,
	"export": true, "import": true,
	"help": true,
}

// isCLIMode determines if we should run CLI vs MCP server.
func isCLIMode() bool {
	if len(os.Args) < 2 {
		return false // No args → MCP server
	}
	arg := os.Args[1]
	if cliCommands[arg] {
		return true
	}
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v"
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
	stat, _ := os.Stdin.Stat()
	return (stat.Mode() & os.ModeCharDevice) != 0
}

func printBanner() {
	fmt.Println(`
   _                 _
  | |_ __ _ _ _  __| |___ _ __
  |  _/ _' | ' \/ _' / -_) '  \
   \__\__,_|_||_\__,_\___|_|_|_|

  Collaborative text sync engine

  Usage: tandem <command> [options]
         tandem --help

  MCP server mode requires piped input.`)
}

// warnUnknownDisabled logs config entries that name no known tool or type.
func warnUnknownDisabled(cfg *config.Config) {
	for _, name := range mcp.ValidateDisabledTools(cfg.DisabledTools) {
		log.Printf("warning: unknown tool in disabled_tools: %q", name)
	}
	for _, name := range mcp.ValidateDisabledTypes(cfg.DisabledTypes) {
		log.Printf("warning: unknown type in disabled_types: %q", name)
	}
}

func main() {
	// MCP speaks on stdout; keep logs on stderr
	log.SetOutput(os.Stderr)

	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return
	}

	// Handle --help/--version before DB init (no DB needed)
	if isHelpOrVersion() {
		app := newCLIApp(nil)
		if err := app.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: could not determine home directory: %v\n", err)
		os.Exit(1)
	}
	baseDir := filepath.Join(homeDir, ".tandem")

	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}
	cfg, err := config.LoadWithRepo(baseDir, cwd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to load config: %v\n", err)
		os.Exit(1)
	}
	warnUnknownDisabled(cfg)

	database, err := db.Init(baseDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to initialize database: %v\n", err)
		os.Exit(1)
	}
	defer database.Close()
	db.ConfigurePool(database, cfg)

	svc := docs.New(database, cfg, log.Default())

	if isCLIMode() {
		app := newCLIApp(svc)
		if err := app.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Unknown argument + terminal → show error (don't start MCP server)
	if len(os.Args) >= 2 && isTerminal() {
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", os.Args[1])
		fmt.Fprintf(os.Stderr, "Run 'tandem --help' for usage.\n")
		os.Exit(1)
	}

	if err := mcp.Run(svc, Version); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
