package main

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/hpungsan/mcpeval/internal/catalog"
	"github.com/hpungsan/mcpeval/internal/config"
	"github.com/hpungsan/mcpeval/internal/db"
	"github.com/hpungsan/mcpeval/internal/logging"
	"github.com/hpungsan/mcpeval/internal/mcp"
	"github.com/hpungsan/mcpeval/internal/metrics"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"serve": true, "web": true,
	"leaderboard": true, "runs": true, "run": true, "session": true,
	"help": true,
}

// runtime bundles everything a command needs once the database is open.
type runtime struct {
	db       *sql.DB
	store    *db.Store
	cfg      *config.Config
	catalog  *catalog.Catalog
	log      *zap.Logger
	registry *prometheus.Registry
	metrics  *metrics.Recorder
}

// deps returns the MCP server dependencies for this runtime.
func (rt *runtime) deps() mcp.Deps {
	return mcp.Deps{
		Store:   rt.store,
		Catalog: rt.catalog,
		Config:  rt.cfg,
		Logger:  rt.log,
		Metrics: rt.metrics,
	}
}

// isCLIMode determines if we should run CLI vs MCP server.
func isCLIMode() bool {
	if len(os.Args) < 2 {
		return false
	}
	arg := os.Args[1]
	if cliCommands[arg] {
		return true
	}
	if arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" {
		return true
	}
	return false
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
  mcpeval - MCP client conformance benchmark

  Usage: mcpeval <command> [options]
         mcpeval --help

  MCP server mode requires piped input.`)
}

// setup opens the database and loads config, logging and the catalog.
func setup(baseDir string) (*runtime, error) {
	cfg, err := config.Load(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logging.New(cfg.LogLevel, os.Stderr)
	if err != nil {
		return nil, err
	}

	database, err := db.Init(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	db.ConfigurePool(database, cfg)

	cat := catalog.Default()
	if cfg.CatalogPath != "" {
		cat, err = catalog.Load(cfg.CatalogPath)
		if err != nil {
			database.Close()
			return nil, fmt.Errorf("failed to load catalog: %w", err)
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return &runtime{
		db:       database,
		store:    db.NewStore(database),
		cfg:      cfg,
		catalog:  cat,
		log:      log,
		registry: reg,
		metrics:  metrics.New(reg),
	}, nil
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

func main() {
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return
	}

	if isHelpOrVersion() {
		app := newCLIApp(nil)
		if err := app.Run(os.Args); err != nil {
			fail("%v", err)
		}
		return
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		fail("could not determine home directory: %v", err)
	}

	rt, err := setup(filepath.Join(homeDir, ".mcpeval"))
	if err != nil {
		fail("%v", err)
	}
	defer rt.db.Close()
	defer rt.log.Sync() //nolint:errcheck

	if isCLIMode() {
		app := newCLIApp(rt)
		if err := app.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			rt.db.Close()
			os.Exit(1)
		}
		return
	}

	if len(os.Args) >= 2 && isTerminal() {
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", os.Args[1])
		fmt.Fprintf(os.Stderr, "Run 'mcpeval --help' for usage.\n")
		rt.db.Close()
		os.Exit(1)
	}

	if err := mcp.Run(rt.deps(), Version); err != nil {
		rt.log.Error("stdio server stopped", zap.Error(err))
		rt.db.Close()
		os.Exit(1)
	}
}
