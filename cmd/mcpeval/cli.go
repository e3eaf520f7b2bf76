package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/hpungsan/mcpeval/internal/bench"
	"github.com/hpungsan/mcpeval/internal/db"
	"github.com/hpungsan/mcpeval/internal/errors"
	"github.com/hpungsan/mcpeval/internal/mcp"
	"github.com/hpungsan/mcpeval/internal/web"
)

// newCLIApp creates the CLI application with all commands. rt may be nil
// when only help or version output is needed.
func newCLIApp(rt *runtime) *cli.App {
	app := &cli.App{
		Name:    "mcpeval",
		Usage:   "MCP client conformance benchmark",
		Version: Version,
		Commands: []*cli.Command{
			serveCmd(rt),
			webCmd(rt),
			leaderboardCmd(rt),
			runsCmd(rt),
			runCmd(rt),
			sessionCmd(rt),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// serveCmd runs the benchmark over streamable HTTP.
func serveCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the benchmark over streamable HTTP",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Aliases: []string{"a"}, Usage: "Listen address (default from config)"},
			&cli.BoolFlag{Name: "web", Usage: "Also serve the leaderboard and /metrics on the web address"},
		},
		Action: func(c *cli.Context) error {
			addr := firstNonEmpty(c.String("addr"), rt.cfg.HTTPAddr)
			srv := mcp.NewHTTPServer(rt.deps(), Version, addr)

			var ui *http.Server
			if c.Bool("web") {
				var err error
				ui, err = web.NewServer(rt.store, rt.webOptions(rt.cfg.WebAddr))
				if err != nil {
					return outputError(errors.NewInternal(err))
				}
			}

			errCh := make(chan error, 2)
			go func() { errCh <- srv.Start() }()
			if ui != nil {
				go func() {
					rt.log.Info("leaderboard running", zap.String("url", "http://"+ui.Addr))
					errCh <- ui.ListenAndServe()
				}()
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigCh)

			var runErr error
			select {
			case runErr = <-errCh:
			case <-sigCh:
				rt.log.Info("shutting down")
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				rt.log.Warn("mcp shutdown", zap.Error(err))
			}
			if ui != nil {
				if err := ui.Shutdown(ctx); err != nil {
					rt.log.Warn("web shutdown", zap.Error(err))
				}
			}
			if runErr != nil && runErr != http.ErrServerClosed {
				return outputError(errors.NewInternal(runErr))
			}
			return nil
		},
	}
}

// webCmd serves the read-only leaderboard UI.
func webCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "web",
		Usage: "Serve the leaderboard UI and /metrics",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Aliases: []string{"a"}, Usage: "Listen address (default from config)"},
		},
		Action: func(c *cli.Context) error {
			srv, err := web.NewServer(rt.store, rt.webOptions(firstNonEmpty(c.String("addr"), rt.cfg.WebAddr)))
			if err != nil {
				return outputError(errors.NewInternal(err))
			}
			if err := web.Run(srv, rt.log); err != nil && err != http.ErrServerClosed {
				return outputError(errors.NewInternal(err))
			}
			return nil
		},
	}
}

// leaderboardCmd prints ranked successful runs.
func leaderboardCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "leaderboard",
		Usage: "Print successful runs in rank order",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: db.DefaultListLimit, Usage: "Maximum entries to print"},
		},
		Action: func(c *cli.Context) error {
			ranked, err := rt.store.GetAllSuccessfulRunsRanked(c.Context)
			if err != nil {
				return outputError(err)
			}

			limit := c.Int("limit")
			if limit < 1 {
				return outputError(errors.NewInvalidRequest("limit must be positive"))
			}

			entries := make([]bench.Outcome, 0, min(limit, len(ranked)))
			for i := range ranked {
				if i >= limit {
					break
				}
				entries = append(entries, bench.Outcome{
					Run:        &ranked[i],
					Rank:       i + 1,
					Total:      len(ranked),
					TopPercent: bench.TopPercent(i+1, len(ranked)),
				})
			}
			return outputJSON(map[string]any{"entries": entries, "total": len(ranked)})
		},
	}
}

// runsCmd prints the most recent runs.
func runsCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "runs",
		Usage: "Print the most recent runs",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: db.DefaultListLimit, Usage: "Maximum runs to print"},
		},
		Action: func(c *cli.Context) error {
			if c.Int("limit") < 1 {
				return outputError(errors.NewInvalidRequest("limit must be positive"))
			}
			runs, err := rt.store.ListRuns(c.Context, c.Int("limit"))
			if err != nil {
				return outputError(err)
			}
			return outputJSON(map[string]any{"runs": runs})
		},
	}
}

// runCmd prints one run with its leaderboard placement.
func runCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "Print one run with its scorecard",
		ArgsUsage: "<id>",
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return outputError(errors.NewInvalidRequest("run id is required"))
			}
			run, err := rt.store.GetRun(c.Context, c.Args().First())
			if err != nil {
				return outputError(err)
			}
			outcome, err := bench.OutcomeFor(c.Context, rt.store, run)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(outcome)
		},
	}
}

// sessionCmd prints one stored session.
func sessionCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:      "session",
		Usage:     "Print one stored session",
		ArgsUsage: "<id>",
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return outputError(errors.NewInvalidRequest("session id is required"))
			}
			sess, err := rt.store.GetSession(c.Context, c.Args().First())
			if err != nil {
				return outputError(err)
			}
			return outputJSON(sess)
		},
	}
}

func (rt *runtime) webOptions(addr string) web.Options {
	return web.Options{
		Addr:     addr,
		Version:  Version,
		Logger:   rt.log,
		Gatherer: rt.registry,
	}
}

// Helper functions

// outputJSON marshals result to stdout as JSON.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	if evalErr, ok := errors.As(err); ok {
		return cli.Exit(fmt.Sprintf("[%s] %s", evalErr.Code, evalErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
