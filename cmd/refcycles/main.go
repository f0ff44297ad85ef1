package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ritzau/refcycles/pkg/config"
	"github.com/ritzau/refcycles/pkg/fixture"
	"github.com/ritzau/refcycles/pkg/heap"
	"github.com/ritzau/refcycles/pkg/logging"
	"github.com/ritzau/refcycles/pkg/model"
	"github.com/ritzau/refcycles/pkg/refcycles"
	"github.com/ritzau/refcycles/pkg/watcher"
	"github.com/ritzau/refcycles/pkg/web"
)

const (
	exitOK     = 0
	exitCycles = 1
	exitError  = 2
)

// errCyclesFound makes the command exit with exitCycles without printing
// anything beyond the report
var errCyclesFound = errors.New("cycles found")

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	cmd := newRootCommand(stdout)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.Execute()
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errCyclesFound):
		return exitCycles
	default:
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
}

func newRootCommand(stdout io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "refcycles [flags] FIXTURE",
		Short: "Find reference cycles in a heap fixture",
		Long: `Loads a heap fixture (TOML or YAML), checks it for reference cycles
starting from its seeds and prints a report of every strongly connected
component found. Exits 1 when cycles are found and 2 on errors.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			logging.SetLevel(logging.ParseLevel(cfg.Verbosity, cfg.VerboseCnt))

			if cfg.Watch {
				ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
				defer stop()
				return watch(ctx, cmd, args[0], stdout)
			}

			report, _, err := check(cfg, args[0], stdout)
			if err != nil {
				return err
			}
			if report.HasCycles() {
				return errCyclesFound
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.String("config", "", "Config file (default "+config.DefaultFile+" when present)")
	f.StringP("direction", "d", "forward", "Edge direction: forward or backward")
	f.Bool("squeeze", true, "Drop single objects that do not reference themselves")
	f.StringSlice("ignore-types", nil, "Type patterns to exclude (path.Match syntax)")
	f.Int("depth-margin", 5, "Back reference depth beyond the component size")
	f.Int("max-paths", 10, "Back reference paths shown per component")
	f.Bool("joined", false, "Report all components as one")
	f.Bool("color", false, "Colour the report")
	f.Bool("json", false, "Print the components as JSON")
	f.BoolP("watch", "w", false, "Check again whenever the fixture or config changes")
	f.String("serve", "", "Serve the latest report over HTTP on this address (watch mode only)")
	f.String("verbosity", "", "Log level: trace, debug, info, warn or error")
	f.CountP("verbose", "v", "Increase log verbosity")

	return cmd
}

// check runs one check of the fixture at path and prints the result. The
// report and its text rendering are returned for the report server.
func check(cfg *config.Config, path string, stdout io.Writer) (*model.Report, string, error) {
	fx, err := fixture.Load(path)
	if err != nil {
		return nil, "", err
	}
	dir, err := heap.ParseDirection(cfg.Direction)
	if err != nil {
		return nil, "", err
	}
	opts, err := refcycles.OptionsFromConfig(cfg)
	if err != nil {
		return nil, "", err
	}
	opts.Reflector = fx.Graph

	checker := refcycles.New(opts)
	res, err := checker.FindComponents(fx.SeedValues(), dir)
	if err != nil {
		return nil, "", err
	}

	components := res.Components
	if components == nil {
		components = model.ComponentList{}
	}
	report := &model.Report{
		CheckID:    res.CheckID,
		Fixture:    path,
		Direction:  model.Direction(dir.String()),
		Reachable:  res.Reachable,
		Components: components,
	}
	text := checker.Render(res)

	if cfg.JSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		err = enc.Encode(report)
	} else {
		_, err = io.WriteString(stdout, text)
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to write report: %w", err)
	}
	return report, text, nil
}

// watch checks the fixture, then again on every change to it or to the
// config file, until ctx is done
func watch(ctx context.Context, cmd *cobra.Command, path string, stdout io.Writer) error {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return err
	}

	fw, err := watcher.NewFileWatcher()
	if err != nil {
		return err
	}
	if err := fw.Add(path, watcher.ChangeTypeFixture); err != nil {
		return err
	}
	configPath := config.DefaultFile
	if f := cmd.Flags().Lookup("config"); f != nil && f.Value.String() != "" {
		configPath = f.Value.String()
	}
	if err := fw.Add(configPath, watcher.ChangeTypeConfig); err != nil {
		logging.Warn("not watching config", "path", configPath, "error", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	if err := fw.Start(ctx); err != nil {
		return err
	}
	debouncer := watcher.NewDebouncer(fw.Events(), 300*time.Millisecond, 2*time.Second)
	debouncer.Start(ctx)

	var srv *web.Server
	if cfg.Serve != "" {
		srv = web.NewServer()
		addr := cfg.Serve
		g.Go(func() error {
			return srv.Start(ctx, addr)
		})
	}

	rerun := func() {
		if srv != nil {
			if err := srv.CheckStarted(path); err != nil {
				logging.Warn("failed to publish check status", "error", err)
			}
		}

		report, text, err := check(cfg, path, stdout)
		if err != nil {
			logging.Error("check failed", "fixture", path, "error", err)
			if srv != nil {
				if err := srv.CheckFailed(path, err); err != nil {
					logging.Warn("failed to publish check status", "error", err)
				}
			}
			return
		}
		if srv != nil {
			if err := srv.SetReport(report, text); err != nil {
				logging.Warn("failed to publish report", "error", err)
			}
		}
	}

	g.Go(func() error {
		rerun()
		for event := range debouncer.Output() {
			changes := watcher.AnalyzeChanges(event)
			logging.Info("files changed", "type", event.Type, "paths", changes.ChangedFiles)

			if changes.ReloadConfig {
				reloaded, err := config.Load(cmd.Flags())
				if err != nil {
					logging.Error("keeping previous config", "error", err)
				} else {
					cfg = reloaded
					logging.SetLevel(logging.ParseLevel(cfg.Verbosity, cfg.VerboseCnt))
				}
			}
			if changes.ReloadFixture {
				fmt.Fprintln(stdout)
				rerun()
			}
		}
		return nil
	})

	logging.Info("watching for changes, press Ctrl-C to stop", "fixture", path)
	return g.Wait()
}
