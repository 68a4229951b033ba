package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/reliefops/reliefops/cmd/reliefops/cli"
	"github.com/reliefops/reliefops/internal/app"
	"github.com/reliefops/reliefops/internal/dispatch"
	"github.com/reliefops/reliefops/internal/inventory"
	"github.com/reliefops/reliefops/internal/platform/db"
	"github.com/reliefops/reliefops/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	code := run(ctx, cfg, logger, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string, stdout, stderr io.Writer) int {
	cmd := "serve"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	if cmd == "migrate" {
		if cfg.UsesMemoryStore() {
			_, _ = fmt.Fprintln(stderr, "migrate: nothing to migrate for the memory store")
			return 1
		}
		if err := db.Migrate(ctx, cfg.PGDSN); err != nil {
			logger.Error("migrate", slog.Any("error", err))
			return 1
		}
		logger.Info("migrations applied")
		return 0
	}

	rt, err := wire(ctx, cfg, logger)
	if err != nil {
		logger.Error("wire services", slog.Any("error", err))
		return 1
	}
	defer rt.Close(logger)

	switch cmd {
	case "serve":
		if err := serve(ctx, cfg, logger, rt); err != nil {
			logger.Error("serve", slog.Any("error", err))
			return 1
		}
		return 0
	case "reconcile":
		return reconcile(ctx, rt, args, stdout, stderr)
	case "jobs":
		if err := jobsCommand(ctx, cfg, args, stdout); err != nil {
			_, _ = fmt.Fprintf(stderr, "jobs: %v\n", err)
			return 1
		}
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q (serve, migrate, reconcile, jobs)\n", cmd)
		return 2
	}
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger, rt *runtime) error {
	params := app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		InventoryHandler: inventory.NewHandler(logger, rt.ledger),
		DispatchHandler:  dispatch.NewHandler(logger, rt.desk),
		Metrics:          rt.metrics,
		Readiness:        rt.readiness(),
	}
	if insp, err := rt.inspector(cfg); err == nil {
		params.JobHandler = jobs.NewHandler(insp, logger)
	}

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      app.NewRouter(params),
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("store", cfg.StoreDriver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func reconcile(ctx context.Context, rt *runtime, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("reconcile", flag.ContinueOnError)
	fs.SetOutput(stderr)
	jsonOut := fs.Bool("json", false, "print the report as JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	ledgerCLI, err := cli.NewLedgerCLI(rt.ledger)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err)
		return 1
	}
	return ledgerCLI.ReconcileCommand(ctx, cli.ReconcileOptions{JSONOutput: *jsonOut, Stdout: stdout, Stderr: stderr})
}

func jobsCommand(ctx context.Context, cfg *app.Config, args []string, stdout io.Writer) error {
	if len(args) == 0 {
		return usageError("jobs trigger <task> | jobs inspect")
	}
	jobsCLI := cli.NewJobsCLI(cfg.RedisAddr)
	defer func() { _ = jobsCLI.Close() }()

	switch args[0] {
	case "trigger":
		if len(args) < 2 {
			return usageError("jobs trigger <task>")
		}
		info, err := jobsCLI.Trigger(ctx, args[1])
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(stdout, "enqueued %s as %s on %s\n", info.Type, info.ID, info.Queue)
		return nil
	case "inspect":
		stats, err := jobsCLI.InspectQueues()
		if err != nil {
			return err
		}
		for _, s := range stats {
			_, _ = fmt.Fprintf(stdout, "%-9s pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
				s.Queue, s.Pending, s.Active, s.Scheduled, s.Retry, s.Archived)
		}
		return nil
	default:
		return usageError("jobs trigger <task> | jobs inspect")
	}
}
