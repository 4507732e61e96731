package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/craftline/waroute/internal/agent"
	"github.com/craftline/waroute/internal/buffer"
	"github.com/craftline/waroute/internal/config"
	"github.com/craftline/waroute/internal/dedup"
	"github.com/craftline/waroute/internal/events"
	"github.com/craftline/waroute/internal/intervention"
	"github.com/craftline/waroute/internal/janitor"
	"github.com/craftline/waroute/internal/router"
	"github.com/craftline/waroute/internal/server"
	"github.com/craftline/waroute/internal/store"
	"github.com/craftline/waroute/internal/store/lite"
	"github.com/craftline/waroute/internal/store/pg"
	"github.com/craftline/waroute/internal/telemetry"
	"github.com/craftline/waroute/internal/wamsg"
	"github.com/craftline/waroute/internal/whatsapp"
	"github.com/craftline/waroute/internal/worker"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook service",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry, Version)
	if err != nil {
		slog.Error("telemetry setup failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			slog.Warn("telemetry shutdown", "error", err)
		}
	}()

	stores, err := openStores(cfg)
	if err != nil {
		slog.Error("store setup failed", "error", err)
		os.Exit(1)
	}
	defer stores.Close()

	wa := whatsapp.New(
		cfg.WhatsApp.AccessToken,
		cfg.WhatsApp.PhoneNumberID,
		whatsapp.WithBaseURL(cfg.WhatsApp.BaseURL),
		whatsapp.WithSendRate(float64(cfg.WhatsApp.SendRPS)),
	)

	ai := agent.NewHTTP(cfg.Agent.BaseURL, cfg.Agent.Token, agent.WithTimeout(cfg.Agent.Timeout()))
	inputs := agent.NewInputBuilder(stores.Messages, wa, cfg.Agent.MaxImageEdge)

	hub := events.NewHub()
	defer hub.Close()

	pool := worker.NewPool(worker.Options{
		Workers:   cfg.Worker.Workers,
		QueueSize: cfg.Worker.QueueSize,
		Retries:   cfg.Worker.MaxRetries,
		BaseDelay: seconds(cfg.Worker.RetryBaseSecs),
		MaxDelay:  seconds(cfg.Worker.RetryMaxSecs),
	})
	pool.Start(ctx)
	defer pool.Close()

	rt := router.New(stores.Conversations, stores.Messages, inputs, ai, wa, hub, router.Options{})

	// Drained batches run under the pool's retry budget, not inline in the
	// buffer's timer goroutine.
	eng := buffer.New(stores.Buffer, func(_ context.Context, msg wamsg.Message) error {
		return pool.Submit("process_message", func(jctx context.Context) error {
			return rt.HandleInbound(jctx, msg)
		})
	}, buffer.Options{
		Debounce: cfg.Buffer.Debounce(),
		Poll:     cfg.Buffer.Poll(),
		MaxWait:  cfg.Buffer.MaxWait(),
	})
	defer eng.Close()

	dd := dedup.New(stores.Dedup, cfg.Dedup.TTL())

	var backend *intervention.BackendClient
	if cfg.Operator.BackendBaseURL != "" {
		backend = intervention.NewBackendClient(cfg.Operator.BackendBaseURL)
	}
	ctrl := intervention.New(stores.Conversations, stores.Messages, ai, wa, pool, hub, backend)
	rt.SetEscalator(ctrl)

	jan, err := janitor.New(cfg.Janitor.Schedule,
		janitor.Task{Name: "purge_dedup", Run: func(jctx context.Context) error {
			n, err := stores.Dedup.PurgeExpired(jctx)
			if err != nil {
				return err
			}
			if n > 0 {
				slog.Debug("dedup entries purged", "count", n)
			}
			return nil
		}},
		janitor.Task{Name: "flush_stale_batches", Run: eng.FlushStale},
	)
	if err != nil {
		slog.Error("janitor setup failed", "error", err)
		os.Exit(1)
	}

	srv := server.New(cfg.Server, dd, eng, rt, ctrl, wa, hub, pool, Version)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Start(gctx) })
	g.Go(func() error { return jan.Run(gctx) })

	if err := g.Wait(); err != nil {
		slog.Error("service exited with error", "error", err)
		os.Exit(1)
	}
	slog.Info("service stopped")
}

func openStores(cfg *config.Config) (*store.Stores, error) {
	sc := store.Config{
		Mode:        cfg.Database.Mode,
		PostgresDSN: cfg.Database.PostgresDSN,
		SQLitePath:  cfg.Database.SQLitePath,
	}
	if sc.Mode == "postgres" {
		slog.Info("using postgres storage")
		return pg.NewStores(sc)
	}
	slog.Info("using sqlite storage", "path", sc.SQLitePath)
	return lite.NewStores(sc)
}

func seconds(v int) time.Duration {
	return time.Duration(v) * time.Second
}
