package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/LeventeLantos/dispatch-engine/internal/api"
	"github.com/LeventeLantos/dispatch-engine/internal/cache"
	"github.com/LeventeLantos/dispatch-engine/internal/campaign"
	"github.com/LeventeLantos/dispatch-engine/internal/client"
	"github.com/LeventeLantos/dispatch-engine/internal/config"
	"github.com/LeventeLantos/dispatch-engine/internal/delay"
	"github.com/LeventeLantos/dispatch-engine/internal/model"
	"github.com/LeventeLantos/dispatch-engine/internal/notifier"
	"github.com/LeventeLantos/dispatch-engine/internal/relay"
	"github.com/LeventeLantos/dispatch-engine/internal/repo"
	"github.com/LeventeLantos/dispatch-engine/internal/scheduler"
	"github.com/LeventeLantos/dispatch-engine/internal/service"
)

const shutdownTimeout = 10 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API with the scheduler and notifier loops",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadAll()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	slog.Info("dispatcher starting",
		"addr", cfg.Server.Address,
		"scheduler_interval", cfg.Scheduler.Interval,
		"batch", cfg.Delivery.BatchSize,
		"redis", cfg.Redis.Enabled,
		"watermark", cfg.Watermark.Enabled,
		"relay", cfg.Relay.Enabled,
	)

	db, err := openDB(cfg.Database.PostgresURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := repo.Migrate(ctx, db); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}

	jobs := repo.NewPostgresJobRepo(db)
	contacts := repo.NewPostgresContactRepo(db)
	logs := repo.NewPostgresLogRepo(db)
	activities := repo.NewPostgresActivityRepo(db)

	var receipts cache.ReceiptCache
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		receipts = cache.NewRedisCache(rdb, cfg.Redis.TTL)
	}

	gateway := client.NewGatewayClient(cfg.Gateway.URL, client.Instance{
		ID:    cfg.Gateway.InstanceID,
		Token: cfg.Gateway.Token,
	}, cfg.Gateway.Timeout)

	var wm service.Watermarker
	if cfg.Watermark.Enabled {
		wm = client.NewWatermarkClient(cfg.Watermark.URL, cfg.Watermark.Timeout)
	}

	dispatcher := service.NewDispatcher(gateway, wm, logs, service.WatermarkConfig{
		Enabled:  cfg.Watermark.Enabled,
		Format:   cfg.Watermark.Format,
		Template: cfg.Watermark.Text,
	})
	if receipts != nil {
		dispatcher.WithHooks(func(ctx context.Context, source string, o model.Outcome) error {
			if err := receipts.StoreSent(ctx, o.Phone, o.ExternalID, source, time.Now()); err != nil {
				slog.Warn("receipt cache write failed", "phone", o.Phone, "err", err)
				return err
			}
			return nil
		}, nil)
	}

	policy := delay.NewPolicy(delay.Config{
		Base:              cfg.Delivery.RateDelay,
		Jitter:            cfg.Delivery.Jitter,
		Randomize:         cfg.Delivery.Randomize,
		WatermarkOverride: cfg.Delivery.WatermarkOverride,
		Progressive:       cfg.Delivery.Progressive,
	})

	campaigns := campaign.New(dispatcher, policy, activities, campaign.Config{
		BatchSize:   cfg.Delivery.BatchSize,
		BatchDelay:  cfg.Delivery.BatchDelay,
		MaxFileSize: cfg.Delivery.MaxFileSize,
	})

	runner := scheduler.NewRunner(jobs, dispatcher, policy, activities, cfg.Scheduler.JobGap)
	jobLoop, err := scheduler.NewLoop("scheduler", cfg.Scheduler.Interval, runner.Tick)
	if err != nil {
		return err
	}

	lifecycle := notifier.New(contacts, dispatcher, activities, notifier.Templates{
		Start:   cfg.Notifier.StartMsg,
		Renewal: cfg.Notifier.RenewalMsg,
		End:     cfg.Notifier.EndMsg,
	})
	notifyLoop, err := scheduler.NewLoop("notifier", cfg.Notifier.Interval, lifecycle.Check)
	if err != nil {
		return err
	}

	var relayHandler http.Handler
	if cfg.Relay.Enabled {
		audit, err := relay.OpenAuditLog(cfg.Relay.AuditPath)
		if err != nil {
			return err
		}
		defer audit.Close()

		relayHandler = relay.NewHandler(relay.Config{
			UpstreamURL: cfg.Relay.UpstreamURL,
			InstanceID:  cfg.Relay.InstanceID,
			Token:       cfg.Relay.Token,
			Timeout:     cfg.Gateway.Timeout,
		}, audit)
	}

	h := api.NewHandler(api.Deps{
		Runner:      runner,
		Loop:        jobLoop,
		Campaigns:   campaigns,
		Notifier:    lifecycle,
		Jobs:        jobs,
		Contacts:    contacts,
		Logs:        logs,
		Activities:  activities,
		Receipts:    receipts,
		BaseContext: context.WithoutCancel(ctx),
	})

	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           loggingMiddleware(api.Router(h, relayHandler)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	jobLoop.Start()
	notifyLoop.Start()
	defer jobLoop.Stop()
	defer notifyLoop.Stop()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	campaigns.Stop()
	runner.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
