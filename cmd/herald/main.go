package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hyunsoo-kim/Bill-Herald/internal/alert"
	"github.com/hyunsoo-kim/Bill-Herald/internal/cache"
	"github.com/hyunsoo-kim/Bill-Herald/internal/clock"
	"github.com/hyunsoo-kim/Bill-Herald/internal/config"
	"github.com/hyunsoo-kim/Bill-Herald/internal/crawl"
	"github.com/hyunsoo-kim/Bill-Herald/internal/engine"
	"github.com/hyunsoo-kim/Bill-Herald/internal/events"
	"github.com/hyunsoo-kim/Bill-Herald/internal/logging"
	"github.com/hyunsoo-kim/Bill-Herald/internal/metrics"
	"github.com/hyunsoo-kim/Bill-Herald/internal/notify"
	"github.com/hyunsoo-kim/Bill-Herald/internal/ratelimit"
	"github.com/hyunsoo-kim/Bill-Herald/internal/store"
	"github.com/hyunsoo-kim/Bill-Herald/internal/web"
)

var version = "dev"

// shutdownCeiling bounds how long in-flight notification batches may keep
// running after a termination signal before the job table is force-cleared.
const shutdownCeiling = 25 * time.Second

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(cfg.LogJSON)

	fmt.Println("Bill-Herald " + version)
	fmt.Println("=============================================")
	fmt.Printf("PORT=%d\n", cfg.Port)
	fmt.Printf("NODE_ENV=%s\n", cfg.Env)
	fmt.Printf("DATABASE_PATH=%s\n", cfg.DatabasePath)
	fmt.Printf("REDIS_URL=%s\n", cfg.RedisURL)
	fmt.Printf("CRAWL_INTERVAL=%s\n", cfg.CrawlInterval)
	fmt.Printf("CRON_TIMEZONE=%s\n", cfg.CronTimezone)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		log.Error("failed to open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer db.Close()
	repo := store.NewRepo(db)

	rdb, err := cache.NewClient(cfg.RedisURL)
	if err != nil {
		log.Error("failed to connect to redis", "url", cfg.RedisURL, "error", err)
		os.Exit(1)
	}
	defer rdb.Close()

	clk := clock.Real{}
	recency := cache.NewRecency(rdb, cfg.RedisKeyPrefix, log)
	pacer := ratelimit.New(rdb, cfg.RedisKeyPrefix, clk, log)

	msgs, err := notify.LoadMessages(cfg.MessageTemplatesPath)
	if err != nil {
		log.Warn("message templates not loaded, using defaults", "error", err)
	}
	sender := notify.NewDiscord(msgs, clk, log)

	crawler, err := crawl.New(crawl.Options{}, log, clk)
	if err != nil {
		log.Error("failed to build crawler", "error", err)
		os.Exit(1)
	}

	// Alert fan-out: log channel always on, MQTT when configured.
	alerters := []alert.Alerter{alert.NewLogAlerter(log)}
	if cfg.AlertMQTTURL != "" {
		alerters = append(alerters, alert.NewMQTT(cfg.AlertMQTTURL, cfg.AlertMQTTTopic))
		log.Info("mqtt alerts enabled", "broker", cfg.AlertMQTTURL, "topic", cfg.AlertMQTTTopic)
	}
	alerts := alert.NewMulti(log, alerters...)

	bus := events.New()
	exec := engine.NewExecutor(clk, log)
	dispatcher := engine.NewDispatcher(repo, sender, pacer, exec, msgs, bus, alerts, clk, log)
	scheduler := engine.NewScheduler(crawler, recency, dispatcher, alerts, bus, clk, log, cfg.CrawlInterval)

	loc, err := time.LoadLocation(cfg.CronTimezone)
	if err != nil {
		log.Error("invalid cron timezone", "timezone", cfg.CronTimezone, "error", err)
		os.Exit(1)
	}
	health := engine.NewHealth(repo, alerts, loc, log)

	srv := web.NewServer(web.Dependencies{
		Registry:  repo,
		Notices:   recency,
		Tester:    sender,
		Verifier:  web.NewRecaptcha(cfg.RecaptchaSecret, log),
		Executor:  exec,
		Scheduler: scheduler,
		Health:    health,
		Events:    bus,
		Origins:   cfg.FrontendURLs,
		Log:       log.Component("web"),
	})

	if err := health.Start(ctx); err != nil {
		log.Error("failed to start health schedules", "error", err)
		os.Exit(1)
	}
	defer health.Stop()

	// Warm the recency cache before the first tick. A failure here is not
	// fatal: the scheduler retries initialization on every tick until it
	// succeeds.
	if err := scheduler.InitializeCache(ctx); err != nil {
		log.Warn("initial cache warm failed, scheduler will retry", "error", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.Port)
		if err := srv.ListenAndServe(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return scheduler.Run(gctx)
	})

	if cfg.MetricsTextfilePath != "" {
		g.Go(func() error {
			exportMetrics(gctx, cfg.MetricsTextfilePath, log)
			return nil
		})
	}

	// Shutdown sequencing: stop accepting HTTP first, then gate new batches
	// and drain the job table, force-clearing whatever outlives the ceiling.
	g.Go(func() error {
		<-gctx.Done()

		drainCtx, cancel := context.WithTimeout(context.Background(), shutdownCeiling+5*time.Second)
		defer cancel()
		if err := srv.Shutdown(drainCtx); err != nil {
			log.Warn("http shutdown incomplete", "error", err)
		}

		exec.Shutdown()
		if err := exec.AwaitAll(drainCtx, shutdownCeiling); err != nil {
			dropped := exec.ForceClear()
			log.Error("batch drain timed out, job table cleared", "dropped", dropped, "error", err)
			alerts.Raise(drainCtx, alert.Event{
				Type:    alert.EventShutdownStalled,
				Message: fmt.Sprintf("shutdown drain exceeded %s, %d batches dropped", shutdownCeiling, dropped),
			})
		}

		bus.Close()
		return nil
	})

	log.Info("herald started", "version", version, "port", cfg.Port)

	if err := g.Wait(); err != nil {
		log.Error("herald exited with error", "error", err)
		os.Exit(1)
	}

	if cfg.MetricsTextfilePath != "" {
		if err := metrics.WriteTextfile(cfg.MetricsTextfilePath); err != nil {
			log.Warn("final metrics snapshot failed", "error", err)
		}
	}

	log.Info("herald shutdown complete")
}

// exportMetrics periodically snapshots herald_ metrics for node_exporter's
// textfile collector.
func exportMetrics(ctx context.Context, path string, log *logging.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := metrics.WriteTextfile(path); err != nil {
				log.Warn("metrics snapshot failed", "path", path, "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}
