// Command replyhive runs the auto-reply pipeline: a scheduler enrolling
// users into the poll queue, the poll → process → respond stage consumers,
// a retention sweeper, and an ops HTTP server (health, metrics, stats).
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	_ "modernc.org/sqlite"

	"github.com/replyhive/replyhive/classify"
	"github.com/replyhive/replyhive/config"
	"github.com/replyhive/replyhive/dbopen"
	"github.com/replyhive/replyhive/jobq"
	"github.com/replyhive/replyhive/match"
	"github.com/replyhive/replyhive/metrics"
	"github.com/replyhive/replyhive/platform"
	"github.com/replyhive/replyhive/poll"
	"github.com/replyhive/replyhive/respond"
	"github.com/replyhive/replyhive/sched"
	"github.com/replyhive/replyhive/seal"
	"github.com/replyhive/replyhive/store"
)

func main() {
	configPath := flag.String("config", "replyhive.yaml", "path to YAML config")
	flag.Parse()

	if flag.Arg(0) == "init" {
		if err := config.Save(*configPath, config.Default()); err != nil {
			fmt.Fprintln(os.Stderr, "write config:", err)
			os.Exit(1)
		}
		fmt.Println("wrote", *configPath)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}

	var lvl slog.Level
	switch cfg.LogLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	if cfg.Secrets.TokenKey == "" {
		logger.Error("token key is required (secrets.tokenKey or REPLYHIVE_TOKEN_KEY)")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db, err := dbopen.Open(cfg.Storage.DBPath,
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(store.Schema),
	)
	if err != nil {
		logger.Error("open database", "path", cfg.Storage.DBPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()
	st := store.New(db)

	sealer, err := seal.New(cfg.Secrets.TokenKey)
	if err != nil {
		logger.Error("token sealer", "error", err)
		os.Exit(1)
	}

	var cls classify.Classifier
	if cfg.Classifier.URL != "" {
		cls = classify.NewRemote(cfg.Classifier.URL,
			classify.WithAPIKey(cfg.Classifier.APIKey),
			classify.WithTimeout(cfg.Classifier.Timeout),
		)
		logger.Info("classifier: remote", "url", cfg.Classifier.URL)
	} else {
		cls = classify.Heuristic{}
		logger.Warn("classifier: no service configured, semantic rules will not match")
	}

	registry := platform.NewRegistry(
		platform.NewYouTube(cfg.Platforms.YouTube.BaseURL, cfg.Platforms.YouTube.RPS),
		platform.NewInstagram(cfg.Platforms.Instagram.BaseURL, cfg.Platforms.Instagram.RPS),
		platform.NewTikTok(cfg.Platforms.TikTok.BaseURL, cfg.Platforms.TikTok.RPS),
	)

	newQueue := func(name string, sc config.StageConfig) *jobq.Q {
		return jobq.New(db, jobq.Options{
			Queue:       name,
			Visibility:  sc.Visibility,
			MaxAttempts: sc.MaxAttempts,
			BackoffBase: sc.BackoffBase,
			PerMinute:   sc.PerMinute,
			Logger:      logger,
		})
	}
	pollQ := newQueue("poll", cfg.Pipeline.Poll)
	processQ := newQueue("process", cfg.Pipeline.Process)
	respondQ := newQueue("respond", cfg.Pipeline.Respond)
	// All queues share one table; creating it once is enough.
	if err := pollQ.EnsureTable(ctx); err != nil {
		logger.Error("create queue tables", "error", err)
		os.Exit(1)
	}

	poller := poll.New(st, registry, sealer, processQ.PublishUnique, logger)
	matcher := match.New(st, cls, respondQ.PublishIn, logger)
	responder := respond.New(st, registry, sealer, logger)
	scheduler := sched.New(st, pollQ.PublishUnique,
		cfg.Scheduler.CheckInterval, cfg.Scheduler.PollInterval, logger)

	var wg sync.WaitGroup
	run := func(f func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f()
		}()
	}
	run(func() { pollQ.Run(ctx, cfg.Pipeline.Poll.Workers, poller.Handle) })
	run(func() { processQ.Run(ctx, cfg.Pipeline.Process.Workers, matcher.Handle) })
	run(func() { respondQ.Run(ctx, cfg.Pipeline.Respond.Workers, responder.Handle) })
	run(func() { scheduler.Run(ctx) })

	queues := map[string]*jobq.Q{"poll": pollQ, "process": processQ, "respond": respondQ}
	run(func() { retentionLoop(ctx, logger, st, pollQ, cfg.Retention) })
	run(func() { gaugeLoop(ctx, queues) })

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/stats", statsHandler(st, queues))

	srv := &http.Server{Addr: cfg.Server.Addr, Handler: r}
	run(func() {
		logger.Info("ops server listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("ops server", "error", err)
		}
	})

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("ops server shutdown", "error", err)
	}
	wg.Wait()
	logger.Info("stopped")
}

// retentionLoop trims the dead-letter and dedup tables on an hourly sweep.
// Both tables are append-mostly; without a cap they grow without bound.
func retentionLoop(ctx context.Context, logger *slog.Logger, st *store.Store, q *jobq.Q, cfg config.RetentionConfig) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if n, err := q.PurgeDeadBefore(ctx, time.Now().Add(-cfg.DeadJobs)); err != nil {
			logger.Warn("retention: purge dead jobs", "error", err)
		} else if n > 0 {
			logger.Info("retention: purged dead jobs", "count", n)
		}
		if n, err := st.PurgeProcessedBefore(ctx, time.Now().Add(-cfg.ProcessedComments)); err != nil {
			logger.Warn("retention: purge processed comments", "error", err)
		} else if n > 0 {
			logger.Info("retention: purged processed comments", "count", n)
		}
	}
}

// gaugeLoop refreshes the queue depth gauges.
func gaugeLoop(ctx context.Context, queues map[string]*jobq.Q) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		for name, q := range queues {
			if n, err := q.Len(ctx); err == nil {
				metrics.QueueDepth.WithLabelValues(name).Set(float64(n))
			}
			if n, err := q.DeadLen(ctx); err == nil {
				metrics.DeadJobs.WithLabelValues(name).Set(float64(n))
			}
		}
	}
}
