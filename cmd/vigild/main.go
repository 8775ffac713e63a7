package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/vigilops/vigil-core/internal/analysis"
	"github.com/vigilops/vigil-core/internal/api"
	"github.com/vigilops/vigil-core/internal/cameraconf"
	"github.com/vigilops/vigil-core/internal/config"
	"github.com/vigilops/vigil-core/internal/correlate"
	"github.com/vigilops/vigil-core/internal/costs"
	"github.com/vigilops/vigil-core/internal/data"
	"github.com/vigilops/vigil-core/internal/evidence"
	"github.com/vigilops/vigil-core/internal/event"
	"github.com/vigilops/vigil-core/internal/journal"
	"github.com/vigilops/vigil-core/internal/middleware"
	"github.com/vigilops/vigil-core/internal/notify"
	"github.com/vigilops/vigil-core/internal/pipeline"
	"github.com/vigilops/vigil-core/internal/provider"
	"github.com/vigilops/vigil-core/internal/ratelimit"
	"github.com/vigilops/vigil-core/internal/rules"
	"github.com/vigilops/vigil-core/internal/tokens"

	_ "github.com/vigilops/vigil-core/internal/provider/gemini"
	_ "github.com/vigilops/vigil-core/internal/provider/ollama"
	_ "github.com/vigilops/vigil-core/internal/provider/openai"
)

func main() {
	cfgPath := flag.String("config", "config/default.yaml", "path to YAML config")
	flag.Parse()

	// 1. Config
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("Config load error: %v", err)
	}

	// Background loops (replayer, pruner, refresh, watcher) stop when
	// this context is cancelled at shutdown.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. DB Init
	db, err := sql.Open("postgres", cfg.Database.ConnString())
	if err != nil {
		log.Fatalf("DB open error: %v", err)
	}
	if err := db.Ping(); err != nil {
		log.Fatalf("DB ping error: %v", err)
	}
	defer db.Close()

	// 3. Shared clients
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	var nc *nats.Conn
	if conn, err := nats.Connect(cfg.NATS.URL, nats.Name("vigild"), nats.MaxReconnects(-1)); err != nil {
		log.Printf("[WARN] Vigild: NATS connect failed: %v. Detection intake and result publishing over NATS disabled.", err)
	} else {
		nc = conn
		defer nc.Close()
	}

	// 4. Journal (DB-backed, disk spool during outages)
	spool, err := journal.NewSpool(cfg.Journal.SpoolDir, int64(cfg.Journal.SpoolMaxSizeMB))
	if err != nil {
		log.Printf("[WARN] Vigild: journal spool unavailable at %s: %v. Entries written during a DB outage are lost.", cfg.Journal.SpoolDir, err)
	}
	jsvc := journal.NewService(db, spool)
	jsvc.StartReplayer(ctx, journal.DefaultReplayInterval)
	jsvc.StartPruner(ctx, time.Duration(cfg.Journal.RetentionDays)*24*time.Hour)

	// 5. Cost tracking, primed from today's persisted usage
	tracker := costs.New(data.UsageModel{DB: db}, cfg.Costs)
	if err := tracker.Prime(ctx); err != nil {
		log.Printf("[WARN] Vigild: cost priming failed: %v. Counting spend from zero.", err)
	}

	// 6. Per-camera settings
	resolver := cameraconf.NewResolver(data.CameraConfigModel{DB: db}, cfg.Defaults, cfg.Providers.Order, cameraconf.DefaultTTL)

	// 7. Evidence acquisition
	source := evidence.NewHTTPMediaSource(&http.Client{}, cfg.Pipeline.MediaToken)
	acquirer := evidence.NewAcquirer(source, &evidence.FFmpegExtractor{}, time.Duration(cfg.Pipeline.DownloadTimeoutMs)*time.Millisecond)

	// 8. Providers and the analysis router
	adapters := make(map[string]provider.Adapter, len(cfg.Providers.Order))
	for _, name := range cfg.Providers.Order {
		a, err := provider.GetAdapter(name, cfg.Providers.Settings[name])
		if err != nil {
			log.Fatalf("Provider init error: %v", err)
		}
		adapters[name] = a
	}
	router := analysis.NewRouter(tracker, time.Duration(cfg.Pipeline.ProviderTimeoutMs)*time.Millisecond)

	// 9. Correlation, rules, notifications
	correlator := correlate.NewService(cfg.Correlation)

	hub := notify.NewHub()
	webhooks := notify.NewWebhookSender(time.Duration(cfg.Notify.WebhookTimeoutMs)*time.Millisecond, cfg.Notify.WebhookMaxRetries)
	push := notify.NewPushRelay(cfg.Notify.PushURLs...)
	dispatcher := pipeline.NewJournaledDispatcher(notify.NewDispatcher(webhooks, hub, push), jsvc)

	ruleRepo := data.AlertRuleModel{DB: db}
	engine := rules.NewEngine(ruleRepo, dispatcher)
	if err := engine.Refresh(ctx); err != nil {
		log.Printf("[WARN] Vigild: initial rule load failed: %v. Running without rules until a refresh succeeds.", err)
	}
	engine.StartAutoRefresh(time.Minute)

	// 10. Pipeline
	var sink pipeline.ResultSink
	if nc != nil {
		sink = pipeline.NewNATSPublisher(nc, cfg.NATS.ResultsSubject, cfg.NATS.PublishRetryMax)
	}
	latest := pipeline.NewRedisLatest(rdb)

	pl := pipeline.New(pipeline.Deps{
		Resolver:   resolver,
		Acquirer:   acquirer,
		Router:     router,
		Correlator: correlator,
		Engine:     engine,
		Journal:    jsvc,
		Sink:       sink,
		Latest:     latest,
		Adapters:   adapters,
	}, pipeline.Config{
		PerCameraInflight: cfg.Pipeline.PerCameraInflight,
		MaxInflight:       cfg.Pipeline.MaxInflight,
	})
	pl.Start(ctx)

	// 11. Detection intake
	dedup := event.NewDedup(cfg.Pipeline.DedupMaxKeys, cfg.Pipeline.DedupTTLSeconds)

	var natsSource *event.NATSSource
	if nc != nil {
		natsSource = event.NewNATSSource(nc, cfg.NATS.DetectionsSubject, dedup, pl.HandleEvent)
		if err := natsSource.Start(); err != nil {
			log.Fatalf("NATS source error: %v", err)
		}
	}

	var mqttSource *event.MQTTSource
	if cfg.MQTT.Enabled {
		mqttSource = event.NewMQTTSource(cfg.MQTT.Source, dedup, pl.HandleEvent)
		if err := mqttSource.Start(); err != nil {
			log.Fatalf("MQTT source error: %v", err)
		}
	}

	// 12. Config hot reload. New fallback settings apply from the next
	// event; analyses already in flight finish on what they resolved.
	config.NewWatcher(*cfgPath, func(next *config.Snapshot) {
		resolver.UpdateFallback(next.Defaults, next.Providers.Order)
	}).Start(ctx)

	// 13. HTTP API
	tokenMgr := tokens.NewManager(cfg.Auth.JWTSigningKey)
	limiter := ratelimit.NewLimiter(rdb, "vigil-rl-v1") // key salt, bump to reset counters

	natsUp := func() bool { return nc != nil && nc.IsConnected() }
	apiHandler := api.NewRouter(api.RouterDeps{
		Auth:      middleware.NewJWTAuth(tokenMgr),
		RateLimit: middleware.NewRateLimit(limiter, ratelimit.PerMinute(cfg.API.IPRatePerMinute)),
		Audit:     middleware.NewAudit(jsvc),
		Usage:     api.NewUsageHandler(data.UsageModel{DB: db}, tracker),
		Journal:   api.NewJournalHandler(jsvc),
		Trigger:   api.NewTriggerHandler(pl, limiter, ratelimit.PerMinute(cfg.API.TriggerPerMinute)),
		Rules:     api.NewRuleHandler(ruleRepo, engine),
		Cameras:   api.NewCameraHandler(data.CameraConfigModel{DB: db}, resolver, latest),
		Stream:    api.NewStreamHandler(hub, tokenMgr),
		Health:    api.NewHealthHandler(db, rdb, natsUp, pl),
	})

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: apiHandler}
	go func() {
		log.Printf("[INFO] Vigild: listening on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	// 14. Shutdown: stop intake first, drain workers, then close the rest.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Printf("[INFO] Vigild: shutdown signal received")

	if natsSource != nil {
		natsSource.Stop()
	}
	if mqttSource != nil {
		mqttSource.Stop()
	}
	pl.Stop()
	engine.Stop()
	hub.Close()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[WARN] Vigild: HTTP shutdown: %v", err)
	}
	log.Printf("[INFO] Vigild: stopped")
}
