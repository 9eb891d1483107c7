package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"BookEngine/internal/broadcast"
	"BookEngine/internal/engine"
	"BookEngine/internal/ingestion"
	"BookEngine/internal/observability"
	"BookEngine/internal/persistence"
	"BookEngine/internal/projection"
	"BookEngine/internal/server"
)

// Config holds all daemon configuration, loaded from environment
// variables.
type Config struct {
	NATSURL     string
	PostgresURL string // empty disables the projection

	Shards       int
	QueueLen     int
	FeedChanSize int
	ProjChanSize int

	TimerInterval time.Duration

	HTTPAddr    string
	MetricsAddr string

	CapturePath   string // empty disables recording at startup
	PublishFrames bool

	MigrationsDir string
}

func DefaultConfig() Config {
	return Config{
		NATSURL:       envOrDefault("BOOK_NATS_URL", "nats://localhost:4222"),
		PostgresURL:   envOrDefault("BOOK_POSTGRES_DSN", ""),
		Shards:        envIntOrDefault("BOOK_SHARDS", 0), // 0 = GOMAXPROCS
		QueueLen:      envIntOrDefault("BOOK_SHARD_QUEUE", 1024),
		FeedChanSize:  envIntOrDefault("BOOK_FEED_CHAN_SIZE", 4096),
		ProjChanSize:  envIntOrDefault("BOOK_PROJECTION_CHAN_SIZE", 4096),
		TimerInterval: envDurOrDefault("BOOK_TIMER_INTERVAL", time.Second),
		HTTPAddr:      envOrDefault("BOOK_HTTP_ADDR", ":8080"),
		MetricsAddr:   envOrDefault("BOOK_METRICS_ADDR", ":9091"),
		CapturePath:   envOrDefault("BOOK_CAPTURE_PATH", ""),
		PublishFrames: envBoolOrDefault("BOOK_PUBLISH_FRAMES", true),
		MigrationsDir: envOrDefault("BOOK_MIGRATIONS_DIR", "migrations"),
	}
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("INFO: mdbookd starting...")

	cfg := DefaultConfig()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()

	// --- Engine ---
	eng, err := engine.New(engine.Config{
		Shards:        cfg.Shards,
		QueueLen:      cfg.QueueLen,
		TimerInterval: cfg.TimerInterval,
	}, observability.NewLogger("engine"), metrics)
	if err != nil {
		log.Fatalf("FATAL: engine: %v", err)
	}
	defer eng.Stop()

	go func() {
		ticker := time.NewTicker(cfg.TimerInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				eng.Tick(now.UnixNano())
			}
		}
	}()

	// --- NATS ---
	nc, js, err := ingestion.ConnectNATS(cfg.NATSURL, observability.NewLogger("nats"),
		func(connected bool, err error) {
			eng.FeedStatus(connected, err)
			healthChecker.SetSubsystem("nats", connected)
		})
	if err != nil {
		log.Fatalf("FATAL: nats connect: %v", err)
	}
	defer nc.Close()
	log.Println("INFO: NATS connected")

	if err := ingestion.EnsureStreams(ctx, js); err != nil {
		log.Fatalf("FATAL: ensure NATS streams: %v", err)
	}

	if cfg.PublishFrames {
		eng.SetPublisher(broadcast.NewPublisher(nc, uuid.New(),
			observability.NewLogger("publisher"), metrics))
		healthChecker.SetSubsystem("broadcast", true)
	}

	// --- Feed ingestion ---
	rawChan := make(chan ingestion.RawEvent, cfg.FeedChanSize)
	feedSub := ingestion.NewFeedSubscriber(js, rawChan, observability.NewLogger("feed"))
	if err := feedSub.Subscribe(ctx, ingestion.DefaultSubjects()); err != nil {
		log.Fatalf("FATAL: feed subscribe: %v", err)
	}
	feedWorker := ingestion.NewWorker(eng, rawChan, observability.NewLogger("feed"), metrics)
	go feedWorker.Run(ctx)
	healthChecker.SetSubsystem("feed", true)

	// --- Postgres projection (optional) ---
	if cfg.PostgresURL != "" {
		db, err := sql.Open("postgres", cfg.PostgresURL)
		if err != nil {
			log.Fatalf("FATAL: postgres open: %v", err)
		}
		defer db.Close()
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.PingContext(ctx); err != nil {
			log.Fatalf("FATAL: postgres ping: %v", err)
		}
		log.Println("INFO: Postgres connected")

		migrator := persistence.NewMigrator(db, cfg.MigrationsDir, observability.NewLogger("migrate"))
		if err := migrator.Up(ctx); err != nil {
			log.Fatalf("FATAL: run migrations: %v", err)
		}

		collector := projection.NewCollector(cfg.ProjChanSize, observability.NewLogger("projection"), metrics)
		eng.SetHandler(collector.Handler())

		projWorker := projection.NewWorker(db, collector.Chan(), observability.NewLogger("projection"), metrics)
		go projWorker.Run(ctx)
		healthChecker.SetSubsystem("projection", true)
	}

	// --- Capture (optional) ---
	if cfg.CapturePath != "" {
		session, err := eng.StartRecording(cfg.CapturePath)
		if err != nil {
			log.Fatalf("FATAL: start recording: %v", err)
		}
		log.Printf("INFO: recording to %s (session %s)", cfg.CapturePath, session)
	}

	errChan := make(chan error, 4)

	// --- Ops HTTP server ---
	opsServer := server.New(cfg.HTTPAddr, eng, healthChecker, observability.NewLogger("http"))
	go func() {
		errChan <- opsServer.Start(ctx)
	}()

	// --- Prometheus metrics server ---
	go func() {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux}
		go func() {
			<-ctx.Done()
			shutCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
			defer c()
			metricsServer.Shutdown(shutCtx)
		}()
		log.Printf("INFO: metrics server listening on %s/metrics", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	log.Printf("INFO: mdbookd ready (http=%s, metrics=%s)", cfg.HTTPAddr, cfg.MetricsAddr)

	select {
	case sig := <-sigChan:
		log.Printf("INFO: received signal %s, shutting down...", sig)
	case err := <-errChan:
		log.Printf("ERROR: goroutine failed: %v, shutting down...", err)
	}

	cancel()
	feedSub.Stop()
	eng.Drain()
	if eng.Recording() {
		if err := eng.StopRecording(); err != nil {
			log.Printf("ERROR: stop recording: %v", err)
		}
	}

	log.Println("INFO: mdbookd shutdown complete")
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		log.Printf("WARN: invalid %s=%q, using %d", key, v, def)
	}
	return def
}

func envBoolOrDefault(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
		log.Printf("WARN: invalid %s=%q, using %v", key, v, def)
	}
	return def
}

func envDurOrDefault(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		log.Printf("WARN: invalid %s=%q, using %s", key, v, def)
	}
	return def
}
