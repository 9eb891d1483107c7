package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"BookEngine/internal/observability"
	"BookEngine/internal/store"
)

// Config holds the store host configuration, loaded from environment
// variables. Cluster topology:
//
//	STORE_HOSTS  comma-separated id@addr/priority, e.g. "1@h1:9400/2,2@h2:9400/1"
//	STORE_DBS    comma-separated name:recordSize:recordsPerFile
type Config struct {
	SelfID uint32
	Hosts  string
	DBs    string
	Dir    string

	HeartbeatInterval time.Duration
	ElectionTimeout   time.Duration

	HTTPAddr    string
	MetricsAddr string
}

func DefaultConfig() Config {
	return Config{
		SelfID:            uint32(envIntOrDefault("STORE_SELF_ID", 1)),
		Hosts:             envOrDefault("STORE_HOSTS", "1@localhost:9400/1"),
		DBs:               envOrDefault("STORE_DBS", "records:256:4096"),
		Dir:               envOrDefault("STORE_DIR", "data"),
		HeartbeatInterval: envDurOrDefault("STORE_HEARTBEAT_INTERVAL", time.Second),
		ElectionTimeout:   envDurOrDefault("STORE_ELECTION_TIMEOUT", 5*time.Second),
		HTTPAddr:          envOrDefault("STORE_HTTP_ADDR", ":8081"),
		MetricsAddr:       envOrDefault("STORE_METRICS_ADDR", ":9092"),
	}
}

func parseHosts(s string) ([]store.HostConfig, error) {
	var out []store.HostConfig
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		idAddr := strings.SplitN(part, "@", 2)
		if len(idAddr) != 2 {
			return nil, fmt.Errorf("host %q: want id@addr/priority", part)
		}
		id, err := strconv.ParseUint(idAddr[0], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("host %q: bad id: %w", part, err)
		}
		addrPrio := strings.SplitN(idAddr[1], "/", 2)
		prio := uint64(0)
		if len(addrPrio) == 2 {
			prio, err = strconv.ParseUint(addrPrio[1], 10, 32)
			if err != nil {
				return nil, fmt.Errorf("host %q: bad priority: %w", part, err)
			}
		}
		out = append(out, store.HostConfig{ID: uint32(id), Addr: addrPrio[0], Priority: uint32(prio)})
	}
	return out, nil
}

func parseDBs(s string) ([]store.DBConfig, error) {
	var out []store.DBConfig
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		fields := strings.Split(part, ":")
		if len(fields) != 3 {
			return nil, fmt.Errorf("db %q: want name:recordSize:recordsPerFile", part)
		}
		size, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("db %q: bad record size: %w", part, err)
		}
		perFile, err := strconv.ParseUint(fields[2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("db %q: bad records per file: %w", part, err)
		}
		out = append(out, store.DBConfig{Name: fields[0], RecordSize: size, RecordsPerFile: perFile})
	}
	return out, nil
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("INFO: storehostd starting...")

	cfg := DefaultConfig()

	hosts, err := parseHosts(cfg.Hosts)
	if err != nil {
		log.Fatalf("FATAL: parse STORE_HOSTS: %v", err)
	}
	dbs, err := parseDBs(cfg.DBs)
	if err != nil {
		log.Fatalf("FATAL: parse STORE_DBS: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()
	healthChecker.SetSubsystem("store", false)

	env, err := store.NewEnv(store.Config{
		SelfID:            cfg.SelfID,
		Hosts:             hosts,
		DBs:               dbs,
		Dir:               cfg.Dir,
		HeartbeatInterval: cfg.HeartbeatInterval,
		ElectionTimeout:   cfg.ElectionTimeout,
	}, observability.NewLogger("store"), metrics)
	if err != nil {
		log.Fatalf("FATAL: store env: %v", err)
	}
	if err := env.Init(); err != nil {
		log.Fatalf("FATAL: store init: %v", err)
	}
	if err := env.Start(ctx); err != nil {
		log.Fatalf("FATAL: store start: %v", err)
	}

	// readiness tracks the state machine settling into Active/Inactive
	go func() {
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s := env.State()
				healthChecker.SetSubsystem("store", s == store.Active || s == store.Inactive)
			}
		}
	}()

	errChan := make(chan error, 2)
	go func() {
		mux := http.NewServeMux()
		mux.HandleFunc("/healthz", healthChecker.LivenessHandler)
		mux.HandleFunc("/readyz", healthChecker.ReadinessHandler)
		httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: mux}
		go func() {
			<-ctx.Done()
			shutCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
			defer c()
			httpServer.Shutdown(shutCtx)
		}()
		log.Printf("INFO: health server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("health server: %w", err)
		}
	}()

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
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

	log.Printf("INFO: storehostd ready (host=%d, http=%s, metrics=%s)",
		cfg.SelfID, cfg.HTTPAddr, cfg.MetricsAddr)

	select {
	case sig := <-sigChan:
		log.Printf("INFO: received signal %s, shutting down...", sig)
	case err := <-errChan:
		log.Printf("ERROR: goroutine failed: %v, shutting down...", err)
	}

	cancel()
	if err := env.Stop(); err != nil {
		log.Printf("ERROR: store stop: %v", err)
	}

	log.Println("INFO: storehostd shutdown complete")
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

func envDurOrDefault(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		log.Printf("WARN: invalid %s=%q, using %s", key, v, def)
	}
	return def
}
