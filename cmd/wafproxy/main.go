// Command wafproxy runs the WAF reverse-proxy data plane, grounded on the
// teacher's cmd/gateway/main.go for its flag/env/banner shape.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/wudi/wafproxy/internal/config"
	"github.com/wudi/wafproxy/internal/logging"
	"github.com/wudi/wafproxy/internal/metrics"
	"github.com/wudi/wafproxy/internal/middleware"
	"github.com/wudi/wafproxy/internal/pipeline"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", envOrDefault("CONFIG_PATH", "configs/wafproxy.yaml"), "Path to configuration file")
	listenAddr := flag.String("listen", envOrDefault("LISTEN_ADDR", ":8080"), "Address to listen on")
	showVersion := flag.Bool("version", false, "Show version information")
	validateOnly := flag.Bool("validate", false, "Validate configuration and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("wafproxy %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	loader := config.NewLoader()
	cfg, err := loader.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	if *validateOnly {
		fmt.Println("configuration is valid")
		os.Exit(0)
	}

	log.Printf("starting wafproxy %s", version)
	log.Printf("configuration loaded from %s", *configPath)
	log.Printf("upstreams configured: %d", len(cfg.Upstreams))
	log.Printf("waf mode: %s", cfg.WAFSettings.Mode)

	zapLogger, closer, err := logging.New(logging.Config{Level: envOrDefault("LOG_LEVEL", "info")})
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	if closer != nil {
		defer closer.Close()
	}

	fileBytes, err := os.ReadFile(*configPath)
	if err != nil {
		log.Fatalf("failed to re-read configuration for versioning: %v", err)
	}
	versionHash := config.HashConfig(fileBytes)

	m := metrics.New()
	// Populate waf_config_version_info at startup too — otherwise a process
	// that never takes a hot reload (no control plane configured) would
	// never expose its config version (spec §4.H "Version exposure").
	m.ConfigVersionInfo.WithLabelValues(versionHash).Set(1)

	p, err := pipeline.New(cfg, versionHash, m, zapLogger)
	if err != nil {
		log.Fatalf("failed to build pipeline: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if controlPlaneURL := os.Getenv("CONTROL_PLANE_URL"); controlPlaneURL != "" {
		interval := 10 * time.Second
		if raw := os.Getenv("CONTROL_PLANE_POLL_SECONDS"); raw != "" {
			if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
				interval = time.Duration(secs) * time.Second
			}
		}
		poller := config.NewPoller(config.PollerConfig{
			URL:      controlPlaneURL,
			Token:    os.Getenv("CONTROL_PLANE_TOKEN"),
			Interval: interval,
			ReloadFn: p.Reload,
			Logger:   zapLogger,
			Metrics:  m,
		})
		go poller.Run(ctx)
		zapLogger.Info("control-plane polling enabled", zap.String("url", controlPlaneURL), zap.Duration("interval", interval))
	}

	// Recovery sits outermost so a panic anywhere in the pipeline (WAF rule
	// evaluation, forwarding) still yields the internal_error JSON shape
	// from spec §7 instead of killing the process.
	handler := middleware.NewChain(middleware.Recovery()).Then(p)

	server := &http.Server{
		Addr:    *listenAddr,
		Handler: handler,
	}

	go func() {
		zapLogger.Info("listening", zap.String("addr", *listenAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("server error", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	zapLogger.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func envOrDefault(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}
