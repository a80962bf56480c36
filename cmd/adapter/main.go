package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"time"

	"github.com/psantana5/phoenix-oracle/pkg/adapter"
	"github.com/psantana5/phoenix-oracle/pkg/client"
	"github.com/psantana5/phoenix-oracle/pkg/logging"
	"github.com/psantana5/phoenix-oracle/pkg/models"
	"github.com/psantana5/phoenix-oracle/pkg/shutdown"
	"github.com/psantana5/phoenix-oracle/pkg/tracing"
)

func main() {
	configPath := flag.String("config", "adapter.yaml", "Adapter YAML configuration")
	tracingEndpoint := flag.String("tracing-endpoint", os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"), "OTLP/HTTP collector host:port (empty disables tracing)")
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn, error")
	logJSON := flag.Bool("log-json", false, "Log as JSON")
	flag.Parse()

	logger := logging.NewLogger(logging.ParseLevel(*logLevel), *logJSON)

	cfg, err := adapter.LoadConfig(*configPath)
	if err != nil {
		logger.Fatal("Failed to load config", map[string]interface{}{"error": err.Error(), "path": *configPath})
	}

	tracer, err := tracing.InitTracer(tracing.Config{
		ServiceName:  "oracle-adapter",
		OTLPEndpoint: *tracingEndpoint,
		Insecure:     true,
		Enabled:      *tracingEndpoint != "",
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize tracing", map[string]interface{}{"error": err.Error()})
	}

	hc, err := cfg.HTTPClient()
	if err != nil {
		logger.Fatal("Failed to configure TLS", map[string]interface{}{"error": err.Error()})
	}
	// LoadConfig has already validated the identity
	id, _ := models.ParseIdentity(cfg.Identity)
	oc := client.New(cfg.OracleURL, id, cfg.Key, client.WithHTTPClient(hc))

	a := adapter.New(cfg, oc, adapter.NewResolver(&http.Client{Timeout: 30 * time.Second}), tracer, logger)

	sm := shutdown.New(10*time.Second, logger)
	sm.Register("tracing", tracer.Shutdown)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		a.Run(ctx)
	}()
	sm.Register("adapter", func(ctx context.Context) error {
		cancel()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	sm.Wait()
	failed := sm.Shutdown()
	stats := a.Stats()
	logger.Info("Adapter exiting", map[string]interface{}{
		"cursor":    stats.Cursor,
		"fulfilled": stats.Fulfilled,
		"failed":    stats.Failed,
	})
	if failed > 0 {
		os.Exit(1)
	}
}
