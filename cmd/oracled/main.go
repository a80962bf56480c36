package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/psantana5/phoenix-oracle/pkg/api"
	"github.com/psantana5/phoenix-oracle/pkg/auth"
	"github.com/psantana5/phoenix-oracle/pkg/consumer"
	"github.com/psantana5/phoenix-oracle/pkg/expiry"
	"github.com/psantana5/phoenix-oracle/pkg/logging"
	"github.com/psantana5/phoenix-oracle/pkg/metrics"
	"github.com/psantana5/phoenix-oracle/pkg/models"
	"github.com/psantana5/phoenix-oracle/pkg/oracle"
	"github.com/psantana5/phoenix-oracle/pkg/ratelimit"
	"github.com/psantana5/phoenix-oracle/pkg/shutdown"
	"github.com/psantana5/phoenix-oracle/pkg/store"
	tlsutil "github.com/psantana5/phoenix-oracle/pkg/tls"
	"github.com/psantana5/phoenix-oracle/pkg/tracing"
)

var version = "dev"

func main() {
	// Command-line flags
	port := flag.String("port", envOr("ORACLE_PORT", "8080"), "API port")
	dbType := flag.String("db-type", envOr("ORACLE_DB_TYPE", "sqlite"), "Store backend: sqlite, postgres or memory")
	dbPath := flag.String("db", envOr("ORACLE_DB", "oracle.db"), "SQLite database path")
	dbDSN := flag.String("db-dsn", os.Getenv("DATABASE_DSN"), "PostgreSQL connection string (default: from DATABASE_DSN)")
	ownerFlag := flag.String("owner", os.Getenv("ORACLE_OWNER"), "Owner identity, used only when the store has none recorded")
	keyFile := flag.String("keys", envOr("ORACLE_KEYS", "keys.yaml"), "API key file")
	generateKey := flag.String("generate-key", "", "Create an API key for this identity, save it to the key file and exit")
	consumers := flag.String("consumers", os.Getenv("ORACLE_CONSUMERS"), "Comma-separated consumer targets, as identity or name=identity")
	requestTTL := flag.Duration("request-ttl", 0, "How long a request stays fulfillable (0 = forever)")
	expiryInterval := flag.Duration("expiry-interval", 30*time.Second, "How often overdue requests are expired")
	maintenanceInterval := flag.Duration("maintenance-interval", 10*time.Minute, "How often key, limiter and log maintenance runs")
	rateLimit := flag.Float64("rate-limit", 5, "Request intake per identity per second (0 disables)")
	rateBurst := flag.Int("rate-burst", 10, "Request intake burst per identity")
	useTLS := flag.Bool("tls", true, "Enable TLS")
	certFile := flag.String("cert", "certs/oracle.crt", "TLS certificate file")
	tlsKeyFile := flag.String("key", "certs/oracle.key", "TLS key file")
	caFile := flag.String("ca", "", "CA certificate file for mTLS")
	requireClientCert := flag.Bool("mtls", false, "Require client certificate (mTLS)")
	certHosts := flag.String("cert-hosts", "", "Comma-separated IPs and hostnames to include in a generated certificate")
	enableMetrics := flag.Bool("metrics", true, "Enable Prometheus metrics endpoint")
	metricsPort := flag.String("metrics-port", envOr("ORACLE_METRICS_PORT", "9090"), "Prometheus metrics port")
	tracingEndpoint := flag.String("tracing-endpoint", os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"), "OTLP/HTTP collector host:port (empty disables tracing)")
	logLevel := flag.String("log-level", envOr("LOG_LEVEL", "info"), "Log level: debug, info, warn, error")
	logJSON := flag.Bool("log-json", os.Getenv("LOG_FORMAT") == "json", "Log as JSON")
	logFile := flag.Bool("log-file", os.Getenv("ORACLE_LOG_FILE") == "true", "Also write logs under "+logging.DefaultLogDir+"/oracled (or ./logs)")
	logMaxSize := flag.Int64("log-max-size", 100, "Rotate the log file once it exceeds this many MB")
	printLogrotate := flag.Bool("print-logrotate", false, "Print a logrotate config for oracled and exit")
	flag.Parse()

	if *printLogrotate {
		fmt.Print(logging.GenerateLogrotateConfig("oracled"))
		return
	}

	logger := logging.NewLogger(logging.ParseLevel(*logLevel), *logJSON).WithField("component", "oracled")
	if *logFile {
		fl, err := logging.NewFileLogger("oracled", "", logging.ParseLevel(*logLevel), *logJSON)
		if err != nil {
			logger.Fatal("Failed to open log file", map[string]interface{}{"error": err.Error()})
		}
		logger = fl
	}

	if *generateKey != "" {
		if err := addKey(*keyFile, *generateKey); err != nil {
			logger.Fatal("Failed to generate key", map[string]interface{}{"error": err.Error()})
		}
		return
	}

	logger.Info("Starting oracle", map[string]interface{}{
		"version": version,
		"port":    *port,
		"store":   *dbType,
		"tls":     *useTLS,
	})

	sm := shutdown.New(30*time.Second, logger)
	sm.Register("logger", shutdown.CloseResource(logger))

	// Tracing
	tracer, err := tracing.InitTracer(tracing.Config{
		ServiceName:    "oracled",
		ServiceVersion: version,
		Environment:    envOr("ORACLE_ENV", "production"),
		OTLPEndpoint:   *tracingEndpoint,
		Insecure:       true,
		Enabled:        *tracingEndpoint != "",
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize tracing", map[string]interface{}{"error": err.Error()})
	}
	sm.Register("tracing", tracer.Shutdown)

	// Store
	dataStore, err := store.NewStore(store.Config{Type: *dbType, Path: *dbPath, DSN: *dbDSN})
	if err != nil {
		logger.Fatal("Failed to open store", map[string]interface{}{"error": err.Error(), "type": *dbType})
	}
	sm.Register("store", shutdown.CloseResource(dataStore))
	if *dbType == "memory" {
		logger.Warn("Using in-memory store, state will not survive restarts")
	}

	// Consumer targets
	targets := oracle.NewTargetRegistry()
	consumerSet := consumer.NewSet()
	for i, entry := range splitList(*consumers) {
		name, rawID := fmt.Sprintf("consumer-%d", i+1), entry
		if n, id, ok := strings.Cut(entry, "="); ok {
			name, rawID = n, id
		}
		id, err := models.ParseIdentity(rawID)
		if err != nil {
			logger.Fatal("Invalid consumer identity", map[string]interface{}{"error": err.Error()})
		}
		c := consumer.New(id, name)
		if err := targets.Register(id, c); err != nil {
			logger.Fatal("Failed to register consumer", map[string]interface{}{"error": err.Error()})
		}
		consumerSet.Add(c)
		logger.Info("Consumer target registered", map[string]interface{}{"name": name, "identity": id.String()})
	}

	// Core
	registry := prometheus.NewRegistry()
	recorder := metrics.NewRecorder(registry)
	var owner models.Identity
	if *ownerFlag != "" {
		owner, err = models.ParseIdentity(*ownerFlag)
		if err != nil {
			logger.Fatal("Invalid owner identity", map[string]interface{}{"error": err.Error()})
		}
	}
	core, err := oracle.New(dataStore, targets, oracle.Config{
		Owner:      owner,
		RequestTTL: *requestTTL,
		Logger:     logger.WithField("component", "oracle"),
		Recorder:   recorder,
	})
	if err != nil {
		logger.Fatal("Failed to start oracle", map[string]interface{}{"error": err.Error()})
	}
	sm.Register("emitter", func(context.Context) error {
		core.Emitter().Close()
		return nil
	})

	// Authentication
	ring, err := auth.LoadKeyFile(*keyFile, 0)
	if err != nil {
		logger.Fatal("Failed to load API keys", map[string]interface{}{
			"error": err.Error(),
			"hint":  "create one with -generate-key <identity>",
		})
	}
	logger.Info("API authentication enabled", map[string]interface{}{"keys": ring.Len()})

	// API
	handler := api.NewOracleHandler(core, consumerSet, logger.WithField("component", "api"))
	handler.SetStoreType(*dbType)
	handler.SetHostStats(metrics.ReadHostStats)
	var limiter *ratelimit.Limiter
	if *rateLimit > 0 {
		limiter = ratelimit.NewLimiter(*rateLimit, *rateBurst)
		handler.SetRateLimiter(limiter)
	}

	router := mux.NewRouter()
	router.Use(logging.RequestLogger(logger))
	router.Use(tracing.HTTPMiddleware(tracer))
	if *enableMetrics {
		router.Use(metrics.NewHTTPMonitor(registry).Middleware)
	}
	router.Use(auth.Middleware(ring, logger, "/health"))
	handler.RegisterRoutes(router)

	// Expiry and housekeeping
	expiryCfg := expiry.DefaultConfig()
	expiryCfg.Enabled = *requestTTL > 0
	expiryCfg.Interval = *expiryInterval
	expiryCfg.MaintenanceInterval = *maintenanceInterval
	sweeper := expiry.NewManager(expiryCfg, core, logger.WithField("component", "expiry"))
	if limiter != nil {
		sweeper.AddMaintenance("rate-limiters", func() int { return limiter.CleanupOldLimiters(time.Hour) })
	}
	sweeper.AddMaintenance("api-keys", ring.CleanupExpired)
	if *logFile {
		sweeper.AddMaintenance("log-rotation", func() int {
			rotated, err := logger.RotateIfNeeded(*logMaxSize << 20)
			if err != nil {
				logger.Warn("Log rotation failed", map[string]interface{}{"error": err.Error()})
			}
			if rotated {
				return 1
			}
			return 0
		})
	}
	sweeper.Start()
	sm.Register("expiry", shutdown.StopFunc(sweeper.Stop))

	// Metrics server
	if *enableMetrics {
		registry.MustRegister(
			metrics.NewLedgerCollector(dataStore, core.Emitter().Dropped),
			metrics.NewHostCollector(),
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)

		metricsRouter := mux.NewRouter()
		metricsRouter.Handle("/metrics", metrics.Handler(registry)).Methods("GET")
		metricsSrv := &http.Server{
			Addr:         ":" + *metricsPort,
			Handler:      metricsRouter,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
		sm.Register("metrics-server", shutdown.StopHTTPServer(metricsSrv))

		go func() {
			logger.Info("Metrics server listening", map[string]interface{}{"addr": metricsSrv.Addr})
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("Metrics server error", map[string]interface{}{"error": err.Error()})
			}
		}()
	}

	// HTTP server
	srv := &http.Server{
		Addr:         ":" + *port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	if *useTLS {
		generated, err := tlsutil.EnsureSelfSignedCert(*certFile, *tlsKeyFile, "oracled", splitList(*certHosts)...)
		if err != nil {
			logger.Fatal("Failed to generate certificate", map[string]interface{}{"error": err.Error()})
		}
		if generated {
			logger.Info("Self-signed certificate generated", map[string]interface{}{"cert": *certFile})
		}
		tlsConfig, err := tlsutil.LoadTLSConfig(*certFile, *tlsKeyFile, *caFile, *requireClientCert)
		if err != nil {
			logger.Fatal("Failed to load TLS config", map[string]interface{}{"error": err.Error()})
		}
		srv.TLSConfig = tlsConfig
	} else {
		logger.Warn("TLS disabled, API keys travel in clear text")
	}
	sm.Register("api-server", shutdown.StopHTTPServer(srv))

	go func() {
		logger.Info("Oracle listening", map[string]interface{}{
			"addr":  srv.Addr,
			"owner": core.Owner().String(),
		})

		var err error
		if *useTLS {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Error("Server error", map[string]interface{}{"error": err.Error()})
			sm.Trigger()
		}
	}()

	sm.Wait()
	if failed := sm.Shutdown(); failed > 0 {
		os.Exit(1)
	}
}

// addKey generates a key for rawID, stores its hash in path and prints the key once
func addKey(path, rawID string) error {
	id, err := models.ParseIdentity(rawID)
	if err != nil {
		return err
	}

	ring := auth.NewKeyRing(0)
	if _, statErr := os.Stat(path); statErr == nil {
		if ring, err = auth.LoadKeyFile(path, 0); err != nil {
			return err
		}
	}
	key, err := ring.GenerateKey(id, "generated", 0)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return err
		}
	}
	if err := auth.SaveKeyFile(path, ring); err != nil {
		return err
	}

	fmt.Printf("Identity: %s\nKey:      %s\nStored in %s. The key is not shown again.\n", id, key, path)
	return nil
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
