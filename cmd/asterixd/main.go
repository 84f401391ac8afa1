// Command asterixd is the asterix collector and dashboard server binary. It
// loads a YAML configuration file, starts one watcher per configured source,
// decodes every capture against a shared catalogue, and serves the resulting
// block records over a JWT-protected REST API and a live WebSocket feed. It
// shuts down gracefully on SIGTERM or SIGINT.
package main

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flightwatch/asterix/internal/audit"
	"github.com/flightwatch/asterix/internal/catalogxml"
	"github.com/flightwatch/asterix/internal/config"
	"github.com/flightwatch/asterix/internal/ingest"
	"github.com/flightwatch/asterix/internal/queue"
	"github.com/flightwatch/asterix/internal/server/rest"
	"github.com/flightwatch/asterix/internal/server/storage"
	"github.com/flightwatch/asterix/internal/server/websocket"
	"github.com/flightwatch/asterix/internal/uplink"
	"github.com/flightwatch/asterix/internal/watcher"
)

func main() {
	configPath := flag.String("config", "/etc/asterixd/config.yaml", "path to the asterixd YAML configuration file")
	jwtPubKeyPath := flag.String("jwt-pubkey", "", "path to a PEM-encoded RSA public key used to verify dashboard JWTs (empty disables auth)")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "asterixd: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("configuration loaded",
		slog.String("config_path", *configPath),
		slog.Int("num_sources", len(cfg.Sources)),
		slog.String("rest_addr", cfg.RESTAddr),
		slog.String("log_level", cfg.LogLevel),
	)

	cat, err := catalogxml.LoadDir(cfg.CatalogPath)
	if err != nil {
		logger.Error("failed to load catalogue", slog.String("path", cfg.CatalogPath), slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("catalogue loaded", slog.String("path", cfg.CatalogPath))

	var pubKey *rsa.PublicKey
	if *jwtPubKeyPath != "" {
		pubKey, err = loadRSAPublicKey(*jwtPubKeyPath)
		if err != nil {
			logger.Error("failed to load JWT public key", slog.String("path", *jwtPubKeyPath), slog.Any("error", err))
			os.Exit(1)
		}
	} else {
		logger.Warn("no -jwt-pubkey provided, dashboard API authentication is disabled")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var store *storage.Store
	if cfg.DSN != "" {
		store, err = storage.New(ctx, cfg.DSN, 0, 0)
		if err != nil {
			logger.Error("failed to connect to storage", slog.Any("error", err))
			os.Exit(1)
		}
		defer store.Close(ctx)

		for _, sc := range cfg.Sources {
			if _, err := store.UpsertSource(ctx, storage.Source{
				Name:   sc.Name,
				Type:   sc.Type,
				Target: sc.Target,
				Status: storage.SourceStatusActive,
			}); err != nil {
				logger.Warn("failed to register source", slog.String("source", sc.Name), slog.Any("error", err))
			}
		}
	} else {
		logger.Warn("no dsn configured, running without persistence")
	}

	q, err := queue.New(cfg.QueuePath)
	if err != nil {
		logger.Error("failed to open local queue", slog.String("path", cfg.QueuePath), slog.Any("error", err))
		os.Exit(1)
	}
	defer q.Close()
	logger.Info("local uplink queue opened", slog.String("path", cfg.QueuePath), slog.Int("pending", q.Depth()))

	auditLogger, err := audit.Open(cfg.AuditPath)
	if err != nil {
		logger.Error("failed to open audit log", slog.String("path", cfg.AuditPath), slog.Any("error", err))
		os.Exit(1)
	}
	defer auditLogger.Close()

	broadcaster := websocket.NewBroadcaster(logger, 0)
	defer broadcaster.Close()

	wsHandler := websocket.NewHandler(broadcaster, logger, 0)

	serverOpts := []rest.ServerOption{
		rest.WithBroadcaster(broadcaster),
		rest.WithAudit(auditLogger),
		rest.WithLogger(logger),
	}
	if store != nil {
		serverOpts = append(serverOpts, rest.WithIngestStore(store))
	}

	var queryStore rest.Store
	if store != nil {
		queryStore = store
	} else {
		queryStore = noopStore{}
	}

	srv := rest.NewServer(queryStore, serverOpts...)
	router := rest.NewRouter(srv, pubKey)

	mux := http.NewServeMux()
	mux.Handle("/ws/blocks", wsHandler)
	mux.Handle("/", router)

	httpServer := &http.Server{
		Addr:         cfg.RESTAddr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // WebSocket connections are long-lived
	}

	httpErrCh := make(chan error, 1)
	go func() {
		logger.Info("dashboard server listening", slog.String("addr", cfg.RESTAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			httpErrCh <- err
		}
	}()

	up := uplink.New(uplink.ClientConfig{Addr: "http://" + loopbackAddr(cfg.RESTAddr)}, q, logger)

	var collectorOpts []ingest.Option
	collectorOpts = append(collectorOpts, ingest.WithQueue(q), ingest.WithUplink(up))
	collectorOpts = append(collectorOpts, ingest.WithWatchers(buildWatchers(cfg, logger)...))

	collector := ingest.New(cat, logger, collectorOpts...)
	if err := collector.Start(ctx); err != nil {
		logger.Error("failed to start collector", slog.Any("error", err))
		os.Exit(1)
	}

	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/healthz", collector.HealthzHandler)
	healthServer := &http.Server{
		Addr:         cfg.HealthAddr,
		Handler:      healthMux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	healthErrCh := make(chan error, 1)
	go func() {
		logger.Info("healthz server listening", slog.String("addr", cfg.HealthAddr))
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			healthErrCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
	case err := <-httpErrCh:
		logger.Error("dashboard server error", slog.Any("error", err))
	case err := <-healthErrCh:
		logger.Error("healthz server error", slog.Any("error", err))
	}

	collector.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("dashboard server shutdown error", slog.Any("error", err))
	}
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("healthz server shutdown error", slog.Any("error", err))
	}

	logger.Info("asterixd exited cleanly")
}

// buildWatchers constructs one ingest.Watcher per configured source: a
// DirWatcher for "dir" sources or a UDPWatcher for "udp" sources.
func buildWatchers(cfg *config.Config, logger *slog.Logger) []ingest.Watcher {
	var watchers []ingest.Watcher
	for _, sc := range cfg.Sources {
		switch sc.Type {
		case "dir":
			watchers = append(watchers, watcher.NewDirWatcher(sc.Name, sc.Target, logger, 0))
		case "udp":
			watchers = append(watchers, watcher.NewUDPWatcher(sc.Name, sc.Target, nil, logger))
		}
		logger.Info("registered source", slog.String("name", sc.Name), slog.String("type", sc.Type), slog.String("target", sc.Target))
	}
	return watchers
}

// loopbackAddr rewrites a listen address such as ":8080" or "0.0.0.0:8080"
// into a dialable loopback address "127.0.0.1:8080" for the uplink client's
// same-process delivery call.
func loopbackAddr(listenAddr string) string {
	_, port, err := net.SplitHostPort(listenAddr)
	if err != nil {
		return listenAddr
	}
	return "127.0.0.1:" + port
}

// noopStore is the rest.Store used when no DSN is configured (dev mode
// without persistence): every query returns an empty result set.
type noopStore struct{}

func (noopStore) QueryBlocks(ctx context.Context, q storage.BlockQuery) ([]storage.BlockRecord, error) {
	return nil, nil
}

func (noopStore) ListSources(ctx context.Context) ([]storage.Source, error) {
	return nil, nil
}

func (noopStore) QueryAuditEntries(ctx context.Context, source string, from, to time.Time) ([]storage.AuditEntry, error) {
	return nil, nil
}

// loadRSAPublicKey reads a PEM-encoded PKIX RSA public key from path.
func loadRSAPublicKey(path string) (*rsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", path, err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%q: no PEM block found", path)
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%q: parse PKIX public key: %w", path, err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%q: not an RSA public key", path)
	}
	return rsaPub, nil
}

// newLogger constructs a *slog.Logger that writes JSON-structured log records
// to stderr at the requested minimum level.
func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
