package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/weftlabs/weft/pkg/anchor"
	"github.com/weftlabs/weft/pkg/api"
	"github.com/weftlabs/weft/pkg/audit"
	"github.com/weftlabs/weft/pkg/config"
	"github.com/weftlabs/weft/pkg/drift"
	"github.com/weftlabs/weft/pkg/network"
	"github.com/weftlabs/weft/pkg/observability"
	"github.com/weftlabs/weft/pkg/ratelimit"
	"github.com/weftlabs/weft/pkg/store"
	"github.com/weftlabs/weft/pkg/thread"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// startServer is a variable to allow mocking in tests.
var startServer = runServer

// Run is the entrypoint for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return startServer(stderr)
	}

	switch args[1] {
	case "server", "serve":
		return startServer(stderr)
	case "verify":
		return runVerifyCmd(args[2:], stdout, stderr)
	case "health":
		return runHealthCmd(stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: weft <command>")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve              Start the HTTP server (default)")
	fmt.Fprintln(w, "  verify <thread-id> Verify a thread's hash chain")
	fmt.Fprintln(w, "  health             Check a running server")
	fmt.Fprintln(w, "  help               Show this help")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// openStore picks the backing store from config: Postgres, SQLite, or the
// in-memory store for throwaway runs.
func openStore(cfg *config.Config, logger *slog.Logger) (thread.Store, anchor.Store, error) {
	switch {
	case cfg.DatabaseURL != "":
		s, err := store.OpenPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("store opened", "engine", "postgres")
		return s, s, nil
	case cfg.SQLitePath != "":
		s, err := store.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("store opened", "engine", "sqlite", "path", cfg.SQLitePath)
		return s, s, nil
	default:
		logger.Warn("no database configured; using in-memory store")
		m := store.NewMemoryStore()
		return m, m, nil
	}
}

// buildRegistry constructs network adapters from the profile.
func buildRegistry(profile *config.Profile) *network.Registry {
	registry := network.NewRegistry()
	if profile == nil {
		return registry
	}
	for _, n := range profile.Networks {
		switch n.Kind {
		case "evm":
			registry.Register(network.NewEVMAdapter(network.EVMConfig{
				Name:     n.Name,
				Endpoint: n.Endpoint,
				ChainID:  n.ChainID,
				From:     n.From,
				To:       n.To,
				Timeout:  n.Timeout(),
			}), n.Finality)
		case "solana":
			registry.Register(network.NewSolanaAdapter(network.SolanaConfig{
				Name:     n.Name,
				Endpoint: n.Endpoint,
				Payer:    n.Payer,
				Timeout:  n.Timeout(),
			}), n.Finality)
		}
	}
	return registry
}

func runServer(stderr io.Writer) int {
	cfg := config.Load()
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	var profile *config.Profile
	if cfg.ProfilePath != "" {
		p, err := config.LoadProfile(cfg.ProfilePath)
		if err != nil {
			logger.Error("profile load failed", "error", err)
			return 1
		}
		profile = p
	}

	obsCfg := observability.DefaultConfig()
	obsCfg.Enabled = cfg.OTLPAddr != ""
	if cfg.OTLPAddr != "" {
		obsCfg.OTLPEndpoint = cfg.OTLPAddr
	}
	obs, err := observability.New(context.Background(), obsCfg)
	if err != nil {
		logger.Error("observability init failed", "error", err)
		return 1
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := obs.Shutdown(shutdownCtx); err != nil {
			logger.Warn("observability shutdown failed", "error", err)
		}
	}()

	threadStore, anchorStore, err := openStore(cfg, logger)
	if err != nil {
		logger.Error("store open failed", "error", err)
		return 1
	}

	auditor := audit.NewLogger()
	ledger := thread.NewLedger(threadStore, cfg.Namespace,
		thread.WithLogger(logger),
		thread.WithAuditor(auditor),
	)

	driftCfg := drift.Config{}
	if profile != nil {
		driftCfg.Thresholds = profile.Drift.Thresholds()
	}
	detector, err := drift.NewDetector(driftCfg)
	if err != nil {
		logger.Error("drift detector init failed", "error", err)
		return 1
	}

	registry := buildRegistry(profile)
	batcher := anchor.NewBatcher(threadStore, anchorStore, registry,
		anchor.WithLogger(logger),
		anchor.WithAuditor(auditor),
	)
	verifier := anchor.NewVerifier(threadStore, anchorStore, registry, logger)

	var limiter ratelimit.Store
	limitPolicy := ratelimit.Policy{PerSecond: 25, Burst: 50}
	if cfg.RedisAddr != "" {
		limiter = ratelimit.NewRedisStore(cfg.RedisAddr, "", 0)
	} else {
		limiter = ratelimit.NewLocalStore()
	}
	if profile != nil && profile.Limits.PerSecond > 0 {
		limitPolicy = ratelimit.Policy{PerSecond: profile.Limits.PerSecond, Burst: profile.Limits.Burst}
	}

	srv := &api.Server{
		Ledger:      ledger,
		Detector:    detector,
		Batcher:     batcher,
		Verifier:    verifier,
		Obs:         obs,
		Logger:      logger,
		Limiter:     limiter,
		LimitPolicy: limitPolicy,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pollInterval := 30 * time.Second
	if profile != nil {
		pollInterval = profile.Anchor.PollInterval()
	}
	go batcher.Run(ctx, pollInterval)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "port", cfg.Port, "namespace", cfg.Namespace)
		errCh <- httpServer.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		logger.Error("server failed", "error", err)
		return 1
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "error", err)
		return 1
	}
	return 0
}

// runVerifyCmd recomputes a thread's hash chain against the configured
// store and prints the result.
func runVerifyCmd(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprintln(stderr, "Usage: weft verify <thread-id>")
		return 2
	}
	threadID := args[0]

	cfg := config.Load()
	logger := newLogger("ERROR")

	threadStore, _, err := openStore(cfg, logger)
	if err != nil {
		fmt.Fprintf(stderr, "store open failed: %v\n", err)
		return 1
	}

	ledger := thread.NewLedger(threadStore, cfg.Namespace, thread.WithLogger(logger))
	result, err := ledger.VerifyThread(context.Background(), threadID)
	if err != nil {
		fmt.Fprintf(stderr, "verify failed: %v\n", err)
		return 1
	}

	out, _ := json.MarshalIndent(result, "", "  ")
	fmt.Fprintln(stdout, string(out))
	if !result.Valid {
		return 1
	}
	return 0
}

func runHealthCmd(stdout, stderr io.Writer) int {
	cfg := config.Load()
	resp, err := http.Get("http://localhost:" + cfg.Port + "/healthz")
	if err != nil {
		fmt.Fprintf(stderr, "Health check failed: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(stderr, "Health check failed: status %d\n", resp.StatusCode)
		return 1
	}
	fmt.Fprintln(stdout, "OK")
	return 0
}
