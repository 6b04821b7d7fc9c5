package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/respkv/respkv/app/config"
	"github.com/respkv/respkv/app/database"
	"github.com/respkv/respkv/app/logger"
	"github.com/respkv/respkv/app/metrics"
	"github.com/respkv/respkv/app/persistence"
)

// Build information, set via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "respkv",
		Usage:   "in-memory key-value server speaking RESP",
		Version: fmt.Sprintf("%s (commit: %s)", version, commit),
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "path to a YAML configuration file"},
			&cli.StringFlag{Name: "env-file", Usage: "path to a .env file", Value: ".env"},
			&cli.StringFlag{Name: "host", Usage: "address to bind to"},
			&cli.IntFlag{Name: "port", Usage: "port to bind to"},
			&cli.StringFlag{Name: "dir", Usage: "directory holding the snapshot file"},
			&cli.StringFlag{Name: "dbfilename", Usage: "snapshot file name"},
			&cli.BoolFlag{Name: "reuse-port", Usage: "bind with SO_REUSEPORT"},
			&cli.StringFlag{Name: "metrics-addr", Usage: "serve Prometheus metrics on this address"},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error"},
		},
		Action: run,
	}
}

func run(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stdout,
	})
	slog.SetDefault(log)
	log.Info("starting respkv", "version", version, "commit", commit)

	reg := metrics.NewRegistry()
	db := loadDB(cfg, log, reg)
	reg.RegisterKeyspace(db.Len)

	s := newServer(cfg, db, log, reg)
	ln, err := s.listen()
	if err != nil {
		return fmt.Errorf("error listening: %w", err)
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.Serve(ln)
	}()

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", reg.Handler())
		metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			log.Info("metrics listening", "addr", cfg.MetricsAddr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server error", "error", err)
			}
		}()
	}

	if path := c.String("config"); path != "" {
		w, err := config.NewWatcher(path, config.WithWatcherLogger(log))
		if err != nil {
			log.Warn("config watcher disabled", "error", err)
		} else {
			w.OnChange(func(p string) { reloadLogLevel(c, log) })
			go w.Start()
			defer w.Stop()
		}
	}

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			log.Warn("metrics server shutdown", "error", err)
		}
	}
	if err := s.Shutdown(shutdownCtx); err != nil {
		log.Warn("connections still open at shutdown were closed", "error", err)
	}
	log.Info("server stopped")
	return nil
}

// loadConfig layers defaults, the config file, the environment and the
// flags that were set explicitly.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg := config.Default()

	opts := []config.Option{
		config.WithDotEnv(c.String("env-file")),
		config.WithOverrides(flagOverrides(c)),
	}
	if path := c.String("config"); path != "" {
		opts = append(opts, config.WithConfigFile(path))
	}
	if err := config.NewLoader(opts...).Load(cfg); err != nil {
		return nil, err
	}
	if err := config.Verify(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func flagOverrides(c *cli.Context) map[string]any {
	m := map[string]any{}
	for _, name := range []string{"host", "dir", "dbfilename", "metrics-addr"} {
		if c.IsSet(name) {
			m[flagKey(name)] = c.String(name)
		}
	}
	if c.IsSet("port") {
		m["port"] = c.Int("port")
	}
	if c.IsSet("reuse-port") {
		m["reuse_port"] = c.Bool("reuse-port")
	}
	if c.IsSet("log-level") {
		m["log"] = map[string]any{"level": c.String("log-level")}
	}
	return m
}

func flagKey(name string) string {
	if name == "metrics-addr" {
		return "metrics_addr"
	}
	return name
}

// reloadLogLevel applies the log level from a changed config file. Other
// settings keep the values the server started with.
func reloadLogLevel(c *cli.Context, log *slog.Logger) {
	cfg, err := loadConfig(c)
	if err != nil {
		log.Warn("ignoring config change", "error", err)
		return
	}
	logger.SetLevel(cfg.Log.Level)
	log.Info("log level changed", "level", logger.Level().String())
}

func loadDB(cfg *config.Config, log *slog.Logger, reg *metrics.Registry) *database.DB {
	path, _ := cfg.SnapshotPath()
	db, rdb, err := persistence.LoadDB(path, database.WithExpireFunc(reg.ObserveExpired))
	switch {
	case errors.Is(err, persistence.ErrNoSnapshot):
		log.Info("no snapshot loaded, starting empty", "path", path, "reason", err)
	case err != nil:
		log.Warn("snapshot unreadable, starting empty", "path", path, "error", err)
	default:
		reg.SnapshotKeys.Set(float64(db.Len()))
		log.Info("snapshot loaded", "path", path, "version", rdb.Version, "keys", db.Len(), "expired", rdb.Expired)
	}
	return db
}
