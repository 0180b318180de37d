// q931d демон сигнализации Q.931: открывает интерфейсы ISDN поверх
// сокетов LAPD или мостов QUIC, экспортирует метрики и запускает
// демонстрационное приложение автоответа.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arzzra/q931/pkg/q931"
)

func main() {
	var (
		configPath = flag.String("config", "/etc/q931d.yaml", "Configuration file")
		debug      = flag.Bool("debug", false, "Enable debug logging")
	)
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "q931d: %v\n", err)
		os.Exit(1)
	}
	if *debug {
		cfg.LogLevel = "debug"
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "q931d: %v\n", err)
		os.Exit(1)
	}
}

func newLogger(cfg Config) *slog.Logger {
	level, _ := cfg.Level()
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// run запускает мосты, движок и приложение до отмены ctx
func run(ctx context.Context, cfg Config) error {
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	for _, b := range cfg.Bridges {
		if err := startBridge(ctx, b, logger); err != nil {
			return fmt.Errorf("bridge %s: %w", b.Listen, err)
		}
	}

	if len(cfg.Interfaces) == 0 {
		logger.Info("no interfaces configured, running bridges only")
		<-ctx.Done()
		return ctx.Err()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	engine := q931.New(q931.WithLogger(logger), q931.WithRegisterer(reg))
	defer engine.Close()

	roles := make(map[string]q931.Role)
	for _, intf := range cfg.Interfaces {
		if err := engine.OpenInterface(intf.InterfaceConfig, linkOpener(intf, logger)); err != nil {
			return fmt.Errorf("interface %s: %w", intf.Name, err)
		}
		role := intf.Role
		if role == "" {
			role = q931.RoleTE
		}
		roles[intf.Name] = role
	}

	if cfg.MetricsAddr != "" {
		srv := metricsServer(cfg.MetricsAddr, reg)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
		logger.Info("metrics endpoint started", "addr", cfg.MetricsAddr)
	}

	app := newAnswerer(engine, cfg.Answer, roles, logger)
	go app.run(ctx)

	logger.Info("q931d started", "interfaces", len(cfg.Interfaces), "bridges", len(cfg.Bridges))
	return engine.Run(ctx)
}

func metricsServer(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
