// station is the botcomet station daemon. It accepts comet and plugin
// WebSocket connections, authenticates plugins against the plugin
// directory and routes messages between them.
//
// Usage:
//
//	station --config /etc/botcomet/station.yaml
//	station --directory plugins.yaml --listen :8080 --metrics :9100
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/opd-ai/botcomet/config"
	"github.com/opd-ai/botcomet/directory"
	"github.com/opd-ai/botcomet/limits"
	"github.com/opd-ai/botcomet/station"
	"github.com/opd-ai/botcomet/transport"
)

const shutdownTimeout = 5 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  string
		listenAddr  string
		metricsAddr string
		dirFile     string
		logLevel    string
		watch       bool
	)

	flagSet := pflag.NewFlagSet("station", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to the station config file (default: $"+config.EnvConfigPath+")")
	flagSet.StringVar(&listenAddr, "listen", "", "WebSocket listen address")
	flagSet.StringVar(&metricsAddr, "metrics", "", "Prometheus metrics listen address")
	flagSet.StringVar(&dirFile, "directory", "", "plugin directory file")
	flagSet.BoolVar(&watch, "watch", false, "reload the plugin directory when it changes")
	flagSet.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}

	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}

	if flagSet.Changed("listen") {
		cfg.Server.ListenAddr = listenAddr
	}
	if flagSet.Changed("metrics") {
		cfg.Server.MetricsAddr = metricsAddr
	}
	if flagSet.Changed("directory") {
		cfg.Directory.File = dirFile
	}
	if flagSet.Changed("watch") {
		cfg.Directory.Watch = watch
	}
	if flagSet.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logCloser, err := config.SetupLogging(cfg.Log)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg)
}

func serve(ctx context.Context, cfg *config.Config) error {
	dir, err := directory.LoadFile(cfg.Directory.File)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := station.DefaultOptions()
	opts.HandshakeTimeout = cfg.Station.HandshakeTimeout
	opts.LookupTimeout = cfg.Station.LookupTimeout
	opts.ContextMaxAge = cfg.Station.ContextTimeout
	opts.SweepInterval = cfg.Station.SweepInterval
	opts.VaultCapacity = cfg.Station.VaultCapacity
	opts.RateLimit = rate.Limit(cfg.Station.RateLimit)
	opts.RateBurst = cfg.Station.RateBurst
	opts.Recorder = station.NewRecorder(registry)
	router := station.NewRouter(dir, opts)

	linkOpts := transport.Options{
		ReadLimit:    limits.MaxEnvelopeSize,
		WriteTimeout: cfg.Server.WriteTimeout,
		PingInterval: cfg.Server.PingInterval,
		PongTimeout:  cfg.Server.PingInterval,
	}
	upgrader := transport.NewUpgrader(linkOpts, cfg.Server.AllowedOrigins)

	mux := http.NewServeMux()
	mux.Handle(cfg.Server.Path, station.NewHandler(ctx, router, upgrader))
	servers := []*http.Server{{Addr: cfg.Server.ListenAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}}
	if cfg.Server.MetricsAddr != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", station.MetricsHandler(registry))
		servers = append(servers, &http.Server{Addr: cfg.Server.MetricsAddr, Handler: metricsMux, ReadHeaderTimeout: 10 * time.Second})
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		srv := srv
		g.Go(func() error {
			logrus.WithFields(logrus.Fields{
				"function": "serve",
				"addr":     srv.Addr,
			}).Info("Listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("listen on %s: %w", srv.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		router.RunJanitor(ctx)
		return nil
	})
	if cfg.Directory.Watch {
		g.Go(func() error {
			return dir.Watch(ctx)
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		logrus.WithField("function", "serve").Info("Shutting down station")

		router.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		for _, srv := range servers {
			srv.Shutdown(shutdownCtx)
		}
		return nil
	})

	return g.Wait()
}
