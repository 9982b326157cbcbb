package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"codeberg.org/mutker/socgovd/internal/config"
	"codeberg.org/mutker/socgovd/internal/errors"
	"codeberg.org/mutker/socgovd/internal/fan"
	"codeberg.org/mutker/socgovd/internal/game"
	"codeberg.org/mutker/socgovd/internal/governor"
	"codeberg.org/mutker/socgovd/internal/logger"
	"codeberg.org/mutker/socgovd/internal/metrics"
	"codeberg.org/mutker/socgovd/internal/pid"
	"codeberg.org/mutker/socgovd/internal/state"
	"codeberg.org/mutker/socgovd/internal/status"
	"codeberg.org/mutker/socgovd/internal/sysfs"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

func main() {
	flags := config.NewFlagSet("socgovd")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return
		}
		fmt.Fprintf(os.Stderr, "socgovd: %v\n", err)
		os.Exit(2)
	}

	if write, _ := flags.GetBool("write-default"); write {
		path, _ := flags.GetString("config")
		if path == "" {
			path = config.DefaultConfigPath
		}
		if err := config.WriteDefault(path); err != nil {
			fmt.Fprintf(os.Stderr, "socgovd: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(path)
		return
	}

	cfg, loadErr := config.LoadOrDefault(config.WithFlags(flags))

	logger.Init(cfg.LogLevel, cfg.Debug, cfg.Verbose, logger.IsService())
	if loadErr != nil {
		logger.Warn().Err(loadErr).Str("path", cfg.Path).Msg("Invalid configuration, using defaults")
	}
	logger.Debug().Str("path", cfg.Path).Msg("Config loaded")

	if err := pid.Write(cfg.RunDir); err != nil {
		var appErr errors.Error
		if errors.As(err, &appErr) {
			logger.FatalWithCode(appErr).Msg("Failed to write PID file")
		}
		logger.Fatal().Err(err).Msg("Failed to write PID file")
	}

	err := run(*cfg, flags, loadErr)

	if rmErr := pid.Remove(cfg.RunDir); rmErr != nil {
		logger.Warn().Err(rmErr).Msg("Failed to remove PID file")
	}
	if err != nil {
		logger.Error().Err(err).Msg("Error in main loop")
		os.Exit(1)
	}
	logger.Info().Msg("Exiting...")
}

func run(cfg config.Config, flags *pflag.FlagSet, loadErr error) error {
	errFactory := errors.New()

	shared := state.New(cfg)
	if loadErr != nil {
		shared.ReplaceConfig(cfg, loadErr.Error())
	}

	games, err := game.LoadList(cfg.GameList)
	if err != nil {
		logger.Warn().Err(err).Str("path", cfg.GameList).Msg("Failed to load game list, using default")
		games = game.DefaultList()
	}

	// telemetry history is optional; the loop runs without it
	collector := metrics.NewServiceOrNoop(metrics.Config{
		DBPath:       cfg.Metrics.DBPath,
		Enabled:      cfg.Metrics.Enabled,
		BatchSize:    cfg.Metrics.BatchSize,
		BatchTimeout: cfg.Metrics.BatchTimeout,
	})

	cache := sysfs.NewCache()
	opts := []governor.Option{governor.WithMetrics(collector)}
	if f := fan.New(cfg.SysfsRoot, cache, cfg.GameFanBase); f != nil {
		opts = append(opts, governor.WithFan(f))
	} else {
		logger.Debug().Msg("No fan control nodes, fan disabled")
	}

	loop := governor.New(shared, governor.HostSources(cfg, games), cache, opts...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return loop.Run(ctx)
	})

	watcher := config.NewWatcher(cfg.Path, shared, config.WithFlags(flags))
	g.Go(func() error {
		if err := watcher.Watch(ctx); err != nil {
			// the loop keeps running on the last good config
			logger.Warn().Err(err).Msg("Config watcher stopped")
		}
		return nil
	})

	if cfg.Status.Listen != "" {
		exporter := status.NewExporter(cfg.Status.Listen, shared)
		g.Go(func() error {
			if err := exporter.Run(ctx); err != nil {
				logger.Warn().Err(err).Str("listen", cfg.Status.Listen).Msg("Status endpoint stopped")
			}
			return nil
		})
	}

	if cfg.MQTT.Broker != "" {
		publisher := status.NewPublisher(cfg.MQTT, shared)
		g.Go(func() error {
			if err := publisher.Run(ctx); err != nil {
				logger.Warn().Err(err).Str("broker", cfg.MQTT.Broker).Msg("MQTT publisher stopped")
			}
			return nil
		})
	}

	logger.Info().
		Str("config", cfg.Path).
		Bool("metrics", cfg.Metrics.Enabled).
		Str("status", cfg.Status.Listen).
		Str("mqtt", cfg.MQTT.Broker).
		Msg("socgovd started")

	if err := g.Wait(); err != nil {
		return errFactory.Wrap(errors.ErrMainLoop, err)
	}

	return nil
}
