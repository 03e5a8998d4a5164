package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goodtune/puzzlegate/internal/bridge"
	"github.com/goodtune/puzzlegate/internal/challenge"
	"github.com/goodtune/puzzlegate/internal/config"
	"github.com/goodtune/puzzlegate/internal/corpus"
	"github.com/goodtune/puzzlegate/internal/gate"
	"github.com/goodtune/puzzlegate/internal/match"
	"github.com/goodtune/puzzlegate/internal/metrics"
	"github.com/goodtune/puzzlegate/internal/notify"
	"github.com/goodtune/puzzlegate/internal/registry"
	"github.com/goodtune/puzzlegate/internal/rules"
	"github.com/goodtune/puzzlegate/internal/storage"
	"github.com/goodtune/puzzlegate/internal/storage/redis"
	"github.com/goodtune/puzzlegate/internal/storage/sqlite"
	"github.com/goodtune/puzzlegate/internal/systemd"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 5 * time.Second

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start PuzzleGate server",
	Long:  `Start the PuzzleGate server with the viewer WebSocket bridge and metrics endpoints.`,
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting PuzzleGate")

	// Check for systemd socket activation
	sdListeners, err := systemd.GetListeners()
	if err != nil {
		return fmt.Errorf("failed to get systemd listeners: %w", err)
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize storage
	store, err := redis.Open(cfg.Storage.Redis)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	logger.Info().
		Str("redis_host", cfg.Storage.Redis.Host).
		Int("redis_port", cfg.Storage.Redis.Port).
		Msg("Storage initialized")

	// Initialize attempt history
	var history storage.AttemptLog
	if cfg.History.Enabled {
		h, err := sqlite.Open(cfg.History.Path)
		if err != nil {
			return fmt.Errorf("failed to open attempt history: %w", err)
		}
		history = h
		defer func() {
			if err := history.Close(); err != nil {
				logger.Error().Err(err).Msg("Failed to close attempt history")
			}
		}()

		logger.Info().Str("path", cfg.History.Path).Msg("Attempt history initialized")
	}

	// Load puzzle corpus
	puzzles, err := corpus.Load(cfg.Puzzles.CorpusPath, corpus.Config{
		Tolerance:    cfg.Puzzles.RatingTolerance,
		MaxTolerance: cfg.Puzzles.MaxTolerance,
		RecentSize:   cfg.Puzzles.RecentSize,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to load puzzle corpus: %w", err)
	}

	// Initialize destination matching
	matcher, err := match.NewEngine(cfg.Matching.PolicyDir, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize destination matcher: %w", err)
	}

	// Initialize attempt manager
	manager := challenge.NewManager(puzzles, rules.Factory, challenge.Config{
		ReplyDelay:     cfg.Puzzles.ReplyDelayDuration(),
		AttemptTimeout: cfg.Puzzles.AttemptTimeoutDuration(),
	}, logger)
	if history != nil {
		manager.SetHistory(history)
	}

	// Initialize viewer hub and registry
	hub := bridge.NewHub(cfg.Server.SendBufferSize, logger)
	go hub.Run(ctx)

	reg := registry.New(store, matcher, hub, registry.Config{
		QueueSize: cfg.Server.PersistQueue,
	}, logger)
	defer reg.Close()

	if err := reg.Load(ctx, cfg.Settings()); err != nil {
		return fmt.Errorf("failed to load registry: %w", err)
	}

	// Desktop notifications are best effort
	if cfg.Notifications.Desktop {
		notifier, err := notify.New(logger)
		if err != nil {
			logger.Warn().Err(err).Msg("Desktop notifications unavailable")
		} else {
			defer notifier.Close()
			reg.OnExpire(notifier.TimeUp)
			logger.Info().Msg("Desktop notifications enabled")
		}
	}

	service := gate.NewService(reg, manager, hub, logger)

	// Initialize viewer server
	viewerAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.ViewerPort)
	viewerServer := bridge.NewServer(bridge.ServerConfig{
		ListenAddr:     viewerAddr,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, hub, service, service.Status, logger)

	viewerListener := sdListeners.Viewer
	if viewerListener == nil {
		viewerListener, err = net.Listen("tcp", viewerAddr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", viewerAddr, err)
		}
	}

	go func() {
		if err := viewerServer.Serve(viewerListener); err != nil {
			logger.Error().Err(err).Msg("Viewer server error")
		}
	}()

	logger.Info().Str("addr", viewerAddr).Msg("Viewer server started")

	// Initialize Metrics Server
	metricsAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.MetricsPort)
	metricsServer := metrics.NewServer(metricsAddr, logger)

	// Use systemd socket-activated listener if available
	if sdListeners.Activated && sdListeners.Metrics != nil {
		metricsServer.SetListener(sdListeners.Metrics)
	}

	if err := metricsServer.Start(); err != nil {
		return fmt.Errorf("failed to start Metrics Server: %w", err)
	}

	logger.Info().Str("addr", metricsAddr).Msg("Metrics Server started")

	// Settings edited in the config file are applied and persisted
	if err := config.Watch(configPath, func(updated *config.Config, err error) {
		if err != nil {
			logger.Warn().Err(err).Msg("Ignoring invalid configuration change")
			return
		}
		if err := reg.UpdateSettings(updated.Settings()); err != nil {
			logger.Warn().Err(err).Msg("Failed to apply configuration change")
			return
		}
		logger.Info().Msg("Configuration change applied")
	}); err != nil {
		logger.Warn().Err(err).Msg("Not watching configuration file")
	}

	// Settings saved by other processes, such as the CLI
	changes, err := store.Settings().Subscribe(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to subscribe to settings changes")
	} else {
		go func() {
			for range changes {
				if err := reg.Reload(ctx); err != nil {
					logger.Error().Err(err).Msg("Failed to reload settings")
				}
			}
		}()
	}

	if history != nil && cfg.History.RetentionDays > 0 {
		go pruneHistory(ctx, history, cfg.History.RetentionDays, logger)
	}

	if interval := systemd.WatchdogInterval(); interval > 0 {
		go runWatchdog(ctx, interval, logger)
	}

	logger.Info().Msg("PuzzleGate startup complete")

	// Notify systemd that we're ready to serve requests
	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	} else {
		logger.Debug().Msg("Sent systemd ready notification")
	}

	// Wait for signals (shutdown or reload)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	for {
		sig := <-sigChan

		if sig == syscall.SIGHUP {
			logger.Info().Msg("SIGHUP received, reloading settings and policies...")
			_ = systemd.NotifyReloading()

			if err := reg.Reload(ctx); err != nil {
				logger.Error().Err(err).Msg("Failed to reload settings")
			}
			if err := matcher.Reload(); err != nil {
				logger.Error().Err(err).Msg("Failed to reload matching policy")
			}

			_ = systemd.NotifyReady()
			continue
		}

		logger.Info().Msg("Shutdown signal received, gracefully stopping...")
		break
	}

	// Notify systemd that we're stopping
	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := viewerServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Error stopping viewer server")
	}

	if err := metricsServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping Metrics Server")
	}

	// Abandon open attempts so they reach the history before it closes
	manager.AbandonAll(shutdownCtx)
	cancel()

	logger.Info().Msg("PuzzleGate stopped")

	return nil
}

// pruneHistory deletes attempts older than the retention period once a day.
func pruneHistory(ctx context.Context, history storage.AttemptLog, retentionDays int, logger zerolog.Logger) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		cutoff := time.Now().AddDate(0, 0, -retentionDays)
		n, err := history.DeleteAttemptsBefore(ctx, cutoff)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to prune attempt history")
		} else if n > 0 {
			logger.Info().Int("deleted", n).Time("cutoff", cutoff).Msg("Pruned attempt history")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func runWatchdog(ctx context.Context, interval time.Duration, logger zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := systemd.NotifyWatchdog(); err != nil {
				logger.Warn().Err(err).Msg("Failed to send watchdog notification")
			}
		}
	}
}
