package main

import (
	"context"
	"fmt"

	"github.com/goodtune/puzzlegate/internal/config"
	"github.com/goodtune/puzzlegate/internal/match"
	"github.com/goodtune/puzzlegate/internal/registry"
	"github.com/goodtune/puzzlegate/internal/storage/redis"
)

// session is what the one-shot commands share: the configuration and a
// registry loaded from the store.
type session struct {
	cfg     *config.Config
	matcher *match.Engine
	reg     *registry.Registry
	close   func()
}

// openSession loads configuration and the stored settings. Settings missing
// from the store are seeded from the configuration file. Changes made through
// the registry are flushed by close.
func openSession(ctx context.Context) (*session, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := quietLogger()

	store, err := redis.Open(cfg.Storage.Redis)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	matcher, err := match.NewEngine(cfg.Matching.PolicyDir, logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to initialize destination matcher: %w", err)
	}

	reg := registry.New(store, matcher, nil, registry.Config{}, logger)
	if err := reg.Load(ctx, cfg.Settings()); err != nil {
		reg.Close()
		store.Close()
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	return &session{
		cfg:     cfg,
		matcher: matcher,
		reg:     reg,
		close: func() {
			reg.Close()
			store.Close()
		},
	}, nil
}
