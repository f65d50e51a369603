package main

import (
	"context"
	"fmt"

	"github.com/driveshadow/driveshadow/internal/bootstrap"
	"github.com/driveshadow/driveshadow/internal/config"
	"github.com/driveshadow/driveshadow/internal/gate"
	"github.com/driveshadow/driveshadow/internal/graph"
	"github.com/driveshadow/driveshadow/internal/reconcile"
	"github.com/driveshadow/driveshadow/internal/storage/sqlite"
	"github.com/driveshadow/driveshadow/internal/subscription"
)

// app holds the wired component graph shared by the subcommands.
type app struct {
	cfg    *config.Config
	store  *sqlite.Store
	client *graph.Client
	gate   *gate.Gate
	subs   *subscription.Manager
	engine *reconcile.Engine
	boot   *bootstrap.Runner
}

// newApp loads configuration and wires the components.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	store, err := sqlite.New(ctx, cfg.StoreDSN)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	var opts []graph.Option
	if cfg.GraphBaseURL != "" {
		opts = append(opts, graph.WithBaseURL(cfg.GraphBaseURL))
	}
	client := graph.NewClient(opts...)

	g := gate.New(client, cfg.DeltaEnabled)

	subs := subscription.NewManager(subscription.Config{
		Store:       store,
		API:         client,
		Bearer:      cfg.Bearer,
		NotifyURL:   cfg.NotifyURL,
		SecretFloor: cfg.SharedSecretFloor,
	})

	engine := reconcile.NewEngine(store, client, cfg.Bearer)

	boot := &bootstrap.Runner{
		Gate:   g,
		Drives: client,
		Subs:   subs,
		Engine: engine,
		Bearer: cfg.Bearer,
	}

	return &app{
		cfg:    cfg,
		store:  store,
		client: client,
		gate:   g,
		subs:   subs,
		engine: engine,
		boot:   boot,
	}, nil
}

func (a *app) close() {
	_ = a.store.Close()
}
