package main

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/atelierhq/atelier/internal/config"
	"github.com/atelierhq/atelier/internal/history"
	"github.com/atelierhq/atelier/internal/llm"
	"github.com/atelierhq/atelier/internal/notify"
	"github.com/atelierhq/atelier/internal/ops"
	"github.com/atelierhq/atelier/internal/orchestrator"
	"github.com/atelierhq/atelier/internal/procs"
	"github.com/atelierhq/atelier/internal/sandbox"
)

// app bundles the wired collaborators shared by the serve, run, and chat
// commands.
type app struct {
	cfg      *config.Config
	log      zerolog.Logger
	client   *llm.Client
	sandbox  *sandbox.Sandbox
	db       *history.DB
	bus      *notify.Bus
	procs    *procs.Manager
	registry *ops.Registry
	orch     *orchestrator.Orchestrator
}

// buildApp constructs all collaborators from config.
func buildApp(cfg *config.Config, log zerolog.Logger) (*app, error) {
	client, err := llm.NewClient(llm.ClientConfig{
		Model:         cfg.Anthropic.Model,
		APIKey:        cfg.Anthropic.APIKey,
		MaxTokens:     cfg.Anthropic.MaxTokens,
		UseAWSBedrock: cfg.Anthropic.UseAWSBedrock,
		AWSRegion:     cfg.Anthropic.AWSRegion,
		AWSProfile:    cfg.Anthropic.AWSProfile,
	})
	if err != nil {
		return nil, fmt.Errorf("create llm client: %w", err)
	}

	box := sandbox.New(cfg.Workspace.Root)

	db, err := history.Open(history.DefaultPath(cfg.Workspace.Root))
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate history db: %w", err)
	}

	bus := notify.NewBus(256, log)
	procManager := procs.NewManager(log)

	registry := ops.New(ops.Deps{
		Sandbox:     box,
		Procs:       procManager,
		Broadcaster: bus,
		Logger:      log,
	})

	orch := orchestrator.New(orchestrator.Config{
		Completer:     client,
		Registry:      registry,
		Broadcaster:   bus,
		MaxIterations: cfg.Orchestrator.MaxIterations,
		MaxFailures:   cfg.Orchestrator.MaxFailures,
		Logger:        log,
	})

	return &app{
		cfg:      cfg,
		log:      log,
		client:   client,
		sandbox:  box,
		db:       db,
		bus:      bus,
		procs:    procManager,
		registry: registry,
		orch:     orch,
	}, nil
}

// close releases app resources.
func (a *app) close() {
	a.procs.StopAll()
	a.bus.Close()
	a.db.Close()
}
