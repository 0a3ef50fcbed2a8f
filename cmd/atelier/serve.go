package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/atelierhq/atelier/internal/notify"
	"github.com/atelierhq/atelier/internal/sandbox"
	"github.com/atelierhq/atelier/internal/server"
)

var flagAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the studio HTTP server",
	Long: `Start the HTTP server that backs the studio UI: the chat endpoint,
project file access, run history, and a WebSocket stream of project events.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		if flagAddr != "" {
			cfg.Server.Addr = flagAddr
		}
		log := newLogger(cfg)

		a, err := buildApp(cfg, log)
		if err != nil {
			return err
		}
		defer a.close()

		hub := notify.NewHub(log)
		go hub.Run(a.bus.Events())

		watchers := watchExistingProjects(a, log)
		defer func() {
			for _, w := range watchers {
				w.Close()
			}
		}()

		srv := server.New(server.Deps{
			Config:       cfg,
			Orchestrator: a.orch,
			Registry:     a.registry,
			Client:       a.client,
			DB:           a.db,
			Sandbox:      a.sandbox,
			Bus:          a.bus,
			Hub:          hub,
			Procs:        a.procs,
			Logger:       log,
		})

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return srv.ListenAndServe(ctx)
	},
}

// watchExistingProjects starts a file watcher per project directory so
// external edits show up on the event stream.
func watchExistingProjects(a *app, log zerolog.Logger) []*sandbox.Watcher {
	entries, err := os.ReadDir(a.cfg.Workspace.Root)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Msg("read workspace root")
		}
		return nil
	}

	var watchers []*sandbox.Watcher
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		w, err := a.sandbox.Watch(e.Name(), a.bus, log)
		if err != nil {
			log.Warn().Err(err).Str("project", e.Name()).Msg("start file watcher")
			continue
		}
		watchers = append(watchers, w)
	}
	return watchers
}

func init() {
	serveCmd.Flags().StringVar(&flagAddr, "addr", "", "Listen address (overrides config)")
}
