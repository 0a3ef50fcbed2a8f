package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/atelierhq/atelier/internal/orchestrator"
	"github.com/atelierhq/atelier/pkg/models"
)

var runNoHistory bool

var runCmd = &cobra.Command{
	Use:   "run <prompt>",
	Short: "Run a single orchestration and print the result",
	Long: `Run one orchestration against the selected project and print the
model's progress to the terminal.

Prior conversation from the project's history seeds the run unless
--no-history is given. Messages produced by the run are persisted so a
later chat or run picks up where this one left off.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		prompt := strings.TrimSpace(strings.Join(args, " "))
		if prompt == "" {
			return fmt.Errorf("prompt must not be empty")
		}

		cfg := loadConfig()
		log := newLogger(cfg)

		a, err := buildApp(cfg, log)
		if err != nil {
			return err
		}
		defer a.close()

		if err := models.ValidateProjectID(flagProject); err != nil {
			return err
		}
		if _, err := a.sandbox.ProjectDir(flagProject); err != nil {
			return err
		}

		a.orch.SetStreamHandler(printStreamEvent)

		seed := []models.Message{
			models.NewSystemMessage(orchestrator.SystemPrompt(a.registry.Names())),
		}
		if !runNoHistory {
			replay, err := a.db.LastN(flagProject, cfg.Orchestrator.HistoryReplay)
			if err != nil {
				return err
			}
			seed = append(seed, replay...)
		}
		userMsg := models.NewUserMessage(prompt)
		seed = append(seed, userMsg)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		result, runErr := a.orch.Run(ctx, seed, flagProject)
		if result != nil && !runNoHistory {
			persist := append([]models.Message{userMsg}, result.Messages[len(seed):]...)
			if err := a.db.AppendMessages(flagProject, persist); err != nil {
				log.Error().Err(err).Msg("persist run messages")
			}
		}
		if runErr != nil {
			return runErr
		}

		in, out := a.client.Tracker().Total()
		fmt.Printf("\n%s %d iteration(s), %d call(s), %d in / %d out tokens ($%.4f)\n",
			color.GreenString("done:"), result.Iterations, result.Calls, in, out,
			a.client.Tracker().Cost())
		return nil
	},
}

// printStreamEvent renders one orchestration event to the terminal.
func printStreamEvent(ev orchestrator.StreamEvent) {
	switch ev.Type {
	case "assistant":
		fmt.Println(ev.Content)
	case "function_call":
		fmt.Printf("  %s %s\n", color.YellowString("→"), ev.Name)
	case "function_result":
		if ev.IsError {
			fmt.Printf("  %s %s: %s\n", color.RedString("✗"), ev.Name, ev.Content)
			return
		}
		fmt.Printf("  %s %s\n", color.GreenString("✓"), ev.Name)
	case "system":
		fmt.Printf("  %s\n", color.New(color.Faint).Sprint(ev.Content))
	case "error":
		fmt.Printf("%s %s\n", color.RedString("error:"), ev.Content)
	}
}

func init() {
	runCmd.Flags().BoolVar(&runNoHistory, "no-history", false, "Do not seed from or persist to project history")
}
