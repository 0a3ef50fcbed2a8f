package main

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/atelierhq/atelier/internal/orchestrator"
	"github.com/atelierhq/atelier/internal/tui"
	"github.com/atelierhq/atelier/pkg/models"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Open an interactive chat session",
	Long: `Open a terminal chat session against the selected project. Each
submitted prompt runs one orchestration; function calls and results
stream into the transcript as they happen.`,
	RunE: runChat,
}

func runChat(cmd *cobra.Command, args []string) error {
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

	app := tui.NewChatApp(flagProject)
	program := tea.NewProgram(app, tea.WithAltScreen())

	a.orch.SetStreamHandler(func(ev orchestrator.StreamEvent) {
		program.Send(tui.StreamMsg{Event: ev})
	})

	app.SetSubmitHandler(func(prompt string) {
		go func() {
			seed := []models.Message{
				models.NewSystemMessage(orchestrator.SystemPrompt(a.registry.Names())),
			}
			replay, err := a.db.LastN(flagProject, cfg.Orchestrator.HistoryReplay)
			if err == nil {
				seed = append(seed, replay...)
			}
			userMsg := models.NewUserMessage(prompt)
			seed = append(seed, userMsg)

			result, runErr := a.orch.Run(context.Background(), seed, flagProject)
			msg := tui.RunFinishedMsg{Err: runErr}
			if result != nil {
				persist := append([]models.Message{userMsg}, result.Messages[len(seed):]...)
				if err := a.db.AppendMessages(flagProject, persist); err != nil {
					log.Error().Err(err).Msg("persist chat messages")
				}
				msg.Reply = models.LastAssistant(result.Messages)
				msg.StopReason = string(result.Reason)
				msg.Iterations = result.Iterations
			}
			program.Send(msg)
		}()
	})

	if _, err := program.Run(); err != nil {
		return fmt.Errorf("chat session failed: %w", err)
	}
	return nil
}
