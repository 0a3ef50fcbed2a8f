package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/atelierhq/atelier/internal/sandbox"
	"github.com/atelierhq/atelier/pkg/models"
)

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "List and create projects",
	RunE: func(cmd *cobra.Command, args []string) error {
		return listProjects()
	},
}

var projectsCreateCmd = &cobra.Command{
	Use:   "create [id]",
	Short: "Create a project directory",
	Long: `Create a project directory under the workspace root. Without an
argument a random ID is generated.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		id := uuid.NewString()
		if len(args) == 1 {
			id = args[0]
		}
		if err := models.ValidateProjectID(id); err != nil {
			return err
		}
		box := sandbox.New(cfg.Workspace.Root)
		if _, err := box.ProjectDir(id); err != nil {
			return err
		}
		fmt.Printf("%s %s\n", color.GreenString("created"), id)
		return nil
	},
}

func listProjects() error {
	cfg := loadConfig()
	entries, err := os.ReadDir(cfg.Workspace.Root)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Println("no projects yet")
			return nil
		}
		return err
	}
	count := 0
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		fmt.Println(e.Name())
		count++
	}
	if count == 0 {
		fmt.Println("no projects yet")
	}
	return nil
}

func init() {
	projectsCmd.AddCommand(projectsCreateCmd)
}
