package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Manage the models of the configured runners",
}

var modelsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List chat models across all runners",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp()
		if err != nil {
			return err
		}
		defer app.Close()

		models, err := app.runner.ListChatModels(cmd.Context())
		if err != nil {
			return err
		}
		for _, model := range models {
			fmt.Println(model)
		}
		return nil
	},
}

var modelsPullCmd = &cobra.Command{
	Use:   "pull [model]",
	Short: "Download a model on the first runner that can serve it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp()
		if err != nil {
			return err
		}
		defer app.Close()

		if !app.runner.PullModel(cmd.Context(), args[0]) {
			return fmt.Errorf("no runner could pull model %q", args[0])
		}
		fmt.Printf("Pulled %s\n", args[0])
		return nil
	},
}

var modelsRemoveCmd = &cobra.Command{
	Use:   "remove [model]",
	Short: "Remove a model from every runner that has it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp()
		if err != nil {
			return err
		}
		defer app.Close()

		if !app.runner.RemoveModel(cmd.Context(), args[0]) {
			return fmt.Errorf("no runner had model %q", args[0])
		}
		fmt.Printf("Removed %s\n", args[0])
		return nil
	},
}

func init() {
	modelsCmd.AddCommand(modelsListCmd)
	modelsCmd.AddCommand(modelsPullCmd)
	modelsCmd.AddCommand(modelsRemoveCmd)
}
