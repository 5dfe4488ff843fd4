package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status [kb-name...]",
	Short: "Show which selected documents each knowledge base already holds",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp()
		if err != nil {
			return err
		}
		defer app.Close()

		names := args
		if len(names) == 0 {
			for _, knowledge := range app.kbStores.List() {
				names = append(names, knowledge.FullName())
			}
		}

		report := make(map[string]any, len(names))
		for _, name := range names {
			status, err := app.ingester.KBStatusFor(cmd.Context(), name)
			if err != nil {
				return err
			}
			report[name] = status
		}
		encoded, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(encoded))
		return nil
	},
}
