package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/liliang-cn/ragroom/pkg/config"
	"github.com/liliang-cn/ragroom/pkg/domain"
)

var kbCmd = &cobra.Command{
	Use:   "kb",
	Short: "Manage knowledge bases",
}

var kbListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every knowledge base across all stores",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp()
		if err != nil {
			return err
		}
		defer app.Close()

		for _, knowledge := range app.kbStores.List() {
			fmt.Printf("%s\n", knowledge.FullName())
			fmt.Printf("  selection:  %s\n", strings.Join(knowledge.Selection(), ", "))
			var conversions []string
			for _, c := range knowledge.Convertors() {
				name := c.Conversion
				if c.Model != "" {
					name += ":" + c.Model
				}
				conversions = append(conversions, name)
			}
			fmt.Printf("  convertors: %s\n", strings.Join(conversions, ", "))
			fmt.Printf("  embedding:  %s\n", knowledge.Embedding().Model)
		}
		return nil
	},
}

var kbShowCmd = &cobra.Command{
	Use:   "show [name]",
	Short: "Print one knowledge base definition as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp()
		if err != nil {
			return err
		}
		defer app.Close()

		knowledge := app.kbStores.Get(args[0])
		if knowledge == nil {
			return fmt.Errorf("%w: unknown knowledge base %q", domain.ErrInvalidInput, args[0])
		}
		encoded, err := json.MarshalIndent(knowledge.Config(), "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(encoded))
		return nil
	},
}

var kbUpsertFile string

var kbUpsertCmd = &cobra.Command{
	Use:   "upsert",
	Short: "Create or update a knowledge base from a JSON definition",
	Long: `Reads a knowledge base definition from --file and stores it. The
definition's full_name routes it to a specific store ("store/name");
without one the first configured store is used. Narrowing the selection,
renaming, or changing convertors or the embedding model clears the
stored vectors so the next ingest rebuilds them.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(kbUpsertFile)
		if err != nil {
			return err
		}
		var definition config.KnowledgeBaseConfig
		if err := json.Unmarshal(data, &definition); err != nil {
			return fmt.Errorf("%w: bad knowledge base definition: %v", domain.ErrInvalidInput, err)
		}

		app, err := buildApp()
		if err != nil {
			return err
		}
		defer app.Close()

		if !app.kbStores.Upsert(definition) {
			return fmt.Errorf("%w: could not store knowledge base %q", domain.ErrInvalidInput, definition.Name)
		}
		fmt.Printf("Stored knowledge base %s\n", definition.Name)
		return nil
	},
}

var kbDeleteCmd = &cobra.Command{
	Use:   "delete [store/name]",
	Short: "Delete a knowledge base and its stored vectors",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp()
		if err != nil {
			return err
		}
		defer app.Close()

		if !app.kbStores.Delete(args[0]) {
			return fmt.Errorf("%w: could not delete %q, use the store-qualified name", domain.ErrInvalidInput, args[0])
		}
		fmt.Printf("Deleted knowledge base %s\n", args[0])
		return nil
	},
}

func init() {
	kbUpsertCmd.Flags().StringVarP(&kbUpsertFile, "file", "f", "", "JSON file holding the knowledge base definition")
	_ = kbUpsertCmd.MarkFlagRequired("file")

	kbCmd.AddCommand(kbListCmd)
	kbCmd.AddCommand(kbShowCmd)
	kbCmd.AddCommand(kbUpsertCmd)
	kbCmd.AddCommand(kbDeleteCmd)
}
