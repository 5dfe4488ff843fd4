package main

import (
	"github.com/spf13/cobra"

	"github.com/liliang-cn/ragroom/pkg/log"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "ragroom",
	Short: "Local RAG chat over your own documents",
	Long: `ragroom converts local documents into searchable knowledge bases and
answers questions about them through local or remote language models.
Documents are read from configured sources, converted page by page,
chunked, embedded and stored in a vector backend; chat turns retrieve
and rerank matching chunks before generation.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		log.SetDebug(verbose)
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "configuration file path (default: ./ragroom.toml or $RAGROOM_HOME/ragroom.toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging output")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(kbCmd)
	rootCmd.AddCommand(modelsCmd)
	rootCmd.AddCommand(statusCmd)
}
