package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/liliang-cn/ragroom/pkg/ingest"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Convert and index every selected document",
	Long: `Walks every knowledge base's document selection, converts new or
changed documents with the configured convertors and stores the embedded
chunks. Documents already fully stored are skipped. Ctrl-C cancels the
run at the next checkpoint.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp()
		if err != nil {
			return err
		}
		defer app.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		app.ingester.Start(ctx)

		done := make(chan struct{})
		go func() {
			app.ingester.Wait()
			close(done)
		}()

		last := ingest.Status{}
		ticker := time.NewTicker(200 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				status := app.ingester.Status()
				if status != last {
					printIngestProgress(status)
					last = status
				}
			case <-done:
				final := app.ingester.Status()
				switch {
				case final.Status == "cancelled":
					fmt.Println("Ingestion cancelled.")
				case final.Error:
					return fmt.Errorf("ingestion finished with errors")
				default:
					fmt.Println("Ingestion complete.")
				}
				return nil
			}
		}
	},
}

func printIngestProgress(s ingest.Status) {
	switch s.Status {
	case "processing":
		line := fmt.Sprintf("[%d/%d] %s", s.KBNum, s.KBTotal, s.KBName)
		if s.DocPath != "" {
			line += fmt.Sprintf(": (%d/%d) %s", s.DocNum, s.DocTotal, s.DocPath)
		}
		if s.Convertor != "" {
			line += " [" + s.Convertor + "]"
		}
		fmt.Println(line)
	case "started":
		fmt.Println("Ingestion started.")
	}
}
