package main

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/liliang-cn/ragroom/pkg/chat"
	"github.com/liliang-cn/ragroom/pkg/domain"
	"github.com/liliang-cn/ragroom/pkg/guard"
	"github.com/liliang-cn/ragroom/pkg/kb"
	"github.com/liliang-cn/ragroom/pkg/log"
)

var (
	chatModel  string
	chatKBName string
	chatRoomID string
	chatSystem string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive chat, optionally grounded in a knowledge base",
	Long: `Starts an interactive chat session. With --kb, every turn retrieves
and reranks matching chunks from the knowledge base and injects them as
context. Ctrl-C stops the current generation; /quit ends the session.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp()
		if err != nil {
			return err
		}
		defer app.Close()
		ctx := cmd.Context()

		model := chatModel
		if model == "" {
			models, err := app.runner.ListChatModels(ctx)
			if err != nil || len(models) == 0 {
				return fmt.Errorf("%w: no chat model available, use --model", domain.ErrModelNotFound)
			}
			model = models[0]
		}

		var knowledge *kb.KnowledgeBase
		if chatKBName != "" {
			knowledge = app.kbStores.Get(chatKBName)
			if knowledge == nil {
				return fmt.Errorf("%w: unknown knowledge base %q", domain.ErrInvalidInput, chatKBName)
			}
		}
		systemPrompt := chatSystem
		if systemPrompt == "" {
			systemPrompt = app.cfg.DefaultSystemPrompt
		}

		orch := chat.NewOrchestrator(app.runner)
		state := chat.NewRegistry().Get(chatRoomID)
		chatCtx := chat.Context{Model: model, SystemPrompt: systemPrompt, KB: knowledge}

		fmt.Printf("Chatting with %s", model)
		if knowledge != nil {
			fmt.Printf(", grounded in %s", knowledge.FullName())
		}
		fmt.Println(". Type /quit to exit.")

		var history []domain.RoomMessage
		scanner := bufio.NewScanner(os.Stdin)
		for {
			fmt.Print("> ")
			if !scanner.Scan() {
				break
			}
			input := strings.TrimSpace(scanner.Text())
			if input == "" {
				continue
			}
			if input == "/quit" || input == "/exit" {
				break
			}

			result, err := runTurn(cmd, orch, chatCtx, state, chat.Turn{
				UserInput: input,
				History:   history,
				Guard:     guard.FromConfig(app.cfg.Guard),
				Settings:  app.cfg.RAG,
			})
			if err != nil {
				fmt.Printf("Error: %v\n", err)
				continue
			}

			fmt.Println(result.AssistantText)
			if result.Failed {
				fmt.Println("(generation was stopped or failed, this turn is excluded from the history)")
			}

			if len(history) == 0 {
				history = append(history, domain.RoomMessage{Role: "system", Content: result.SystemText})
			}
			history = append(history,
				domain.RoomMessage{Role: "user", Content: input, RAGSources: result.RAGSources, Failed: result.Failed},
				domain.RoomMessage{Role: "assistant", Content: result.AssistantText, RAGSources: result.RAGSources, Failed: result.Failed},
			)
		}
		return scanner.Err()
	},
}

// runTurn executes one generation while a second goroutine turns Ctrl-C into
// a room stop, so an interrupt ends the stream instead of the session.
func runTurn(cmd *cobra.Command, orch *chat.Orchestrator, chatCtx chat.Context, state *chat.RoomState, turn chat.Turn) (*chat.Result, error) {
	state.Start()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	defer signal.Stop(interrupt)
	done := make(chan struct{})

	var result *chat.Result
	g, ctx := errgroup.WithContext(cmd.Context())
	g.Go(func() error {
		defer close(done)
		var err error
		result, err = orch.Chat(ctx, chatCtx, state, turn)
		return err
	})
	g.Go(func() error {
		select {
		case <-interrupt:
			log.Infof("stopping generation in room %s", state.RoomID())
			state.Stop()
		case <-done:
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

func init() {
	chatCmd.Flags().StringVarP(&chatModel, "model", "m", "", "chat model (default: first available)")
	chatCmd.Flags().StringVar(&chatKBName, "kb", "", "knowledge base to ground answers in")
	chatCmd.Flags().StringVar(&chatRoomID, "room", "cli", "room identifier used in logs")
	chatCmd.Flags().StringVar(&chatSystem, "system", "", "system prompt override")
}
