package runner

import (
	"context"

	"github.com/liliang-cn/ragroom/pkg/domain"
)

// Debug serves canned responses without any backend, for wiring tests and
// demos.
type Debug struct{}

func NewDebug() *Debug {
	return &Debug{}
}

const debugOutput = `
<h1>Lorem Ipsum</h1>
<p>Lorem ipsum dolor sit amet, consectetur adipiscing elit, sed do eiusmod tempor incididunt ut labore et dolore magna aliqua. Ut enim ad minim veniam, quis nostrud exercitation ullamco laboris nisi ut aliquip ex ea commodo consequat. </p>
<h2>Lorem Ipsum</h2>
<p>Lorem ipsum dolor sit amet, consectetur adipiscing elit, sed do eiusmod tempor incididunt ut labore et dolore magna aliqua. Ut enim ad minim veniam, quis nostrud exercitation ullamco laboris nisi ut aliquip ex ea commodo consequat. Duis aute irure dolor in reprehenderit in voluptate velit esse cillum dolore eu fugiat nulla pariatur. </p>
<ul>
<li>Lorem Ipsum</li>
<li>Lorem Ipsum</li>
<li>Lorem Ipsum</li>
<li>Lorem Ipsum</li>
</ul>
`

func (d *Debug) ListChatModels(context.Context) ([]string, error) {
	return []string{"debug_lorem_ipsum", "debug_code", "debug_markdown"}, nil
}

func (d *Debug) IsModelInstalled(ctx context.Context, model string) bool {
	models, _ := d.ListChatModels(ctx)
	return containsString(models, model)
}

func (d *Debug) PullModel(context.Context, string) bool   { return false }
func (d *Debug) RemoveModel(context.Context, string) bool { return false }

func (d *Debug) SupportsThinking(ctx context.Context, model string) bool {
	return d.IsModelInstalled(ctx, model)
}

func (d *Debug) RunTextCompletionStreaming(_ context.Context, _ string, _ []domain.Message, _ StreamRequest) (string, bool, error) {
	return debugOutput, false, nil
}

func (d *Debug) RunTextCompletion(context.Context, string, []domain.Message, map[string]any) (string, error) {
	return debugOutput, nil
}

func (d *Debug) Embedding(context.Context, domain.EmbeddingConfig) domain.Embedder {
	return nil
}
