package artifact

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/memogarden/memogarden/internal/verrs"
)

// Summarizer produces fold content from a transcript when the caller does
// not supply summary_content directly. Optional: `fold` accepts an
// explicit summary, so a nil Summarizer simply means callers must always
// pass one.
type Summarizer interface {
	Summarize(ctx context.Context, transcript []string) (string, error)
}

// AnthropicSummarizer calls the configured model to produce a fold
// summary, grounded in the teacher's compaction tier which summarises
// issue history via a configured model key.
type AnthropicSummarizer struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewAnthropicSummarizer builds a summarizer from an API key and model
// name (e.g. "claude-3-5-haiku-20241022"). Returns nil, nil if apiKey is
// empty — folding then requires an explicit summary_content.
func NewAnthropicSummarizer(apiKey, model string) (*AnthropicSummarizer, error) {
	if apiKey == "" {
		return nil, nil
	}
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	if model == "" {
		model = "claude-3-5-haiku-20241022"
	}
	return &AnthropicSummarizer{client: client, model: anthropic.Model(model)}, nil
}

func (a *AnthropicSummarizer) Summarize(ctx context.Context, transcript []string) (string, error) {
	if a == nil {
		return "", verrs.New(verrs.ValidationError, "no summarizer configured; pass summary_content explicitly", nil)
	}
	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: 512,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(fmt.Sprintf(
				"Summarize the following conversation fragment into a short, neutral note:\n\n%s",
				strings.Join(transcript, "\n")))),
		},
	})
	if err != nil {
		return "", verrs.Wrap(verrs.InternalError, "summarizing fold content", err)
	}
	if len(msg.Content) == 0 {
		return "", verrs.New(verrs.InternalError, "summarizer returned no content blocks", nil)
	}
	block := msg.Content[0]
	if block.Type != "text" {
		return "", verrs.New(verrs.InternalError, fmt.Sprintf("unexpected summarizer response block type %q", block.Type), nil)
	}
	return block.Text, nil
}
