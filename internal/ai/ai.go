// Package ai answers "/ai" queries posted into a conversation.
package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/ammar1510/chatline/internal/logger"
)

// Preprompt is sent as the system prompt with every query.
const Preprompt = "Reply to the point. The answer should be concise and informative, not exceeding 100-150 words."

const maxTokens = 512

var (
	ErrNoAPIKey     = errors.New("ANTHROPIC_API_KEY not set")
	ErrNoGenerators = errors.New("no AI generators configured")

	log = logger.New("ai")
)

// Generator turns a query into reply text.
type Generator interface {
	Generate(ctx context.Context, query string) (string, error)
}

// AnthropicMessager defines the subset of the Anthropic client we use.
type AnthropicMessager interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// AnthropicClientCreator builds the messages client for an API key.
type AnthropicClientCreator func(apiKey string) AnthropicMessager

func defaultAnthropicCreator(apiKey string) AnthropicMessager {
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &client.Messages
}

// newAnthropicClient is the package-level creator, overridable in tests.
var newAnthropicClient AnthropicClientCreator = defaultAnthropicCreator

// AnthropicGenerator answers queries with one Claude model.
type AnthropicGenerator struct {
	messages AnthropicMessager
	model    string
}

// NewAnthropicGenerator returns a generator for model.
func NewAnthropicGenerator(apiKey, model string) (*AnthropicGenerator, error) {
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}
	return &AnthropicGenerator{messages: newAnthropicClient(apiKey), model: model}, nil
}

func (g *AnthropicGenerator) Model() string {
	return g.model
}

func (g *AnthropicGenerator) Generate(ctx context.Context, query string) (string, error) {
	resp, err := g.messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(g.model),
		MaxTokens: maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: Preprompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(query)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", g.model, err)
	}

	var parts []string
	for _, block := range resp.Content {
		if block.Type == "text" {
			parts = append(parts, block.Text)
		}
	}
	return strings.TrimSpace(strings.Join(parts, "")), nil
}

// Fallback tries each generator in order and returns the first reply
// that did not fail.
type Fallback struct {
	generators []Generator
}

func NewFallback(generators ...Generator) *Fallback {
	return &Fallback{generators: generators}
}

// NewAnthropicFallback builds one generator per model, in order.
func NewAnthropicFallback(apiKey string, models []string) (*Fallback, error) {
	gens := make([]Generator, 0, len(models))
	for _, m := range models {
		g, err := NewAnthropicGenerator(apiKey, m)
		if err != nil {
			return nil, err
		}
		gens = append(gens, g)
	}
	if len(gens) == 0 {
		return nil, ErrNoGenerators
	}
	return NewFallback(gens...), nil
}

func (f *Fallback) Generate(ctx context.Context, query string) (string, error) {
	if len(f.generators) == 0 {
		return "", ErrNoGenerators
	}

	var errs []error
	for i, g := range f.generators {
		reply, err := g.Generate(ctx, query)
		if err == nil {
			if i > 0 {
				log.Info("AI reply served by fallback generator %d", i)
			}
			return reply, nil
		}
		log.Warn("AI generator %d failed: %v", i, err)
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	return "", fmt.Errorf("all AI generators failed: %w", errors.Join(errs...))
}

// Disabled is used when no API key is configured.
type Disabled struct{}

func (Disabled) Generate(context.Context, string) (string, error) {
	return "", ErrNoAPIKey
}
