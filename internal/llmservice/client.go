package llmservice

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"policyrag/internal/config"
)

var ErrNoChoices = errors.New("llm returned no choices")

// Client generates answers through an OpenAI compatible chat endpoint.
type Client struct {
	llm   llms.Model
	model string
}

func New(cfg config.LLMConfig) (*Client, error) {
	opts := []openai.Option{
		openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
		openai.WithModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, err
	}
	return &Client{llm: llm, model: cfg.Model}, nil
}

func (c *Client) GenerateContent(ctx context.Context, messages []llms.MessageContent) (*llms.ContentResponse, error) {
	log.Debug().Str("model", c.model).Int("messages", len(messages)).Msg("Generating content")
	return c.llm.GenerateContent(ctx, messages)
}

// Generate returns the text of the first choice for a system + user prompt.
func (c *Client) Generate(ctx context.Context, system, prompt string) (string, error) {
	resp, err := c.GenerateContent(ctx, Messages(system, prompt))
	if err != nil {
		return "", err
	}
	return firstChoice(resp)
}

func Messages(system, prompt string) []llms.MessageContent {
	var msgs []llms.MessageContent
	if system != "" {
		msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeSystem, system))
	}
	return append(msgs, llms.TextParts(llms.ChatMessageTypeHuman, prompt))
}

func firstChoice(resp *llms.ContentResponse) (string, error) {
	if resp == nil || len(resp.Choices) == 0 {
		return "", ErrNoChoices
	}
	return resp.Choices[0].Content, nil
}
