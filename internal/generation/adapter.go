// Package generation turns a prompt into text using an OpenAI-compatible
// inference endpoint, falling back to a local template when the endpoint
// cannot be used.
package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sashabaranov/go-openai"
)

const (
	SourceInference = "inference"
	SourceFallback  = "fallback"

	defaultTone     = "professional"
	defaultMinWords = 500
	defaultMaxWords = 1000
	defaultTool     = "general"
)

type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Timeout     time.Duration
	MaxTokens   int
	Temperature float32
}

type Request struct {
	Prompt         string
	NegativePrompt string
	MinWords       int
	MaxWords       int
	Tone           string
	Tool           string
}

type Result struct {
	Text   string
	Source string
}

// Adapter never fails: any problem with the endpoint yields fallback text.
type Adapter struct {
	client *openai.Client
	cfg    Config
}

func NewAdapter(cfg Config) *Adapter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 1024
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.7
	}

	adapter := &Adapter{cfg: cfg}
	if strings.TrimSpace(cfg.APIKey) != "" {
		clientConfig := openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			clientConfig.BaseURL = cfg.BaseURL
		}
		adapter.client = openai.NewClientWithConfig(clientConfig)
	}
	return adapter
}

// Configured reports whether an inference credential is present.
func (a *Adapter) Configured() bool {
	return a.client != nil
}

func (a *Adapter) Generate(ctx context.Context, req Request) Result {
	req = withDefaults(req)
	if a.client == nil {
		return Result{Text: Fallback(req), Source: SourceFallback}
	}

	text, err := a.complete(ctx, req)
	if err != nil {
		log.Warn().Err(err).Str("model", a.cfg.Model).Msg("inference unavailable, using fallback")
		return Result{Text: Fallback(req), Source: SourceFallback}
	}
	return Result{Text: text, Source: SourceInference}
}

func (a *Adapter) complete(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: Instruction(req)},
		},
		MaxTokens:   a.cfg.MaxTokens,
		Temperature: a.cfg.Temperature,
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("chat completion status %d: %w", apiErr.HTTPStatusCode, err)
		}
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", errors.New("chat completion returned empty content")
	}
	return text, nil
}

func withDefaults(req Request) Request {
	if strings.TrimSpace(req.Tone) == "" {
		req.Tone = defaultTone
	}
	if req.MinWords <= 0 {
		req.MinWords = defaultMinWords
	}
	if req.MaxWords <= 0 {
		req.MaxWords = defaultMaxWords
	}
	if strings.TrimSpace(req.Tool) == "" {
		req.Tool = defaultTool
	}
	return req
}

// Instruction builds the single prompt sent to the model.
func Instruction(req Request) string {
	req = withDefaults(req)

	var b strings.Builder
	b.WriteString("Generate a Halal and Islamic-appropriate response for the following request.\n")
	fmt.Fprintf(&b, "Use a %s tone.\n", req.Tone)
	fmt.Fprintf(&b, "Target length: between %d and %d words.\n", req.MinWords, req.MaxWords)
	if strings.TrimSpace(req.NegativePrompt) != "" {
		fmt.Fprintf(&b, "Avoid the following aspects: %s\n", req.NegativePrompt)
	}
	fmt.Fprintf(&b, "Tool context: %s content generation.\n\n", req.Tool)
	b.WriteString("If the request is haram under Islamic rules, politely explain that it is haram and why, with references, ")
	b.WriteString("then suggest a halal version of the request and related halal alternatives. ")
	b.WriteString("If the request is halal, simply generate the content.\n\n")
	fmt.Fprintf(&b, "User request: %s", req.Prompt)
	return b.String()
}
