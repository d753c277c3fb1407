package provider

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"

	"github.com/openai/openai-go/v3"
	oaioption "github.com/openai/openai-go/v3/option"
)

// OpenAI calls an OpenAI-compatible chat completions endpoint.
type OpenAI struct {
	base
	client openai.Client
}

// NewOpenAI builds an OpenAI gateway. BaseURL may point at any compatible server.
func NewOpenAI(cfg Config, prompts *Prompts, logger *slog.Logger, extra ...oaioption.RequestOption) *OpenAI {
	opts := []oaioption.RequestOption{
		oaioption.WithAPIKey(cfg.APIKey),
		oaioption.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, oaioption.WithBaseURL(cfg.BaseURL))
	}
	opts = append(opts, extra...)
	return &OpenAI{
		base:   newBase(string(KindOpenAI), cfg, "gpt-4o", prompts, logger),
		client: openai.NewClient(opts...),
	}
}

// Analyze implements Gateway.
func (p *OpenAI) Analyze(ctx context.Context, in Input, opts Options) (Response, error) {
	return p.analyze(ctx, in, opts, p.call, openAIStatus)
}

func (p *OpenAI) call(ctx context.Context, req request) (string, string, error) {
	parts := []openai.ChatCompletionContentPartUnionParam{openai.TextContentPart(req.User)}
	if len(req.PNG) > 0 {
		parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
			URL: "data:image/png;base64," + base64.StdEncoding.EncodeToString(req.PNG),
		}))
	}

	completion, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(req.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.System),
			openai.UserMessage(parts),
		},
		MaxCompletionTokens: openai.Int(int64(req.MaxTokens)),
	})
	if err != nil {
		return "", "", err
	}
	if len(completion.Choices) == 0 {
		return "", completion.Model, nil
	}
	return completion.Choices[0].Message.Content, completion.Model, nil
}

func openAIStatus(err error) (int, string, bool) {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode >= http.StatusBadRequest {
		return apiErr.StatusCode, apiErr.Error(), true
	}
	return 0, "", false
}
