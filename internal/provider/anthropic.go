package provider

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	antoption "github.com/anthropics/anthropic-sdk-go/option"
)

// Anthropic calls the Messages API.
type Anthropic struct {
	base
	client anthropic.Client
}

// NewAnthropic builds an Anthropic gateway.
func NewAnthropic(cfg Config, prompts *Prompts, logger *slog.Logger, extra ...antoption.RequestOption) *Anthropic {
	opts := []antoption.RequestOption{
		antoption.WithAPIKey(cfg.APIKey),
		antoption.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, antoption.WithBaseURL(cfg.BaseURL))
	}
	opts = append(opts, extra...)
	return &Anthropic{
		base:   newBase(string(KindAnthropic), cfg, "claude-sonnet-4-5", prompts, logger),
		client: anthropic.NewClient(opts...),
	}
}

// Analyze implements Gateway.
func (p *Anthropic) Analyze(ctx context.Context, in Input, opts Options) (Response, error) {
	return p.analyze(ctx, in, opts, p.call, anthropicStatus)
}

func (p *Anthropic) call(ctx context.Context, req request) (string, string, error) {
	blocks := []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(req.User)}
	if len(req.PNG) > 0 {
		blocks = append(blocks, anthropic.NewImageBlockBase64("image/png", base64.StdEncoding.EncodeToString(req.PNG)))
	}

	message, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(req.MaxTokens),
		System:    []anthropic.TextBlockParam{{Text: req.System}},
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(blocks...)},
	})
	if err != nil {
		return "", "", err
	}

	var text strings.Builder
	for _, block := range message.Content {
		if block.Type != "text" {
			continue
		}
		if text.Len() > 0 {
			text.WriteString("\n")
		}
		text.WriteString(block.Text)
	}
	return text.String(), string(message.Model), nil
}

func anthropicStatus(err error) (int, string, bool) {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode >= http.StatusBadRequest {
		return apiErr.StatusCode, apiErr.Error(), true
	}
	return 0, "", false
}
