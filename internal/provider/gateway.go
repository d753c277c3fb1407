// Package provider sends captures and symbols to a remote analysis model and
// returns its raw text. It never interprets the content.
package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/chartpilot/analysis-engine/internal/capture"
	"github.com/chartpilot/analysis-engine/internal/metrics"
)

// Input is either a capture or a symbol query. Symbol and Timeframe label a capture too.
type Input struct {
	Artifact  *capture.Artifact
	Symbol    string
	Timeframe string
}

// HasImage reports whether the input carries a capture.
func (in Input) HasImage() bool {
	return in.Artifact != nil && !in.Artifact.Empty()
}

// Options tune one call. Zero values use the gateway's configuration.
type Options struct {
	Timeout   time.Duration
	MaxTokens int
	Model     string
}

// Response is the provider's raw reply.
type Response struct {
	Text     string
	Format   Format
	Model    string
	Provider string
}

// Gateway is a remote analysis provider.
type Gateway interface {
	Analyze(ctx context.Context, in Input, opts Options) (Response, error)
}

// Kind selects an implementation.
type Kind string

const (
	KindOpenAI    Kind = "openai"
	KindAnthropic Kind = "anthropic"
	KindGemini    Kind = "gemini"
)

// Config describes the provider connection.
type Config struct {
	Kind        Kind          `yaml:"kind" env:"KIND"`
	BaseURL     string        `yaml:"base_url" env:"BASE_URL"`
	APIKey      string        `yaml:"api_key" env:"API_KEY"`
	Model       string        `yaml:"model" env:"MODEL"`
	Timeout     time.Duration `yaml:"timeout" env:"TIMEOUT"`
	MaxTokens   int           `yaml:"max_tokens" env:"MAX_TOKENS"`
	PromptsPath string        `yaml:"prompts_path" env:"PROMPTS_PATH"`
}

// New builds the configured gateway.
func New(cfg Config, logger *slog.Logger) (Gateway, error) {
	prompts, err := LoadPrompts(cfg.PromptsPath)
	if err != nil {
		return nil, err
	}
	switch Kind(strings.ToLower(string(cfg.Kind))) {
	case KindOpenAI, "":
		return NewOpenAI(cfg, prompts, logger), nil
	case KindAnthropic:
		return NewAnthropic(cfg, prompts, logger), nil
	case KindGemini:
		return NewGemini(cfg, prompts, logger), nil
	default:
		return nil, fmt.Errorf("unknown provider kind %q", cfg.Kind)
	}
}

// request is the provider-neutral call built from an Input.
type request struct {
	System    string
	User      string
	PNG       []byte
	Model     string
	MaxTokens int
}

// callFunc performs one provider round trip and returns text and model name.
type callFunc func(ctx context.Context, req request) (string, string, error)

// statusFunc extracts the HTTP status and body from an SDK error, if it has one.
type statusFunc func(err error) (int, string, bool)

// base holds behaviour shared by every implementation.
type base struct {
	name      string
	model     string
	timeout   time.Duration
	maxTokens int
	prompts   *Prompts
	logger    *slog.Logger
}

func newBase(name string, cfg Config, defaultModel string, prompts *Prompts, logger *slog.Logger) base {
	if prompts == nil {
		prompts = DefaultPrompts()
	}
	if logger == nil {
		logger = slog.Default()
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1500
	}
	return base{name: name, model: model, timeout: timeout, maxTokens: maxTokens, prompts: prompts, logger: logger}
}

func (b *base) analyze(ctx context.Context, in Input, opts Options, call callFunc, status statusFunc) (Response, error) {
	if !in.HasImage() && strings.TrimSpace(in.Symbol) == "" {
		return Response{}, errors.New("provider input needs a capture or a symbol")
	}

	system, user, format, err := b.prompts.Render(in.HasImage(), PromptData{Symbol: in.Symbol, Timeframe: in.Timeframe})
	if err != nil {
		return Response{}, err
	}
	req := request{System: system, User: user, Model: b.model, MaxTokens: b.maxTokens}
	if opts.Model != "" {
		req.Model = opts.Model
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	}
	if in.HasImage() {
		if req.PNG, err = in.Artifact.EncodePNG(); err != nil {
			return Response{}, err
		}
	}

	timeout := b.timeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	text, model, err := call(callCtx, req)
	elapsed := time.Since(start)
	switch {
	case err != nil:
		err = b.classify(ctx, err, status)
	case strings.TrimSpace(text) == "":
		err = &Error{Kind: ErrEmptyResponse, Provider: b.name}
	}
	if err != nil {
		metrics.ObserveProvider(b.name, outcomeLabel(err), elapsed)
		b.logger.Warn("provider call failed",
			slog.String("provider", b.name),
			slog.String("model", req.Model),
			slog.Duration("elapsed", elapsed),
			slog.Any("error", err))
		return Response{}, err
	}

	metrics.ObserveProvider(b.name, "ok", elapsed)
	if model == "" {
		model = req.Model
	}
	return Response{Text: text, Format: format, Model: model, Provider: b.name}, nil
}

// classify maps a call error onto the provider taxonomy. Caller cancellation
// is returned unchanged so it is not reported as a provider fault.
func (b *base) classify(parent context.Context, err error, status statusFunc) error {
	var classified *Error
	if errors.As(err, &classified) {
		return err
	}
	if status != nil {
		if code, body, ok := status(err); ok {
			return rejected(b.name, code, body)
		}
	}
	if errors.Is(parent.Err(), context.Canceled) {
		return parent.Err()
	}
	return &Error{Kind: ErrProviderUnavailable, Provider: b.name, Err: err}
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, ErrProviderUnavailable):
		return "unavailable"
	case errors.Is(err, ErrProviderRejected):
		return "rejected"
	case errors.Is(err, ErrEmptyResponse):
		return "empty"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "error"
	}
}
