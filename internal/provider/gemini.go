package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
)

const geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Gemini calls the generateContent REST endpoint directly.
type Gemini struct {
	base
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewGemini builds a Gemini gateway.
func NewGemini(cfg Config, prompts *Prompts, logger *slog.Logger) *Gemini {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = geminiBaseURL
	}
	return &Gemini{
		base:       newBase(string(KindGemini), cfg, "gemini-2.5-flash", prompts, logger),
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{},
	}
}

// Analyze implements Gateway.
func (p *Gemini) Analyze(ctx context.Context, in Input, opts Options) (Response, error) {
	return p.analyze(ctx, in, opts, p.call, nil)
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	SystemInstruction geminiContent   `json:"system_instruction"`
	Contents          []geminiContent `json:"contents"`
	GenerationConfig  struct {
		MaxOutputTokens int `json:"maxOutputTokens,omitempty"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	ModelVersion string `json:"modelVersion"`
}

func (p *Gemini) call(ctx context.Context, req request) (string, string, error) {
	parts := []geminiPart{{Text: req.User}}
	if len(req.PNG) > 0 {
		parts = append(parts, geminiPart{InlineData: &geminiInlineData{
			MimeType: "image/png",
			Data:     base64.StdEncoding.EncodeToString(req.PNG),
		}})
	}
	payload := geminiRequest{
		SystemInstruction: geminiContent{Parts: []geminiPart{{Text: req.System}}},
		Contents:          []geminiContent{{Role: "user", Parts: parts}},
	}
	payload.GenerationConfig.MaxOutputTokens = req.MaxTokens

	var out geminiResponse
	if err := p.postJSON(ctx, p.endpoint(req.Model), payload, &out); err != nil {
		return "", "", err
	}

	var text strings.Builder
	if len(out.Candidates) > 0 {
		for _, part := range out.Candidates[0].Content.Parts {
			text.WriteString(part.Text)
		}
	}
	return text.String(), out.ModelVersion, nil
}

func (p *Gemini) endpoint(model string) string {
	u, err := url.Parse(p.baseURL)
	if err != nil {
		return p.baseURL + "/models/" + model + ":generateContent"
	}
	u.Path = path.Join(u.Path, "models", model+":generateContent")
	return u.String()
}

func (p *Gemini) postJSON(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return rejected(p.name, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
