// Command mock-provider is an OpenAI-compatible chat completions fake for local runs.
// Requests with an image get the single-shot fixture; symbol requests get the
// multi-section fixture.
package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/chartpilot/analysis-engine/internal/utils"
)

const chartFixture = `PAIR: EUR/USD
TIMEFRAME: 1h
TREND: Bullish, higher lows since the London open
SENTIMENT: Mildly bullish
SUPPORT: 1.0850, 1.0820
RESISTANCE: 1.0920, 1.0955
PATTERN: Bull flag (forming)
INDICATORS: RSI 58 rising, MACD above signal
ENTRY: 1.0870 | STOP: 1.0835 | TARGET: 1.0930, 1.0955
CONFIDENCE: 72
ANALYSIS: Buyers keep defending 1.0850; a break of 1.0920 opens the weekly high.`

const symbolFixture = `## 1. MARKET OVERVIEW
The pair is consolidating below resistance after a strong week.

## 2. TECHNICAL ANALYSIS
Trend: Bearish on the 4h chart, lower highs since Monday
Support: 1.0820, 1.0790
Resistance: 1.0880, 1.0910
Chart Pattern: Head and shoulders (forming)

## 3. KEY FACTORS
- ECB commentary - negative for the euro
- US payrolls: positive surprise, bullish for the dollar
- Positioning remains neutral

## 4. TRADE SETUP
Entry: 1.0860
Stop Loss: 1.0915
Target 1: 1.0800
Target 2: 1.0760
Risk/Reward: 1:2
Confidence: 81`

type chatRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	} `json:"messages"`
}

type contentPart struct {
	Type string `json:"type"`
}

func main() {
	logger := utils.NewLogger("info", false).With(slog.String("component", "mock-provider"))
	addr := os.Getenv("MOCK_PROVIDER_ADDR")
	if addr == "" {
		addr = ":8090"
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Post("/chat/completions", chatCompletions)
	r.Post("/v1/chat/completions", chatCompletions)

	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	logger.Info("listening", slog.String("address", addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", slog.Any("error", err))
		os.Exit(1)
	}
}

func chatCompletions(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":{"message":"invalid json"}}`, http.StatusBadRequest)
		return
	}

	text := symbolFixture
	if hasImage(req) {
		text = chartFixture
	}
	model := req.Model
	if model == "" {
		model = "mock-gpt"
	}

	writeJSON(w, map[string]any{
		"id":      "chatcmpl-" + uuid.NewString(),
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   model,
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]any{"role": "assistant", "content": text},
			"finish_reason": "stop",
		}},
		"usage": map[string]int{"prompt_tokens": 100, "completion_tokens": 200, "total_tokens": 300},
	})
}

func hasImage(req chatRequest) bool {
	for _, msg := range req.Messages {
		var parts []contentPart
		if err := json.Unmarshal(msg.Content, &parts); err != nil {
			continue
		}
		for _, part := range parts {
			if part.Type == "image_url" {
				return true
			}
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
