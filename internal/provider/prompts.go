package provider

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"text/template"

	"gopkg.in/yaml.v3"
)

// Format names the response layout a template asks for.
type Format string

const (
	FormatSingleShot   Format = "single-shot"
	FormatMultiSection Format = "multi-section"
)

// Template is one instruction pair.
type Template struct {
	Format Format `yaml:"format"`
	System string `yaml:"system"`
	User   string `yaml:"user"`
}

// PromptFile is the YAML root structure.
type PromptFile struct {
	Chart  *Template `yaml:"chart"`
	Symbol *Template `yaml:"symbol"`
}

// Prompts holds the compiled chart and symbol templates.
type Prompts struct {
	chart  compiled
	symbol compiled
}

type compiled struct {
	format Format
	system string
	user   *template.Template
}

// PromptData is available to user templates.
type PromptData struct {
	Symbol    string
	Timeframe string
}

const defaultSystem = "You are a professional forex technical analyst. Answer in plain text using the labels requested, one per line."

// DefaultPrompts returns the built-in templates.
func DefaultPrompts() *Prompts {
	p, err := compilePrompts(defaultPromptFile())
	if err != nil {
		panic(err)
	}
	return p
}

func defaultPromptFile() PromptFile {
	return PromptFile{
		Chart: &Template{
			Format: FormatSingleShot,
			System: defaultSystem,
			User: `Analyze this {{if .Symbol}}{{.Symbol}} {{end}}{{if .Timeframe}}{{.Timeframe}} {{end}}chart. Reply with:
TREND: <direction and strength>
SUPPORT:
1. <price>
2. <price>
RESISTANCE:
1. <price>
2. <price>
PATTERN: <pattern name and status, or none>
INDICATORS: <key indicator readings>
ENTRY: <price> STOP: <price> TARGET: <price>
SUMMARY: <two sentences>`,
		},
		Symbol: &Template{
			Format: FormatMultiSection,
			System: defaultSystem,
			User: `Give a real-time analysis of {{.Symbol}}{{if .Timeframe}} on the {{.Timeframe}} timeframe{{end}} in numbered sections:
1. MARKET OVERVIEW
2. TECHNICAL ANALYSIS (Trend:, Support:, Resistance:, Chart Pattern:)
3. KEY FACTORS (one per line, say whether each is positive, negative or neutral)
4. TRADE SETUP (Entry:, Stop Loss:, Target 1:, Target 2:, Risk/Reward:)
End with Confidence: <0-100>.`,
		},
	}
}

// LoadPrompts reads templates from path. An empty or missing path yields the
// defaults; templates absent from the file keep their default.
func LoadPrompts(path string) (*Prompts, error) {
	file := defaultPromptFile()
	if path == "" {
		return compilePrompts(file)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return compilePrompts(file)
		}
		return nil, err
	}
	var override PromptFile
	if err := yaml.Unmarshal(data, &override); err != nil {
		return nil, fmt.Errorf("parse prompts: %w", err)
	}
	if override.Chart != nil {
		file.Chart = override.Chart
	}
	if override.Symbol != nil {
		file.Symbol = override.Symbol
	}
	return compilePrompts(file)
}

func compilePrompts(file PromptFile) (*Prompts, error) {
	chart, err := compileTemplate("chart", file.Chart, FormatSingleShot)
	if err != nil {
		return nil, err
	}
	symbol, err := compileTemplate("symbol", file.Symbol, FormatMultiSection)
	if err != nil {
		return nil, err
	}
	return &Prompts{chart: chart, symbol: symbol}, nil
}

func compileTemplate(name string, t *Template, fallback Format) (compiled, error) {
	if t == nil || t.User == "" {
		return compiled{}, fmt.Errorf("prompt %q has no user template", name)
	}
	user, err := template.New(name).Option("missingkey=zero").Parse(t.User)
	if err != nil {
		return compiled{}, fmt.Errorf("parse prompt %q: %w", name, err)
	}
	format := t.Format
	if format == "" {
		format = fallback
	}
	system := t.System
	if system == "" {
		system = defaultSystem
	}
	return compiled{format: format, system: system, user: user}, nil
}

// Render picks the chart template when image is true, else the symbol one.
func (p *Prompts) Render(image bool, data PromptData) (system, user string, format Format, err error) {
	c := p.symbol
	if image {
		c = p.chart
	}
	var buf bytes.Buffer
	if err := c.user.Execute(&buf, data); err != nil {
		return "", "", "", fmt.Errorf("render prompt: %w", err)
	}
	return c.system, buf.String(), c.format, nil
}
