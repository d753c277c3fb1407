package extractors

import (
	"regexp"
	"strings"
)

var (
	headingPattern  = regexp.MustCompile(`^\d{1,2}[.)]\s+([A-Z][A-Z0-9 &/()'-]*[A-Z)])\s*(?::\s*(.*))?$`)
	labelPattern    = regexp.MustCompile(`^(?:[-*•]\s*)?([A-Za-z][A-Za-z0-9 /&()'-]{0,40}?)\s*:\s*(.*)$`)
	listMarker      = regexp.MustCompile(`^\s*(?:[-*•]|\d{1,2}[.)])\s+`)
	priceToken      = regexp.MustCompile(`\d+(?:,\d{3})*(?:\.\d+)?`)
	nonAlphanumeric = regexp.MustCompile(`[^A-Z0-9]+`)
)

// sectionKeys are label prefixes that open a new block. A labelled line that
// does not start with one of them is treated as body text.
var sectionKeys = []string{
	"TREND", "SUPPORT", "RESISTANCE", "PATTERN", "CHART PATTERN", "INDICATOR",
	"ENTRY", "STOP", "TARGET", "TAKE PROFIT", "SENTIMENT", "OVERALL", "CONFIDENCE",
	"SUMMARY", "ANALYSIS", "MARKET", "OVERVIEW", "RISK", "TRADE", "SETUP",
	"RECOMMENDATION", "KEY", "PAIR", "SYMBOL", "TIMEFRAME", "FACTOR", "FUNDAMENTAL",
}

// Line is one non-blank line of provider text.
type Line struct {
	// Text has markdown emphasis and heading markers removed.
	Text string
	// Label is the normalised text before the first colon, or the heading title.
	Label string
	// Value is the text after the label.
	Value   string
	Heading bool
}

// Section is a numbered heading and the lines under it.
type Section struct {
	Title string
	Lines []Line
}

// Document is provider text split into lines and, for the numbered format, sections.
type Document struct {
	Raw      string
	Lines    []Line
	Sections []Section
}

// NewDocument splits raw text. It never fails.
func NewDocument(raw string) *Document {
	doc := &Document{Raw: raw}
	for _, rawLine := range strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n") {
		text := cleanLine(rawLine)
		if text == "" {
			continue
		}
		doc.Lines = append(doc.Lines, parseLine(text))
	}

	var current *Section
	for _, line := range doc.Lines {
		if line.Heading {
			doc.Sections = append(doc.Sections, Section{Title: line.Label})
			current = &doc.Sections[len(doc.Sections)-1]
			continue
		}
		if current != nil {
			current.Lines = append(current.Lines, line)
		}
	}
	return doc
}

// MultiSection reports whether the text uses the numbered-heading format.
func (d *Document) MultiSection() bool {
	return len(d.Sections) >= 2
}

// Find returns the index of the first line whose label starts with one of keys.
func (d *Document) Find(keys ...string) (int, bool) {
	for i, line := range d.Lines {
		if line.Label == "" {
			continue
		}
		for _, key := range keys {
			if strings.HasPrefix(line.Label, key) {
				return i, true
			}
		}
	}
	return -1, false
}

// FindAll returns the indices of every line whose label starts with key and
// does not contain any of exclude.
func (d *Document) FindAll(key string, exclude ...string) []int {
	var out []int
	for i, line := range d.Lines {
		if !strings.HasPrefix(line.Label, key) {
			continue
		}
		skip := false
		for _, ex := range exclude {
			if strings.Contains(line.Label, ex) {
				skip = true
				break
			}
		}
		if !skip {
			out = append(out, i)
		}
	}
	return out
}

// Block returns the value of line idx followed by the body lines up to the
// next section label or heading.
func (d *Document) Block(idx int) []string {
	if idx < 0 || idx >= len(d.Lines) {
		return nil
	}
	var out []string
	if v := strings.TrimSpace(d.Lines[idx].Value); v != "" {
		out = append(out, v)
	}
	for _, line := range d.Lines[idx+1:] {
		if line.Heading || isSectionLabel(line.Label) {
			break
		}
		out = append(out, line.Text)
	}
	return out
}

// LabelText returns the value on the labelled line itself. Only a value-less
// heading such as "2. TREND ANALYSIS" falls back to the lines beneath it.
func (d *Document) LabelText(idx int) string {
	if idx < 0 || idx >= len(d.Lines) {
		return ""
	}
	if v := strings.TrimSpace(d.Lines[idx].Value); v != "" {
		return v
	}
	return strings.Join(d.Block(idx), " ")
}

// SectionMatching returns the first section whose title contains any of words.
func (d *Document) SectionMatching(words ...string) (Section, bool) {
	for _, s := range d.Sections {
		for _, w := range words {
			if strings.Contains(s.Title, w) {
				return s, true
			}
		}
	}
	return Section{}, false
}

func parseLine(text string) Line {
	if m := headingPattern.FindStringSubmatch(text); m != nil {
		return Line{Text: text, Label: normalizeLabel(m[1]), Value: strings.TrimSpace(m[2]), Heading: true}
	}
	if m := labelPattern.FindStringSubmatch(text); m != nil {
		return Line{Text: text, Label: normalizeLabel(m[1]), Value: strings.TrimSpace(m[2])}
	}
	return Line{Text: text}
}

func cleanLine(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimLeft(s, "#")
	s = strings.ReplaceAll(s, "**", "")
	s = strings.ReplaceAll(s, "__", "")
	return strings.TrimSpace(s)
}

func normalizeLabel(s string) string {
	s = nonAlphanumeric.ReplaceAllString(strings.ToUpper(s), " ")
	return strings.TrimSpace(s)
}

func isSectionLabel(label string) bool {
	if label == "" {
		return false
	}
	for _, key := range sectionKeys {
		if strings.HasPrefix(label, key) {
			return true
		}
	}
	return false
}

// stripListMarker removes a leading bullet or ordinal such as "1." or "-".
func stripListMarker(s string) string {
	return strings.TrimSpace(listMarker.ReplaceAllString(s, ""))
}

// prices returns up to limit price tokens in order of appearance. Ordinal
// list markers are not prices.
func prices(lines []string, limit int) []string {
	var out []string
	for _, line := range lines {
		for _, token := range priceToken.FindAllString(stripListMarker(line), -1) {
			if len(out) >= limit {
				return out
			}
			out = append(out, token)
		}
	}
	return out
}
