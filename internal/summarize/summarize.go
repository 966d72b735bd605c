// Package summarize prepares content for speech: it strips formatting that
// reads badly aloud, shortens long text, and rewrites abbreviations and
// punctuation for a natural delivery.
package summarize

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Provider produces an AI summary. Implementations must respect ctx.
type Provider interface {
	Name() string
	Summarize(ctx context.Context, text string, maxLen int) (string, error)
}

// Config controls when and how far text is shortened.
type Config struct {
	Enabled bool
	// MaxLength is the target summary length in runes.
	MaxLength int
	// MinTextLength mirrors the monitor minimum. Text under twice this
	// length is never summarized.
	MinTextLength int
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{Enabled: true, MaxLength: 150, MinTextLength: 50}
}

// Summarizer shortens text, preferring its AI provider when one is set and
// falling back to Simple otherwise.
type Summarizer struct {
	cfg Config
	ai  Provider
}

// New returns a Summarizer. ai may be nil.
func New(cfg Config, ai Provider) *Summarizer {
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = DefaultConfig().MaxLength
	}
	return &Summarizer{cfg: cfg, ai: ai}
}

// Provider returns the configured AI provider name, or "simple".
func (s *Summarizer) Provider() string {
	if s.ai == nil {
		return "simple"
	}
	return s.ai.Name()
}

var (
	reCodeBlock  = regexp.MustCompile("(?s)```.*?```")
	reInlineCode = regexp.MustCompile("`([^`]*)`")
	reBold       = regexp.MustCompile(`\*\*(.*?)\*\*`)
	reItalic     = regexp.MustCompile(`\*(.*?)\*`)
	reHeader     = regexp.MustCompile(`(?m)^\s*#{1,6}\s*`)
	reURL        = regexp.MustCompile(`https?://(\S+)`)
	reSpace      = regexp.MustCompile(`\s+`)
	reEllipsis   = regexp.MustCompile(`\.{3,}`)
	reBangs      = regexp.MustCompile(`!{2,}`)
	reQuestions  = regexp.MustCompile(`\?{2,}`)
	reSentence   = regexp.MustCompile(`[.!?]+`)
	rePause      = regexp.MustCompile(`(\w[.!?])\s+([A-Z])`)
)

// Clean removes markdown, code, and URL noise and collapses whitespace.
func Clean(text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}
	text = reCodeBlock.ReplaceAllString(text, "[code block]")
	text = reInlineCode.ReplaceAllString(text, "$1")
	text = reBold.ReplaceAllString(text, "$1")
	text = reItalic.ReplaceAllString(text, "$1")
	text = reHeader.ReplaceAllString(text, "")
	text = reURL.ReplaceAllString(text, "website $1")
	text = reSpace.ReplaceAllString(text, " ")
	text = reEllipsis.ReplaceAllString(text, "...")
	text = reBangs.ReplaceAllString(text, "!")
	text = reQuestions.ReplaceAllString(text, "?")
	return strings.TrimSpace(text)
}

// ShouldSummarize reports whether text is long enough to be worth
// shortening.
func (s *Summarizer) ShouldSummarize(text string) bool {
	if !s.cfg.Enabled {
		return false
	}
	n := utf8.RuneCountInString(text)
	if n < s.cfg.MinTextLength*2 {
		return false
	}
	return n > s.cfg.MaxLength*2
}

// Simple keeps the first and last meaningful sentences, capped at maxLen
// runes.
func Simple(text string, maxLen int) string {
	var sentences []string
	for _, s := range reSentence.Split(text, -1) {
		s = strings.TrimSpace(s)
		if utf8.RuneCountInString(s) > 10 {
			sentences = append(sentences, s)
		}
	}

	var summary string
	switch len(sentences) {
	case 0:
		return truncate(text, maxLen) + "..."
	case 1:
		summary = sentences[0]
	case 2:
		summary = sentences[0] + ". " + sentences[1]
	default:
		summary = sentences[0] + ". ... " + sentences[len(sentences)-1]
	}
	if utf8.RuneCountInString(summary) > maxLen {
		summary = truncate(summary, maxLen) + "..."
	}
	return summary
}

// Summarize cleans text and shortens it when ShouldSummarize says so.
func (s *Summarizer) Summarize(ctx context.Context, text string) string {
	cleaned := Clean(text)
	if cleaned == "" || !s.ShouldSummarize(cleaned) {
		return cleaned
	}

	slog.Info("summarizing text", "chars", utf8.RuneCountInString(cleaned), "provider", s.Provider())

	if s.ai != nil {
		summary, err := s.ai.Summarize(ctx, cleaned, s.cfg.MaxLength)
		summary = strings.TrimSpace(summary)
		if err == nil && summary != "" {
			if utf8.RuneCountInString(summary) > s.cfg.MaxLength {
				summary = truncate(summary, s.cfg.MaxLength) + "..."
			}
			slog.Debug("ai summary", "provider", s.ai.Name(),
				"from", utf8.RuneCountInString(cleaned),
				"to", utf8.RuneCountInString(summary),
			)
			return summary
		}
		if err != nil {
			slog.Warn("ai summarization failed, using simple summary", "provider", s.ai.Name(), "err", err)
		}
	}
	return Simple(cleaned, s.cfg.MaxLength)
}

type replacement struct {
	re   *regexp.Regexp
	with string
}

// w/o must run before w/.
var abbreviations = []replacement{
	{regexp.MustCompile(`(?i)\bdr\b`), "doctor"},
	{regexp.MustCompile(`(?i)\bmrs\b`), "missus"},
	{regexp.MustCompile(`(?i)\bmr\b`), "mister"},
	{regexp.MustCompile(`(?i)\bms\b`), "miss"},
	{regexp.MustCompile(`(?i)\betc\b`), "etcetera"},
	{regexp.MustCompile(`(?i)\bvs\b`), "versus"},
	{regexp.MustCompile(`(?i)\bw/o\b`), "without"},
	{regexp.MustCompile(`(?i)\bw/(\s)`), "with$1"},
	{regexp.MustCompile(`(?i)\be\.g\.`), "for example"},
	{regexp.MustCompile(`(?i)\bi\.e\.`), "that is"},
}

// ForVoice summarizes text if needed and rewrites it for speech.
func (s *Summarizer) ForVoice(ctx context.Context, text string) string {
	out := s.Summarize(ctx, text)
	if out == "" {
		return ""
	}
	for _, r := range abbreviations {
		out = r.re.ReplaceAllString(out, r.with)
	}
	out = rePause.ReplaceAllString(out, "$1... $2")
	if !strings.ContainsAny(out[len(out)-1:], ".!?") {
		out += "."
	}
	return out
}

// Stats describes how much a summary shortened its input.
type Stats struct {
	OriginalLength int     `json:"original_length"`
	SummaryLength  int     `json:"summary_length"`
	Ratio          float64 `json:"compression_ratio"`
}

// Compare returns length statistics for a summary of original.
func Compare(original, summary string) Stats {
	st := Stats{
		OriginalLength: utf8.RuneCountInString(original),
		SummaryLength:  utf8.RuneCountInString(summary),
	}
	if st.OriginalLength > 0 {
		st.Ratio = float64(st.SummaryLength) / float64(st.OriginalLength)
	}
	return st
}

func truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
