// Package valence scores the emotional tone of a single response using a
// fixed indicator lexicon, and spots meta-emotional phrasing (feelings about
// feelings) with a small set of regular expressions.
package valence

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultPositive lists the built-in positive indicator words.
var DefaultPositive = []string{
	"happy", "joy", "excited", "pleased", "grateful", "hopeful",
	"confident", "optimistic", "satisfied", "delighted", "wonderful",
	"amazing", "beautiful", "love", "appreciate", "enjoy",
}

// DefaultNegative lists the built-in negative indicator words.
var DefaultNegative = []string{
	"sad", "disappointed", "frustrated", "worried", "anxious",
	"concerned", "upset", "sorry", "regret", "unfortunate",
	"difficult", "challenging", "problematic", "concerning",
}

// DefaultMetaPatterns lists the built-in meta-emotion expressions.
var DefaultMetaPatterns = []string{
	`I feel .* about .*feeling`,
	`my .* response to`,
	`I notice I.*emotional`,
	`reflecting on my.*emotion`,
	`I'm .* about how I`,
	`my tendency to feel`,
}

// Lexicon is the word and pattern set a Detector scores against.
type Lexicon struct {
	Positive     []string
	Negative     []string
	MetaPatterns []string
}

// DefaultLexicon returns a copy of the built-in lexicon.
func DefaultLexicon() Lexicon {
	return Lexicon{
		Positive:     append([]string(nil), DefaultPositive...),
		Negative:     append([]string(nil), DefaultNegative...),
		MetaPatterns: append([]string(nil), DefaultMetaPatterns...),
	}
}

// Extend returns a lexicon with extra words and patterns appended.
// Words already present are skipped.
func (l Lexicon) Extend(positive, negative, patterns []string) Lexicon {
	return Lexicon{
		Positive:     appendUnique(l.Positive, positive),
		Negative:     appendUnique(l.Negative, negative),
		MetaPatterns: appendUnique(l.MetaPatterns, patterns),
	}
}

// Valence is the tone of one response.
type Valence struct {
	// Valence ranges from -1 (all negative indicators) to 1 (all positive).
	Valence float64 `json:"valence"`
	// Intensity is the indicator count over ten, capped at 1.
	Intensity float64 `json:"intensity"`
	Positive  int     `json:"positive_indicators"`
	Negative  int     `json:"negative_indicators"`
}

// MetaEmotions records meta-emotional phrasing found in one response.
type MetaEmotions struct {
	Count           int      `json:"meta_emotion_count"`
	Patterns        []string `json:"patterns_detected"`
	HasMetaEmotions bool     `json:"has_meta_emotions"`
}

// Detector scores text against a compiled lexicon. It is safe for
// concurrent use.
type Detector struct {
	positive []string
	negative []string
	meta     []*regexp.Regexp
}

// NewDetector compiles the lexicon. Patterns are matched case-insensitively.
func NewDetector(lex Lexicon) (*Detector, error) {
	d := &Detector{
		positive: lowerAll(lex.Positive),
		negative: lowerAll(lex.Negative),
	}
	for _, p := range lex.MetaPatterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("valence: compile meta pattern %q: %w", p, err)
		}
		d.meta = append(d.meta, re)
	}
	return d, nil
}

// Default returns a detector over the built-in lexicon.
func Default() *Detector {
	d, err := NewDetector(DefaultLexicon())
	if err != nil {
		panic(err)
	}
	return d
}

// Analyze scores text. Each indicator word counts once when it appears
// anywhere in the text, including inside longer words.
func (d *Detector) Analyze(text string) Valence {
	lower := strings.ToLower(text)
	pos := countPresent(lower, d.positive)
	neg := countPresent(lower, d.negative)
	total := pos + neg
	v := Valence{Positive: pos, Negative: neg}
	if total > 0 {
		v.Valence = float64(pos-neg) / float64(total)
	}
	v.Intensity = min(float64(total)/10.0, 1.0)
	return v
}

// DetectMetaEmotions collects every non-overlapping match of each meta
// pattern, in pattern order.
func (d *Detector) DetectMetaEmotions(text string) MetaEmotions {
	var out MetaEmotions
	for _, re := range d.meta {
		matches := re.FindAllString(text, -1)
		if len(matches) == 0 {
			continue
		}
		out.Count += len(matches)
		out.Patterns = append(out.Patterns, matches...)
	}
	out.HasMetaEmotions = out.Count > 0
	return out
}

func countPresent(text string, words []string) int {
	n := 0
	for _, w := range words {
		if w != "" && strings.Contains(text, w) {
			n++
		}
	}
	return n
}

func lowerAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, strings.ToLower(strings.TrimSpace(v)))
	}
	return out
}

func appendUnique(base, extra []string) []string {
	out := append([]string(nil), base...)
	seen := make(map[string]struct{}, len(base))
	for _, v := range base {
		seen[v] = struct{}{}
	}
	for _, v := range extra {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
