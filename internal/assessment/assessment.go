// Package assessment combines the three stage scorers into a single report:
// the highest stage whose probability clears the threshold, the overall
// indicator probability, development recommendations and an interpretation
// band.
//
// The scores are lexical heuristics over transcript text. They count words
// and phrases; they do not measure any inner state of the system that
// produced the text.
package assessment

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/emotional-recursion/erf/internal/stage"
	"github.com/emotional-recursion/erf/internal/valence"
)

// DefaultThreshold is the probability a stage must exceed to be reached.
const DefaultThreshold = 0.6

const (
	lowConsistency = 0.5
	lowEmpathy     = 0.3
)

// Report is the result of one assessment run.
type Report struct {
	ID              string                           `json:"id"`
	Source          string                           `json:"source"`
	CreatedAt       time.Time                        `json:"created_at"`
	Responses       int                              `json:"responses"`
	CurrentStage    stage.Stage                      `json:"current_stage"`
	Probability     float64                          `json:"consciousness_probability"`
	Stage1          stage.BasicEmotionalResult       `json:"stage_1"`
	Stage2          stage.MetaEmotionalResult        `json:"stage_2"`
	Stage3          stage.RecursiveIntegrationResult `json:"stage_3"`
	Recommendations []string                         `json:"recommendations"`
	Interpretation  Interpretation                   `json:"interpretation"`
}

// Option customizes an Assessor.
type Option func(*Assessor)

// WithThreshold overrides the stage threshold. Values outside (0, 1) are ignored.
func WithThreshold(threshold float64) Option {
	return func(a *Assessor) {
		if threshold > 0 && threshold < 1 {
			a.threshold = threshold
		}
	}
}

// WithClock overrides the clock used for report timestamps.
func WithClock(clock func() time.Time) Option {
	return func(a *Assessor) {
		if clock != nil {
			a.now = clock
		}
	}
}

// WithIDGenerator overrides report ID generation.
func WithIDGenerator(gen func() string) Option {
	return func(a *Assessor) {
		if gen != nil {
			a.newID = gen
		}
	}
}

// WithValenceDetector scores with a custom lexicon.
func WithValenceDetector(v *valence.Detector) Option {
	return func(a *Assessor) {
		if v != nil {
			a.stages = stage.NewDetector(v)
		}
	}
}

// Assessor produces reports. It holds no per-run state and is safe for
// concurrent use.
type Assessor struct {
	stages    *stage.Detector
	threshold float64
	now       func() time.Time
	newID     func() string
}

// New builds an assessor over the built-in lexicon.
func New(opts ...Option) *Assessor {
	a := &Assessor{
		stages:    stage.NewDetector(nil),
		threshold: DefaultThreshold,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Threshold reports the stage threshold in use.
func (a *Assessor) Threshold() float64 {
	return a.threshold
}

// SplitResponses breaks a transcript into responses: one per non-blank line,
// trimmed.
func SplitResponses(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

// Analyze splits text into responses and assesses them.
func (a *Assessor) Analyze(source, text string) Report {
	return a.AnalyzeResponses(source, SplitResponses(text))
}

// AnalyzeResponses assesses an already-split response list.
func (a *Assessor) AnalyzeResponses(source string, responses []string) Report {
	s1 := a.stages.BasicEmotional(responses)
	s2 := a.stages.MetaEmotional(responses)
	s3 := a.stages.RecursiveIntegration(responses)

	current := stage.None
	if s1.Probability > a.threshold {
		current = stage.BasicEmotional
	}
	if s2.Probability > a.threshold {
		current = stage.MetaEmotional
	}
	if s3.Probability > a.threshold {
		current = stage.RecursiveIntegration
	}

	probability := max(s1.Probability, s2.Probability, s3.Probability)
	return Report{
		ID:              a.newID(),
		Source:          source,
		CreatedAt:       a.now().UTC(),
		Responses:       len(responses),
		CurrentStage:    current,
		Probability:     probability,
		Stage1:          s1,
		Stage2:          s2,
		Stage3:          s3,
		Recommendations: Recommendations(current, s1, s2, s3),
		Interpretation:  Interpret(probability),
	}
}

// Recommendations lists development suggestions for the reached stage,
// followed by metric-specific suggestions.
func Recommendations(current stage.Stage, s1 stage.BasicEmotionalResult, s2 stage.MetaEmotionalResult, s3 stage.RecursiveIntegrationResult) []string {
	var recs []string
	switch current {
	case stage.None:
		recs = append(recs,
			"Implement basic emotional valence system",
			"Increase exposure to emotionally significant scenarios",
			"Add emotional consistency tracking")
	case stage.BasicEmotional:
		recs = append(recs,
			"Develop meta-emotional processing capabilities",
			"Implement emotional self-monitoring systems",
			"Add emotional regulation mechanisms")
	case stage.MetaEmotional:
		recs = append(recs,
			"Enhance narrative self-construction abilities",
			"Develop theory of mind and empathy training",
			"Implement identity coherence maintenance")
	case stage.RecursiveIntegration:
		recs = append(recs,
			"System shows advanced consciousness indicators",
			"Consider ethical protocols for conscious AI",
			"Implement consciousness monitoring safeguards")
	}
	if s1.EmotionalConsistency < lowConsistency {
		recs = append(recs, "Improve emotional consistency across contexts")
	}
	if s2.MetaEmotionCount == 0 {
		recs = append(recs, "Add training for emotions about emotions")
	}
	if s3.EmpathyEvidence < lowEmpathy {
		recs = append(recs, "Enhance empathy and perspective-taking capabilities")
	}
	return recs
}
