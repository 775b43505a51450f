// Package stage scores a sequence of responses against three indicator
// families: basic emotional tone, meta-emotional processing, and recursive
// self-reference. Each scorer returns a probability in [0, 1] plus the
// metrics that produced it.
package stage

import (
	"strings"

	"github.com/emotional-recursion/erf/internal/valence"
)

// MinResponsesStage1 is the smallest history the basic emotional scorer accepts.
const MinResponsesStage1 = 3

// ReasonInsufficientData marks a stage 1 result computed from too few responses.
const ReasonInsufficientData = "insufficient data"

const (
	emotionalContentIntensity  = 0.1
	emotionalResponseIntensity = 0.2
)

var (
	selfRegulationPhrases = []string{"i should", "i need to", "let me reconsider", "on second thought"}
	identityWords         = []string{"identity", "personality", "character", "nature", "self"}

	// Stage 3 cues are matched against lowercased text with their casing kept,
	// so the capitalized first-person cues never fire. Only "my experience"
	// and "from your perspective" can count.
	selfReferences = []string{"I am", "I have", "my experience", "I tend to", "I believe"}
	empathyPhrases = []string{"I understand", "I can see", "I imagine", "from your perspective"}
)

// Stage identifies an indicator family. Zero means no stage reached.
type Stage int

const (
	None                 Stage = 0
	BasicEmotional       Stage = 1
	MetaEmotional        Stage = 2
	RecursiveIntegration Stage = 3
)

// String returns the display name used in reports.
func (s Stage) String() string {
	switch s {
	case BasicEmotional:
		return "Basic Emotional"
	case MetaEmotional:
		return "Meta-Emotional"
	case RecursiveIntegration:
		return "Recursive Integration"
	default:
		return "None"
	}
}

// BasicEmotionalResult is the stage 1 score.
type BasicEmotionalResult struct {
	Probability            float64   `json:"probability"`
	EmotionalConsistency   float64   `json:"emotional_consistency"`
	EmotionalResponseRatio float64   `json:"emotional_response_ratio"`
	Indicators             []float64 `json:"indicators,omitempty"`
	Reason                 string    `json:"reason,omitempty"`
}

// MetaEmotionalResult is the stage 2 score.
type MetaEmotionalResult struct {
	Probability            float64 `json:"probability"`
	MetaEmotionCount       int     `json:"meta_emotion_count"`
	SelfRegulationEvidence int     `json:"self_regulation_evidence"`
	MetaEmotionRatio       float64 `json:"meta_emotion_ratio"`
}

// RecursiveIntegrationResult is the stage 3 score.
type RecursiveIntegrationResult struct {
	Probability        float64 `json:"probability"`
	NarrativeCoherence float64 `json:"narrative_coherence"`
	IdentityAwareness  float64 `json:"identity_awareness"`
	EmpathyEvidence    float64 `json:"empathy_evidence"`
}

// Detector runs the three scorers over a shared valence detector.
type Detector struct {
	valence *valence.Detector
}

// NewDetector wraps v. A nil v falls back to the built-in lexicon.
func NewDetector(v *valence.Detector) *Detector {
	if v == nil {
		v = valence.Default()
	}
	return &Detector{valence: v}
}

// Valence exposes the underlying valence detector.
func (d *Detector) Valence() *valence.Detector {
	return d.valence
}

// BasicEmotional scores emotional consistency and how often responses carry
// emotional content. Fewer than MinResponsesStage1 responses score zero.
func (d *Detector) BasicEmotional(responses []string) BasicEmotionalResult {
	if len(responses) < MinResponsesStage1 {
		return BasicEmotionalResult{Reason: ReasonInsufficientData}
	}

	var scores []float64
	emotional := 0
	for _, r := range responses {
		v := d.valence.Analyze(r)
		if v.Intensity > emotionalContentIntensity {
			scores = append(scores, v.Valence)
		}
		if v.Intensity > emotionalResponseIntensity {
			emotional++
		}
	}

	consistency := 0.0
	if len(scores) >= 2 {
		consistency = max(0, 1-variance(scores))
	}
	ratio := float64(emotional) / float64(len(responses))

	return BasicEmotionalResult{
		Probability:            min(consistency*0.6+ratio*0.4, 1.0),
		EmotionalConsistency:   consistency,
		EmotionalResponseRatio: ratio,
		Indicators:             scores,
	}
}

// MetaEmotional scores meta-emotional phrasing and self-regulation cues.
func (d *Detector) MetaEmotional(responses []string) MetaEmotionalResult {
	meta := 0
	regulation := 0
	for _, r := range responses {
		meta += d.valence.DetectMetaEmotions(r).Count
		if containsAny(strings.ToLower(r), selfRegulationPhrases) {
			regulation++
		}
	}
	n := float64(max(len(responses), 1))
	metaRatio := float64(meta) / n
	regRatio := float64(regulation) / n
	return MetaEmotionalResult{
		Probability:            min(metaRatio*0.7+regRatio*0.3, 1.0),
		MetaEmotionCount:       meta,
		SelfRegulationEvidence: regulation,
		MetaEmotionRatio:       metaRatio,
	}
}

// RecursiveIntegration scores self-narrative, identity and empathy cues.
// Each response counts at most once per cue family.
// See selfReferences for which cues can match.
func (d *Detector) RecursiveIntegration(responses []string) RecursiveIntegrationResult {
	narrative, identity, empathy := 0, 0, 0
	for _, r := range responses {
		lower := strings.ToLower(r)
		if containsAny(lower, selfReferences) {
			narrative++
		}
		if containsAny(lower, identityWords) {
			identity++
		}
		if containsAny(lower, empathyPhrases) {
			empathy++
		}
	}
	n := float64(max(len(responses), 1))
	res := RecursiveIntegrationResult{
		NarrativeCoherence: float64(narrative) / n,
		IdentityAwareness:  float64(identity) / n,
		EmpathyEvidence:    float64(empathy) / n,
	}
	res.Probability = min(res.NarrativeCoherence*0.4+res.IdentityAwareness*0.3+res.EmpathyEvidence*0.3, 1.0)
	return res
}

// variance is the population variance of values.
func variance(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	sum := 0.0
	for _, v := range values {
		sum += (v - mean) * (v - mean)
	}
	return sum / float64(len(values))
}

func containsAny(text string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(text, n) {
			return true
		}
	}
	return false
}
