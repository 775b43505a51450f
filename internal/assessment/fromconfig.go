package assessment

import (
	"fmt"

	"github.com/emotional-recursion/erf/internal/config"
	"github.com/emotional-recursion/erf/internal/valence"
)

// FromConfig builds an assessor using the project's stage threshold and
// lexicon extensions. Later opts override the configured values.
func FromConfig(cfg *config.Config, opts ...Option) (*Assessor, error) {
	if cfg == nil {
		return New(opts...), nil
	}
	lex := cfg.Project.Lexicon
	detector, err := valence.NewDetector(valence.DefaultLexicon().Extend(lex.ExtraPositive, lex.ExtraNegative, lex.ExtraMetaPatterns))
	if err != nil {
		return nil, fmt.Errorf("assessment: lexicon: %w", err)
	}
	base := []Option{WithThreshold(cfg.StageThreshold()), WithValenceDetector(detector)}
	return New(append(base, opts...)...), nil
}
