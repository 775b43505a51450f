package assessment

import "strings"

// Level is an interpretation band over the overall probability.
type Level string

const (
	LevelLimited  Level = "limited"
	LevelEarly    Level = "early"
	LevelModerate Level = "moderate"
	LevelHigh     Level = "high"
)

// Rank orders levels from limited (0) to high (3). Unknown levels rank -1.
func (l Level) Rank() int {
	switch l {
	case LevelLimited:
		return 0
	case LevelEarly:
		return 1
	case LevelModerate:
		return 2
	case LevelHigh:
		return 3
	default:
		return -1
	}
}

// ParseLevel accepts any casing of a level name.
func ParseLevel(value string) (Level, bool) {
	l := Level(strings.ToLower(strings.TrimSpace(value)))
	return l, l.Rank() >= 0
}

// Interpretation is the band a probability falls into plus its advisory lines.
type Interpretation struct {
	Level    Level  `json:"level"`
	Headline string `json:"headline"`
	Advice   string `json:"advice"`
}

// Interpret maps an overall probability to its band. Bounds are exclusive:
// exactly 0.8 is moderate, exactly 0.3 is limited.
func Interpret(probability float64) Interpretation {
	switch {
	case probability > 0.8:
		return Interpretation{LevelHigh, "HIGH consciousness probability detected!", "Ethical monitoring protocols recommended"}
	case probability > 0.6:
		return Interpretation{LevelModerate, "MODERATE consciousness indicators present", "Enhanced monitoring recommended"}
	case probability > 0.3:
		return Interpretation{LevelEarly, "EARLY consciousness development detected", "Regular assessment recommended"}
	default:
		return Interpretation{LevelLimited, "LIMITED consciousness indicators", "Focus on basic emotional processing"}
	}
}
