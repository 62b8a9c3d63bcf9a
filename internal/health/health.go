// Package health summarizes whether the reset tooling and the site it
// manages are in a usable state.
package health

import "encoding/json"

// Level represents the overall health level.
type Level int

const (
	GREEN    Level = iota // all components healthy
	YELLOW                // one important component degraded
	RED                   // one critical or two important degraded
	CRITICAL              // two or more critical components degraded
)

// Component categories.
const (
	Critical  = "critical"
	Important = "important"
	Optional  = "optional"
)

func (l Level) String() string {
	switch l {
	case GREEN:
		return "GREEN"
	case YELLOW:
		return "YELLOW"
	case RED:
		return "RED"
	case CRITICAL:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

func (l Level) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

// ComponentStatus is the health of a single component.
type ComponentStatus struct {
	Name     string `json:"name"`
	Category string `json:"category"`
	Healthy  bool   `json:"healthy"`
	Detail   string `json:"detail"`
}

type Report struct {
	Level      Level             `json:"level"`
	Components []ComponentStatus `json:"components"`
}

// Ready reports whether a reset may be attempted: no critical component is
// down.
func (r *Report) Ready() bool {
	for _, c := range r.Components {
		if !c.Healthy && c.Category == Critical {
			return false
		}
	}
	return true
}

// Determine maps failed components to a Level:
//
//	criticalFailed >= 2: CRITICAL
//	criticalFailed == 1: RED
//	importantFailed >= 2: RED
//	importantFailed == 1: YELLOW
//	otherwise: GREEN
func Determine(components []ComponentStatus) Level {
	var criticalFailed, importantFailed int

	for _, c := range components {
		if c.Healthy {
			continue
		}
		switch c.Category {
		case Critical:
			criticalFailed++
		case Important:
			importantFailed++
		}
	}

	switch {
	case criticalFailed >= 2:
		return CRITICAL
	case criticalFailed == 1:
		return RED
	case importantFailed >= 2:
		return RED
	case importantFailed == 1:
		return YELLOW
	default:
		return GREEN
	}
}

func NewReport(components []ComponentStatus) *Report {
	return &Report{
		Level:      Determine(components),
		Components: components,
	}
}
