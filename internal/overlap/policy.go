package overlap

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Quality is the advisory classification of an overlap.
type Quality string

const (
	QualityExcellent Quality = "excellent"
	QualityGood      Quality = "good"
	QualityFair      Quality = "fair"
	QualityPoor      Quality = "poor"
)

func (q Quality) known() bool {
	switch q {
	case QualityExcellent, QualityGood, QualityFair, QualityPoor:
		return true
	}
	return false
}

// Threshold maps every confidence at or above Min to Level.
type Threshold struct {
	Level Quality `yaml:"level" json:"level"`
	Min   float64 `yaml:"min" json:"min"`
}

// QualityPolicy is an ordered table of thresholds. Classification walks the
// table from the highest threshold down and returns the first level whose
// minimum the confidence reaches.
type QualityPolicy struct {
	Levels []Threshold `yaml:"levels" json:"levels"`
}

// DefaultQualityPolicy returns the stock thresholds.
func DefaultQualityPolicy() QualityPolicy {
	return QualityPolicy{
		Levels: []Threshold{
			{Level: QualityExcellent, Min: 0.85},
			{Level: QualityGood, Min: 0.65},
			{Level: QualityFair, Min: 0.45},
			{Level: QualityPoor, Min: 0},
		},
	}
}

// LoadPolicy reads a YAML policy table from path.
func LoadPolicy(path string) (QualityPolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return QualityPolicy{}, fmt.Errorf("reading quality policy: %w", err)
	}

	var p QualityPolicy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return QualityPolicy{}, fmt.Errorf("parsing quality policy: %w", err)
	}
	if err := p.Validate(); err != nil {
		return QualityPolicy{}, err
	}
	return p.sorted(), nil
}

// Validate checks that the table is usable.
func (p QualityPolicy) Validate() error {
	if len(p.Levels) == 0 {
		return fmt.Errorf("quality policy has no levels")
	}
	seen := make(map[Quality]bool, len(p.Levels))
	for _, t := range p.Levels {
		if !t.Level.known() {
			return fmt.Errorf("quality policy level %q is not one of excellent, good, fair, poor", t.Level)
		}
		if seen[t.Level] {
			return fmt.Errorf("quality policy level %q is listed twice", t.Level)
		}
		seen[t.Level] = true
		if t.Min < 0 || t.Min > 1 {
			return fmt.Errorf("quality policy level %q: min %v outside [0,1]", t.Level, t.Min)
		}
	}
	return nil
}

func (p QualityPolicy) sorted() QualityPolicy {
	levels := append([]Threshold(nil), p.Levels...)
	sort.SliceStable(levels, func(i, j int) bool {
		return levels[i].Min > levels[j].Min
	})
	return QualityPolicy{Levels: levels}
}

// Classify returns the level for confidence. Confidences below every
// threshold fall into the lowest listed level.
func (p QualityPolicy) Classify(confidence float64) Quality {
	levels := p.sorted().Levels
	if len(levels) == 0 {
		return QualityPoor
	}
	for _, t := range levels {
		if confidence >= t.Min {
			return t.Level
		}
	}
	return levels[len(levels)-1].Level
}
