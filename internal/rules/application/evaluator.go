package application

import (
	"math"

	rules "sensorfleet-cloud/internal/rules/domain"
)

const (
	// patternLookback is how many history entries a pattern condition
	// inspects in addition to the new reading.
	patternLookback = 5
	// minPatternHistory is the minimum history length before a pattern
	// condition can ever trigger.
	minPatternHistory = 3

	stableStdDevRatio   = 0.05
	volatileStdDevRatio = 0.20
)

// Verdict is the outcome of evaluating one rule against one reading.
// Matched lists the clauses that held; callers use it to build alert
// messages and for rule inspection tooling.
type Verdict struct {
	Triggered bool              `json:"triggered"`
	Matched   []rules.Condition `json:"matched_conditions"`
}

// EvaluateRule tests every condition of the config independently and
// combines the outcomes under the config's logic operator: AND requires
// every clause to match, OR at least one. Malformed runtime data never
// errors; a NaN reading fails every comparison and yields not-triggered.
func EvaluateRule(cfg rules.RuleConfig, value float64, history []float64) Verdict {
	matched := make([]rules.Condition, 0, len(cfg.Conditions))
	for _, cond := range cfg.Conditions {
		if conditionMatches(cond, value, history) {
			matched = append(matched, cond)
		}
	}
	verdict := Verdict{Matched: matched}
	switch cfg.Logic.Normalize() {
	case rules.LogicAnd:
		verdict.Triggered = len(cfg.Conditions) > 0 && len(matched) == len(cfg.Conditions)
	default:
		verdict.Triggered = len(matched) > 0
	}
	return verdict
}

func conditionMatches(c rules.Condition, value float64, history []float64) bool {
	if math.IsNaN(value) {
		return false
	}
	switch c.Kind {
	case rules.KindThreshold:
		return thresholdMatches(c, value)
	case rules.KindRange:
		return rangeMatches(c, value)
	case rules.KindChange:
		return changeMatches(c, value, history)
	case rules.KindPattern:
		return patternMatches(c, value, history)
	default:
		return false
	}
}

func thresholdMatches(c rules.Condition, value float64) bool {
	if c.Value == nil {
		return false
	}
	target := *c.Value
	switch c.Operator {
	case rules.OperatorGreater:
		return value > target
	case rules.OperatorGreaterOrEqual:
		return value >= target
	case rules.OperatorLess:
		return value < target
	case rules.OperatorLessOrEqual:
		return value <= target
	case rules.OperatorEqual:
		return value == target
	case rules.OperatorNotEqual:
		return value != target
	default:
		return false
	}
}

// rangeMatches triggers when the value escapes [min, max]; values on a
// bound count as inside.
func rangeMatches(c rules.Condition, value float64) bool {
	if c.Min != nil && value < *c.Min {
		return true
	}
	if c.Max != nil && value > *c.Max {
		return true
	}
	return false
}

// changeMatches compares the reading against the most recent history
// entry. A first reading has nothing to compare against and never
// triggers.
func changeMatches(c rules.Condition, value float64, history []float64) bool {
	if len(history) == 0 || c.Threshold == nil {
		return false
	}
	previous := history[len(history)-1]
	diff := value - previous
	switch c.Direction {
	case rules.ChangeIncrease:
		return diff > *c.Threshold
	case rules.ChangeDecrease:
		return diff < -*c.Threshold
	case rules.ChangeAbsolute:
		return math.Abs(diff) > *c.Threshold
	default:
		return false
	}
}

func patternMatches(c rules.Condition, value float64, history []float64) bool {
	if len(history) < minPatternHistory {
		return false
	}
	recent := history
	if len(recent) > patternLookback {
		recent = recent[len(recent)-patternLookback:]
	}
	series := make([]float64, 0, len(recent)+1)
	series = append(series, recent...)
	series = append(series, value)

	switch c.Shape {
	case rules.PatternIncreasing:
		return strictlyIncreasing(series)
	case rules.PatternDecreasing:
		return strictlyDecreasing(series)
	case rules.PatternStable:
		mean, stdDev := meanStdDev(series)
		return stdDev < mean*stableStdDevRatio
	case rules.PatternVolatile:
		mean, stdDev := meanStdDev(series)
		return stdDev > mean*volatileStdDevRatio
	default:
		return false
	}
}

func strictlyIncreasing(series []float64) bool {
	for i := 1; i < len(series); i++ {
		if series[i] <= series[i-1] {
			return false
		}
	}
	return true
}

func strictlyDecreasing(series []float64) bool {
	for i := 1; i < len(series); i++ {
		if series[i] >= series[i-1] {
			return false
		}
	}
	return true
}

// meanStdDev returns the mean and population standard deviation.
func meanStdDev(series []float64) (float64, float64) {
	if len(series) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range series {
		sum += v
	}
	mean := sum / float64(len(series))
	var variance float64
	for _, v := range series {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(series))
	return mean, math.Sqrt(variance)
}
