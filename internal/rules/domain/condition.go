package rules

import (
	"errors"
	"fmt"
)

// ConditionKind selects one of the closed set of condition variants.
type ConditionKind string

const (
	KindThreshold ConditionKind = "threshold"
	KindRange     ConditionKind = "range"
	KindChange    ConditionKind = "change"
	KindPattern   ConditionKind = "pattern"
)

// Valid returns true when the kind is one of the supported variants.
func (k ConditionKind) Valid() bool {
	switch k {
	case KindThreshold, KindRange, KindChange, KindPattern:
		return true
	default:
		return false
	}
}

// Operator compares a reading against a fixed value.
type Operator string

const (
	OperatorGreater        Operator = ">"
	OperatorGreaterOrEqual Operator = ">="
	OperatorLess           Operator = "<"
	OperatorLessOrEqual    Operator = "<="
	// OperatorEqual and OperatorNotEqual compare floats exactly. For
	// continuous sensors callers must supply their own tolerance; the
	// comparison itself is a plain pass-through.
	OperatorEqual    Operator = "=="
	OperatorNotEqual Operator = "!="
)

// Valid returns true when the operator is supported.
func (o Operator) Valid() bool {
	switch o {
	case OperatorGreater, OperatorGreaterOrEqual, OperatorLess, OperatorLessOrEqual, OperatorEqual, OperatorNotEqual:
		return true
	default:
		return false
	}
}

// ExactEquality reports whether the operator performs exact float equality.
func (o Operator) ExactEquality() bool {
	return o == OperatorEqual || o == OperatorNotEqual
}

// ChangeDirection selects how a change condition compares against the
// previous reading.
type ChangeDirection string

const (
	ChangeIncrease ChangeDirection = "increase"
	ChangeDecrease ChangeDirection = "decrease"
	ChangeAbsolute ChangeDirection = "absolute"
)

// Valid returns true when the direction is supported.
func (d ChangeDirection) Valid() bool {
	switch d {
	case ChangeIncrease, ChangeDecrease, ChangeAbsolute:
		return true
	default:
		return false
	}
}

// PatternShape names the history shape a pattern condition tests for.
type PatternShape string

const (
	PatternIncreasing PatternShape = "increasing"
	PatternDecreasing PatternShape = "decreasing"
	PatternStable     PatternShape = "stable"
	PatternVolatile   PatternShape = "volatile"
)

// Valid returns true when the shape is supported.
func (p PatternShape) Valid() bool {
	switch p {
	case PatternIncreasing, PatternDecreasing, PatternStable, PatternVolatile:
		return true
	default:
		return false
	}
}

// Condition is one clause of a rule. Kind selects the variant; only the
// fields belonging to that variant are consulted during evaluation.
type Condition struct {
	Kind ConditionKind `json:"kind"`

	// Threshold variant.
	Operator Operator `json:"operator,omitempty"`
	Value    *float64 `json:"value,omitempty"`

	// Range variant. Triggers when the reading falls outside [Min, Max];
	// either bound may be omitted.
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`

	// Change variant.
	Direction ChangeDirection `json:"direction,omitempty"`
	Threshold *float64        `json:"threshold,omitempty"`

	// Pattern variant.
	Shape PatternShape `json:"shape,omitempty"`
}

// Validate checks the clause at authoring time. Each failure names the
// offending field so rule authors can correct it.
func (c Condition) Validate() error {
	if c.Kind == "" {
		return errors.New("condition: missing kind")
	}
	switch c.Kind {
	case KindThreshold:
		if !c.Operator.Valid() {
			return fmt.Errorf("condition: invalid operator %q", string(c.Operator))
		}
		if c.Value == nil {
			return errors.New("condition: threshold requires a value")
		}
	case KindRange:
		if c.Min == nil && c.Max == nil {
			return errors.New("condition: range requires at least one bound")
		}
		if c.Min != nil && c.Max != nil && *c.Min >= *c.Max {
			return fmt.Errorf("condition: range min %g must be below max %g", *c.Min, *c.Max)
		}
	case KindChange:
		if !c.Direction.Valid() {
			return fmt.Errorf("condition: invalid change direction %q", string(c.Direction))
		}
		if c.Threshold == nil {
			return errors.New("condition: change requires a threshold")
		}
	case KindPattern:
		if !c.Shape.Valid() {
			return fmt.Errorf("condition: invalid pattern shape %q", string(c.Shape))
		}
	default:
		return fmt.Errorf("condition: unknown kind %q", string(c.Kind))
	}
	return nil
}
