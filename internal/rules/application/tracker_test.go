package application

import (
	"testing"
	"time"

	rules "sensorfleet-cloud/internal/rules/domain"
)

func testRule(t *testing.T, mutate func(*rules.SensorRule)) *rules.SensorRule {
	t.Helper()
	rule := &rules.SensorRule{
		ID:       "rule-1",
		DeviceID: "dev-1",
		SensorID: "temp",
		Name:     "high temperature",
		Config: rules.RuleConfig{
			Severity:   rules.SeverityHigh,
			Conditions: []rules.Condition{thresholdCond(rules.OperatorGreater, 25)},
		},
		ConsecutiveViolationsRequired: 1,
		Enabled:                       true,
	}
	if mutate != nil {
		mutate(rule)
	}
	if err := rule.Validate(); err != nil {
		t.Fatalf("test rule invalid: %v", err)
	}
	return rule
}

func TestTrackerFiresImmediatelyWhenSingleViolationRequired(t *testing.T) {
	tracker := NewTracker(4, rules.DefaultHistoryDepth)
	rule := testRule(t, nil)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	res := tracker.Evaluate(rule, 30, at, nil)
	if !res.Fire {
		t.Fatalf("single-violation rule should fire on first trigger, got %+v", res)
	}
}

func TestTrackerRequiresConsecutiveViolations(t *testing.T) {
	tracker := NewTracker(4, rules.DefaultHistoryDepth)
	rule := testRule(t, func(r *rules.SensorRule) {
		r.ConsecutiveViolationsRequired = 3
	})
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	fires := 0
	for i, value := range []float64{30, 31, 32} {
		res := tracker.Evaluate(rule, value, start.Add(time.Duration(i)*time.Minute), nil)
		if res.Fire {
			fires++
		}
		if i < 2 && res.Fire {
			t.Fatalf("fired after %d violations, need 3", i+1)
		}
	}
	if fires != 1 {
		t.Fatalf("expected exactly one alert from three violations, got %d", fires)
	}
}

func TestTrackerResetsCountOnNonViolation(t *testing.T) {
	tracker := NewTracker(4, rules.DefaultHistoryDepth)
	rule := testRule(t, func(r *rules.SensorRule) {
		r.ConsecutiveViolationsRequired = 3
	})
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	values := []float64{30, 31, 20, 32, 33}
	for i, value := range values {
		res := tracker.Evaluate(rule, value, start.Add(time.Duration(i)*time.Minute), nil)
		if res.Fire {
			t.Fatalf("value %g at step %d fired, the pass at step 2 must reset the count", value, i)
		}
	}
	res := tracker.Evaluate(rule, 34, start.Add(5*time.Minute), nil)
	if !res.Fire {
		t.Fatal("third consecutive violation after the reset should fire")
	}
}

func TestTrackerCooldownSuppressesRepeatAlerts(t *testing.T) {
	tracker := NewTracker(4, rules.DefaultHistoryDepth)
	rule := testRule(t, func(r *rules.SensorRule) {
		r.CooldownMinutes = 15
	})
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	res := tracker.Evaluate(rule, 30, start, nil)
	if !res.Fire {
		t.Fatal("first violation should fire")
	}
	wantUntil := start.Add(15 * time.Minute)
	if !res.CooldownUntil.Equal(wantUntil) {
		t.Fatalf("cooldown until %v, want %v", res.CooldownUntil, wantUntil)
	}

	res = tracker.Evaluate(rule, 31, start.Add(10*time.Minute), nil)
	if res.Fire {
		t.Fatal("violation inside the cooldown window must not fire")
	}
	if !res.Suppressed {
		t.Fatal("suppressed violation should be reported as such")
	}
	if !res.Verdict.Triggered {
		t.Fatal("suppression does not change the verdict itself")
	}

	res = tracker.Evaluate(rule, 32, start.Add(16*time.Minute), nil)
	if !res.Fire {
		t.Fatal("violation after cooldown expiry should fire again")
	}
}

func TestTrackerCooldownBoundary(t *testing.T) {
	tracker := NewTracker(4, rules.DefaultHistoryDepth)
	rule := testRule(t, func(r *rules.SensorRule) {
		r.CooldownMinutes = 15
	})
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if res := tracker.Evaluate(rule, 30, start, nil); !res.Fire {
		t.Fatal("first violation should fire")
	}
	// The instant the cooldown ends is no longer inside it.
	if res := tracker.Evaluate(rule, 31, start.Add(15*time.Minute), nil); !res.Fire {
		t.Fatal("violation at the exact cooldown expiry should fire")
	}
}

func TestTrackerHistoryExcludesCurrentReading(t *testing.T) {
	tracker := NewTracker(4, rules.DefaultHistoryDepth)
	rule := testRule(t, func(r *rules.SensorRule) {
		r.Config.Conditions = []rules.Condition{{
			Kind:      rules.KindChange,
			Direction: rules.ChangeIncrease,
			Threshold: f(5),
		}}
	})
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if res := tracker.Evaluate(rule, 20, start, nil); res.Fire {
		t.Fatal("first reading has no history to compare against")
	}
	if res := tracker.Evaluate(rule, 26, start.Add(time.Minute), nil); !res.Fire {
		t.Fatal("26 against the prior reading of 20 should fire")
	}
	if res := tracker.Evaluate(rule, 27, start.Add(2*time.Minute), nil); res.Fire {
		t.Fatal("27 against the prior reading of 26 is within the threshold")
	}
}

func TestTrackerSeedsHistoryOnce(t *testing.T) {
	tracker := NewTracker(4, rules.DefaultHistoryDepth)
	rule := testRule(t, func(r *rules.SensorRule) {
		r.Config.Conditions = []rules.Condition{{
			Kind:      rules.KindChange,
			Direction: rules.ChangeIncrease,
			Threshold: f(5),
		}}
	})
	key := rule.StateKey()
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if !tracker.NeedsSeed(key) {
		t.Fatal("unknown key should need seeding")
	}
	seed := []rules.Sample{{At: start.Add(-time.Minute), Value: 20}}
	if res := tracker.Evaluate(rule, 26, start, seed); !res.Fire {
		t.Fatal("seeded history should make the jump from 20 visible")
	}
	if tracker.NeedsSeed(key) {
		t.Fatal("key should be tracked after the first evaluation")
	}
}

func TestTrackerEvaluationWindowDropsStaleHistory(t *testing.T) {
	tracker := NewTracker(4, rules.DefaultHistoryDepth)
	rule := testRule(t, func(r *rules.SensorRule) {
		r.EvaluationWindowMinutes = 10
		r.Config.Conditions = []rules.Condition{{
			Kind:      rules.KindChange,
			Direction: rules.ChangeIncrease,
			Threshold: f(5),
		}}
	})
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	seed := []rules.Sample{{At: start.Add(-20 * time.Minute), Value: 0}}
	if res := tracker.Evaluate(rule, 100, start, seed); res.Fire {
		t.Fatal("seeded sample outside the evaluation window must be ignored")
	}
}

func TestTrackerForgetDropsState(t *testing.T) {
	tracker := NewTracker(4, rules.DefaultHistoryDepth)
	rule := testRule(t, func(r *rules.SensorRule) {
		r.ConsecutiveViolationsRequired = 2
	})
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tracker.Evaluate(rule, 30, start, nil)
	if tracker.Len() != 1 {
		t.Fatalf("tracker should hold one key, got %d", tracker.Len())
	}
	tracker.Forget(rule.StateKey())
	if tracker.Len() != 0 {
		t.Fatalf("forgotten key should be gone, got %d", tracker.Len())
	}

	// With the count reset by Forget, a single violation is not enough.
	if res := tracker.Evaluate(rule, 31, start.Add(time.Minute), nil); res.Fire {
		t.Fatal("forgetting a key must reset its violation count")
	}
}

func TestTrackerKeysAreIndependent(t *testing.T) {
	tracker := NewTracker(4, rules.DefaultHistoryDepth)
	first := testRule(t, func(r *rules.SensorRule) {
		r.ConsecutiveViolationsRequired = 2
	})
	second := testRule(t, func(r *rules.SensorRule) {
		r.SensorID = "humidity"
		r.ConsecutiveViolationsRequired = 2
	})
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tracker.Evaluate(first, 30, start, nil)
	if res := tracker.Evaluate(second, 30, start, nil); res.Fire {
		t.Fatal("violations on one sensor must not count toward another")
	}
	if res := tracker.Evaluate(first, 31, start.Add(time.Minute), nil); !res.Fire {
		t.Fatal("second violation on the first sensor should fire")
	}
	if tracker.Len() != 2 {
		t.Fatalf("expected two tracked keys, got %d", tracker.Len())
	}
}
