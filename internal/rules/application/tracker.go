package application

import (
	"hash/fnv"
	"sync"
	"time"

	rules "sensorfleet-cloud/internal/rules/domain"
)

const defaultTrackerShards = 32

// TrackerResult reports what one verdict did to a rule's debounce state.
type TrackerResult struct {
	Verdict       Verdict
	Fire          bool
	Suppressed    bool
	Hits          int
	CooldownUntil time.Time
}

// Tracker owns the per (device, sensor, rule) debounce state. Keys hash
// onto a fixed set of shards and a shard's states are only touched while
// holding that shard's lock, so verdicts for one key apply strictly in
// order while distinct keys proceed in parallel.
type Tracker struct {
	shards       []trackerShard
	historyDepth int
}

type trackerShard struct {
	mu     sync.Mutex
	states map[string]*ruleState
}

type ruleState struct {
	hits            int
	lastTriggeredAt time.Time
	cooldownUntil   time.Time
	history         *rules.History
}

// NewTracker constructs a tracker.
func NewTracker(shardCount, historyDepth int) *Tracker {
	if shardCount <= 0 {
		shardCount = defaultTrackerShards
	}
	if historyDepth <= 0 {
		historyDepth = rules.DefaultHistoryDepth
	}
	t := &Tracker{shards: make([]trackerShard, shardCount), historyDepth: historyDepth}
	for i := range t.shards {
		t.shards[i].states = make(map[string]*ruleState)
	}
	return t
}

func (t *Tracker) shard(key string) *trackerShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &t.shards[h.Sum32()%uint32(len(t.shards))]
}

// NeedsSeed reports whether the key has no state yet, in which case the
// caller should load recent persisted readings for Evaluate to seed the
// history from.
func (t *Tracker) NeedsSeed(key string) bool {
	shard := t.shard(key)
	shard.mu.Lock()
	_, ok := shard.states[key]
	shard.mu.Unlock()
	return !ok
}

// Evaluate runs one reading through the rule under the key's lock: trims
// history to the evaluation window, evaluates the conditions against the
// history excluding the new reading, applies the debounce state machine
// and finally appends the reading to the history.
func (t *Tracker) Evaluate(rule *rules.SensorRule, value float64, at time.Time, seed []rules.Sample) TrackerResult {
	key := rule.StateKey()
	shard := t.shard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	state, ok := shard.states[key]
	if !ok {
		state = &ruleState{history: rules.NewHistory(t.historyDepth)}
		if len(seed) > 0 {
			state.history.Seed(seed)
		}
		shard.states[key] = state
	}

	if window := rule.EvaluationWindow(); window > 0 {
		state.history.TrimBefore(at.Add(-window))
	}

	verdict := EvaluateRule(rule.Config, value, state.history.Values())
	result := TrackerResult{Verdict: verdict}

	switch {
	case !verdict.Triggered:
		state.hits = 0
	case !state.cooldownUntil.IsZero() && at.Before(state.cooldownUntil):
		result.Suppressed = true
	default:
		state.hits++
		if state.hits >= rule.ConsecutiveViolationsRequired {
			state.hits = 0
			state.lastTriggeredAt = at
			state.cooldownUntil = at.Add(rule.CooldownDuration())
			result.Fire = true
		}
	}
	result.Hits = state.hits
	result.CooldownUntil = state.cooldownUntil

	state.history.Append(rules.Sample{At: at, Value: value})
	return result
}

// Forget drops the state for one rule key so stale counters do not leak
// into the rule's next configuration.
func (t *Tracker) Forget(key string) {
	shard := t.shard(key)
	shard.mu.Lock()
	delete(shard.states, key)
	shard.mu.Unlock()
}

// Len returns the number of tracked keys.
func (t *Tracker) Len() int {
	total := 0
	for i := range t.shards {
		t.shards[i].mu.Lock()
		total += len(t.shards[i].states)
		t.shards[i].mu.Unlock()
	}
	return total
}
