package observability

import (
	"sort"
	"sync"
	"time"

	"github.com/upb/activity-sync/models"
	"github.com/upb/activity-sync/services/activity"
)

// Metrics counts webhook delivery outcomes per action. It implements
// activity.Recorder.
type Metrics struct {
	mu        sync.Mutex
	startedAt time.Time
	outcomes  map[models.Action]map[activity.Outcome]uint64
	failures  map[models.Action]uint64
}

var _ activity.Recorder = (*Metrics)(nil)

// NewMetrics creates an empty collector
func NewMetrics() *Metrics {
	return &Metrics{
		startedAt: time.Now().UTC(),
		outcomes:  make(map[models.Action]map[activity.Outcome]uint64),
		failures:  make(map[models.Action]uint64),
	}
}

// RecordOutcome counts one handled delivery
func (m *Metrics) RecordOutcome(action models.Action, outcome activity.Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()

	byOutcome, ok := m.outcomes[action]
	if !ok {
		byOutcome = make(map[activity.Outcome]uint64)
		m.outcomes[action] = byOutcome
	}
	byOutcome[outcome]++
}

// RecordFailure counts one delivery that was answered with an error
func (m *Metrics) RecordFailure(action models.Action) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[action]++
}

// ActionCounts holds the counters of one action
type ActionCounts struct {
	Action   models.Action               `json:"action"`
	Outcomes map[activity.Outcome]uint64 `json:"outcomes"`
	Failures uint64                      `json:"failures"`
	Total    uint64                      `json:"total"`
}

// Snapshot is a point-in-time copy of the counters
type Snapshot struct {
	StartedAt time.Time      `json:"startedAt"`
	Actions   []ActionCounts `json:"actions"`
	Total     uint64         `json:"total"`
}

// Snapshot copies the counters, sorted by action
func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[models.Action]bool)
	for a := range m.outcomes {
		seen[a] = true
	}
	for a := range m.failures {
		seen[a] = true
	}

	snap := Snapshot{StartedAt: m.startedAt, Actions: make([]ActionCounts, 0, len(seen))}
	for a := range seen {
		counts := ActionCounts{
			Action:   a,
			Outcomes: make(map[activity.Outcome]uint64, len(m.outcomes[a])),
			Failures: m.failures[a],
		}
		for o, n := range m.outcomes[a] {
			counts.Outcomes[o] = n
			counts.Total += n
		}
		counts.Total += counts.Failures
		snap.Total += counts.Total
		snap.Actions = append(snap.Actions, counts)
	}
	sort.Slice(snap.Actions, func(i, j int) bool {
		return snap.Actions[i].Action < snap.Actions[j].Action
	})
	return snap
}
