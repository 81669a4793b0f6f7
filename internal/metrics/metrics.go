package metrics

import (
	"sync"
	"sync/atomic"
)

// engineStats holds counters for the automation engine. Kept simple and
// thread-safe for use from the engine goroutines and exposition.
type engineStats struct {
	eventsSeen     uint64
	rulesMatched   uint64
	executions     uint64
	duplicates     uint64
	actionFailures uint64

	mu       sync.Mutex
	byStatus map[string]uint64
}

var eng engineStats

// IncEventSeen counts one inbound event.
func IncEventSeen() { atomic.AddUint64(&eng.eventsSeen, 1) }

// IncRuleMatched counts one rule handed past the trigger matcher.
func IncRuleMatched() { atomic.AddUint64(&eng.rulesMatched, 1) }

// IncDuplicateEvent counts a redelivered event resolved by idempotency.
func IncDuplicateEvent() { atomic.AddUint64(&eng.duplicates, 1) }

// IncActionFailure counts one action that exhausted its retries.
func IncActionFailure() { atomic.AddUint64(&eng.actionFailures, 1) }

// IncExecution counts one execution reaching the given terminal status.
func IncExecution(status string) {
	atomic.AddUint64(&eng.executions, 1)
	eng.mu.Lock()
	if eng.byStatus == nil {
		eng.byStatus = make(map[string]uint64)
	}
	eng.byStatus[status]++
	eng.mu.Unlock()
}

// EngineSnapshot returns a copy of the current counters.
func EngineSnapshot() (events, matched, executions, duplicates, actionFailures uint64, byStatus map[string]uint64) {
	events = atomic.LoadUint64(&eng.eventsSeen)
	matched = atomic.LoadUint64(&eng.rulesMatched)
	executions = atomic.LoadUint64(&eng.executions)
	duplicates = atomic.LoadUint64(&eng.duplicates)
	actionFailures = atomic.LoadUint64(&eng.actionFailures)
	eng.mu.Lock()
	defer eng.mu.Unlock()
	byStatus = make(map[string]uint64, len(eng.byStatus))
	for k, v := range eng.byStatus {
		byStatus[k] = v
	}
	return
}
