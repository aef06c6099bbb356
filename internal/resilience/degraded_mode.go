// Package resilience tracks degraded-mode fallback state for C1/C8
// when the relational store is unreachable: rather than merely
// returning empty, the attempted read is recorded for reconciliation
// once the store recovers (§9 expansion). Grounded on the teacher's
// resilience.DegradedMode, trimmed to the one concern this domain
// needs (bounded pending-read tracking, not write versioning).
package resilience

import (
	"log"
	"sync"
	"time"
)

// PendingRead is a batch read that could not complete because the
// relational store was unreachable.
type PendingRead struct {
	Component string // "index" or "collector"
	Key       string
	At        time.Time
}

const maxPending = 10_000

// DegradedMode tracks store availability and the backlog of reads
// attempted while it was unavailable.
type DegradedMode struct {
	mu        sync.Mutex
	available bool
	pending   []PendingRead
}

func NewDegradedMode() *DegradedMode {
	return &DegradedMode{available: true}
}

// MarkUnavailable flips the state to degraded, logging only on the
// transition edge (not on every failed call).
func (d *DegradedMode) MarkUnavailable() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.available {
		log.Printf("resilience: store unreachable, entering degraded mode")
		d.available = false
	}
}

// MarkAvailable flips back to healthy, logging the transition and the
// size of the backlog a caller should now reconcile.
func (d *DegradedMode) MarkAvailable() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	backlog := len(d.pending)
	if !d.available {
		log.Printf("resilience: store recovered, %d pending reads to reconcile", backlog)
		d.available = true
	}
	return backlog
}

// RecordMiss appends an attempted read to the backlog, evicting the
// oldest entry once the bound is reached.
func (d *DegradedMode) RecordMiss(component, key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.pending) >= maxPending {
		d.pending = d.pending[1:]
	}
	d.pending = append(d.pending, PendingRead{Component: component, Key: key, At: time.Now()})
}

// DrainPending returns and clears the backlog for reconciliation.
func (d *DegradedMode) DrainPending() []PendingRead {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.pending
	d.pending = nil
	return out
}

// Available reports current store health.
func (d *DegradedMode) Available() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.available
}
