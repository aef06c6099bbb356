// Package schedule implements the schedule manager (C9): cron-style
// triggers synchronized against persistent schedule records. Cron
// handles use github.com/robfig/cron/v3 (confirmed ecosystem
// dependency across the pack's manifests). Auto-sync's
// non-overlapping periodic tick is grounded on the teacher's
// coordination.LockJanitor loop; single-owner-per-replica-set firing
// is gated by coordination.LeaderElector so a multi-replica deployment
// doesn't double-fire schedules.
package schedule

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/itskum47/ruleforge/internal/eventbus"
	"github.com/itskum47/ruleforge/internal/model"
	"github.com/itskum47/ruleforge/internal/store"
)

// Manager owns one cron handle per enabled schedule-enabled rule
// chain and keeps them synchronized against the persistent store.
type Manager struct {
	cron  *cron.Cron
	store store.ScheduleStore
	rules store.RuleChainReader
	bus   *eventbus.Bus

	isLeader func() bool

	mu      sync.Mutex
	entries map[string]cron.EntryID // ruleChainId -> cron entry
	syncing bool
}

func New(store store.ScheduleStore, rules store.RuleChainReader, bus *eventbus.Bus, isLeader func() bool) *Manager {
	return &Manager{
		cron:     cron.New(),
		store:    store,
		rules:    rules,
		bus:      bus,
		isLeader: isLeader,
		entries:  make(map[string]cron.EntryID),
	}
}

// Start loads every enabled schedule from the store and begins the
// cron clock plus the auto-sync ticker.
func (m *Manager) Start(ctx context.Context, autoSyncInterval time.Duration) error {
	if err := m.syncFromStore(ctx); err != nil {
		return err
	}
	m.cron.Start()
	go m.autoSyncLoop(ctx, autoSyncInterval)
	return nil
}

func (m *Manager) Stop() {
	m.cron.Stop()
}

// AddSchedule writes-through to the persistent store then starts a
// cron handle.
func (m *Manager) AddSchedule(ctx context.Context, rc *model.RuleChain) error {
	rec := store.ScheduleRecord{
		RuleChainID:    rc.ID,
		OrganizationID: rc.OrganizationID,
		CronExpression: rc.CronExpression,
		Timezone:       rc.Timezone,
		Enabled:        true,
	}
	if err := m.store.UpsertSchedule(ctx, rec); err != nil {
		return err
	}
	return m.addHandle(rc.ID, rc.CronExpression)
}

// RemoveSchedule write-throughs a delete then stops the handle.
func (m *Manager) RemoveSchedule(ctx context.Context, ruleChainID string) error {
	if err := m.store.DeleteSchedule(ctx, ruleChainID); err != nil {
		return err
	}
	m.removeHandle(ruleChainID)
	return nil
}

// Disable stops and removes the handle without deleting the record.
func (m *Manager) Disable(ctx context.Context, ruleChainID string) error {
	rec, err := m.findRecord(ctx, ruleChainID)
	if err != nil {
		return err
	}
	rec.Enabled = false
	if err := m.store.UpsertSchedule(ctx, rec); err != nil {
		return err
	}
	m.removeHandle(ruleChainID)
	return nil
}

// Enable re-creates the handle for a previously disabled schedule.
func (m *Manager) Enable(ctx context.Context, ruleChainID string) error {
	rec, err := m.findRecord(ctx, ruleChainID)
	if err != nil {
		return err
	}
	rec.Enabled = true
	if err := m.store.UpsertSchedule(ctx, rec); err != nil {
		return err
	}
	return m.addHandle(ruleChainID, rec.CronExpression)
}

// Update stops the old handle before starting a new one with the
// updated expression (§4.9 state machine).
func (m *Manager) Update(ctx context.Context, ruleChainID, cronExpression string) error {
	rec, err := m.findRecord(ctx, ruleChainID)
	if err != nil {
		return err
	}
	rec.CronExpression = cronExpression
	if err := m.store.UpsertSchedule(ctx, rec); err != nil {
		return err
	}
	m.removeHandle(ruleChainID)
	if rec.Enabled {
		return m.addHandle(ruleChainID, cronExpression)
	}
	return nil
}

// TriggerManually fires the schedule's event immediately, bypassing
// the cron clock (§4.9 "overlapping fires are permitted").
func (m *Manager) TriggerManually(ctx context.Context, ruleChainID string) {
	m.fire(ctx, ruleChainID)
}

func (m *Manager) findRecord(ctx context.Context, ruleChainID string) (store.ScheduleRecord, error) {
	recs, err := m.store.ListSchedules(ctx)
	if err != nil {
		return store.ScheduleRecord{}, err
	}
	for _, r := range recs {
		if r.RuleChainID == ruleChainID {
			return r, nil
		}
	}
	return store.ScheduleRecord{}, model.NewError(model.KindNotFound, "schedule not found: "+ruleChainID, nil)
}

func (m *Manager) addHandle(ruleChainID, cronExpression string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, exists := m.entries[ruleChainID]; exists {
		m.cron.Remove(id)
	}

	id, err := m.cron.AddFunc(cronExpression, func() {
		m.fire(context.Background(), ruleChainID)
	})
	if err != nil {
		return model.NewError(model.KindInvalidArgument, "invalid cron expression: "+err.Error(), map[string]interface{}{"ruleChainId": ruleChainID})
	}
	m.entries[ruleChainID] = id
	return nil
}

func (m *Manager) removeHandle(ruleChainID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, exists := m.entries[ruleChainID]; exists {
		m.cron.Remove(id)
		delete(m.entries, ruleChainID)
	}
}

func (m *Manager) fire(ctx context.Context, ruleChainID string) {
	if m.isLeader != nil && !m.isLeader() {
		return
	}

	admission := m.bus.Emit(ctx, model.Event{
		EventType:    model.EventScheduled,
		Priority:     1,
		EnqueuedAt:   time.Now(),
		RuleChainIDs: []string{ruleChainID},
	})

	success := admission.Accepted
	if err := m.store.RecordFire(ctx, ruleChainID, time.Now(), success); err != nil {
		log.Printf("schedule: failed to record fire for %s: %v", ruleChainID, err)
	}
}

// syncFromStore diffs the persistent store against the local handle
// table and applies adds/updates/removes.
func (m *Manager) syncFromStore(ctx context.Context) error {
	chains, err := m.rules.ListScheduleEnabledRuleChains(ctx)
	if err != nil {
		return err
	}

	desired := make(map[string]string, len(chains))
	for _, rc := range chains {
		desired[rc.ID] = rc.CronExpression
	}

	m.mu.Lock()
	existing := make(map[string]struct{}, len(m.entries))
	for id := range m.entries {
		existing[id] = struct{}{}
	}
	m.mu.Unlock()

	for id := range existing {
		if _, ok := desired[id]; !ok {
			m.removeHandle(id)
		}
	}
	for id, expr := range desired {
		if err := m.addHandle(id, expr); err != nil {
			log.Printf("schedule: sync failed for %s: %v", id, err)
		}
	}
	return nil
}

func (m *Manager) autoSyncLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 2 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.mu.Lock()
			if m.syncing {
				m.mu.Unlock()
				continue // ticks never overlap
			}
			m.syncing = true
			m.mu.Unlock()

			if err := m.syncFromStore(ctx); err != nil {
				log.Printf("schedule: auto-sync failed: %v", err)
			}

			m.mu.Lock()
			m.syncing = false
			m.mu.Unlock()
		}
	}
}
