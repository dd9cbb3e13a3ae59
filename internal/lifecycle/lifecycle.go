// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package lifecycle is the block lifecycle manager: it applies block
// decisions, persists BlockRecords, schedules expiry, and re-hydrates
// state on startup. It is the only writer of BlockRecord state, both in
// the store and in the in-memory block set.
package lifecycle

import (
	"time"

	"warden/internal/blocklist"
	"warden/internal/eventbus"
	wardenerrors "warden/internal/errors"
	"warden/internal/logging"
	"warden/internal/pfilter"
	"warden/internal/scheduler"
	"warden/internal/store"
)

// PacketFilter is the narrow capability this manager needs from the
// packet-filter driver — *pfilter.Driver satisfies this directly; tests
// substitute a fake.
type PacketFilter interface {
	Block(addr string) pfilter.Result
	Unblock(addr string) pfilter.Result
}

// Manager coordinates the packet-filter driver, the store, the
// scheduler, and the in-memory block/whitelist sets to implement
// block/unblock, startup reconciliation, and the periodic expiry sweep.
type Manager struct {
	driver    PacketFilter
	store     *store.Store
	blocklist *blocklist.Manager
	scheduler *scheduler.Scheduler
	bus       *eventbus.Bus
	logger    *logging.Logger
}

// New creates a Manager.
func New(driver PacketFilter, st *store.Store, bl *blocklist.Manager, sched *scheduler.Scheduler, bus *eventbus.Bus) *Manager {
	return &Manager{
		driver:    driver,
		store:     st,
		blocklist: bl,
		scheduler: sched,
		bus:       bus,
		logger:    logging.Default().WithComponent("lifecycle"),
	}
}

// Block installs a DROP rule for addr and persists a BlockRecord.
// Whitelisted addresses are rejected with a user-visible message and no
// side effect; a redundant block on an already-blocked address is a
// no-op that still reports success.
func (m *Manager) Block(addr string, duration time.Duration) error {
	if m.blocklist.IsWhitelisted(addr) {
		return wardenerrors.Errorf(wardenerrors.KindPermission, "%s is whitelisted and cannot be blocked", addr)
	}
	if m.blocklist.IsBlocked(addr) {
		return nil
	}

	res := m.driver.Block(addr)
	if !res.Success {
		return wardenerrors.Errorf(wardenerrors.KindUnavailable, "packet-filter block failed for %s: %s", addr, res.Diagnostic)
	}

	now := time.Now().UTC()
	rec := store.BlockRecord{
		Address:          addr,
		BlockedAt:        now,
		DurationSeconds:  int(duration.Seconds()),
		ScheduledUnblock: now.Add(duration),
	}
	if err := m.store.UpsertBlock(rec); err != nil {
		// The packet-filter rule is already in place; roll it back rather
		// than leave a DROP with no corresponding record.
		m.driver.Unblock(addr)
		return err
	}

	m.blocklist.MarkBlocked(addr)
	m.publish(eventbus.Block, map[string]any{"address": addr, "duration_seconds": rec.DurationSeconds})
	return nil
}

// Unblock removes addr's DROP rule and persisted record. Unblocking an
// address that is not currently blocked logs and returns success.
func (m *Manager) Unblock(addr string) error {
	if !m.blocklist.IsBlocked(addr) {
		m.logger.Info("already unblocked", "address", addr)
		return nil
	}

	res := m.driver.Unblock(addr)
	if !res.Success {
		return wardenerrors.Errorf(wardenerrors.KindUnavailable, "packet-filter unblock failed for %s: %s", addr, res.Diagnostic)
	}

	if err := m.store.DeleteBlock(addr); err != nil {
		return err
	}
	m.blocklist.MarkUnblocked(addr)
	m.publish(eventbus.Unblock, map[string]any{"address": addr})
	return nil
}

// Reconcile loads every BlockRecord from the store and aligns the
// in-memory set, the packet-filter rules, and pending expiry callbacks
// with it. It must complete before the syslog tail starts, so no
// connection is ever classified against a stale block set.
func (m *Manager) Reconcile() error {
	records, err := m.store.ListBlocks()
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	for _, rec := range records {
		if !rec.ScheduledUnblock.After(now) {
			m.driver.Unblock(rec.Address)
			if err := m.store.DeleteBlock(rec.Address); err != nil {
				m.logger.Error("reconciliation delete failed", "address", rec.Address, "error", err)
			}
			continue
		}

		m.blocklist.MarkBlocked(rec.Address)
		addr := rec.Address
		m.scheduler.ScheduleOnceAt(rec.ScheduledUnblock, func(string) {
			m.driver.Unblock(addr)
			if err := m.store.DeleteBlock(addr); err != nil {
				m.logger.Error("scheduled unblock delete failed", "address", addr, "error", err)
			}
			m.blocklist.MarkUnblocked(addr)
			m.publish(eventbus.BlockExpired, map[string]any{"address": addr})
		})
	}
	return nil
}

// ExpirySweep deletes every expired BlockRecord and unblocks each,
// publishing BlockExpired per address. Invoked periodically by the
// scheduler (nominally every 30 ticks).
func (m *Manager) ExpirySweep() error {
	expired, err := m.store.RemoveAllExpired(time.Now().UTC())
	if err != nil {
		return err
	}
	for _, rec := range expired {
		m.driver.Unblock(rec.Address)
		m.blocklist.MarkUnblocked(rec.Address)
		m.publish(eventbus.BlockExpired, map[string]any{"address": rec.Address})
	}
	return nil
}

func (m *Manager) publish(variant eventbus.Variant, fields map[string]any) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(eventbus.Event{Variant: variant, Fields: fields})
}
