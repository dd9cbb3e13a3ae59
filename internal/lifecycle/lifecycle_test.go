// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package lifecycle

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"warden/internal/blocklist"
	"warden/internal/eventbus"
	"warden/internal/pfilter"
	"warden/internal/scheduler"
	"warden/internal/store"
)

type fakeDriver struct {
	mu      sync.Mutex
	blocks  []string
	unblock []string
}

func (f *fakeDriver) Block(addr string) pfilter.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocks = append(f.blocks, addr)
	return pfilter.Result{Success: true}
}

func (f *fakeDriver) Unblock(addr string) pfilter.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unblock = append(f.unblock, addr)
	return pfilter.Result{Success: true}
}

func (f *fakeDriver) blockCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.blocks)
}

func newTestManager(t *testing.T) (*Manager, *fakeDriver, *store.Store, *blocklist.Manager) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "firewall.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	bl, err := blocklist.New(filepath.Join(dir, "blocklist.txt"), filepath.Join(dir, "whitelist.txt"), nil)
	if err != nil {
		t.Fatalf("blocklist.New: %v", err)
	}

	driver := &fakeDriver{}
	sched := scheduler.New(nil)
	t.Cleanup(sched.Close)
	bus := eventbus.New(nil)

	return New(driver, st, bl, sched, bus), driver, st, bl
}

func TestBlockThenUnblock_ReturnsStoreToPreBlockRowCount(t *testing.T) {
	m, driver, st, _ := newTestManager(t)

	before, err := st.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}

	if err := m.Block("1.2.3.4", time.Minute); err != nil {
		t.Fatalf("Block: %v", err)
	}
	if err := m.Unblock("1.2.3.4"); err != nil {
		t.Fatalf("Unblock: %v", err)
	}

	after, err := st.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if after.Total != before.Total {
		t.Errorf("expected row count parity, before=%d after=%d", before.Total, after.Total)
	}
	if driver.blockCount() != 1 {
		t.Errorf("expected exactly one driver.Block call, got %d", driver.blockCount())
	}
}

func TestBlock_WhitelistedAddressRejected(t *testing.T) {
	m, driver, _, bl := newTestManager(t)
	if err := bl.AddWhitelist("8.8.8.8"); err != nil {
		t.Fatalf("AddWhitelist: %v", err)
	}

	err := m.Block("8.8.8.8", time.Minute)
	if err == nil {
		t.Fatal("expected Block of a whitelisted address to be rejected")
	}
	if driver.blockCount() != 0 {
		t.Errorf("expected no packet-filter call for whitelisted address, got %d", driver.blockCount())
	}
}

func TestBlock_AlreadyBlockedIsNoOp(t *testing.T) {
	m, driver, _, _ := newTestManager(t)

	if err := m.Block("1.2.3.4", time.Minute); err != nil {
		t.Fatalf("first Block: %v", err)
	}
	if err := m.Block("1.2.3.4", time.Minute); err != nil {
		t.Fatalf("second Block: %v", err)
	}

	if driver.blockCount() != 1 {
		t.Errorf("expected second Block to be a no-op, driver called %d times", driver.blockCount())
	}
}

func TestUnblock_NotBlockedReturnsSuccess(t *testing.T) {
	m, driver, _, _ := newTestManager(t)

	if err := m.Unblock("9.9.9.9"); err != nil {
		t.Fatalf("expected Unblock of a never-blocked address to succeed, got %v", err)
	}
	if len(driver.unblock) != 0 {
		t.Errorf("expected no packet-filter call, got %v", driver.unblock)
	}
}

func TestExpirySweep_UnblocksExpiredRecords(t *testing.T) {
	m, driver, st, bl := newTestManager(t)

	now := time.Now().UTC()
	if err := st.UpsertBlock(store.BlockRecord{
		Address:          "10.0.0.1",
		BlockedAt:        now.Add(-time.Minute),
		DurationSeconds:  60,
		ScheduledUnblock: now.Add(-time.Second),
	}); err != nil {
		t.Fatalf("UpsertBlock: %v", err)
	}
	bl.MarkBlocked("10.0.0.1")

	if err := m.ExpirySweep(); err != nil {
		t.Fatalf("ExpirySweep: %v", err)
	}

	if len(driver.unblock) != 1 || driver.unblock[0] != "10.0.0.1" {
		t.Errorf("expected the packet-filter driver's unblock called with 10.0.0.1, got %v", driver.unblock)
	}
	if bl.IsBlocked("10.0.0.1") {
		t.Error("expected 10.0.0.1 to be removed from in-memory blocked set")
	}
	blocks, err := st.ListBlocks()
	if err != nil {
		t.Fatalf("ListBlocks: %v", err)
	}
	if len(blocks) != 0 {
		t.Errorf("expected store row to be gone after sweep, got %+v", blocks)
	}
}

func TestReconcile_ExpiredRecordUnblocksImmediately(t *testing.T) {
	m, driver, st, bl := newTestManager(t)

	now := time.Now().UTC()
	if err := st.UpsertBlock(store.BlockRecord{
		Address:          "10.0.0.2",
		BlockedAt:        now.Add(-time.Hour),
		DurationSeconds:  60,
		ScheduledUnblock: now.Add(-time.Minute),
	}); err != nil {
		t.Fatalf("UpsertBlock: %v", err)
	}

	if err := m.Reconcile(); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	if len(driver.unblock) != 1 || driver.unblock[0] != "10.0.0.2" {
		t.Errorf("expected reconciliation to unblock expired 10.0.0.2, got %v", driver.unblock)
	}
	blocks, err := st.ListBlocks()
	if err != nil {
		t.Fatalf("ListBlocks: %v", err)
	}
	if len(blocks) != 0 {
		t.Errorf("expected expired record removed by reconciliation, got %+v", blocks)
	}
	if bl.IsBlocked("10.0.0.2") {
		t.Error("expected expired address to not be marked blocked")
	}
}

func TestReconcile_ActiveRecordStaysBlockedAndSchedulesExpiry(t *testing.T) {
	m, driver, st, bl := newTestManager(t)

	now := time.Now().UTC()
	if err := st.UpsertBlock(store.BlockRecord{
		Address:          "10.0.0.3",
		BlockedAt:        now,
		DurationSeconds:  1,
		ScheduledUnblock: now.Add(50 * time.Millisecond),
	}); err != nil {
		t.Fatalf("UpsertBlock: %v", err)
	}

	if err := m.Reconcile(); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	if !bl.IsBlocked("10.0.0.3") {
		t.Error("expected still-active record to be marked blocked in memory")
	}
	if len(driver.unblock) != 0 {
		t.Errorf("expected no immediate unblock for active record, got %v", driver.unblock)
	}

	time.Sleep(200 * time.Millisecond)

	if len(driver.unblock) != 1 || driver.unblock[0] != "10.0.0.3" {
		t.Errorf("expected scheduled one-shot to unblock 10.0.0.3, got %v", driver.unblock)
	}
}
