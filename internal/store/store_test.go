// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package store

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "firewall.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertAndDeleteBlock_RoundTrip(t *testing.T) {
	s := openTestStore(t)

	before, err := s.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}

	now := time.Now().UTC()
	rec := BlockRecord{
		Address:          "1.2.3.4",
		BlockedAt:        now,
		DurationSeconds:  60,
		ScheduledUnblock: now.Add(60 * time.Second),
	}
	if err := s.UpsertBlock(rec); err != nil {
		t.Fatalf("UpsertBlock: %v", err)
	}

	blocks, err := s.ListBlocks()
	if err != nil {
		t.Fatalf("ListBlocks: %v", err)
	}
	if len(blocks) != 1 || blocks[0].Address != "1.2.3.4" {
		t.Fatalf("expected one block for 1.2.3.4, got %+v", blocks)
	}

	if err := s.DeleteBlock("1.2.3.4"); err != nil {
		t.Fatalf("DeleteBlock: %v", err)
	}

	after, err := s.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if after.Total != before.Total {
		t.Errorf("expected row count to return to pre-block value %d, got %d", before.Total, after.Total)
	}
}

func TestUpsertBlock_Replaces(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC()

	if err := s.UpsertBlock(BlockRecord{Address: "5.5.5.5", BlockedAt: now, DurationSeconds: 60, ScheduledUnblock: now.Add(60 * time.Second)}); err != nil {
		t.Fatalf("first UpsertBlock: %v", err)
	}
	if err := s.UpsertBlock(BlockRecord{Address: "5.5.5.5", BlockedAt: now, DurationSeconds: 120, ScheduledUnblock: now.Add(120 * time.Second)}); err != nil {
		t.Fatalf("second UpsertBlock: %v", err)
	}

	blocks, err := s.ListBlocks()
	if err != nil {
		t.Fatalf("ListBlocks: %v", err)
	}
	if len(blocks) != 1 {
		t.Fatalf("expected exactly one row for 5.5.5.5, got %d", len(blocks))
	}
	if blocks[0].DurationSeconds != 120 {
		t.Errorf("expected duration to be updated to 120, got %d", blocks[0].DurationSeconds)
	}
}

func TestRemoveAllExpired_InclusiveBoundary(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC()

	// scheduled_unblock exactly equal to now must be treated as expired
	// (the boundary is inclusive).
	expired := BlockRecord{Address: "10.0.0.1", BlockedAt: now.Add(-time.Minute), DurationSeconds: 60, ScheduledUnblock: now}
	stillActive := BlockRecord{Address: "10.0.0.2", BlockedAt: now, DurationSeconds: 600, ScheduledUnblock: now.Add(10 * time.Minute)}

	if err := s.UpsertBlock(expired); err != nil {
		t.Fatalf("UpsertBlock expired: %v", err)
	}
	if err := s.UpsertBlock(stillActive); err != nil {
		t.Fatalf("UpsertBlock active: %v", err)
	}

	removed, err := s.RemoveAllExpired(now)
	if err != nil {
		t.Fatalf("RemoveAllExpired: %v", err)
	}
	if len(removed) != 1 || removed[0].Address != "10.0.0.1" {
		t.Fatalf("expected exactly 10.0.0.1 to be removed, got %+v", removed)
	}

	remaining, err := s.ListBlocks()
	if err != nil {
		t.Fatalf("ListBlocks: %v", err)
	}
	if len(remaining) != 1 || remaining[0].Address != "10.0.0.2" {
		t.Fatalf("expected 10.0.0.2 to remain, got %+v", remaining)
	}
}

func TestHistoryTagsComments(t *testing.T) {
	s := openTestStore(t)
	addr := "8.8.8.8"

	if err := s.InsertHistory(HistoryEvent{Address: addr, Time: time.Now().UTC(), Message: "login fail"}); err != nil {
		t.Fatalf("InsertHistory: %v", err)
	}
	if err := s.InsertHistory(HistoryEvent{Address: addr, Time: time.Now().UTC(), Message: "probe"}); err != nil {
		t.Fatalf("InsertHistory: %v", err)
	}

	hist, err := s.ListHistory(addr)
	if err != nil {
		t.Fatalf("ListHistory: %v", err)
	}
	if len(hist) != 2 {
		t.Fatalf("expected 2 history rows, got %d", len(hist))
	}

	stats, err := s.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.RecentFails != 1 {
		t.Errorf("expected 1 fail-matching row (case-insensitive), got %d", stats.RecentFails)
	}

	if err := s.InsertTag(addr, "suspicious"); err != nil {
		t.Fatalf("InsertTag: %v", err)
	}
	if err := s.InsertTag(addr, "suspicious"); err != nil {
		t.Fatalf("InsertTag (duplicate): %v", err)
	}
	tags, err := s.ListTags(addr)
	if err != nil {
		t.Fatalf("ListTags: %v", err)
	}
	if len(tags) != 1 {
		t.Errorf("expected tag set to dedupe, got %v", tags)
	}
	if err := s.DeleteTag(addr, "suspicious"); err != nil {
		t.Fatalf("DeleteTag: %v", err)
	}
	tags, err = s.ListTags(addr)
	if err != nil {
		t.Fatalf("ListTags after delete: %v", err)
	}
	if len(tags) != 0 {
		t.Errorf("expected no tags after delete, got %v", tags)
	}

	if err := s.InsertComment(Comment{Address: addr, Time: time.Now().UTC(), Comment: "known scanner"}); err != nil {
		t.Fatalf("InsertComment: %v", err)
	}
	comments, err := s.ListComments(addr)
	if err != nil {
		t.Fatalf("ListComments: %v", err)
	}
	if len(comments) != 1 || comments[0].Comment != "known scanner" {
		t.Fatalf("unexpected comments: %+v", comments)
	}
}
