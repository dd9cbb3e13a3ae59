// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package audit

import (
	"testing"
	"time"

	"warden/internal/eventbus"
)

func TestLogEvent_StampsTimestampWhenZero(t *testing.T) {
	s := newTestStore(t)
	l := NewLogger(s, nil)

	if err := l.LogEvent(Event{EventType: EventReload, Action: "reload", Success: true}); err != nil {
		t.Fatalf("LogEvent: %v", err)
	}

	recent, err := s.Recent(1)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 1 {
		t.Fatalf("expected 1 event, got %d", len(recent))
	}
	if recent[0].Timestamp.IsZero() {
		t.Error("expected LogEvent to stamp a non-zero timestamp")
	}
}

func TestLogEvent_NilStoreDoesNotPersist(t *testing.T) {
	l := NewLogger(nil, nil)
	if err := l.LogEvent(Event{EventType: EventReload, Action: "reload", Success: true}); err != nil {
		t.Fatalf("expected no error with nil store, got %v", err)
	}
}

func TestLogReload_FailureSetsWarnSeverity(t *testing.T) {
	s := newTestStore(t)
	l := NewLogger(s, nil)

	l.LogReload(false, "syntax error in ruleset")

	recent, err := s.Recent(1)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	ev := recent[0]
	if ev.EventType != EventReload || ev.Severity != SeverityWarn || ev.Message != "syntax error in ruleset" {
		t.Errorf("unexpected event: %+v", ev)
	}
}

func TestLogCommand_RecordsRemoteAddrAndLine(t *testing.T) {
	s := newTestStore(t)
	l := NewLogger(s, nil)

	l.LogCommand("127.0.0.1:54321", "block 1.2.3.4", true)

	recent, err := s.Recent(1)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	ev := recent[0]
	if ev.EventType != EventCommandExec || ev.Address != "127.0.0.1:54321" || ev.Action != "block 1.2.3.4" {
		t.Errorf("unexpected event: %+v", ev)
	}
}

func TestSubscribeAndClose_WiresAndUnwiresFromBus(t *testing.T) {
	s := newTestStore(t)
	l := NewLogger(s, nil)
	bus := eventbus.New(nil)
	l.Subscribe(bus)

	bus.Publish(eventbus.Event{Variant: eventbus.Block, Fields: map[string]any{"address": "1.2.3.4"}})
	time.Sleep(20 * time.Millisecond)

	recent, err := s.Recent(10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	first := len(recent)
	if first == 0 {
		t.Fatal("expected at least one persisted event from a Block bus event")
	}

	l.Close(bus)
	bus.Publish(eventbus.Event{Variant: eventbus.GeoBlock, Fields: map[string]any{"address": "5.6.7.8"}})
	time.Sleep(20 * time.Millisecond)

	recent, err = s.Recent(10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != first {
		t.Errorf("expected no further persistence after Close, got %d -> %d", first, len(recent))
	}
}

func TestHandleEvent_GeoBlockUsesWarnSeverityAndDistinctAction(t *testing.T) {
	s := newTestStore(t)
	l := NewLogger(s, nil)
	bus := eventbus.New(nil)
	l.Subscribe(bus)
	defer l.Close(bus)

	bus.Publish(eventbus.Event{Variant: eventbus.GeoBlock, Fields: map[string]any{"address": "8.8.8.8", "country": "XX"}})
	time.Sleep(20 * time.Millisecond)

	events, err := s.ForAddress("8.8.8.8")
	if err != nil {
		t.Fatalf("ForAddress: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].EventType != EventBlock || events[0].Severity != SeverityWarn || events[0].Action != "geo_block" {
		t.Errorf("unexpected event: %+v", events[0])
	}
}
