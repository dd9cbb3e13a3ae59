// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package audit

import (
	"time"

	"warden/internal/eventbus"
	"warden/internal/logging"
)

// Logger writes audit events to the structured logger and, if a Store is
// attached, persists them.
type Logger struct {
	store  *Store
	logger *logging.Logger
	subs   []eventbus.Subscription
}

// NewLogger creates a Logger. store may be nil (events are logged but not
// persisted).
func NewLogger(store *Store, logger *logging.Logger) *Logger {
	if logger == nil {
		logger = logging.Default().WithComponent("audit")
	}
	return &Logger{store: store, logger: logger}
}

// LogEvent stamps ev.Timestamp if unset, logs it at the level implied by
// its Severity, and persists it if a Store is attached.
func (l *Logger) LogEvent(ev Event) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	l.logStructured(ev)

	if l.store == nil {
		return nil
	}
	if err := l.store.Write(ev); err != nil {
		l.logger.Error("failed to persist audit event", "error", err)
		return err
	}
	return nil
}

func (l *Logger) logStructured(ev Event) {
	kv := []any{
		"event_type", ev.EventType,
		"address", ev.Address,
		"action", ev.Action,
		"success", ev.Success,
	}
	switch ev.Severity {
	case SeverityWarn:
		l.logger.Warn("AUDIT", kv...)
	case SeverityError:
		l.logger.Error("AUDIT", append(kv, "message", ev.Message)...)
	default:
		l.logger.Info("AUDIT", kv...)
	}
}

// LogReload records a packet-filter rule reload. Block, unblock, and
// whitelist changes are not logged here: handleEvent already records every
// one of them off the bus, regardless of whether they originated from the
// engine, a scheduled sweep, or a command.
func (l *Logger) LogReload(success bool, diagnostic string) {
	ev := Event{EventType: EventReload, Severity: SeverityInfo, Action: "reload", Success: success}
	if !success {
		ev.Severity = SeverityWarn
		ev.Message = diagnostic
	}
	l.LogEvent(ev)
}

// LogCommand records one command-server invocation.
func (l *Logger) LogCommand(remoteAddr, line string, success bool) {
	l.LogEvent(Event{
		EventType: EventCommandExec,
		Severity:  SeverityInfo,
		Address:   remoteAddr,
		Action:    line,
		Success:   success,
	})
}

// busVariants is the subset of eventbus.Variant this Logger auto-records;
// command-server actions are logged directly by the server, not via the
// bus, since the bus events carry no remote-address/line context.
var busVariants = []eventbus.Variant{
	eventbus.Block,
	eventbus.Unblock,
	eventbus.BlockExpired,
	eventbus.GeoBlock,
	eventbus.WhitelistAdded,
	eventbus.WhitelistRemoved,
}

// Subscribe wires the Logger onto bus so Block/Unblock/whitelist events are
// recorded automatically.
func (l *Logger) Subscribe(bus *eventbus.Bus) {
	for _, v := range busVariants {
		l.subs = append(l.subs, bus.Subscribe(v, "audit.logger", l.handleEvent))
	}
}

// Close unsubscribes from bus.
func (l *Logger) Close(bus *eventbus.Bus) {
	for _, s := range l.subs {
		bus.Unsubscribe(s)
	}
	l.subs = nil
}

func (l *Logger) handleEvent(ev eventbus.Event) {
	addr, _ := ev.Fields["address"].(string)
	switch ev.Variant {
	case eventbus.Block:
		l.LogEvent(Event{EventType: EventBlock, Severity: SeverityInfo, Address: addr, Action: "block", Success: true, Details: ev.Fields})
	case eventbus.Unblock, eventbus.BlockExpired:
		l.LogEvent(Event{EventType: EventUnblock, Severity: SeverityInfo, Address: addr, Action: string(ev.Variant), Success: true, Details: ev.Fields})
	case eventbus.GeoBlock:
		l.LogEvent(Event{EventType: EventBlock, Severity: SeverityWarn, Address: addr, Action: "geo_block", Success: true, Details: ev.Fields})
	case eventbus.WhitelistAdded:
		l.LogEvent(Event{EventType: EventWhitelistAdd, Severity: SeverityInfo, Address: addr, Action: "whitelist_add", Success: true, Details: ev.Fields})
	case eventbus.WhitelistRemoved:
		l.LogEvent(Event{EventType: EventWhitelistRemove, Severity: SeverityInfo, Address: addr, Action: "whitelist_remove", Success: true, Details: ev.Fields})
	}
}
