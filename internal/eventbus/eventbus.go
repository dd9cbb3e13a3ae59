// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package eventbus is the typed publish/subscribe bus that decouples
// event producers (the enforcement engine, the lifecycle manager, periodic
// tasks) from reactive subscribers (notification dispatch, audit logging,
// the command server's monitor feed).
package eventbus

import "sync"

// Variant tags the kind of event carried by an Event.
type Variant string

const (
	ConnectionAttempt  Variant = "ConnectionAttempt"
	Block              Variant = "Block"
	Unblock            Variant = "Unblock"
	BlockExpired       Variant = "BlockExpired"
	GeoBlock           Variant = "GeoBlock"
	PortScanDetected   Variant = "PortScanDetected"
	BandwidthExceeded  Variant = "BandwidthExceeded"
	RateLimitExceeded  Variant = "RateLimitExceeded"
	WhitelistAdded     Variant = "WhitelistAdded"
	WhitelistRemoved   Variant = "WhitelistRemoved"
)

// Event is one published occurrence. Fields is a loosely-typed payload bag;
// callers agree on the shape per Variant (documented alongside each
// producer) rather than the bus enforcing a schema.
type Event struct {
	Variant Variant
	Fields  map[string]any
}

// Handler reacts to one Event. A Handler that panics is isolated by the bus
// and reported to ErrorSink; it never prevents other handlers from running.
type Handler func(Event)

// ErrorSink receives the variant being published, the name the failing
// handler was given at Subscribe, and the value recovered from its panic.
type ErrorSink func(variant Variant, handlerName string, err any)

type subscription struct {
	id      int
	name    string
	handler Handler
}

// Bus is a typed, synchronous publish/subscribe bus. Publish iterates over
// a snapshot of subscribers taken under a short lock, so Subscribe/
// Unsubscribe may run concurrently with Publish without blocking handler
// execution on the subscriber-list lock.
type Bus struct {
	mu        sync.Mutex
	subs      map[Variant][]subscription
	nextID    int
	errorSink ErrorSink
}

// New creates a Bus. If sink is nil, handler panics are silently swallowed
// after isolation (still isolated, just unreported).
func New(sink ErrorSink) *Bus {
	if sink == nil {
		sink = func(Variant, string, any) {}
	}
	return &Bus{
		subs:      make(map[Variant][]subscription),
		errorSink: sink,
	}
}

// Subscription is an opaque handle returned by Subscribe, passed back to
// Unsubscribe.
type Subscription struct {
	variant Variant
	id      int
}

// Subscribe registers handler under name for variant. name identifies the
// handler in ErrorSink reports.
func (b *Bus) Subscribe(variant Variant, name string, handler Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.subs[variant] = append(b.subs[variant], subscription{id: id, name: name, handler: handler})
	return Subscription{variant: variant, id: id}
}

// Unsubscribe removes a previously-registered subscription. Unsubscribing
// an already-removed subscription is a no-op.
func (b *Bus) Unsubscribe(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.subs[sub.variant]
	for i, s := range list {
		if s.id == sub.id {
			b.subs[sub.variant] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// Publish delivers event synchronously to every current subscriber of
// event.Variant, in registration order. Each handler runs inside a recover
// boundary: a panic is reported to the ErrorSink and does not stop delivery
// to the remaining handlers.
func (b *Bus) Publish(event Event) {
	b.mu.Lock()
	snapshot := make([]subscription, len(b.subs[event.Variant]))
	copy(snapshot, b.subs[event.Variant])
	b.mu.Unlock()

	for _, sub := range snapshot {
		b.deliver(sub, event)
	}
}

func (b *Bus) deliver(sub subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.errorSink(event.Variant, sub.name, r)
		}
	}()
	sub.handler(event)
}
