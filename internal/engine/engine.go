// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package engine is the enforcement engine: window-based rate counting,
// geo and whitelist checks, and the block decision. It is the only
// writer of attempt-window state.
package engine

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"warden/internal/blocklist"
	"warden/internal/eventbus"
	"warden/internal/geo"
	"warden/internal/logging"
	"warden/internal/syslogtail"
)

// Blocker is the narrow capability this engine needs from the block
// lifecycle manager, rather than depending on the full firewall
// context.
type Blocker interface {
	Block(addr string, duration time.Duration) error
}

// Config governs threshold/window behavior, mirroring internal/config's
// EngineConfig without importing it directly (keeps this package testable
// without a config.Config fixture).
type Config struct {
	ThresholdAttempts    int
	ThresholdSeconds     float64
	DefaultDuration      time.Duration
	PlaintextLogsEnabled bool
	PlaintextLogPath     string
}

// window is one address's bounded time-ordered observation sequence,
// independently lockable so contention between different addresses
// never serializes.
type window struct {
	mu         sync.Mutex
	timestamps []time.Time
}

// Engine evaluates classified connection records and decides whether to
// block.
type Engine struct {
	cfg       Config
	blocklist *blocklist.Manager
	geo       *geo.Resolver
	bus       *eventbus.Bus
	blocker   Blocker
	logger    *logging.Logger

	idsMu sync.Mutex
	ids   map[string]string // address -> minted UUID

	winMu   sync.Mutex
	windows map[string]*window

	logMu sync.Mutex
}

// New creates an Engine.
func New(cfg Config, bl *blocklist.Manager, geoResolver *geo.Resolver, bus *eventbus.Bus, blocker Blocker) *Engine {
	return &Engine{
		cfg:       cfg,
		blocklist: bl,
		geo:       geoResolver,
		bus:       bus,
		blocker:   blocker,
		logger:    logging.Default().WithComponent("engine"),
		ids:       make(map[string]string),
		windows:   make(map[string]*window),
	}
}

// identifierFor returns the stable UUID for addr, minting one on first
// observation.
func (e *Engine) identifierFor(addr string) string {
	e.idsMu.Lock()
	defer e.idsMu.Unlock()
	id, ok := e.ids[addr]
	if !ok {
		id = uuid.NewString()
		e.ids[addr] = id
	}
	return id
}

func (e *Engine) windowFor(addr string) *window {
	e.winMu.Lock()
	defer e.winMu.Unlock()
	w, ok := e.windows[addr]
	if !ok {
		w = &window{}
		e.windows[addr] = w
	}
	return w
}

// Process runs the classification pipeline for one connection record:
// identify, whitelist check, geo check, window update, and threshold
// decision.
func (e *Engine) Process(rec syslogtail.ConnectionRecord) {
	src := rec.SrcAddr
	id := e.identifierFor(src)

	// 2. Whitelist short-circuit: no count, no block.
	if e.blocklist != nil && e.blocklist.IsWhitelisted(src) {
		e.logger.Debug("connection from whitelisted address ignored", "address", src, "id", id)
		return
	}

	// 3. Always emit ConnectionAttempt for non-whitelisted sources.
	e.publish(eventbus.ConnectionAttempt, map[string]any{
		"address": src,
		"id":      id,
		"src_port": rec.SrcPort,
		"dst_port": rec.DstPort,
	})

	country := "Unknown"
	if e.geo != nil {
		country = e.geo.CountryOf(src)
		if e.geo.IsBlockedCountry(src) {
			e.publish(eventbus.GeoBlock, map[string]any{"address": src, "id": id, "country": country})
			e.logger.Warn("geo-blocking address", "address", src, "country", country)
			if e.blocker != nil {
				if err := e.blocker.Block(src, e.cfg.DefaultDuration); err != nil {
					e.logger.Error("geo block failed", "address", src, "error", err)
				}
			}
			return
		}
	}

	w := e.windowFor(src)
	w.mu.Lock()
	now := time.Now().UTC()
	w.timestamps = append(w.timestamps, now)
	w.timestamps = pruneWindow(w.timestamps, now, e.cfg.ThresholdSeconds)
	size := len(w.timestamps)
	span := windowSpanSeconds(w.timestamps)
	w.mu.Unlock()

	if e.cfg.PlaintextLogsEnabled {
		e.writePlaintextLog(id, src, rec, country, size, span)
	}

	// Empty window after pruning is "no block", never an error condition.
	if size == 0 {
		return
	}

	if size >= e.cfg.ThresholdAttempts {
		e.publish(eventbus.RateLimitExceeded, map[string]any{"address": src, "id": id, "attempts": size})
		e.logger.Warn("rate limit exceeded", "address", src, "attempts", size, "window_seconds", span)
		if e.blocker != nil {
			if err := e.blocker.Block(src, e.cfg.DefaultDuration); err != nil {
				e.logger.Error("rate block failed", "address", src, "error", err)
			}
		}
	}
}

// pruneWindow drops every timestamp older than now - thresholdSeconds,
// leaving the invariant "all timestamps lie within [now - threshold,
// now]" intact.
func pruneWindow(timestamps []time.Time, now time.Time, thresholdSeconds float64) []time.Time {
	cutoff := now.Add(-time.Duration(thresholdSeconds * float64(time.Second)))
	out := timestamps[:0]
	for _, t := range timestamps {
		if !t.Before(cutoff) {
			out = append(out, t)
		}
	}
	return out
}

func windowSpanSeconds(timestamps []time.Time) float64 {
	if len(timestamps) < 2 {
		return 0
	}
	first := timestamps[0]
	last := timestamps[len(timestamps)-1]
	return last.Sub(first).Seconds()
}

func (e *Engine) publish(variant eventbus.Variant, fields map[string]any) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(eventbus.Event{Variant: variant, Fields: fields})
}

// writePlaintextLog appends a pipe-delimited record: timestamp,
// identifier, pid, goroutine/task id (approximated — Go has no stable
// thread id, so the process pid is reused), address, reverse-DNS
// (best-effort), country, src port, dst port, attempts, window span.
func (e *Engine) writePlaintextLog(id, addr string, rec syslogtail.ConnectionRecord, country string, attempts int, spanSeconds float64) {
	if e.cfg.PlaintextLogPath == "" {
		return
	}

	host := reverseDNS(addr)

	line := fmt.Sprintf("%s|%s|%d|%d|%s|%s|%s|%s|%s|attempts=%d|window=%.1f\n",
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
		os.Getpid(),
		os.Getpid(),
		addr,
		host,
		country,
		rec.SrcPort,
		rec.DstPort,
		attempts,
		spanSeconds,
	)

	e.logMu.Lock()
	defer e.logMu.Unlock()

	f, err := os.OpenFile(e.cfg.PlaintextLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		e.logger.Debug("plaintext log open failed", "path", e.cfg.PlaintextLogPath, "error", err)
		return
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if _, err := w.WriteString(line); err != nil {
		e.logger.Debug("plaintext log write failed", "error", err)
		return
	}
	if err := w.Flush(); err != nil {
		e.logger.Debug("plaintext log flush failed", "error", err)
	}
}

// reverseDNS performs a best-effort PTR lookup, returning "n/a" on any
// failure; DNS failures are never surfaced above a debug log.
func reverseDNS(addr string) string {
	names, err := net.LookupAddr(addr)
	if err != nil || len(names) == 0 {
		return "n/a"
	}
	return strings.TrimSuffix(names[0], ".")
}
