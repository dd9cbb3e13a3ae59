// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package tasks hosts the periodic tasks: the expiry sweep wrapper,
// port-scan detector, bandwidth (connection-rate) anomaly monitor,
// cert-expiry monitor, and HTTP-bruteforce monitor. The expiry sweep,
// bandwidth sample and cert sweep run on scheduler ticks (see Tasks);
// port-scan detection reacts to ConnectionAttempt events and
// HTTP-bruteforce detection to IngestHTTPAuthFailure calls. They report
// through the logger, the event bus and the Prometheus collectors in
// Metrics.
package tasks

import (
	"sync"
	"time"

	"warden/internal/eventbus"
	"warden/internal/logging"
)

// Blocker is the narrow capability this package needs from the
// lifecycle manager — satisfied directly by *lifecycle.Manager.
type Blocker interface {
	Block(addr string, duration time.Duration) error
}

// Config tunes the detection thresholds. There is no single "correct"
// default for a host firewall's sensitivity, so each threshold is an
// explicit, overridable field rather than a magic number buried in
// logic.
type Config struct {
	PortScanDistinctPorts  int           // distinct destination ports within the window that mark a scan
	PortScanWindow         time.Duration
	BandwidthZScoreLimit   float64       // connection-rate z-score that marks an anomaly
	HTTPBruteforceAttempts int           // failed HTTP auths within the window that mark a brute-force
	HTTPBruteforceWindow   time.Duration
	BlockDuration          time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		PortScanDistinctPorts:  8,
		PortScanWindow:         10 * time.Second,
		BandwidthZScoreLimit:   4.0,
		HTTPBruteforceAttempts: 5,
		HTTPBruteforceWindow:   60 * time.Second,
		BlockDuration:          10 * time.Minute,
	}
}

type portScanState struct {
	ports      map[string]time.Time
	windowFrom time.Time
}

type httpAuthState struct {
	failures []time.Time
}

// Monitor subscribes to the event bus's ConnectionAttempt stream and
// tracks per-address port-scan and connection-rate anomaly state. It is
// independent of the enforcement engine beyond the event bus — it never
// touches the engine's internal attempt window.
type Monitor struct {
	cfg     Config
	bus     *eventbus.Bus
	blocker Blocker
	metrics *Metrics
	logger  *logging.Logger

	mu         sync.Mutex
	portScans  map[string]*portScanState
	rates      map[string]*tracker
	httpAuth   map[string]*httpAuthState
	connCounts map[string]int
}

// NewMonitor creates a Monitor and subscribes it to bus's ConnectionAttempt
// stream. Port-scan detection runs on each such event; connection-rate
// sampling runs only when SampleAllConnectionRates or SampleConnectionRate
// is called.
func NewMonitor(cfg Config, bus *eventbus.Bus, blocker Blocker, metrics *Metrics) *Monitor {
	m := &Monitor{
		cfg:       cfg,
		bus:       bus,
		blocker:   blocker,
		metrics:   metrics,
		logger:    logging.Default().WithComponent("tasks"),
		portScans:  make(map[string]*portScanState),
		rates:      make(map[string]*tracker),
		httpAuth:   make(map[string]*httpAuthState),
		connCounts: make(map[string]int),
	}
	bus.Subscribe(eventbus.ConnectionAttempt, "tasks.monitor", m.onConnectionAttempt)
	return m
}

func (m *Monitor) onConnectionAttempt(ev eventbus.Event) {
	addr, _ := ev.Fields["address"].(string)
	if addr == "" {
		return
	}
	dstPort, _ := ev.Fields["dst_port"].(string)
	now := time.Now().UTC()

	m.mu.Lock()
	m.connCounts[addr]++
	m.mu.Unlock()

	m.observePortScan(addr, dstPort, now)
}

func (m *Monitor) observePortScan(addr, dstPort string, now time.Time) {
	if dstPort == "" {
		return
	}
	m.mu.Lock()
	state, ok := m.portScans[addr]
	if !ok || now.Sub(state.windowFrom) > m.cfg.PortScanWindow {
		state = &portScanState{ports: make(map[string]time.Time), windowFrom: now}
		m.portScans[addr] = state
	}
	state.ports[dstPort] = now
	flag := len(state.ports) >= m.cfg.PortScanDistinctPorts
	distinctPorts := len(state.ports)
	if flag {
		delete(m.portScans, addr)
	}
	m.mu.Unlock()

	if flag {
		m.flagPortScan(addr, distinctPorts)
	}
}

func (m *Monitor) flagPortScan(addr string, distinctPorts int) {
	m.logger.Warn("port scan detected", "address", addr, "distinct_ports", distinctPorts)
	if m.metrics != nil {
		m.metrics.PortScansTotal.Inc()
	}
	m.publish(eventbus.PortScanDetected, map[string]any{"address": addr, "distinct_ports": distinctPorts})
	if err := m.blocker.Block(addr, m.cfg.BlockDuration); err != nil {
		m.logger.Error("block after port scan failed", "address", addr, "error", err)
	}
}

// SampleAllConnectionRates snapshots every address's connection count
// observed since the previous call, resets the counters, and feeds each
// through SampleConnectionRate. This is the method the periodic tick
// drives; SampleConnectionRate itself stays public so tests can inject a
// rate directly without going through the event bus.
func (m *Monitor) SampleAllConnectionRates() {
	m.mu.Lock()
	counts := m.connCounts
	m.connCounts = make(map[string]int)
	m.mu.Unlock()

	for addr, count := range counts {
		m.SampleConnectionRate(addr, float64(count))
	}
}

// SampleConnectionRate feeds the bandwidth anomaly tracker one
// connections-per-tick observation for addr. It is invoked by the periodic
// tick, not per-packet.
func (m *Monitor) SampleConnectionRate(addr string, connectionsPerTick float64) {
	m.mu.Lock()
	tr, ok := m.rates[addr]
	if !ok {
		tr = &tracker{}
		m.rates[addr] = tr
	}
	z := tr.zScore(connectionsPerTick)
	tr.update(connectionsPerTick)
	m.mu.Unlock()

	if z := abs(z); z > m.cfg.BandwidthZScoreLimit {
		m.logger.Warn("connection-rate anomaly", "address", addr, "z_score", z, "rate", connectionsPerTick)
		if m.metrics != nil {
			m.metrics.BandwidthExceededTotal.Inc()
		}
		m.publish(eventbus.BandwidthExceeded, map[string]any{"address": addr, "z_score": z})
		if err := m.blocker.Block(addr, m.cfg.BlockDuration); err != nil {
			m.logger.Error("block after bandwidth anomaly failed", "address", addr, "error", err)
		}
	}
}

// IngestHTTPAuthFailure records one failed HTTP authentication attempt for
// addr. Intended for a future HTTP-facing log source; exercised directly
// in tests until such a source exists, since the log tailer currently
// only reads kernel syslog, not an HTTP access log.
func (m *Monitor) IngestHTTPAuthFailure(addr string) {
	now := time.Now().UTC()

	m.mu.Lock()
	state, ok := m.httpAuth[addr]
	if !ok {
		state = &httpAuthState{}
		m.httpAuth[addr] = state
	}

	cutoff := now.Add(-m.cfg.HTTPBruteforceWindow)
	kept := state.failures[:0]
	for _, t := range state.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	state.failures = append(kept, now)
	flag := len(state.failures) >= m.cfg.HTTPBruteforceAttempts
	attempts := len(state.failures)
	if flag {
		delete(m.httpAuth, addr)
	}
	m.mu.Unlock()

	if flag {
		m.logger.Warn("HTTP brute-force detected", "address", addr, "attempts", attempts)
		if m.metrics != nil {
			m.metrics.HTTPBruteforceTotal.Inc()
		}
		m.publish(eventbus.RateLimitExceeded, map[string]any{"address": addr, "surface": "http"})
		if err := m.blocker.Block(addr, m.cfg.BlockDuration); err != nil {
			m.logger.Error("block after HTTP brute-force failed", "address", addr, "error", err)
		}
	}
}

func (m *Monitor) publish(variant eventbus.Variant, fields map[string]any) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(eventbus.Event{Variant: variant, Fields: fields})
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
