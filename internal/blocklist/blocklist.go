// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package blocklist is the block-list manager: the in-memory
// blocked/whitelisted address sets, seeded from two text files and kept in
// sync with them as whitelist entries are added or removed. It exclusively
// owns these two in-memory sets.
package blocklist

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"warden/internal/eventbus"
	wardenerrors "warden/internal/errors"
	"warden/internal/logging"
)

// Manager holds the in-memory blocked and whitelisted address sets, backed
// by two seed files. Reads/writes are guarded by a readers-writer lock.
type Manager struct {
	mu            sync.RWMutex
	blocked       map[string]struct{}
	whitelisted   map[string]struct{}
	whitelistPath string
	logger        *logging.Logger
	bus           *eventbus.Bus
}

// New loads blocklistPath and whitelistPath (both in a `#`-comment,
// blank-line-ignored line format) into in-memory sets. bus may be nil
// (whitelist add/remove simply won't publish).
func New(blocklistPath, whitelistPath string, bus *eventbus.Bus) (*Manager, error) {
	m := &Manager{
		blocked:       make(map[string]struct{}),
		whitelisted:   make(map[string]struct{}),
		whitelistPath: whitelistPath,
		logger:        logging.Default().WithComponent("blocklist"),
		bus:           bus,
	}

	blocked, err := loadAddressFile(blocklistPath)
	if err != nil {
		return nil, err
	}
	for _, a := range blocked {
		m.blocked[a] = struct{}{}
	}

	whitelisted, err := loadAddressFile(whitelistPath)
	if err != nil {
		return nil, err
	}
	for _, a := range whitelisted {
		m.whitelisted[a] = struct{}{}
	}

	return m, nil
}

// loadAddressFile reads one address literal per line, ignoring blank lines
// and lines starting with '#'. A missing file yields an empty set, since
// the seed files are optional scaffolding rather than a hard requirement.
func loadAddressFile(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, wardenerrors.Wrapf(err, wardenerrors.KindUnavailable, "blocklist: open %s", path)
	}
	defer f.Close()

	var out []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, wardenerrors.Wrapf(err, wardenerrors.KindUnavailable, "blocklist: read %s", path)
	}
	return out, nil
}

// IsBlocked reports whether addr is in the in-memory blocked set (distinct
// from "currently has an active BlockRecord" — see internal/lifecycle).
func (m *Manager) IsBlocked(addr string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.blocked[addr]
	return ok
}

// IsWhitelisted reports whether addr is in the whitelist set.
func (m *Manager) IsWhitelisted(addr string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.whitelisted[addr]
	return ok
}

// MarkBlocked adds addr to the in-memory blocked set. Called by
// internal/lifecycle after a successful packet-filter install.
func (m *Manager) MarkBlocked(addr string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocked[addr] = struct{}{}
}

// MarkUnblocked removes addr from the in-memory blocked set.
func (m *Manager) MarkUnblocked(addr string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blocked, addr)
}

// Blocked returns a snapshot of every address currently in the blocked set.
func (m *Manager) Blocked() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.blocked))
	for a := range m.blocked {
		out = append(out, a)
	}
	return out
}

// AddWhitelist adds addr to the whitelist set, appends it to the whitelist
// file, and publishes WhitelistAdded. Adding an already-whitelisted address
// is a no-op that still returns success.
func (m *Manager) AddWhitelist(addr string) error {
	m.mu.Lock()
	if _, already := m.whitelisted[addr]; already {
		m.mu.Unlock()
		return nil
	}
	m.whitelisted[addr] = struct{}{}
	m.mu.Unlock()

	if err := m.appendWhitelistFile(addr); err != nil {
		m.mu.Lock()
		delete(m.whitelisted, addr)
		m.mu.Unlock()
		return err
	}

	if m.bus != nil {
		m.bus.Publish(eventbus.Event{Variant: eventbus.WhitelistAdded, Fields: map[string]any{"address": addr}})
	}
	return nil
}

// RemoveWhitelist removes addr from the whitelist set, rewrites the
// whitelist file omitting it, and publishes WhitelistRemoved.
func (m *Manager) RemoveWhitelist(addr string) error {
	m.mu.Lock()
	if _, present := m.whitelisted[addr]; !present {
		m.mu.Unlock()
		return nil
	}
	delete(m.whitelisted, addr)
	remaining := make([]string, 0, len(m.whitelisted))
	for a := range m.whitelisted {
		remaining = append(remaining, a)
	}
	m.mu.Unlock()

	if err := m.rewriteWhitelistFile(remaining); err != nil {
		m.mu.Lock()
		m.whitelisted[addr] = struct{}{}
		m.mu.Unlock()
		return err
	}

	if m.bus != nil {
		m.bus.Publish(eventbus.Event{Variant: eventbus.WhitelistRemoved, Fields: map[string]any{"address": addr}})
	}
	return nil
}

func (m *Manager) appendWhitelistFile(addr string) error {
	if m.whitelistPath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(m.whitelistPath), 0755); err != nil {
		return wardenerrors.Wrapf(err, wardenerrors.KindUnavailable, "blocklist: mkdir for %s", m.whitelistPath)
	}
	f, err := os.OpenFile(m.whitelistPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return wardenerrors.Wrapf(err, wardenerrors.KindUnavailable, "blocklist: open %s for append", m.whitelistPath)
	}
	defer f.Close()
	if _, err := f.WriteString(addr + "\n"); err != nil {
		return wardenerrors.Wrapf(err, wardenerrors.KindUnavailable, "blocklist: append %s", m.whitelistPath)
	}
	return nil
}

func (m *Manager) rewriteWhitelistFile(remaining []string) error {
	if m.whitelistPath == "" {
		return nil
	}
	var b strings.Builder
	for _, a := range remaining {
		b.WriteString(a)
		b.WriteString("\n")
	}
	if err := os.WriteFile(m.whitelistPath, []byte(b.String()), 0644); err != nil {
		return wardenerrors.Wrapf(err, wardenerrors.KindUnavailable, "blocklist: rewrite %s", m.whitelistPath)
	}
	return nil
}
