// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package command

import (
	"time"

	"warden/internal/eventbus"
	"warden/internal/pfilter"
	"warden/internal/store"
)

// Lifecycle is the narrow capability commands need from the block
// lifecycle manager.
type Lifecycle interface {
	Block(addr string, duration time.Duration) error
	Unblock(addr string) error
}

// Blocklist is the narrow capability commands need from the block-list
// manager.
type Blocklist interface {
	Blocked() []string
	IsBlocked(addr string) bool
	AddWhitelist(addr string) error
	RemoveWhitelist(addr string) error
}

// Records is the narrow capability commands need from the store, beyond
// what the lifecycle manager already owns exclusively for block/unblock.
type Records interface {
	ListHistory(addr string) ([]store.HistoryEvent, error)
	InsertTag(addr, tag string) error
	DeleteTag(addr, tag string) error
	ListTags(addr string) ([]string, error)
	InsertComment(c store.Comment) error
	ListComments(addr string) ([]store.Comment, error)
	Stats() (store.Stats, error)
}

// Reloader is the narrow capability `reload` needs from the
// packet-filter driver.
type Reloader interface {
	Reload(sshPort int, extraRules, customRules []string) pfilter.Result
}

// Exporter performs the exportlogs/show-logs file operations. It is kept
// separate from Records since it operates on the plaintext log file, not
// the SQLite store.
type Exporter interface {
	ExportLogs(destName string) (string, error)
	ShowLogs(lastN int) ([]string, error)
	RotateLogs() error
	ClearLog() error
}

// Auditor records command-server mutations that the event bus has no
// context to capture on its own: the remote address and raw command line
// behind a dispatch, and whether a reload succeeded.
type Auditor interface {
	LogCommand(remoteAddr, line string, success bool)
	LogReload(success bool, diagnostic string)
}

// Context bundles everything a Command.Execute needs. It is assembled once
// at server construction and passed by reference to every invocation —
// explicit construction instead of a service-locator god object.
type Context struct {
	Lifecycle Lifecycle
	Blocklist Blocklist
	Records   Records
	Reloader  Reloader
	Exporter  Exporter
	Auditor   Auditor
	Registry  *Registry
	Bus       *eventbus.Bus

	SSHPort     int
	ExtraRules  []string
	CustomRules []string
	StartedAt   time.Time
	Version     string

	// Shutdown is invoked by the `exit` command to begin graceful
	// shutdown; nil-safe.
	Shutdown func()
}
