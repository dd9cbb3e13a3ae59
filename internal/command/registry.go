// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package command is the command server and command registry: a
// line-oriented TCP control channel, optionally TLS- and AES-CBC-
// protected, dispatching to a name->handler registry rather than a
// net/rpc surface.
package command

import (
	"sort"
	"strings"
	"sync"

	wardenerrors "warden/internal/errors"
)

// Command is one named control-channel operation.
type Command interface {
	Name() string
	Description() string
	Usage() string
	Execute(args []string, ctx *Context) (string, error)
}

// Registry maps command names (case-insensitive) to their Command.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]Command
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Command)}
}

// Register adds cmd, keyed by its lower-cased name. Registering a name
// that already exists replaces the prior entry.
func (r *Registry) Register(cmd Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[strings.ToLower(cmd.Name())] = cmd
}

// Unregister removes name, if present.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byName, strings.ToLower(name))
}

// GetByName looks up a command case-insensitively.
func (r *Registry) GetByName(name string) (Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.byName[strings.ToLower(name)]
	return cmd, ok
}

// Registered returns every command, sorted by name for stable `help` output.
func (r *Registry) Registered() []Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmds := make([]Command, 0, len(r.byName))
	for _, c := range r.byName {
		cmds = append(cmds, c)
	}
	sort.Slice(cmds, func(i, j int) bool { return cmds[i].Name() < cmds[j].Name() })
	return cmds
}

// Dispatch splits line on whitespace, looks up the first token as a command
// name, and executes it with the remaining tokens as args. An unknown
// command name is a KindValidation error.
func (r *Registry) Dispatch(line string, ctx *Context) (string, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil
	}

	cmd, ok := r.GetByName(fields[0])
	if !ok {
		return "", wardenerrors.Errorf(wardenerrors.KindValidation, "unknown command %q", fields[0])
	}
	return cmd.Execute(fields[1:], ctx)
}
