// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package pfilter shells out to the platform firewall tool to insert or
// remove DROP rules. It is deliberately stateless — idempotence is the
// caller's responsibility (internal/lifecycle guards against duplicate
// installs by checking its in-memory block set).
package pfilter

import (
	"os/exec"
	"strconv"
	"strings"
	"sync"
)

// Result is the outcome of a single block/unblock invocation. A non-zero
// exit from the underlying tool is reported here rather than as a Go
// error: it's a failure, not a panic-worthy condition.
type Result struct {
	Success    bool
	Diagnostic string
}

// Driver invokes the external packet-filter tool. It is process-global:
// operations are serialized with a mutex so rule insertion/removal never
// interleaves.
type Driver struct {
	mu    sync.Mutex
	path  string
	runFn func(name string, args ...string) ([]byte, error)
}

// New creates a Driver invoking toolPath (e.g. "/sbin/iptables").
func New(toolPath string) *Driver {
	return &Driver{
		path: toolPath,
		runFn: func(name string, args ...string) ([]byte, error) {
			return exec.Command(name, args...).CombinedOutput()
		},
	}
}

// Block inserts a DROP rule for addr at the head of the INPUT chain.
// The rule carries no expiry; the lifecycle manager owns the expiry
// timing.
func (d *Driver) Block(addr string) Result {
	return d.exec("-I", "INPUT", "1", "-s", addr, "-j", "DROP")
}

// Unblock removes the DROP rule for addr.
func (d *Driver) Unblock(addr string) Result {
	return d.exec("-D", "INPUT", "-s", addr, "-j", "DROP")
}

// Reload replays the startup ruleset: default-ACCEPT INPUT, flush, accept
// loopback, established/related traffic and the SSH port, then the two
// verbatim rules files, ending with default-DROP INPUT. It installs no
// rate-drop rule of its own.
func (d *Driver) Reload(sshPort int, extraRules, customRules []string) Result {
	d.mu.Lock()
	defer d.mu.Unlock()

	steps := [][]string{
		{"-P", "INPUT", "ACCEPT"},
		{"-F", "INPUT"},
		{"-A", "INPUT", "-i", "lo", "-j", "ACCEPT"},
		{"-A", "INPUT", "-m", "conntrack", "--ctstate", "ESTABLISHED,RELATED", "-j", "ACCEPT"},
		{"-A", "INPUT", "-p", "tcp", "--dport", strconv.Itoa(sshPort), "-j", "ACCEPT"},
	}

	for _, args := range steps {
		if out, err := d.runFn(d.path, args...); err != nil {
			return Result{Success: false, Diagnostic: diagnostic(args, out, err)}
		}
	}

	for _, line := range extraRules {
		if res := d.execLocked(line); !res.Success {
			return res
		}
	}
	for _, line := range customRules {
		if res := d.execLocked(line); !res.Success {
			return res
		}
	}

	out, err := d.runFn(d.path, "-P", "INPUT", "DROP")
	if err != nil {
		return Result{Success: false, Diagnostic: diagnostic([]string{"-P", "INPUT", "DROP"}, out, err)}
	}
	return Result{Success: true}
}

// exec serializes a single rule-table mutation behind the driver's mutex.
func (d *Driver) exec(args ...string) Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.execLocked(strings.Join(args, " "))
}

// execLocked runs a raw argument line (as found in rules.txt/custom_rules.txt,
// or assembled by Block/Unblock) against the tool. Caller must hold d.mu.
func (d *Driver) execLocked(argLine string) Result {
	args := strings.Fields(argLine)
	if len(args) == 0 {
		return Result{Success: true}
	}
	out, err := d.runFn(d.path, args...)
	if err != nil {
		return Result{Success: false, Diagnostic: diagnostic(args, out, err)}
	}
	return Result{Success: true}
}

func diagnostic(args []string, out []byte, err error) string {
	var b strings.Builder
	b.WriteString(strings.Join(args, " "))
	b.WriteString(": ")
	b.WriteString(err.Error())
	if len(out) > 0 {
		b.WriteString(": ")
		b.Write(out)
	}
	return b.String()
}
