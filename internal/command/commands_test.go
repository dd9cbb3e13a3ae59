// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package command

import (
	"strings"
	"testing"
	"time"

	"warden/internal/pfilter"
	"warden/internal/store"
)

type fakeLifecycle struct {
	blocked   map[string]time.Duration
	unblocked []string
	failNext  bool
}

func newFakeLifecycle() *fakeLifecycle {
	return &fakeLifecycle{blocked: make(map[string]time.Duration)}
}

func (f *fakeLifecycle) Block(addr string, duration time.Duration) error {
	f.blocked[addr] = duration
	return nil
}

func (f *fakeLifecycle) Unblock(addr string) error {
	f.unblocked = append(f.unblocked, addr)
	delete(f.blocked, addr)
	return nil
}

type fakeBlocklist struct {
	blocked     []string
	whitelisted []string
}

func (f *fakeBlocklist) Blocked() []string     { return f.blocked }
func (f *fakeBlocklist) IsBlocked(a string) bool {
	for _, x := range f.blocked {
		if x == a {
			return true
		}
	}
	return false
}
func (f *fakeBlocklist) AddWhitelist(a string) error {
	f.whitelisted = append(f.whitelisted, a)
	return nil
}
func (f *fakeBlocklist) RemoveWhitelist(a string) error {
	for i, x := range f.whitelisted {
		if x == a {
			f.whitelisted = append(f.whitelisted[:i], f.whitelisted[i+1:]...)
			return nil
		}
	}
	return nil
}

type fakeRecords struct {
	history  map[string][]store.HistoryEvent
	tags     map[string][]string
	comments map[string][]store.Comment
	stats    store.Stats
}

func newFakeRecords() *fakeRecords {
	return &fakeRecords{
		history:  make(map[string][]store.HistoryEvent),
		tags:     make(map[string][]string),
		comments: make(map[string][]store.Comment),
	}
}

func (f *fakeRecords) ListHistory(addr string) ([]store.HistoryEvent, error) { return f.history[addr], nil }
func (f *fakeRecords) InsertTag(addr, tag string) error {
	f.tags[addr] = append(f.tags[addr], tag)
	return nil
}
func (f *fakeRecords) DeleteTag(addr, tag string) error {
	kept := f.tags[addr][:0]
	for _, t := range f.tags[addr] {
		if t != tag {
			kept = append(kept, t)
		}
	}
	f.tags[addr] = kept
	return nil
}
func (f *fakeRecords) ListTags(addr string) ([]string, error) { return f.tags[addr], nil }
func (f *fakeRecords) InsertComment(c store.Comment) error {
	f.comments[c.Address] = append(f.comments[c.Address], c)
	return nil
}
func (f *fakeRecords) ListComments(addr string) ([]store.Comment, error) { return f.comments[addr], nil }
func (f *fakeRecords) Stats() (store.Stats, error)                      { return f.stats, nil }

type fakeReloader struct{ result pfilter.Result }

func (f fakeReloader) Reload(sshPort int, extra, custom []string) pfilter.Result { return f.result }

type fakeExporter struct {
	exportedTo string
	lines      []string
	rotated    bool
	cleared    bool
}

func (f *fakeExporter) ExportLogs(name string) (string, error) {
	f.exportedTo = name
	return "/exports/" + name, nil
}
func (f *fakeExporter) ShowLogs(n int) ([]string, error) { return f.lines, nil }
func (f *fakeExporter) RotateLogs() error                { f.rotated = true; return nil }
func (f *fakeExporter) ClearLog() error                  { f.cleared = true; return nil }

type fakeAuditor struct {
	commands []string
	reloads  int
	lastOK   bool
}

func (f *fakeAuditor) LogCommand(remoteAddr, line string, success bool) {
	f.commands = append(f.commands, line)
}

func (f *fakeAuditor) LogReload(success bool, diagnostic string) {
	f.reloads++
	f.lastOK = success
}

func newTestContext() (*Context, *fakeLifecycle, *fakeBlocklist, *fakeRecords, *fakeExporter) {
	lc := newFakeLifecycle()
	bl := &fakeBlocklist{}
	rec := newFakeRecords()
	exp := &fakeExporter{}
	reg := NewRegistry()
	RegisterDefaults(reg)
	ctx := &Context{
		Lifecycle: lc,
		Blocklist: bl,
		Records:   rec,
		Reloader:  fakeReloader{result: pfilter.Result{Success: true}},
		Exporter:  exp,
		Registry:  reg,
		StartedAt: time.Now(),
		Version:   "test",
	}
	return ctx, lc, bl, rec, exp
}

func TestBlockCommand_DefaultAndExplicitDuration(t *testing.T) {
	ctx, lc, _, _, _ := newTestContext()

	if _, err := ctx.Registry.Dispatch("block 1.2.3.4", ctx); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if lc.blocked["1.2.3.4"] != 600*time.Second {
		t.Errorf("expected default 600s duration, got %v", lc.blocked["1.2.3.4"])
	}

	if _, err := ctx.Registry.Dispatch("block 5.6.7.8 30", ctx); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if lc.blocked["5.6.7.8"] != 30*time.Second {
		t.Errorf("expected explicit 30s duration, got %v", lc.blocked["5.6.7.8"])
	}
}

func TestUnblockAllCommand_UnblocksEveryListedAddress(t *testing.T) {
	ctx, lc, bl, _, _ := newTestContext()
	bl.blocked = []string{"1.1.1.1", "2.2.2.2"}

	out, err := ctx.Registry.Dispatch("unblockall", ctx)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !strings.Contains(out, "2") {
		t.Errorf("expected response to mention 2 addresses, got %q", out)
	}
	if len(lc.unblocked) != 2 {
		t.Errorf("expected both addresses unblocked, got %v", lc.unblocked)
	}
}

func TestWhitelistCommand_AddAndRemove(t *testing.T) {
	ctx, _, bl, _, _ := newTestContext()

	if _, err := ctx.Registry.Dispatch("whitelist add 8.8.8.8", ctx); err != nil {
		t.Fatalf("Dispatch add: %v", err)
	}
	if len(bl.whitelisted) != 1 || bl.whitelisted[0] != "8.8.8.8" {
		t.Errorf("expected 8.8.8.8 whitelisted, got %v", bl.whitelisted)
	}

	if _, err := ctx.Registry.Dispatch("whitelist remove 8.8.8.8", ctx); err != nil {
		t.Fatalf("Dispatch remove: %v", err)
	}
	if len(bl.whitelisted) != 0 {
		t.Errorf("expected whitelist empty after remove, got %v", bl.whitelisted)
	}
}

func TestIPTagCommand_AddListRemove(t *testing.T) {
	ctx, _, _, rec, _ := newTestContext()

	if _, err := ctx.Registry.Dispatch("ip-tag add 1.2.3.4 suspicious", ctx); err != nil {
		t.Fatalf("add: %v", err)
	}
	out, err := ctx.Registry.Dispatch("ip-tag list 1.2.3.4", ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if out != "suspicious" {
		t.Errorf("expected tag listed, got %q", out)
	}

	if _, err := ctx.Registry.Dispatch("ip-tag remove 1.2.3.4 suspicious", ctx); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if len(rec.tags["1.2.3.4"]) != 0 {
		t.Errorf("expected tag removed, got %v", rec.tags["1.2.3.4"])
	}
}

func TestIPCommentCommand_AddAndList(t *testing.T) {
	ctx, _, _, _, _ := newTestContext()

	if _, err := ctx.Registry.Dispatch("ip-comment add 1.2.3.4 looks like a scanner", ctx); err != nil {
		t.Fatalf("add: %v", err)
	}
	out, err := ctx.Registry.Dispatch("ip-comment list 1.2.3.4", ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "looks like a scanner") {
		t.Errorf("expected comment text present, got %q", out)
	}
}

func TestExportLogsCommand_ReturnsDestinationPath(t *testing.T) {
	ctx, _, _, _, exp := newTestContext()

	out, err := ctx.Registry.Dispatch("exportlogs today.json", ctx)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if exp.exportedTo != "today.json" {
		t.Errorf("expected exporter invoked with today.json, got %q", exp.exportedTo)
	}
	if !strings.Contains(out, "today.json") {
		t.Errorf("expected response to mention the export path, got %q", out)
	}
}

func TestHelpCommand_ListsEveryRegisteredCommand(t *testing.T) {
	ctx, _, _, _, _ := newTestContext()

	out, err := ctx.Registry.Dispatch("help", ctx)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	for _, name := range []string{"block", "unblock", "list", "monitor", "exit"} {
		if !strings.Contains(out, name) {
			t.Errorf("expected help output to mention %q, got %q", name, out)
		}
	}
}

func TestBlockCommand_MissingAddressIsValidationError(t *testing.T) {
	ctx, _, _, _, _ := newTestContext()

	if _, err := ctx.Registry.Dispatch("block", ctx); err == nil {
		t.Fatal("expected an error for a missing address")
	}
}

func TestReloadCommand_RecordsOutcomeWithAuditor(t *testing.T) {
	ctx, _, _, _, _ := newTestContext()
	auditor := &fakeAuditor{}
	ctx.Auditor = auditor

	if _, err := ctx.Registry.Dispatch("reload", ctx); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if auditor.reloads != 1 || !auditor.lastOK {
		t.Errorf("expected one successful reload recorded, got reloads=%d lastOK=%v", auditor.reloads, auditor.lastOK)
	}

	ctx.Reloader = fakeReloader{result: pfilter.Result{Success: false, Diagnostic: "boom"}}
	if _, err := ctx.Registry.Dispatch("reload", ctx); err == nil {
		t.Fatal("expected an error from a failed reload")
	}
	if auditor.reloads != 2 || auditor.lastOK {
		t.Errorf("expected the failed reload recorded too, got reloads=%d lastOK=%v", auditor.reloads, auditor.lastOK)
	}
}

func TestReloadCommand_NilAuditorIsSafe(t *testing.T) {
	ctx, _, _, _, _ := newTestContext()

	if _, err := ctx.Registry.Dispatch("reload", ctx); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
}
