// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package pfilter

import (
	"errors"
	"strings"
	"sync"
	"testing"
)

type fakeTool struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]string // args string -> stderr to fail with
}

func (f *fakeTool) run(name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	joined := strings.Join(args, " ")
	f.calls = append(f.calls, joined)
	if stderr, shouldFail := f.fail[joined]; shouldFail {
		return []byte(stderr), errors.New("exit status 1")
	}
	return nil, nil
}

func newDriverWithFake() (*Driver, *fakeTool) {
	fake := &fakeTool{fail: make(map[string]string)}
	d := &Driver{path: "/sbin/iptables", runFn: fake.run}
	return d, fake
}

func TestBlock_InsertsAtHeadOfInputChain(t *testing.T) {
	d, fake := newDriverWithFake()

	res := d.Block("1.2.3.4")
	if !res.Success {
		t.Fatalf("expected success, got diagnostic: %s", res.Diagnostic)
	}
	if len(fake.calls) != 1 || fake.calls[0] != "-I INPUT 1 -s 1.2.3.4 -j DROP" {
		t.Errorf("unexpected call: %v", fake.calls)
	}
}

func TestUnblock_DeletesRule(t *testing.T) {
	d, fake := newDriverWithFake()

	res := d.Unblock("1.2.3.4")
	if !res.Success {
		t.Fatalf("expected success, got diagnostic: %s", res.Diagnostic)
	}
	if len(fake.calls) != 1 || fake.calls[0] != "-D INPUT -s 1.2.3.4 -j DROP" {
		t.Errorf("unexpected call: %v", fake.calls)
	}
}

func TestBlock_NonZeroExitReportedAsFailureNotError(t *testing.T) {
	d, fake := newDriverWithFake()
	fake.fail["-I INPUT 1 -s 9.9.9.9 -j DROP"] = "iptables: Bad rule.\n"

	res := d.Block("9.9.9.9")
	if res.Success {
		t.Fatal("expected failure result")
	}
	if !strings.Contains(res.Diagnostic, "Bad rule") {
		t.Errorf("expected diagnostic to include tool stderr, got %q", res.Diagnostic)
	}
}

func TestReload_RunsStepsInOrder(t *testing.T) {
	d, fake := newDriverWithFake()

	res := d.Reload(22, []string{"-A INPUT -p tcp --dport 80 -j ACCEPT"}, []string{"-A INPUT -p tcp --dport 443 -j ACCEPT"})
	if !res.Success {
		t.Fatalf("expected success, got diagnostic: %s", res.Diagnostic)
	}

	if len(fake.calls) == 0 {
		t.Fatal("expected reload to issue commands")
	}
	first := fake.calls[0]
	last := fake.calls[len(fake.calls)-1]
	if first != "-P INPUT ACCEPT" {
		t.Errorf("expected first step to default-ACCEPT INPUT, got %q", first)
	}
	if last != "-P INPUT DROP" {
		t.Errorf("expected last step to default-DROP INPUT, got %q", last)
	}
}
