// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package syslogtail

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestHandleLine_ExtractsTCPConnection(t *testing.T) {
	var got []ConnectionRecord
	tailer := New("", time.Millisecond, func(r ConnectionRecord) { got = append(got, r) }, nil)

	tailer.handleLine(`Jan  2 15:04:05 host kernel: [12345.678] New TCP connection: IN=eth0 OUT= SRC=203.0.113.5 DST=10.0.0.1 SPT=51515 DPT=22`)

	if len(got) != 1 {
		t.Fatalf("expected 1 record, got %d", len(got))
	}
	r := got[0]
	if r.Protocol != "TCP" || r.SrcAddr != "203.0.113.5" || r.SrcPort != "51515" || r.DstPort != "22" {
		t.Errorf("unexpected record: %+v", r)
	}
}

func TestHandleLine_RejectsLoopback(t *testing.T) {
	var got []ConnectionRecord
	tailer := New("", time.Millisecond, func(r ConnectionRecord) { got = append(got, r) }, nil)

	tailer.handleLine(`Jan  2 15:04:05 host kernel: New TCP connection: SRC=127.0.0.1 SPT=1 DPT=2`)

	if len(got) != 0 {
		t.Fatalf("expected SRC=127.0.0.1 to be rejected, got %+v", got)
	}
}

func TestHandleLine_IgnoresUnrelatedLines(t *testing.T) {
	var got []ConnectionRecord
	tailer := New("", time.Millisecond, func(r ConnectionRecord) { got = append(got, r) }, nil)

	tailer.handleLine(`Jan  2 15:04:05 host kernel: some unrelated kernel message`)

	if len(got) != 0 {
		t.Fatalf("expected unrelated line to be ignored, got %+v", got)
	}
}

func TestHandleLine_UDP(t *testing.T) {
	var got []ConnectionRecord
	tailer := New("", time.Millisecond, func(r ConnectionRecord) { got = append(got, r) }, nil)

	tailer.handleLine(`Jan  2 15:04:05 host kernel: New UDP connection: SRC=198.51.100.9 DST=10.0.0.1 SPT=53 DPT=53`)

	if len(got) != 1 || got[0].Protocol != "UDP" {
		t.Fatalf("expected a UDP record, got %+v", got)
	}
}

func TestRun_TailsAppendedLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kern.log")
	if err := os.WriteFile(path, []byte("Jan  2 15:04:00 host kernel: boot\n"), 0644); err != nil {
		t.Fatalf("write seed: %v", err)
	}

	recordCh := make(chan ConnectionRecord, 1)
	rotated := make(chan struct{}, 1)
	tailer := New(path, 10*time.Millisecond, func(r ConnectionRecord) { recordCh <- r }, func() { rotated <- struct{}{} })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- tailer.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatalf("open for append: %v", err)
	}
	if _, err := f.WriteString("Jan  2 15:04:10 host kernel: New TCP connection: SRC=203.0.113.7 SPT=1 DPT=2\n"); err != nil {
		t.Fatalf("append: %v", err)
	}
	f.Close()

	select {
	case r := <-recordCh:
		if r.SrcAddr != "203.0.113.7" {
			t.Errorf("unexpected record: %+v", r)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for tailed record")
	}

	select {
	case <-rotated:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for rotation hook")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned error after cancellation: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}
