// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package syslogtail follows a growing kernel syslog file and turns
// "New TCP/UDP connection:" lines into typed ConnectionRecord values
// for the enforcement engine.
package syslogtail

import (
	"bufio"
	"context"
	"io"
	"os"
	"strings"
	"time"

	wardenerrors "warden/internal/errors"
	"warden/internal/logging"
)

// ConnectionRecord is the typed result of classifying one syslog line.
type ConnectionRecord struct {
	Protocol string // "TCP" or "UDP"
	SrcAddr  string
	SrcPort  string
	DstPort  string
}

// Handler receives each accepted ConnectionRecord.
type Handler func(ConnectionRecord)

// RotationChecker is invoked after any new lines were processed, to check
// whether the *output* connection log needs rotating. Log rotation and
// compression are handled by an external collaborator; this is just the
// hook point.
type RotationChecker func()

// Tailer follows path, polling for new lines every pollInterval.
type Tailer struct {
	path         string
	pollInterval time.Duration
	handler      Handler
	rotationHook RotationChecker
	logger       *logging.Logger
}

// New creates a Tailer. rotationHook may be nil.
func New(path string, pollInterval time.Duration, handler Handler, rotationHook RotationChecker) *Tailer {
	if rotationHook == nil {
		rotationHook = func() {}
	}
	return &Tailer{
		path:         path,
		pollInterval: pollInterval,
		handler:      handler,
		rotationHook: rotationHook,
		logger:       logging.Default().WithComponent("syslogtail"),
	}
}

// Run opens path read-only, seeks to its current end, and polls for new
// lines until ctx is canceled. Cancellation returns cleanly.
func (t *Tailer) Run(ctx context.Context) error {
	f, err := os.Open(t.path)
	if err != nil {
		return wardenerrors.Wrapf(err, wardenerrors.KindUnavailable, "syslogtail: open %s", t.path)
	}
	defer f.Close()

	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		return wardenerrors.Wrapf(err, wardenerrors.KindUnavailable, "syslogtail: seek %s", t.path)
	}

	reader := bufio.NewReader(f)
	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if t.pollOnce(reader) {
				t.rotationHook()
			}
		}
	}
}

// pollOnce reads whatever new complete lines are available and reports
// whether any were processed.
func (t *Tailer) pollOnce(reader *bufio.Reader) bool {
	processed := false
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			t.handleLine(strings.TrimRight(line, "\r\n"))
			processed = true
		}
		if err != nil {
			// io.EOF (or a partial final line) just means "no more data
			// yet"; the next poll picks up where the reader left off.
			break
		}
	}
	return processed
}

const (
	tcpMarker = "New TCP connection:"
	udpMarker = "New UDP connection:"
)

// handleLine strips the standard syslog prefix, classifies the remainder,
// and dispatches a ConnectionRecord to the handler.
func (t *Tailer) handleLine(line string) {
	remainder := stripSyslogPrefix(line)

	var protocol string
	switch {
	case strings.Contains(remainder, tcpMarker):
		protocol = "TCP"
	case strings.Contains(remainder, udpMarker):
		protocol = "UDP"
	default:
		return
	}

	src := extractField(remainder, "SRC=")
	spt := extractField(remainder, "SPT=")
	dpt := extractField(remainder, "DPT=")
	if src == "" {
		return
	}
	if src == "127.0.0.1" {
		return
	}

	t.handler(ConnectionRecord{Protocol: protocol, SrcAddr: src, SrcPort: spt, DstPort: dpt})
}

// stripSyslogPrefix removes "Mon DD HH:MM:SS host tag[pid]: " if present.
// Lines that don't match the expected prefix shape are passed through
// unchanged so classification can still proceed on the raw text.
func stripSyslogPrefix(line string) string {
	idx := strings.Index(line, ": ")
	if idx == -1 {
		return line
	}
	// Heuristic: the prefix is "Mon DD HH:MM:SS host tag[pid]", which
	// contains at least 4 space-separated fields before the first
	// "tag[pid]: " colon-space. Bail out if that shape isn't present so a
	// message that merely contains ": " isn't mistaken for a prefix.
	prefix := line[:idx]
	if strings.Count(prefix, " ") < 3 {
		return line
	}
	return line[idx+2:]
}

// extractField pulls the delimited value following key (up to the next
// space), e.g. extractField("SRC=1.2.3.4 SPT=80 ", "SRC=") -> "1.2.3.4".
func extractField(s, key string) string {
	idx := strings.Index(s, key)
	if idx == -1 {
		return ""
	}
	rest := s[idx+len(key):]
	if end := strings.IndexByte(rest, ' '); end != -1 {
		return rest[:end]
	}
	return rest
}
