// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package command

import (
	"fmt"
	"io"

	"warden/internal/eventbus"
)

// Streamer is implemented by commands whose response is an unbounded
// stream (only `monitor` today) rather than a single request/response
// line. The server special-cases these instead of calling Execute.
type Streamer interface {
	Stream(args []string, ctx *Context, w io.Writer, stop <-chan struct{}) error
}

type monitorCommand struct{}

func (monitorCommand) Name() string        { return "monitor" }
func (monitorCommand) Description() string { return "Stream events live until the connection closes." }
func (monitorCommand) Usage() string       { return "monitor" }

// Execute exists to satisfy Command, but monitor is always dispatched via
// Stream — the server checks for Streamer before calling Execute.
func (monitorCommand) Execute(args []string, ctx *Context) (string, error) {
	return "", nil
}

// Stream subscribes to every event variant and writes one line per event
// until stop is closed (connection torn down) or the bus write fails.
func (monitorCommand) Stream(args []string, ctx *Context, w io.Writer, stop <-chan struct{}) error {
	if ctx.Bus == nil {
		return nil
	}

	variants := []eventbus.Variant{
		eventbus.ConnectionAttempt, eventbus.Block, eventbus.Unblock, eventbus.BlockExpired,
		eventbus.GeoBlock, eventbus.PortScanDetected, eventbus.BandwidthExceeded,
		eventbus.RateLimitExceeded, eventbus.WhitelistAdded, eventbus.WhitelistRemoved,
	}

	errCh := make(chan error, 1)
	handler := func(ev eventbus.Event) {
		line := formatEvent(ev)
		if _, err := io.WriteString(w, line+"\n"); err != nil {
			select {
			case errCh <- err:
			default:
			}
		}
	}

	subs := make([]eventbus.Subscription, 0, len(variants))
	for _, v := range variants {
		subs = append(subs, ctx.Bus.Subscribe(v, "command.monitor", handler))
	}
	defer func() {
		for _, s := range subs {
			ctx.Bus.Unsubscribe(s)
		}
	}()

	select {
	case <-stop:
		return nil
	case err := <-errCh:
		return err
	}
}

func formatEvent(ev eventbus.Event) string {
	line := string(ev.Variant)
	if addr, ok := ev.Fields["address"].(string); ok {
		line += " address=" + addr
	}
	for k, v := range ev.Fields {
		if k == "address" {
			continue
		}
		line += fmt.Sprintf(" %s=%v", k, v)
	}
	return line
}
