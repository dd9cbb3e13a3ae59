// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package command

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	wardenerrors "warden/internal/errors"
	"warden/internal/store"
)

// RegisterDefaults registers the full command set the daemon supports.
func RegisterDefaults(reg *Registry) {
	for _, cmd := range []Command{
		helpCommand{},
		listCommand{},
		blockCommand{},
		unblockCommand{},
		unblockAllCommand{},
		statusCommand{},
		rotateCommand{},
		reloadCommand{},
		clearCommand{},
		whitelistCommand{},
		exportLogsCommand{},
		showLogsCommand{},
		infoCommand{},
		exitCommand{},
		ipHistoryCommand{},
		ipTagCommand{},
		ipCommentCommand{},
		monitorCommand{},
	} {
		reg.Register(cmd)
	}
}

type helpCommand struct{}

func (helpCommand) Name() string        { return "help" }
func (helpCommand) Description() string { return "List every registered command." }
func (helpCommand) Usage() string       { return "help" }
func (helpCommand) Execute(args []string, ctx *Context) (string, error) {
	cmds := ctx.Registry.Registered()
	lines := make([]string, 0, len(cmds))
	for _, c := range cmds {
		lines = append(lines, fmt.Sprintf("%-14s %s", c.Name(), c.Usage()))
	}
	return strings.Join(lines, "\n"), nil
}

type listCommand struct{}

func (listCommand) Name() string        { return "list" }
func (listCommand) Description() string { return "List currently blocked addresses." }
func (listCommand) Usage() string       { return "list" }
func (listCommand) Execute(args []string, ctx *Context) (string, error) {
	addrs := ctx.Blocklist.Blocked()
	sort.Strings(addrs)
	return strings.Join(addrs, "\n"), nil
}

type blockCommand struct{}

func (blockCommand) Name() string        { return "block" }
func (blockCommand) Description() string { return "Block an address for a duration." }
func (blockCommand) Usage() string       { return "block <address> [duration_seconds]" }
func (blockCommand) Execute(args []string, ctx *Context) (string, error) {
	if len(args) < 1 {
		return "", wardenerrors.New(wardenerrors.KindValidation, "usage: block <address> [duration_seconds]")
	}
	duration := 600 * time.Second
	if len(args) >= 2 {
		secs, err := strconv.Atoi(args[1])
		if err != nil {
			return "", wardenerrors.Wrap(err, wardenerrors.KindValidation, "invalid duration_seconds")
		}
		duration = time.Duration(secs) * time.Second
	}
	if err := ctx.Lifecycle.Block(args[0], duration); err != nil {
		return "", err
	}
	return fmt.Sprintf("blocked %s for %s", args[0], duration), nil
}

type unblockCommand struct{}

func (unblockCommand) Name() string        { return "unblock" }
func (unblockCommand) Description() string { return "Unblock a single address." }
func (unblockCommand) Usage() string       { return "unblock <address>" }
func (unblockCommand) Execute(args []string, ctx *Context) (string, error) {
	if len(args) < 1 {
		return "", wardenerrors.New(wardenerrors.KindValidation, "usage: unblock <address>")
	}
	if err := ctx.Lifecycle.Unblock(args[0]); err != nil {
		return "", err
	}
	return fmt.Sprintf("unblocked %s", args[0]), nil
}

type unblockAllCommand struct{}

func (unblockAllCommand) Name() string        { return "unblockall" }
func (unblockAllCommand) Description() string { return "Unblock every currently blocked address." }
func (unblockAllCommand) Usage() string       { return "unblockall" }
func (unblockAllCommand) Execute(args []string, ctx *Context) (string, error) {
	addrs := ctx.Blocklist.Blocked()
	var failed []string
	for _, addr := range addrs {
		if err := ctx.Lifecycle.Unblock(addr); err != nil {
			failed = append(failed, addr)
		}
	}
	if len(failed) > 0 {
		return "", wardenerrors.Errorf(wardenerrors.KindInternal, "failed to unblock: %s", strings.Join(failed, ", "))
	}
	return fmt.Sprintf("unblocked %d address(es)", len(addrs)), nil
}

type statusCommand struct{}

func (statusCommand) Name() string        { return "status" }
func (statusCommand) Description() string { return "Show store and block-list summary statistics." }
func (statusCommand) Usage() string       { return "status" }
func (statusCommand) Execute(args []string, ctx *Context) (string, error) {
	stats, err := ctx.Records.Stats()
	if err != nil {
		return "", err
	}
	lastSeen := "n/a"
	if !stats.LastSeen.IsZero() {
		lastSeen = stats.LastSeen.Format(time.RFC3339)
	}
	return fmt.Sprintf("blocked=%d total_rows=%d recent_fails=%d last_seen=%s",
		len(ctx.Blocklist.Blocked()), stats.Total, stats.RecentFails, lastSeen), nil
}

type rotateCommand struct{}

func (rotateCommand) Name() string        { return "rotate" }
func (rotateCommand) Description() string { return "Rotate the plaintext connection log." }
func (rotateCommand) Usage() string       { return "rotate" }
func (rotateCommand) Execute(args []string, ctx *Context) (string, error) {
	if err := ctx.Exporter.RotateLogs(); err != nil {
		return "", err
	}
	return "log rotated", nil
}

type reloadCommand struct{}

func (reloadCommand) Name() string        { return "reload" }
func (reloadCommand) Description() string { return "Reload packet-filter rules from disk." }
func (reloadCommand) Usage() string       { return "reload" }
func (reloadCommand) Execute(args []string, ctx *Context) (string, error) {
	res := ctx.Reloader.Reload(ctx.SSHPort, ctx.ExtraRules, ctx.CustomRules)
	if ctx.Auditor != nil {
		ctx.Auditor.LogReload(res.Success, res.Diagnostic)
	}
	if !res.Success {
		return "", wardenerrors.Errorf(wardenerrors.KindUnavailable, "reload failed: %s", res.Diagnostic)
	}
	return "rules reloaded", nil
}

type clearCommand struct{}

func (clearCommand) Name() string        { return "clear" }
func (clearCommand) Description() string { return "Truncate the current plaintext connection log." }
func (clearCommand) Usage() string       { return "clear" }
func (clearCommand) Execute(args []string, ctx *Context) (string, error) {
	if err := ctx.Exporter.ClearLog(); err != nil {
		return "", err
	}
	return "log cleared", nil
}

type whitelistCommand struct{}

func (whitelistCommand) Name() string        { return "whitelist" }
func (whitelistCommand) Description() string { return "Add or remove a whitelisted address." }
func (whitelistCommand) Usage() string       { return "whitelist add|remove <address>" }
func (whitelistCommand) Execute(args []string, ctx *Context) (string, error) {
	if len(args) < 2 {
		return "", wardenerrors.New(wardenerrors.KindValidation, "usage: whitelist add|remove <address>")
	}
	switch strings.ToLower(args[0]) {
	case "add":
		if err := ctx.Blocklist.AddWhitelist(args[1]); err != nil {
			return "", err
		}
		return fmt.Sprintf("whitelisted %s", args[1]), nil
	case "remove":
		if err := ctx.Blocklist.RemoveWhitelist(args[1]); err != nil {
			return "", err
		}
		return fmt.Sprintf("un-whitelisted %s", args[1]), nil
	default:
		return "", wardenerrors.Errorf(wardenerrors.KindValidation, "usage: whitelist add|remove <address>, got %q", args[0])
	}
}

type exportLogsCommand struct{}

func (exportLogsCommand) Name() string        { return "exportlogs" }
func (exportLogsCommand) Description() string { return "Export the connection log AES-CBC-encrypted." }
func (exportLogsCommand) Usage() string       { return "exportlogs <name>" }
func (exportLogsCommand) Execute(args []string, ctx *Context) (string, error) {
	if len(args) < 1 {
		return "", wardenerrors.New(wardenerrors.KindValidation, "usage: exportlogs <name>")
	}
	path, err := ctx.Exporter.ExportLogs(args[0])
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("exported to %s", path), nil
}

type showLogsCommand struct{}

func (showLogsCommand) Name() string        { return "show-logs" }
func (showLogsCommand) Description() string { return "Show the last N lines of the connection log." }
func (showLogsCommand) Usage() string       { return "show-logs [n]" }
func (showLogsCommand) Execute(args []string, ctx *Context) (string, error) {
	n := 25
	if len(args) >= 1 {
		parsed, err := strconv.Atoi(args[0])
		if err != nil {
			return "", wardenerrors.Wrap(err, wardenerrors.KindValidation, "invalid n")
		}
		n = parsed
	}
	lines, err := ctx.Exporter.ShowLogs(n)
	if err != nil {
		return "", err
	}
	return strings.Join(lines, "\n"), nil
}

type infoCommand struct{}

func (infoCommand) Name() string        { return "info" }
func (infoCommand) Description() string { return "Show daemon version and uptime." }
func (infoCommand) Usage() string       { return "info" }
func (infoCommand) Execute(args []string, ctx *Context) (string, error) {
	uptime := time.Since(ctx.StartedAt).Truncate(time.Second)
	return fmt.Sprintf("version=%s uptime=%s", ctx.Version, uptime), nil
}

type exitCommand struct{}

func (exitCommand) Name() string        { return "exit" }
func (exitCommand) Description() string { return "Gracefully shut down the daemon." }
func (exitCommand) Usage() string       { return "exit" }
func (exitCommand) Execute(args []string, ctx *Context) (string, error) {
	if ctx.Shutdown != nil {
		go ctx.Shutdown()
	}
	return "shutting down", nil
}

type ipHistoryCommand struct{}

func (ipHistoryCommand) Name() string        { return "ip-history" }
func (ipHistoryCommand) Description() string { return "Show history events recorded for an address." }
func (ipHistoryCommand) Usage() string       { return "ip-history <address>" }
func (ipHistoryCommand) Execute(args []string, ctx *Context) (string, error) {
	if len(args) < 1 {
		return "", wardenerrors.New(wardenerrors.KindValidation, "usage: ip-history <address>")
	}
	events, err := ctx.Records.ListHistory(args[0])
	if err != nil {
		return "", err
	}
	lines := make([]string, len(events))
	for i, ev := range events {
		lines[i] = fmt.Sprintf("%s %s", ev.Time.Format(time.RFC3339), ev.Message)
	}
	return strings.Join(lines, "\n"), nil
}

type ipTagCommand struct{}

func (ipTagCommand) Name() string        { return "ip-tag" }
func (ipTagCommand) Description() string { return "Add, remove, or list tags for an address." }
func (ipTagCommand) Usage() string       { return "ip-tag add|remove|list <address> [tag]" }
func (ipTagCommand) Execute(args []string, ctx *Context) (string, error) {
	if len(args) < 2 {
		return "", wardenerrors.New(wardenerrors.KindValidation, "usage: ip-tag add|remove|list <address> [tag]")
	}
	sub, addr := strings.ToLower(args[0]), args[1]
	switch sub {
	case "list":
		tags, err := ctx.Records.ListTags(addr)
		if err != nil {
			return "", err
		}
		return strings.Join(tags, "\n"), nil
	case "add", "remove":
		if len(args) < 3 {
			return "", wardenerrors.New(wardenerrors.KindValidation, "usage: ip-tag add|remove <address> <tag>")
		}
		tag := args[2]
		var err error
		if sub == "add" {
			err = ctx.Records.InsertTag(addr, tag)
		} else {
			err = ctx.Records.DeleteTag(addr, tag)
		}
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%sd tag %q for %s", sub, tag, addr), nil
	default:
		return "", wardenerrors.Errorf(wardenerrors.KindValidation, "usage: ip-tag add|remove|list <address> [tag], got %q", sub)
	}
}

type ipCommentCommand struct{}

func (ipCommentCommand) Name() string        { return "ip-comment" }
func (ipCommentCommand) Description() string { return "Add or list comments for an address." }
func (ipCommentCommand) Usage() string       { return "ip-comment add|list <address> [comment...]" }
func (ipCommentCommand) Execute(args []string, ctx *Context) (string, error) {
	if len(args) < 2 {
		return "", wardenerrors.New(wardenerrors.KindValidation, "usage: ip-comment add|list <address> [comment...]")
	}
	sub, addr := strings.ToLower(args[0]), args[1]
	switch sub {
	case "list":
		comments, err := ctx.Records.ListComments(addr)
		if err != nil {
			return "", err
		}
		lines := make([]string, len(comments))
		for i, c := range comments {
			lines[i] = fmt.Sprintf("%s %s", c.Time.Format(time.RFC3339), c.Comment)
		}
		return strings.Join(lines, "\n"), nil
	case "add":
		if len(args) < 3 {
			return "", wardenerrors.New(wardenerrors.KindValidation, "usage: ip-comment add <address> <comment...>")
		}
		text := strings.Join(args[2:], " ")
		if err := ctx.Records.InsertComment(store.Comment{Address: addr, Time: time.Now().UTC(), Comment: text}); err != nil {
			return "", err
		}
		return "comment added", nil
	default:
		return "", wardenerrors.Errorf(wardenerrors.KindValidation, "usage: ip-comment add|list <address> [comment...], got %q", sub)
	}
}
