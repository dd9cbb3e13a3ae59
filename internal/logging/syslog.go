// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package logging

import (
	"fmt"
	"io"
	"log/syslog"
)

// SyslogConfig configures forwarding of the daemon's own structured log
// lines to a remote syslog collector. This is independent of the kernel
// syslog tailer, which reads connection records from the local syslog;
// SyslogConfig instead governs where this process's own operational
// logs go.
type SyslogConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Protocol string
	Tag      string
	Facility int
}

// DefaultSyslogConfig returns remote syslog forwarding disabled, with the
// conventional UDP/514 defaults applied if it's later turned on.
func DefaultSyslogConfig() SyslogConfig {
	return SyslogConfig{
		Enabled:  false,
		Port:     514,
		Protocol: "udp",
		Tag:      "warden",
		Facility: 1, // LOG_USER
	}
}

// NewSyslogWriter dials a remote syslog collector and returns an io.Writer
// that forwards raw log lines to it.
func NewSyslogWriter(cfg SyslogConfig) (io.Writer, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("logging: syslog host is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 514
	}
	if cfg.Protocol == "" {
		cfg.Protocol = "udp"
	}
	if cfg.Tag == "" {
		cfg.Tag = "warden"
	}

	priority := syslog.Priority(cfg.Facility<<3) | syslog.LOG_INFO
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	w, err := syslog.Dial(cfg.Protocol, addr, priority, cfg.Tag)
	if err != nil {
		return nil, fmt.Errorf("logging: dial syslog %s: %w", addr, err)
	}
	return w, nil
}
