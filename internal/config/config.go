// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package config defines the firewall daemon's configuration schema.
// Full hot-reload/file-watch machinery is left to an external
// collaborator — this package defines the shape and a thin HCLLoader.
package config

import "time"

// CurrentSchemaVersion is the schema version this Config struct decodes.
const CurrentSchemaVersion = "1.0"

// Config is the top-level firewall daemon configuration.
type Config struct {
	SchemaVersion string `hcl:"schema_version,optional" json:"schema_version,omitempty"`

	// BaseDir is the root of the filesystem layout: BlockList/,
	// Whitelist/, GeoBlock/, FirewallRuleSet/, Database/,
	// Certificates/, ServerConnectionLogs/ all live relative to it.
	BaseDir string `hcl:"base_dir,optional" json:"base_dir,omitempty"`

	Engine        *EngineConfig        `hcl:"engine,block" json:"engine,omitempty"`
	Syslog        *SyslogTailConfig    `hcl:"syslog,block" json:"syslog,omitempty"`
	GeoIP         *GeoIPConfig         `hcl:"geoip,block" json:"geoip,omitempty"`
	BlockList     *BlockListConfig     `hcl:"block_list,block" json:"block_list,omitempty"`
	FirewallRules *FirewallRulesConfig `hcl:"firewall_rules,block" json:"firewall_rules,omitempty"`
	Scheduler     *SchedulerConfig     `hcl:"scheduler,block" json:"scheduler,omitempty"`
	CommandServer *CommandServerConfig `hcl:"command_server,block" json:"command_server,omitempty"`
	LogArchive    *LogArchiveConfig    `hcl:"log_archive,block" json:"log_archive,omitempty"`
	Audit         *AuditConfig         `hcl:"audit,block" json:"audit,omitempty"`
	Notifications *NotificationsConfig `hcl:"notifications,block" json:"notifications,omitempty"`
	Logging       *LoggingConfig       `hcl:"logging,block" json:"logging,omitempty"`
}

// EngineConfig governs the rate/geo decision engine.
type EngineConfig struct {
	// ThresholdAttempts is the attempt count that triggers a rate block;
	// a window meeting or exceeding it blocks.
	ThresholdAttempts int `hcl:"threshold_attempts,optional" json:"threshold_attempts"`
	// ThresholdSeconds is the attempt-window span in seconds.
	ThresholdSeconds float64 `hcl:"threshold_seconds,optional" json:"threshold_seconds"`
	// DefaultDurationSeconds is the block duration applied by rate and
	// geo blocks that don't specify one explicitly.
	DefaultDurationSeconds int `hcl:"default_duration_seconds,optional" json:"default_duration_seconds"`
	// PlaintextLogsEnabled turns on the pipe-delimited
	// connection_attempts.log append.
	PlaintextLogsEnabled bool `hcl:"plaintext_logs_enabled,optional" json:"plaintext_logs_enabled"`
}

// DefaultEngineConfig returns sensible defaults (threshold_attempts=3,
// threshold_seconds=10, duration=60).
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		ThresholdAttempts:      3,
		ThresholdSeconds:       10,
		DefaultDurationSeconds: 60,
		PlaintextLogsEnabled:   true,
	}
}

// SyslogTailConfig governs the syslog tailer.
type SyslogTailConfig struct {
	Path                string  `hcl:"path,optional" json:"path,omitempty"`
	PollIntervalSeconds float64 `hcl:"poll_interval_seconds,optional" json:"poll_interval_seconds"`
}

// PollInterval returns PollIntervalSeconds as a time.Duration.
func (c SyslogTailConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds * float64(time.Second))
}

// DefaultSyslogTailConfig returns the default ~2s poll interval.
func DefaultSyslogTailConfig() SyslogTailConfig {
	return SyslogTailConfig{
		Path:                "/var/log/kern.log",
		PollIntervalSeconds: 2,
	}
}

// GeoIPConfig governs the geo-prefix resolver.
type GeoIPConfig struct {
	ZonesDir            string `hcl:"zones_dir,optional" json:"zones_dir,omitempty"`
	BlockedCountriesFile string `hcl:"blocked_countries_file,optional" json:"blocked_countries_file,omitempty"`
}

// BlockListConfig governs the block-list manager's seed files.
type BlockListConfig struct {
	BlocklistFile string `hcl:"blocklist_file,optional" json:"blocklist_file,omitempty"`
	WhitelistFile string `hcl:"whitelist_file,optional" json:"whitelist_file,omitempty"`
}

// FirewallRulesConfig names the two verbatim rule files applied on
// reload.
type FirewallRulesConfig struct {
	RulesFile       string `hcl:"rules_file,optional" json:"rules_file,omitempty"`
	CustomRulesFile string `hcl:"custom_rules_file,optional" json:"custom_rules_file,omitempty"`
	SSHPort         int    `hcl:"ssh_port,optional" json:"ssh_port,omitempty"`
	IPTablesPath    string `hcl:"iptables_path,optional" json:"iptables_path,omitempty"`
}

// SchedulerConfig governs the scheduler's tick and the derived
// expiry-sweep cadence.
type SchedulerConfig struct {
	// ExpirySweepEveryNTicks is how many scheduler ticks elapse between
	// expiry sweeps (nominally every 30).
	ExpirySweepEveryNTicks int `hcl:"expiry_sweep_every_n_ticks,optional" json:"expiry_sweep_every_n_ticks"`
	TickIntervalSeconds    float64 `hcl:"tick_interval_seconds,optional" json:"tick_interval_seconds"`
}

// DefaultSchedulerConfig returns the default tick cadence.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		ExpirySweepEveryNTicks: 30,
		TickIntervalSeconds:    1,
	}
}

// TickInterval returns TickIntervalSeconds as a time.Duration.
func (c SchedulerConfig) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalSeconds * float64(time.Second))
}

// CommandServerConfig governs the command server and registry.
type CommandServerConfig struct {
	Port                   int          `hcl:"port,optional" json:"port"`
	AllowPlaintextCommands bool         `hcl:"allow_plaintext_commands,optional" json:"allow_plaintext_commands"`
	TLSCertFile            string       `hcl:"tls_cert_file,optional" json:"tls_cert_file,omitempty"`
	TLSKeyFile             string       `hcl:"tls_key_file,optional" json:"tls_key_file,omitempty"`
	AESKeyBase64           SecureString `hcl:"aes_key_base64,optional" json:"aes_key_base64,omitempty"`
	AESIVBase64            SecureString `hcl:"aes_iv_base64,optional" json:"aes_iv_base64,omitempty"`
	MetricsListen          string       `hcl:"metrics_listen,optional" json:"metrics_listen,omitempty"`
}

// LogArchiveConfig governs the connection-log rotation and exportlogs
// paths.
type LogArchiveConfig struct {
	PlaintextLogFile string `hcl:"plaintext_log_file,optional" json:"plaintext_log_file,omitempty"`
	ArchiveDir       string `hcl:"archive_dir,optional" json:"archive_dir,omitempty"`
	MaxArchives      int    `hcl:"max_archives,optional" json:"max_archives,omitempty"`
	SecureExportDir  string `hcl:"secure_export_dir,optional" json:"secure_export_dir,omitempty"`
}

// DefaultLogArchiveConfig returns the default filesystem layout.
func DefaultLogArchiveConfig() LogArchiveConfig {
	return LogArchiveConfig{
		PlaintextLogFile: "connection_attempts.log",
		ArchiveDir:       "ServerConnectionLogs",
		MaxArchives:      30,
		SecureExportDir:  "SecureExports",
	}
}

// DefaultCommandServerConfig returns the default port (53860) and the
// default self-signed certificate location, relative to BaseDir.
func DefaultCommandServerConfig() CommandServerConfig {
	return CommandServerConfig{
		Port:          53860,
		TLSCertFile:   "Certificates/certificate.pem",
		TLSKeyFile:    "Certificates/certificate.key",
		MetricsListen: ":9860",
	}
}

// AuditConfig governs the persistent audit log.
type AuditConfig struct {
	Enabled       bool   `hcl:"enabled,optional" json:"enabled"`
	RetentionDays int    `hcl:"retention_days,optional" json:"retention_days,omitempty"`
	DatabasePath  string `hcl:"database_path,optional" json:"database_path,omitempty"`
}

// NotificationsConfig governs outbound alert dispatch on block/unblock
// and other security events.
type NotificationsConfig struct {
	Enabled  bool                  `hcl:"enabled,optional" json:"enabled"`
	Channels []NotificationChannel `hcl:"channel,block" json:"channel,omitempty"`
}

// NotificationChannel is one outbound notification destination.
type NotificationChannel struct {
	Name       string            `hcl:"name,label" json:"name"`
	Type       string            `hcl:"type" json:"type"`
	Enabled    bool              `hcl:"enabled,optional" json:"enabled"`
	Level      string            `hcl:"level,optional" json:"level,omitempty"`
	WebhookURL string            `hcl:"webhook_url,optional" json:"webhook_url,omitempty"`
	Server     string            `hcl:"server,optional" json:"server,omitempty"`
	Topic      string            `hcl:"topic,optional" json:"topic,omitempty"`
	APIToken   string            `hcl:"api_token,optional" json:"api_token,omitempty"`
	UserKey    string            `hcl:"user_key,optional" json:"user_key,omitempty"`
	SMTPHost   string            `hcl:"smtp_host,optional" json:"smtp_host,omitempty"`
	SMTPPort   int               `hcl:"smtp_port,optional" json:"smtp_port,omitempty"`
	SMTPUser   string            `hcl:"smtp_user,optional" json:"smtp_user,omitempty"`
	SMTPPass   SecureString      `hcl:"smtp_password,optional" json:"smtp_password,omitempty"`
	From       string            `hcl:"from,optional" json:"from,omitempty"`
	To         []string          `hcl:"to,optional" json:"to,omitempty"`
	Headers    map[string]string `hcl:"headers,optional" json:"headers,omitempty"`
}

// LoggingConfig governs the structured logger (internal/logging).
type LoggingConfig struct {
	Level  string `hcl:"level,optional" json:"level,omitempty"`
	JSON   bool   `hcl:"json,optional" json:"json,omitempty"`
	Syslog *struct {
		Enabled  bool   `hcl:"enabled,optional" json:"enabled"`
		Host     string `hcl:"host,optional" json:"host,omitempty"`
		Port     int    `hcl:"port,optional" json:"port,omitempty"`
		Protocol string `hcl:"protocol,optional" json:"protocol,omitempty"`
	} `hcl:"syslog_forward,block" json:"syslog_forward,omitempty"`
}

// Default returns a Config populated with every component default,
// suitable as the starting point before an HCL file is merged in.
func Default() *Config {
	eng := DefaultEngineConfig()
	syslogTail := DefaultSyslogTailConfig()
	sched := DefaultSchedulerConfig()
	cmd := DefaultCommandServerConfig()
	logArchive := DefaultLogArchiveConfig()

	return &Config{
		SchemaVersion: CurrentSchemaVersion,
		BaseDir:       "/opt/warden",
		Engine:        &eng,
		Syslog:        &syslogTail,
		GeoIP: &GeoIPConfig{
			ZonesDir:             "GeoBlock/zones",
			BlockedCountriesFile: "GeoBlock/blocked_countries.txt",
		},
		BlockList: &BlockListConfig{
			BlocklistFile: "BlockList/blocklist.txt",
			WhitelistFile: "Whitelist/whitelist.txt",
		},
		FirewallRules: &FirewallRulesConfig{
			RulesFile:       "FirewallRuleSet/rules.txt",
			CustomRulesFile: "FirewallRuleSet/custom_rules.txt",
			SSHPort:         22,
			IPTablesPath:    "/sbin/iptables",
		},
		Scheduler:     &sched,
		CommandServer: &cmd,
		LogArchive:    &logArchive,
		Audit: &AuditConfig{
			Enabled:       true,
			RetentionDays: 90,
			DatabasePath:  "Database/audit.db",
		},
		Notifications: &NotificationsConfig{},
		Logging:       &LoggingConfig{Level: "info"},
	}
}
