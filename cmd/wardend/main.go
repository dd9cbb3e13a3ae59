// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Command wardend is the host firewall daemon: it reconciles persisted
// blocks, tails the kernel syslog for new connection attempts, evaluates
// them against rate and geo policy, and serves the line-protocol command
// channel.
package main

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"warden/internal/audit"
	"warden/internal/blocklist"
	"warden/internal/command"
	"warden/internal/config"
	"warden/internal/engine"
	wardenerrors "warden/internal/errors"
	"warden/internal/eventbus"
	"warden/internal/geo"
	"warden/internal/lifecycle"
	"warden/internal/logging"
	"warden/internal/notify"
	"warden/internal/pfilter"
	"warden/internal/scheduler"
	"warden/internal/store"
	"warden/internal/syslogtail"
	"warden/internal/tasks"
)

func main() {
	configPath := flag.String("config", "", "Path to HCL config file (defaults built in if omitted)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("wardend: %v", err)
	}

	logger := logging.New(loggingConfig(cfg.Logging))
	logging.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("wardend exited with error", "error", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.NewHCLLoader().LoadFile(path)
}

func loggingConfig(cfg *config.LoggingConfig) logging.Config {
	out := logging.DefaultConfig()
	if cfg == nil {
		return out
	}
	if cfg.Level != "" {
		out.Level = cfg.Level
	}
	out.JSON = cfg.JSON
	return out
}

// run wires every component together with explicit construction instead
// of a service locator, enforces reconciliation-before-syslog-tail
// ordering, and blocks until the process receives SIGINT/SIGTERM.
func run(cfg *config.Config, logger *logging.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	bus := eventbus.New(func(variant eventbus.Variant, handlerName string, err any) {
		logger.Error("event handler panicked", "variant", variant, "handler", handlerName, "panic", err)
	})

	dbPath := filepath.Join(cfg.BaseDir, "Database", "firewall.db")
	st, err := store.Open(dbPath)
	if err != nil {
		return err
	}
	defer st.Close()

	bl, err := blocklist.New(
		baseJoin(cfg.BaseDir, cfg.BlockList.BlocklistFile),
		baseJoin(cfg.BaseDir, cfg.BlockList.WhitelistFile),
		bus,
	)
	if err != nil {
		return err
	}

	geoResolver, err := geo.NewResolver(
		baseJoin(cfg.BaseDir, cfg.GeoIP.ZonesDir),
		baseJoin(cfg.BaseDir, cfg.GeoIP.BlockedCountriesFile),
	)
	if err != nil {
		return err
	}

	driver := pfilter.New(cfg.FirewallRules.IPTablesPath)

	sched := scheduler.New(func(id string, err any) {
		logger.Error("scheduled job panicked", "job", id, "panic", err)
	})
	defer sched.Close()

	lifecycleMgr := lifecycle.New(driver, st, bl, sched, bus)

	// Reconciliation must complete before the syslog tail starts, so no
	// connection is classified against a block set that hasn't yet
	// caught up with the persisted records.
	if err := lifecycleMgr.Reconcile(); err != nil {
		return err
	}

	extraRules, err := readRuleLines(baseJoin(cfg.BaseDir, cfg.FirewallRules.RulesFile))
	if err != nil {
		return err
	}
	customRules, err := readRuleLines(baseJoin(cfg.BaseDir, cfg.FirewallRules.CustomRulesFile))
	if err != nil {
		return err
	}

	if res := driver.Reload(cfg.FirewallRules.SSHPort, extraRules, customRules); !res.Success {
		logger.Warn("initial firewall reload failed", "diagnostic", res.Diagnostic)
	}

	eng := engine.New(engine.Config{
		ThresholdAttempts:    cfg.Engine.ThresholdAttempts,
		ThresholdSeconds:     cfg.Engine.ThresholdSeconds,
		DefaultDuration:      time.Duration(cfg.Engine.DefaultDurationSeconds) * time.Second,
		PlaintextLogsEnabled: cfg.Engine.PlaintextLogsEnabled,
		PlaintextLogPath:     filepath.Join(cfg.BaseDir, cfg.LogArchive.PlaintextLogFile),
	}, bl, geoResolver, bus, lifecycleMgr)

	metricsRegistry := prometheus.NewRegistry()
	metrics := tasks.NewMetrics(metricsRegistry)

	monitor := tasks.NewMonitor(tasks.DefaultConfig(), bus, lifecycleMgr, metrics)

	var certMonitor *tasks.CertMonitor
	if !cfg.CommandServer.AllowPlaintextCommands && cfg.CommandServer.TLSCertFile != "" {
		certMonitor = tasks.NewCertMonitor(
			[]string{fmt.Sprintf("127.0.0.1:%d", cfg.CommandServer.Port)},
			14,
			metrics,
		)
	}

	periodicTasks := tasks.New(sched, lifecycleMgr, certMonitor, monitor)
	expirySweepEvery := cfg.Scheduler.TickInterval() * time.Duration(cfg.Scheduler.ExpirySweepEveryNTicks)
	periodicTasks.Start(expirySweepEvery, 10*time.Second, time.Hour)
	defer periodicTasks.Stop()

	dispatcher := notify.NewDispatcher(cfg.Notifications, logger.WithComponent("notify"))
	dispatcher.Subscribe(bus)
	defer dispatcher.Close(bus)

	var auditLogger *audit.Logger
	if cfg.Audit != nil && cfg.Audit.Enabled {
		auditPath := cfg.Audit.DatabasePath
		if auditPath == "" {
			auditPath = filepath.Join(cfg.BaseDir, "Database", "audit.db")
		} else if !filepath.IsAbs(auditPath) {
			auditPath = filepath.Join(cfg.BaseDir, auditPath)
		}
		auditStore, err := audit.Open(auditPath)
		if err != nil {
			return err
		}
		defer auditStore.Close()

		auditLogger = audit.NewLogger(auditStore, logger.WithComponent("audit"))
		auditLogger.Subscribe(bus)
		defer auditLogger.Close(bus)
		auditLogger.LogEvent(audit.Event{EventType: audit.EventSystemStart, Severity: audit.SeverityInfo, Action: "start", Success: true})
		defer auditLogger.LogEvent(audit.Event{EventType: audit.EventSystemStop, Severity: audit.SeverityInfo, Action: "stop", Success: true})
	}

	tailer := syslogtail.New(cfg.Syslog.Path, cfg.Syslog.PollInterval(), eng.Process, func() {
		if exporter, err := newLogExporter(cfg); err == nil {
			if err := exporter.RotateLogs(); err != nil {
				logger.Warn("log rotation failed", "error", err)
			}
		}
	})

	exporter, err := newLogExporter(cfg)
	if err != nil {
		return err
	}

	registry := command.NewRegistry()
	command.RegisterDefaults(registry)

	cmdCtx := &command.Context{
		Lifecycle:   lifecycleMgr,
		Blocklist:   bl,
		Records:     st,
		Reloader:    driver,
		Exporter:    exporter,
		Registry:    registry,
		Bus:         bus,
		SSHPort:     cfg.FirewallRules.SSHPort,
		ExtraRules:  extraRules,
		CustomRules: customRules,
		StartedAt:   time.Now().UTC(),
		Version:     config.CurrentSchemaVersion,
		Shutdown:    cancel,
	}
	if auditLogger != nil {
		cmdCtx.Auditor = auditLogger
	}

	cmdServerCfg, err := commandServerConfig(cfg)
	if err != nil {
		return err
	}
	cmdServer := command.NewServer(cmdServerCfg, registry, cmdCtx)

	metricsServer := command.NewMetricsServer(cfg.CommandServer.MetricsListen, metricsRegistry)

	var wg sync.WaitGroup
	errCh := make(chan error, 3)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := tailer.Run(ctx); err != nil {
			errCh <- err
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := cmdServer.Run(ctx); err != nil {
			errCh <- err
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := metricsServer.Run(ctx); err != nil {
			errCh <- err
		}
	}()

	logger.Info("wardend started", "base_dir", cfg.BaseDir, "command_port", cfg.CommandServer.Port)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		cancel()
		wg.Wait()
		return err
	}

	wg.Wait()
	logger.Info("wardend stopped")
	return nil
}

// baseJoin resolves path relative to base, the way the store and
// plaintext-log paths already are: an empty path is left empty (the
// caller treats it as "not configured"), an absolute path is used
// verbatim, and anything else is joined onto base.
func baseJoin(base, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}

// readRuleLines reads one packet-filter argument string per line from
// path, ignoring blank lines and `#`-comments. A missing file yields an
// empty ruleset rather than an error, since both rule files are optional
// scaffolding.
func readRuleLines(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, wardenerrors.Wrapf(err, wardenerrors.KindUnavailable, "wardend: read %s", path)
	}
	defer f.Close()

	var out []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out, scanner.Err()
}

func newLogExporter(cfg *config.Config) (*command.LogExporter, error) {
	e := &command.LogExporter{
		LogPath:     filepath.Join(cfg.BaseDir, cfg.LogArchive.PlaintextLogFile),
		ArchiveDir:  filepath.Join(cfg.BaseDir, cfg.LogArchive.ArchiveDir),
		ExportDir:   filepath.Join(cfg.BaseDir, cfg.LogArchive.SecureExportDir),
		MaxArchives: cfg.LogArchive.MaxArchives,
	}

	if cfg.CommandServer.AESKeyBase64 != "" {
		key, err := base64.StdEncoding.DecodeString(string(cfg.CommandServer.AESKeyBase64))
		if err != nil {
			return nil, wardenerrors.Wrap(err, wardenerrors.KindValidation, "wardend: decode aes_key_base64")
		}
		iv, err := base64.StdEncoding.DecodeString(string(cfg.CommandServer.AESIVBase64))
		if err != nil {
			return nil, wardenerrors.Wrap(err, wardenerrors.KindValidation, "wardend: decode aes_iv_base64")
		}
		cipher, err := command.NewCipher(key, iv)
		if err != nil {
			return nil, err
		}
		e.Cipher = cipher
	}
	return e, nil
}

func commandServerConfig(cfg *config.Config) (command.ServerConfig, error) {
	out := command.ServerConfig{
		Addr:                   fmt.Sprintf(":%d", cfg.CommandServer.Port),
		AllowPlaintextCommands: cfg.CommandServer.AllowPlaintextCommands,
	}

	if cfg.CommandServer.AllowPlaintextCommands {
		return out, nil
	}

	key, err := base64.StdEncoding.DecodeString(string(cfg.CommandServer.AESKeyBase64))
	if err != nil {
		return command.ServerConfig{}, wardenerrors.Wrap(err, wardenerrors.KindValidation, "wardend: decode aes_key_base64")
	}
	iv, err := base64.StdEncoding.DecodeString(string(cfg.CommandServer.AESIVBase64))
	if err != nil {
		return command.ServerConfig{}, wardenerrors.Wrap(err, wardenerrors.KindValidation, "wardend: decode aes_iv_base64")
	}
	cipher, err := command.NewCipher(key, iv)
	if err != nil {
		return command.ServerConfig{}, err
	}
	out.Cipher = cipher

	certFile := baseJoin(cfg.BaseDir, cfg.CommandServer.TLSCertFile)
	keyFile := baseJoin(cfg.BaseDir, cfg.CommandServer.TLSKeyFile)
	tlsCfg, err := loadTLSConfig(certFile, keyFile)
	if err != nil {
		return command.ServerConfig{}, err
	}
	out.TLSConfig = tlsCfg

	return out, nil
}

// loadTLSConfig generates a self-signed certificate at certFile/keyFile on
// first run if one isn't already there, then loads it.
func loadTLSConfig(certFile, keyFile string) (*tls.Config, error) {
	if err := command.EnsureSelfSignedCert(certFile, keyFile); err != nil {
		return nil, err
	}
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, wardenerrors.Wrapf(err, wardenerrors.KindUnavailable, "wardend: load TLS keypair %s/%s", certFile, keyFile)
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS13}, nil
}
