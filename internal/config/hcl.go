// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import (
	"os"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	wardenerrors "warden/internal/errors"
)

// HCLLoader decodes firewallconfig.hcl into a Config, starting from
// Default() so any block the file omits keeps its built-in default.
// Hot-reload/file-watch behavior is left to an external collaborator
// and is intentionally not implemented here.
type HCLLoader struct {
	parser *hclparse.Parser
}

// NewHCLLoader creates a loader.
func NewHCLLoader() *HCLLoader {
	return &HCLLoader{parser: hclparse.NewParser()}
}

// LoadFile parses path as HCL and decodes it onto a copy of Default().
func (l *HCLLoader) LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, wardenerrors.Wrapf(err, wardenerrors.KindValidation, "config: read %s", path)
	}

	file, diags := l.parser.ParseHCL(data, path)
	if diags.HasErrors() {
		return nil, wardenerrors.Wrapf(diags, wardenerrors.KindValidation, "config: parse %s", path)
	}

	cfg := Default()
	if diags := gohcl.DecodeBody(file.Body, nil, cfg); diags.HasErrors() {
		return nil, wardenerrors.Wrapf(diags, wardenerrors.KindValidation, "config: decode %s", path)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the invariants the rest of the daemon assumes hold:
// positive thresholds, a non-empty base directory, a resolvable command
// port. Configuration errors are fatal at startup and rejected (without
// side effect) on reload.
func Validate(cfg *Config) error {
	if cfg.BaseDir == "" {
		return wardenerrors.New(wardenerrors.KindValidation, "config: base_dir must not be empty")
	}
	if cfg.Engine != nil {
		if cfg.Engine.ThresholdAttempts <= 0 {
			return wardenerrors.New(wardenerrors.KindValidation, "config: engine.threshold_attempts must be positive")
		}
		if cfg.Engine.ThresholdSeconds <= 0 {
			return wardenerrors.New(wardenerrors.KindValidation, "config: engine.threshold_seconds must be positive")
		}
	}
	if cfg.CommandServer != nil {
		if cfg.CommandServer.Port <= 0 || cfg.CommandServer.Port > 65535 {
			return wardenerrors.Errorf(wardenerrors.KindValidation, "config: command_server.port %d out of range", cfg.CommandServer.Port)
		}
		if !cfg.CommandServer.AllowPlaintextCommands && cfg.CommandServer.AESKeyBase64 == "" {
			return wardenerrors.New(wardenerrors.KindValidation, "config: command_server.aes_key_base64 is required when plaintext commands are disabled")
		}
	}
	return nil
}
