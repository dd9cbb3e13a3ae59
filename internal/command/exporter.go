// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package command

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	wardenerrors "warden/internal/errors"
)

// LogExporter implements Exporter over the daemon's log filesystem
// layout: the live plaintext log, gzip-compressed rotated archives
// retaining the newest MaxArchives, and AES-CBC-encrypted JSON exports
// under SecureExportDir.
type LogExporter struct {
	LogPath     string
	ArchiveDir  string
	ExportDir   string
	MaxArchives int
	Cipher      *Cipher
}

// ExportLogs reads the current plaintext log, JSON-encodes its lines, and
// writes the AES-CBC-encrypted result to ExportDir/destName.
func (e *LogExporter) ExportLogs(destName string) (string, error) {
	lines, err := e.readLines(e.LogPath)
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(lines)
	if err != nil {
		return "", wardenerrors.Wrap(err, wardenerrors.KindInternal, "exportlogs: marshal")
	}
	encoded, err := e.Cipher.EncryptToBase64(payload)
	if err != nil {
		return "", wardenerrors.Wrap(err, wardenerrors.KindInternal, "exportlogs: encrypt")
	}

	if err := os.MkdirAll(e.ExportDir, 0755); err != nil {
		return "", wardenerrors.Wrap(err, wardenerrors.KindInternal, "exportlogs: mkdir")
	}
	destPath := filepath.Join(e.ExportDir, destName)
	if err := os.WriteFile(destPath, []byte(encoded), 0600); err != nil {
		return "", wardenerrors.Wrap(err, wardenerrors.KindInternal, "exportlogs: write")
	}
	return destPath, nil
}

// ShowLogs returns the last n lines of the live plaintext log.
func (e *LogExporter) ShowLogs(n int) ([]string, error) {
	lines, err := e.readLines(e.LogPath)
	if err != nil {
		return nil, err
	}
	if n <= 0 || n >= len(lines) {
		return lines, nil
	}
	return lines[len(lines)-n:], nil
}

// RotateLogs gzip-compresses the live log into ArchiveDir with a timestamped
// name, truncates the live log, and prunes archives beyond MaxArchives.
func (e *LogExporter) RotateLogs() error {
	data, err := os.ReadFile(e.LogPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return wardenerrors.Wrap(err, wardenerrors.KindInternal, "rotate: read")
	}
	if len(data) == 0 {
		return nil
	}

	if err := os.MkdirAll(e.ArchiveDir, 0755); err != nil {
		return wardenerrors.Wrap(err, wardenerrors.KindInternal, "rotate: mkdir")
	}

	name := fmt.Sprintf("connection_attempts_%s.txt.gz", time.Now().UTC().Format("20060102150405"))
	archivePath := filepath.Join(e.ArchiveDir, name)

	f, err := os.OpenFile(archivePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return wardenerrors.Wrap(err, wardenerrors.KindInternal, "rotate: create archive")
	}
	gz := gzip.NewWriter(f)
	if _, err := gz.Write(data); err != nil {
		gz.Close()
		f.Close()
		return wardenerrors.Wrap(err, wardenerrors.KindInternal, "rotate: gzip write")
	}
	if err := gz.Close(); err != nil {
		f.Close()
		return wardenerrors.Wrap(err, wardenerrors.KindInternal, "rotate: gzip close")
	}
	if err := f.Close(); err != nil {
		return wardenerrors.Wrap(err, wardenerrors.KindInternal, "rotate: close archive")
	}

	if err := e.ClearLog(); err != nil {
		return err
	}
	return e.pruneArchives()
}

// ClearLog truncates the live plaintext log to empty without rotating it.
func (e *LogExporter) ClearLog() error {
	if err := os.MkdirAll(filepath.Dir(e.LogPath), 0755); err != nil {
		return wardenerrors.Wrap(err, wardenerrors.KindInternal, "clear: mkdir")
	}
	f, err := os.OpenFile(e.LogPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return wardenerrors.Wrap(err, wardenerrors.KindInternal, "clear: truncate")
	}
	return f.Close()
}

// pruneArchives keeps only the newest MaxArchives entries. Archive names
// embed a YYYYMMDDHHMMSS timestamp, so lexical sort order is chronological.
func (e *LogExporter) pruneArchives() error {
	if e.MaxArchives <= 0 {
		return nil
	}
	entries, err := os.ReadDir(e.ArchiveDir)
	if err != nil {
		return wardenerrors.Wrap(err, wardenerrors.KindInternal, "rotate: list archives")
	}
	var names []string
	for _, ent := range entries {
		if !ent.IsDir() && strings.HasSuffix(ent.Name(), ".txt.gz") {
			names = append(names, ent.Name())
		}
	}
	sort.Strings(names)
	if len(names) <= e.MaxArchives {
		return nil
	}
	for _, stale := range names[:len(names)-e.MaxArchives] {
		if err := os.Remove(filepath.Join(e.ArchiveDir, stale)); err != nil {
			return wardenerrors.Wrap(err, wardenerrors.KindInternal, "rotate: prune archive")
		}
	}
	return nil
}

func (e *LogExporter) readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, wardenerrors.Wrap(err, wardenerrors.KindInternal, "read log")
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, wardenerrors.Wrap(err, wardenerrors.KindInternal, "scan log")
	}
	return lines, nil
}
