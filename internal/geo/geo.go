// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package geo resolves addresses by longest-prefix-match from CIDR to
// ISO-3166 country code, plus a country block-list predicate.
package geo

import (
	"bufio"
	"net/netip"
	"os"
	"path/filepath"
	"strings"

	"github.com/gaissmai/bart"

	wardenerrors "warden/internal/errors"
)

// UnknownCountry is returned by CountryOf when no prefix contains the
// address.
const UnknownCountry = "Unknown"

// Resolver answers country_of and is_blocked_country queries. It is
// immutable after construction; zone files are read only when a Resolver
// is built.
//
// The longest-prefix-match itself is delegated to github.com/gaissmai/bart,
// a compressed binary trie, rather than a sorted-list linear scan:
// bart.Table already resolves ties by longest prefix.
type Resolver struct {
	table    *bart.Table[string]
	blocked  map[string]struct{}
}

// NewResolver reads every *.zone file under zonesDir (file stem is the
// ISO country code; each non-comment, non-blank line is a CIDR) and the
// blocked-countries file (ISO codes, one per line, `#`-comments, upper-
// cased), and builds a Resolver.
func NewResolver(zonesDir, blockedCountriesFile string) (*Resolver, error) {
	table := &bart.Table[string]{}

	entries, err := os.ReadDir(zonesDir)
	if err != nil {
		if os.IsNotExist(err) {
			entries = nil
		} else {
			return nil, wardenerrors.Wrapf(err, wardenerrors.KindUnavailable, "geo: read zones dir %s", zonesDir)
		}
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".zone") {
			continue
		}
		country := strings.ToUpper(strings.TrimSuffix(entry.Name(), ".zone"))
		path := filepath.Join(zonesDir, entry.Name())
		prefixes, err := readLines(path)
		if err != nil {
			return nil, err
		}
		for _, line := range prefixes {
			pfx, err := netip.ParsePrefix(line)
			if err != nil {
				continue
			}
			table.Insert(pfx, country)
		}
	}

	blockedCodes, err := readLines(blockedCountriesFile)
	if err != nil {
		return nil, err
	}
	blocked := make(map[string]struct{}, len(blockedCodes))
	for _, code := range blockedCodes {
		blocked[strings.ToUpper(code)] = struct{}{}
	}

	return &Resolver{table: table, blocked: blocked}, nil
}

// readLines reads path, ignoring blank lines and `#`-comments. A missing
// file yields an empty slice.
func readLines(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, wardenerrors.Wrapf(err, wardenerrors.KindUnavailable, "geo: open %s", path)
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
	if err := scanner.Err(); err != nil {
		return nil, wardenerrors.Wrapf(err, wardenerrors.KindUnavailable, "geo: scan %s", path)
	}
	return out, nil
}

// CountryOf returns the country of the longest prefix containing addr, or
// UnknownCountry if none matches. Stable under repeated calls for the
// same zone files.
func (r *Resolver) CountryOf(addr string) string {
	ip, err := netip.ParseAddr(addr)
	if err != nil {
		return UnknownCountry
	}
	country, ok := r.table.Lookup(ip)
	if !ok {
		return UnknownCountry
	}
	return country
}

// IsBlockedCountry reports whether CountryOf(addr) is in the blocked-
// countries set.
func (r *Resolver) IsBlockedCountry(addr string) bool {
	country := r.CountryOf(addr)
	if country == UnknownCountry {
		return false
	}
	_, blocked := r.blocked[country]
	return blocked
}
