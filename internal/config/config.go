// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Package config loads the line-based key=value configuration files the
// engine is driven by: one global file naming local system directories and
// the list of backends to sync against, plus one file per configured
// backend naming its credentials.
//
// Grounded directly on original_source/src/rosycloud.py's load_configure/
// load_cloud_conf/init: the wire format (one "key=value" pair per line,
// '#'-prefixed comments, shell-style environment variable expansion via
// os.ExpandEnv) and the derived SYS_DIR_SS/SYS_DIR_CACHE/SYS_DB/SYS_TMP
// fields are carried over unchanged; only the file-reading mechanics are
// translated to Go idiom (bufio.Scanner over os.Open, not StringIO).
package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Map is a flat key=value configuration section.
type Map map[string]string

// Load reads a key=value file at path. Blank lines and lines beginning with
// '#' are skipped; every value is passed through os.ExpandEnv, matching the
// original's os.path.expandvars.
func Load(path string) (Map, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	m := make(Map)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			return nil, fmt.Errorf("config: %s: malformed line %q, want key=value", path, line)
		}
		m[key] = os.ExpandEnv(value)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return m, nil
}

// LoadCloud reads the per-backend configuration file named "<id>.conf" in
// dir, matching the original's load_cloud_conf. A missing file is not an
// error: it returns a nil map, same as the original returning None so the
// caller can fall back to defaults or fail with a clearer message.
func LoadCloud(dir, id string) (Map, error) {
	path := filepath.Join(dir, id+".conf")
	m, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return m, err
}

// Global is the top-level configuration, loaded once at startup and
// carrying the derived system directories used throughout the engine.
type Global struct {
	Map

	SysDir      string
	SysDirSS    string
	SysDirCache string
	SysDB       string
	SysTmp      string
	SrcDir      string
	Clouds      []string
}

// LoadGlobal reads the global configuration file at path and derives the
// SYS_DIR_SS/SYS_DIR_CACHE/SYS_DB/SYS_TMP paths and SRC_DIR expansion the
// original's init() performs inline.
func LoadGlobal(path string) (*Global, error) {
	m, err := Load(path)
	if err != nil {
		return nil, err
	}

	sysDir, ok := m["SYS_DIR"]
	if !ok {
		return nil, fmt.Errorf("config: %s: missing required key SYS_DIR", path)
	}
	srcDir, ok := m["SRC_DIR"]
	if !ok {
		return nil, fmt.Errorf("config: %s: missing required key SRC_DIR", path)
	}

	g := &Global{
		Map:         m,
		SysDir:      sysDir,
		SysDirSS:    filepath.Join(sysDir, "snapshots"),
		SysDirCache: filepath.Join(sysDir, "cache"),
		SysDB:       filepath.Join(sysDir, "local.db"),
		SysTmp:      filepath.Join(sysDir, "tmp"),
		SrcDir:      expandHome(os.ExpandEnv(srcDir)),
	}
	if clouds, ok := m["CLOUDS"]; ok && clouds != "" {
		g.Clouds = strings.Split(clouds, ":")
	}

	return g, nil
}

// expandHome expands a leading "~" the same way Python's
// os.path.expanduser does; os.ExpandEnv has no equivalent.
func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	return filepath.Join(home, path[2:])
}
