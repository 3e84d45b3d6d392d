// Package platform resolves where tavla keeps its config file, its sqlite
// database and its logs on the current machine.
package platform

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// DefaultAppName names the config and data directories when no app name is
// given.
const DefaultAppName = "tavla"

const (
	envConfigPath = "TAVLA_CONFIG"
	envDBPath     = "TAVLA_DB_PATH"
)

var ErrInvalidAppName = errors.New("invalid app name")

// Source reports where a resolved path came from.
type Source string

const (
	SourceDefault Source = "default"
	SourceEnv     Source = "env"
	SourceFlag    Source = "flag"
)

// Paths holds the resolved locations for one app name.
type Paths struct {
	AppName      string
	ConfigPath   string
	ConfigSource Source
	DataDir      string
	DBPath       string
	DBSource     Source
	LogDir       string
}

// DBOverridden reports whether the database path was chosen by the caller
// rather than derived from the data directory.
func (p Paths) DBOverridden() bool {
	return p.DBSource != SourceDefault
}

// Options carries the caller's choices. Explicit paths win over the
// TAVLA_CONFIG and TAVLA_DB_PATH environment variables, which win over the
// per-user defaults.
type Options struct {
	AppName    string
	DevMode    bool
	ConfigPath string
	DBPath     string
}

// host is the slice of the operating system path resolution depends on.
type host struct {
	goos   string
	getenv func(string) string
	home   string
}

// Resolve resolves paths for the running process.
func Resolve(opts Options) (Paths, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Paths{}, fmt.Errorf("user home dir: %w", err)
	}
	return resolve(host{goos: runtime.GOOS, getenv: os.Getenv, home: home}, opts)
}

func resolve(h host, opts Options) (Paths, error) {
	app, err := appDirName(opts.AppName, opts.DevMode)
	if err != nil {
		return Paths{}, err
	}
	configBase, dataBase := baseDirs(h)
	if configBase == "" || dataBase == "" {
		return Paths{}, fmt.Errorf("no config or data base dir on %s", h.goos)
	}

	p := Paths{
		AppName: app,
		DataDir: filepath.Join(dataBase, app),
	}
	p.LogDir = filepath.Join(p.DataDir, "log")
	p.ConfigPath, p.ConfigSource = pick(opts.ConfigPath, h.getenv(envConfigPath), filepath.Join(configBase, app, "config.toml"))
	p.DBPath, p.DBSource = pick(opts.DBPath, h.getenv(envDBPath), filepath.Join(p.DataDir, app+".db"))
	return p, nil
}

// appDirName validates name and applies the dev suffix. The name becomes a
// single path element, so separators and dot names are rejected.
func appDirName(name string, dev bool) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultAppName
	}
	if name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidAppName, name)
	}
	if dev && !strings.HasSuffix(name, "-dev") {
		name += "-dev"
	}
	return name, nil
}

func baseDirs(h host) (config, data string) {
	env := func(key string) string { return strings.TrimSpace(h.getenv(key)) }
	switch h.goos {
	case "windows":
		return env("APPDATA"), env("LOCALAPPDATA")
	case "darwin":
		support := filepath.Join(h.home, "Library", "Application Support")
		return support, support
	default:
		config, data = env("XDG_CONFIG_HOME"), env("XDG_DATA_HOME")
		if config == "" && h.home != "" {
			config = filepath.Join(h.home, ".config")
		}
		if data == "" && h.home != "" {
			data = filepath.Join(h.home, ".local", "share")
		}
		return config, data
	}
}

func pick(flagValue, envValue, fallback string) (string, Source) {
	if v := strings.TrimSpace(flagValue); v != "" {
		return filepath.Clean(v), SourceFlag
	}
	if v := strings.TrimSpace(envValue); v != "" {
		return filepath.Clean(v), SourceEnv
	}
	return fallback, SourceDefault
}

// Ensure creates the directories holding the config file, the database and
// the logs.
func (p Paths) Ensure() error {
	for _, dir := range []string{filepath.Dir(p.ConfigPath), filepath.Dir(p.DBPath), p.LogDir} {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// WatchTargets returns the files whose changes invalidate a rendered board:
// the config file and, for sqlite, the database file with its WAL and shared
// memory sidecars. An empty dbPath means the data lives elsewhere.
func WatchTargets(configPath, dbPath string) []string {
	out := make([]string, 0, 4)
	if p := strings.TrimSpace(configPath); p != "" {
		out = append(out, filepath.Clean(p))
	}
	if p := strings.TrimSpace(dbPath); p != "" && p != ":memory:" {
		p = filepath.Clean(p)
		out = append(out, p, p+"-wal", p+"-shm")
	}
	return out
}
