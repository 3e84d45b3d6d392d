package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/natefinch/atomic"
	toml "github.com/pelletier/go-toml/v2"

	"github.com/hylla/tavla/internal/app"
	"github.com/hylla/tavla/internal/domain"
)

// Driver names the SQL backend holding issues and catalog data.
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// ViewStateBackend names where per-scope filter state is kept.
type ViewStateBackend string

const (
	ViewStateDatabase ViewStateBackend = "database"
	ViewStateRedis    ViewStateBackend = "redis"
)

type Config struct {
	Database  DatabaseConfig  `toml:"database"`
	ViewState ViewStateConfig `toml:"view_state"`
	Board     BoardConfig     `toml:"board"`
	Reorder   ReorderConfig   `toml:"reorder"`
	Logging   LoggingConfig   `toml:"logging"`
	Watch     WatchConfig     `toml:"watch"`
}

type DatabaseConfig struct {
	Driver Driver `toml:"driver"`
	Path   string `toml:"path"`
	DSN    string `toml:"dsn"`
}

type ViewStateConfig struct {
	Backend   ViewStateBackend `toml:"backend"`
	RedisURL  string           `toml:"redis_url"`
	KeyPrefix string           `toml:"key_prefix"`
	TTL       string           `toml:"ttl"`
}

// BoardConfig holds the default display configuration for scopes that have
// no saved filter state, plus the states seeded into new projects.
type BoardConfig struct {
	GroupBy         string              `toml:"group_by"`
	SubGroupBy      string              `toml:"sub_group_by"`
	OrderBy         string              `toml:"order_by"`
	Layout          string              `toml:"layout"`
	ShowEmptyGroups bool                `toml:"show_empty_groups"`
	Filters         map[string][]string `toml:"filters,omitempty"`
	States          []StateConfig       `toml:"states,omitempty"`
}

type StateConfig struct {
	Name     string  `toml:"name"`
	Group    string  `toml:"group"`
	Sequence float64 `toml:"sequence"`
}

type ReorderConfig struct {
	Spacing         float64 `toml:"spacing"`
	MinGap          float64 `toml:"min_gap"`
	AutoRenormalize bool    `toml:"auto_renormalize"`
}

type LoggingConfig struct {
	Level   string        `toml:"level"`
	DevFile DevFileConfig `toml:"dev_file"`
}

type DevFileConfig struct {
	Enabled bool   `toml:"enabled"`
	Dir     string `toml:"dir"`
}

type WatchConfig struct {
	Debounce string `toml:"debounce"`
}

func defaultStates() []StateConfig {
	return []StateConfig{
		{Name: "Backlog", Group: string(domain.StateGroupBacklog), Sequence: 15000},
		{Name: "Todo", Group: string(domain.StateGroupUnstarted), Sequence: 25000},
		{Name: "In Progress", Group: string(domain.StateGroupStarted), Sequence: 35000},
		{Name: "Done", Group: string(domain.StateGroupCompleted), Sequence: 45000},
		{Name: "Cancelled", Group: string(domain.StateGroupCancelled), Sequence: 55000},
	}
}

func Default(dbPath string) Config {
	return Config{
		Database: DatabaseConfig{
			Driver: DriverSQLite,
			Path:   dbPath,
		},
		ViewState: ViewStateConfig{
			Backend:   ViewStateDatabase,
			KeyPrefix: "tavla:view_state:",
		},
		Board: BoardConfig{
			GroupBy:    string(domain.GroupByState),
			SubGroupBy: string(domain.GroupByNone),
			OrderBy:    string(domain.OrderByManual),
			Layout:     string(domain.LayoutKanban),
			States:     defaultStates(),
		},
		Reorder: ReorderConfig{
			Spacing:         65535,
			MinGap:          1e-3,
			AutoRenormalize: true,
		},
		Logging: LoggingConfig{
			Level: "info",
			DevFile: DevFileConfig{
				Enabled: true,
				Dir:     ".tavla/log",
			},
		},
		Watch: WatchConfig{
			Debounce: "200ms",
		},
	}
}

func Load(path string, defaults Config) (Config, error) {
	cfg := defaults
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if len(content) == 0 {
		return cfg, nil
	}

	// States replace the defaults wholesale rather than merging by index.
	cfg.Board.States = nil
	if err := toml.Unmarshal(content, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode toml: %w", err)
	}
	if cfg.Board.States == nil {
		cfg.Board.States = defaults.Board.States
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Database.Driver {
	case DriverSQLite, "":
		if strings.TrimSpace(c.Database.Path) == "" {
			return errors.New("database path is required")
		}
	case DriverPostgres:
		if strings.TrimSpace(c.Database.DSN) == "" {
			return errors.New("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("invalid database.driver: %q", c.Database.Driver)
	}

	switch c.ViewState.Backend {
	case ViewStateDatabase, "":
	case ViewStateRedis:
		if strings.TrimSpace(c.ViewState.RedisURL) == "" {
			return errors.New("view_state.redis_url is required for the redis backend")
		}
	default:
		return fmt.Errorf("invalid view_state.backend: %q", c.ViewState.Backend)
	}
	if _, err := c.ViewState.TTLDuration(); err != nil {
		return err
	}

	if _, err := c.Board.FilterState(); err != nil {
		return fmt.Errorf("board: %w", err)
	}
	if _, err := c.Board.StateTemplates(); err != nil {
		return err
	}

	if c.Reorder.Spacing <= 0 {
		return fmt.Errorf("reorder.spacing must be > 0, got %v", c.Reorder.Spacing)
	}
	if c.Reorder.MinGap <= 0 || c.Reorder.MinGap >= c.Reorder.Spacing {
		return fmt.Errorf("reorder.min_gap must be > 0 and below spacing, got %v", c.Reorder.MinGap)
	}

	if _, err := log.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("invalid logging.level: %q", c.Logging.Level)
	}

	if _, err := c.Watch.DebounceDuration(); err != nil {
		return err
	}
	return nil
}

// FilterState converts the board defaults into a normalized filter state.
func (b BoardConfig) FilterState() (domain.FilterState, error) {
	fs := domain.FilterState{
		GroupBy:         domain.GroupBy(b.GroupBy),
		SubGroupBy:      domain.GroupBy(b.SubGroupBy),
		OrderBy:         domain.OrderBy(b.OrderBy),
		Layout:          domain.Layout(b.Layout),
		ShowEmptyGroups: b.ShowEmptyGroups,
	}
	if len(b.Filters) > 0 {
		fs.Filters = make(map[domain.FilterField][]string, len(b.Filters))
		for field, values := range b.Filters {
			fs.Filters[domain.FilterField(field)] = append([]string(nil), values...)
		}
	}
	return fs.Normalize()
}

// StateTemplates validates and converts the configured project states.
func (b BoardConfig) StateTemplates() ([]app.StateTemplate, error) {
	out := make([]app.StateTemplate, 0, len(b.States))
	seen := map[string]struct{}{}
	for idx, state := range b.States {
		name := strings.TrimSpace(state.Name)
		if name == "" {
			return nil, fmt.Errorf("board.states[%d].name is required", idx)
		}
		group := domain.NormalizeStateGroup(domain.StateGroup(state.Group))
		if !domain.IsValidStateGroup(group) {
			return nil, fmt.Errorf("board.states[%d].group is invalid: %q", idx, state.Group)
		}
		if state.Sequence < 0 {
			return nil, fmt.Errorf("board.states[%d].sequence must be >= 0", idx)
		}
		key := strings.ToLower(name)
		if _, ok := seen[key]; ok {
			return nil, fmt.Errorf("board.states[%d].name is duplicated: %s", idx, name)
		}
		seen[key] = struct{}{}
		out = append(out, app.StateTemplate{Name: name, Group: group, Sequence: state.Sequence})
	}
	return out, nil
}

// TTLDuration parses view_state.ttl; empty means no expiry.
func (v ViewStateConfig) TTLDuration() (time.Duration, error) {
	return parseOptionalDuration("view_state.ttl", v.TTL)
}

// DebounceDuration parses watch.debounce; empty means no debounce.
func (w WatchConfig) DebounceDuration() (time.Duration, error) {
	return parseOptionalDuration("watch.debounce", w.Debounce)
}

func parseOptionalDuration(key, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s: must be >= 0", key)
	}
	return d, nil
}

// SaveBoardDefaults rewrites the [board] display fields of the config file
// at path, keeping every other section. The file is replaced atomically.
func SaveBoardDefaults(path string, fs domain.FilterState) error {
	if strings.TrimSpace(path) == "" {
		return errors.New("config path is required")
	}
	fs, err := fs.Normalize()
	if err != nil {
		return err
	}

	doc := map[string]any{}
	content, err := os.ReadFile(path)
	switch {
	case err == nil:
		if len(bytes.TrimSpace(content)) > 0 {
			if err := toml.Unmarshal(content, &doc); err != nil {
				return fmt.Errorf("decode toml: %w", err)
			}
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return fmt.Errorf("read config: %w", err)
	}

	board, _ := doc["board"].(map[string]any)
	if board == nil {
		board = map[string]any{}
	}
	board["group_by"] = string(fs.GroupBy)
	board["sub_group_by"] = string(fs.SubGroupBy)
	board["order_by"] = string(fs.OrderBy)
	board["layout"] = string(fs.Layout)
	board["show_empty_groups"] = fs.ShowEmptyGroups
	delete(board, "filters")
	if len(fs.Filters) > 0 {
		filters := make(map[string]any, len(fs.Filters))
		for field, values := range fs.Filters {
			filters[string(field)] = values
		}
		board["filters"] = filters
	}
	doc["board"] = board

	encoded, err := toml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode toml: %w", err)
	}
	if err := EnsureConfigDir(path); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := atomic.WriteFile(path, bytes.NewReader(encoded)); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func EnsureConfigDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
