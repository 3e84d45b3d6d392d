// Command tavla groups, orders and re-sequences project issues from the
// terminal.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/fang"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/hylla/tavla/internal/adapters/storage/postgres"
	"github.com/hylla/tavla/internal/adapters/storage/sqlite"
	"github.com/hylla/tavla/internal/adapters/storage/sqlstore"
	"github.com/hylla/tavla/internal/adapters/viewstate/redisstate"
	"github.com/hylla/tavla/internal/app"
	"github.com/hylla/tavla/internal/config"
	"github.com/hylla/tavla/internal/platform"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		os.Exit(1)
	}
}

// run builds the command tree and executes it with args.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}
	root := newRootCommand(stdout, stderr)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return fang.Execute(ctx, root, fang.WithVersion(version))
}

// rootOptions holds the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
	dbPath     string
	appName    string
	devMode    bool
	now        func() time.Time
	newID      func() string
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	opts := &rootOptions{now: time.Now, newID: uuid.NewString}
	defaultDevMode := version == "dev"
	if envDev, ok := parseBoolEnv("TAVLA_DEV_MODE"); ok {
		defaultDevMode = envDev
	}
	appName := "tavla"
	if envApp := strings.TrimSpace(os.Getenv("TAVLA_APP_NAME")); envApp != "" {
		appName = envApp
	}

	root := &cobra.Command{
		Use:           "tavla",
		Short:         "Group, order and drag issues across project boards",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "path to config TOML")
	flags.StringVar(&opts.dbPath, "db", "", "path to sqlite database")
	flags.StringVar(&opts.appName, "app", appName, "application name for config/data path resolution")
	flags.BoolVar(&opts.devMode, "dev", defaultDevMode, "use dev mode paths (<app>-dev)")

	root.AddCommand(
		newPathsCommand(opts, stdout),
		newProjectCommand(opts, stdout, stderr),
		newCatalogCommand(opts, stdout, stderr),
		newIssueCommand(opts, stdout, stderr),
		newBoardCommand(opts, stdout, stderr),
		newMoveCommand(opts, stdout, stderr),
		newRenormalizeCommand(opts, stdout, stderr),
		newActivityCommand(opts, stdout, stderr),
		newExportCommand(opts, stdout, stderr),
		newImportCommand(opts, stdout, stderr),
	)
	return root
}

func newPathsCommand(opts *rootOptions, stdout io.Writer) *cobra.Command {
	var create bool
	cmd := &cobra.Command{
		Use:   "paths",
		Short: "Print resolved config and data paths",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			paths, err := opts.resolvePaths()
			if err != nil {
				return err
			}
			if create {
				if err := paths.Ensure(); err != nil {
					return err
				}
			}
			_, _ = fmt.Fprintf(stdout, "app: %s\n", opts.appName)
			_, _ = fmt.Fprintf(stdout, "dev_mode: %t\n", opts.devMode)
			_, _ = fmt.Fprintf(stdout, "config: %s (%s)\n", paths.ConfigPath, paths.ConfigSource)
			_, _ = fmt.Fprintf(stdout, "data_dir: %s\n", paths.DataDir)
			_, _ = fmt.Fprintf(stdout, "db: %s (%s)\n", paths.DBPath, paths.DBSource)
			_, _ = fmt.Fprintf(stdout, "log_dir: %s\n", paths.LogDir)
			return nil
		},
	}
	cmd.Flags().BoolVar(&create, "create", false, "create the config, data and log directories")
	return cmd
}

func (o *rootOptions) resolvePaths() (platform.Paths, error) {
	return platform.Resolve(platform.Options{
		AppName:    o.appName,
		DevMode:    o.devMode,
		ConfigPath: o.configPath,
		DBPath:     o.dbPath,
	})
}

// session is the resolved runtime one command works against.
type session struct {
	command    string
	configPath string
	dbPath     string
	cfg        config.Config
	logger     *runtimeLogger
	repo       *sqlstore.Repository
	svc        *app.Service
	closers    []func() error
}

// openSession resolves paths and configuration, opens storage and builds
// the application service.
func openSession(ctx context.Context, opts *rootOptions, command string, stderr io.Writer) (*session, error) {
	paths, err := opts.resolvePaths()
	if err != nil {
		return nil, err
	}
	configPath, dbPath := paths.ConfigPath, paths.DBPath

	cfg, err := config.Load(configPath, config.Default(dbPath))
	if err != nil {
		return nil, fmt.Errorf("load config %q: %w", configPath, err)
	}
	if paths.DBOverridden() {
		cfg.Database.Driver = config.DriverSQLite
		cfg.Database.Path = dbPath
	}

	logger, err := newRuntimeLogger(stderr, opts.appName, opts.devMode, cfg.Logging, opts.now)
	if err != nil {
		return nil, fmt.Errorf("configure runtime logger: %w", err)
	}
	s := &session{
		command:    command,
		configPath: configPath,
		dbPath:     cfg.Database.Path,
		cfg:        cfg,
		logger:     logger,
	}
	logger.Info("startup configuration resolved", "app", opts.appName, "dev_mode", opts.devMode, "command", command)
	logger.Debug("runtime paths resolved", "config_path", configPath, "config_source", paths.ConfigSource, "data_dir", paths.DataDir, "db_path", cfg.Database.Path, "db_source", paths.DBSource)
	if devPath := logger.DevLogPath(); devPath != "" {
		logger.Info("dev file logging enabled", "path", devPath)
	}

	if err := s.openRepository(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	viewStates, err := s.openViewStates(ctx)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	defaultFilter, err := cfg.Board.FilterState()
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	templates, err := cfg.Board.StateTemplates()
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	s.svc = app.NewService(s.repo, viewStates, opts.newID, opts.now, app.ServiceConfig{
		StateTemplates:          templates,
		AutoCreateProjectStates: true,
		Spacing:                 cfg.Reorder.Spacing,
		MinGap:                  cfg.Reorder.MinGap,
		AutoRenormalize:         cfg.Reorder.AutoRenormalize,
		DefaultFilterState:      defaultFilter,
		Logger:                  logger,
	})
	logger.Debug("application service initialized", "spacing", cfg.Reorder.Spacing, "min_gap", cfg.Reorder.MinGap, "auto_renormalize", cfg.Reorder.AutoRenormalize)
	logger.Info("command flow start", "command", command)
	return s, nil
}

func (s *session) openRepository(ctx context.Context) error {
	switch s.cfg.Database.Driver {
	case config.DriverPostgres:
		s.logger.Info("opening postgres repository")
		repo, err := postgres.Open(ctx, s.cfg.Database.DSN)
		if err != nil {
			s.logger.Error("postgres open failed", "err", err)
			return fmt.Errorf("open postgres repository: %w", err)
		}
		s.repo = repo
		s.dbPath = ""
	default:
		s.logger.Info("opening sqlite repository", "db_path", s.cfg.Database.Path)
		repo, err := sqlite.Open(ctx, s.cfg.Database.Path)
		if err != nil {
			s.logger.Error("sqlite open failed", "db_path", s.cfg.Database.Path, "err", err)
			return fmt.Errorf("open sqlite repository: %w", err)
		}
		s.repo = repo
	}
	s.closers = append(s.closers, s.repo.Close)
	s.logger.Info("repository ready", "driver", s.cfg.Database.Driver, "migrations", "ensured")
	return nil
}

func (s *session) openViewStates(ctx context.Context) (app.ViewStateStore, error) {
	if s.cfg.ViewState.Backend != config.ViewStateRedis {
		return s.repo, nil
	}
	ttl, err := s.cfg.ViewState.TTLDuration()
	if err != nil {
		return nil, err
	}
	store, err := redisstate.New(ctx, s.cfg.ViewState.RedisURL, redisstate.Options{
		Prefix: s.cfg.ViewState.KeyPrefix,
		TTL:    ttl,
	})
	if err != nil {
		s.logger.Error("redis view state open failed", "err", err)
		return nil, fmt.Errorf("open redis view state store: %w", err)
	}
	s.closers = append(s.closers, store.Close)
	s.logger.Info("redis view state store ready", "prefix", s.cfg.ViewState.KeyPrefix, "ttl", ttl)
	return store, nil
}

// Close releases storage handles in reverse order and closes the log file.
func (s *session) Close() error {
	if s == nil {
		return nil
	}
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.logger.Warn("close runtime resource failed", "err", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	s.closers = nil
	if err := s.logger.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// withSession opens a session for command, runs fn and closes it again.
func withSession(ctx context.Context, opts *rootOptions, command string, stderr io.Writer, fn func(*session) error) error {
	s, err := openSession(ctx, opts, command, stderr)
	if err != nil {
		return err
	}
	defer func() {
		_ = s.Close()
	}()
	if err := fn(s); err != nil {
		s.logger.Error("command flow failed", "command", command, "err", err)
		return fmt.Errorf("run %s command: %w", command, err)
	}
	s.logger.Info("command flow complete", "command", command)
	return nil
}

func parseBoolEnv(name string) (bool, bool) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
