package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/hylla/tavla/internal/app"
	"github.com/hylla/tavla/internal/config"
	"github.com/hylla/tavla/internal/domain"
)

// TestMain keeps dev-mode file logging out of the repository during tests.
func TestMain(m *testing.M) {
	_ = os.Setenv("TAVLA_DEV_MODE", "false")
	os.Exit(m.Run())
}

// cliEnv is one isolated database and config file.
type cliEnv struct {
	dbPath  string
	cfgPath string
}

func newCLIEnv(t *testing.T) cliEnv {
	t.Helper()
	tmp := t.TempDir()
	return cliEnv{
		dbPath:  filepath.Join(tmp, "tavla.db"),
		cfgPath: filepath.Join(tmp, "config.toml"),
	}
}

// run executes args against the env and returns stdout.
func (e cliEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	full := append([]string{"--db", e.dbPath, "--config", e.cfgPath}, args...)
	err := run(context.Background(), full, &out, io.Discard)
	return out.String(), err
}

func (e cliEnv) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := e.run(t, args...)
	if err != nil {
		t.Fatalf("run(%v) error = %v", args, err)
	}
	return out
}

func (e cliEnv) board(t *testing.T, args ...string) boardDocument {
	t.Helper()
	out := e.mustRun(t, append([]string{"board", "--project", "ENG", "--format", "json"}, args...)...)
	var doc boardDocument
	if err := json.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("decode board json: %v\n%s", err, out)
	}
	return doc
}

func (e cliEnv) issues(t *testing.T) []issueDocument {
	t.Helper()
	out := e.mustRun(t, "issue", "list", "--project", "ENG", "--format", "json")
	var docs []issueDocument
	if err := json.Unmarshal([]byte(out), &docs); err != nil {
		t.Fatalf("decode issue json: %v\n%s", err, out)
	}
	return docs
}

// seedProject creates project ENG with the named issues in order.
func (e cliEnv) seedProject(t *testing.T, names ...string) {
	t.Helper()
	e.mustRun(t, "project", "create", "--name", "Engineering", "--identifier", "ENG")
	for _, name := range names {
		e.mustRun(t, "issue", "create", "--project", "ENG", "--name", name)
	}
}

func namesOf(doc boardDocument, ids []string) []string {
	byID := map[string]string{}
	for _, issue := range doc.Issues {
		byID[issue.ID] = issue.Name
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, byID[id])
	}
	return out
}

func TestRunVersion(t *testing.T) {
	var out strings.Builder
	if err := run(context.Background(), []string{"--version"}, &out, io.Discard); err != nil {
		t.Fatalf("run(version) error = %v", err)
	}
	if !strings.Contains(out.String(), version) {
		t.Fatalf("expected version output, got %q", out.String())
	}
}

func TestRunUnknownCommand(t *testing.T) {
	err := run(context.Background(), []string{"unknown-command"}, io.Discard, io.Discard)
	if err == nil || !strings.Contains(err.Error(), "unknown command") {
		t.Fatalf("expected unknown command error, got %v", err)
	}
}

func TestRunPathsCommand(t *testing.T) {
	var out strings.Builder
	if err := run(context.Background(), []string{"--app", "tavla-test", "--dev=false", "paths"}, &out, io.Discard); err != nil {
		t.Fatalf("run(paths) error = %v", err)
	}
	for _, want := range []string{"app: tavla-test", "dev_mode: false", "config: ", "db: ", "log_dir: "} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("expected %q in paths output, got %q", want, out.String())
		}
	}
}

func TestRunPathsCommandReportsOverridesAndCreatesDirs(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(home, "data"))
	t.Setenv("TAVLA_CONFIG", "")
	dbPath := filepath.Join(home, "boards", "team.db")
	t.Setenv("TAVLA_DB_PATH", dbPath)

	var out strings.Builder
	cfgPath := filepath.Join(home, "etc", "tavla.toml")
	if err := run(context.Background(), []string{"--dev=false", "--config", cfgPath, "paths", "--create"}, &out, io.Discard); err != nil {
		t.Fatalf("run(paths --create) error = %v", err)
	}
	for _, want := range []string{"config: " + cfgPath + " (flag)", "db: " + dbPath + " (env)"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("expected %q in paths output, got %q", want, out.String())
		}
	}
	for _, dir := range []string{filepath.Dir(cfgPath), filepath.Dir(dbPath)} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("expected %q to be created, stat error = %v", dir, err)
		}
	}
}

func TestBoardGroupsIssuesInManualOrder(t *testing.T) {
	env := newCLIEnv(t)
	env.seedProject(t, "alpha", "beta", "gamma")

	doc := env.board(t)
	if doc.Scope.Kind != domain.ScopeProject {
		t.Fatalf("expected project scope, got %#v", doc.Scope)
	}
	if doc.FilterState.GroupBy != domain.GroupByState || doc.FilterState.Layout != domain.LayoutKanban {
		t.Fatalf("expected configured default filter state, got %#v", doc.FilterState)
	}
	if len(doc.View.Groups) != 1 {
		t.Fatalf("expected one non-empty state bucket, got %#v", doc.View.Groups)
	}
	got := namesOf(doc, doc.View.Groups[0].IssueIDs)
	if !slices.Equal(got, []string{"alpha", "beta", "gamma"}) {
		t.Fatalf("unexpected order %v", got)
	}

	text := env.mustRun(t, "board", "--project", "ENG")
	for _, want := range []string{"Engineering", "ENG-1", "alpha", "gamma"} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected %q in rendered board:\n%s", want, text)
		}
	}
}

func TestMoveReordersWithinBucket(t *testing.T) {
	env := newCLIEnv(t)
	env.seedProject(t, "alpha", "beta", "gamma")
	key := env.board(t).View.Groups[0].Key

	out := env.mustRun(t, "move", "--project", "ENG", "--from-group", key, "--from-index", "2", "--to-group", key, "--to-index", "0", "--quiet")
	if !strings.Contains(out, "moved ENG-3") {
		t.Fatalf("unexpected move output %q", out)
	}

	doc := env.board(t)
	got := namesOf(doc, doc.View.Groups[0].IssueIDs)
	if !slices.Equal(got, []string{"gamma", "alpha", "beta"}) {
		t.Fatalf("unexpected order after move %v", got)
	}
}

func TestMoveAcrossPriorityBuckets(t *testing.T) {
	env := newCLIEnv(t)
	env.seedProject(t, "alpha", "beta")

	doc := env.board(t, "--group-by", "priority", "--show-empty")
	if len(doc.View.Groups) != len(domain.Priorities()) {
		t.Fatalf("expected every priority bucket, got %#v", doc.View.Groups)
	}
	env.mustRun(t, "move", "--project", "ENG", "--group-by", "priority", "--show-empty",
		"--from-group", "none", "--from-index", "1", "--to-group", "urgent", "--to-index", "0", "--quiet")

	for _, issue := range env.issues(t) {
		want := domain.PriorityNone
		if issue.Name == "beta" {
			want = domain.PriorityUrgent
		}
		if issue.Priority != want {
			t.Fatalf("issue %s priority = %q, want %q", issue.Name, issue.Priority, want)
		}
	}
}

func TestMoveToTrashDeletesAndStaleDragIsNoop(t *testing.T) {
	env := newCLIEnv(t)
	env.seedProject(t, "alpha", "beta")
	key := env.board(t).View.Groups[0].Key

	out := env.mustRun(t, "move", "--project", "ENG", "--from-group", key, "--from-index", "9", "--to-group", key, "--to-index", "0", "--quiet")
	if !strings.Contains(out, "no change") {
		t.Fatalf("expected stale drag to be reported as no change, got %q", out)
	}

	out = env.mustRun(t, "move", "--project", "ENG", "--from-group", key, "--from-index", "0", "--trash", "--quiet")
	if !strings.Contains(out, "removed ENG-1") {
		t.Fatalf("unexpected trash output %q", out)
	}
	issues := env.issues(t)
	if len(issues) != 1 || issues[0].Name != "beta" {
		t.Fatalf("expected only beta left, got %#v", issues)
	}

	var events []activityDocument
	raw := env.mustRun(t, "activity", "--project", "ENG", "--format", "json")
	if err := json.Unmarshal([]byte(raw), &events); err != nil {
		t.Fatalf("decode activity json: %v", err)
	}
	ops := make([]string, 0, len(events))
	for _, ev := range events {
		ops = append(ops, ev.Operation)
	}
	if !slices.Contains(ops, string(domain.ChangeOperationDelete)) || !slices.Contains(ops, string(domain.ChangeOperationCreate)) {
		t.Fatalf("expected create and delete activity, got %v", ops)
	}
}

func TestBoardSavePersistsScopeAndDefaults(t *testing.T) {
	env := newCLIEnv(t)
	env.seedProject(t, "alpha")

	env.board(t, "--group-by", "priority", "--order-by=-created_at", "--save-defaults")

	doc := env.board(t)
	if doc.FilterState.GroupBy != domain.GroupByPriority || doc.FilterState.OrderBy != domain.OrderByCreatedDesc {
		t.Fatalf("expected saved scope filter state, got %#v", doc.FilterState)
	}

	cfg, err := config.Load(env.cfgPath, config.Default(env.dbPath))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Board.GroupBy != string(domain.GroupByPriority) {
		t.Fatalf("expected board defaults written to config, got %#v", cfg.Board)
	}
}

func TestBoardRejectsInvalidDisplayOption(t *testing.T) {
	env := newCLIEnv(t)
	env.seedProject(t)
	if _, err := env.run(t, "board", "--project", "ENG", "--group-by", "colour"); err == nil {
		t.Fatal("expected invalid group_by error")
	}
	if _, err := env.run(t, "board", "--project", "NOPE"); err == nil {
		t.Fatal("expected unknown project error")
	}
}

func TestCatalogAndIssueCommands(t *testing.T) {
	env := newCLIEnv(t)
	env.seedProject(t)
	env.mustRun(t, "catalog", "label", "--project", "ENG", "--name", "bug")
	env.mustRun(t, "catalog", "member", "--project", "ENG", "--id", "u1", "--name", "Ada")
	env.mustRun(t, "issue", "create", "--project", "ENG", "--name", "crash", "--label", "bug", "--assignee", "Ada", "--priority", "high", "--target-date", "2026-03-01")

	var catalog catalogDocument
	raw := env.mustRun(t, "catalog", "show", "--project", "ENG", "--format", "json")
	if err := json.Unmarshal([]byte(raw), &catalog); err != nil {
		t.Fatalf("decode catalog json: %v", err)
	}
	if len(catalog.States) != 5 || len(catalog.Labels) != 1 || len(catalog.Members) != 1 {
		t.Fatalf("unexpected catalog %#v", catalog)
	}

	issues := env.issues(t)
	if len(issues) != 1 {
		t.Fatalf("expected one issue, got %#v", issues)
	}
	if issues[0].TargetDate != "2026-03-01" || len(issues[0].LabelIDs) != 1 || !slices.Equal(issues[0].AssigneeIDs, []string{"u1"}) {
		t.Fatalf("unexpected issue %#v", issues[0])
	}

	env.mustRun(t, "issue", "set", "--project", "ENG", "--issue", "ENG-1", "--priority", "low", "--clear-target-date")
	issues = env.issues(t)
	if issues[0].Priority != domain.PriorityLow || issues[0].TargetDate != "" {
		t.Fatalf("expected patched issue, got %#v", issues[0])
	}

	if _, err := env.run(t, "issue", "create", "--project", "ENG", "--name", "x", "--label", "missing"); err == nil {
		t.Fatal("expected unknown label error")
	}
}

func TestRenormalizeCommand(t *testing.T) {
	env := newCLIEnv(t)
	env.seedProject(t, "alpha", "beta")
	out := env.mustRun(t, "renormalize", "--project", "ENG")
	if !strings.Contains(out, "renormalized ENG") {
		t.Fatalf("unexpected output %q", out)
	}
	issues := env.issues(t)
	if len(issues) != 2 || issues[0].Name != "alpha" || issues[0].SortOrder >= issues[1].SortOrder {
		t.Fatalf("expected order preserved, got %#v", issues)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	src := newCLIEnv(t)
	src.seedProject(t, "alpha", "beta")
	snapPath := filepath.Join(t.TempDir(), "out", "snapshot.yaml")
	src.mustRun(t, "export", "--out", snapPath)

	content, err := os.ReadFile(snapPath)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(content), "version: "+app.SnapshotVersion) {
		t.Fatalf("expected yaml snapshot, got:\n%s", content)
	}

	dst := newCLIEnv(t)
	out := dst.mustRun(t, "import", "--in", snapPath)
	if !strings.Contains(out, "imported 1 projects, 2 issues") {
		t.Fatalf("unexpected import output %q", out)
	}
	issues := dst.issues(t)
	if len(issues) != 2 || issues[0].Name != "alpha" || issues[1].Ref != "ENG-2" {
		t.Fatalf("unexpected imported issues %#v", issues)
	}

	jsonOut := src.mustRun(t, "export")
	var snap app.Snapshot
	if err := json.Unmarshal([]byte(jsonOut), &snap); err != nil {
		t.Fatalf("decode json export: %v", err)
	}
	if len(snap.Issues) != 2 {
		t.Fatalf("expected two exported issues, got %d", len(snap.Issues))
	}

	if _, err := dst.run(t, "import", "--in", filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected missing import file error")
	}
}

func TestRunRejectsInvalidLoggingLevelFromConfig(t *testing.T) {
	env := newCLIEnv(t)
	if err := os.WriteFile(env.cfgPath, []byte("[logging]\nlevel = \"loud\"\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if _, err := env.run(t, "project", "list"); err == nil || !strings.Contains(err.Error(), "logging") {
		t.Fatalf("expected logging level error, got %v", err)
	}
}

func TestRunDevModeCreatesWorkspaceLogFile(t *testing.T) {
	workspace := t.TempDir()
	t.Chdir(workspace)

	env := cliEnv{dbPath: filepath.Join(workspace, "tavla.db"), cfgPath: filepath.Join(workspace, "config.toml")}
	if _, err := env.run(t, "--dev", "project", "list"); err != nil {
		t.Fatalf("run() error = %v", err)
	}
	entries, err := os.ReadDir(filepath.Join(workspace, ".tavla", "log"))
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	found := slices.ContainsFunc(entries, func(e os.DirEntry) bool {
		return !e.IsDir() && strings.HasSuffix(e.Name(), ".log")
	})
	if !found {
		t.Fatalf("expected a .log file, got %v", entries)
	}
}

func TestWorkspaceRootFromUsesNearestMarker(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "go.mod"), []byte("module example.com/test\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	nested := filepath.Join(root, "cmd", "tavla")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if got := workspaceRootFrom(nested); filepath.Clean(got) != filepath.Clean(root) {
		t.Fatalf("expected workspace root %q, got %q", root, got)
	}
}

func TestDevLogFilePathUsesAppStemAndDay(t *testing.T) {
	dir := t.TempDir()
	got, err := devLogFilePath(dir, "my app", time.Date(2026, 2, 22, 12, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("devLogFilePath() error = %v", err)
	}
	if want := filepath.Join(dir, "my-app-20260222.log"); got != want {
		t.Fatalf("devLogFilePath() = %q, want %q", got, want)
	}
	if sanitizeLogFileStem(" / ") != "tavla" {
		t.Fatalf("expected fallback stem")
	}
}

func TestRuntimeLoggerCanMuteConsoleSink(t *testing.T) {
	var console bytes.Buffer
	logger, err := newRuntimeLogger(&console, "tavla", false, config.Default("/tmp/tavla.db").Logging, nil)
	if err != nil {
		t.Fatalf("newRuntimeLogger() error = %v", err)
	}

	logger.Info("before")
	logger.SetConsoleEnabled(false)
	logger.Info("during")
	logger.SetConsoleEnabled(true)
	logger.Warn("after")

	out := console.String()
	if !strings.Contains(out, "before") || strings.Contains(out, "during") || !strings.Contains(out, "after") {
		t.Fatalf("unexpected console output %q", out)
	}
}

func TestParseFilterFlags(t *testing.T) {
	got, err := parseFilterFlags([]string{"priority=urgent, high", "labels=l1"})
	if err != nil {
		t.Fatalf("parseFilterFlags() error = %v", err)
	}
	if !slices.Equal(got[domain.FieldPriority], []string{"urgent", "high"}) || !slices.Equal(got[domain.FieldLabels], []string{"l1"}) {
		t.Fatalf("unexpected filters %#v", got)
	}
	if _, err := parseFilterFlags([]string{"priority"}); err == nil {
		t.Fatal("expected malformed filter error")
	}
}

func TestParseBoolEnv(t *testing.T) {
	t.Setenv("TAVLA_TEST_BOOL", "true")
	if v, ok := parseBoolEnv("TAVLA_TEST_BOOL"); !ok || !v {
		t.Fatalf("parseBoolEnv() = %v, %v", v, ok)
	}
	t.Setenv("TAVLA_TEST_BOOL", "maybe")
	if _, ok := parseBoolEnv("TAVLA_TEST_BOOL"); ok {
		t.Fatal("expected unparseable value to be ignored")
	}
}
