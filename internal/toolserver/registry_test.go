package toolserver

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"testing"

	"mcpchat/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestRegistry_LoadMergesInLexicalOrder(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b.json", `{"weather": {"command": "python", "args": ["new.py"]}}`)
	writeFile(t, dir, "a.json", `{"weather": {"command": "python", "args": ["old.py"]}, "search": {"command": "node"}}`)

	r := NewRegistry(dir, testLogger())
	if err := r.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if got := r.Names(); !reflect.DeepEqual(got, []string{"weather", "search"}) {
		t.Fatalf("unexpected order %v", got)
	}
	cfg, ok := r.Get("weather")
	if !ok {
		t.Fatal("weather missing")
	}
	if !reflect.DeepEqual(cfg.Args, []string{"new.py"}) {
		t.Fatalf("later file should win, got %v", cfg.Args)
	}
	if cfg.Name != "weather" {
		t.Fatalf("expected name to be set, got %q", cfg.Name)
	}
}

func TestRegistry_KeyOrderPreserved(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "servers.json", `{"zeta": {"command": "z"}, "alpha": {"command": "a"}, "mid": {"command": "m"}}`)

	r := NewRegistry(dir, testLogger())
	if err := r.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := r.Names(); !reflect.DeepEqual(got, []string{"zeta", "alpha", "mid"}) {
		t.Fatalf("unexpected order %v", got)
	}
}

func TestRegistry_WrapperAndEnv(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "claude.json", `{"mcpServers": {"weather": {"command": "uv", "args": ["run", "weather.py"], "env": {"API_KEY": "x", "PORT": 8080}}}}`)

	r := NewRegistry(dir, testLogger())
	if err := r.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg, ok := r.Get("weather")
	if !ok {
		t.Fatal("weather missing")
	}
	want := domain.ServerConfig{
		Name:    "weather",
		Command: "uv",
		Args:    []string{"run", "weather.py"},
		Env:     map[string]string{"API_KEY": "x", "PORT": "8080"},
	}
	if !reflect.DeepEqual(cfg, want) {
		t.Fatalf("got %#v, want %#v", cfg, want)
	}
}

func TestRegistry_YAML(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "servers.yaml", `
mcpServers:
  second:
    command: ./second
  first:
    command: ./first
    args: [--verbose]
`)

	r := NewRegistry(dir, testLogger())
	if err := r.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := r.Names(); !reflect.DeepEqual(got, []string{"second", "first"}) {
		t.Fatalf("unexpected order %v", got)
	}
	cfg, _ := r.Get("first")
	if !reflect.DeepEqual(cfg.Args, []string{"--verbose"}) {
		t.Fatalf("unexpected args %v", cfg.Args)
	}
}

func TestRegistry_MalformedFileReportedOthersMerged(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.json", `{"ok": {"command": "run"}}`)
	writeFile(t, dir, "b.json", `{"broken": `)
	writeFile(t, dir, "c.json", `{"typo": {"comand": "run"}}`)

	r := NewRegistry(dir, testLogger())
	err := r.Load()
	if err == nil {
		t.Fatal("expected error")
	}
	var cfgErr *domain.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %T", err)
	}
	if errors.Is(err, ErrConfigDir) {
		t.Fatal("per-file errors must not be reported as an unreadable directory")
	}
	if _, ok := r.Get("ok"); !ok {
		t.Fatal("valid file should still be merged")
	}
	if r.Len() != 1 {
		t.Fatalf("expected 1 server, got %d", r.Len())
	}
}

func TestRegistry_MissingCommandRejected(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.json", `{"empty": {"args": ["x"]}}`)

	r := NewRegistry(dir, testLogger())
	if err := r.Load(); err == nil {
		t.Fatal("expected error for missing command")
	}
}

func TestRegistry_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "README.md", "# not config")
	writeFile(t, dir, "empty.json", "  \n")
	os.Mkdir(filepath.Join(dir, "sub.json"), 0o755)

	r := NewRegistry(dir, testLogger())
	if err := r.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if r.Len() != 0 {
		t.Fatalf("expected no servers, got %v", r.Names())
	}
}

func TestRegistry_MissingDirectory(t *testing.T) {
	r := NewRegistry(filepath.Join(t.TempDir(), "absent"), testLogger())
	if err := r.Load(); err != nil {
		t.Fatalf("missing dir should not be an error: %v", err)
	}
	if r.Len() != 0 {
		t.Fatal("expected empty registry")
	}
}

func TestRegistry_UnreadableDirectory(t *testing.T) {
	// A regular file in place of the directory cannot be listed.
	path := filepath.Join(t.TempDir(), "file")
	writeFile(t, filepath.Dir(path), "file", "x")
	if runtime.GOOS == "windows" {
		t.Skip("ReadDir semantics differ on windows")
	}

	r := NewRegistry(path, testLogger())
	err := r.Load()
	if !errors.Is(err, ErrConfigDir) {
		t.Fatalf("expected ErrConfigDir, got %v", err)
	}
	var cfgErr *domain.ConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Source != path {
		t.Fatalf("expected ConfigError for %s, got %#v", path, err)
	}
}
