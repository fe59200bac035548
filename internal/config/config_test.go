package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// --- Validate ---

func TestValidate_ValidConfig(t *testing.T) {
	cfg := Defaults()
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestValidate_MaxParallelTools_Bounds(t *testing.T) {
	cfg := Defaults()
	cfg.General.MaxParallelTools = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for maxParallelTools=0")
	}

	cfg.General.MaxParallelTools = 65
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for maxParallelTools=65")
	}

	cfg.General.MaxParallelTools = 1
	if err := Validate(cfg); err != nil {
		t.Fatalf("maxParallelTools=1 should be valid: %v", err)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := Defaults()
	cfg.General.LogLevel = "verbose"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for invalid log level")
	}
}

func TestValidate_Timeouts(t *testing.T) {
	cfg := Defaults()
	cfg.MCP.ToolTimeoutSeconds = 0
	cfg.MCP.ConnectTimeoutSeconds = 0
	cfg.General.ProviderTimeoutSeconds = 0
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected timeout errors")
	}
	for _, field := range []string{"toolTimeoutSeconds", "connectTimeoutSeconds", "providerTimeoutSeconds"} {
		if !strings.Contains(err.Error(), field) {
			t.Fatalf("expected %s in error list, got: %v", field, err)
		}
	}
}

func TestValidate_MemoryRequiresPath(t *testing.T) {
	cfg := Defaults()
	cfg.Memory.DBPath = ""
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for empty dbPath with memory enabled")
	}

	cfg.Memory.Enabled = false
	if err := Validate(cfg); err != nil {
		t.Fatalf("disabled memory should not need a path: %v", err)
	}
}

func TestValidate_EmptyServersDir(t *testing.T) {
	cfg := Defaults()
	cfg.MCP.ServersDir = "  "
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for blank serversDir")
	}
}

// --- Load / Save ---

func TestLoadSave_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	cfg := Defaults()
	cfg.General.DefaultProvider = "anthropic"
	cfg.MCP.ServersDir = filepath.Join(dir, "servers")
	cfg.Memory.DBPath = filepath.Join(dir, "t.db")

	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.General.DefaultProvider != "anthropic" {
		t.Fatalf("expected anthropic, got %q", loaded.General.DefaultProvider)
	}
	if loaded.MCP.ServersDir != cfg.MCP.ServersDir {
		t.Fatalf("serversDir mismatch: %q", loaded.MCP.ServersDir)
	}
}

func TestSave_FilePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	if err := Save(path, Defaults()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("expected 0600, got %o", perm)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	os.WriteFile(path, []byte("{not json"), 0o600)
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	os.WriteFile(path, []byte(`{"general":{"logLevel":"debug"}}`), 0o600)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.General.LogLevel != "debug" {
		t.Fatalf("expected debug, got %q", cfg.General.LogLevel)
	}
	if cfg.MCP.ToolTimeoutSeconds != 30 {
		t.Fatalf("expected default tool timeout, got %d", cfg.MCP.ToolTimeoutSeconds)
	}
	if cfg.General.MaxParallelTools != 5 {
		t.Fatalf("expected default parallelism, got %d", cfg.General.MaxParallelTools)
	}
}

func TestLoad_EnvVarSubstitution(t *testing.T) {
	t.Setenv("MCPCHAT_TEST_KEY", "sk-from-env")

	path := filepath.Join(t.TempDir(), "config.json")
	raw := map[string]any{
		"providers": map[string]any{
			"deepseek": map[string]any{"apiKey": "${MCPCHAT_TEST_KEY}"},
		},
	}
	data, _ := json.Marshal(raw)
	os.WriteFile(path, data, 0o600)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.Providers["deepseek"].APIKey; got != "sk-from-env" {
		t.Fatalf("expected sk-from-env, got %q", got)
	}
}

// --- ExpandEnvVars ---

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("MCPCHAT_SET", "value")
	t.Setenv("MCPCHAT_EMPTY", "")

	tests := []struct {
		in, want string
	}{
		{"${MCPCHAT_SET}", "value"},
		{"${MCPCHAT_EMPTY:-fallback}", "fallback"},
		{"${MCPCHAT_UNSET_VAR:-fallback}", "fallback"},
		{"${MCPCHAT_UNSET_VAR}", "${MCPCHAT_UNSET_VAR}"},
		{"${MCPCHAT_UNSET_VAR:-}", ""},
		{"plain", "plain"},
		{"a-${MCPCHAT_SET}-b", "a-value-b"},
	}
	for _, tt := range tests {
		if got := ExpandEnvVars(tt.in); got != tt.want {
			t.Errorf("ExpandEnvVars(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// --- Sanitize ---

func TestSanitize_MasksKeys(t *testing.T) {
	cfg := Defaults()
	cfg.Providers["deepseek"] = ProviderConfig{APIKey: "sk-1234567890abcdef"}
	cfg.Providers["anthropic"] = ProviderConfig{APIKey: "short"}

	out := Sanitize(cfg)
	if got := out.Providers["deepseek"].APIKey; got != "sk-1****cdef" {
		t.Fatalf("unexpected mask: %q", got)
	}
	if got := out.Providers["anthropic"].APIKey; got != "***" {
		t.Fatalf("unexpected mask: %q", got)
	}
	if cfg.Providers["deepseek"].APIKey != "sk-1234567890abcdef" {
		t.Fatal("Sanitize mutated the original config")
	}
}

// --- Defaults ---

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.General.DefaultProvider != "deepseek" {
		t.Fatalf("expected deepseek default, got %q", cfg.General.DefaultProvider)
	}
	if cfg.General.ProviderTimeout().Seconds() != 120 {
		t.Fatalf("expected 120s provider timeout, got %v", cfg.General.ProviderTimeout())
	}
	if cfg.MCP.ConnectTimeout().Seconds() != 30 || cfg.MCP.ToolTimeout().Seconds() != 30 {
		t.Fatal("expected 30s MCP timeouts")
	}
	if cfg.Providers["anthropic"].DefaultModel != "claude-3-sonnet-20240229" {
		t.Fatalf("unexpected anthropic model %q", cfg.Providers["anthropic"].DefaultModel)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home dir")
	}
	if got := ExpandPath("~/x/y"); got != filepath.Join(home, "x", "y") {
		t.Fatalf("unexpected %q", got)
	}
	if got := ExpandPath("/abs"); got != "/abs" {
		t.Fatalf("unexpected %q", got)
	}
}
