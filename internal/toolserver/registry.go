// Package toolserver loads MCP tool server definitions and manages the stdio
// sessions opened against them.
package toolserver

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"mcpchat/internal/domain"
)

// ErrConfigDir marks a configuration directory that exists but cannot be read.
var ErrConfigDir = errors.New("configuration directory unreadable")

// wrapperKey is the Claude-desktop style envelope around the server mapping.
const wrapperKey = "mcpServers"

// Registry holds the merged server configurations of one directory.
type Registry struct {
	dir     string
	logger  *slog.Logger
	order   []string
	servers map[string]domain.ServerConfig
}

func NewRegistry(dir string, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		dir:     dir,
		logger:  logger,
		servers: make(map[string]domain.ServerConfig),
	}
}

func (r *Registry) Dir() string { return r.dir }

// Load reads every config file in the directory in lexical order. A later file
// overrides an earlier one on name collision. Files that fail to parse are
// reported as *domain.ConfigError, joined, and the remaining files are still
// merged. A missing directory yields an empty registry.
func (r *Registry) Load() error {
	r.order = nil
	r.servers = make(map[string]domain.ServerConfig)

	entries, err := os.ReadDir(r.dir)
	if errors.Is(err, fs.ErrNotExist) {
		r.logger.Warn("server config directory not found", "dir", r.dir)
		return nil
	}
	if err != nil {
		return &domain.ConfigError{Source: r.dir, Err: fmt.Errorf("%w: %v", ErrConfigDir, err)}
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".json", ".yaml", ".yml":
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	var errs []error
	for _, name := range files {
		path := filepath.Join(r.dir, name)
		servers, err := loadFile(path)
		if err != nil {
			errs = append(errs, &domain.ConfigError{Source: path, Err: err})
			continue
		}
		for _, cfg := range servers {
			if _, exists := r.servers[cfg.Name]; exists {
				r.logger.Debug("server config overridden", "server", cfg.Name, "file", path)
			} else {
				r.order = append(r.order, cfg.Name)
			}
			r.servers[cfg.Name] = cfg
		}
		r.logger.Debug("server config loaded", "file", path, "servers", len(servers))
	}

	return errors.Join(errs...)
}

// Names returns server names in order of first appearance.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

func (r *Registry) Get(name string) (domain.ServerConfig, bool) {
	cfg, ok := r.servers[name]
	return cfg, ok
}

func (r *Registry) Len() int { return len(r.order) }

type rawEntry struct {
	name  string
	value any
}

func loadFile(path string) ([]domain.ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var entries []rawEntry
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		entries, err = yamlEntries(data)
	default:
		entries, err = jsonEntries(data)
	}
	if err != nil {
		return nil, err
	}

	out := make([]domain.ServerConfig, 0, len(entries))
	for _, e := range entries {
		cfg, err := decodeServer(e.name, e.value)
		if err != nil {
			return nil, fmt.Errorf("server %q: %w", e.name, err)
		}
		out = append(out, cfg)
	}
	return out, nil
}

func decodeServer(name string, value any) (domain.ServerConfig, error) {
	cfg := domain.ServerConfig{Name: name}
	if strings.TrimSpace(name) == "" {
		return cfg, errors.New("server name is empty")
	}
	if _, ok := value.(map[string]any); !ok {
		return cfg, fmt.Errorf("expected an object, got %T", value)
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		Result:           &cfg,
	})
	if err != nil {
		return cfg, err
	}
	if err := dec.Decode(value); err != nil {
		return cfg, err
	}
	cfg.Name = name
	if strings.TrimSpace(cfg.Command) == "" {
		return cfg, errors.New("command is required")
	}
	return cfg, nil
}

// jsonEntries decodes a top-level object keeping its key order.
func jsonEntries(data []byte) ([]rawEntry, error) {
	keys, values, err := orderedObject(data)
	if err != nil {
		return nil, err
	}
	if raw, ok := values[wrapperKey]; ok && len(keys) == 1 {
		return jsonEntries(raw)
	}

	out := make([]rawEntry, 0, len(keys))
	for _, k := range keys {
		var v any
		if err := json.Unmarshal(values[k], &v); err != nil {
			return nil, err
		}
		out = append(out, rawEntry{name: k, value: v})
	}
	return out, nil
}

func orderedObject(data []byte) ([]string, map[string]json.RawMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, nil, errors.New("expected a JSON object at top level")
	}

	var keys []string
	values := make(map[string]json.RawMessage)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, nil, fmt.Errorf("unexpected token %v", tok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, nil, err
		}
		if _, dup := values[key]; !dup {
			keys = append(keys, key)
		}
		values[key] = raw
	}
	if _, err := dec.Token(); err != nil {
		return nil, nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, nil, errors.New("unexpected data after top-level object")
	}
	return keys, values, nil
}

// yamlEntries walks the document node so mapping order is kept.
func yamlEntries(data []byte) ([]rawEntry, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, errors.New("expected a YAML mapping at top level")
	}
	if len(root.Content) == 2 && root.Content[0].Value == wrapperKey {
		root = root.Content[1]
		if root.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("%s must be a mapping", wrapperKey)
		}
	}

	var out []rawEntry
	seen := make(map[string]int)
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, node := root.Content[i], root.Content[i+1]
		var v any
		if err := node.Decode(&v); err != nil {
			return nil, fmt.Errorf("line %d: %w", node.Line, err)
		}
		if idx, dup := seen[key.Value]; dup {
			out[idx].value = v
			continue
		}
		seen[key.Value] = len(out)
		out = append(out, rawEntry{name: key.Value, value: v})
	}
	return out, nil
}
