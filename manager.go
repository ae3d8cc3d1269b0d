package pal

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/gofrs/flock"
	"gopkg.in/yaml.v3"
)

// RequiredSections must be present at the top level of a valid configuration.
var RequiredSections = []string{"model", "inference", "paths", "api", "logging"}

// Manager owns the configuration tree and addresses values by dotted path
// ("model.temperature"). Nested sections are map[string]any.
type Manager struct {
	mu   sync.RWMutex
	path string
	tree map[string]any
}

// NewManager loads the configuration at path. An empty path resolves via
// ConfigPath. A missing or unreadable file yields the embedded defaults.
func NewManager(path string) *Manager {
	if path == "" {
		path = ConfigPath()
	}
	m := &Manager{path: path}
	m.load()
	return m
}

// NewManagerFromTree wraps an in-memory tree. Save without an explicit path
// writes to path.
func NewManagerFromTree(path string, tree map[string]any) *Manager {
	if tree == nil {
		tree = map[string]any{}
	}
	return &Manager{path: path, tree: tree}
}

// Path returns the file the configuration was loaded from.
func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) load() {
	tree, err := readTree(m.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		slog.Warn("config file not found, using defaults", "path", m.path)
		tree = DefaultTree()
	case err != nil:
		slog.Error("error loading config, using defaults", "path", m.path, "error", err)
		tree = DefaultTree()
	default:
		slog.Info("configuration loaded", "path", m.path)
	}

	m.mu.Lock()
	m.tree = tree
	m.mu.Unlock()
}

// Reload re-reads the configuration file with the same rules as NewManager.
func (m *Manager) Reload() {
	slog.Info("reloading configuration")
	m.load()
}

// Tree returns a deep copy of the whole configuration tree.
func (m *Manager) Tree() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyTree(m.tree)
}

// Section returns a copy of a top-level section, or an empty map when the
// section is absent or not a mapping.
func (m *Manager) Section(name string) map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if section, ok := m.tree[name].(map[string]any); ok {
		return copyTree(section)
	}
	return map[string]any{}
}

// Get returns the value at a dotted path, or def when any key along the path
// is missing or a non-section value sits where a section is expected.
func (m *Manager) Get(path string, def any) any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := lookup(m.tree, path)
	if !ok {
		return def
	}
	return copyValue(v)
}

// Set stores value at a dotted path, creating intermediate sections as needed.
func (m *Manager) Set(path string, value any) error {
	keys := strings.Split(path, ".")
	for _, k := range keys {
		if k == "" {
			return fmt.Errorf("invalid key path %q", path)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.tree == nil {
		m.tree = map[string]any{}
	}
	node := m.tree
	for i, key := range keys[:len(keys)-1] {
		next, ok := node[key]
		if !ok || next == nil {
			child := map[string]any{}
			node[key] = child
			node = child
			continue
		}
		child, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("cannot set %q: %s holds a %T, not a section", path, strings.Join(keys[:i+1], "."), next)
		}
		node = child
	}
	node[keys[len(keys)-1]] = value

	slog.Debug("configuration updated", "key", path, "value", value)
	return nil
}

// Save writes the tree to path, or to the load path when path is empty.
// Parent directories are created. Concurrent savers are serialized with an
// advisory lock on "<path>.lock".
func (m *Manager) Save(path string) error {
	if path == "" {
		path = m.path
	}

	data, err := encodeTree(path, m.Tree())
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock config: %w", err)
	}
	defer lock.Unlock()

	tmp, err := os.CreateTemp(filepath.Dir(path), ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}

	slog.Info("configuration saved", "path", path)
	return nil
}

// Validate checks required sections and numeric ranges. The returned error
// lists every violation.
func (m *Manager) Validate() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var errs []error
	for _, section := range RequiredSections {
		if _, ok := m.tree[section]; !ok {
			errs = append(errs, fmt.Errorf("missing required configuration section: %s", section))
		}
	}
	if len(errs) > 0 {
		err := errors.Join(errs...)
		slog.Error("configuration validation failed", "error", err)
		return err
	}

	temp, _ := lookup(m.tree, "model.temperature")
	if f, ok := toFloat(temp); !ok {
		errs = append(errs, fmt.Errorf("model temperature must be a number, got %v", temp))
	} else if f < 0 || f > 2 {
		errs = append(errs, fmt.Errorf("model temperature must be between 0 and 2, got %v", f))
	}

	port, _ := lookup(m.tree, "api.port")
	if p, ok := toInt(port); !ok {
		errs = append(errs, fmt.Errorf("API port must be an integer, got %v", port))
	} else if p < 1 || p > 65535 {
		errs = append(errs, fmt.Errorf("API port must be between 1 and 65535, got %d", p))
	}

	if len(errs) > 0 {
		err := errors.Join(errs...)
		slog.Error("configuration validation failed", "error", err)
		return err
	}

	slog.Info("configuration validation passed")
	return nil
}

// EnvOverride returns the value of envVar converted to the type of the value
// at path, or the configured value when envVar is unset.
func (m *Manager) EnvOverride(path, envVar string) (any, error) {
	current := m.Get(path, nil)
	raw, ok := os.LookupEnv(envVar)
	if !ok {
		return current, nil
	}

	switch current.(type) {
	case bool:
		switch strings.ToLower(raw) {
		case "true", "1", "yes", "on":
			return true, nil
		}
		return false, nil
	case int:
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", envVar, err)
		}
		return n, nil
	case int64:
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", envVar, err)
		}
		return n, nil
	case float64:
		f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", envVar, err)
		}
		return f, nil
	default:
		return raw, nil
	}
}

// Config returns the typed view of the tree. Keys missing from the tree keep
// their defaults and paths are shell-expanded.
func (m *Manager) Config() (*Config, error) {
	cfg, err := decodeConfig(m.Tree())
	if err != nil {
		return nil, fmt.Errorf("decode config %s: %w", m.path, err)
	}
	return cfg, nil
}

func lookup(tree map[string]any, path string) (any, bool) {
	var cur any = tree
	for _, key := range strings.Split(path, ".") {
		node, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = node[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

func readTree(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var tree map[string]any
	if isTOML(path) {
		err = toml.Unmarshal(data, &tree)
	} else {
		err = yaml.Unmarshal(data, &tree)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if tree == nil {
		tree = map[string]any{}
	}
	return tree, nil
}

func encodeTree(path string, tree map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	if isTOML(path) {
		if err := toml.NewEncoder(&buf).Encode(tree); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(tree); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func copyTree(tree map[string]any) map[string]any {
	if tree == nil {
		return nil
	}
	out := make(map[string]any, len(tree))
	for k, v := range tree {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyTree(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = copyValue(item)
		}
		return out
	default:
		return v
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	return 0, false
}

func toInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int64(n), true
	}
	return 0, false
}
