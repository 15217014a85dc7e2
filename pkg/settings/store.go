// Package settings persists the operator settings of the machine in a
// "[Variables]" file, one "key = value" line per setting, and decodes them
// into a typed Settings value.
package settings

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"gantry-go/pkg/errors"
	"gantry-go/pkg/log"
)

// KV is a durable, non-transactional key/value store. Each Put is written
// through before it returns.
type KV interface {
	Get(key string) (any, bool)
	Put(key string, value any) error
}

// FileStore is a KV backed by a variables file.
type FileStore struct {
	path string
	mu   sync.RWMutex
	vars map[string]any
	log  *log.Logger
}

// Open loads the variables file at path, creating it when missing.
func Open(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.ConfigValidationError("settings", "path", "is required")
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	}
	s := &FileStore{path: path, vars: make(map[string]any), log: log.GetLogger("settings")}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := s.write(s.vars); err != nil {
			return nil, err
		}
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	s.log.Info("loaded %d settings from %s", len(s.vars), path)
	return s, nil
}

// Path returns the file location.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) load() error {
	f, err := os.Open(s.path)
	if err != nil {
		return errors.IOError(s.path, err)
	}
	defer f.Close()

	vars := make(map[string]any)
	inVariables := false
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "[Variables]" {
			inVariables = true
			continue
		}
		if strings.HasPrefix(line, "[") {
			inVariables = false
			continue
		}
		if !inVariables {
			continue
		}
		name, value, ok := strings.Cut(line, " = ")
		if !ok {
			continue
		}
		vars[strings.TrimSpace(name)] = parseValue(strings.TrimSpace(value))
	}
	if err := scanner.Err(); err != nil {
		return errors.IOError(s.path, err)
	}

	s.mu.Lock()
	s.vars = vars
	s.mu.Unlock()
	return nil
}

func parseValue(s string) any {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	}
	if len(s) >= 2 && (s[0] == '\'' || s[0] == '"') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}

func formatValue(v any) string {
	switch val := v.(type) {
	case string:
		return "'" + val + "'"
	case bool:
		if val {
			return "True"
		}
		return "False"
	case int, int32, int64:
		return fmt.Sprintf("%d", val)
	case float32:
		return strconv.FormatFloat(float64(val), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	default:
		return fmt.Sprintf("'%v'", val)
	}
}

// Get returns the value stored under key.
func (s *FileStore) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vars[key]
	return v, ok
}

// All returns a copy of every stored value.
func (s *FileStore) All() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.vars))
	for k, v := range s.vars {
		out[k] = v
	}
	return out
}

// Put stores value under key and rewrites the file. The in-memory copy is
// only updated once the file is on disk.
func (s *FileStore) Put(key string, value any) error {
	if key == "" || strings.ToLower(key) != key || strings.ContainsAny(key, " =[]") {
		return errors.InvalidParameter("key", fmt.Sprintf("%q must be lower case without spaces", key))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next := make(map[string]any, len(s.vars)+1)
	for k, v := range s.vars {
		next[k] = v
	}
	next[key] = value
	if err := s.write(next); err != nil {
		return err
	}
	s.vars = next
	s.log.Debug("saved %s = %s", key, formatValue(value))
	return nil
}

// Delete removes key.
func (s *FileStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.vars[key]; !ok {
		return errors.InvalidParameter("key", fmt.Sprintf("%q not found", key))
	}
	next := make(map[string]any, len(s.vars))
	for k, v := range s.vars {
		if k != key {
			next[k] = v
		}
	}
	if err := s.write(next); err != nil {
		return err
	}
	s.vars = next
	return nil
}

// write replaces the file through a rename so a crash never leaves it
// truncated.
func (s *FileStore) write(vars map[string]any) error {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("[Variables]\n")
	for _, k := range keys {
		fmt.Fprintf(&b, "%s = %s\n", k, formatValue(vars[k]))
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".settings-*")
	if err != nil {
		return errors.IOError(s.path, err)
	}
	if _, err := tmp.WriteString(b.String()); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errors.IOError(s.path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return errors.IOError(s.path, err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return errors.IOError(s.path, err)
	}
	return nil
}

// MemStore is an in-memory KV.
type MemStore struct {
	mu   sync.Mutex
	vars map[string]any
	puts []string
}

// NewMemStore creates an empty store.
func NewMemStore() *MemStore {
	return &MemStore{vars: make(map[string]any)}
}

// Get implements KV.
func (m *MemStore) Get(key string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vars[key]
	return v, ok
}

// Put implements KV.
func (m *MemStore) Put(key string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vars[key] = value
	m.puts = append(m.puts, key)
	return nil
}

// Puts returns the keys written, in order.
func (m *MemStore) Puts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.puts...)
}
