package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const defaultBaseDir = ".polyground"

// Paths holds resolved filesystem paths for polyground data.
type Paths struct {
	Base   string // ~/.polyground
	Config string // ~/.polyground/config.yaml
	Data   string // ~/.polyground/data
	Logs   string // ~/.polyground/logs
}

// ResolvePaths computes all standard paths from the home directory.
// If POLYGROUND_HOME is set, it overrides the default base directory.
func ResolvePaths() (Paths, error) {
	base := os.Getenv("POLYGROUND_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Paths{}, err
		}
		base = filepath.Join(home, defaultBaseDir)
	}

	return Paths{
		Base:   base,
		Config: filepath.Join(base, "config.yaml"),
		Data:   filepath.Join(base, "data"),
		Logs:   filepath.Join(base, "logs"),
	}, nil
}

// Database is the default SQLite file for saved conversations.
func (p Paths) Database() string {
	return filepath.Join(p.Data, "polyground.db")
}

// EnsureDirs creates the base, data and log directories.
func (p Paths) EnsureDirs() error {
	dirs := []string{p.Base, p.Data, p.Logs}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o700); err != nil {
			return err
		}
	}
	return nil
}

// ParseConfigPath splits a dot-separated config path such as
// "sampling.temperature" into its keys. Keys hold letters, digits,
// underscores and hyphens only.
func ParseConfigPath(raw string) ([]string, error) {
	if raw == "" {
		return nil, &ConfigError{Message: "empty config path"}
	}
	keys := strings.Split(raw, ".")
	for _, k := range keys {
		if k == "" {
			return nil, &ConfigError{Message: fmt.Sprintf("config path %q contains an empty key", raw)}
		}
		if i := strings.IndexFunc(k, invalidKeyRune); i >= 0 {
			return nil, &ConfigError{Message: fmt.Sprintf("config path %q: invalid character %q in key %q", raw, k[i], k)}
		}
	}
	return keys, nil
}

func invalidKeyRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return false
	case r == '_' || r == '-':
		return false
	}
	return true
}

// GetValueAtPath traverses a nested map using the given path segments.
func GetValueAtPath(root map[string]any, path []string) (any, bool) {
	current := any(root)
	for _, key := range path {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// SetValueAtPath sets a value in a nested map, creating intermediate maps as needed.
func SetValueAtPath(root map[string]any, path []string, value any) {
	current := root
	for _, key := range path[:len(path)-1] {
		next, ok := current[key]
		if !ok {
			next = map[string]any{}
			current[key] = next
		}
		m, ok := next.(map[string]any)
		if !ok {
			m = map[string]any{}
			current[key] = m
		}
		current = m
	}
	current[path[len(path)-1]] = value
}

// UnsetValueAtPath removes a value at the given path. Returns true if removed.
func UnsetValueAtPath(root map[string]any, path []string) bool {
	current := root
	for _, key := range path[:len(path)-1] {
		next, ok := current[key]
		if !ok {
			return false
		}
		m, ok := next.(map[string]any)
		if !ok {
			return false
		}
		current = m
	}
	last := path[len(path)-1]
	if _, ok := current[last]; !ok {
		return false
	}
	delete(current, last)
	return true
}
