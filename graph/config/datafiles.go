package config

import (
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// loadDataFiles resolves and loads every entry of `data_files` relative to
// the config directory, rejecting any path that escapes it (spec.md §4.1
// "Failure modes": PathEscape, MissingFile). Empty files normalize to an
// empty mapping.
func (c *Config) loadDataFiles(paths map[string]string) error {
	for key, rel := range paths {
		resolved, err := resolveWithin(c.Dir, rel)
		if err != nil {
			return &LoadError{Field: "data_files." + key, Msg: err.Error()}
		}
		data, err := os.ReadFile(resolved)
		if err != nil {
			return &LoadError{Field: "data_files." + key, Msg: "cannot read data file: " + rel, Cause: err}
		}
		if len(strings.TrimSpace(string(data))) == 0 {
			c.DataFiles[key] = map[string]any{}
			continue
		}
		var v any
		if err := yaml.Unmarshal(data, &v); err != nil {
			return &LoadError{Field: "data_files." + key, Msg: "cannot parse data file: " + rel, Cause: err}
		}
		c.DataFiles[key] = normalizeYAML(v)
	}
	return nil
}

// resolveWithin resolves rel against dir and rejects the result if it does
// not remain within dir (spec.md §4.1 PathEscape, §6 "path traversal
// outside the config directory is rejected").
func resolveWithin(dir, rel string) (string, error) {
	if dir == "" {
		dir = "."
	}
	base, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	joined := filepath.Join(base, rel)
	cleanBase := filepath.Clean(base)
	if joined != cleanBase && !strings.HasPrefix(joined, cleanBase+string(filepath.Separator)) {
		return "", &pathEscapeError{path: rel}
	}
	return joined, nil
}

type pathEscapeError struct{ path string }

func (e *pathEscapeError) Error() string {
	return "path escapes config directory: " + e.path
}

// normalizeYAML converts yaml.v3's map[string]interface{} decode output into
// plain map[string]any/[]any recursively, so downstream State handling sees
// the same shapes regardless of loader.
func normalizeYAML(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = normalizeYAML(vv)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = normalizeYAML(vv)
		}
		return out
	default:
		return v
	}
}
