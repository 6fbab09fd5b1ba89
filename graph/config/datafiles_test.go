package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func graphYAMLWithDataFiles(entries string) []byte {
	return []byte(`
nodes:
  a:
    type: passthrough
edges:
  - from: START
    to: a
  - from: a
    to: END
data_files:
` + entries)
}

func TestLoadDataFiles_ValidYAMLFile_NormalizesIntoMap(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "facts.yaml"), []byte("color: blue\ncount: 3\n"), 0o644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}

	cfg, err := Load(graphYAMLWithDataFiles("  facts: facts.yaml\n"), dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	facts, ok := cfg.DataFiles["facts"].(map[string]any)
	if !ok {
		t.Fatalf("DataFiles[facts] has type %T, want map[string]any", cfg.DataFiles["facts"])
	}
	if facts["color"] != "blue" {
		t.Errorf("facts[color] = %v, want blue", facts["color"])
	}
	if facts["count"] != 3 {
		t.Errorf("facts[count] = %v, want 3", facts["count"])
	}
}

func TestLoadDataFiles_EmptyFile_NormalizesToEmptyMap(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "empty.yaml"), []byte("   \n"), 0o644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}

	cfg, err := Load(graphYAMLWithDataFiles("  empty: empty.yaml\n"), dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	empty, ok := cfg.DataFiles["empty"].(map[string]any)
	if !ok || len(empty) != 0 {
		t.Errorf("DataFiles[empty] = %v, want an empty map", cfg.DataFiles["empty"])
	}
}

func TestLoadDataFiles_MissingFile_ReturnsLoadError(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(graphYAMLWithDataFiles("  facts: does_not_exist.yaml\n"), dir)
	if err == nil {
		t.Fatal("expected an error for a missing data file")
	}
	var le *LoadError
	if !errors.As(err, &le) || le.Field != "data_files.facts" {
		t.Errorf("got %v, want LoadError at data_files.facts", err)
	}
}

func TestLoadDataFiles_MalformedYAML_ReturnsLoadError(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("key: [unterminated"), 0o644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}
	_, err := Load(graphYAMLWithDataFiles("  bad: bad.yaml\n"), dir)
	if err == nil {
		t.Fatal("expected an error for a malformed data file")
	}
}

func TestLoadDataFiles_PathEscapingConfigDir_Rejected(t *testing.T) {
	dir := t.TempDir()
	outside := t.TempDir()
	if err := os.WriteFile(filepath.Join(outside, "secret.yaml"), []byte("leak: true\n"), 0o644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}

	rel, err := filepath.Rel(dir, filepath.Join(outside, "secret.yaml"))
	if err != nil {
		t.Fatalf("failed to compute relative path: %v", err)
	}

	_, loadErr := Load(graphYAMLWithDataFiles("  leaked: "+rel+"\n"), dir)
	if loadErr == nil {
		t.Fatal("expected a path-escape error for a data file outside the config directory")
	}
	var le *LoadError
	if !errors.As(loadErr, &le) || le.Field != "data_files.leaked" {
		t.Errorf("got %v, want LoadError at data_files.leaked", loadErr)
	}
}

func TestResolveWithin_PlainRelativePath_StaysInside(t *testing.T) {
	dir := t.TempDir()
	resolved, err := resolveWithin(dir, "sub/file.yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := filepath.Join(dir, "sub", "file.yaml")
	if resolved != want {
		t.Errorf("resolved = %q, want %q", resolved, want)
	}
}

func TestResolveWithin_DotDotEscape_Rejected(t *testing.T) {
	dir := t.TempDir()
	if _, err := resolveWithin(dir, "../escaped.yaml"); err == nil {
		t.Fatal("expected ../ to be rejected as a path escape")
	}
}
