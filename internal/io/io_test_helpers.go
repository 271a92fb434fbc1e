package io

import (
	"os"
	"reflect"
	"testing"

	"gopkg.in/yaml.v3" // Use yaml for readable diffs
)

// Helper to create a temporary file with specific content.
// nolint:unused // Used by sibling test files (csv_test.go, etc.)
func createTempFile(t *testing.T, content string, pattern string) string {
	t.Helper()
	tempFile, err := os.CreateTemp(t.TempDir(), pattern)
	if err != nil {
		t.Fatalf("Failed to create temp file (pattern: %s): %v", pattern, err)
	}
	filePath := tempFile.Name()
	if _, err := tempFile.WriteString(content); err != nil {
		_ = tempFile.Close()
		t.Fatalf("Failed to write to temp file %s: %v", filePath, err)
	}
	if err := tempFile.Close(); err != nil {
		t.Fatalf("Failed to close temp file %s: %v", filePath, err)
	}
	return filePath
}

// Helper to compare slices of maps returned by the sheet readers.
// Order matters. Uses YAML marshalling for more readable diffs on error.
// nolint:unused // Used by sibling test files (csv_test.go, xlsx_test.go)
func compareRecordsDeep(t *testing.T, got, want []map[string]interface{}) bool {
	t.Helper()
	if reflect.DeepEqual(got, want) {
		return true
	}
	gotYAML, errGot := yaml.Marshal(got)
	wantYAML, errWant := yaml.Marshal(want)
	if errGot != nil || errWant != nil {
		t.Errorf("Record mismatch (order matters):\ngot:\n%#v\nwant:\n%#v", got, want)
		return false
	}
	t.Errorf("Record mismatch (order matters):\n--- GOT ---\n%s\n--- WANT ---\n%s", string(gotYAML), string(wantYAML))
	return false
}
