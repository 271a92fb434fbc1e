package logging

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	origLevel := GetLevel()
	SetOutput(buf)
	t.Cleanup(func() {
		SetOutput(os.Stderr)
		SetLevel(origLevel)
	})
	return buf
}

func TestParseLevel(t *testing.T) {
	testCases := []struct {
		input   string
		want    int
		wantErr bool
	}{
		{"none", None, false},
		{"ERROR", Error, false},
		{"warn", Warning, false},
		{"warning", Warning, false},
		{" Info ", Info, false},
		{"debug", Debug, false},
		{"verbose", Info, true},
		{"", Info, true},
	}
	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			got, err := ParseLevel(tc.input)
			if (err != nil) != tc.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tc.input, err, tc.wantErr)
			}
			if got != tc.want {
				t.Errorf("ParseLevel(%q) = %d, want %d", tc.input, got, tc.want)
			}
		})
	}
}

func TestSetLevelClamps(t *testing.T) {
	orig := GetLevel()
	t.Cleanup(func() { SetLevel(orig) })

	SetLevel(-5)
	if got := GetLevel(); got != None {
		t.Errorf("SetLevel(-5) -> %d, want %d", got, None)
	}
	SetLevel(99)
	if got := GetLevel(); got != Debug {
		t.Errorf("SetLevel(99) -> %d, want %d", got, Debug)
	}
}

func TestLogfRespectsLevel(t *testing.T) {
	buf := captureOutput(t)
	SetLevel(Warning)

	Logf(Info, "info message %d", 1)
	Logf(Warning, "warn message %d", 2)
	Logf(Error, "error message %d", 3)

	out := buf.String()
	if strings.Contains(out, "info message") {
		t.Errorf("info message written at Warning level: %q", out)
	}
	if !strings.Contains(out, "warn message 2") || !strings.Contains(out, "WARN") {
		t.Errorf("warn message missing: %q", out)
	}
	if !strings.Contains(out, "error message 3") || !strings.Contains(out, "ERROR") {
		t.Errorf("error message missing: %q", out)
	}
}

func TestLogfNoneSilencesEverything(t *testing.T) {
	buf := captureOutput(t)
	SetLevel(None)
	Logf(Error, "should not appear")
	if buf.Len() != 0 {
		t.Errorf("expected no output at level None, got %q", buf.String())
	}
}

func TestDebugIncludesCaller(t *testing.T) {
	buf := captureOutput(t)
	SetLevel(Debug)
	buf.Reset()
	Logf(Debug, "with caller")
	out := buf.String()
	if !strings.Contains(out, "logging_test.go") {
		t.Errorf("debug output should carry caller file, got %q", out)
	}
}

func TestSetupLoggingInvalidFallsBackToInfo(t *testing.T) {
	_ = captureOutput(t)
	if got := SetupLogging("loud"); got != Info {
		t.Errorf("SetupLogging(loud) = %d, want %d", got, Info)
	}
	if GetLevel() != Info {
		t.Errorf("GetLevel() = %d, want %d", GetLevel(), Info)
	}
}
