package logger

import (
	"bytes"
	"strings"
	"testing"
)

func TestWithFieldsMergesIntoEntry(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelInfo, Output: &buf, Service: "test"})

	l.WithFields(map[string]any{"a": "1", "b": 2}).Info("hello")

	out := buf.String()
	for _, want := range []string{`"a":"1"`, `"b":2`, `"message":"hello"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log entry missing %s: %s", want, out)
		}
	}
}

func TestWithFieldsDoesNotMutateParent(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelInfo, Output: &buf, Service: "test"})

	l.WithFields(map[string]any{"child": "only"})
	l.Info("parent")

	if strings.Contains(buf.String(), "child") {
		t.Errorf("parent logger picked up child fields: %s", buf.String())
	}
}

func TestPackageLevelContextHelpers(t *testing.T) {
	if WithField("k", "v") == nil {
		t.Error("WithField should return a child logger")
	}
	if WithFields(map[string]any{"k": "v"}) == nil {
		t.Error("WithFields should return a child logger")
	}
	if WithError(nil) == nil {
		t.Error("WithError(nil) should return the logger unchanged")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   LevelDebug,
		"INFO":    LevelInfo,
		"warning": LevelWarn,
		"ERROR":   LevelError,
		"bogus":   LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
