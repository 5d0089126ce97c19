package logger

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestWithComponent(t *testing.T) {
	log := Logger()
	entry := log.WithComponent("test")
	if v, ok := entry.Entry.Data["component"]; !ok || v != "test" {
		t.Fatalf("component field missing: %v", entry.Entry.Data)
	}
}

func TestConfigureInvalidLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	if err := log.Configure("invalid", "json", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid level")
	}
}

func TestConfigureInvalidFormat(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	if err := log.Configure("info", "xml", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid format")
	}
}

func TestConfigureFileOutput(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	path := filepath.Join(t.TempDir(), "feed.log")
	if err := log.Configure("debug", "text", path, 0); err != nil {
		t.Fatalf("configure: %v", err)
	}
	if !log.IsLevelEnabled(logrus.DebugLevel) {
		t.Fatalf("expected debug level to be enabled")
	}
}

func TestWithEnv(t *testing.T) {
	t.Setenv("FOO", "bar")
	log := Logger()
	entry := log.WithEnv("FOO")
	if v, ok := entry.Entry.Data["FOO"]; !ok || v != "bar" {
		t.Fatalf("env field not set: %v", entry.Entry.Data)
	}
}

func TestWarnCountsPerComponent(t *testing.T) {
	log := Logger()
	var buf bytes.Buffer
	log.SetOutput(&buf)

	before := snapshot(&warns)["counting_test"]
	log.WithComponent("counting_test").Warn("first")
	log.WithComponent("counting_test").Warn("second")
	after := snapshot(&warns)["counting_test"]
	if after-before != 2 {
		t.Fatalf("expected 2 warnings recorded, got %d", after-before)
	}

	line := bytes.SplitN(buf.Bytes(), []byte("\n"), 2)[0]
	var decoded map[string]interface{}
	if err := json.Unmarshal(line, &decoded); err != nil {
		t.Fatalf("expected json output: %v", err)
	}
	if decoded["message"] != "first" || decoded["component"] != "counting_test" {
		t.Fatalf("unexpected log line: %v", decoded)
	}
}

func TestIncrementFetch(t *testing.T) {
	IncrementFetch("unit", false)
	IncrementFetch("unit", true)
	if got := snapshot(&fetches)["unit"]; got < 2 {
		t.Fatalf("expected at least 2 fetches, got %d", got)
	}
	if got := snapshot(&failures)["unit"]; got < 1 {
		t.Fatalf("expected at least 1 failure, got %d", got)
	}
}
