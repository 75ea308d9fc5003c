package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestLogWriterPlainJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(logWriter(Config{Format: "json"}, &buf))
	logger.Info().Str("component", "test").Msg("hello")

	if !strings.Contains(buf.String(), `"component":"test"`) {
		t.Fatalf("expected json output, got %q", buf.String())
	}
}

func TestLogWriterConsole(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(logWriter(Config{Format: "console"}, &buf))
	logger.Info().Msg("hello")

	if strings.HasPrefix(buf.String(), "{") {
		t.Fatalf("console format must not emit json, got %q", buf.String())
	}
	if !strings.Contains(buf.String(), "hello") {
		t.Fatalf("message missing: %q", buf.String())
	}
}

func TestLogWriterMirrorsToFile(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "poolwatch.log")
	logger := zerolog.New(logWriter(Config{Format: "console", File: FileConfig{Path: path, MaxSizeMB: 1}}, &buf))
	logger.Warn().Msg("rotating")

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(raw), `"message":"rotating"`) {
		t.Fatalf("file must receive json lines, got %q", raw)
	}
	if !strings.Contains(buf.String(), "rotating") {
		t.Fatalf("console must receive the line too")
	}
}
