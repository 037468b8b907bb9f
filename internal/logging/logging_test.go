package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/zhouzirui/haven/backend/internal/config"
)

func TestNewRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(config.LogConfig{Level: "warn", Format: "json"}, &buf)

	logger.Info().Msg("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at warn level, got %q", buf.String())
	}

	logger.Warn().Msg("shown")
	if !bytes.Contains(buf.Bytes(), []byte("shown")) {
		t.Fatalf("expected warn line, got %q", buf.String())
	}
}

func TestComponentAddsField(t *testing.T) {
	var buf bytes.Buffer
	logger := Component(NewWithWriter(config.LogConfig{Level: "bogus"}, &buf), "chat")

	logger.Info().Msg("hello")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line is not json: %v", err)
	}
	if line["component"] != "chat" {
		t.Fatalf("expected component field, got %v", line)
	}
}
