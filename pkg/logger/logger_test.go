package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNewDefaultTagsComponent(t *testing.T) {
	var buf bytes.Buffer
	log := New(LoggingConfig{Format: "json"}).Named("staking")
	log.SetOutput(&buf)

	log.WithField("token", "KLA").Info("stake opened")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode entry: %v", err)
	}
	if entry["component"] != "staking" {
		t.Fatalf("expected component field, got %v", entry)
	}
	if entry["token"] != "KLA" {
		t.Fatalf("expected token field, got %v", entry)
	}
}

func TestNewParsesLevel(t *testing.T) {
	log := New(LoggingConfig{Level: "debug"})
	if log.GetLevel() != logrus.DebugLevel {
		t.Fatalf("expected debug level, got %s", log.GetLevel())
	}

	log = New(LoggingConfig{Level: "nonsense"})
	if log.GetLevel() != logrus.InfoLevel {
		t.Fatalf("expected info fallback, got %s", log.GetLevel())
	}
}
