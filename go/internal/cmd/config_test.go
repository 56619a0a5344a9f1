package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "showclock.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("NATS_URL", "")
	t.Setenv("INSTANCE_ID", "")

	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Server.Port != "8080" || !cfg.Server.Migrate {
		t.Fatalf("server = %+v", cfg.Server)
	}
	if cfg.Relay.JetStream {
		t.Fatal("jetstream enabled without NATS_URL")
	}
	if _, err := uuid.Parse(cfg.Relay.InstanceID); err != nil {
		t.Fatalf("instance id %q is not generated: %v", cfg.Relay.InstanceID, err)
	}
	if cfg.Fanout.PingInterval != 30*time.Second || cfg.Recorder.BatchThreshold != 10 {
		t.Fatalf("fanout/recorder defaults not applied: %+v %+v", cfg.Fanout, cfg.Recorder)
	}
	if cfg.Relay.Listener.DatabaseURL == "" {
		t.Fatal("listener DSN not filled from database config")
	}
}

func TestLoadConfigFileOverridesDefaults(t *testing.T) {
	t.Setenv("NATS_URL", "")
	t.Setenv("PORT", "")
	path := writeConfig(t, `
server:
  port: "9090"
fanout:
  ping_interval: 15s
recorder:
  batch_threshold: 25
  retry_delay: 1s
bridge:
  osc_addr: ":9000"
  event_id: "6f9c1a52-4b7e-4d8e-9a51-0d2c3b4a5e6f"
relay:
  instance_id: stage-left
  nats:
    stream_name: SHOWCLOCK_TEST
`)

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Server.Port != "9090" {
		t.Errorf("port = %q", cfg.Server.Port)
	}
	if cfg.Fanout.PingInterval != 15*time.Second {
		t.Errorf("ping interval = %v", cfg.Fanout.PingInterval)
	}
	// Fields missing from the file keep their defaults.
	if cfg.Fanout.WriteTimeout != 10*time.Second {
		t.Errorf("write timeout = %v", cfg.Fanout.WriteTimeout)
	}
	if cfg.Recorder.BatchThreshold != 25 || cfg.Recorder.RetryDelay != time.Second {
		t.Errorf("recorder = %+v", cfg.Recorder)
	}
	if cfg.Bridge.OSCAddr != ":9000" || cfg.Bridge.Day != 1 {
		t.Errorf("bridge = %+v", cfg.Bridge)
	}
	if cfg.Relay.InstanceID != "stage-left" || cfg.Relay.NATS.StreamName != "SHOWCLOCK_TEST" {
		t.Errorf("relay = %+v", cfg.Relay)
	}
	if cfg.Relay.NATS.SubjectPrefix != "showclock.events" {
		t.Errorf("subject prefix = %q", cfg.Relay.NATS.SubjectPrefix)
	}
}

func TestLoadConfigEnvWins(t *testing.T) {
	path := writeConfig(t, "server:\n  port: \"9090\"\n")
	t.Setenv("PORT", "7070")
	t.Setenv("NATS_URL", "nats://nats:4222")
	t.Setenv("RELAY_NOTIFY", "false")
	t.Setenv("REQUEST_TIMEOUT", "2s")

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Server.Port != "7070" {
		t.Errorf("port = %q", cfg.Server.Port)
	}
	if !cfg.Relay.JetStream || cfg.Relay.NATS.URL != "nats://nats:4222" {
		t.Errorf("jetstream not enabled by NATS_URL: %+v", cfg.Relay)
	}
	if cfg.Relay.Notify {
		t.Error("RELAY_NOTIFY=false ignored")
	}
	if cfg.Server.RequestTimeout != 2*time.Second {
		t.Errorf("request timeout = %v", cfg.Server.RequestTimeout)
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"bad level":   "log_level: loud\n",
		"bad event":   "bridge:\n  event_id: not-a-uuid\n",
		"bad day":     "bridge:\n  day: 0\n",
		"broken yaml": "server: [\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			t.Setenv("LOG_LEVEL", "")
			if _, err := loadConfig(writeConfig(t, body)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
	if _, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
