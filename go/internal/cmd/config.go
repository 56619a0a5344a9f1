package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/showclock/go/internal/bridge"
	"github.com/mcdev12/showclock/go/internal/changelog"
	"github.com/mcdev12/showclock/go/internal/dbconfig"
	"github.com/mcdev12/showclock/go/internal/gateway"
	"github.com/mcdev12/showclock/go/internal/relay"
	"github.com/mcdev12/showclock/go/internal/timer"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port           string        `yaml:"port"`
		RequestTimeout time.Duration `yaml:"request_timeout"`
		Migrate        bool          `yaml:"migrate"`
	} `yaml:"server"`

	Bridge struct {
		// OSCAddr is the UDP listen address; empty disables OSC ingress.
		OSCAddr        string        `yaml:"osc_addr"`
		CommandTimeout time.Duration `yaml:"command_timeout"`
		EventID        string        `yaml:"event_id"`
		Day            int           `yaml:"day"`
	} `yaml:"bridge"`

	Fanout   gateway.Config   `yaml:"fanout"`
	Recorder changelog.Config `yaml:"recorder"`

	Relay struct {
		// InstanceID tags relayed messages so an instance skips its own.
		InstanceID string                `yaml:"instance_id"`
		JetStream  bool                  `yaml:"jetstream"`
		NATS       relay.JetStreamConfig `yaml:"nats"`
		Notify     bool                  `yaml:"notify"`
		Listener   relay.ListenerConfig  `yaml:"listener"`
	} `yaml:"relay"`

	LogLevel string          `yaml:"log_level"`
	Database dbconfig.Config `yaml:"-"`
}

func defaultConfig() Config {
	var cfg Config
	cfg.Server.Port = "8080"
	cfg.Server.RequestTimeout = timer.DefaultRequestTimeout
	cfg.Server.Migrate = true
	cfg.Bridge.OSCAddr = ":57121"
	cfg.Bridge.CommandTimeout = bridge.DefaultCommandTimeout
	cfg.Bridge.Day = 1
	cfg.Fanout = gateway.DefaultConfig()
	cfg.Recorder = changelog.DefaultConfig()
	cfg.Relay.NATS = relay.DefaultJetStreamConfig()
	cfg.Relay.Notify = true
	cfg.Relay.Listener = relay.DefaultListenerConfig()
	cfg.LogLevel = "info"
	return cfg
}

// loadConfig layers defaults, then the YAML file at path (if any), then the
// environment.
func loadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.Server.Port = getEnv("PORT", cfg.Server.Port)
	cfg.Server.RequestTimeout = getEnvAsDuration("REQUEST_TIMEOUT", cfg.Server.RequestTimeout)
	cfg.Server.Migrate = getEnvAsBool("MIGRATE", cfg.Server.Migrate)
	cfg.Bridge.OSCAddr = getEnv("OSC_ADDR", cfg.Bridge.OSCAddr)
	cfg.Bridge.EventID = getEnv("OSC_EVENT_ID", cfg.Bridge.EventID)
	cfg.Bridge.Day = getEnvAsInt("OSC_DAY", cfg.Bridge.Day)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)

	if url := os.Getenv("NATS_URL"); url != "" {
		cfg.Relay.NATS.URL = url
		cfg.Relay.JetStream = true
	}
	cfg.Relay.JetStream = getEnvAsBool("RELAY_JETSTREAM", cfg.Relay.JetStream)
	cfg.Relay.Notify = getEnvAsBool("RELAY_NOTIFY", cfg.Relay.Notify)
	cfg.Relay.InstanceID = getEnv("INSTANCE_ID", cfg.Relay.InstanceID)
	if cfg.Relay.InstanceID == "" {
		cfg.Relay.InstanceID = uuid.NewString()
	}

	cfg.Database = dbconfig.NewConfigFromEnv()
	cfg.Relay.Listener.DatabaseURL = cfg.Database.DSN()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	if c.Bridge.EventID != "" {
		if _, err := uuid.Parse(c.Bridge.EventID); err != nil {
			return fmt.Errorf("invalid bridge event id %q: %w", c.Bridge.EventID, err)
		}
	}
	if c.Bridge.Day < 1 {
		return fmt.Errorf("bridge day must be at least 1, got %d", c.Bridge.Day)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
