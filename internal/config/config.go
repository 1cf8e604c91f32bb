package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

// Config is the daemon configuration, read from courier.toml and then
// overridden by COURIER_* environment variables.
type Config struct {
	NodeID   string         `toml:"node_id"`
	Server   ServerConfig   `toml:"server"`
	Store    StoreConfig    `toml:"store"`
	Log      LogConfig      `toml:"log"`
	Presence PresenceConfig `toml:"presence"`
	Relay    RelayConfig    `toml:"relay"`
	Redis    RedisConfig    `toml:"redis"`
	NATS     NATSConfig     `toml:"nats"`
	Session  SessionConfig  `toml:"session"`
}

type ServerConfig struct {
	Addr              string   `toml:"addr" validate:"required"`
	ReadHeaderTimeout Duration `toml:"read_header_timeout" validate:"gt=0"`
	ShutdownTimeout   Duration `toml:"shutdown_timeout" validate:"gt=0"`
	// CORSOrigins lists browser origins allowed to call the API; "*" allows any.
	CORSOrigins []string `toml:"cors_origins"`
}

type StoreConfig struct {
	Path string `toml:"path" validate:"required"`
}

type LogConfig struct {
	Level string `toml:"level" validate:"oneof=debug info warn error"`
	// File is an optional JSON log file; stderr always gets console output.
	File string `toml:"file"`
}

type PresenceConfig struct {
	Backend    string   `toml:"backend" validate:"oneof=memory redis"`
	KeyPrefix  string   `toml:"key_prefix"`
	OnlineTTL  Duration `toml:"online_ttl" validate:"gt=0"`
	OfflineTTL Duration `toml:"offline_ttl" validate:"gt=0"`
}

type RelayConfig struct {
	Backend string `toml:"backend" validate:"oneof=memory redis nats"`
	Prefix  string `toml:"prefix"`
	Buffer  int    `toml:"buffer" validate:"min=1"`
}

type RedisConfig struct {
	URL string `toml:"url"`
}

type NATSConfig struct {
	URL  string `toml:"url"`
	Name string `toml:"name"`
}

type SessionConfig struct {
	OutboundBuffer     int      `toml:"outbound_buffer" validate:"min=1"`
	PingInterval       Duration `toml:"ping_interval" validate:"gt=0"`
	PongWait           Duration `toml:"pong_wait" validate:"gt=0"`
	WriteTimeout       Duration `toml:"write_timeout" validate:"gt=0"`
	MaxMessageBytes    int64    `toml:"max_message_bytes" validate:"min=1"`
	ResubscribeBackoff Duration `toml:"resubscribe_backoff" validate:"gt=0"`
}

// Duration is a time.Duration written as a Go duration string in TOML.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Default returns a configuration for a single node with in-process
// presence and relay.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:              ":8080",
			ReadHeaderTimeout: Duration(10 * time.Second),
			ShutdownTimeout:   Duration(10 * time.Second),
		},
		Store: StoreConfig{Path: "courier.db"},
		Log:   LogConfig{Level: "info"},
		Presence: PresenceConfig{
			Backend:    "memory",
			OnlineTTL:  Duration(5 * time.Minute),
			OfflineTTL: Duration(time.Minute),
		},
		Relay: RelayConfig{Backend: "memory", Buffer: 64},
		NATS:  NATSConfig{Name: "courierd"},
		Session: SessionConfig{
			OutboundBuffer:     256,
			PingInterval:       Duration(30 * time.Second),
			PongWait:           Duration(60 * time.Second),
			WriteTimeout:       Duration(10 * time.Second),
			MaxMessageBytes:    64 << 10,
			ResubscribeBackoff: Duration(time.Second),
		},
	}
}

// Load reads config from the given path on top of the defaults. Returns an
// error if the file is missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

var validate = validator.New()

// Validate checks field constraints and the backends' connection settings.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	var errs []error
	if (c.Presence.Backend == "redis" || c.Relay.Backend == "redis") && c.Redis.URL == "" {
		errs = append(errs, errors.New("redis.url is required when a redis backend is selected"))
	}
	if c.Relay.Backend == "nats" && c.NATS.URL == "" {
		errs = append(errs, errors.New("nats.url is required when the nats relay is selected"))
	}
	if c.Session.PingInterval >= c.Session.PongWait {
		errs = append(errs, errors.New("session.ping_interval must be shorter than session.pong_wait"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
