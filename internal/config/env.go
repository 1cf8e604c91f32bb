package config

import (
	"fmt"
	"os"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

// overrides lists every setting that can come from the environment. Unset
// variables leave the file value alone.
type overrides struct {
	NodeID             *string `env:"COURIER_NODE_ID"`
	Addr               *string `env:"COURIER_ADDR"`
	DBPath             *string `env:"COURIER_DB_PATH"`
	LogLevel           *string `env:"COURIER_LOG_LEVEL"`
	LogFile            *string `env:"COURIER_LOG_FILE"`
	PresenceBackend    *string `env:"COURIER_PRESENCE_BACKEND"`
	PresenceOnlineTTL  *string `env:"COURIER_PRESENCE_ONLINE_TTL"`
	PresenceOfflineTTL *string `env:"COURIER_PRESENCE_OFFLINE_TTL"`
	RelayBackend       *string `env:"COURIER_RELAY_BACKEND"`
	RelayPrefix        *string `env:"COURIER_RELAY_PREFIX"`
	RedisURL           *string `env:"COURIER_REDIS_URL"`
	NATSURL            *string `env:"COURIER_NATS_URL"`
	OutboundBuffer     *int    `env:"COURIER_OUTBOUND_BUFFER"`
	PingInterval       *string `env:"COURIER_PING_INTERVAL"`
}

// ApplyEnv overlays COURIER_* variables from environ onto cfg.
func ApplyEnv(cfg *Config, environ env.EnvSet) error {
	var o overrides
	if err := env.Unmarshal(environ, &o); err != nil {
		return fmt.Errorf("environment overrides: %w", err)
	}
	setString(&cfg.NodeID, o.NodeID)
	setString(&cfg.Server.Addr, o.Addr)
	setString(&cfg.Store.Path, o.DBPath)
	setString(&cfg.Log.Level, o.LogLevel)
	setString(&cfg.Log.File, o.LogFile)
	setString(&cfg.Presence.Backend, o.PresenceBackend)
	if err := setDuration(&cfg.Presence.OnlineTTL, o.PresenceOnlineTTL); err != nil {
		return fmt.Errorf("COURIER_PRESENCE_ONLINE_TTL: %w", err)
	}
	if err := setDuration(&cfg.Presence.OfflineTTL, o.PresenceOfflineTTL); err != nil {
		return fmt.Errorf("COURIER_PRESENCE_OFFLINE_TTL: %w", err)
	}
	setString(&cfg.Relay.Backend, o.RelayBackend)
	setString(&cfg.Relay.Prefix, o.RelayPrefix)
	setString(&cfg.Redis.URL, o.RedisURL)
	setString(&cfg.NATS.URL, o.NATSURL)
	if o.OutboundBuffer != nil {
		cfg.Session.OutboundBuffer = *o.OutboundBuffer
	}
	if err := setDuration(&cfg.Session.PingInterval, o.PingInterval); err != nil {
		return fmt.Errorf("COURIER_PING_INTERVAL: %w", err)
	}
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *Duration, v *string) error {
	if v == nil {
		return nil
	}
	return dst.UnmarshalText([]byte(*v))
}

// DefaultPath is looked up in the working directory when no path is given.
const DefaultPath = "courier.toml"

// Resolve determines the config file using precedence:
// 1. flagPath (-config flag)
// 2. COURIER_CONFIG
// 3. ./courier.toml if it exists
// An empty result means built-in defaults.
func Resolve(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	if p := os.Getenv("COURIER_CONFIG"); p != "" {
		return p
	}
	if _, err := os.Stat(DefaultPath); err == nil {
		return DefaultPath
	}
	return ""
}

// Read loads .env if present, the resolved config file or the defaults,
// applies environment overrides and validates the result.
func Read(flagPath string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path := Resolve(flagPath); path != "" {
		loaded, err := Load(path)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
		cfg = loaded
	}

	environ, err := env.EnvironToEnvSet(os.Environ())
	if err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}
	if err := ApplyEnv(cfg, environ); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
