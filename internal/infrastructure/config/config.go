package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

// Config is the full daemon configuration. Intervals and TTLs are
// plain milliseconds in the TOML; the accessor methods hand out
// time.Duration.
type Config struct {
	Bot struct {
		Name       string `toml:"name"`
		InstanceID string `toml:"instance_id"` // default: hostname-uuid
	} `toml:"bot"`

	Log struct {
		Level  string `toml:"level"`  // trace|debug|info|warn|error
		Format string `toml:"format"` // console|json
	} `toml:"log"`

	Redis struct {
		Addr        string `toml:"addr"`
		Password    string `toml:"password"` // overridable via HOTSPARE_REDIS_PASSWORD
		DB          int    `toml:"db"`
		OpTimeoutMs int    `toml:"op_timeout_ms"`
	} `toml:"redis"`

	Lease struct {
		LockTTLMs         int `toml:"lock_ttl_ms"`
		RenewIntervalMs   int `toml:"renew_interval_ms"`
		AcquireIntervalMs int `toml:"acquire_interval_ms"`
	} `toml:"lease"`

	Heartbeat struct {
		TTLMs int `toml:"ttl_ms"`
		// IntervalMs is the primary's beat cadence; beats land on renew
		// ticks, so validation bounds interval+renew below the TTL.
		IntervalMs     int `toml:"interval_ms"`
		StaleAfterMs   int `toml:"stale_after_ms"`
		PollIntervalMs int `toml:"poll_interval_ms"`
	} `toml:"heartbeat"`

	State struct {
		StateTTLMs    int `toml:"state_ttl_ms"`
		PositionTTLMs int `toml:"position_ttl_ms"`
		StaleAfterMs  int `toml:"stale_after_ms"`
	} `toml:"state"`

	Shutdown struct {
		GraceMs       int `toml:"grace_ms"`
		StepTimeoutMs int `toml:"step_timeout_ms"`
	} `toml:"shutdown"`

	Journal struct {
		Backend     string `toml:"backend"` // none|sqlite|postgres
		SQLitePath  string `toml:"sqlite_path"`
		PostgresDSN string `toml:"postgres_dsn"`
	} `toml:"journal"`

	Metrics struct {
		Enabled    bool   `toml:"enabled"`
		ListenAddr string `toml:"listen_addr"`
	} `toml:"metrics"`
}

func Load(path string) (*Config, error) {
	// .env overlay for credentials kept out of the TOML
	_ = godotenv.Load()

	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("HOTSPARE_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("HOTSPARE_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("HOTSPARE_POSTGRES_DSN"); v != "" {
		cfg.Journal.PostgresDSN = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Bot.InstanceID == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "hotspare"
		}
		cfg.Bot.InstanceID = host + "-" + uuid.NewString()[:8]
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "127.0.0.1:6379"
	}
	if cfg.Redis.OpTimeoutMs <= 0 {
		cfg.Redis.OpTimeoutMs = 5000
	}
	if cfg.Lease.LockTTLMs <= 0 {
		cfg.Lease.LockTTLMs = 30000
	}
	if cfg.Lease.RenewIntervalMs <= 0 {
		cfg.Lease.RenewIntervalMs = 10000
	}
	if cfg.Lease.AcquireIntervalMs <= 0 {
		cfg.Lease.AcquireIntervalMs = 5000
	}
	if cfg.Heartbeat.TTLMs <= 0 {
		cfg.Heartbeat.TTLMs = 60000
	}
	if cfg.Heartbeat.IntervalMs <= 0 {
		cfg.Heartbeat.IntervalMs = 30000
	}
	if cfg.Heartbeat.StaleAfterMs <= 0 {
		cfg.Heartbeat.StaleAfterMs = 60000
	}
	if cfg.Heartbeat.PollIntervalMs <= 0 {
		cfg.Heartbeat.PollIntervalMs = 5000
	}
	if cfg.State.StateTTLMs <= 0 {
		cfg.State.StateTTLMs = 3600000 // 1h
	}
	if cfg.State.PositionTTLMs <= 0 {
		cfg.State.PositionTTLMs = 86400000 // 24h
	}
	if cfg.State.StaleAfterMs <= 0 {
		cfg.State.StaleAfterMs = 900000 // 15m
	}
	if cfg.Shutdown.GraceMs <= 0 {
		cfg.Shutdown.GraceMs = 20000
	}
	if cfg.Shutdown.StepTimeoutMs <= 0 {
		cfg.Shutdown.StepTimeoutMs = 5000
	}
	if cfg.Journal.Backend == "" {
		cfg.Journal.Backend = "none"
	}
	if cfg.Metrics.ListenAddr == "" {
		cfg.Metrics.ListenAddr = ":9108"
	}
}

func validate(cfg *Config) error {
	cfg.Bot.Name = strings.TrimSpace(cfg.Bot.Name)
	if cfg.Bot.Name == "" {
		return errors.New("bot.name is empty")
	}

	// The renew cadence must leave headroom inside the lease, and every
	// store call must time out well before a TTL it is racing.
	if cfg.Lease.RenewIntervalMs >= cfg.Lease.LockTTLMs {
		return fmt.Errorf("lease.renew_interval_ms (%d) must be < lease.lock_ttl_ms (%d)",
			cfg.Lease.RenewIntervalMs, cfg.Lease.LockTTLMs)
	}
	// Beats ride on renew ticks, so the worst-case gap between two
	// beats is one heartbeat interval plus one renew tick. That gap must
	// fit inside the heartbeat TTL or a healthy primary's key expires
	// between beats and the standby reads false staleness.
	if cfg.Heartbeat.IntervalMs+cfg.Lease.RenewIntervalMs >= cfg.Heartbeat.TTLMs {
		return fmt.Errorf("heartbeat.interval_ms (%d) + lease.renew_interval_ms (%d) must be < heartbeat.ttl_ms (%d)",
			cfg.Heartbeat.IntervalMs, cfg.Lease.RenewIntervalMs, cfg.Heartbeat.TTLMs)
	}
	if cfg.Redis.OpTimeoutMs >= cfg.Lease.LockTTLMs {
		return fmt.Errorf("redis.op_timeout_ms (%d) must be < lease.lock_ttl_ms (%d)",
			cfg.Redis.OpTimeoutMs, cfg.Lease.LockTTLMs)
	}

	switch cfg.Journal.Backend {
	case "none":
	case "sqlite":
		if strings.TrimSpace(cfg.Journal.SQLitePath) == "" {
			return errors.New("journal.sqlite_path is empty but backend is sqlite")
		}
	case "postgres":
		if strings.TrimSpace(cfg.Journal.PostgresDSN) == "" {
			return errors.New("journal.postgres_dsn is empty but backend is postgres")
		}
	default:
		return fmt.Errorf("journal.backend %q not one of none|sqlite|postgres", cfg.Journal.Backend)
	}
	return nil
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func (c *Config) OpTimeout() time.Duration          { return ms(c.Redis.OpTimeoutMs) }
func (c *Config) LockTTL() time.Duration            { return ms(c.Lease.LockTTLMs) }
func (c *Config) RenewInterval() time.Duration      { return ms(c.Lease.RenewIntervalMs) }
func (c *Config) AcquireInterval() time.Duration    { return ms(c.Lease.AcquireIntervalMs) }
func (c *Config) HeartbeatTTL() time.Duration       { return ms(c.Heartbeat.TTLMs) }
func (c *Config) HeartbeatInterval() time.Duration  { return ms(c.Heartbeat.IntervalMs) }
func (c *Config) StalenessThreshold() time.Duration { return ms(c.Heartbeat.StaleAfterMs) }
func (c *Config) PollInterval() time.Duration       { return ms(c.Heartbeat.PollIntervalMs) }
func (c *Config) StateTTL() time.Duration           { return ms(c.State.StateTTLMs) }
func (c *Config) PositionTTL() time.Duration        { return ms(c.State.PositionTTLMs) }
func (c *Config) StateStaleAfter() time.Duration    { return ms(c.State.StaleAfterMs) }
func (c *Config) ShutdownGrace() time.Duration      { return ms(c.Shutdown.GraceMs) }
func (c *Config) StepTimeout() time.Duration        { return ms(c.Shutdown.StepTimeoutMs) }
