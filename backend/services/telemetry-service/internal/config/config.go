package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	libconfig "gridwatch/backend/libs/config"
)

// Config defines telemetry service configuration.
type Config struct {
	HTTP struct {
		Port string `yaml:"port" env:"TELEMETRY_HTTP_PORT"`
	} `yaml:"http"`
	CORS struct {
		Origins []string `yaml:"origins" env:"TELEMETRY_CORS_ORIGINS"`
	} `yaml:"cors"`
	RateLimit struct {
		Window      time.Duration `yaml:"window" env:"TELEMETRY_RATE_LIMIT_WINDOW"`
		MaxRequests int           `yaml:"maxRequests" env:"TELEMETRY_RATE_LIMIT_MAX_REQUESTS"`
	} `yaml:"rateLimit"`
	Store struct {
		Path             string        `yaml:"path" env:"TELEMETRY_LOG_PATH"`
		Sheet            string        `yaml:"sheet" env:"TELEMETRY_LOG_SHEET"`
		LockTimeout      time.Duration `yaml:"lockTimeout" env:"TELEMETRY_LOCK_TIMEOUT"`
		LockPollInterval time.Duration `yaml:"lockPollInterval" env:"TELEMETRY_LOCK_POLL_INTERVAL"`
		BackupDir        string        `yaml:"backupDir" env:"TELEMETRY_BACKUP_DIR"`
	} `yaml:"store"`
	JWT struct {
		Secret       string `yaml:"secret" env:"TELEMETRY_JWT_SECRET"`
		ElevatedRole string `yaml:"elevatedRole" env:"TELEMETRY_ELEVATED_ROLE"`
	} `yaml:"jwt"`
	WebSocket struct {
		PingInterval time.Duration `yaml:"pingInterval" env:"TELEMETRY_WS_PING_INTERVAL"`
		WriteTimeout time.Duration `yaml:"writeTimeout" env:"TELEMETRY_WS_WRITE_TIMEOUT"`
		SendBuffer   int           `yaml:"sendBuffer" env:"TELEMETRY_WS_SEND_BUFFER"`
	} `yaml:"websocket"`
	Redis struct {
		Addr     string `yaml:"addr" env:"TELEMETRY_REDIS_ADDR"`
		Password string `yaml:"password" env:"TELEMETRY_REDIS_PASSWORD"`
		DB       int    `yaml:"db" env:"TELEMETRY_REDIS_DB"`
		Channel  string `yaml:"channel" env:"TELEMETRY_REDIS_CHANNEL"`
	} `yaml:"redis"`
	Ingest struct {
		LockRetries  int           `yaml:"lockRetries" env:"TELEMETRY_LOCK_RETRIES"`
		RetryBackoff time.Duration `yaml:"retryBackoff" env:"TELEMETRY_RETRY_BACKOFF"`
	} `yaml:"ingest"`
	Query struct {
		RecentDefault     int `yaml:"recentDefault" env:"TELEMETRY_RECENT_DEFAULT"`
		FaultLimitDefault int `yaml:"faultLimitDefault" env:"TELEMETRY_FAULT_LIMIT_DEFAULT"`
	} `yaml:"query"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	cfg := &Config{}
	cfg.HTTP.Port = "8084"
	cfg.CORS.Origins = []string{"http://localhost:5173"}
	cfg.RateLimit.Window = 15 * time.Minute
	cfg.RateLimit.MaxRequests = 100
	cfg.Store.Path = "./data/logs.xlsx"
	cfg.Store.Sheet = "Sensor Data"
	cfg.Store.LockTimeout = 5 * time.Second
	cfg.Store.LockPollInterval = 50 * time.Millisecond
	cfg.Store.BackupDir = "./data/backups"
	cfg.JWT.ElevatedRole = "engineer"
	cfg.WebSocket.PingInterval = 30 * time.Second
	cfg.WebSocket.WriteTimeout = 10 * time.Second
	cfg.WebSocket.SendBuffer = 32
	cfg.Redis.Channel = "telemetry:records"
	cfg.Ingest.RetryBackoff = 100 * time.Millisecond
	cfg.Query.RecentDefault = 12
	cfg.Query.FaultLimitDefault = 50
	return cfg
}

// Load configuration using shared helper; the YAML file comes from CONFIG_FILE.
func Load() (*Config, error) {
	cfg := Default()
	if err := libconfig.LoadConfig(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(true); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile is Load with an explicit YAML path. requireSecret is false for tooling that
// never serves authenticated requests.
func LoadFile(path string, requireSecret bool) (*Config, error) {
	cfg := Default()
	if err := libconfig.LoadConfigFile(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(requireSecret); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required fields.
func (c *Config) Validate(requireSecret bool) error {
	if strings.TrimSpace(c.Store.Path) == "" {
		return errors.New("config: store path required")
	}
	if requireSecret && strings.TrimSpace(c.JWT.Secret) == "" {
		return errors.New("config: jwt secret required")
	}
	if c.Store.LockTimeout < 0 || c.Store.LockPollInterval < 0 {
		return errors.New("config: lock durations must not be negative")
	}
	if c.RateLimit.Window < 0 || c.RateLimit.MaxRequests < 0 {
		return errors.New("config: rate limit must not be negative")
	}
	if c.Ingest.LockRetries < 0 {
		return errors.New("config: lock retries must not be negative")
	}
	return nil
}

// HTTPAddress returns :port style.
func (c *Config) HTTPAddress() string {
	port := strings.TrimSpace(c.HTTP.Port)
	if port == "" {
		port = "8084"
	}
	if strings.HasPrefix(port, ":") || strings.Contains(port, ":") {
		return port
	}
	return fmt.Sprintf(":%s", port)
}

// RelayEnabled reports whether the redis record relay is configured.
func (c *Config) RelayEnabled() bool {
	return strings.TrimSpace(c.Redis.Addr) != ""
}
