package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/caarlos0/env/v10"
	"gopkg.in/yaml.v3"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverNone     = "none"
)

type Config struct {
	Server   ServerConfig   `yaml:"server" envPrefix:"SERVER_"`
	Database DatabaseConfig `yaml:"database" envPrefix:"DB_"`
	Redis    RedisConfig    `yaml:"redis" envPrefix:"REDIS_"`
	Events   EventsConfig   `yaml:"events" envPrefix:"EVENTS_"`
	Lookup   LookupConfig   `yaml:"lookup" envPrefix:"LOOKUP_"`
	Log      LogConfig      `yaml:"log" envPrefix:"LOG_"`
}

type ServerConfig struct {
	Host string `yaml:"host" env:"HOST"`
	Port int    `yaml:"port" env:"PORT"`
	Mode string `yaml:"mode" env:"MODE"`
}

type DatabaseConfig struct {
	Driver       string `yaml:"driver" env:"DRIVER"`
	Host         string `yaml:"host" env:"HOST"`
	Port         int    `yaml:"port" env:"PORT"`
	User         string `yaml:"user" env:"USER"`
	Password     string `yaml:"password" env:"PASSWORD"`
	DBName       string `yaml:"dbname" env:"NAME"`
	SSLMode      string `yaml:"sslmode" env:"SSLMODE"`
	MaxIdleConns int    `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	MaxOpenConns int    `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
}

type RedisConfig struct {
	Host     string `yaml:"host" env:"HOST"`
	Port     int    `yaml:"port" env:"PORT"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
}

// EventsConfig selects the transport trade/position updates are published on
type EventsConfig struct {
	Driver         string        `yaml:"driver" env:"DRIVER"`
	QueueSize      int           `yaml:"queue_size" env:"QUEUE_SIZE"`
	PublishTimeout time.Duration `yaml:"publish_timeout" env:"PUBLISH_TIMEOUT"`
}

// LookupConfig points at the reference data and account services.
// Empty URLs fall back to the static lists.
type LookupConfig struct {
	ReferenceDataURL string        `yaml:"reference_data_url" env:"REFERENCE_DATA_URL"`
	AccountURL       string        `yaml:"account_url" env:"ACCOUNT_URL"`
	Timeout          time.Duration `yaml:"timeout" env:"TIMEOUT"`
	CacheTTL         time.Duration `yaml:"cache_ttl" env:"CACHE_TTL"`
	Tickers          []string      `yaml:"tickers" env:"TICKERS" envSeparator:","`
	Accounts         []int         `yaml:"accounts" env:"ACCOUNTS" envSeparator:","`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
	Dir    string `yaml:"dir" env:"DIR"`
}

// Default returns the configuration used when a field is absent from the file
func Default() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 18092, Mode: "release"},
		Database: DatabaseConfig{
			Driver:       DriverPostgres,
			Host:         "localhost",
			Port:         5432,
			SSLMode:      "disable",
			MaxIdleConns: 10,
			MaxOpenConns: 100,
		},
		Redis:  RedisConfig{Host: "localhost", Port: 6379},
		Events: EventsConfig{Driver: DriverRedis, QueueSize: 1024, PublishTimeout: 2 * time.Second},
		Lookup: LookupConfig{Timeout: 3 * time.Second, CacheTTL: time.Minute},
		Log:    LogConfig{Level: "info", Format: "text"},
	}
}

// Load loads configuration from file and environment variables
func Load(path string) (*Config, error) {
	cfg := Default()

	// Load from YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	// Override with environment variables if present
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the server cannot start with
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	switch c.Database.Driver {
	case DriverPostgres, DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("database.driver %q not supported", c.Database.Driver))
	}
	switch c.Events.Driver {
	case DriverRedis, DriverMemory, DriverNone:
	default:
		errs = append(errs, fmt.Errorf("events.driver %q not supported", c.Events.Driver))
	}
	if c.Events.QueueSize <= 0 {
		errs = append(errs, errors.New("events.queue_size must be positive"))
	}
	if c.Lookup.Timeout <= 0 {
		errs = append(errs, errors.New("lookup.timeout must be positive"))
	}
	return errors.Join(errs...)
}

// Addr renders the listen address in host:port form
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// DSN returns the PostgreSQL connection string
func (c *DatabaseConfig) DSN() string {
	return "host=" + c.Host +
		" port=" + strconv.Itoa(c.Port) +
		" user=" + c.User +
		" password=" + c.Password +
		" dbname=" + c.DBName +
		" sslmode=" + c.SSLMode
}

// Addr returns the Redis address
func (c *RedisConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
