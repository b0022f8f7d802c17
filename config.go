package squery

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/caarlos0/env/v11"
)

// MaintenanceDatabase is the database administrative statements run against.
const MaintenanceDatabase = "postgres"

// Config carries the connection parameters for one database. It is passed
// through unmodified to the connection factory.
type Config struct {
	Host     string `env:"DATABASE_HOST"     envDefault:"localhost" yaml:"host"`
	Port     int    `env:"DATABASE_PORT"     envDefault:"5432"      yaml:"port"`
	Database string `env:"DATABASE_NAME"                            yaml:"database"`
	User     string `env:"DATABASE_USER"     envDefault:"postgres"  yaml:"user"`
	Password string `env:"DATABASE_PASSWORD"                        yaml:"password"`
	SSLMode  string `env:"DATABASE_SSL_MODE" envDefault:"disable"   yaml:"ssl_mode"`

	MaxPoolSize int  `env:"DATABASE_MAX_POOL_SIZE" envDefault:"5"     yaml:"max_pool_size"`
	Debug       bool `env:"DATABASE_DEBUG"         envDefault:"false" yaml:"debug"`
}

// ConfigFromEnv builds a Config from DATABASE_* environment variables.
func ConfigFromEnv() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("squery: parse environment: %w", err)
	}
	if err = cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations that cannot produce a working pool. It
// never coerces values silently.
func (c Config) Validate() error {
	if c.Database == "" {
		return fmt.Errorf("squery: database name is required")
	}
	if c.Host == "" {
		return fmt.Errorf("squery: database host is required")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("squery: database port %d out of range", c.Port)
	}
	if c.MaxPoolSize < 1 {
		return fmt.Errorf("squery: max pool size must be at least 1, got %d", c.MaxPoolSize)
	}
	return nil
}

// DSN renders the configuration as a key/value connection string.
func (c Config) DSN() string {
	parts := []string{
		"host=" + dsnValue(c.Host),
		"port=" + strconv.Itoa(c.Port),
		"dbname=" + dsnValue(c.Database),
		"user=" + dsnValue(c.User),
	}
	if c.Password != "" {
		parts = append(parts, "password="+dsnValue(c.Password))
	}
	if c.SSLMode != "" {
		parts = append(parts, "sslmode="+dsnValue(c.SSLMode))
	}
	return strings.Join(parts, " ")
}

// dsnValue quotes a connection-string value the way libpq expects: values
// containing spaces, quotes or backslashes go in single quotes, with
// backslash escaping inside.
func dsnValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// WithDatabase returns a copy of the configuration pointed at another
// database on the same server.
func (c Config) WithDatabase(name string) Config {
	c.Database = name
	return c
}
