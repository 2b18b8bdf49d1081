package postgres

import (
	"net"
	"net/url"
	"time"

	"github.com/compozy/autoflow/pkg/config"
)

// Config holds PostgreSQL connection settings. ConnString wins over the
// individual fields when set.
type Config struct {
	ConnString string
	Host       string
	Port       string
	User       string
	Password   string
	DBName     string
	SSLMode    string

	MaxConns           int
	PingTimeout        time.Duration
	HealthCheckTimeout time.Duration
}

// FromAppConfig maps the application database section onto the driver config.
func FromAppConfig(cfg *config.DatabaseConfig) *Config {
	if cfg == nil {
		return &Config{}
	}
	return &Config{
		ConnString:   cfg.ConnString,
		Host:         cfg.Host,
		Port:         cfg.Port,
		User:         cfg.User,
		Password:     cfg.Password.Value(),
		DBName:       cfg.DBName,
		SSLMode:      cfg.SSLMode,
		MaxConns:     cfg.MaxConns,
	}
}

// DSN returns the connection string used for pools and migrations.
func (c *Config) DSN() string {
	if c.ConnString != "" {
		return c.ConnString
	}
	u := url.URL{
		Scheme:   "postgres",
		Host:     net.JoinHostPort(orDefault(c.Host, "localhost"), orDefault(c.Port, "5432")),
		Path:     "/" + orDefault(c.DBName, "autoflow"),
		RawQuery: url.Values{"sslmode": {orDefault(c.SSLMode, "disable")}}.Encode(),
	}
	user := orDefault(c.User, "postgres")
	if c.Password != "" {
		u.User = url.UserPassword(user, c.Password)
	} else {
		u.User = url.User(user)
	}
	return u.String()
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
