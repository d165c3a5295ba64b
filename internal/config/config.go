package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
)

type Config struct {
	Port       string
	DBAdapter  string
	SQLiteFile string
	// Token key material. The process refuses to start without a signing
	// key and a refresh secret.
	SigningKeyID   string
	PrivateKeyFile string
	// PublicKeyFiles lists retired verification keys as "kid=path" pairs,
	// comma separated. The current signing key is always accepted.
	PublicKeyFiles string
	RefreshSecret  string

	CookieDomain       string
	RateLimitPerMinute int

	AdminEmail    string
	AdminPassword string

	// PostgreSQL connection settings
	PostgresDSN      string
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

// BuildPostgresDSN constructs a PostgreSQL DSN from individual components or returns the provided DSN
func (c *Config) BuildPostgresDSN() (string, error) {
	// If DSN is provided directly, use it
	if c.PostgresDSN != "" {
		return c.PostgresDSN, nil
	}

	if c.PostgresHost == "" {
		return "", errors.New("POSTGRES_HOST or POSTGRES_DSN must be set")
	}
	if c.PostgresUser == "" {
		return "", errors.New("POSTGRES_USER must be set")
	}
	if c.PostgresDB == "" {
		return "", errors.New("POSTGRES_DB must be set")
	}

	port := c.PostgresPort
	if port == "" {
		port = "5432"
	}

	sslMode := c.PostgresSSLMode
	if sslMode == "" {
		sslMode = "disable" // Default to disable for local development
	}

	dsn := fmt.Sprintf("host=%s port=%s user=%s dbname=%s sslmode=%s",
		c.PostgresHost, port, c.PostgresUser, c.PostgresDB, sslMode)

	if c.PostgresPassword != "" {
		dsn += " password=" + c.PostgresPassword
	}

	return dsn, nil
}

func New() (*Config, error) {
	c := &Config{
		Port:       getenv("PORT", "8080"),
		DBAdapter:  getenv("DB_ADAPTER", "postgres"),
		SQLiteFile: getenv("SQLITE_FILE", "./data/tenauth.db"),

		SigningKeyID:   getenv("JWT_SIGNING_KEY_ID", "current"),
		PrivateKeyFile: getenv("JWT_PRIVATE_KEY_FILE", ""),
		PublicKeyFiles: getenv("JWT_PUBLIC_KEY_FILES", ""),
		RefreshSecret:  getenv("REFRESH_JWT_SECRET", ""),

		CookieDomain:       getenv("COOKIE_DOMAIN", "localhost"),
		RateLimitPerMinute: 60,

		AdminEmail:    getenv("ADMIN_EMAIL", ""),
		AdminPassword: getenv("ADMIN_PASSWORD", ""),

		// PostgreSQL settings
		PostgresDSN:      getenv("POSTGRES_DSN", ""),
		PostgresHost:     getenv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getenv("POSTGRES_PORT", "5432"),
		PostgresUser:     getenv("POSTGRES_USER", "tenauth"),
		PostgresPassword: getenv("POSTGRES_PASSWORD", ""),
		PostgresDB:       getenv("POSTGRES_DB", "tenauth"),
		PostgresSSLMode:  getenv("POSTGRES_SSLMODE", "disable"),
	}

	if v := os.Getenv("RATE_LIMIT_PER_MINUTE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid RATE_LIMIT_PER_MINUTE: %s", v)
		}
		c.RateLimitPerMinute = n
	}

	// The token subsystem cannot run without key material; fail at startup
	// rather than on the first login.
	if c.PrivateKeyFile == "" {
		return nil, errors.New("JWT_PRIVATE_KEY_FILE must be set")
	}
	if c.RefreshSecret == "" {
		return nil, errors.New("REFRESH_JWT_SECRET must be set")
	}

	if c.DBAdapter == "postgres" {
		dsn, err := c.BuildPostgresDSN()
		if err != nil {
			return nil, fmt.Errorf("postgres configuration error: %w", err)
		}
		c.PostgresDSN = dsn
	}

	if c.DBAdapter == "sqlite" && c.SQLiteFile == "" {
		return nil, errors.New("SQLITE_FILE must be set when DB_ADAPTER=sqlite")
	}

	if _, err := strconv.Atoi(c.Port); err != nil {
		return nil, fmt.Errorf("invalid PORT: %s", c.Port)
	}

	return c, nil
}
