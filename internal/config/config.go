package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/pflag"
)

// LogLevel is the set of verbosity levels accepted by --log-level.
type LogLevel string

const (
	LogOff   LogLevel = "off"
	LogError LogLevel = "error"
	LogWarn  LogLevel = "warn"
	LogInfo  LogLevel = "info"
	LogDebug LogLevel = "debug"
	LogTrace LogLevel = "trace"
)

func (l LogLevel) valid() bool {
	switch l {
	case LogOff, LogError, LogWarn, LogInfo, LogDebug, LogTrace:
		return true
	}
	return false
}

// Config is the server configuration surface (§6 CLI).
type Config struct {
	DatabaseURL      string
	JWTSecret        []byte
	AllowRegistration bool
	Bind             string
	LogLevel         LogLevel
}

// Flags registers the server's flag surface onto fs. Call LoadConfig
// after fs.Parse to resolve flags against their environment fallbacks
// and validate the result.
func Flags(fs *pflag.FlagSet) {
	fs.String("database-url", "", "Postgres connection string (env DATABASE_URL)")
	fs.String("jwt-secret", "", "secret used to sign session tokens (env JWT_SECRET)")
	fs.Bool("allow-registration", false, "accept POST /api/register")
	fs.String("bind", "0.0.0.0:3000", "address to listen on")
	fs.String("log-level", "info", "off|error|warn|info|debug|trace")
}

// LoadConfig resolves a Config from parsed flags, falling back to
// environment variables for database-url and jwt-secret as §6 allows,
// then validates the result.
func LoadConfig(fs *pflag.FlagSet) (*Config, error) {
	dbURL, _ := fs.GetString("database-url")
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}

	secret, _ := fs.GetString("jwt-secret")
	if secret == "" {
		secret = os.Getenv("JWT_SECRET")
	}

	allowRegistration, _ := fs.GetBool("allow-registration")
	bind, _ := fs.GetString("bind")
	logLevel, _ := fs.GetString("log-level")

	cfg := &Config{
		DatabaseURL:       dbURL,
		JWTSecret:         []byte(secret),
		AllowRegistration: allowRegistration,
		Bind:              bind,
		LogLevel:          LogLevel(logLevel),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate centralizes the invariant checks a config-or-DB error
// should surface before the server binds a socket (§6: "Exit codes: 0
// on clean shutdown; 1 on config or DB error").
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database-url (or DATABASE_URL) is required")
	}

	if len(c.JWTSecret) == 0 {
		return errors.New("jwt-secret (or JWT_SECRET) is required")
	}

	if c.Bind == "" {
		return errors.New("bind address cannot be empty")
	}

	if !c.LogLevel.valid() {
		return fmt.Errorf("invalid log-level %q: want one of off|error|warn|info|debug|trace", c.LogLevel)
	}

	return nil
}
