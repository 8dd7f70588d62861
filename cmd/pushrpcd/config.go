package main

import (
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// Config is the daemon's environment-driven configuration. Every field has
// a usable default so the daemon runs standalone with no environment at all.
type Config struct {
	Addr     string `env:"PUSHRPC_ADDR,default=127.0.0.1:8080"`
	Identity string `env:"PUSHRPC_IDENTITY,default=pushrpcd"`

	SessionIdleTimeout time.Duration `env:"PUSHRPC_SESSION_IDLE_TIMEOUT,default=30m"`
	VerboseErrors      bool          `env:"PUSHRPC_VERBOSE_ERRORS,default=false"`
	LogLevel           string        `env:"PUSHRPC_LOG_LEVEL,default=info"`

	// RedisAddr switches the broker from in-process to Redis pub/sub so
	// broadcasts reach sessions on other nodes.
	RedisAddr string `env:"REDIS_ADDR"`

	// GrantsFile points at a hot-reloaded JSON permission table.
	GrantsFile string `env:"PUSHRPC_GRANTS_FILE"`

	// OIDC settings enable the auth.login method. Both must be set.
	OIDCIssuer   string `env:"OIDC_ISSUER"`
	OIDCAudience string `env:"OIDC_AUDIENCE"`
}

// loadConfig reads .env if present, then the process environment.
func loadConfig() Config {
	_ = godotenv.Load()

	var cfg Config
	_ = envdecode.Decode(&cfg)
	return cfg
}
