package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	LocalDBUser string
	LocalDBPass string
	LocalDBHost string
	LocalDBPort string
	LocalDBName string
	LocalSSL    string

	// The authoritative store is a hosted Postgres reachable only while the
	// device is online, so it is configured as a single DSN.
	RemoteDSN string

	RedisHost string
	RedisPort string
	NatsHost  string
	NatsPort  string

	ApiPort    string
	ApiEnabled string

	PeerPort    string
	PeerEnabled string

	ProbeIntervalSec     int
	ReconcileIntervalSec int
	PeerTimeoutSec       int
}

// New loads and validates configuration from environment variables.
// The HTTP API and the peer listener are both optional: if the corresponding
// *_ENABLED var is not "true" the server simply is not started.
func New() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		LocalDBUser:          os.Getenv("WALLETD_POSTGRES_USER"),
		LocalDBPass:          os.Getenv("WALLETD_POSTGRES_PASSWORD"),
		LocalDBHost:          os.Getenv("WALLETD_POSTGRES_HOST"),
		LocalDBPort:          os.Getenv("WALLETD_POSTGRES_PORT"),
		LocalDBName:          os.Getenv("WALLETD_POSTGRES_DB"),
		LocalSSL:             os.Getenv("WALLETD_POSTGRES_SSLMODE"),
		RemoteDSN:            os.Getenv("WALLETD_REMOTE_DSN"),
		RedisHost:            os.Getenv("WALLETD_REDIS_HOST"),
		RedisPort:            os.Getenv("WALLETD_REDIS_PORT"),
		NatsHost:             os.Getenv("WALLETD_NATS_HOST"),
		NatsPort:             os.Getenv("WALLETD_NATS_PORT"),
		ApiPort:              os.Getenv("WALLETD_API_PORT"),
		ApiEnabled:           os.Getenv("WALLETD_API_ENABLED"),
		PeerPort:             os.Getenv("WALLETD_PEER_PORT"),
		PeerEnabled:          os.Getenv("WALLETD_PEER_ENABLED"),
		ProbeIntervalSec:     getEnvInt("WALLETD_PROBE_INTERVAL_SEC", 15),
		ReconcileIntervalSec: getEnvInt("WALLETD_RECONCILE_INTERVAL_SEC", 60),
		PeerTimeoutSec:       getEnvInt("WALLETD_PEER_TIMEOUT_SEC", 10),
	}

	// Required: local ledger database
	if cfg.LocalDBUser == "" || cfg.LocalDBHost == "" || cfg.LocalDBName == "" || cfg.LocalSSL == "" {
		return nil, fmt.Errorf("missing required env for local database: WALLETD_POSTGRES_USER/HOST/DB/SSLMODE")
	}

	// Required: authoritative remote store
	if cfg.RemoteDSN == "" {
		return nil, fmt.Errorf("missing required env: WALLETD_REMOTE_DSN")
	}

	// Required: redis (reconciliation run lock)
	if cfg.RedisHost == "" || cfg.RedisPort == "" {
		return nil, fmt.Errorf("missing required env for redis: WALLETD_REDIS_HOST/PORT")
	}

	// Required: nats (connectivity and reconcile triggers)
	if cfg.NatsHost == "" || cfg.NatsPort == "" {
		return nil, fmt.Errorf("missing required env for nats: WALLETD_NATS_HOST/PORT")
	}

	if cfg.PeerEnabled == "true" && cfg.PeerPort == "" {
		return nil, fmt.Errorf("WALLETD_PEER_PORT is required when WALLETD_PEER_ENABLED=true")
	}

	return cfg, nil
}

func (c *Config) LocalDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.LocalDBUser, c.LocalDBPass, c.LocalDBHost, c.LocalDBPort, c.LocalDBName, c.LocalSSL)
}

func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

func (c *Config) NatsAddr() string {
	return fmt.Sprintf("nats://%s:%s", c.NatsHost, c.NatsPort)
}

// ApiAddr returns the HTTP listen address if the API is enabled.
// Returns an error if WALLETD_API_ENABLED != "true" — callers should skip
// starting the HTTP server.
func (c *Config) ApiAddr() (string, error) {
	if c.ApiEnabled == "true" {
		if c.ApiPort == "" {
			return "", fmt.Errorf("WALLETD_API_PORT is required when WALLETD_API_ENABLED=true")
		}
		return ":" + c.ApiPort, nil
	}
	return "", fmt.Errorf("HTTP API is disabled (WALLETD_API_ENABLED != true)")
}

// PeerAddr returns the peer listener address if the listener is enabled.
func (c *Config) PeerAddr() (string, error) {
	if c.PeerEnabled == "true" {
		return ":" + c.PeerPort, nil
	}
	return "", fmt.Errorf("peer listener is disabled (WALLETD_PEER_ENABLED != true)")
}

func (c *Config) ProbeInterval() time.Duration {
	return time.Duration(c.ProbeIntervalSec) * time.Second
}

func (c *Config) ReconcileInterval() time.Duration {
	return time.Duration(c.ReconcileIntervalSec) * time.Second
}

func (c *Config) PeerTimeout() time.Duration {
	return time.Duration(c.PeerTimeoutSec) * time.Second
}

func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var intVal int
	if _, err := fmt.Sscanf(val, "%d", &intVal); err != nil {
		return defaultVal
	}
	return intVal
}
