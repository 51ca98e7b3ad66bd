package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// HTTP
	Addr           string
	RequestTimeout time.Duration
	MaxBodyBytes   int64
	CORSOrigins    []string
	RegisterRate   int // registrations per minute per IP

	// DB
	DatabaseDriver string // sqlite | postgres
	DatabaseURL    string
	LogSQL         bool

	// Device registry / transport
	InternalToken string
	Cipher        string

	// Event store
	EventStore    string // sql | elasticsearch
	ESAddresses   []string
	ESUsername    string
	ESPassword    string
	ESIndexPrefix string

	// Operator API tokens
	AdminPrivateKey string
	AdminKeyID      string
	AdminIssuer     string
	AdminTokenTTL   time.Duration

	Environment string
	LogLevel    string
}

// Load reads the environment, after applying an optional .env file in the
// working directory (or the file named by HUB_ENV_FILE).
func Load() (Config, error) {
	envFile := getenv("HUB_ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load %s: %w", envFile, err)
	}

	cfg := Config{
		Addr:           getenv("HUB_ADDR", ":5000"),
		RequestTimeout: getdur("HUB_REQUEST_TIMEOUT", 30*time.Second),
		MaxBodyBytes:   int64(getint("HUB_MAX_BODY_BYTES", 1<<20)),
		CORSOrigins:    getlist("HUB_CORS_ORIGINS"),
		RegisterRate:   getint("HUB_REGISTER_RATE", 60),

		DatabaseDriver: getenv("HUB_DATABASE_DRIVER", "sqlite"),
		DatabaseURL:    getenv("HUB_DATABASE_URL", "file:hub.db?_busy_timeout=5000"),
		LogSQL:         getbool("HUB_DB_LOG_SQL", false),

		InternalToken: os.Getenv("HUB_INTERNAL_TOKEN"),
		Cipher:        getenv("HUB_CIPHER", "aes-256-gcm"),

		EventStore:    getenv("HUB_EVENT_STORE", "sql"),
		ESAddresses:   getlist("HUB_ES_ADDRESSES"),
		ESUsername:    os.Getenv("HUB_ES_USERNAME"),
		ESPassword:    os.Getenv("HUB_ES_PASSWORD"),
		ESIndexPrefix: os.Getenv("HUB_ES_INDEX_PREFIX"),

		AdminPrivateKey: os.Getenv("HUB_ADMIN_PRIVATE_KEY"),
		AdminKeyID:      getenv("HUB_ADMIN_KEY_ID", "hub-admin-1"),
		AdminIssuer:     getenv("HUB_ADMIN_ISSUER", "ids-hub"),
		AdminTokenTTL:   getdur("HUB_ADMIN_TOKEN_TTL", 12*time.Hour),

		Environment: getenv("ENVIRONMENT", "dev"),
		LogLevel:    os.Getenv("LOG_LEVEL"),
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if c.InternalToken == "" {
		return errors.New("HUB_INTERNAL_TOKEN is required")
	}
	switch c.DatabaseDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported HUB_DATABASE_DRIVER %q", c.DatabaseDriver)
	}
	switch c.EventStore {
	case "sql":
	case "elasticsearch":
		if len(c.ESAddresses) == 0 {
			return errors.New("HUB_ES_ADDRESSES is required for the elasticsearch event store")
		}
	default:
		return fmt.Errorf("unsupported HUB_EVENT_STORE %q", c.EventStore)
	}
	return nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
		slog.Warn("invalid bool, using default", "key", k, "value", v, "default", def)
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		slog.Warn("invalid int, using default", "key", k, "value", v, "default", def)
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		slog.Warn("invalid duration, using default", "key", k, "value", v, "default", def)
	}
	return def
}

func getlist(k string) []string {
	var out []string
	for _, s := range strings.Split(os.Getenv(k), ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
