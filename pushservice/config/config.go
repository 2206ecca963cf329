// --- File: pushservice/config/config.go ---
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

const (
	DefaultListenAddr      = ":8080"
	DefaultProviderTimeout = 5 * time.Second
	DefaultMaxBodyBytes    = int64(1 << 20)
	DefaultDeadTokenTTL    = 7 * 24 * time.Hour
)

// FCMConfig selects the Android provider. A ProjectID uses the Firebase Admin SDK;
// otherwise a ServerKey uses the legacy HTTP API.
type FCMConfig struct {
	ServerKey       string
	Endpoint        string
	ProjectID       string
	CredentialsFile string
}

func (c FCMConfig) Configured() bool {
	return c.ProjectID != "" || c.ServerKey != ""
}

type APNSConfig struct {
	KeyID    string
	TeamID   string
	BundleID string
	// PrivateKey is the .p8 content; PrivateKeyFile is read when it is empty.
	PrivateKey     string
	PrivateKeyFile string
	Production     bool
}

func (c APNSConfig) Configured() bool {
	return c.KeyID != "" && c.TeamID != "" && c.BundleID != "" && (c.PrivateKey != "" || c.PrivateKeyFile != "")
}

// KeyContent returns the .p8 key, loading it from PrivateKeyFile if needed.
func (c APNSConfig) KeyContent() (string, error) {
	if c.PrivateKey != "" {
		return c.PrivateKey, nil
	}
	if c.PrivateKeyFile == "" {
		return "", fmt.Errorf("apns private key is not configured")
	}
	raw, err := os.ReadFile(c.PrivateKeyFile)
	if err != nil {
		return "", fmt.Errorf("failed to read apns private key file: %w", err)
	}
	return string(raw), nil
}

type VapidConfig struct {
	PublicKey       string
	PrivateKey      string
	SubscriberEmail string
}

func (c VapidConfig) Configured() bool {
	return c.PublicKey != "" && c.PrivateKey != ""
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

// Config defines the *single*, authoritative configuration.
type Config struct {
	ListenAddr            string
	ProviderTimeout       time.Duration
	MaxBodyBytes          int64
	AllowPartialProviders bool
	MetricsEnabled        bool
	DeadTokenTTL          time.Duration

	CorsConfig middleware.CorsConfig
	FCM        FCMConfig
	APNS       APNSConfig
	Vapid      VapidConfig
	Redis      RedisConfig
}

// UpdateConfigWithEnvOverrides applies environment variables and final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	// 1. Apply Environment Overrides
	if val := os.Getenv("PORT"); val != "" {
		logger.Debug("Overriding config value", "key", "PORT", "source", "env")
		cfg.ListenAddr = ":" + val
	}
	if val := os.Getenv("PROVIDER_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil && d > 0 {
			logger.Debug("Overriding config value", "key", "PROVIDER_TIMEOUT", "source", "env")
			cfg.ProviderTimeout = d
		} else {
			logger.Warn("Ignoring invalid env value", "key", "PROVIDER_TIMEOUT")
		}
	}
	if val := os.Getenv("MAX_BODY_BYTES"); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil && n > 0 {
			logger.Debug("Overriding config value", "key", "MAX_BODY_BYTES", "source", "env")
			cfg.MaxBodyBytes = n
		}
	}
	if val := os.Getenv("ALLOW_PARTIAL_PROVIDERS"); val != "" {
		allow, _ := strconv.ParseBool(val)
		cfg.AllowPartialProviders = allow
	}
	if val := os.Getenv("METRICS_ENABLED"); val != "" {
		enabled, _ := strconv.ParseBool(val)
		cfg.MetricsEnabled = enabled
	}

	// FCM Overrides
	if val := os.Getenv("FCM_SERVER_KEY"); val != "" {
		logger.Debug("Overriding config value", "key", "FCM_SERVER_KEY", "source", "env")
		cfg.FCM.ServerKey = val
	}
	if val := os.Getenv("FCM_ENDPOINT"); val != "" {
		cfg.FCM.Endpoint = val
	}
	if val := os.Getenv("FCM_PROJECT_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "FCM_PROJECT_ID", "source", "env")
		cfg.FCM.ProjectID = val
	}
	if val := os.Getenv("FCM_CREDENTIALS_FILE"); val != "" {
		cfg.FCM.CredentialsFile = val
	}

	// APNS Overrides
	if val := os.Getenv("APNS_KEY_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "APNS_KEY_ID", "source", "env")
		cfg.APNS.KeyID = val
	}
	if val := os.Getenv("APNS_TEAM_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "APNS_TEAM_ID", "source", "env")
		cfg.APNS.TeamID = val
	}
	if val := os.Getenv("APNS_BUNDLE_ID"); val != "" {
		cfg.APNS.BundleID = val
	}
	if val := os.Getenv("APNS_PRIVATE_KEY"); val != "" {
		logger.Debug("Overriding config value", "key", "APNS_PRIVATE_KEY", "source", "env")
		cfg.APNS.PrivateKey = val
	}
	if val := os.Getenv("APNS_PRIVATE_KEY_FILE"); val != "" {
		cfg.APNS.PrivateKeyFile = val
	}
	if val := os.Getenv("APNS_PRODUCTION"); val != "" {
		production, _ := strconv.ParseBool(val)
		cfg.APNS.Production = production
	}

	// VAPID Overrides
	if val := os.Getenv("VAPID_PUBLIC_KEY"); val != "" {
		logger.Debug("Overriding config value", "key", "VAPID_PUBLIC_KEY", "source", "env")
		cfg.Vapid.PublicKey = val
	}
	if val := os.Getenv("VAPID_PRIVATE_KEY"); val != "" {
		logger.Debug("Overriding config value", "key", "VAPID_PRIVATE_KEY", "source", "env")
		cfg.Vapid.PrivateKey = val
	}
	if val := os.Getenv("VAPID_SUB_EMAIL"); val != "" {
		logger.Debug("Overriding config value", "key", "VAPID_SUB_EMAIL", "source", "env")
		cfg.Vapid.SubscriberEmail = val
	}

	// Redis Overrides
	if val := os.Getenv("REDIS_ADDR"); val != "" {
		cfg.Redis.Addr = val
		cfg.Redis.Enabled = true
	}
	if val := os.Getenv("REDIS_PASSWORD"); val != "" {
		cfg.Redis.Password = val
	}
	if val := os.Getenv("REDIS_DB"); val != "" {
		if db, err := strconv.Atoi(val); err == nil {
			cfg.Redis.DB = db
		}
	}
	if val := os.Getenv("REDIS_ENABLED"); val != "" {
		enabled, _ := strconv.ParseBool(val)
		cfg.Redis.Enabled = enabled
	}
	if val := os.Getenv("DEAD_TOKEN_TTL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil && d > 0 {
			cfg.DeadTokenTTL = d
		}
	}

	// CORS Overrides
	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		logger.Debug("Overriding config value", "key", "CORS_ALLOWED_ORIGINS", "source", "env")
		rawOrigins := strings.Split(corsOrigins, ",")
		var cleanOrigins []string
		for _, o := range rawOrigins {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				cleanOrigins = append(cleanOrigins, trimmed)
			}
		}
		cfg.CorsConfig.AllowedOrigins = cleanOrigins
	}

	// 2. Defaults
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = DefaultProviderTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.DeadTokenTTL <= 0 {
		cfg.DeadTokenTTL = DefaultDeadTokenTTL
	}

	// 3. Final Validation
	if cfg.Redis.Enabled && cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis.addr is required when redis is enabled (set via YAML or REDIS_ADDR env var)")
	}
	if missing := cfg.MissingProviderOptions(); len(missing) > 0 {
		if !cfg.AllowPartialProviders {
			return nil, fmt.Errorf("missing required provider options: %s (set ALLOW_PARTIAL_PROVIDERS=true to start without them)", strings.Join(missing, ", "))
		}
		logger.Warn("Starting with partial providers", "missing", strings.Join(missing, ", "))
	}

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}

// MissingProviderOptions names every unset option the Android and iOS providers require.
func (c *Config) MissingProviderOptions() []string {
	var missing []string
	if !c.FCM.Configured() {
		missing = append(missing, "fcm_server_key (or fcm.project_id)")
	}
	if c.APNS.KeyID == "" {
		missing = append(missing, "apns_key_id")
	}
	if c.APNS.TeamID == "" {
		missing = append(missing, "apns_team_id")
	}
	if c.APNS.BundleID == "" {
		missing = append(missing, "apns_bundle_id")
	}
	if c.APNS.PrivateKey == "" && c.APNS.PrivateKeyFile == "" {
		missing = append(missing, "apns_private_key (or apns_private_key_file)")
	}
	return missing
}
