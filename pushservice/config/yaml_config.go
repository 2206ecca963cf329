// --- File: pushservice/config/yaml_config.go ---
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

type YamlCorsConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	Role           string   `yaml:"role"`
}

type YamlFCMConfig struct {
	ServerKey       string `yaml:"server_key"`
	Endpoint        string `yaml:"endpoint"`
	ProjectID       string `yaml:"project_id"`
	CredentialsFile string `yaml:"credentials_file"`
}

type YamlAPNSConfig struct {
	KeyID          string `yaml:"key_id"`
	TeamID         string `yaml:"team_id"`
	BundleID       string `yaml:"bundle_id"`
	PrivateKey     string `yaml:"private_key"`
	PrivateKeyFile string `yaml:"private_key_file"`
	Production     bool   `yaml:"production"`
}

type YamlRedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Enabled  bool   `yaml:"enabled"`
}

type YamlVapidConfig struct {
	PublicKey       string `yaml:"public_key"`
	PrivateKey      string `yaml:"private_key"`
	SubscriberEmail string `yaml:"subscriber_email"`
}

// YamlConfig is the structure that mirrors the raw config.yaml file.
type YamlConfig struct {
	ListenAddr            string          `yaml:"listen_addr"`
	ProviderTimeout       string          `yaml:"provider_timeout"`
	MaxBodyBytes          int64           `yaml:"max_body_bytes"`
	AllowPartialProviders bool            `yaml:"allow_partial_providers"`
	MetricsEnabled        bool            `yaml:"metrics_enabled"`
	DeadTokenTTL          string          `yaml:"dead_token_ttl"`
	CorsConfig            YamlCorsConfig  `yaml:"cors"`
	FCMConfig             YamlFCMConfig   `yaml:"fcm"`
	APNSConfig            YamlAPNSConfig  `yaml:"apns"`
	VapidConfig           YamlVapidConfig `yaml:"vapid"`
	RedisConfig           YamlRedisConfig `yaml:"redis"`
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config struct.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	providerTimeout, err := parseOptionalDuration(baseCfg.ProviderTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid provider_timeout: %w", err)
	}
	deadTokenTTL, err := parseOptionalDuration(baseCfg.DeadTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("invalid dead_token_ttl: %w", err)
	}

	cfg := &Config{
		ListenAddr:            baseCfg.ListenAddr,
		ProviderTimeout:       providerTimeout,
		MaxBodyBytes:          baseCfg.MaxBodyBytes,
		AllowPartialProviders: baseCfg.AllowPartialProviders,
		MetricsEnabled:        baseCfg.MetricsEnabled,
		DeadTokenTTL:          deadTokenTTL,
		CorsConfig: middleware.CorsConfig{
			AllowedOrigins: baseCfg.CorsConfig.AllowedOrigins,
			Role:           middleware.CorsRole(baseCfg.CorsConfig.Role),
		},
		FCM: FCMConfig{
			ServerKey:       baseCfg.FCMConfig.ServerKey,
			Endpoint:        baseCfg.FCMConfig.Endpoint,
			ProjectID:       baseCfg.FCMConfig.ProjectID,
			CredentialsFile: baseCfg.FCMConfig.CredentialsFile,
		},
		APNS: APNSConfig{
			KeyID:          baseCfg.APNSConfig.KeyID,
			TeamID:         baseCfg.APNSConfig.TeamID,
			BundleID:       baseCfg.APNSConfig.BundleID,
			PrivateKey:     baseCfg.APNSConfig.PrivateKey,
			PrivateKeyFile: baseCfg.APNSConfig.PrivateKeyFile,
			Production:     baseCfg.APNSConfig.Production,
		},
		Vapid: VapidConfig{
			PublicKey:       baseCfg.VapidConfig.PublicKey,
			PrivateKey:      baseCfg.VapidConfig.PrivateKey,
			SubscriberEmail: baseCfg.VapidConfig.SubscriberEmail,
		},
		Redis: RedisConfig{
			Addr:     baseCfg.RedisConfig.Addr,
			Password: baseCfg.RedisConfig.Password,
			DB:       baseCfg.RedisConfig.DB,
			Enabled:  baseCfg.RedisConfig.Enabled,
		},
	}

	logger.Debug("YAML config mapping complete",
		"listen_addr", cfg.ListenAddr,
		"provider_timeout", cfg.ProviderTimeout,
		"allow_partial_providers", cfg.AllowPartialProviders,
	)

	return cfg, nil
}

func parseOptionalDuration(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	return time.ParseDuration(raw)
}
