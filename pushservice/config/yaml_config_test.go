// --- File: pushservice/config/yaml_config_test.go ---
package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-push-service/pushservice/config"
	"gopkg.in/yaml.v3"
)

func TestNewConfigFromYaml(t *testing.T) {
	logger := newTestLogger()

	t.Run("Success - maps all fields correctly", func(t *testing.T) {
		yamlCfg := &config.YamlConfig{
			ListenAddr:            ":9000",
			ProviderTimeout:       "2s",
			MaxBodyBytes:          4096,
			AllowPartialProviders: true,
			MetricsEnabled:        true,
			DeadTokenTTL:          "48h",
			CorsConfig: config.YamlCorsConfig{
				AllowedOrigins: []string{"http://yaml.com"},
				Role:           "editor",
			},
			FCMConfig: config.YamlFCMConfig{
				ServerKey: "yaml-server-key",
				Endpoint:  "http://fcm.local/send",
			},
			APNSConfig: config.YamlAPNSConfig{
				KeyID:      "yaml-key",
				TeamID:     "yaml-team",
				BundleID:   "com.yaml.app",
				Production: true,
			},
			VapidConfig: config.YamlVapidConfig{
				PublicKey:       "yaml-public-key",
				PrivateKey:      "yaml-private-key",
				SubscriberEmail: "yaml@test.com",
			},
			RedisConfig: config.YamlRedisConfig{Addr: "redis:6379", DB: 2, Enabled: true},
		}

		cfg, err := config.NewConfigFromYaml(yamlCfg, logger)

		require.NoError(t, err)
		require.NotNil(t, cfg)

		// 1. Direct Field Mapping
		assert.Equal(t, ":9000", cfg.ListenAddr)
		assert.Equal(t, 2*time.Second, cfg.ProviderTimeout)
		assert.Equal(t, int64(4096), cfg.MaxBodyBytes)
		assert.True(t, cfg.AllowPartialProviders)
		assert.True(t, cfg.MetricsEnabled)
		assert.Equal(t, 48*time.Hour, cfg.DeadTokenTTL)

		// 2. Complex Logic: CORS
		assert.Equal(t, []string{"http://yaml.com"}, cfg.CorsConfig.AllowedOrigins)
		assert.Equal(t, middleware.CorsRoleEditor, cfg.CorsConfig.Role)

		// 3. Providers
		assert.Equal(t, "yaml-server-key", cfg.FCM.ServerKey)
		assert.Equal(t, "http://fcm.local/send", cfg.FCM.Endpoint)
		assert.Equal(t, "com.yaml.app", cfg.APNS.BundleID)
		assert.True(t, cfg.APNS.Production)
		assert.Equal(t, "yaml-public-key", cfg.Vapid.PublicKey)
		assert.Equal(t, "yaml@test.com", cfg.Vapid.SubscriberEmail)
		assert.Equal(t, "redis:6379", cfg.Redis.Addr)
		assert.Equal(t, 2, cfg.Redis.DB)
	})

	t.Run("Success - Handles missing optional fields gracefully", func(t *testing.T) {
		cfg, err := config.NewConfigFromYaml(&config.YamlConfig{}, logger)

		require.NoError(t, err)
		assert.Empty(t, cfg.ListenAddr)
		assert.Zero(t, cfg.ProviderTimeout)
		assert.Empty(t, cfg.Vapid.PublicKey)
	})

	t.Run("Failure - bad duration", func(t *testing.T) {
		_, err := config.NewConfigFromYaml(&config.YamlConfig{ProviderTimeout: "five seconds"}, logger)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "provider_timeout")
	})

	t.Run("Success - unmarshals yaml document", func(t *testing.T) {
		raw := []byte(`
listen_addr: ":7000"
provider_timeout: "1500ms"
apns:
  key_id: "ABC"
  production: true
fcm:
  project_id: "my-project"
`)
		var yamlCfg config.YamlConfig
		require.NoError(t, yaml.Unmarshal(raw, &yamlCfg))

		cfg, err := config.NewConfigFromYaml(&yamlCfg, logger)
		require.NoError(t, err)
		assert.Equal(t, ":7000", cfg.ListenAddr)
		assert.Equal(t, 1500*time.Millisecond, cfg.ProviderTimeout)
		assert.Equal(t, "ABC", cfg.APNS.KeyID)
		assert.True(t, cfg.APNS.Production)
		assert.Equal(t, "my-project", cfg.FCM.ProjectID)
	})
}
