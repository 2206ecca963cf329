// --- File: cmd/pushservice/runpushservice.go ---
package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	firebase "firebase.google.com/go/v4"
	"github.com/joho/godotenv"
	"google.golang.org/api/option"
	"gopkg.in/yaml.v3"

	"github.com/tinywideclouds/go-push-service/internal/metrics"
	"github.com/tinywideclouds/go-push-service/internal/platform/apns"
	"github.com/tinywideclouds/go-push-service/internal/platform/fcm"
	"github.com/tinywideclouds/go-push-service/internal/platform/fcmlegacy"
	"github.com/tinywideclouds/go-push-service/internal/platform/web"
	"github.com/tinywideclouds/go-push-service/internal/storage/cache"
	"github.com/tinywideclouds/go-push-service/pkg/dispatch"
	"github.com/tinywideclouds/go-push-service/pushservice"
	"github.com/tinywideclouds/go-push-service/pushservice/config"
)

//go:embed local.yaml
var configFile []byte

func main() {
	// Local development only; in deployment the environment is already set.
	_ = godotenv.Load()

	var logLevel slog.Level
	switch os.Getenv("LOG_LEVEL") {
	case "debug", "DEBUG":
		logLevel = slog.LevelDebug
	case "info", "INFO":
		logLevel = slog.LevelInfo
	case "warn", "WARN":
		logLevel = slog.LevelWarn
	case "error", "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})).With("service", "go-push-service")
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Config Loading ---
	var yamlCfg config.YamlConfig
	if err := yaml.Unmarshal(configFile, &yamlCfg); err != nil {
		logger.Error("Failed to unmarshal embedded yaml config", "err", err)
		os.Exit(1)
	}
	baseCfg, err := config.NewConfigFromYaml(&yamlCfg, logger)
	if err != nil {
		logger.Error("Config failed", "err", err)
		os.Exit(1)
	}
	cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)
	if err != nil {
		logger.Error("Config failed", "err", err)
		os.Exit(1)
	}

	// --- Dispatchers ---
	registry, err := newRegistry(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize provider adapters", "err", err)
		os.Exit(1)
	}

	// --- Dead Token Registry (Decorated) ---
	var closers []io.Closer
	if cfg.Redis.Enabled {
		logger.Info("Initializing Redis dead token registry...", "addr", cfg.Redis.Addr)
		redisClient, err := cache.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Error("Failed to connect to Redis", "err", err)
			os.Exit(1)
		}
		closers = append(closers, redisClient)
		for platform, d := range registry {
			registry[platform] = cache.NewDeadTokenFilter(d, redisClient, platform, cfg.DeadTokenTTL, logger)
		}
		logger.Info("Dispatchers upgraded", "type", "redis_dead_token_filter")
	}

	var recorder *metrics.Recorder
	if cfg.MetricsEnabled {
		recorder = metrics.New()
	}

	// --- Service ---
	service, err := pushservice.New(cfg, registry, recorder, logger, closers...)
	if err != nil {
		logger.Error("Service creation failed", "err", err)
		os.Exit(1)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting service...", "addr", cfg.ListenAddr)
		errCh <- service.Start(ctx)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Service shutdown with error", "err", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := service.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", "err", err)
		os.Exit(1)
	}
}

// newRegistry builds one adapter per configured platform. A provider that is
// configured but fails to initialize is fatal unless partial providers are allowed.
func newRegistry(ctx context.Context, cfg *config.Config, logger *slog.Logger) (dispatch.Registry, error) {
	registry := dispatch.Registry{}
	providerClient := &http.Client{Timeout: cfg.ProviderTimeout}

	fail := func(platform dispatch.Platform, err error) error {
		if cfg.AllowPartialProviders {
			logger.Warn("Provider disabled", "platform", platform, "err", err)
			return nil
		}
		return fmt.Errorf("%s: %w", platform, err)
	}

	// A. Android (FCM)
	switch {
	case cfg.FCM.ProjectID != "":
		var opts []option.ClientOption
		if cfg.FCM.CredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(cfg.FCM.CredentialsFile))
		}
		messagingClient, err := newFirebaseMessaging(ctx, cfg.FCM.ProjectID, opts...)
		if err != nil {
			if err := fail(dispatch.PlatformAndroid, err); err != nil {
				return nil, err
			}
			break
		}
		registry[dispatch.PlatformAndroid] = fcm.NewDispatcher(messagingClient, logger)
		logger.Info("Android dispatcher enabled", "type", "fcm_v1", "project_id", cfg.FCM.ProjectID)
	case cfg.FCM.ServerKey != "":
		registry[dispatch.PlatformAndroid] = fcmlegacy.NewDispatcher(fcmlegacy.Config{
			ServerKey: cfg.FCM.ServerKey,
			Endpoint:  cfg.FCM.Endpoint,
		}, providerClient, logger)
		logger.Info("Android dispatcher enabled", "type", "fcm_legacy")
	}

	// B. iOS (APNS)
	if cfg.APNS.Configured() {
		apnsDispatcher, err := newAPNS(cfg.APNS, logger)
		if err != nil {
			if err := fail(dispatch.PlatformIOS, err); err != nil {
				return nil, err
			}
		} else {
			registry[dispatch.PlatformIOS] = apnsDispatcher
			logger.Info("iOS dispatcher enabled", "production", cfg.APNS.Production, "bundle_id", cfg.APNS.BundleID)
		}
	}

	// C. Web (VAPID)
	if cfg.Vapid.Configured() {
		registry[dispatch.PlatformWeb] = web.NewDispatcher(web.Config{
			PublicKey:       cfg.Vapid.PublicKey,
			PrivateKey:      cfg.Vapid.PrivateKey,
			SubscriberEmail: cfg.Vapid.SubscriberEmail,
		}, providerClient, logger)
		logger.Info("Web dispatcher enabled")
	} else {
		logger.Warn("VAPID keys missing in configuration. Web tokens will be reported as unsupported.")
	}

	return registry, nil
}

func newFirebaseMessaging(ctx context.Context, projectID string, opts ...option.ClientOption) (fcm.MessagingClient, error) {
	fbApp, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase App: %w", err)
	}
	fcmMessaging, err := fbApp.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create FCM messaging client: %w", err)
	}
	return fcmMessaging, nil
}

func newAPNS(cfg config.APNSConfig, logger *slog.Logger) (*apns.Dispatcher, error) {
	key, err := cfg.KeyContent()
	if err != nil {
		return nil, err
	}
	return apns.NewDispatcher(apns.Config{
		KeyID:        cfg.KeyID,
		TeamID:       cfg.TeamID,
		BundleID:     cfg.BundleID,
		P8KeyContent: key,
		Production:   cfg.Production,
	}, logger)
}
