// --- File: internal/platform/apns/apnsdispatcher.go ---
// Package apns provides the client for the Apple Push Notification Service.
package apns

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"
	"github.com/tinywideclouds/go-push-service/pkg/dispatch"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency bounds the in-flight pushes of one batch.
const DefaultConcurrency = 16

// APNSClient defines the subset of the apns2.Client methods we use.
// This allows mocking for unit tests.
type APNSClient interface {
	PushWithContext(ctx context.Context, n *apns2.Notification) (*apns2.Response, error)
}

// tokenClient adapts *apns2.Client, whose PushWithContext takes apns2.Context.
type tokenClient struct {
	client *apns2.Client
}

func (c tokenClient) PushWithContext(ctx context.Context, n *apns2.Notification) (*apns2.Response, error) {
	return c.client.PushWithContext(ctx, n)
}

type Dispatcher struct {
	client      APNSClient
	topic       string // The App Bundle ID (e.g. com.tinywide.messenger)
	concurrency int
	logger      *slog.Logger
}

// Config holds the credentials required to sign APNs tokens.
type Config struct {
	KeyID    string
	TeamID   string
	BundleID string
	// P8KeyContent is the raw string content of the .p8 file
	P8KeyContent string
	// Production selects api.push.apple.com; otherwise the sandbox gateway is used.
	Production  bool
	Concurrency int
}

// NewDispatcher creates a configured APNS dispatcher.
// It parses the P8 key immediately to fail fast on startup if credentials are bad.
func NewDispatcher(cfg Config, logger *slog.Logger) (*Dispatcher, error) {
	if cfg.KeyID == "" || cfg.TeamID == "" || cfg.BundleID == "" {
		return nil, fmt.Errorf("apns: key id, team id and bundle id are required")
	}
	authKey, err := token.AuthKeyFromBytes([]byte(cfg.P8KeyContent))
	if err != nil {
		return nil, fmt.Errorf("failed to parse APNs P8 key: %w", err)
	}

	tokenSource := &token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	}

	client := apns2.NewTokenClient(tokenSource)
	if cfg.Production {
		client = client.Production()
	} else {
		client = client.Development()
	}

	return newDispatcher(tokenClient{client: client}, cfg.BundleID, cfg.Concurrency, logger), nil
}

func newDispatcher(client APNSClient, topic string, concurrency int, logger *slog.Logger) *Dispatcher {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Dispatcher{
		client:      client,
		topic:       topic,
		concurrency: concurrency,
		logger:      logger.With("component", "APNSDispatcher"),
	}
}

// Send pushes the notification to a batch of APNs tokens.
// Note: APNs HTTP/2 API is unary (one request per token). There is no "Multicast" endpoint,
// so the batch is multiplexed over the shared connection with bounded concurrency.
func (d *Dispatcher) Send(ctx context.Context, tokens []string, n dispatch.Notification) []dispatch.DeliveryOutcome {
	outcomes := make([]dispatch.DeliveryOutcome, len(tokens))

	// 1. Build Payload once; it is only read by the pushes.
	builder := payload.NewPayload().
		AlertTitle(n.Title).
		AlertBody(n.Body).
		Sound("default")
	for k, v := range n.Data() {
		builder.Custom(k, v)
	}

	g := new(errgroup.Group)
	g.SetLimit(d.concurrency)
	for idx, deviceToken := range tokens {
		g.Go(func() error {
			outcomes[idx] = d.push(ctx, deviceToken, builder)
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

func (d *Dispatcher) push(ctx context.Context, deviceToken string, p *payload.Payload) dispatch.DeliveryOutcome {
	notification := &apns2.Notification{
		DeviceToken: deviceToken,
		Topic:       d.topic,
		Payload:     p,
		PushType:    apns2.PushTypeAlert,
		Priority:    apns2.PriorityHigh,
	}

	// 2. Send (HTTP/2)
	res, err := d.client.PushWithContext(ctx, notification)
	if err != nil {
		// Network/Transport Failure
		err = dispatch.RedactURL(err)
		d.logger.Warn("APNs transport failed", "err", err)
		return dispatch.Failed(deviceToken, dispatch.PlatformIOS, fmt.Errorf("%w: apns: %v", dispatch.ErrProviderTransport, err))
	}
	if res == nil {
		return dispatch.Failed(deviceToken, dispatch.PlatformIOS, fmt.Errorf("%w: apns: empty response", dispatch.ErrProviderTransport))
	}

	// 3. Handle Response Codes
	if res.Sent() {
		return dispatch.Sent(deviceToken, dispatch.PlatformIOS)
	}

	// See: https://developer.apple.com/documentation/usernotifications/setting_up_a_remote_notification_server/handling_notification_responses_from_apns
	reason := fmt.Errorf("apns: %d %s", res.StatusCode, res.Reason)
	switch res.Reason {
	case apns2.ReasonBadDeviceToken, apns2.ReasonUnregistered, apns2.ReasonDeviceTokenNotForTopic:
		// Token is dead.
		return dispatch.Invalid(deviceToken, dispatch.PlatformIOS, reason)
	default:
		// TopicDisallowed, PayloadEmpty etc. point at our configuration, not the token.
		d.logger.Warn("APNs rejected notification", "reason", res.Reason, "status", res.StatusCode)
		return dispatch.Failed(deviceToken, dispatch.PlatformIOS, reason)
	}
}
