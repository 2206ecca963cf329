// Package web delivers browser notifications through VAPID Web Push.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/tinywideclouds/go-push-service/pkg/dispatch"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency bounds the in-flight pushes of one batch.
const DefaultConcurrency = 16

// DefaultTTL is how long (seconds) the push service keeps an undelivered message.
const DefaultTTL = 60

var errMalformedSubscription = errors.New("web: malformed push subscription")

// HTTPClient is the subset of *http.Client used to reach push services.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config holds the VAPID identity of this server.
type Config struct {
	PublicKey       string
	PrivateKey      string
	SubscriberEmail string
	TTL             int
	Concurrency     int
}

type Dispatcher struct {
	subscriber  string
	privateKey  string
	publicKey   string
	ttl         int
	concurrency int
	logger      *slog.Logger
	httpClient  HTTPClient
}

func NewDispatcher(cfg Config, client HTTPClient, logger *slog.Logger) *Dispatcher {
	if client == nil {
		client = &http.Client{}
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Dispatcher{
		privateKey:  cfg.PrivateKey,
		publicKey:   cfg.PublicKey,
		subscriber:  cfg.SubscriberEmail,
		ttl:         ttl,
		concurrency: concurrency,
		logger:      logger.With("component", "WebPushDispatcher"),
		httpClient:  client,
	}
}

// Send encrypts and posts the notification to every subscription in the batch.
// Each token is a serialized browser PushSubscription.
func (d *Dispatcher) Send(ctx context.Context, tokens []string, n dispatch.Notification) []dispatch.DeliveryOutcome {
	// 1. Prepare Payload (Standard JSON structure)
	payloadBytes, err := json.Marshal(map[string]any{
		"notification": map[string]string{
			"title": n.Title,
			"body":  n.Body,
		},
		"data": n.Data(),
	})
	if err != nil {
		return dispatch.FailAll(tokens, dispatch.PlatformWeb, fmt.Errorf("web: failed to marshal payload: %w", err))
	}

	outcomes := make([]dispatch.DeliveryOutcome, len(tokens))
	g := new(errgroup.Group)
	g.SetLimit(d.concurrency)
	for idx, raw := range tokens {
		g.Go(func() error {
			outcomes[idx] = d.push(ctx, raw, payloadBytes)
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

func (d *Dispatcher) push(ctx context.Context, raw string, payloadBytes []byte) dispatch.DeliveryOutcome {
	// 2. Decode the subscription; a token we cannot parse will never work.
	sub, err := parseSubscription(raw)
	if err != nil {
		return dispatch.Invalid(raw, dispatch.PlatformWeb, err)
	}

	// 3. Send via webpush-go
	resp, err := webpush.SendNotificationWithContext(ctx, payloadBytes, sub, &webpush.Options{
		Subscriber:      d.subscriber,
		VAPIDPublicKey:  d.publicKey,
		VAPIDPrivateKey: d.privateKey,
		TTL:             d.ttl,
		HTTPClient:      d.httpClient,
	})
	if err != nil {
		// Transport error (DNS, Timeout) - the subscription may still be fine.
		err = dispatch.RedactURL(err)
		d.logger.Warn("WebPush transport error", "push_host", hostOf(sub.Endpoint), "err", err)
		return dispatch.Failed(raw, dispatch.PlatformWeb, fmt.Errorf("%w: web: %v", dispatch.ErrProviderTransport, err))
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	// 4. Handle Response Codes
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return dispatch.Sent(raw, dispatch.PlatformWeb)
	case resp.StatusCode == http.StatusGone, resp.StatusCode == http.StatusNotFound:
		// 410 Gone / 404 Not Found -> subscription expired or was revoked.
		return dispatch.Invalid(raw, dispatch.PlatformWeb, fmt.Errorf("web: received status %d", resp.StatusCode))
	default:
		d.logger.Warn("WebPush rejected", "status", resp.StatusCode, "push_host", hostOf(sub.Endpoint))
		return dispatch.Failed(raw, dispatch.PlatformWeb, fmt.Errorf("web: received status %d", resp.StatusCode))
	}
}

func parseSubscription(raw string) (*webpush.Subscription, error) {
	var sub webpush.Subscription
	if err := json.Unmarshal([]byte(raw), &sub); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformedSubscription, err)
	}
	if sub.Endpoint == "" || sub.Keys.P256dh == "" || sub.Keys.Auth == "" {
		return nil, fmt.Errorf("%w: endpoint and keys are required", errMalformedSubscription)
	}
	if u, err := url.Parse(sub.Endpoint); err != nil || u.Host == "" {
		return nil, fmt.Errorf("%w: endpoint is not an absolute url", errMalformedSubscription)
	}
	return &sub, nil
}

// hostOf keeps the push service host for logs; the full endpoint identifies the device.
func hostOf(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil {
		return ""
	}
	return u.Host
}
