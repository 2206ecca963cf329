// --- File: internal/platform/fcm/fcmdispatcher.go ---
// Package fcm delivers Android notifications through the Firebase Admin SDK (FCM HTTP v1).
package fcm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"firebase.google.com/go/v4/messaging"
	"github.com/tinywideclouds/go-push-service/pkg/dispatch"
)

// MaxTokensPerCall is the FCM multicast limit.
const MaxTokensPerCall = 500

// MessagingClient defines the subset of the Firebase Messaging API we use.
// This interface allows us to mock the client for unit testing.
type MessagingClient interface {
	SendEachForMulticast(ctx context.Context, msg *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

type Dispatcher struct {
	client MessagingClient
	logger *slog.Logger
}

// NewDispatcher accepts the concrete client but stores it as the interface.
// Note: *messaging.Client automatically satisfies this interface.
func NewDispatcher(client MessagingClient, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		client: client,
		logger: logger.With("component", "FCMDispatcher"),
	}
}

// Send issues one multicast per chunk of at most MaxTokensPerCall tokens.
func (d *Dispatcher) Send(ctx context.Context, tokens []string, n dispatch.Notification) []dispatch.DeliveryOutcome {
	outcomes := make([]dispatch.DeliveryOutcome, 0, len(tokens))
	for start := 0; start < len(tokens); start += MaxTokensPerCall {
		end := min(start+MaxTokensPerCall, len(tokens))
		outcomes = append(outcomes, d.sendChunk(ctx, tokens[start:end], n)...)
	}
	return outcomes
}

func (d *Dispatcher) sendChunk(ctx context.Context, tokens []string, n dispatch.Notification) []dispatch.DeliveryOutcome {
	msg := &messaging.MulticastMessage{
		Tokens: tokens,
		Data:   n.Data(),
		Notification: &messaging.Notification{
			Title: n.Title,
			Body:  n.Body,
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
	}

	br, err := d.client.SendEachForMulticast(ctx, msg)
	if err != nil {
		// Whole batch rejected: the SDK gives no per-token detail here.
		d.logger.Error("FCM multicast failed", "tokens", len(tokens), "err", err)
		return dispatch.FailAll(tokens, dispatch.PlatformAndroid, fmt.Errorf("%w: fcm: %v", dispatch.ErrProviderTransport, err))
	}
	if br == nil || len(br.Responses) != len(tokens) {
		d.logger.Error("FCM returned mismatched batch response", "tokens", len(tokens))
		return dispatch.FailAll(tokens, dispatch.PlatformAndroid, fmt.Errorf("%w: fcm: malformed provider response", dispatch.ErrProviderTransport))
	}

	// INVALID_ARGUMENT is also returned for payload faults; when every message in a
	// multi-token batch fails the same way the request is at fault, not the tokens.
	batchFault := len(tokens) > 1 && sameInvalidArgument(br.Responses)

	outcomes := make([]dispatch.DeliveryOutcome, len(tokens))
	invalid := 0
	for idx, resp := range br.Responses {
		switch {
		case resp != nil && resp.Success:
			outcomes[idx] = dispatch.Sent(tokens[idx], dispatch.PlatformAndroid)
		case resp == nil || resp.Error == nil:
			outcomes[idx] = dispatch.Failed(tokens[idx], dispatch.PlatformAndroid, fmt.Errorf("fcm: delivery failed"))
		case messaging.IsRegistrationTokenNotRegistered(resp.Error),
			!batchFault && isMalformedToken(resp.Error):
			// The token is garbage. Flag it so the caller can prune it.
			invalid++
			outcomes[idx] = dispatch.Invalid(tokens[idx], dispatch.PlatformAndroid, fmt.Errorf("fcm: %v", resp.Error))
		default:
			outcomes[idx] = dispatch.Failed(tokens[idx], dispatch.PlatformAndroid, fmt.Errorf("fcm: %v", resp.Error))
		}
	}

	d.logger.Debug("FCM multicast complete", "success", br.SuccessCount, "failure", br.FailureCount, "invalid", invalid)
	return outcomes
}

// isMalformedToken reports an INVALID_ARGUMENT that names the registration token.
func isMalformedToken(err error) bool {
	return messaging.IsInvalidArgument(err) &&
		strings.Contains(strings.ToLower(err.Error()), "registration token")
}

func sameInvalidArgument(responses []*messaging.SendResponse) bool {
	first := ""
	for i, resp := range responses {
		if resp == nil || resp.Success || !messaging.IsInvalidArgument(resp.Error) {
			return false
		}
		if i == 0 {
			first = resp.Error.Error()
		} else if resp.Error.Error() != first {
			return false
		}
	}
	return len(responses) > 0
}
