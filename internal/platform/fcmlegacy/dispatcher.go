// Package fcmlegacy delivers Android notifications through the FCM server-key HTTP API.
package fcmlegacy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-push-service/pkg/dispatch"
)

// DefaultEndpoint is the legacy FCM send endpoint.
const DefaultEndpoint = "https://fcm.googleapis.com/fcm/send"

// MaxTokensPerCall is the registration_ids limit of the legacy API.
const MaxTokensPerCall = 1000

// HTTPClient is the subset of *http.Client the dispatcher needs.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config holds the server key and endpoint.
type Config struct {
	ServerKey string
	Endpoint  string
}

type Dispatcher struct {
	serverKey string
	endpoint  string
	client    HTTPClient
	logger    *slog.Logger
}

func NewDispatcher(cfg Config, client HTTPClient, logger *slog.Logger) *Dispatcher {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if client == nil {
		client = &http.Client{}
	}
	return &Dispatcher{
		serverKey: cfg.ServerKey,
		endpoint:  endpoint,
		client:    client,
		logger:    logger.With("component", "FCMLegacyDispatcher"),
	}
}

type sendRequest struct {
	RegistrationIDs []string          `json:"registration_ids"`
	Notification    notificationBlock `json:"notification"`
	Data            map[string]string `json:"data"`
	Priority        string            `json:"priority"`
}

type notificationBlock struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type sendResponse struct {
	Success int `json:"success"`
	Failure int `json:"failure"`
	Results []struct {
		MessageID string `json:"message_id"`
		Error     string `json:"error"`
	} `json:"results"`
}

// Send posts one request per chunk of at most MaxTokensPerCall tokens.
func (d *Dispatcher) Send(ctx context.Context, tokens []string, n dispatch.Notification) []dispatch.DeliveryOutcome {
	outcomes := make([]dispatch.DeliveryOutcome, 0, len(tokens))
	for start := 0; start < len(tokens); start += MaxTokensPerCall {
		end := min(start+MaxTokensPerCall, len(tokens))
		outcomes = append(outcomes, d.sendChunk(ctx, tokens[start:end], n)...)
	}
	return outcomes
}

func (d *Dispatcher) sendChunk(ctx context.Context, tokens []string, n dispatch.Notification) []dispatch.DeliveryOutcome {
	resp, err := d.post(ctx, tokens, n)
	if err != nil {
		d.logger.Error("FCM legacy send failed", "tokens", len(tokens), "err", err)
		return dispatch.FailAll(tokens, dispatch.PlatformAndroid, fmt.Errorf("%w: %v", dispatch.ErrProviderTransport, err))
	}

	outcomes := make([]dispatch.DeliveryOutcome, len(tokens))
	for idx, res := range resp.Results {
		switch {
		case res.Error == "":
			outcomes[idx] = dispatch.Sent(tokens[idx], dispatch.PlatformAndroid)
		case isTokenFatal(res.Error):
			outcomes[idx] = dispatch.Invalid(tokens[idx], dispatch.PlatformAndroid, fmt.Errorf("fcm: %s", res.Error))
		default:
			outcomes[idx] = dispatch.Failed(tokens[idx], dispatch.PlatformAndroid, fmt.Errorf("fcm: %s", res.Error))
		}
	}
	d.logger.Debug("FCM legacy send complete", "success", resp.Success, "failure", resp.Failure)
	return outcomes
}

func (d *Dispatcher) post(ctx context.Context, tokens []string, n dispatch.Notification) (*sendResponse, error) {
	if d.serverKey == "" {
		return nil, fmt.Errorf("fcm: server key not configured")
	}

	body, err := json.Marshal(sendRequest{
		RegistrationIDs: tokens,
		Notification:    notificationBlock{Title: n.Title, Body: n.Body},
		Data:            n.Data(),
		Priority:        "high",
	})
	if err != nil {
		return nil, fmt.Errorf("fcm: failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("fcm: failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "key="+d.serverKey)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fcm: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("fcm: received status %d", resp.StatusCode)
	}

	var out sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("fcm: malformed provider response: %w", err)
	}
	if len(out.Results) != len(tokens) {
		return nil, fmt.Errorf("fcm: malformed provider response: %d results for %d tokens", len(out.Results), len(tokens))
	}
	return &out, nil
}

// isTokenFatal reports the legacy error codes that mean the token will never work.
// MismatchSenderId points at the server key, not the token.
func isTokenFatal(code string) bool {
	switch code {
	case "NotRegistered", "InvalidRegistration":
		return true
	default:
		return false
	}
}
