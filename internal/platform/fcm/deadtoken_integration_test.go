package fcm_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	firebase "firebase.google.com/go/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-push-service/internal/platform/fcm"
	"github.com/tinywideclouds/go-push-service/internal/storage/cache"
	"github.com/tinywideclouds/go-push-service/pkg/dispatch"
	"google.golang.org/api/option"
)

const garbageToken = "not-a-real-token"

// fakeFCM answers the v1 messages:send endpoint the way FCM does for oversized
// payloads and malformed registration tokens.
type fakeFCM struct {
	calls atomic.Int32
}

func (f *fakeFCM) RoundTrip(r *http.Request) (*http.Response, error) {
	f.calls.Add(1)
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	var req struct {
		Message struct {
			Token string `json:"token"`
		} `json:"message"`
	}
	_ = json.Unmarshal(raw, &req)

	switch {
	case len(raw) > 4096:
		return jsonResponse(r, http.StatusBadRequest, `{"error":{"code":400,"message":"Message is too big","status":"INVALID_ARGUMENT"}}`), nil
	case req.Message.Token == garbageToken:
		return jsonResponse(r, http.StatusBadRequest, `{"error":{"code":400,"message":"The registration token is not a valid FCM registration token","status":"INVALID_ARGUMENT","details":[{"@type":"type.googleapis.com/google.firebase.fcm.v1.FcmError","errorCode":"INVALID_ARGUMENT"}]}}`), nil
	default:
		return jsonResponse(r, http.StatusOK, `{"name":"projects/test-project/messages/1"}`), nil
	}
}

func jsonResponse(r *http.Request, status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
		Request:    r,
	}
}

type memoryCache struct {
	mu   sync.Mutex
	dead map[string]bool
}

func (c *memoryCache) ExistsMany(_ context.Context, keys []string) ([]bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]bool, len(keys))
	for i, k := range keys {
		out[i] = c.dead[k]
	}
	return out, nil
}

func (c *memoryCache) SetMany(_ context.Context, keys []string, _ string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		c.dead[k] = true
	}
	return nil
}

func (c *memoryCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.dead)
}

func newFilteredDispatcher(t *testing.T, transport http.RoundTripper, store *memoryCache) dispatch.Dispatcher {
	t.Helper()
	ctx := context.Background()
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: "test-project"},
		option.WithHTTPClient(&http.Client{Transport: transport}))
	require.NoError(t, err)
	client, err := app.Messaging(ctx)
	require.NoError(t, err)

	return cache.NewDeadTokenFilter(fcm.NewDispatcher(client, newTestLogger()), store, dispatch.PlatformAndroid, time.Hour, newTestLogger())
}

func TestDeadTokenFilter_WithFirebaseErrors(t *testing.T) {
	ctx := context.Background()
	healthy := []string{"healthy-device-1", "healthy-device-2"}

	t.Run("Oversized payload does not condemn healthy tokens", func(t *testing.T) {
		provider := &fakeFCM{}
		store := &memoryCache{dead: map[string]bool{}}
		dispatcher := newFilteredDispatcher(t, provider, store)

		big := dispatch.Notification{Title: "Hi", Body: strings.Repeat("x", 5000)}
		outcomes := dispatcher.Send(ctx, healthy, big)

		require.Len(t, outcomes, 2)
		for _, o := range outcomes {
			assert.Equal(t, dispatch.StatusFailed, o.Status)
			assert.Contains(t, o.Error, "Message is too big")
			assert.False(t, o.TokenInvalid)
		}
		assert.Zero(t, store.size())

		before := provider.calls.Load()
		outcomes = dispatcher.Send(ctx, healthy, dispatch.Notification{Title: "Hi", Body: "short"})

		require.Len(t, outcomes, 2)
		for _, o := range outcomes {
			assert.Equal(t, dispatch.StatusSent, o.Status)
		}
		assert.Equal(t, before+2, provider.calls.Load(), "both tokens reach the provider")
	})

	t.Run("Malformed registration token is remembered", func(t *testing.T) {
		provider := &fakeFCM{}
		store := &memoryCache{dead: map[string]bool{}}
		dispatcher := newFilteredDispatcher(t, provider, store)
		content := dispatch.Notification{Title: "Hi", Body: "short"}

		outcomes := dispatcher.Send(ctx, []string{"healthy-device-1", garbageToken}, content)

		require.Len(t, outcomes, 2)
		assert.Equal(t, dispatch.StatusSent, outcomes[0].Status)
		assert.True(t, outcomes[1].TokenInvalid)
		assert.Equal(t, 1, store.size())

		before := provider.calls.Load()
		outcomes = dispatcher.Send(ctx, []string{garbageToken}, content)

		require.Len(t, outcomes, 1)
		assert.Contains(t, outcomes[0].Error, cache.ErrSuppressed.Error())
		assert.Equal(t, before, provider.calls.Load())
	})
}
