package fcmlegacy_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-push-service/internal/platform/fcmlegacy"
	"github.com/tinywideclouds/go-push-service/pkg/dispatch"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDispatch_Lifecycle(t *testing.T) {
	content := dispatch.Notification{Title: "Hello", Body: "World", Type: "follow", TargetID: "user-9"}

	t.Run("Maps per-token results in order", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "key=server-key", r.Header.Get("Authorization"))
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

			var body map[string]any
			if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&body)) {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			assert.Equal(t, []any{"t1", "t2", "t3"}, body["registration_ids"])
			assert.Equal(t, map[string]any{"title": "Hello", "body": "World"}, body["notification"])
			assert.Equal(t, map[string]any{"type": "follow", "target_id": "user-9"}, body["data"])

			_, _ = w.Write([]byte(`{"success":1,"failure":2,"results":[
				{"message_id":"m1"},
				{"error":"NotRegistered"},
				{"error":"Unavailable"}
			]}`))
		}))
		defer server.Close()

		d := fcmlegacy.NewDispatcher(fcmlegacy.Config{ServerKey: "server-key", Endpoint: server.URL}, server.Client(), newTestLogger())
		outcomes := d.Send(context.Background(), []string{"t1", "t2", "t3"}, content)

		require.Len(t, outcomes, 3)
		assert.Equal(t, int32(1), calls.Load(), "one call per batch")

		assert.Equal(t, dispatch.StatusSent, outcomes[0].Status)

		assert.Equal(t, dispatch.StatusFailed, outcomes[1].Status)
		assert.True(t, outcomes[1].TokenInvalid)
		assert.Contains(t, outcomes[1].Error, "NotRegistered")

		assert.Equal(t, dispatch.StatusFailed, outcomes[2].Status)
		assert.False(t, outcomes[2].TokenInvalid)
	})

	t.Run("Sender mismatch does not condemn the token", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"success":0,"failure":2,"results":[
				{"error":"MismatchSenderId"},
				{"error":"InvalidRegistration"}
			]}`))
		}))
		defer server.Close()

		d := fcmlegacy.NewDispatcher(fcmlegacy.Config{ServerKey: "wrong-project", Endpoint: server.URL}, server.Client(), newTestLogger())
		outcomes := d.Send(context.Background(), []string{"t1", "t2"}, content)

		require.Len(t, outcomes, 2)
		assert.Equal(t, dispatch.StatusFailed, outcomes[0].Status)
		assert.Contains(t, outcomes[0].Error, "MismatchSenderId")
		assert.False(t, outcomes[0].TokenInvalid)
		assert.True(t, outcomes[1].TokenInvalid)
	})

	t.Run("Non-2xx fails every token with the same detail", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer server.Close()

		d := fcmlegacy.NewDispatcher(fcmlegacy.Config{ServerKey: "bad", Endpoint: server.URL}, server.Client(), newTestLogger())
		outcomes := d.Send(context.Background(), []string{"t1", "t2"}, content)

		require.Len(t, outcomes, 2)
		assert.Equal(t, outcomes[0].Error, outcomes[1].Error)
		assert.Contains(t, outcomes[0].Error, "status 401")
		assert.Equal(t, dispatch.StatusFailed, outcomes[1].Status)
	})

	t.Run("Result count mismatch is a batch failure", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"success":1,"results":[{"message_id":"m1"}]}`))
		}))
		defer server.Close()

		d := fcmlegacy.NewDispatcher(fcmlegacy.Config{ServerKey: "k", Endpoint: server.URL}, server.Client(), newTestLogger())
		outcomes := d.Send(context.Background(), []string{"t1", "t2"}, content)

		require.Len(t, outcomes, 2)
		for _, o := range outcomes {
			assert.Equal(t, dispatch.StatusFailed, o.Status)
			assert.Contains(t, o.Error, "malformed provider response")
		}
	})

	t.Run("Missing server key never calls out", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
		}))
		defer server.Close()

		d := fcmlegacy.NewDispatcher(fcmlegacy.Config{Endpoint: server.URL}, server.Client(), newTestLogger())
		outcomes := d.Send(context.Background(), []string{"t1"}, content)

		require.Len(t, outcomes, 1)
		assert.Equal(t, dispatch.StatusFailed, outcomes[0].Status)
		assert.Zero(t, calls.Load())
	})

	t.Run("Deadline becomes failed outcomes", func(t *testing.T) {
		release := make(chan struct{})
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer server.Close()
		defer close(release)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		d := fcmlegacy.NewDispatcher(fcmlegacy.Config{ServerKey: "k", Endpoint: server.URL}, server.Client(), newTestLogger())
		outcomes := d.Send(ctx, []string{"t1"}, content)

		require.Len(t, outcomes, 1)
		assert.Equal(t, dispatch.StatusFailed, outcomes[0].Status)
		assert.Contains(t, outcomes[0].Error, "deadline exceeded")
	})
}
