package pipeline_test

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-push-service/internal/pipeline"
	"github.com/tinywideclouds/go-push-service/pkg/dispatch"
)

func TestDecodeNotificationRequest(t *testing.T) {
	testCases := []struct {
		name                  string
		body                  string
		expectError           bool
		expectedErrorContains string
	}{
		{
			name:        "Happy Path - Valid Request",
			body:        `{"user_id":"u1","title":"Hi","body":"There","type":"like","target_id":"p1","device_tokens":[{"token":"a","platform":"android"}]}`,
			expectError: false,
		},
		{
			name:                  "Failure - Malformed JSON",
			body:                  `not-json`,
			expectError:           true,
			expectedErrorContains: "failed to unmarshal notification request",
		},
		{
			name:                  "Failure - Wrong field type",
			body:                  `{"user_id":42,"title":"Hi","body":"There","device_tokens":[{"token":"a","platform":"ios"}]}`,
			expectError:           true,
			expectedErrorContains: "failed to unmarshal notification request",
		},
		{
			name:                  "Failure - Trailing data",
			body:                  `{"user_id":"u1","title":"Hi","body":"There","device_tokens":[{"token":"a","platform":"ios"}]} {}`,
			expectError:           true,
			expectedErrorContains: "unexpected data",
		},
		{
			name:                  "Failure - Missing fields are all named",
			body:                  `{"body":"There","device_tokens":[{"token":"a","platform":"ios"}]}`,
			expectError:           true,
			expectedErrorContains: "missing required fields: user_id, title",
		},
		{
			name:                  "Failure - Whitespace title counts as empty",
			body:                  `{"user_id":"u1","title":"   ","body":"There","device_tokens":[{"token":"a","platform":"ios"}]}`,
			expectError:           true,
			expectedErrorContains: "title",
		},
		{
			name:                  "Failure - Zero device tokens",
			body:                  `{"user_id":"u1","title":"Hi","body":"There","device_tokens":[]}`,
			expectError:           true,
			expectedErrorContains: "device_tokens",
		},
		{
			name:                  "Failure - Empty token",
			body:                  `{"user_id":"u1","title":"Hi","body":"There","device_tokens":[{"token":"a","platform":"ios"},{"token":"","platform":"ios"}]}`,
			expectError:           true,
			expectedErrorContains: "empty token at device_tokens index 1",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req, err := pipeline.DecodeNotificationRequest(strings.NewReader(tc.body))

			if tc.expectError {
				require.Error(t, err)
				assert.True(t, errors.Is(err, dispatch.ErrInvalidRequest))
				assert.Contains(t, err.Error(), tc.expectedErrorContains)
				assert.Nil(t, req)
			} else {
				require.NoError(t, err)
				require.NotNil(t, req)
				require.NotNil(t, req.TargetID)
				assert.Equal(t, "p1", *req.TargetID)
			}
		})
	}
}

func TestDecodeNotificationRequest_NormalizesPlatforms(t *testing.T) {
	body := `{"user_id":"u1","title":"Hi","body":"There","device_tokens":[
		{"token":"a","platform":" Android "},
		{"token":"b","platform":"IOS"},
		{"token":"c","platform":"windows"},
		{"token":"d"}
	]}`

	req, err := pipeline.DecodeNotificationRequest(strings.NewReader(body))

	require.NoError(t, err)
	require.Len(t, req.DeviceTokens, 4)
	assert.Equal(t, dispatch.PlatformAndroid, req.DeviceTokens[0].Platform)
	assert.Equal(t, dispatch.PlatformIOS, req.DeviceTokens[1].Platform)
	assert.Equal(t, dispatch.PlatformOther, req.DeviceTokens[2].Platform)
	assert.Equal(t, dispatch.PlatformOther, req.DeviceTokens[3].Platform)
	assert.Nil(t, req.TargetID)
}

// failingReader simulates a client that drops the connection mid-body.
type failingReader struct{ err error }

func (r failingReader) Read([]byte) (int, error) { return 0, r.err }

func TestDecodeNotificationRequest_ReadFailure(t *testing.T) {
	connReset := errors.New("connection reset by peer")

	req, err := pipeline.DecodeNotificationRequest(io.MultiReader(strings.NewReader(`{"user_id":"u1",`), failingReader{connReset}))

	require.Error(t, err)
	assert.Nil(t, req)
	assert.ErrorIs(t, err, connReset)
	assert.False(t, errors.Is(err, dispatch.ErrInvalidRequest), "a read failure is not a client validation error")
}
