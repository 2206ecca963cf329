// --- File: internal/pipeline/transformer.go ---
// Package pipeline contains the core request processing components for the service:
// validation, platform routing and the fan-out coordinator.
package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tinywideclouds/go-push-service/pkg/dispatch"
)

// DecodeNotificationRequest safely unmarshals and validates a raw request body
// into a structured dispatch.NotificationRequest. Platforms are normalized;
// an unrecognized platform is not an error, it becomes dispatch.PlatformOther.
func DecodeNotificationRequest(r io.Reader) (*dispatch.NotificationRequest, error) {
	var req dispatch.NotificationRequest

	dec := json.NewDecoder(r)
	if err := dec.Decode(&req); err != nil {
		if !isClientFault(err) {
			return nil, fmt.Errorf("failed to read notification request: %w", err)
		}
		return nil, fmt.Errorf("%w: failed to unmarshal notification request: %w", dispatch.ErrInvalidRequest, err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err != nil && !isClientFault(err) {
			return nil, fmt.Errorf("failed to read notification request: %w", err)
		}
		return nil, fmt.Errorf("%w: unexpected data after JSON body", dispatch.ErrInvalidRequest)
	}

	for i := range req.DeviceTokens {
		req.DeviceTokens[i].Platform = dispatch.ParsePlatform(string(req.DeviceTokens[i].Platform))
	}

	if err := Validate(&req); err != nil {
		return nil, err
	}
	return &req, nil
}

// isClientFault separates bad bodies from failures reading them.
func isClientFault(err error) bool {
	var (
		syntaxErr   *json.SyntaxError
		typeErr     *json.UnmarshalTypeError
		tooLargeErr *http.MaxBytesError
	)
	return errors.As(err, &syntaxErr) ||
		errors.As(err, &typeErr) ||
		errors.As(err, &tooLargeErr) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}

// Validate checks the required fields. It names every missing field in the error.
func Validate(req *dispatch.NotificationRequest) error {
	var missing []string
	if strings.TrimSpace(req.UserID) == "" {
		missing = append(missing, "user_id")
	}
	if strings.TrimSpace(req.Title) == "" {
		missing = append(missing, "title")
	}
	if strings.TrimSpace(req.Body) == "" {
		missing = append(missing, "body")
	}
	if len(req.DeviceTokens) == 0 {
		missing = append(missing, "device_tokens")
	}

	var problems []string
	if len(missing) > 0 {
		problems = append(problems, "missing required fields: "+strings.Join(missing, ", "))
	}

	var emptyTokens []string
	for i, t := range req.DeviceTokens {
		if t.Token == "" {
			emptyTokens = append(emptyTokens, fmt.Sprintf("%d", i))
		}
	}
	if len(emptyTokens) > 0 {
		problems = append(problems, "empty token at device_tokens index "+strings.Join(emptyTokens, ", "))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", dispatch.ErrInvalidRequest, strings.Join(problems, "; "))
	}
	return nil
}
