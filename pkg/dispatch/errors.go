package dispatch

import (
	"errors"
	"fmt"
	"net/url"
)

var (
	// ErrInvalidRequest is a malformed or incomplete inbound request. Surfaced as HTTP 400.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrUnsupportedPlatform marks a token whose platform has no registered adapter.
	ErrUnsupportedPlatform = errors.New("unsupported platform")

	// ErrProviderTransport is any failure talking to a push provider.
	ErrProviderTransport = errors.New("provider transport error")

	// ErrProviderTimeout is a provider call that did not finish within its deadline.
	ErrProviderTimeout = errors.New("provider timeout")

	// ErrInternal is an unexpected fault while assembling the response. Surfaced as HTTP 500.
	ErrInternal = errors.New("internal error")
)

// RedactURL drops the request URL from an HTTP client error. Provider URLs carry
// device tokens (APNS) or subscription endpoints (Web Push).
func RedactURL(err error) error {
	var urlErr *url.Error
	if !errors.As(err, &urlErr) {
		return err
	}
	return fmt.Errorf("%s: %w", urlErr.Op, urlErr.Err)
}
