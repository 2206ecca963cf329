// Package dispatch contains the domain model shared by the validator, the
// router, the provider adapters and the coordinator.
package dispatch

import (
	"strings"
)

// Platform identifies the push service family a device token belongs to.
type Platform string

const (
	PlatformAndroid Platform = "android"
	PlatformIOS     Platform = "ios"
	PlatformWeb     Platform = "web"
	PlatformOther   Platform = "other"
)

// AllPlatforms is every platform the service knows about.
var AllPlatforms = []Platform{PlatformAndroid, PlatformIOS, PlatformWeb, PlatformOther}

// ParsePlatform normalizes a raw platform string. Anything unrecognized,
// including the empty string, maps to PlatformOther.
func ParsePlatform(raw string) Platform {
	switch Platform(strings.ToLower(strings.TrimSpace(raw))) {
	case PlatformAndroid:
		return PlatformAndroid
	case PlatformIOS:
		return PlatformIOS
	case PlatformWeb:
		return PlatformWeb
	default:
		return PlatformOther
	}
}

// DeviceToken is one app installation to notify.
type DeviceToken struct {
	Token    string   `json:"token"`
	Platform Platform `json:"platform"`
}

// NotificationRequest is the validated inbound request.
type NotificationRequest struct {
	UserID       string        `json:"user_id"`
	Title        string        `json:"title"`
	Body         string        `json:"body"`
	Type         string        `json:"type"`
	TargetID     *string       `json:"target_id,omitempty"`
	DeviceTokens []DeviceToken `json:"device_tokens"`
}

// Notification returns the platform-independent content handed to adapters.
func (r *NotificationRequest) Notification() Notification {
	n := Notification{
		UserID: r.UserID,
		Title:  r.Title,
		Body:   r.Body,
		Type:   r.Type,
	}
	if r.TargetID != nil {
		n.TargetID = *r.TargetID
	}
	return n
}

// Notification is the content and metadata every adapter receives.
type Notification struct {
	UserID   string
	Title    string
	Body     string
	Type     string
	TargetID string
}

// Data is the key/value block providers attach alongside the visible alert.
// target_id is always present, empty when the request had none.
func (n Notification) Data() map[string]string {
	return map[string]string{
		"type":      n.Type,
		"target_id": n.TargetID,
	}
}

// Status is the result of delivering to a single token.
type Status string

const (
	StatusSent   Status = "sent"
	StatusFailed Status = "failed"
)

// DeliveryOutcome is produced once per input token and never mutated afterwards.
type DeliveryOutcome struct {
	Token    string   `json:"token"`
	Platform Platform `json:"platform"`
	Status   Status   `json:"status"`
	Error    string   `json:"error,omitempty"`
	// TokenInvalid is set when the provider reports the token as permanently dead.
	TokenInvalid bool `json:"token_invalid,omitempty"`
}

// Sent builds a successful outcome.
func Sent(token string, p Platform) DeliveryOutcome {
	return DeliveryOutcome{Token: token, Platform: p, Status: StatusSent}
}

// Failed builds a failed outcome carrying err's message.
func Failed(token string, p Platform, err error) DeliveryOutcome {
	o := DeliveryOutcome{Token: token, Platform: p, Status: StatusFailed}
	if err != nil {
		o.Error = err.Error()
	}
	return o
}

// Invalid builds a failed outcome for a token the provider rejected permanently.
func Invalid(token string, p Platform, err error) DeliveryOutcome {
	o := Failed(token, p, err)
	o.TokenInvalid = true
	return o
}

// FailAll gives every token the same failed outcome. Used when a provider
// call fails as a whole.
func FailAll(tokens []string, p Platform, err error) []DeliveryOutcome {
	out := make([]DeliveryOutcome, len(tokens))
	for i, t := range tokens {
		out[i] = Failed(t, p, err)
	}
	return out
}

// DispatchResult is the aggregated outcome of a request, in input order.
type DispatchResult struct {
	DispatchID     string            `json:"dispatch_id"`
	OverallSuccess bool              `json:"success"`
	Outcomes       []DeliveryOutcome `json:"outcomes"`
}

// Counts returns how many outcomes were sent and how many failed.
func (r *DispatchResult) Counts() (sent, failed int) {
	for _, o := range r.Outcomes {
		if o.Status == StatusSent {
			sent++
		} else {
			failed++
		}
	}
	return sent, failed
}

// AnySent reports whether at least one outcome was delivered.
func AnySent(outcomes []DeliveryOutcome) bool {
	for _, o := range outcomes {
		if o.Status == StatusSent {
			return true
		}
	}
	return false
}
