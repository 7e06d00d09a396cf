package domain

import "errors"

// Error taxonomy for the delivery pipeline. Generation failures map onto one of
// these so callers can pick a user-facing message without parsing error text.
var (
	// ErrNoAuthToken means no credential is present; the caller must re-login.
	ErrNoAuthToken = errors.New("no auth token")

	// ErrNetworkFailure covers transport errors with no HTTP response, and
	// unparsable payloads (treated the same, not retried further).
	ErrNetworkFailure = errors.New("network failure")

	// ErrRateLimited is a 429 from the generation service. Never retried.
	ErrRateLimited = errors.New("rate limited")

	// ErrUpstreamServer is a 5xx or request timeout. Retried up to 2 extra times.
	ErrUpstreamServer = errors.New("upstream server error")

	// ErrSendInFlight rejects a second Send while one is still outstanding.
	ErrSendInFlight = errors.New("send already in flight")

	// ErrConversationNotFound is returned for an unknown conversation ID.
	ErrConversationNotFound = errors.New("conversation not found")
)
