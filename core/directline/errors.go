package directline

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors classifying Direct Line failures. Callers branch with
// errors.Is; the wrapped message keeps the HTTP detail.
var (
	// ErrRemoteUnavailable covers network failures and 5xx responses.
	ErrRemoteUnavailable = errors.New("directline: remote unavailable")
	// ErrAuthExpired covers 401/403 responses on an existing session token.
	ErrAuthExpired = errors.New("directline: authorization expired")
	// ErrRateLimited covers 429 responses.
	ErrRateLimited = errors.New("directline: rate limited")
	// ErrMalformedResponse covers undecodable or schema-violating payloads.
	ErrMalformedResponse = errors.New("directline: malformed response")
)

// Transient reports whether the error is worth a backoff-and-retry rather
// than terminating the session.
func Transient(err error) bool {
	return errors.Is(err, ErrRemoteUnavailable) || errors.Is(err, ErrRateLimited)
}

func classifyStatus(op string, code int) error {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%w: %s returned %d", ErrAuthExpired, op, code)
	case code == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s returned %d", ErrRateLimited, op, code)
	case code >= 500:
		return fmt.Errorf("%w: %s returned %d", ErrRemoteUnavailable, op, code)
	default:
		return fmt.Errorf("%w: %s returned unexpected status %d", ErrMalformedResponse, op, code)
	}
}
