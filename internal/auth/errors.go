package auth

import "errors"

// Failure taxonomy for the authentication flow. Validation failures are
// rejected with 400 and never retried; upstream failures during a code
// exchange are surfaced without retry because authorization codes are
// single-use.
var (
	// ErrMissingCode: no authorization code in the request
	ErrMissingCode = errors.New("authorization code is missing")

	// ErrMissingState: no state parameter in the callback URL
	ErrMissingState = errors.New("state parameter is missing")

	// ErrMissingStateCookie: no previously issued state cookie
	ErrMissingStateCookie = errors.New("state cookie not found")

	// ErrStateMismatch: callback state differs from the issued one,
	// possible cross-site request forgery
	ErrStateMismatch = errors.New("state parameter mismatch")

	// ErrUpstreamAuth: the provider rejected the code or returned a
	// malformed token payload
	ErrUpstreamAuth = errors.New("identity provider rejected the authorization")

	// ErrUpstreamUnavailable: the provider could not be reached in time
	ErrUpstreamUnavailable = errors.New("identity provider unavailable")

	// ErrNoValidToken: no usable access token and no way to refresh one;
	// the caller must treat this as unauthenticated and not retry
	ErrNoValidToken = errors.New("no valid access token")

	// ErrRetryExhausted: the wrapped API call failed again after the one
	// allowed forced-refresh retry
	ErrRetryExhausted = errors.New("retry budget exhausted")
)
