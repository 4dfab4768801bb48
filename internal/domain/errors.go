package domain

import "errors"

// Failure classes shared between collaborator adapters and the pipeline.
// Adapters wrap concrete errors with these sentinels so callers can decide
// between retrying, skipping, and failing the job without importing the
// adapter packages.
var (
	// ErrRateLimited marks a generative-model rate-limit rejection.
	ErrRateLimited = errors.New("rate limited")

	// ErrUnavailable marks a timeout or upstream outage; retryable.
	ErrUnavailable = errors.New("service unavailable")

	// ErrMalformedResponse marks a response the caller could not use.
	ErrMalformedResponse = errors.New("malformed response")

	// ErrPermanent marks a failure that will not succeed on retry.
	ErrPermanent = errors.New("permanent failure")
)
