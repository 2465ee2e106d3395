package service

import "errors"

var (
	// ErrInvalidInput marks request-time validation failures.
	ErrInvalidInput = errors.New("invalid input")

	// ErrSessionNotFound covers both a missing session and a session the
	// requester does not own. Ownership failures are indistinguishable
	// from absence on purpose.
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidSignature rejects a webhook whose signature or timestamp
	// failed verification.
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// ErrKYCMisconfigured is a startup-class failure: provider
	// credentials or workflow id are absent from the environment.
	ErrKYCMisconfigured = errors.New("kyc provider misconfigured")

	// ErrProviderForbidden is returned when the provider rejects our
	// credentials or workflow. Operator action is required.
	ErrProviderForbidden = errors.New("kyc provider forbidden")

	// ErrRetryBudgetExhausted rejects a new session once the user has
	// burned through the re-attempt allowance.
	ErrRetryBudgetExhausted = errors.New("verification retry budget exhausted")

	// ErrProviderUnavailable covers provider timeouts and non-2xx
	// failures during session creation, where no session exists yet to
	// fall back on.
	ErrProviderUnavailable = errors.New("kyc provider unavailable")
)
