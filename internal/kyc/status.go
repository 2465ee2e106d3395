package kyc

import "strings"

// Status is the internal session status vocabulary. It is the single source
// of truth for a session; the outcome mirror must always equal it.
type Status string

const (
	StatusCreated        Status = "created"
	StatusPending        Status = "pending"
	StatusUserInProgress Status = "user_in_progress"
	StatusNeedsReview    Status = "needs_review"
	StatusVerified       Status = "verified"
	StatusFailed         Status = "failed"
	StatusExpired        Status = "expired"
	StatusCanceled       Status = "canceled"
)

// UserFlag is the coarse account-level verification flag shown to users,
// distinct from the detailed session status.
type UserFlag string

const (
	FlagNA         UserFlag = "n/a"
	FlagPending    UserFlag = "pending"
	FlagProcessing UserFlag = "processing"
	FlagVerified   UserFlag = "verified"
	FlagRejected   UserFlag = "rejected"
)

// Normalize maps an arbitrary provider status string into the internal
// vocabulary. Total: unknown or empty input maps to pending. Matching is
// case-insensitive.
func Normalize(raw string) Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "not started", "unknown", "pending", "created", "":
		return StatusPending
	case "in progress", "in_progress", "started", "user_in_progress":
		return StatusUserInProgress
	case "in review", "review", "pending_review", "needs_review":
		return StatusNeedsReview
	case "approved", "verified", "completed", "success":
		return StatusVerified
	case "declined", "rejected", "failed", "error":
		return StatusFailed
	case "canceled", "cancelled", "abandoned":
		return StatusCanceled
	case "expired", "timeout":
		return StatusExpired
	default:
		return StatusPending
	}
}

// NormalizeCreate is the session-creation variant of Normalize. It differs
// in one case only: a literal "created" is kept as created instead of being
// folded into pending, so a freshly created session is distinguishable from
// one the provider has started tracking.
func NormalizeCreate(raw string) Status {
	if strings.ToLower(strings.TrimSpace(raw)) == "created" {
		return StatusCreated
	}
	return Normalize(raw)
}

// Flag reduces an internal status to the 5-value account flag.
func Flag(s Status) UserFlag {
	switch s {
	case StatusVerified:
		return FlagVerified
	case StatusUserInProgress, StatusNeedsReview:
		return FlagProcessing
	case StatusPending, StatusCreated:
		return FlagPending
	case StatusFailed, StatusCanceled, StatusExpired:
		return FlagRejected
	default:
		return FlagPending
	}
}

// Terminal reports whether no further provider-driven transition is
// expected for an internal status.
func Terminal(s Status) bool {
	switch s {
	case StatusVerified, StatusFailed, StatusExpired, StatusCanceled:
		return true
	}
	return false
}

// rawTerminal is checked against the raw provider status, not the
// normalized one. The two vocabularies are kept deliberately separate:
// the provider signals "done" in its own words, and folding this into
// Normalize would hide new raw terminal values. See the overlap test.
var rawTerminal = map[string]struct{}{
	"approved":  {},
	"declined":  {},
	"rejected":  {},
	"failed":    {},
	"completed": {},
	"canceled":  {},
	"cancelled": {},
}

// IsTerminalRaw reports whether a raw provider status signals a terminal
// event, gating the decision-document snapshot in webhook handling.
func IsTerminalRaw(raw string) bool {
	_, ok := rawTerminal[strings.ToLower(strings.TrimSpace(raw))]
	return ok
}
