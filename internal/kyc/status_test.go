package kyc

import "testing"

func TestNormalize(t *testing.T) {
	cases := []struct {
		raw  string
		want Status
	}{
		{"APPROVED", StatusVerified},
		{"approved", StatusVerified},
		{"completed", StatusVerified},
		{"success", StatusVerified},
		{"", StatusPending},
		{"bogus-status", StatusPending},
		{"created", StatusPending},
		{"Not Started", StatusPending},
		{"unknown", StatusPending},
		{"in_progress", StatusUserInProgress},
		{"STARTED", StatusUserInProgress},
		{"In Review", StatusNeedsReview},
		{"pending_review", StatusNeedsReview},
		{"declined", StatusFailed},
		{"rejected", StatusFailed},
		{"error", StatusFailed},
		{"cancelled", StatusCanceled},
		{"abandoned", StatusCanceled},
		{"timeout", StatusExpired},
		{"  expired  ", StatusExpired},
	}

	for _, tc := range cases {
		if got := Normalize(tc.raw); got != tc.want {
			t.Errorf("Normalize(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}

func TestNormalizeCreate(t *testing.T) {
	if got := NormalizeCreate("created"); got != StatusCreated {
		t.Errorf("NormalizeCreate(created) = %q, want %q", got, StatusCreated)
	}
	if got := NormalizeCreate("CREATED"); got != StatusCreated {
		t.Errorf("NormalizeCreate(CREATED) = %q, want %q", got, StatusCreated)
	}
	// Everything except the literal "created" follows Normalize.
	if got := NormalizeCreate("approved"); got != StatusVerified {
		t.Errorf("NormalizeCreate(approved) = %q, want %q", got, StatusVerified)
	}
	if got := NormalizeCreate(""); got != StatusPending {
		t.Errorf("NormalizeCreate(\"\") = %q, want %q", got, StatusPending)
	}
}

func TestFlag(t *testing.T) {
	cases := []struct {
		status Status
		want   UserFlag
	}{
		{StatusVerified, FlagVerified},
		{StatusUserInProgress, FlagProcessing},
		{StatusNeedsReview, FlagProcessing},
		{StatusPending, FlagPending},
		{StatusCreated, FlagPending},
		{StatusFailed, FlagRejected},
		{StatusCanceled, FlagRejected},
		{StatusExpired, FlagRejected},
		{Status("something-else"), FlagPending},
	}

	for _, tc := range cases {
		if got := Flag(tc.status); got != tc.want {
			t.Errorf("Flag(%q) = %q, want %q", tc.status, got, tc.want)
		}
	}
}

func TestTerminal(t *testing.T) {
	terminal := []Status{StatusVerified, StatusFailed, StatusExpired, StatusCanceled}
	for _, s := range terminal {
		if !Terminal(s) {
			t.Errorf("Terminal(%q) = false, want true", s)
		}
	}

	open := []Status{StatusCreated, StatusPending, StatusUserInProgress, StatusNeedsReview}
	for _, s := range open {
		if Terminal(s) {
			t.Errorf("Terminal(%q) = true, want false", s)
		}
	}
}

func TestIsTerminalRaw(t *testing.T) {
	for _, raw := range []string{"approved", "declined", "rejected", "failed", "completed", "canceled", "cancelled", "APPROVED"} {
		if !IsTerminalRaw(raw) {
			t.Errorf("IsTerminalRaw(%q) = false, want true", raw)
		}
	}
	for _, raw := range []string{"", "pending", "in_progress", "expired", "timeout"} {
		if IsTerminalRaw(raw) {
			t.Errorf("IsTerminalRaw(%q) = true, want false", raw)
		}
	}
}

// The raw terminal vocabulary and the normalized terminal set are
// maintained separately. Every raw terminal value must normalize to an
// internal terminal status, otherwise a session could take a decision
// snapshot while still looking open.
func TestRawTerminalNormalizesToTerminal(t *testing.T) {
	for raw := range rawTerminal {
		normalized := Normalize(raw)
		if !Terminal(normalized) {
			t.Errorf("raw terminal %q normalizes to non-terminal %q", raw, normalized)
		}
	}
}
