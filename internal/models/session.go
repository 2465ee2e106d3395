package models

import (
	"time"

	"kyc-service/internal/kyc"
)

// AuditEventLimit bounds the per-session applied-event ring buffer.
const AuditEventLimit = 20

// DefaultRetriesAllowed is the user re-attempt budget for new sessions.
const DefaultRetriesAllowed = 2

// VerificationSession is one verification attempt correlating an internal
// record with a provider-side verification flow instance. Sessions are
// never hard-deleted; superseded ones are marked canceled.
type VerificationSession struct {
	UserBucket int        `db:"user_bucket"`
	ID         string     `db:"id"`
	OwnerID    string     `db:"owner_id"`
	Status     kyc.Status `db:"status"`

	Services     []string     `db:"services"`
	PersonalInfo PersonalInfo `db:"personal_info"`
	Outcome      Outcome      `db:"outcome"`
	Audit        SessionAudit `db:"audit"`
	ManualReview ManualReview `db:"manual_review"`

	RetriesUsed    int `db:"retries_used"`
	RetriesAllowed int `db:"retries_allowed"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// NonTerminal reports whether the provider may still move this session.
func (s *VerificationSession) NonTerminal() bool {
	return !kyc.Terminal(s.Status)
}

type PersonalInfo struct {
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Dob       string `json:"dob,omitempty"` // YYYY-MM-DD
	Gender    string `json:"gender,omitempty"`
	Country   string `json:"country,omitempty"`
}

// Outcome is the structured verification result. Status mirrors the
// session's top-level status; the repository enforces the equality on every
// write.
type Outcome struct {
	Status      kyc.Status   `json:"status"`
	VerifiedAt  *time.Time   `json:"verified_at,omitempty"`
	Summary     *kyc.Summary `json:"summary,omitempty"`
	AML         AMLScreening `json:"aml"`
	ReasonCodes []string     `json:"reason_codes,omitempty"`

	// DocNumberHash is a peppered hash of the extracted document number;
	// the raw number is never persisted.
	DocNumberHash string `json:"doc_number_hash,omitempty"`
}

type AMLScreening struct {
	Screened     bool     `json:"screened"`
	PEP          bool     `json:"pep"`
	SanctionsHit bool     `json:"sanctions_hit"`
	Watchlists   []string `json:"watchlists,omitempty"`
}

// SessionAudit carries provider bookkeeping: identifiers, access artifacts
// and the applied-event trail used for webhook idempotency.
type SessionAudit struct {
	ProviderName    string `json:"provider_name"`
	ProviderVersion string `json:"provider_version"`

	ProviderSessionID string `json:"provider_session_id,omitempty"`
	IdempotencyKey    string `json:"idempotency_key,omitempty"`
	HostedURL         string `json:"hosted_url,omitempty"`
	EmbedToken        string `json:"embed_token,omitempty"`

	LastEventID   string     `json:"last_event_id,omitempty"`
	LastEventType string     `json:"last_event_type,omitempty"`
	LastEventAt   *time.Time `json:"last_event_at,omitempty"`

	Events []AuditEvent `json:"events,omitempty"`

	DecisionSnapshot *DecisionSnapshot `json:"decision_snapshot,omitempty"`
}

type AuditEvent struct {
	ID         string     `json:"id"`
	Type       string     `json:"type"`
	OccurredAt time.Time  `json:"occurred_at"`
	Status     kyc.Status `json:"status"`
}

type DecisionSnapshot struct {
	Status     string   `json:"status"`
	WorkflowID string   `json:"workflow_id"`
	Features   []string `json:"features,omitempty"`
}

type ManualReview struct {
	Required   bool       `json:"required"`
	Reviewer   string     `json:"reviewer,omitempty"`
	Notes      string     `json:"notes,omitempty"`
	ReviewedAt *time.Time `json:"reviewed_at,omitempty"`
}

// AppendEvent records an applied event, keeping only the newest
// AuditEventLimit entries.
func (a *SessionAudit) AppendEvent(e AuditEvent) {
	a.Events = append(a.Events, e)
	if len(a.Events) > AuditEventLimit {
		a.Events = a.Events[len(a.Events)-AuditEventLimit:]
	}
}
