package kyc

import (
	"fmt"
	"time"
)

// Event is an inbound provider webhook payload, decoded only after the raw
// body passed signature verification.
type Event struct {
	SessionID   string `json:"session_id"`
	Status      string `json:"status"`
	WebhookType string `json:"webhook_type"`
	ReferenceID string `json:"reference_id,omitempty"`
	CreatedAt   int64  `json:"created_at,omitempty"`
	Timestamp   int64  `json:"timestamp,omitempty"`

	Decision *Decision `json:"decision,omitempty"`
}

// Key builds the deterministic idempotency key for an event. The provider
// does not issue event ids, so the key is composed from the fields that
// identify one logical delivery.
func (e *Event) Key() string {
	created := e.CreatedAt
	if created == 0 {
		created = e.Timestamp
	}
	if created == 0 {
		created = time.Now().Unix()
	}
	return fmt.Sprintf("%s:%s:%d", e.SessionID, e.WebhookType, created)
}

// OccurredAt resolves the event time, tolerating providers that send
// seconds or milliseconds.
func (e *Event) OccurredAt() time.Time {
	t := e.CreatedAt
	if t == 0 {
		t = e.Timestamp
	}
	if t == 0 {
		return time.Now().UTC()
	}
	if t > 99999999999 { // width says milliseconds
		return time.UnixMilli(t).UTC()
	}
	return time.Unix(t, 0).UTC()
}

// Decision is the provider's detailed verification result document, fetched
// on demand rather than pushed in full via webhook.
type Decision struct {
	Status     string   `json:"status"`
	WorkflowID string   `json:"workflow_id"`
	Features   []string `json:"features"`

	IDVerification *IDVerification `json:"id_verification,omitempty"`
	NFC            *CheckStatus    `json:"nfc,omitempty"`
	Liveness       *CheckStatus    `json:"liveness,omitempty"`
	FaceMatch      *CheckStatus    `json:"face_match,omitempty"`
	AML            *AMLCheck       `json:"aml,omitempty"`
	ProofOfAddress *CheckStatus    `json:"proof_of_address,omitempty"`
	POA            *CheckStatus    `json:"poa,omitempty"`

	ExpectedDetails *ExpectedDetails `json:"expected_details,omitempty"`
}

type CheckStatus struct {
	Status string `json:"status"`
}

type IDVerification struct {
	Status           string `json:"status"`
	DocumentType     string `json:"document_type"`
	DocumentNumber   string `json:"document_number"`
	IssuingState     string `json:"issuing_state"`
	IssuingStateName string `json:"issuing_state_name"`
	FirstName        string `json:"first_name"`
	LastName         string `json:"last_name"`
	DateOfBirth      string `json:"date_of_birth"`
}

type AMLCheck struct {
	Status       string   `json:"status"`
	Screened     bool     `json:"screened"`
	PEP          bool     `json:"pep"`
	SanctionsHit bool     `json:"sanctions_hit"`
	Watchlists   []string `json:"watchlists"`
}

type ExpectedDetails struct {
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	DateOfBirth string `json:"date_of_birth"`
}

// Summary is the tiny identity extract persisted into the session outcome
// after a terminal event.
type Summary struct {
	DocType            string `json:"doc_type,omitempty"`
	IssuingCountry     string `json:"issuing_country,omitempty"`
	ExtractedFirstName string `json:"extracted_first_name,omitempty"`
	ExtractedLastName  string `json:"extracted_last_name,omitempty"`
	ExtractedDob       string `json:"extracted_dob,omitempty"`
	AddressVerified    bool   `json:"address_verified"`
}

// Summarize extracts the UI-facing summary from a decision document.
func Summarize(d *Decision) Summary {
	if d == nil {
		return Summary{}
	}
	var s Summary
	if idv := d.IDVerification; idv != nil {
		s.DocType = idv.DocumentType
		s.IssuingCountry = idv.IssuingState
		if s.IssuingCountry == "" {
			s.IssuingCountry = idv.IssuingStateName
		}
		s.ExtractedFirstName = idv.FirstName
		s.ExtractedLastName = idv.LastName
		s.ExtractedDob = idv.DateOfBirth
	}
	if exp := d.ExpectedDetails; exp != nil {
		if s.ExtractedFirstName == "" {
			s.ExtractedFirstName = exp.FirstName
		}
		if s.ExtractedLastName == "" {
			s.ExtractedLastName = exp.LastName
		}
	}
	if poa := d.ProofOfAddress; poa != nil {
		s.AddressVerified = poa.Status == "Approved"
	}
	return s
}

// ChecksPreview mirrors the per-service check statuses returned to the SPA
// right after session creation.
type ChecksPreview struct {
	IDVerification string `json:"id_verification,omitempty"`
	NFC            string `json:"nfc,omitempty"`
	Liveness       string `json:"liveness,omitempty"`
	FaceMatch      string `json:"face_match,omitempty"`
	AML            string `json:"aml,omitempty"`
	POA            string `json:"poa,omitempty"`
}

// PreviewChecks builds the checks preview from a primed decision. A nil
// decision yields the zero preview.
func PreviewChecks(d *Decision) ChecksPreview {
	if d == nil {
		return ChecksPreview{}
	}
	var p ChecksPreview
	if d.IDVerification != nil {
		p.IDVerification = d.IDVerification.Status
	}
	if d.NFC != nil {
		p.NFC = d.NFC.Status
	}
	if d.Liveness != nil {
		p.Liveness = d.Liveness.Status
	}
	if d.FaceMatch != nil {
		p.FaceMatch = d.FaceMatch.Status
	}
	if d.AML != nil {
		p.AML = d.AML.Status
	}
	if d.POA != nil {
		p.POA = d.POA.Status
	}
	return p
}
