package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"kyc-service/internal/config"
	"kyc-service/internal/kyc"
	"kyc-service/internal/util"
)

// StatusError carries the HTTP status of a failed provider call so callers
// can make per-status retry decisions.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider status %d: %s", e.StatusCode, util.TruncateString(e.Body, 200))
}

// ForbiddenError is the distinct 403 condition from session creation: the
// key or workflow is not entitled, which needs operator action rather than
// a retry.
type ForbiddenError struct {
	RequestID string
	Body      string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("provider rejected workflow (request %s): %s", e.RequestID, util.TruncateString(e.Body, 400))
}

// Client talks to the verification provider. Every call carries an explicit
// deadline supplied by the caller's context.
type Client struct {
	baseURL    string
	apiKey     string
	workflowID string
	frontBase  string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewClient(cfg *config.Config, logger *zap.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(cfg.Provider.BaseURL, "/"),
		apiKey:     cfg.Provider.APIKey,
		workflowID: cfg.Provider.WorkflowID,
		frontBase:  strings.TrimRight(cfg.Provider.FrontBaseURL, "/"),
		// Per-call deadlines come from contexts; the client-level timeout
		// is only a backstop.
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

// CreateSessionRequest is the provider session-creation payload.
type CreateSessionRequest struct {
	ReferenceID    string         `json:"reference_id"`
	WorkflowID     string         `json:"workflow_id"`
	Delivery       string         `json:"delivery"`
	SuccessURL     string         `json:"success_url,omitempty"`
	CancelURL      string         `json:"cancel_url,omitempty"`
	ContactDetails ContactDetails `json:"contact_details"`
}

type ContactDetails struct {
	Email     string `json:"email"`
	EmailLang string `json:"email_lang,omitempty"`
}

// CreateResult is the provider's answer to session creation after the
// extractor chain has resolved the ambiguous response shape.
type CreateResult struct {
	ProviderSessionID string
	HostedURL         string
	EmbedToken        string
	RawStatus         string
}

// CreateSession opens a provider verification session. The idempotency key
// makes the call safe to retry without creating duplicate provider
// sessions. Timeout and network errors surface to the caller: no session
// exists yet to fall back on.
func (c *Client) CreateSession(ctx context.Context, userID, email, mode, language, idempotencyKey string) (*CreateResult, error) {
	delivery := "hosted"
	if mode == "embed" {
		delivery = "embedded"
	}
	payload := CreateSessionRequest{
		ReferenceID: userID,
		WorkflowID:  c.workflowID,
		Delivery:    delivery,
		ContactDetails: ContactDetails{
			Email:     email,
			EmailLang: language,
		},
	}
	if c.frontBase != "" {
		payload.SuccessURL = c.frontBase + "/kyc/success"
		payload.CancelURL = c.frontBase + "/kyc/cancel"
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal create payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/session/", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("provider create session: timeout: %w", err)
		}
		return nil, fmt.Errorf("provider create session: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode == http.StatusForbidden {
		return nil, &ForbiddenError{
			RequestID: resp.Header.Get("x-request-id"),
			Body:      string(raw),
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	result := extractCreateResult(raw, resp.Header)
	if result.ProviderSessionID == "" {
		c.logger.Warn("provider create response carried no session id",
			util.String("user_id", userID),
			util.Int("body_len", len(raw)),
		)
	}
	return result, nil
}

// FetchDecision retrieves the decision document for a provider session with
// a single GET. The caller bounds latency through ctx.
func (c *Client) FetchDecision(ctx context.Context, providerSessionID string) (*kyc.Decision, error) {
	u := c.baseURL + "/session/" + url.PathEscape(providerSessionID) + "/decision/"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider decision fetch: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var decision kyc.Decision
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &decision); err != nil {
			return nil, fmt.Errorf("provider decision decode: %w", err)
		}
	}
	return &decision, nil
}

// FetchDecisionWithRetry retries only on 404: the decision may not have
// materialized yet. Any other failure returns immediately. Backoff is
// linear (250ms, 500ms).
func (c *Client) FetchDecisionWithRetry(ctx context.Context, providerSessionID string, attempts int) (*kyc.Decision, error) {
	var lastErr error
	for i := 0; i < attempts; i++ {
		decision, err := c.FetchDecision(ctx, providerSessionID)
		if err == nil {
			return decision, nil
		}
		lastErr = err

		var se *StatusError
		if !errors.As(err, &se) || se.StatusCode != http.StatusNotFound {
			return nil, err
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(i+1) * 250 * time.Millisecond):
		}
	}
	return nil, lastErr
}

// GetSession polls the current provider-side status for a session.
func (c *Client) GetSession(ctx context.Context, providerSessionID string) (string, error) {
	u := c.baseURL + "/session/" + url.PathEscape(providerSessionID) + "/"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("provider session poll: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &StatusError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var body struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return "", fmt.Errorf("provider session decode: %w", err)
	}
	return body.Status, nil
}
