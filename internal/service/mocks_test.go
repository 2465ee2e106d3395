package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"kyc-service/internal/config"
	"kyc-service/internal/kyc"
	"kyc-service/internal/models"
	"kyc-service/internal/repository/clickhouse"
	"kyc-service/internal/search"
	"kyc-service/internal/stream"
)

func testConfig(providerURL string) *config.Config {
	cfg := &config.Config{Environment: "test"}
	cfg.Provider.BaseURL = providerURL
	cfg.Provider.APIKey = "test-key"
	cfg.Provider.WorkflowID = "wf-1"
	cfg.Provider.WebhookSecret = "whsec"
	cfg.Provider.CreateTimeout = 2 * time.Second
	cfg.Provider.RefreshTimeout = 2 * time.Second
	cfg.Provider.PrimeTimeout = time.Second
	cfg.Provider.DecisionTimeout = 2 * time.Second
	cfg.Provider.MaxSkew = 300 * time.Second
	cfg.Hashing.Argon2MemoryCost = 1024
	cfg.Hashing.Argon2TimeCost = 1
	cfg.Hashing.Argon2Parallelism = 1
	cfg.Hashing.Pepper = "pepper"
	cfg.Bucketing.UserBuckets = 16
	return cfg
}

type fakeSessionRepo struct {
	mu      sync.Mutex
	byID    map[string]*models.VerificationSession
	updates int
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{byID: map[string]*models.VerificationSession{}}
}

func (r *fakeSessionRepo) clone(s *models.VerificationSession) *models.VerificationSession {
	if s == nil {
		return nil
	}
	copied := *s
	return &copied
}

func (r *fakeSessionRepo) CreateWithSupersede(_ context.Context, session *models.VerificationSession, superseded []*models.VerificationSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[session.ID] = r.clone(session)
	for _, prior := range superseded {
		r.byID[prior.ID] = r.clone(prior)
	}
	return nil
}

func (r *fakeSessionRepo) GetByID(_ context.Context, id string) (*models.VerificationSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clone(r.byID[id]), nil
}

func (r *fakeSessionRepo) GetByProviderSessionID(_ context.Context, providerSessionID string) (*models.VerificationSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.byID {
		if s.Audit.ProviderSessionID == providerSessionID {
			return r.clone(s), nil
		}
	}
	return nil, nil
}

func (r *fakeSessionRepo) userSessions(ownerID string) []*models.VerificationSession {
	var sessions []*models.VerificationSession
	for _, s := range r.byID {
		if s.OwnerID == ownerID {
			sessions = append(sessions, s)
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	return sessions
}

func (r *fakeSessionRepo) LatestForUser(_ context.Context, _ int, ownerID string) (*models.VerificationSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sessions := r.userSessions(ownerID)
	if len(sessions) == 0 {
		return nil, nil
	}
	return r.clone(sessions[0]), nil
}

func (r *fakeSessionRepo) ListForUser(_ context.Context, _ int, ownerID string, limit int) ([]*models.VerificationSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sessions := r.userSessions(ownerID)
	out := make([]*models.VerificationSession, 0, len(sessions))
	for i, s := range sessions {
		if limit > 0 && i >= limit {
			break
		}
		out = append(out, r.clone(s))
	}
	return out, nil
}

func (r *fakeSessionRepo) Update(_ context.Context, session *models.VerificationSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates++
	r.byID[session.ID] = r.clone(session)
	return nil
}

func (r *fakeSessionRepo) HealthCheck(context.Context) error { return nil }

type fakeUserRepo struct {
	mu         sync.Mutex
	flags      map[string]kyc.UserFlag
	flagWrites int
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{flags: map[string]kyc.UserFlag{}}
}

func (r *fakeUserRepo) GetUser(_ context.Context, userID string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	flag, ok := r.flags[userID]
	if !ok {
		return nil, nil
	}
	return &models.User{UserID: userID, KYCVerification: flag}, nil
}

func (r *fakeUserRepo) UpsertUser(_ context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flags[user.UserID] = user.KYCVerification
	r.flagWrites++
	return nil
}

func (r *fakeUserRepo) UpdateVerificationFlag(_ context.Context, userID string, flag kyc.UserFlag) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flags[userID] = flag
	r.flagWrites++
	return nil
}

// fakeEventCache optionally disables its filtering so tests can reach
// the authoritative lastEventId check.
type fakeEventCache struct {
	mu          sync.Mutex
	seen        map[string]bool
	passThrough bool
}

func newFakeEventCache(passThrough bool) *fakeEventCache {
	return &fakeEventCache{seen: map[string]bool{}, passThrough: passThrough}
}

func (c *fakeEventCache) MarkApplied(_ context.Context, eventKey string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	first := !c.seen[eventKey]
	c.seen[eventKey] = true
	if c.passThrough {
		return true, nil
	}
	return first, nil
}

type fakeEventLog struct {
	mu      sync.Mutex
	entries []clickhouse.AppliedEvent
}

func (l *fakeEventLog) Append(_ context.Context, event clickhouse.AppliedEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, event)
	return nil
}

type emittedEvent struct {
	UserID  string
	Event   string
	Payload any
}

type fakeRegistry struct {
	mu     sync.Mutex
	emits  []emittedEvent
	online map[string]bool
}

func (r *fakeRegistry) EmitToUser(_ context.Context, userID, event string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emits = append(r.emits, emittedEvent{UserID: userID, Event: event, Payload: payload})
	return nil
}

func (r *fakeRegistry) IsOnline(_ context.Context, userID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.online[userID], nil
}

func (r *fakeRegistry) MarkOnline(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.online == nil {
		r.online = map[string]bool{}
	}
	r.online[userID] = true
	return nil
}

func (r *fakeRegistry) MarkOffline(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.online, userID)
	return nil
}

type fakeIndexer struct {
	mu      sync.Mutex
	indexed []string
	result  *search.SearchResult
}

func (i *fakeIndexer) IndexSession(_ context.Context, session *models.VerificationSession) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.indexed = append(i.indexed, session.ID)
	return nil
}

func (i *fakeIndexer) SearchSessions(context.Context, search.AdminQuery) (*search.SearchResult, error) {
	if i.result != nil {
		return i.result, nil
	}
	return &search.SearchResult{Sessions: []search.SessionDocument{}}, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []stream.StatusEvent
}

func (p *fakePublisher) PublishStatusChange(_ context.Context, event stream.StatusEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}
