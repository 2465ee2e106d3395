package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"kyc-service/internal/client"
	"kyc-service/internal/kyc"
	"kyc-service/internal/models"
	"kyc-service/internal/util"
)

// SessionDocument is the searchable projection of a session. No
// document numbers or personal fields are indexed, only routing and
// workflow state.
type SessionDocument struct {
	SessionID         string     `json:"session_id"`
	UserID            string     `json:"user_id"`
	ProviderSessionID string     `json:"provider_session_id,omitempty"`
	Status            kyc.Status `json:"status"`
	Terminal          bool       `json:"terminal"`
	ReviewRequired    bool       `json:"review_required"`
	DecisionStatus    string     `json:"decision_status,omitempty"`
	LastEventType     string     `json:"last_event_type,omitempty"`
	LastEventAt       *time.Time `json:"last_event_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// AdminQuery filters the back-office session listing.
type AdminQuery struct {
	Status         string
	UserID         string
	ReviewRequired *bool
	From           int
	Size           int
}

type SearchResult struct {
	Sessions []SessionDocument `json:"sessions"`
	Total    int64             `json:"total"`
	From     int               `json:"from"`
	Size     int               `json:"size"`
}

// Indexer keeps the admin search index in step with the session store.
// Indexing is best effort; a failed write is logged and retried on the
// next status change.
type Indexer interface {
	IndexSession(ctx context.Context, session *models.VerificationSession) error
	SearchSessions(ctx context.Context, query AdminQuery) (*SearchResult, error)
}

type esIndexer struct {
	es     *client.ESClient
	logger *zap.Logger
}

func NewESIndexer(esClient *client.ESClient, logger *zap.Logger) Indexer {
	return &esIndexer{
		es:     esClient,
		logger: logger,
	}
}

func documentFromSession(session *models.VerificationSession) SessionDocument {
	doc := SessionDocument{
		SessionID:         session.ID,
		UserID:            session.OwnerID,
		ProviderSessionID: session.Audit.ProviderSessionID,
		Status:            session.Status,
		Terminal:          kyc.Terminal(session.Status),
		ReviewRequired:    session.ManualReview.Required,
		LastEventType:     session.Audit.LastEventType,
		LastEventAt:       session.Audit.LastEventAt,
		CreatedAt:         session.CreatedAt,
		UpdatedAt:         session.UpdatedAt,
	}
	if session.Audit.DecisionSnapshot != nil {
		doc.DecisionStatus = session.Audit.DecisionSnapshot.Status
	}
	return doc
}

func (i *esIndexer) IndexSession(ctx context.Context, session *models.VerificationSession) error {
	doc := documentFromSession(session)

	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode session document: %w", err)
	}

	res, err := i.es.Client.Index(
		i.es.Index(),
		bytes.NewReader(body),
		i.es.Client.Index.WithDocumentID(doc.SessionID),
		i.es.Client.Index.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("failed to index session %s: %w", doc.SessionID, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("failed to index session %s: %s", doc.SessionID, res.String())
	}

	i.logger.Debug("session indexed", util.String("session_id", doc.SessionID))
	return nil
}

func buildFilters(query AdminQuery) []map[string]any {
	var filters []map[string]any
	if query.Status != "" {
		filters = append(filters, map[string]any{
			"term": map[string]any{"status": query.Status},
		})
	}
	if query.UserID != "" {
		filters = append(filters, map[string]any{
			"term": map[string]any{"user_id": query.UserID},
		})
	}
	if query.ReviewRequired != nil {
		filters = append(filters, map[string]any{
			"term": map[string]any{"review_required": *query.ReviewRequired},
		})
	}
	return filters
}

// SearchSessions runs the page fetch and the total count in parallel.
func (i *esIndexer) SearchSessions(ctx context.Context, query AdminQuery) (*SearchResult, error) {
	if query.Size <= 0 || query.Size > 100 {
		query.Size = 25
	}
	if query.From < 0 {
		query.From = 0
	}

	filters := buildFilters(query)
	boolQuery := map[string]any{"bool": map[string]any{"filter": filters}}
	if len(filters) == 0 {
		boolQuery = map[string]any{"match_all": map[string]any{}}
	}

	result := &SearchResult{
		Sessions: []SessionDocument{},
		From:     query.From,
		Size:     query.Size,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		searchBody, err := json.Marshal(map[string]any{
			"query": boolQuery,
			"from":  query.From,
			"size":  query.Size,
			"sort":  []map[string]any{{"updated_at": map[string]any{"order": "desc"}}},
		})
		if err != nil {
			return err
		}

		res, err := i.es.Client.Search(
			i.es.Client.Search.WithContext(gctx),
			i.es.Client.Search.WithIndex(i.es.Index()),
			i.es.Client.Search.WithBody(bytes.NewReader(searchBody)),
		)
		if err != nil {
			return fmt.Errorf("session search failed: %w", err)
		}
		defer res.Body.Close()

		if res.IsError() {
			return fmt.Errorf("session search failed: %s", res.String())
		}

		var parsed struct {
			Hits struct {
				Hits []struct {
					Source SessionDocument `json:"_source"`
				} `json:"hits"`
			} `json:"hits"`
		}
		if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
			return fmt.Errorf("failed to decode search response: %w", err)
		}
		for _, hit := range parsed.Hits.Hits {
			result.Sessions = append(result.Sessions, hit.Source)
		}
		return nil
	})

	g.Go(func() error {
		countBody, err := json.Marshal(map[string]any{"query": boolQuery})
		if err != nil {
			return err
		}

		res, err := i.es.Client.Count(
			i.es.Client.Count.WithContext(gctx),
			i.es.Client.Count.WithIndex(i.es.Index()),
			i.es.Client.Count.WithBody(bytes.NewReader(countBody)),
		)
		if err != nil {
			return fmt.Errorf("session count failed: %w", err)
		}
		defer res.Body.Close()

		if res.IsError() {
			return fmt.Errorf("session count failed: %s", res.String())
		}

		var parsed struct {
			Count int64 `json:"count"`
		}
		if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
			return fmt.Errorf("failed to decode count response: %w", err)
		}
		result.Total = parsed.Count
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}
