package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/merchantry/catalog/internal/domain"
	"github.com/merchantry/catalog/internal/logger"
)

// RetrievalService answers free-text product queries with two-stage
// retrieval: a cheap vector-similarity recall pass overfetching 2k
// candidates, then a cross-encoder rerank over that small set. Overfetching
// buys materially better final ordering than trusting raw similarity alone.
type RetrievalService struct {
	embedder Embedder
	index    VectorIndex
	reranker Reranker
	store    ProductStore
	logger   *logger.Logger

	defaultTopK int
	maxTopK     int
}

// RetrievalConfig holds configuration for the retrieval service.
type RetrievalConfig struct {
	DefaultTopK int
	MaxTopK     int
}

// NewRetrievalService creates a new retrieval orchestrator.
func NewRetrievalService(embedder Embedder, index VectorIndex, reranker Reranker, store ProductStore, log *logger.Logger, cfg *RetrievalConfig) *RetrievalService {
	defaultTopK, maxTopK := 5, 50
	if cfg != nil {
		if cfg.DefaultTopK > 0 {
			defaultTopK = cfg.DefaultTopK
		}
		if cfg.MaxTopK > 0 {
			maxTopK = cfg.MaxTopK
		}
	}
	return &RetrievalService{
		embedder:    embedder,
		index:       index,
		reranker:    reranker,
		store:       store,
		logger:      log,
		defaultTopK: defaultTopK,
		maxTopK:     maxTopK,
	}
}

func (s *RetrievalService) log(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != nil {
		return l
	}
	return s.logger
}

// Search returns up to topK products for a merchant ranked by rerank score
// descending. Zero vector hits yield an empty result without error; deleted
// products are silently dropped at hydration, so fewer than topK items is a
// legitimate outcome. A rerank failure is returned to the caller: skipping
// rerank would silently hand back low-quality unordered results.
func (s *RetrievalService) Search(ctx context.Context, merchantID, text string, topK int) ([]domain.ProductHit, error) {
	if topK <= 0 {
		topK = s.defaultTopK
	}
	if topK > s.maxTopK {
		topK = s.maxTopK
	}

	queryVector, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	hits, err := s.index.Search(ctx, queryVector, topK*2, merchantID)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	if len(hits) == 0 {
		return []domain.ProductHit{}, nil
	}

	// Candidate texts stay name-only to keep the rerank payload small.
	candidates := make([]string, len(hits))
	for i, hit := range hits {
		name := ""
		if hit.Payload != nil {
			name = hit.Payload.Name
		}
		candidates[i] = "Name: " + name
	}

	scores, err := s.reranker.Rerank(ctx, text, candidates)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrRerankUnavailable, err)
	}

	type scoredHit struct {
		productID string
		score     float32
	}
	scored := make([]scoredHit, 0, len(scores))
	for i, res := range scores {
		if hits[i].Payload == nil {
			continue
		}
		scored = append(scored, scoredHit{
			productID: hits[i].Payload.ProductID,
			score:     res.Score,
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].score > scored[j].score
	})
	if len(scored) > topK {
		scored = scored[:topK]
	}

	ids := make([]string, len(scored))
	scoreByID := make(map[string]float32, len(scored))
	for i, sh := range scored {
		ids[i] = sh.productID
		scoreByID[sh.productID] = sh.score
	}

	products, err := s.store.GetByIDs(ctx, ids, merchantID)
	if err != nil {
		return nil, fmt.Errorf("failed to hydrate products: %w", err)
	}

	results := make([]domain.ProductHit, 0, len(products))
	for _, p := range products {
		results = append(results, domain.ProductHit{
			Product: p,
			Score:   scoreByID[p.ID],
		})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	s.log(ctx).WithFields(logger.Fields{
		logger.FieldMerchantID: merchantID,
		logger.FieldCount:      len(results),
	}).Debug("Semantic search completed")

	return results, nil
}
