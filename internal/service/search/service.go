package search

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"

	"filevault/internal/models"
	"filevault/internal/service/ai"
	"filevault/internal/service/vault"
)

const (
	// RelevanceThreshold drops low-similarity matches; precision over recall.
	RelevanceThreshold = 0.3
	MaxResults         = 10
)

// Result is one ranked match.
type Result struct {
	File           *models.StoredFile `json:"file"`
	RelevanceScore float64            `json:"relevance_score"`
	Reason         string             `json:"reason"`
}

// Service ranks an owner's enriched files against a query by cosine
// similarity of pre-computed embeddings. It never mutates state and never
// calls the analysis model; the only external cost is embedding the query.
type Service struct {
	vault    *vault.Service
	embedder ai.Embedder
}

// NewService builds the search engine. embedder must be the same
// implementation enrichment uses — vectors from different models are not
// comparable.
func NewService(v *vault.Service, embedder ai.Embedder) *Service {
	return &Service{vault: v, embedder: embedder}
}

// Search returns up to MaxResults files ranked by similarity to query,
// newest-upload-first among ties. It fails closed: any embedding
// unavailability yields an empty result set, not an error.
func (s *Service) Search(ctx context.Context, ownerID, query string) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" || s.embedder == nil {
		return []Result{}, nil
	}

	queryVec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		log.Printf("query embedding unavailable: %v", err)
		return []Result{}, nil
	}

	candidates, err := s.vault.EmbeddedFiles(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(candidates))
	for _, f := range candidates {
		if f.Metadata == nil || len(f.Metadata.Embedding) == 0 {
			continue
		}
		score := cosineSimilarity(queryVec, f.Metadata.Embedding)
		if score < RelevanceThreshold {
			continue
		}
		results = append(results, Result{
			File:           f,
			RelevanceScore: score,
			Reason:         fmt.Sprintf("Semantic similarity: %.2f", score),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].RelevanceScore > results[j].RelevanceScore
	})
	if len(results) > MaxResults {
		results = results[:MaxResults]
	}
	return results, nil
}

// cosineSimilarity returns 0 for mismatched dimensions or zero vectors, so
// such candidates fall under the relevance threshold instead of erroring.
func cosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
