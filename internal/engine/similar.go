package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/quietvoice/prism/internal/store"
)

// SimilarResult pairs an incident with its similarity to a query.
type SimilarResult struct {
	Incident   store.Incident `json:"incident"`
	Similarity float64        `json:"similarity"`
}

// FindSimilar ranks a user's live incidents by vector similarity to free
// text. Requires an embedder.
func (e *Engine) FindSimilar(ctx context.Context, userID, query string, limit int) ([]SimilarResult, error) {
	if !e.Config.Features.Similarity {
		return nil, fmt.Errorf("similarity search is disabled")
	}
	if e.Embedder == nil {
		return nil, fmt.Errorf("no embedder configured")
	}
	if limit <= 0 || limit > e.Config.Query.MaxSimilarResults {
		limit = e.Config.Query.MaxSimilarResults
	}

	queryVec, err := e.Embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	vectors, err := e.DB.UserVectors(userID)
	if err != nil {
		return nil, fmt.Errorf("load vectors: %w", err)
	}
	if len(vectors) == 0 {
		return nil, nil
	}

	incidents, err := e.DB.ListUserIncidents(userID)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]store.Incident, len(incidents))
	for _, inc := range incidents {
		byID[inc.IncidentID] = inc
	}

	var results []SimilarResult
	for _, v := range vectors {
		inc, ok := byID[v.IncidentID]
		if !ok || inc.UserSuppressed {
			continue
		}
		sim := CosineSimilarity(queryVec, v.Embedding)
		if sim < e.Config.Query.MinSimilarity {
			continue
		}
		results = append(results, SimilarResult{Incident: inc, Similarity: sim})
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}
