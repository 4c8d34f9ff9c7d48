package engine

import (
	"context"

	"github.com/opsknowledge/retrieval-service/internal/embedding"
	"github.com/opsknowledge/retrieval-service/pkg/model"
)

// rerankDiverse reorders the top candidates by Maximal Marginal Relevance to
// reduce near-duplicate results when many documents describe the same
// runbook family. It only reorders the already-scored, already-filtered
// slice within the first considerWindow entries; it never changes a
// document's ConfidenceScore, so the documented score-desc ranking
// invariant holds for anything this pass doesn't reach.
func (e *Engine) rerankDiverse(ctx context.Context, scored []*model.Document, queryVec []float32, considerWindow int) []*model.Document {
	if considerWindow <= 0 || considerWindow > len(scored) {
		considerWindow = len(scored)
	}
	window := scored[:considerWindow]
	rest := scored[considerWindow:]

	vectors := make([][]float32, len(window))
	for i, doc := range window {
		rec, err := e.store.Embed(ctx, doc.ID, doc.Title+"\n"+doc.Content)
		if err != nil {
			return scored
		}
		vectors[i] = rec.Vector
	}

	selected := []int{0}
	remaining := make([]int, 0, len(window)-1)
	for i := 1; i < len(window); i++ {
		remaining = append(remaining, i)
	}

	for len(remaining) > 0 {
		bestPos, bestIdx := -1, -1
		bestScore := -1.0

		for pos, idx := range remaining {
			relevance := embedding.CosineSimilarity(vectors[idx], queryVec)

			maxSim := 0.0
			for _, selIdx := range selected {
				sim := embedding.CosineSimilarity(vectors[idx], vectors[selIdx])
				if sim > maxSim {
					maxSim = sim
				}
			}

			mmrScore := e.cfg.MMRLambda*relevance - (1-e.cfg.MMRLambda)*maxSim
			if mmrScore > bestScore {
				bestScore = mmrScore
				bestIdx = idx
				bestPos = pos
			}
		}

		selected = append(selected, bestIdx)
		remaining = append(remaining[:bestPos], remaining[bestPos+1:]...)
	}

	reranked := make([]*model.Document, 0, len(scored))
	for _, idx := range selected {
		reranked = append(reranked, window[idx])
	}
	return append(reranked, rest...)
}
