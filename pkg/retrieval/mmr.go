package retrieval

import (
	"github.com/tobyv/researchmem/pkg/embedding"
	"github.com/tobyv/researchmem/pkg/evidence"
)

// mmrSelect picks up to k hits by Maximal Marginal Relevance: each round
// takes the candidate maximizing λ·relevance − (1−λ)·max-similarity to
// the already-selected set. Relevance is the candidate's current Score
// (kNN or reranked); inter-candidate similarity uses the chunk vectors.
func mmrSelect(candidates []evidence.Hit, k int, lambda float64) []evidence.Hit {
	if k <= 0 || len(candidates) == 0 {
		return nil
	}
	if k > len(candidates) {
		k = len(candidates)
	}

	selected := make([]evidence.Hit, 0, k)
	chosen := make([]bool, len(candidates))

	for len(selected) < k {
		bestIdx := -1
		bestScore := 0.0
		for i, cand := range candidates {
			if chosen[i] {
				continue
			}
			maxSim := 0.0
			for _, sel := range selected {
				if sim := embedding.Cosine(cand.Vector, sel.Vector); sim > maxSim {
					maxSim = sim
				}
			}
			score := lambda*cand.Score - (1-lambda)*maxSim
			if bestIdx == -1 || score > bestScore {
				bestIdx, bestScore = i, score
			}
		}
		if bestIdx == -1 {
			break
		}
		chosen[bestIdx] = true
		selected = append(selected, candidates[bestIdx])
	}
	return selected
}
