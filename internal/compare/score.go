package compare

import "sort"

// PlaceholderQuality is used when no judge verdict is available.
const PlaceholderQuality = 7.0

// Score weights. Quality dominates because latency differences between free
// providers are mostly noise.
const (
	speedWeight      = 0.25
	qualityWeight    = 0.50
	efficiencyWeight = 0.25
)

// Scores holds the per-dimension marks and their weighted blend, all on a
// 0 to 10 scale.
type Scores struct {
	Speed      float64 `json:"speed"`
	Quality    float64 `json:"quality"`
	Efficiency float64 `json:"efficiency"`
	Overall    float64 `json:"overall"`
}

func scoreResult(r ModelResult, quality float64) Scores {
	s := Scores{
		Speed:      speedScore(r.TTFTMs, r.TokensPerSecond),
		Quality:    quality,
		Efficiency: efficiencyScore(r.CompletionTokens),
	}
	s.Overall = speedWeight*s.Speed + qualityWeight*s.Quality + efficiencyWeight*s.Efficiency
	return s
}

// speedScore starts from time to first token (every 100ms costs a point)
// with a bonus of up to 2 points for throughput above 50 tokens/s.
func speedScore(ttftMs float64, tps *float64) float64 {
	score := clamp(10-ttftMs/100, 0, 10)
	if tps != nil && *tps > 50 {
		bonus := (*tps - 50) / 50
		if bonus > 2 {
			bonus = 2
		}
		score = clamp(score+bonus, 0, 10)
	}
	return score
}

// efficiencyScore rewards substantial answers: one point per 50 completion
// tokens, floored at 1 so a terse correct answer is not zeroed out.
func efficiencyScore(completionTokens int) float64 {
	return clamp(float64(completionTokens)/50, 1, 10)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// rankResults orders best overall first, model id breaking ties so the
// ranking is deterministic.
func rankResults(results []ModelResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Scores.Overall != results[j].Scores.Overall {
			return results[i].Scores.Overall > results[j].Scores.Overall
		}
		return results[i].Model < results[j].Model
	})
}

// median of a non-empty sample.
func median(values []float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
