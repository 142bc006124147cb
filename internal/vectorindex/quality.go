package vectorindex

// Band is a human-readable quality label for a score.
type Band int

const (
	Excellent Band = iota
	VeryGood
	Good
	Moderate
	Poor
	VeryPoor
	// NoResults marks a search that returned nothing to grade.
	NoResults
)

var bandLabels = [...]string{
	Excellent: "[EXCELLENT] Perfect match",
	VeryGood:  "[VERY GOOD] Very good match",
	Good:      "[GOOD] Good match",
	Moderate:  "[MODERATE] Moderate match",
	Poor:      "[POOR] Poor match",
	VeryPoor:  "[VERY POOR] Very poor match",
	NoResults: "[NONE] No results",
}

func (b Band) String() string { return bandLabels[b] }

// Thresholds per band from Excellent to Poor; anything past the last one is
// VeryPoor. Distance thresholds are tuned for 1536-dimensional embeddings.
var bandThresholds = map[Metric][5]float64{
	Cosine:     {0.9, 0.8, 0.7, 0.6, 0.5},
	Euclidean:  {0.05, 0.15, 0.25, 0.4, 0.7},
	Manhattan:  {0.1, 0.3, 0.5, 0.8, 1.5},
	DotProduct: {0.6, 0.4, 0.2, 0.1, 0.0},
}

// Quality maps a raw score to its band under the given metric.
func Quality(m Metric, score float64) Band {
	for i, t := range bandThresholds[m] {
		if m.HigherIsBetter() && score >= t || !m.HigherIsBetter() && score <= t {
			return Band(i)
		}
	}
	return VeryPoor
}

// FilterRelevant keeps results that meet threshold: at or above it for
// similarities, at or below it for distances. Order is preserved.
func FilterRelevant(results []Result, m Metric, threshold float64) []Result {
	out := make([]Result, 0, len(results))
	for _, r := range results {
		if m.HigherIsBetter() && r.Score >= threshold || !m.HigherIsBetter() && r.Score <= threshold {
			out = append(out, r)
		}
	}
	return out
}
