package vectorindex

import (
	"context"
	"time"
)

// Comparison is the outcome of one metric in CompareMetrics.
type Comparison struct {
	Metric   Metric
	Results  []Result
	TopScore float64
	Quality  Band
	Elapsed  time.Duration
}

// CompareMetrics embeds text once and runs the search under every metric.
func (ix *Index) CompareMetrics(ctx context.Context, text string, k int) ([]Comparison, error) {
	if ix.embedder == nil {
		return nil, ErrNoEmbedder
	}
	query, err := ix.embedder.EmbedOne(ctx, text)
	if err != nil {
		return nil, err
	}

	out := make([]Comparison, 0, len(Metrics))
	for _, m := range Metrics {
		start := time.Now()
		results, err := ix.Search(query, k, m)
		if err != nil {
			return nil, err
		}
		c := Comparison{Metric: m, Results: results, Quality: NoResults, Elapsed: time.Since(start)}
		if len(results) > 0 {
			c.TopScore = results[0].Score
			c.Quality = Quality(m, c.TopScore)
		}
		ix.logger.Info().
			Str("metric", m.String()).
			Float64("top_score", c.TopScore).
			Str("quality", c.Quality.String()).
			Dur("elapsed", c.Elapsed).
			Msg("Metric compared")
		out = append(out, c)
	}
	return out, nil
}
