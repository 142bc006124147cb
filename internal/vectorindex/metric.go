package vectorindex

import (
	"fmt"
	"math"
	"strings"
)

// Metric selects how a query vector is scored against stored vectors.
type Metric int

const (
	Cosine Metric = iota
	Euclidean
	Manhattan
	DotProduct
)

// Metrics lists every metric in a stable order.
var Metrics = []Metric{Cosine, Euclidean, Manhattan, DotProduct}

type metricSpec struct {
	name           string
	score          func(a, b []float32) float64
	higherIsBetter bool
	scoreRange     string
}

var metricSpecs = map[Metric]metricSpec{
	Cosine:     {name: "cosine", score: CosineSimilarity, higherIsBetter: true, scoreRange: "-1.0 to 1.0"},
	Euclidean:  {name: "euclidean", score: EuclideanDistance, higherIsBetter: false, scoreRange: "0.0 to +inf"},
	Manhattan:  {name: "manhattan", score: ManhattanDistance, higherIsBetter: false, scoreRange: "0.0 to +inf"},
	DotProduct: {name: "dot_product", score: DotProductSimilarity, higherIsBetter: true, scoreRange: "-inf to +inf"},
}

func (m Metric) spec() metricSpec {
	s, ok := metricSpecs[m]
	if !ok {
		panic(fmt.Sprintf("vectorindex: unknown metric %d", int(m)))
	}
	return s
}

func (m Metric) String() string {
	if s, ok := metricSpecs[m]; ok {
		return s.name
	}
	return fmt.Sprintf("Metric(%d)", int(m))
}

func (m Metric) Valid() bool {
	_, ok := metricSpecs[m]
	return ok
}

// HigherIsBetter is true for similarity metrics and false for distances.
func (m Metric) HigherIsBetter() bool { return m.spec().higherIsBetter }

// Score applies the metric to two vectors of equal length.
func (m Metric) Score(a, b []float32) float64 { return m.spec().score(a, b) }

// Range describes the values the metric can produce.
func (m Metric) Range() string { return m.spec().scoreRange }

// Better reports whether score a ranks ahead of score b.
func (m Metric) Better(a, b float64) bool {
	if m.HigherIsBetter() {
		return a > b
	}
	return a < b
}

func ParseMetric(s string) (Metric, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	switch name {
	case "cosine_similarity":
		name = "cosine"
	case "euclidean_distance":
		name = "euclidean"
	case "manhattan_distance":
		name = "manhattan"
	case "dot", "dot_product_similarity":
		name = "dot_product"
	}
	for _, m := range Metrics {
		if metricSpecs[m].name == name {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown metric %q", s)
}

// CosineSimilarity returns dot(a,b)/(|a||b|), or 0 when either vector has
// zero norm.
func CosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func EuclideanDistance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

func ManhattanDistance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += math.Abs(float64(a[i]) - float64(b[i]))
	}
	return sum
}

func DotProductSimilarity(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
