package predict

import (
	"context"
	"sort"
)

// Prediction is what a classifier hands back: either a full distribution
// (Labels and Probabilities, index aligned) or, when it cannot produce one,
// just its single best label.
type Prediction struct {
	Labels        []string
	Probabilities []float64
	Best          string
}

func (p Prediction) HasDistribution() bool {
	return len(p.Labels) > 0 && len(p.Probabilities) > 0
}

// Classifier is the symptom model. Vocabulary lists every symptom it knows.
type Classifier interface {
	Vocabulary() []string
	Predict(ctx context.Context, symptoms []string) (Prediction, error)
}

type Ranked struct {
	Label      string
	Confidence float64
}

// Rank orders labels by probability, highest first, keeping the original
// label order for ties, and returns at most k entries. A prediction without a
// distribution ranks as its best label at confidence 1.
func Rank(p Prediction, k int) []Ranked {
	if k <= 0 {
		return []Ranked{}
	}
	if !p.HasDistribution() {
		return []Ranked{{Label: p.Best, Confidence: 1.0}}
	}

	n := min(len(p.Labels), len(p.Probabilities))
	ranked := make([]Ranked, n)
	for i := range n {
		ranked[i] = Ranked{Label: p.Labels[i], Confidence: p.Probabilities[i]}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Confidence > ranked[j].Confidence
	})
	return ranked[:min(k, n)]
}
