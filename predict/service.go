package predict

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

const DefaultTopK = 3

var (
	ErrNoSymptoms  = errors.New("symptoms list is required")
	ErrInvalidTopK = errors.New("top_k must be at least 1")
)

// Catalog is the reference data shown next to a prediction.
type Catalog interface {
	Description(label string) string
	Precautions(label string) []string
	Severity(symptom string) int
}

type Result struct {
	Disease     string   `json:"disease"`
	Confidence  float64  `json:"confidence"`
	Description string   `json:"description"`
	Precautions []string `json:"precautions"`
}

type SymptomWeight struct {
	Symptom string `json:"symptom"`
	Weight  int    `json:"weight"`
}

type Response struct {
	Predictions       []Result        `json:"predictions"`
	ReportedSymptoms  int             `json:"reported_symptoms"`
	SeverityScore     int             `json:"severity_score"`
	SeverityBreakdown []SymptomWeight `json:"severity_breakdown"`
	Degraded          bool            `json:"-"`
}

type Service struct {
	classifier Classifier
	catalog    Catalog
	timeout    time.Duration
}

func NewService(classifier Classifier, catalog Catalog, timeout time.Duration) *Service {
	return &Service{classifier: classifier, catalog: catalog, timeout: timeout}
}

func (s *Service) Symptoms() []string {
	return s.classifier.Vocabulary()
}

// Predict validates the request, asks the classifier under the configured
// timeout and decorates the top k labels with catalog data.
func (s *Service) Predict(ctx context.Context, symptoms []string, topK int) (Response, error) {
	cleaned := make([]string, 0, len(symptoms))
	for _, sym := range symptoms {
		if sym = strings.TrimSpace(sym); sym != "" {
			cleaned = append(cleaned, sym)
		}
	}
	if len(cleaned) == 0 {
		return Response{}, ErrNoSymptoms
	}
	if topK < 1 {
		return Response{}, ErrInvalidTopK
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	prediction, err := s.classifier.Predict(ctx, cleaned)
	if err != nil {
		return Response{}, fmt.Errorf("classifier: %w", err)
	}

	ranked := Rank(prediction, topK)
	results := make([]Result, len(ranked))
	for i, r := range ranked {
		results[i] = Result{
			Disease:     r.Label,
			Confidence:  r.Confidence,
			Description: s.catalog.Description(r.Label),
			Precautions: s.catalog.Precautions(r.Label),
		}
	}

	severity := 0
	breakdown := make([]SymptomWeight, len(cleaned))
	for i, sym := range cleaned {
		weight := s.catalog.Severity(sym)
		breakdown[i] = SymptomWeight{Symptom: sym, Weight: weight}
		severity += weight
	}
	// Heaviest first; equal weights keep the order they were reported in.
	sort.SliceStable(breakdown, func(i, j int) bool {
		return breakdown[i].Weight > breakdown[j].Weight
	})

	return Response{
		Predictions:       results,
		ReportedSymptoms:  len(cleaned),
		SeverityScore:     severity,
		SeverityBreakdown: breakdown,
		Degraded:          !prediction.HasDistribution(),
	}, nil
}
