package predict

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed knowledge.yaml
var defaultKnowledge []byte

const descriptionUnavailable = "Description not available."

type disease struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Precautions []string `yaml:"precautions"`
	Symptoms    []string `yaml:"symptoms"`
}

type knowledgeFile struct {
	Diseases []disease      `yaml:"diseases"`
	Severity map[string]int `yaml:"severity"`
}

// Knowledge is a symptom/disease table. It serves both as the classifier and
// as the reference catalog for descriptions, precautions and severities.
type Knowledge struct {
	diseases   []disease
	byName     map[string]int
	severity   map[string]int
	vocabulary []string
}

// LoadKnowledge reads a knowledge file, or the built-in table when path is
// empty.
func LoadKnowledge(path string) (*Knowledge, error) {
	data := defaultKnowledge
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("error reading knowledge file: %w", err)
		}
	}
	return ParseKnowledge(data)
}

func ParseKnowledge(data []byte) (*Knowledge, error) {
	var f knowledgeFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("error parsing knowledge file: %w", err)
	}
	if len(f.Diseases) == 0 {
		return nil, errors.New("knowledge file lists no diseases")
	}

	k := &Knowledge{
		diseases: f.Diseases,
		byName:   make(map[string]int, len(f.Diseases)),
		severity: f.Severity,
	}
	if k.severity == nil {
		k.severity = map[string]int{}
	}

	seen := map[string]bool{}
	for i, d := range f.Diseases {
		if d.Name == "" {
			return nil, fmt.Errorf("disease %d has no name", i)
		}
		if _, dup := k.byName[d.Name]; dup {
			return nil, fmt.Errorf("disease %q listed twice", d.Name)
		}
		k.byName[d.Name] = i
		for _, s := range d.Symptoms {
			if !seen[s] {
				seen[s] = true
				k.vocabulary = append(k.vocabulary, s)
			}
		}
	}
	slices.Sort(k.vocabulary)
	return k, nil
}

func (k *Knowledge) Vocabulary() []string {
	return slices.Clone(k.vocabulary)
}

// Predict scores each disease by the severity-weighted share of its symptoms
// that were reported, then normalises the scores into a distribution. With no
// recognised symptom there is nothing to normalise, so only the first
// disease is returned as the best guess.
func (k *Knowledge) Predict(ctx context.Context, symptoms []string) (Prediction, error) {
	if err := ctx.Err(); err != nil {
		return Prediction{}, err
	}

	reported := make(map[string]bool, len(symptoms))
	for _, s := range symptoms {
		reported[normalizeSymptom(s)] = true
	}

	labels := make([]string, len(k.diseases))
	scores := make([]float64, len(k.diseases))
	var total float64
	for i, d := range k.diseases {
		labels[i] = d.Name
		var matched, possible float64
		for _, s := range d.Symptoms {
			w := float64(k.weight(s))
			possible += w
			if reported[s] {
				matched += w
			}
		}
		if possible > 0 {
			scores[i] = matched / possible
		}
		total += scores[i]
	}

	if total == 0 {
		return Prediction{Best: k.diseases[0].Name}, nil
	}
	for i := range scores {
		scores[i] /= total
	}
	return Prediction{Labels: labels, Probabilities: scores}, nil
}

func (k *Knowledge) weight(symptom string) int {
	if w, ok := k.severity[symptom]; ok && w > 0 {
		return w
	}
	return 1
}

func (k *Knowledge) Description(label string) string {
	if i, ok := k.byName[label]; ok && k.diseases[i].Description != "" {
		return k.diseases[i].Description
	}
	return descriptionUnavailable
}

func (k *Knowledge) Precautions(label string) []string {
	i, ok := k.byName[label]
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(k.diseases[i].Precautions))
	for _, p := range k.diseases[i].Precautions {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Severity is the weight of a symptom, zero when unknown.
func (k *Knowledge) Severity(symptom string) int {
	return k.severity[normalizeSymptom(symptom)]
}

func normalizeSymptom(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "_")
}
