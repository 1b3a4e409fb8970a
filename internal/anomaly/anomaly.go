// Package anomaly implements the AnomalyScorer of spec.md §4.6: a
// four-feature vector scored against a pre-trained decision boundary.
//
// No example repo in the corpus imports a Go ML-inference library (see
// DESIGN.md's "Stdlib-only parts" entry), and spec.md's score mapping
// from a signed decision value is a closed-form arithmetic
// transformation, not model inference — so Model here is a small,
// explicit decision function rather than a bound library call.
package anomaly

import (
	"fmt"
	"math"
)

// Features is the fixed four-dimensional vector spec.md §4.6 names:
// hour of day, message length, whether the source is ssh, and the
// current login rate for the event's IP.
type Features [4]float64

const (
	featHour = iota
	featMsgLen
	featIsSSH
	featLoginRate
)

var (
	baselineMean   = Features{14, 60, 0, 5}
	baselineStdDev = Features{4, 20, 1, 5}
	featureLabels  = [4]string{"Time of Day", "Message Size", "Protocol", "Request Frequency"}
)

// Model computes a signed decision value for a feature vector, the
// boundary a real IsolationForest's decision_function would supply.
// Our hand-rolled Model approximates that boundary with a weighted
// distance from the baseline centroid: comfortably within spec.md's
// explicit score-mapping contract, which only cares about the sign and
// magnitude of d.
type Model struct {
	Weights Features
	Bias    float64
}

// LoadModel builds a Model from externalized weights, per spec.md
// §9's guidance to keep scorer and trainer constants in sync rather
// than hardcoding them inside the binary. A nil Model (absence of a
// loaded artifact) disables scoring entirely, per spec.md §4.6.
func LoadModel(weights Features, bias float64) *Model {
	return &Model{Weights: weights, Bias: bias}
}

// DecisionFunction returns a signed decision value: negative values
// indicate increasingly anomalous inputs, mirroring IsolationForest's
// convention.
func (m *Model) DecisionFunction(f Features) float64 {
	var sum float64
	for i := range f {
		normalized := (f[i] - baselineMean[i]) / (baselineStdDev[i] + 0.1)
		sum += m.Weights[i] * math.Abs(normalized)
	}
	return m.Bias - sum
}

// DefaultModel returns a Model with equal feature weights, a
// reasonable zero-configuration boundary before an operator supplies
// trained weights.
func DefaultModel() *Model {
	return LoadModel(Features{1, 1, 1, 1}, 0.5)
}

// Scorer scores events against an (optional) Model.
type Scorer struct {
	model *Model
}

// NewScorer wraps model. A nil model disables scoring.
func NewScorer(model *Model) *Scorer {
	return &Scorer{model: model}
}

// Score implements spec.md §4.6's exact mapping from a model's signed
// decision value to a 0..1 score, plus the baseline-deviation
// explanation for scores above 0.6.
func (s *Scorer) Score(f Features) (score float64, explanation string) {
	if s.model == nil {
		return 0, "Model not loaded"
	}

	d := s.model.DecisionFunction(f)
	if d < 0 {
		score = math.Min(1.0, 0.5+2*math.Abs(d))
	} else {
		score = math.Max(0.0, 0.5-2*d)
	}
	score = math.Round(score*100) / 100

	if score > 0.6 {
		explanation = explain(f)
	}
	return score, explanation
}

func explain(f Features) string {
	best := -1
	bestDev := -1.0
	for i := range f {
		dev := math.Abs(f[i]-baselineMean[i]) / (baselineStdDev[i] + 0.1)
		if dev > bestDev {
			bestDev = dev
			best = i
		}
	}
	if best < 0 {
		return ""
	}
	return fmt.Sprintf("Anomalous %s detected", featureLabels[best])
}
