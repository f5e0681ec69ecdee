package classifier

import (
	"errors"
	"fmt"
	"math"
)

const featureCount = 3

// Features is one (temp, vibration, pressure) observation.
type Features [featureCount]float64

// Sample is a labelled training observation.
type Sample struct {
	X     Features
	Label int
}

// TrainingSet is the fixed exemplar set the placeholder model is fit on.
func TrainingSet() []Sample {
	return []Sample{
		{X: Features{60, 10, 100}, Label: 0},
		{X: Features{65, 12, 101}, Label: 0},
		{X: Features{70, 15, 99}, Label: 0},
		{X: Features{95, 45, 90}, Label: 1},
		{X: Features{98, 50, 88}, Label: 1},
		{X: Features{100, 55, 85}, Label: 1},
	}
}

// Model is a logistic regression over standardized features.
type Model struct {
	Means   Features `json:"means"`
	Scales  Features `json:"scales"`
	Weights Features `json:"weights"`
	Bias    float64  `json:"bias"`
}

// FitOptions controls gradient descent.
type FitOptions struct {
	Epochs       int
	LearningRate float64
}

// DefaultFitOptions are the settings used for the exemplar set.
var DefaultFitOptions = FitOptions{Epochs: 500, LearningRate: 0.5}

// Fit trains a model with full-batch gradient descent from zero weights,
// so identical samples always produce an identical model.
func Fit(samples []Sample, opts FitOptions) (*Model, error) {
	if len(samples) == 0 {
		return nil, errors.New("classifier: empty training set")
	}
	if opts.Epochs <= 0 || opts.LearningRate <= 0 {
		return nil, errors.New("classifier: invalid fit options")
	}
	for i, s := range samples {
		if s.Label != 0 && s.Label != 1 {
			return nil, fmt.Errorf("classifier: sample %d has label %d", i, s.Label)
		}
	}

	m := &Model{}
	n := float64(len(samples))
	for j := 0; j < featureCount; j++ {
		var sum float64
		for _, s := range samples {
			sum += s.X[j]
		}
		m.Means[j] = sum / n
		var sq float64
		for _, s := range samples {
			d := s.X[j] - m.Means[j]
			sq += d * d
		}
		m.Scales[j] = math.Sqrt(sq / n)
		if m.Scales[j] == 0 {
			m.Scales[j] = 1
		}
	}

	scaled := make([]Features, len(samples))
	for i, s := range samples {
		scaled[i] = m.standardize(s.X)
	}

	for epoch := 0; epoch < opts.Epochs; epoch++ {
		var gradW Features
		var gradB float64
		for i, s := range samples {
			diff := sigmoid(m.linear(scaled[i])) - float64(s.Label)
			for j := 0; j < featureCount; j++ {
				gradW[j] += diff * scaled[i][j]
			}
			gradB += diff
		}
		for j := 0; j < featureCount; j++ {
			m.Weights[j] -= opts.LearningRate * gradW[j] / n
		}
		m.Bias -= opts.LearningRate * gradB / n
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Probability returns P(failure) for x.
func (m *Model) Probability(x Features) float64 {
	return sigmoid(m.linear(m.standardize(x)))
}

// Predict returns 1 when P(failure) >= 0.5, else 0.
func (m *Model) Predict(x Features) int {
	if m.Probability(x) >= 0.5 {
		return 1
	}
	return 0
}

// Validate rejects models with non-finite or degenerate parameters.
func (m *Model) Validate() error {
	if m == nil {
		return errors.New("classifier: nil model")
	}
	for j := 0; j < featureCount; j++ {
		if !finite(m.Means[j]) || !finite(m.Weights[j]) || !finite(m.Scales[j]) || m.Scales[j] <= 0 {
			return fmt.Errorf("classifier: invalid parameters for feature %d", j)
		}
	}
	if !finite(m.Bias) {
		return errors.New("classifier: invalid bias")
	}
	return nil
}

func (m *Model) standardize(x Features) Features {
	var out Features
	for j := 0; j < featureCount; j++ {
		out[j] = (x[j] - m.Means[j]) / m.Scales[j]
	}
	return out
}

func (m *Model) linear(z Features) float64 {
	sum := m.Bias
	for j := 0; j < featureCount; j++ {
		sum += m.Weights[j] * z[j]
	}
	return sum
}

func sigmoid(v float64) float64 {
	return 1 / (1 + math.Exp(-v))
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
