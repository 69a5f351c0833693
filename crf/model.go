package crf

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Model holds the CRF parameters.
//
// FeatureWeights is [L][F] and TransitionWeights is [L][L], where L is the
// number of labels and F the number of features. Both start at zero and are
// mutated only by Train and SetWeights.
type Model struct {
	Labels            Codebook
	Features          Codebook
	Layout            Layout
	FeatureWeights    *mat.Dense
	TransitionWeights *mat.Dense
}

// NewModel creates a zero-initialized model sized by the two codebooks.
func NewModel(labels, features Codebook) (*Model, error) {
	if labels == nil || features == nil {
		return nil, fmt.Errorf("%w: nil codebook", ErrInvalidDimensions)
	}
	L, F := labels.Len(), features.Len()
	if L <= 0 || F <= 0 {
		return nil, fmt.Errorf("%w: %d labels, %d features", ErrInvalidDimensions, L, F)
	}
	return &Model{
		Labels:            labels,
		Features:          features,
		FeatureWeights:    mat.NewDense(L, F, nil),
		TransitionWeights: mat.NewDense(L, L, nil),
	}, nil
}

// NumLabels returns L.
func (m *Model) NumLabels() int {
	r, _ := m.TransitionWeights.Dims()
	return r
}

// NumFeatures returns F.
func (m *Model) NumFeatures() int {
	_, c := m.FeatureWeights.Dims()
	return c
}

// SetWeights replaces both parameter matrices with copies of the given ones.
func (m *Model) SetWeights(features, transitions mat.Matrix) error {
	L, F := m.NumLabels(), m.NumFeatures()
	if r, c := features.Dims(); r != L || c != F {
		return fmt.Errorf("%w: feature weights are %dx%d, want %dx%d", ErrInvalidDimensions, r, c, L, F)
	}
	if r, c := transitions.Dims(); r != L || c != L {
		return fmt.Errorf("%w: transition weights are %dx%d, want %dx%d", ErrInvalidDimensions, r, c, L, L)
	}
	m.FeatureWeights.Copy(features)
	m.TransitionWeights.Copy(transitions)
	return nil
}

// Update applies one gradient-ascent step: w += rate * (observed - expected) / n.
func (m *Model) Update(observed, expected *Counts, n int, rate float64) {
	scale := rate / float64(n)

	var g mat.Dense
	g.Sub(observed.Features, expected.Features)
	m.FeatureWeights.Apply(func(i, j int, v float64) float64 {
		return v + scale*g.At(i, j)
	}, m.FeatureWeights)

	g.Reset()
	g.Sub(observed.Transitions, expected.Transitions)
	m.TransitionWeights.Apply(func(i, j int, v float64) float64 {
		return v + scale*g.At(i, j)
	}, m.TransitionWeights)
}

// column returns the alpha/beta column holding the label of position t.
func (m *Model) column(t int) int {
	if m.Layout == TargetLabel {
		return t + 1
	}
	return t
}
