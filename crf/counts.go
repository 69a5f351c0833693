package crf

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Counts accumulates feature and transition counts with the same shapes as
// the model parameters.
type Counts struct {
	Features    *mat.Dense // [L][F]
	Transitions *mat.Dense // [L][L]
}

// NewCounts returns zeroed counts shaped for m.
func (m *Model) NewCounts() *Counts {
	L, F := m.NumLabels(), m.NumFeatures()
	return &Counts{
		Features:    mat.NewDense(L, F, nil),
		Transitions: mat.NewDense(L, L, nil),
	}
}

// ObservedCounts counts, over the gold labels of seqs, every (label, feature)
// pair at each position and every (previous label, label) pair.
func (m *Model) ObservedCounts(seqs []Sequence) (*Counts, error) {
	c := m.NewCounts()
	L := m.NumLabels()
	for _, seq := range seqs {
		prev := -1
		for t, inst := range seq {
			y := inst.LabelIndex()
			if y < 0 || y >= L {
				return nil, fmt.Errorf("%w: label %d at position %d, have %d labels", ErrInvalidDimensions, y, t, L)
			}
			for _, f := range inst.FeatureVector() {
				if err := m.checkFeature(f, t); err != nil {
					return nil, err
				}
				c.Features.Set(y, f, c.Features.At(y, f)+1)
			}
			if t > 0 {
				c.Transitions.Set(prev, y, c.Transitions.At(prev, y)+1)
			}
			prev = y
		}
	}
	return c, nil
}

// ExpectedCounts adds the model's expected counts for seq into c.
//
// Feature counts add the per-position marginal gamma to every active
// feature. Transition counts add the pairwise marginals between columns c
// and c+1 for c = 1..T-1, the only potentials that carry transition weights.
func (m *Model) ExpectedCounts(seq Sequence, lat *Lattice, c *Counts) error {
	L := m.NumLabels()
	T := len(seq)
	if lat.Len() != T {
		return fmt.Errorf("%w: lattice of length %d for sequence of length %d", ErrInvalidDimensions, lat.Len(), T)
	}

	gamma := make([]float64, L)
	for t, inst := range seq {
		col := m.column(t)
		for s := range L {
			gamma[s] = lat.Marginal(s, col)
		}
		for _, f := range inst.FeatureVector() {
			if err := m.checkFeature(f, t); err != nil {
				return err
			}
			for s := range L {
				c.Features.Set(s, f, c.Features.At(s, f)+gamma[s])
			}
		}
	}

	for col := 1; col < T; col++ {
		for s := range L {
			for next := range L {
				c.Transitions.Set(s, next, c.Transitions.At(s, next)+lat.PairMarginal(s, next, col))
			}
		}
	}
	return nil
}

func (m *Model) checkFeature(f, t int) error {
	if f < 0 || f >= m.NumFeatures() {
		return fmt.Errorf("%w: index %d at position %d", ErrUnknownFeature, f, t)
	}
	return nil
}
