package crf

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// LogPotentials returns log M_t for t = 0..T.
//
// Index 0 is an unused placeholder filled with -Inf. Index 1 is diagonal:
// there is no predecessor label, so only feature weights contribute.
// Indices 2..T hold transition weights plus the feature weights of position
// t-1, scored against the source or target label according to m.Layout.
func (m *Model) LogPotentials(seq Sequence) ([]*mat.Dense, error) {
	T := len(seq)
	if T == 0 {
		return nil, fmt.Errorf("%w: empty sequence", ErrDegenerateSequence)
	}
	L := m.NumLabels()

	out := make([]*mat.Dense, T+1)
	out[0] = filled(L, math.Inf(-1))
	for t := range T {
		fw, err := m.featureScores(seq, t)
		if err != nil {
			return nil, err
		}
		lm := filled(L, math.Inf(-1))
		if t == 0 {
			for s := range L {
				lm.Set(s, s, fw[s])
			}
		} else {
			for sp := range L {
				for s := range L {
					v := m.TransitionWeights.At(sp, s)
					if m.Layout == TargetLabel {
						v += fw[s]
					} else {
						v += fw[sp]
					}
					lm.Set(sp, s, v)
				}
			}
		}
		out[t+1] = lm
	}
	return out, nil
}

// TransitionMatrices returns the potential matrices M_t = exp(log M_t).
// The placeholder at index 0 is all zeros.
func (m *Model) TransitionMatrices(seq Sequence) ([]*mat.Dense, error) {
	logM, err := m.LogPotentials(seq)
	if err != nil {
		return nil, err
	}
	return expAll(logM), nil
}

// featureScores returns, for every label s, the sum of feature_weights[s][f]
// over the features active at position t.
func (m *Model) featureScores(seq Sequence, t int) ([]float64, error) {
	L, F := m.NumLabels(), m.NumFeatures()
	scores := make([]float64, L)
	for sym := range seq[t].SequenceFeatures(t, seq) {
		idx, ok := m.Features.Index(sym)
		if !ok || idx < 0 || idx >= F {
			return nil, fmt.Errorf("%w: %q at position %d", ErrUnknownFeature, sym, t)
		}
		for s := range L {
			scores[s] += m.FeatureWeights.At(s, idx)
		}
	}
	return scores, nil
}

func filled(n int, v float64) *mat.Dense {
	data := make([]float64, n*n)
	for i := range data {
		data[i] = v
	}
	return mat.NewDense(n, n, data)
}

func expAll(logM []*mat.Dense) []*mat.Dense {
	out := make([]*mat.Dense, len(logM))
	for t, lm := range logM {
		var e mat.Dense
		e.Apply(func(_, _ int, v float64) float64 { return math.Exp(v) }, lm)
		out[t] = &e
	}
	return out
}
