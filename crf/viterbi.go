package crf

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Decode returns, for every position, the label with the highest posterior
// marginal. Positions are decoded independently, so the result need not be
// the most probable joint labeling (see BestPath). Ties go to the lowest
// label index.
func (m *Model) Decode(seq Sequence) ([]int, error) {
	lat, err := m.Lattice(seq, true)
	if err != nil {
		return nil, err
	}
	L := m.NumLabels()
	scores := make([]float64, L)
	labels := make([]int, len(seq))
	for t := range seq {
		col := m.column(t)
		for s := range L {
			scores[s] = lat.LogAlpha.At(s, col) + lat.LogBeta.At(s, col)
		}
		labels[t] = floats.MaxIdx(scores)
	}
	return labels, nil
}

// Marginals returns the [T][L] posterior distribution of each position.
func (m *Model) Marginals(seq Sequence) ([][]float64, error) {
	lat, err := m.Lattice(seq, true)
	if err != nil {
		return nil, err
	}
	L := m.NumLabels()
	out := make([][]float64, len(seq))
	for t := range seq {
		out[t] = make([]float64, L)
		col := m.column(t)
		for s := range L {
			out[t][s] = lat.Marginal(s, col)
		}
	}
	return out, nil
}

// BestPath finds the most probable label sequence with the Viterbi
// algorithm (log-domain), returning it with its unnormalized log score.
func (m *Model) BestPath(seq Sequence) ([]int, float64, error) {
	logM, err := m.LogPotentials(seq)
	if err != nil {
		return nil, 0, err
	}
	cols, score := viterbi(logM)

	labels := make([]int, len(seq))
	for t := range seq {
		labels[t] = cols[max(m.column(t), 1)-1]
	}
	return labels, score, nil
}

// viterbi returns the best label for columns 1..T.
func viterbi(logM []*mat.Dense) ([]int, float64) {
	T := len(logM) - 1
	L, _ := logM[0].Dims()

	// delta[t][y] = best score ending at column t+1 with label y
	delta := make([][]float64, T)
	// psi[t][y] = best previous label for backtracking
	psi := make([][]int, T)

	delta[0] = make([]float64, L)
	psi[0] = make([]int, L)
	for y := range L {
		delta[0][y] = logM[1].At(y, y)
	}

	for t := 1; t < T; t++ {
		delta[t] = make([]float64, L)
		psi[t] = make([]int, L)
		for y := range L {
			bestScore := math.Inf(-1)
			bestPrev := 0
			for yp := range L {
				score := delta[t-1][yp] + logM[t+1].At(yp, y)
				if score > bestScore {
					bestScore = score
					bestPrev = yp
				}
			}
			delta[t][y] = bestScore
			psi[t][y] = bestPrev
		}
	}

	bestLabel := floats.MaxIdx(delta[T-1])
	bestScore := delta[T-1][bestLabel]

	path := make([]int, T)
	path[T-1] = bestLabel
	for t := T - 2; t >= 0; t-- {
		path[t] = psi[t+1][path[t+1]]
	}
	return path, bestScore
}

// LogLikelihood returns log p(gold labels | seq), scoring position t's gold
// label at column t+1.
func (m *Model) LogLikelihood(seq Sequence) (float64, error) {
	lat, err := m.Lattice(seq, true)
	if err != nil {
		return 0, err
	}
	score := 0.0
	prev := seq[0].LabelIndex()
	for t, inst := range seq {
		y := inst.LabelIndex()
		if y < 0 || y >= m.NumLabels() {
			return 0, fmt.Errorf("%w: label %d at position %d", ErrInvalidDimensions, y, t)
		}
		if t == 0 {
			score += lat.LogPotentials[1].At(y, y)
		} else {
			score += lat.LogPotentials[t+1].At(prev, y)
		}
		prev = y
	}
	return score - lat.LogZ, nil
}

// Accuracy returns the fraction of positions in seqs whose decoded label
// equals the gold label. Degenerate sequences are logged and left out.
func (m *Model) Accuracy(seqs []Sequence) (float64, error) {
	correct, total := 0, 0
	for i, seq := range seqs {
		decoded, err := m.Decode(seq)
		if errors.Is(err, ErrDegenerateSequence) {
			slog.Warn("Skipping degenerate sequence in accuracy", "index", i, "length", len(seq), "error", err)
			continue
		}
		if err != nil {
			return 0, err
		}
		for t, inst := range seq {
			if decoded[t] == inst.LabelIndex() {
				correct++
			}
			total++
		}
	}
	if total == 0 {
		return 0, nil
	}
	return float64(correct) / float64(total), nil
}
