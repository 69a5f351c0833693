package crf

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Forward computes the [L][T+1] alpha matrix from potentials M_0..M_T.
// alpha[:,0] is all ones and alpha[:,t] = M_t^T · alpha[:,t-1].
func Forward(potentials []*mat.Dense) *mat.Dense {
	T := len(potentials) - 1
	L, _ := potentials[0].Dims()

	alpha := mat.NewDense(L, T+1, nil)
	prev := mat.NewVecDense(L, ones(L))
	alpha.SetCol(0, prev.RawVector().Data)
	for t := 1; t <= T; t++ {
		next := mat.NewVecDense(L, nil)
		next.MulVec(potentials[t].T(), prev)
		alpha.SetCol(t, next.RawVector().Data)
		prev = next
	}
	return alpha
}

// Backward computes the [L][T+1] beta matrix from potentials M_0..M_T.
// beta[:,T] is all ones and beta[:,t] = M_{t+1} · beta[:,t+1].
func Backward(potentials []*mat.Dense) *mat.Dense {
	T := len(potentials) - 1
	L, _ := potentials[0].Dims()

	beta := mat.NewDense(L, T+1, nil)
	next := mat.NewVecDense(L, ones(L))
	beta.SetCol(T, next.RawVector().Data)
	for t := T - 1; t >= 0; t-- {
		prev := mat.NewVecDense(L, nil)
		prev.MulVec(potentials[t+1], next)
		beta.SetCol(t, prev.RawVector().Data)
		next = prev
	}
	return beta
}

// PartitionFunction returns Z = Σ_s alpha[s][T].
func PartitionFunction(alpha *mat.Dense) float64 {
	_, c := alpha.Dims()
	return floats.Sum(mat.Col(nil, c-1, alpha))
}

// LogForward is Forward over log potentials using log-sum-exp.
func LogForward(logPotentials []*mat.Dense) *mat.Dense {
	T := len(logPotentials) - 1
	L, _ := logPotentials[0].Dims()

	la := mat.NewDense(L, T+1, nil)
	terms := make([]float64, L)
	for t := 1; t <= T; t++ {
		for s := range L {
			for sp := range L {
				terms[sp] = logPotentials[t].At(sp, s) + la.At(sp, t-1)
			}
			la.Set(s, t, floats.LogSumExp(terms))
		}
	}
	return la
}

// LogBackward is Backward over log potentials using log-sum-exp.
func LogBackward(logPotentials []*mat.Dense) *mat.Dense {
	T := len(logPotentials) - 1
	L, _ := logPotentials[0].Dims()

	lb := mat.NewDense(L, T+1, nil)
	terms := make([]float64, L)
	for t := T - 1; t >= 0; t-- {
		for s := range L {
			for sn := range L {
				terms[sn] = logPotentials[t+1].At(s, sn) + lb.At(sn, t+1)
			}
			lb.Set(s, t, floats.LogSumExp(terms))
		}
	}
	return lb
}

// Lattice holds the forward-backward results of one sequence, in log space.
type Lattice struct {
	LogPotentials []*mat.Dense // [T+1] of [L][L]
	LogAlpha      *mat.Dense   // [L][T+1]
	LogBeta       *mat.Dense   // [L][T+1]
	LogZ          float64
}

// Lattice runs potentials and forward-backward for seq.
//
// With logDomain false the recurrences run on probabilities, which
// underflows or overflows on long sequences or large weights; the failure is
// reported as ErrDegenerateSequence. With logDomain true they run on
// log-sum-exp.
func (m *Model) Lattice(seq Sequence, logDomain bool) (*Lattice, error) {
	logM, err := m.LogPotentials(seq)
	if err != nil {
		return nil, err
	}
	lat := &Lattice{LogPotentials: logM}

	if logDomain {
		lat.LogAlpha = LogForward(logM)
		lat.LogBeta = LogBackward(logM)
		lat.LogZ = floats.LogSumExp(mat.Col(nil, len(seq), lat.LogAlpha))
		if math.IsNaN(lat.LogZ) || math.IsInf(lat.LogZ, 0) {
			return nil, fmt.Errorf("%w: log Z = %v", ErrDegenerateSequence, lat.LogZ)
		}
		return lat, nil
	}

	M := expAll(logM)
	alpha := Forward(M)
	beta := Backward(M)
	Z := PartitionFunction(alpha)
	if !(Z > 0) || math.IsInf(Z, 0) {
		return nil, fmt.Errorf("%w: Z = %v", ErrDegenerateSequence, Z)
	}
	// A finite Z does not rule out an alpha entry underflowing to 0 where
	// beta overflows to +Inf, which would make that marginal NaN.
	if overflowed(alpha) || overflowed(beta) {
		return nil, fmt.Errorf("%w: alpha or beta overflowed with Z = %v", ErrDegenerateSequence, Z)
	}
	lat.LogAlpha = logAll(alpha)
	lat.LogBeta = logAll(beta)
	lat.LogZ = math.Log(Z)
	return lat, nil
}

// Len returns the sequence length T.
func (l *Lattice) Len() int {
	return len(l.LogPotentials) - 1
}

// Marginal returns gamma[s][col] = alpha[s][col] * beta[s][col] / Z.
func (l *Lattice) Marginal(s, col int) float64 {
	return math.Exp(l.LogAlpha.At(s, col) + l.LogBeta.At(s, col) - l.LogZ)
}

// PairMarginal returns alpha[s][col] * M_{col+1}[s][next] * beta[next][col+1] / Z,
// the probability of label s at column col followed by next at col+1.
func (l *Lattice) PairMarginal(s, next, col int) float64 {
	return math.Exp(l.LogAlpha.At(s, col) + l.LogPotentials[col+1].At(s, next) +
		l.LogBeta.At(next, col+1) - l.LogZ)
}

func ones(n int) []float64 {
	v := make([]float64, n)
	for i := range v {
		v[i] = 1
	}
	return v
}

// overflowed reports whether a holds NaN or +Inf.
func overflowed(a *mat.Dense) bool {
	r, c := a.Dims()
	for i := range r {
		for j := range c {
			if v := a.At(i, j); math.IsNaN(v) || math.IsInf(v, 1) {
				return true
			}
		}
	}
	return false
}

func logAll(a *mat.Dense) *mat.Dense {
	var out mat.Dense
	out.Apply(func(_, _ int, v float64) float64 { return math.Log(v) }, a)
	return &out
}
