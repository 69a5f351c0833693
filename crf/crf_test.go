package crf

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

// newFixture returns a 2-label, 3-feature model and the sequence
// A/f0, B/f1+f2, B/f2.
func newFixture(t *testing.T, layout Layout) (*Model, Sequence) {
	t.Helper()
	m, err := NewModel(NewAlphabet("A", "B"), NewAlphabet("f0", "f1", "f2"))
	if err != nil {
		t.Fatal(err)
	}
	m.Layout = layout
	seq := Sequence{
		mustToken(t, m, 0, "f0"),
		mustToken(t, m, 1, "f1", "f2"),
		mustToken(t, m, 1, "f2"),
	}
	return m, seq
}

func mustToken(t *testing.T, m *Model, label int, symbols ...string) *Token {
	t.Helper()
	tk, err := NewToken(label, m.Features, symbols...)
	if err != nil {
		t.Fatal(err)
	}
	return tk
}

// setWeights fills the model with small distinct non-zero weights.
func setWeights(m *Model) {
	L, F := m.NumLabels(), m.NumFeatures()
	for s := range L {
		for f := range F {
			m.FeatureWeights.Set(s, f, 0.3*float64(s+1)-0.17*float64(f)+0.05)
		}
		for n := range L {
			m.TransitionWeights.Set(s, n, 0.4*float64(s-n)+0.11*float64(n))
		}
	}
}

// bruteForceZ enumerates every labeling of the T positions.
func bruteForceZ(logM []*mat.Dense) float64 {
	T := len(logM) - 1
	L, _ := logM[0].Dims()
	path := make([]int, T)
	var z float64
	var walk func(t int)
	walk = func(t int) {
		if t == T {
			score := logM[1].At(path[0], path[0])
			for i := 1; i < T; i++ {
				score += logM[i+1].At(path[i-1], path[i])
			}
			z += math.Exp(score)
			return
		}
		for y := range L {
			path[t] = y
			walk(t + 1)
		}
	}
	walk(0)
	return z
}

func TestAlphabet(t *testing.T) {
	a := NewAlphabet()
	id0 := a.Add("hello")
	id1 := a.Add("world")
	id2 := a.Add("hello") // duplicate

	if id0 != 0 || id1 != 1 || id2 != 0 {
		t.Errorf("IDs: %d, %d, %d; want 0, 1, 0", id0, id1, id2)
	}
	if a.Len() != 2 {
		t.Errorf("Len = %d, want 2", a.Len())
	}
	if _, ok := a.Index("missing"); ok {
		t.Error("Index missing should not be found")
	}
	if a.Symbol(1) != "world" || a.Symbol(5) != "" {
		t.Errorf("Symbol(1) = %q, Symbol(5) = %q", a.Symbol(1), a.Symbol(5))
	}
}

func TestNewModelInvalidDimensions(t *testing.T) {
	if _, err := NewModel(NewAlphabet(), NewAlphabet("f")); !errors.Is(err, ErrInvalidDimensions) {
		t.Errorf("no labels: err = %v", err)
	}
	if _, err := NewModel(NewAlphabet("A"), NewAlphabet()); !errors.Is(err, ErrInvalidDimensions) {
		t.Errorf("no features: err = %v", err)
	}

	m, _ := newFixture(t, SourceLabel)
	if m.NumLabels() != 2 || m.NumFeatures() != 3 {
		t.Fatalf("dims = %d, %d", m.NumLabels(), m.NumFeatures())
	}
	if err := m.SetWeights(mat.NewDense(3, 2, nil), mat.NewDense(2, 2, nil)); !errors.Is(err, ErrInvalidDimensions) {
		t.Errorf("bad feature shape: err = %v", err)
	}
	if err := m.SetWeights(mat.NewDense(2, 3, nil), mat.NewDense(2, 3, nil)); !errors.Is(err, ErrInvalidDimensions) {
		t.Errorf("bad transition shape: err = %v", err)
	}
	w := mat.NewDense(2, 3, []float64{1, 2, 3, 4, 5, 6})
	if err := m.SetWeights(w, mat.NewDense(2, 2, nil)); err != nil {
		t.Fatal(err)
	}
	w.Set(0, 0, 100)
	if m.FeatureWeights.At(0, 0) != 1 {
		t.Error("SetWeights should copy")
	}
}

func TestTransitionMatrices(t *testing.T) {
	for _, layout := range []Layout{SourceLabel, TargetLabel} {
		t.Run(layout.String(), func(t *testing.T) {
			m, seq := newFixture(t, layout)
			setWeights(m)
			M, err := m.TransitionMatrices(seq)
			if err != nil {
				t.Fatal(err)
			}
			if len(M) != len(seq)+1 {
				t.Fatalf("got %d matrices, want %d", len(M), len(seq)+1)
			}
			if mat.Sum(M[0]) != 0 {
				t.Error("placeholder matrix should be all zeros")
			}

			W, Tr := m.FeatureWeights, m.TransitionWeights
			for s := range 2 {
				want := math.Exp(W.At(s, 0))
				if got := M[1].At(s, s); math.Abs(got-want) > 1e-12 {
					t.Errorf("M1[%d][%d] = %v, want %v", s, s, got, want)
				}
				if M[1].At(s, 1-s) != 0 {
					t.Errorf("M1[%d][%d] should be 0", s, 1-s)
				}
			}
			// Position 1 carries f1 and f2.
			for sp := range 2 {
				for s := range 2 {
					row := sp
					if layout == TargetLabel {
						row = s
					}
					want := math.Exp(Tr.At(sp, s) + W.At(row, 1) + W.At(row, 2))
					if got := M[2].At(sp, s); math.Abs(got-want) > 1e-12 {
						t.Errorf("M2[%d][%d] = %v, want %v", sp, s, got, want)
					}
				}
			}
		})
	}
}

func TestUnknownFeature(t *testing.T) {
	m, seq := newFixture(t, SourceLabel)
	seq[1] = &Token{Label: 1, Features: []int{1}, Symbols: []string{"missing"}}
	if _, err := m.LogPotentials(seq); !errors.Is(err, ErrUnknownFeature) {
		t.Errorf("LogPotentials err = %v", err)
	}
	if _, err := m.Decode(seq); !errors.Is(err, ErrUnknownFeature) {
		t.Errorf("Decode err = %v", err)
	}
	if _, err := NewToken(0, m.Features, "missing"); !errors.Is(err, ErrUnknownFeature) {
		t.Errorf("NewToken err = %v", err)
	}

	seq[1] = &Token{Label: 1, Features: []int{7}}
	if _, err := m.ObservedCounts([]Sequence{seq}); !errors.Is(err, ErrUnknownFeature) {
		t.Errorf("ObservedCounts err = %v", err)
	}
}

func TestForwardBackward(t *testing.T) {
	for _, layout := range []Layout{SourceLabel, TargetLabel} {
		t.Run(layout.String(), func(t *testing.T) {
			m, seq := newFixture(t, layout)
			setWeights(m)
			logM, err := m.LogPotentials(seq)
			if err != nil {
				t.Fatal(err)
			}
			M := expAll(logM)
			alpha := Forward(M)
			beta := Backward(M)
			T := len(seq)

			if r, c := alpha.Dims(); r != 2 || c != T+1 {
				t.Fatalf("alpha dims = %dx%d", r, c)
			}
			for s := range 2 {
				if alpha.At(s, 0) != 1 || beta.At(s, T) != 1 {
					t.Errorf("boundary: alpha[%d][0] = %v, beta[%d][T] = %v", s, alpha.At(s, 0), s, beta.At(s, T))
				}
			}

			Z := PartitionFunction(alpha)
			want := bruteForceZ(logM)
			if math.Abs(Z-want) > 1e-9*want {
				t.Errorf("Z = %v, brute force %v", Z, want)
			}

			// Z from the backward pass, weighted by alpha[:,0].
			zBeta := 0.0
			for s := range 2 {
				zBeta += alpha.At(s, 0) * beta.At(s, 0)
			}
			if math.Abs(zBeta-Z) > 1e-9*Z {
				t.Errorf("backward Z = %v, forward Z = %v", zBeta, Z)
			}

			lat, err := m.Lattice(seq, true)
			if err != nil {
				t.Fatal(err)
			}
			if math.Abs(lat.LogZ-math.Log(Z)) > 1e-9 {
				t.Errorf("log-domain LogZ = %v, want %v", lat.LogZ, math.Log(Z))
			}
			for s := range 2 {
				for c := range T + 1 {
					if math.Abs(math.Exp(lat.LogAlpha.At(s, c))-alpha.At(s, c)) > 1e-9*alpha.At(s, c) {
						t.Errorf("log alpha[%d][%d] disagrees", s, c)
					}
				}
			}
		})
	}
}

func TestMarginalsSumToOne(t *testing.T) {
	for _, logDomain := range []bool{false, true} {
		m, seq := newFixture(t, TargetLabel)
		setWeights(m)
		lat, err := m.Lattice(seq, logDomain)
		if err != nil {
			t.Fatal(err)
		}
		for c := range len(seq) + 1 {
			sum := lat.Marginal(0, c) + lat.Marginal(1, c)
			if math.Abs(sum-1) > 1e-9 {
				t.Errorf("logDomain=%v: marginals at column %d sum to %v", logDomain, c, sum)
			}
		}
		for c := 1; c < len(seq); c++ {
			sum := 0.0
			for s := range 2 {
				for n := range 2 {
					sum += lat.PairMarginal(s, n, c)
				}
			}
			if math.Abs(sum-1) > 1e-9 {
				t.Errorf("logDomain=%v: pair marginals at column %d sum to %v", logDomain, c, sum)
			}
		}
	}
}

// numericGradient perturbs every weight of m and differentiates f centrally.
func numericGradient(t *testing.T, m *Model, f func() float64) *Counts {
	t.Helper()
	const eps = 1e-5
	g := m.NewCounts()
	for _, pair := range []struct{ w, g *mat.Dense }{
		{m.FeatureWeights, g.Features},
		{m.TransitionWeights, g.Transitions},
	} {
		r, c := pair.w.Dims()
		for i := range r {
			for j := range c {
				orig := pair.w.At(i, j)
				pair.w.Set(i, j, orig+eps)
				up := f()
				pair.w.Set(i, j, orig-eps)
				down := f()
				pair.w.Set(i, j, orig)
				pair.g.Set(i, j, (up-down)/(2*eps))
			}
		}
	}
	return g
}

func assertClose(t *testing.T, name string, got, want *mat.Dense, tol float64) {
	t.Helper()
	if !mat.EqualApprox(got, want, tol) {
		t.Errorf("%s mismatch:\ngot  %v\nwant %v", name, mat.Formatted(got), mat.Formatted(want))
	}
}

func TestExpectedCountsAreLogZGradient(t *testing.T) {
	for _, layout := range []Layout{SourceLabel, TargetLabel} {
		t.Run(layout.String(), func(t *testing.T) {
			m, seq := newFixture(t, layout)
			setWeights(m)
			lat, err := m.Lattice(seq, true)
			if err != nil {
				t.Fatal(err)
			}
			expected := m.NewCounts()
			if err := m.ExpectedCounts(seq, lat, expected); err != nil {
				t.Fatal(err)
			}

			numeric := numericGradient(t, m, func() float64 {
				l, err := m.Lattice(seq, true)
				if err != nil {
					t.Fatal(err)
				}
				return l.LogZ
			})
			assertClose(t, "feature counts", expected.Features, numeric.Features, 1e-6)
			assertClose(t, "transition counts", expected.Transitions, numeric.Transitions, 1e-6)
		})
	}
}

func TestLogLikelihoodGradient(t *testing.T) {
	m, seq := newFixture(t, TargetLabel)
	setWeights(m)

	lat, err := m.Lattice(seq, true)
	if err != nil {
		t.Fatal(err)
	}
	expected := m.NewCounts()
	if err := m.ExpectedCounts(seq, lat, expected); err != nil {
		t.Fatal(err)
	}
	observed, err := m.ObservedCounts([]Sequence{seq})
	if err != nil {
		t.Fatal(err)
	}
	var gf, gt mat.Dense
	gf.Sub(observed.Features, expected.Features)
	gt.Sub(observed.Transitions, expected.Transitions)

	numeric := numericGradient(t, m, func() float64 {
		ll, err := m.LogLikelihood(seq)
		if err != nil {
			t.Fatal(err)
		}
		return ll
	})
	assertClose(t, "feature gradient", &gf, numeric.Features, 1e-6)
	assertClose(t, "transition gradient", &gt, numeric.Transitions, 1e-6)

	ll, _ := m.LogLikelihood(seq)
	if ll >= 0 {
		t.Errorf("log-likelihood = %v, want < 0", ll)
	}
}

func TestObservedCounts(t *testing.T) {
	m, seq := newFixture(t, SourceLabel)
	c, err := m.ObservedCounts([]Sequence{seq, seq})
	if err != nil {
		t.Fatal(err)
	}
	wantF := mat.NewDense(2, 3, []float64{
		2, 0, 0,
		0, 2, 4,
	})
	wantT := mat.NewDense(2, 2, []float64{
		0, 2,
		0, 2,
	})
	assertClose(t, "features", c.Features, wantF, 0)
	assertClose(t, "transitions", c.Transitions, wantT, 0)

	seq[2] = &Token{Label: 5}
	if _, err := m.ObservedCounts([]Sequence{seq}); !errors.Is(err, ErrInvalidDimensions) {
		t.Errorf("bad label: err = %v", err)
	}
}

func TestDegenerateSequence(t *testing.T) {
	m, seq := newFixture(t, SourceLabel)
	if _, err := m.Lattice(Sequence{}, true); !errors.Is(err, ErrDegenerateSequence) {
		t.Errorf("empty sequence: err = %v", err)
	}
	if _, err := m.Decode(Sequence{}); !errors.Is(err, ErrDegenerateSequence) {
		t.Errorf("empty decode: err = %v", err)
	}

	for _, w := range []float64{800, -800} {
		m.FeatureWeights.Set(0, 2, w)
		m.FeatureWeights.Set(1, 2, w)
		if _, err := m.Lattice(seq, false); !errors.Is(err, ErrDegenerateSequence) {
			t.Errorf("weight %v, probability domain: err = %v", w, err)
		}
		lat, err := m.Lattice(seq, true)
		if err != nil {
			t.Errorf("weight %v, log domain: err = %v", w, err)
			continue
		}
		if sum := lat.Marginal(0, 1) + lat.Marginal(1, 1); math.Abs(sum-1) > 1e-9 {
			t.Errorf("weight %v: marginals sum to %v", w, sum)
		}
	}
}

func TestZeroParameterBaseline(t *testing.T) {
	m, seq := newFixture(t, SourceLabel)
	M, err := m.TransitionMatrices(seq)
	if err != nil {
		t.Fatal(err)
	}
	if !mat.Equal(M[1], mat.NewDiagDense(2, []float64{1, 1})) {
		t.Errorf("M1 = %v, want identity", mat.Formatted(M[1]))
	}
	for i := 2; i < len(M); i++ {
		if !mat.Equal(M[i], mat.NewDense(2, 2, []float64{1, 1, 1, 1})) {
			t.Errorf("M%d = %v, want all ones", i, mat.Formatted(M[i]))
		}
	}

	marg, err := m.Marginals(seq)
	if err != nil {
		t.Fatal(err)
	}
	for pos, dist := range marg {
		if math.Abs(dist[0]-0.5) > 1e-12 || math.Abs(dist[1]-0.5) > 1e-12 {
			t.Errorf("position %d marginals = %v, want uniform", pos, dist)
		}
	}

	decoded, err := m.Decode(seq)
	if err != nil {
		t.Fatal(err)
	}
	for pos, y := range decoded {
		if y != 0 {
			t.Errorf("decoded[%d] = %d, want 0 on ties", pos, y)
		}
	}
	acc, err := m.Accuracy([]Sequence{seq})
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(acc-1.0/3.0) > 1e-12 {
		t.Errorf("accuracy = %v, want 1/3", acc)
	}
}

func TestDecodeIdempotent(t *testing.T) {
	m, seq := newFixture(t, TargetLabel)
	setWeights(m)
	first, err := m.Decode(seq)
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != len(seq) {
		t.Fatalf("decoded %d labels, want %d", len(first), len(seq))
	}
	second, _ := m.Decode(seq)
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("decode not deterministic: %v vs %v", first, second)
		}
	}
}

func TestBestPath(t *testing.T) {
	m, seq := newFixture(t, TargetLabel)
	setWeights(m)
	logM, err := m.LogPotentials(seq)
	if err != nil {
		t.Fatal(err)
	}

	// Brute force the best of the 8 labelings.
	bestScore := math.Inf(-1)
	var best []int
	for code := range 8 {
		path := []int{code >> 2 & 1, code >> 1 & 1, code & 1}
		score := logM[1].At(path[0], path[0]) + logM[2].At(path[0], path[1]) + logM[3].At(path[1], path[2])
		if score > bestScore {
			bestScore, best = score, path
		}
	}

	path, score, err := m.BestPath(seq)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(score-bestScore) > 1e-10 {
		t.Errorf("score = %v, want %v", score, bestScore)
	}
	for i := range best {
		if path[i] != best[i] {
			t.Fatalf("path = %v, want %v", path, best)
		}
	}
}

// newOverflowModel weights label A so that, in the probability domain,
// alpha[A] at column 1 underflows to 0 while beta[A] there overflows to +Inf
// and Z stays finite.
func newOverflowModel(t *testing.T) (*Model, Sequence) {
	t.Helper()
	m, err := NewModel(NewAlphabet("A", "B"), NewAlphabet("a", "b", "c"))
	if err != nil {
		t.Fatal(err)
	}
	m.FeatureWeights.Set(0, 0, -800)
	m.FeatureWeights.Set(0, 1, 700)
	m.FeatureWeights.Set(0, 2, 700)
	seq := Sequence{mustToken(t, m, 0, "a"), mustToken(t, m, 1, "b"), mustToken(t, m, 0, "c")}
	return m, seq
}

func TestProbabilityDomainOverflow(t *testing.T) {
	m, seq := newOverflowModel(t)

	if _, err := m.Lattice(seq, false); !errors.Is(err, ErrDegenerateSequence) {
		t.Errorf("probability domain: err = %v, want ErrDegenerateSequence", err)
	}

	lat, err := m.Lattice(seq, true)
	if err != nil {
		t.Fatal(err)
	}
	for col := 1; col <= lat.Len(); col++ {
		sum := 0.0
		for s := range m.NumLabels() {
			g := lat.Marginal(s, col)
			if math.IsNaN(g) || math.IsInf(g, 0) {
				t.Fatalf("log domain marginal(%d, %d) = %v", s, col, g)
			}
			sum += g
		}
		if math.Abs(sum-1) > 1e-9 {
			t.Errorf("column %d marginals sum to %v", col, sum)
		}
	}
}

func TestAccuracySkipsDegenerateSequence(t *testing.T) {
	m, seq := newFixture(t, SourceLabel)
	want, err := m.Accuracy([]Sequence{seq})
	if err != nil {
		t.Fatal(err)
	}
	got, err := m.Accuracy([]Sequence{seq, {}})
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("accuracy = %v, want %v", got, want)
	}
	if acc, err := m.Accuracy([]Sequence{{}}); err != nil || acc != 0 {
		t.Errorf("only degenerate: accuracy = %v, err = %v", acc, err)
	}
}
