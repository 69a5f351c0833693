package dataset

import (
	"fmt"
	"iter"

	"github.com/happyhackingspace/chaincrf/crf"
)

// Token is a crf.Instance whose features include those of its neighbors
// within Window positions, prefixed by their offset ("-1:word=the").
type Token struct {
	label  int
	attrs  []string
	index  []int
	window int
	known  crf.Codebook // nil while the vocabulary is being built
}

func (tk *Token) LabelIndex() int { return tk.label }

func (tk *Token) FeatureVector() []int { return tk.index }

// SequenceFeatures yields the token's attributes followed by those of its
// neighbors, closest first. Symbols the feature codebook does not know are
// dropped.
func (tk *Token) SequenceFeatures(t int, seq crf.Sequence) iter.Seq[string] {
	return func(yield func(string) bool) {
		emit := func(sym string) bool {
			if tk.known != nil {
				if _, ok := tk.known.Index(sym); !ok {
					return true
				}
			}
			return yield(sym)
		}
		for _, a := range tk.attrs {
			if !emit(a) {
				return
			}
		}
		for d := 1; d <= tk.window; d++ {
			for _, off := range [2]int{-d, d} {
				j := t + off
				if j < 0 || j >= len(seq) {
					continue
				}
				nb, ok := seq[j].(*Token)
				if !ok {
					continue
				}
				for _, a := range nb.attrs {
					if !emit(fmt.Sprintf("%+d:%s", off, a)) {
						return
					}
				}
			}
		}
	}
}

// Vocabulary holds the label and feature codebooks of a training corpus.
type Vocabulary struct {
	Labels   *crf.Alphabet
	Features *crf.Alphabet
	Window   int
}

// BuildVocabulary collects every label and every feature symbol that
// SequenceFeatures produces over raw.
func BuildVocabulary(raw []RawSequence, window int) (*Vocabulary, error) {
	if window < 0 {
		return nil, fmt.Errorf("negative window %d", window)
	}
	v := &Vocabulary{
		Labels:   crf.NewAlphabet(),
		Features: crf.NewAlphabet(),
		Window:   window,
	}
	for _, rs := range raw {
		for _, r := range rs {
			v.Labels.Add(r.Label)
		}
		seq := v.tokens(rs, nil)
		for t, inst := range seq {
			for sym := range inst.SequenceFeatures(t, seq) {
				v.Features.Add(sym)
			}
		}
	}
	return v, nil
}

// Encode converts raw sequences into CRF sequences. Labels must be in the
// vocabulary; unknown feature symbols are dropped.
func (v *Vocabulary) Encode(raw []RawSequence) ([]crf.Sequence, error) {
	out := make([]crf.Sequence, 0, len(raw))
	for i, rs := range raw {
		seq := v.tokens(rs, v.Features)
		for t, inst := range seq {
			tk := inst.(*Token)
			id, ok := v.Labels.Index(rs[t].Label)
			if !ok {
				return nil, fmt.Errorf("sequence %d position %d: unknown label %q", i, t, rs[t].Label)
			}
			tk.label = id
			for sym := range tk.SequenceFeatures(t, seq) {
				idx, _ := v.Features.Index(sym)
				tk.index = append(tk.index, idx)
			}
		}
		out = append(out, seq)
	}
	return out, nil
}

func (v *Vocabulary) tokens(rs RawSequence, known crf.Codebook) crf.Sequence {
	seq := make(crf.Sequence, len(rs))
	for t, r := range rs {
		seq[t] = &Token{
			label:  -1,
			attrs:  FeaturesToAttributes(r.Features),
			window: v.Window,
			known:  known,
		}
	}
	return seq
}

// Holdout splits off the trailing fraction of seqs as a dev set.
func Holdout(seqs []crf.Sequence, fraction float64) (train, dev []crf.Sequence) {
	if fraction <= 0 || fraction >= 1 || len(seqs) < 2 {
		return seqs, nil
	}
	n := int(float64(len(seqs))*fraction + 0.5)
	n = min(max(n, 1), len(seqs)-1)
	return seqs[:len(seqs)-n], seqs[len(seqs)-n:]
}
