// Package crf implements a linear-chain Conditional Random Field trained by
// minibatch gradient ascent and decoded by per-position posterior marginals.
package crf

import (
	"fmt"
	"iter"
)

// Codebook maps symbols to a contiguous index range [0, Len()).
type Codebook interface {
	Index(symbol string) (int, bool)
	Symbol(index int) string
	Len() int
}

// Alphabet maps between string labels/attributes and integer IDs.
type Alphabet struct {
	ToID  map[string]int `json:"to_id"`
	ToStr []string       `json:"to_str"`
}

// NewAlphabet creates an alphabet holding the given symbols in order.
func NewAlphabet(symbols ...string) *Alphabet {
	a := &Alphabet{
		ToID: make(map[string]int),
	}
	for _, s := range symbols {
		a.Add(s)
	}
	return a
}

// Add adds a string to the alphabet if not already present, returns its ID.
func (a *Alphabet) Add(s string) int {
	if id, ok := a.ToID[s]; ok {
		return id
	}
	id := len(a.ToStr)
	a.ToID[s] = id
	a.ToStr = append(a.ToStr, s)
	return id
}

// Index returns the ID for a string.
func (a *Alphabet) Index(s string) (int, bool) {
	id, ok := a.ToID[s]
	return id, ok
}

// Symbol returns the string for an ID, or "" if out of range.
func (a *Alphabet) Symbol(id int) string {
	if id < 0 || id >= len(a.ToStr) {
		return ""
	}
	return a.ToStr[id]
}

// Len returns the number of entries.
func (a *Alphabet) Len() int {
	return len(a.ToStr)
}

// Instance is one position of a sequence.
//
// FeatureVector and SequenceFeatures must describe the same features: the
// former as codebook indices (used for counting), the latter as symbols
// (used for scoring).
type Instance interface {
	LabelIndex() int
	FeatureVector() []int
	SequenceFeatures(t int, seq Sequence) iter.Seq[string]
}

// Sequence is an ordered list of instances.
type Sequence []Instance

// Token is an Instance whose features depend only on its own position.
type Token struct {
	Label    int
	Features []int
	Symbols  []string
}

// NewToken resolves symbols against the feature codebook.
func NewToken(label int, features Codebook, symbols ...string) (*Token, error) {
	tk := &Token{Label: label, Symbols: symbols}
	for _, s := range symbols {
		idx, ok := features.Index(s)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownFeature, s)
		}
		tk.Features = append(tk.Features, idx)
	}
	return tk, nil
}

func (tk *Token) LabelIndex() int { return tk.Label }

func (tk *Token) FeatureVector() []int { return tk.Features }

func (tk *Token) SequenceFeatures(_ int, _ Sequence) iter.Seq[string] {
	return func(yield func(string) bool) {
		for _, s := range tk.Symbols {
			if !yield(s) {
				return
			}
		}
	}
}

// Layout selects which label the per-position features are scored against.
type Layout int

const (
	// SourceLabel scores the features of position t (t > 0) against the
	// source label of the transition entering t, and reads alpha/beta
	// column t for position t.
	SourceLabel Layout = iota
	// TargetLabel scores the features of position t against the label at t
	// and reads column t+1. Observed minus expected counts is then the exact
	// log-likelihood gradient.
	TargetLabel
)

func (l Layout) String() string {
	switch l {
	case SourceLabel:
		return "source"
	case TargetLabel:
		return "target"
	default:
		return fmt.Sprintf("Layout(%d)", int(l))
	}
}

// ParseLayout parses "source" or "target".
func ParseLayout(s string) (Layout, error) {
	switch s {
	case "source":
		return SourceLabel, nil
	case "target":
		return TargetLabel, nil
	}
	return 0, fmt.Errorf("%w: unknown layout %q", ErrInvalidConfig, s)
}
