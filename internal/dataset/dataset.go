// Package dataset loads labeled sequences from JSON and turns them into CRF
// inputs with codebooks built from the training data.
package dataset

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// Record is one labeled position as stored on disk.
type Record struct {
	Label    string         `json:"label"`
	Features map[string]any `json:"features"`
}

// RawSequence is a sequence of records.
type RawSequence []Record

// Load reads a JSON array of sequences from path.
func Load(path string) ([]RawSequence, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	seqs, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return seqs, nil
}

// Parse decodes a JSON array of sequences. Empty sequences are rejected.
func Parse(data []byte) ([]RawSequence, error) {
	var seqs []RawSequence
	if err := json.Unmarshal(data, &seqs); err != nil {
		return nil, err
	}
	for i, seq := range seqs {
		if len(seq) == 0 {
			return nil, fmt.Errorf("sequence %d is empty", i)
		}
	}
	return seqs, nil
}

// FeaturesToAttributes converts a feature dict (with mixed value types)
// to sorted CRF attribute symbols.
//
// Conversion rules:
//   - string value: "key=value"
//   - list value: "key:item" for each item
//   - bool value: "key" if true
//   - numeric value: "key" if non-zero
//   - null value: skipped
func FeaturesToAttributes(features map[string]any) []string {
	set := make(map[string]bool)
	for key, val := range features {
		switch v := val.(type) {
		case nil:
		case string:
			set[fmt.Sprintf("%s=%s", key, v)] = true
		case []string:
			for _, item := range v {
				set[fmt.Sprintf("%s:%s", key, item)] = true
			}
		case []any:
			for _, item := range v {
				set[fmt.Sprintf("%s:%v", key, item)] = true
			}
		case bool:
			if v {
				set[key] = true
			}
		case int:
			if v != 0 {
				set[key] = true
			}
		case float64:
			if v != 0 {
				set[key] = true
			}
		default:
			set[key] = true
		}
	}
	attrs := make([]string, 0, len(set))
	for a := range set {
		attrs = append(attrs, a)
	}
	sort.Strings(attrs)
	return attrs
}
