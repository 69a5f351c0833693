// Package chaincrf trains and evaluates linear-chain CRF sequence labelers
// from JSON corpora.
//
//	cfg := chaincrf.DefaultTrainConfig()
//	cfg.TrainPath = "train.json"
//	cfg.DevPath = "dev.json"
//	res, _ := chaincrf.Train(ctx, &cfg)
//	fmt.Println(res.Report.DevAccuracy)
package chaincrf

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/happyhackingspace/chaincrf/crf"
	"github.com/happyhackingspace/chaincrf/internal/dataset"
)

// TrainConfig holds configuration for training.
type TrainConfig struct {
	TrainPath string
	DevPath   string // optional
	TestPath  string // optional
	// DevFraction holds out the tail of the training data as dev set when
	// DevPath is empty.
	DevFraction float64
	Window      int // neighbor positions whose attributes become features
	Layout      crf.Layout
	Trainer     crf.TrainerConfig
}

// DefaultTrainConfig returns the default configuration.
func DefaultTrainConfig() TrainConfig {
	return TrainConfig{
		DevFraction: 0.1,
		Window:      1,
		Layout:      crf.TargetLabel,
		Trainer:     crf.DefaultTrainerConfig(),
	}
}

// Result holds a trained model and its scores.
type Result struct {
	Model          *crf.Model
	Report         crf.TrainReport
	TrainSequences int
	DevSequences   int
	TestSequences  int
	TrainAccuracy  float64
	TestAccuracy   float64
}

// Train loads the corpora, builds codebooks from the training data, trains
// a model and scores it.
func Train(ctx context.Context, config *TrainConfig) (*Result, error) {
	if config == nil || config.TrainPath == "" {
		return nil, fmt.Errorf("chaincrf: no training data")
	}

	rawTrain, err := dataset.Load(config.TrainPath)
	if err != nil {
		return nil, fmt.Errorf("chaincrf: %w", err)
	}
	vocab, err := dataset.BuildVocabulary(rawTrain, config.Window)
	if err != nil {
		return nil, fmt.Errorf("chaincrf: %w", err)
	}
	train, err := vocab.Encode(rawTrain)
	if err != nil {
		return nil, fmt.Errorf("chaincrf: %w", err)
	}

	var dev []crf.Sequence
	if config.DevPath != "" {
		dev, err = loadEncoded(vocab, config.DevPath)
		if err != nil {
			return nil, err
		}
	} else {
		train, dev = dataset.Holdout(train, config.DevFraction)
	}
	slog.Debug("Corpus loaded", "train", len(train), "dev", len(dev),
		"labels", vocab.Labels.Len(), "features", vocab.Features.Len())

	model, err := crf.NewModel(vocab.Labels, vocab.Features)
	if err != nil {
		return nil, fmt.Errorf("chaincrf: %w", err)
	}
	model.Layout = config.Layout

	report, err := model.Train(ctx, train, dev, config.Trainer)
	if err != nil {
		return nil, fmt.Errorf("chaincrf: %w", err)
	}

	res := &Result{
		Model:          model,
		Report:         report,
		TrainSequences: len(train),
		DevSequences:   len(dev),
	}
	if res.TrainAccuracy, err = model.Accuracy(train); err != nil {
		return nil, fmt.Errorf("chaincrf: %w", err)
	}
	if config.TestPath != "" {
		test, err := loadEncoded(vocab, config.TestPath)
		if err != nil {
			return nil, err
		}
		res.TestSequences = len(test)
		if res.TestAccuracy, err = model.Accuracy(test); err != nil {
			return nil, fmt.Errorf("chaincrf: %w", err)
		}
	}
	return res, nil
}

func loadEncoded(vocab *dataset.Vocabulary, path string) ([]crf.Sequence, error) {
	raw, err := dataset.Load(path)
	if err != nil {
		return nil, fmt.Errorf("chaincrf: %w", err)
	}
	seqs, err := vocab.Encode(raw)
	if err != nil {
		return nil, fmt.Errorf("chaincrf: %s: %w", path, err)
	}
	return seqs, nil
}

// EvalConfig holds configuration for cross-validation.
type EvalConfig struct {
	TrainConfig
	Folds int
}

// EvalResult holds cross-validation evaluation results.
type EvalResult struct {
	TokenAccuracy    float64
	SequenceAccuracy float64
	TokenCorrect     int
	TokenTotal       int
	SequenceCorrect  int
	SequenceTotal    int
}

// Evaluate runs k-fold cross-validation over the training corpus. Each fold
// builds its own codebooks from the sequences it trains on.
func Evaluate(ctx context.Context, config *EvalConfig) (*EvalResult, error) {
	if config == nil || config.TrainPath == "" {
		return nil, fmt.Errorf("chaincrf: no training data")
	}
	raw, err := dataset.Load(config.TrainPath)
	if err != nil {
		return nil, fmt.Errorf("chaincrf: %w", err)
	}
	nFolds := config.Folds
	if nFolds <= 0 {
		nFolds = 10
	}
	nFolds = min(nFolds, len(raw))
	if nFolds < 2 {
		return nil, fmt.Errorf("chaincrf: need at least 2 sequences for cross-validation, have %d", len(raw))
	}

	result := &EvalResult{}
	for fold := range nFolds {
		var trainRaw, testRaw []dataset.RawSequence
		for i, seq := range raw {
			if i%nFolds == fold {
				testRaw = append(testRaw, seq)
			} else {
				trainRaw = append(trainRaw, seq)
			}
		}

		vocab, err := dataset.BuildVocabulary(trainRaw, config.Window)
		if err != nil {
			return nil, fmt.Errorf("chaincrf: %w", err)
		}
		train, err := vocab.Encode(trainRaw)
		if err != nil {
			return nil, fmt.Errorf("chaincrf: %w", err)
		}
		test, err := vocab.Encode(testRaw)
		if err != nil {
			return nil, fmt.Errorf("chaincrf: fold %d: %w", fold+1, err)
		}

		model, err := crf.NewModel(vocab.Labels, vocab.Features)
		if err != nil {
			return nil, fmt.Errorf("chaincrf: %w", err)
		}
		model.Layout = config.Layout
		trainer := config.Trainer
		trainer.BatchSize = min(trainer.BatchSize, len(train))
		if _, err := model.Train(ctx, train, nil, trainer); err != nil {
			return nil, fmt.Errorf("chaincrf: fold %d: %w", fold+1, err)
		}

		for _, seq := range test {
			pred, err := model.Decode(seq)
			if err != nil {
				return nil, fmt.Errorf("chaincrf: fold %d: %w", fold+1, err)
			}
			allCorrect := true
			for j, inst := range seq {
				if pred[j] == inst.LabelIndex() {
					result.TokenCorrect++
				} else {
					allCorrect = false
				}
				result.TokenTotal++
			}
			if allCorrect {
				result.SequenceCorrect++
			}
			result.SequenceTotal++
		}
		slog.Debug("Fold evaluated", "fold", fold+1, "train", len(train), "test", len(test))
	}

	if result.TokenTotal > 0 {
		result.TokenAccuracy = float64(result.TokenCorrect) / float64(result.TokenTotal)
	}
	if result.SequenceTotal > 0 {
		result.SequenceAccuracy = float64(result.SequenceCorrect) / float64(result.SequenceTotal)
	}
	return result, nil
}
