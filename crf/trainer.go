package crf

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// TrainerConfig holds CRF training hyperparameters.
type TrainerConfig struct {
	LearningRate float64 // gradient-ascent step size
	BatchSize    int     // sequences per gradient step
	Epochs       int     // passes over the training data
	// Patience stops training after this many consecutive dev evaluations
	// without a new best accuracy. Zero disables early stopping.
	Patience int
	// Workers bounds the goroutines computing lattices within a batch.
	Workers int
	// LogDomain runs forward-backward on log-sum-exp instead of probabilities.
	LogDomain bool
}

// DefaultTrainerConfig returns the default training config.
func DefaultTrainerConfig() TrainerConfig {
	return TrainerConfig{
		LearningRate: 0.01,
		BatchSize:    200,
		Epochs:       10,
		Workers:      runtime.GOMAXPROCS(0),
		LogDomain:    true,
	}
}

// TrainReport summarizes a training run.
type TrainReport struct {
	Epochs          int // epochs started
	Batches         int // gradient steps taken
	Skipped         int // degenerate sequences left out of their batch
	DevAccuracy     float64
	BestDevAccuracy float64
	EarlyStopped    bool
}

// BatchBounds partitions n items into contiguous [start, end) batches of
// the given size. A trailing partial batch is kept.
func BatchBounds(n, size int) ([][2]int, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: batch size %d", ErrInvalidConfig, size)
	}
	if n == 0 || size > n {
		return nil, fmt.Errorf("%w: batch size %d with %d sequences", ErrEmptyBatch, size, n)
	}
	bounds := make([][2]int, 0, (n+size-1)/size)
	for start := 0; start < n; start += size {
		bounds = append(bounds, [2]int{start, min(start+size, n)})
	}
	return bounds, nil
}

// Train fits m to train by minibatch gradient ascent on the log-likelihood.
//
// Parameters change only between batches. Within a batch, lattices are
// computed concurrently against the same parameters and merged in sequence
// order, so results do not depend on config.Workers. When dev is non-empty
// its accuracy is measured after every batch.
func (m *Model) Train(ctx context.Context, train, dev []Sequence, config TrainerConfig) (TrainReport, error) {
	var report TrainReport
	if config.Epochs <= 0 {
		return report, fmt.Errorf("%w: epochs %d", ErrInvalidConfig, config.Epochs)
	}
	if !(config.LearningRate > 0) {
		return report, fmt.Errorf("%w: learning rate %v", ErrInvalidConfig, config.LearningRate)
	}
	bounds, err := BatchBounds(len(train), config.BatchSize)
	if err != nil {
		return report, err
	}

	if len(dev) > 0 {
		acc, err := m.Accuracy(dev)
		if err != nil {
			return report, fmt.Errorf("baseline accuracy: %w", err)
		}
		slog.Info("CRF baseline dev accuracy", "accuracy", acc)
		report.DevAccuracy = acc
		report.BestDevAccuracy = acc
	}

	stale := 0
	for epoch := range config.Epochs {
		report.Epochs = epoch + 1
		for b, bound := range bounds {
			skipped, err := m.trainBatch(ctx, train[bound[0]:bound[1]], config)
			if err != nil {
				return report, err
			}
			report.Batches++
			report.Skipped += skipped

			if len(dev) == 0 {
				slog.Debug("CRF training batch", "epoch", epoch+1, "batch", b+1, "skipped", skipped)
				continue
			}
			acc, err := m.Accuracy(dev)
			if err != nil {
				return report, fmt.Errorf("dev accuracy: %w", err)
			}
			report.DevAccuracy = acc
			slog.Debug("CRF training batch", "epoch", epoch+1, "batch", b+1, "skipped", skipped, "dev_accuracy", acc)

			if acc > report.BestDevAccuracy {
				report.BestDevAccuracy = acc
				stale = 0
			} else {
				stale++
			}
			if config.Patience > 0 && stale >= config.Patience {
				slog.Info("CRF early stopping", "epoch", epoch+1, "batch", b+1, "best_dev_accuracy", report.BestDevAccuracy)
				report.EarlyStopped = true
				return report, nil
			}
		}
		slog.Info("CRF training epoch", "epoch", epoch+1, "batches", len(bounds), "dev_accuracy", report.DevAccuracy)
	}
	return report, nil
}

// trainBatch takes one gradient step on batch and returns the number of
// degenerate sequences it left out.
func (m *Model) trainBatch(ctx context.Context, batch []Sequence, config TrainerConfig) (int, error) {
	lattices := make([]*Lattice, len(batch))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(config.Workers, 1))
	for i, seq := range batch {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			lat, err := m.Lattice(seq, config.LogDomain)
			if errors.Is(err, ErrDegenerateSequence) {
				slog.Warn("Skipping degenerate sequence", "index", i, "length", len(seq), "error", err)
				return nil
			}
			if err != nil {
				return err
			}
			lattices[i] = lat
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	expected := m.NewCounts()
	kept := make([]Sequence, 0, len(batch))
	for i, lat := range lattices {
		if lat == nil {
			continue
		}
		if err := m.ExpectedCounts(batch[i], lat, expected); err != nil {
			return 0, err
		}
		kept = append(kept, batch[i])
	}
	skipped := len(batch) - len(kept)
	if len(kept) == 0 {
		return skipped, nil
	}

	observed, err := m.ObservedCounts(kept)
	if err != nil {
		return 0, err
	}
	m.Update(observed, expected, len(kept), config.LearningRate)
	return skipped, nil
}
