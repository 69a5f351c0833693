package cli

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/happyhackingspace/chaincrf"
	"github.com/happyhackingspace/chaincrf/crf"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// trainOptions binds the training flags shared by train and evaluate.
type trainOptions struct {
	config chaincrf.TrainConfig
	layout string
}

func (o *trainOptions) register(flags *pflag.FlagSet) {
	o.config = chaincrf.DefaultTrainConfig()
	flags.StringVar(&o.config.TrainPath, "train", "", "Path to the training corpus (JSON)")
	flags.IntVar(&o.config.Window, "window", o.config.Window, "Neighbor positions whose attributes become features")
	flags.StringVar(&o.layout, "layout", o.config.Layout.String(), "Feature layout: source or target")
	flags.Float64Var(&o.config.Trainer.LearningRate, "lr", o.config.Trainer.LearningRate, "Learning rate")
	flags.IntVar(&o.config.Trainer.BatchSize, "batch-size", o.config.Trainer.BatchSize, "Sequences per gradient step")
	flags.IntVar(&o.config.Trainer.Epochs, "epochs", o.config.Trainer.Epochs, "Passes over the training data")
	flags.IntVar(&o.config.Trainer.Workers, "workers", o.config.Trainer.Workers, "Parallel sequence workers per batch")
	flags.BoolVar(&o.config.Trainer.LogDomain, "log-domain", o.config.Trainer.LogDomain, "Run forward-backward in log space")
}

func (o *trainOptions) resolve() (chaincrf.TrainConfig, error) {
	layout, err := crf.ParseLayout(o.layout)
	if err != nil {
		return o.config, err
	}
	o.config.Layout = layout
	return o.config, nil
}

func (c *CLI) newTrainCommand() *cobra.Command {
	var opts trainOptions

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train a CRF and report dev and test accuracy",
		Args:  cobra.NoArgs,
		Example: `  chaincrf train --train train.json --dev dev.json
  chaincrf train --train train.json --test test.json --epochs 20 --lr 0.1 -v`,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := opts.resolve()
			if err != nil {
				return err
			}
			slog.Info("Training CRF", "train", config.TrainPath, "dev", config.DevPath, "layout", config.Layout)
			start := time.Now()
			res, err := chaincrf.Train(cmd.Context(), &config)
			if err != nil {
				return err
			}
			slog.Debug("Training completed", "duration", time.Since(start), "batches", res.Report.Batches)

			if res.Report.Skipped > 0 {
				slog.Warn("Degenerate sequences skipped", "count", res.Report.Skipped)
			}
			fmt.Printf("Train accuracy: %.1f%% (%d sequences)\n", res.TrainAccuracy*100, res.TrainSequences)
			if res.DevSequences > 0 {
				fmt.Printf("Dev accuracy: %.1f%% (best %.1f%%, %d sequences)\n",
					res.Report.DevAccuracy*100, res.Report.BestDevAccuracy*100, res.DevSequences)
			}
			if res.TestSequences > 0 {
				fmt.Printf("Test accuracy: %.1f%% (%d sequences)\n", res.TestAccuracy*100, res.TestSequences)
			}
			if res.Report.EarlyStopped {
				fmt.Printf("Stopped early after %d batches\n", res.Report.Batches)
			}
			return nil
		},
	}

	opts.register(cmd.Flags())
	cmd.Flags().StringVar(&opts.config.DevPath, "dev", "", "Path to the dev corpus (default: hold out --dev-fraction of training data)")
	cmd.Flags().StringVar(&opts.config.TestPath, "test", "", "Path to a test corpus")
	cmd.Flags().Float64Var(&opts.config.DevFraction, "dev-fraction", opts.config.DevFraction, "Fraction of training data held out when --dev is not set")
	cmd.Flags().IntVar(&opts.config.Trainer.Patience, "patience", 0, "Stop after this many batches without dev improvement (0 disables)")
	_ = cmd.MarkFlagRequired("train")
	return cmd
}
