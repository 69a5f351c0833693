package cli

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/happyhackingspace/chaincrf"
	"github.com/spf13/cobra"
)

func (c *CLI) newEvaluateCommand() *cobra.Command {
	var opts trainOptions
	var cvFolds int

	cmd := &cobra.Command{
		Use:     "evaluate",
		Short:   "Evaluate accuracy via cross-validation",
		Args:    cobra.NoArgs,
		Example: `  chaincrf evaluate --train train.json --cv 10`,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := opts.resolve()
			if err != nil {
				return err
			}
			slog.Info("Evaluating", "folds", cvFolds, "train", config.TrainPath)
			start := time.Now()
			result, err := chaincrf.Evaluate(cmd.Context(), &chaincrf.EvalConfig{
				TrainConfig: config,
				Folds:       cvFolds,
			})
			if err != nil {
				return err
			}
			slog.Debug("Evaluation completed", "duration", time.Since(start))

			fmt.Printf("Token accuracy: %.1f%% (%d/%d)\n",
				result.TokenAccuracy*100, result.TokenCorrect, result.TokenTotal)
			fmt.Printf("Sequence accuracy: %.1f%% (%d/%d)\n",
				result.SequenceAccuracy*100, result.SequenceCorrect, result.SequenceTotal)
			return nil
		},
	}

	opts.register(cmd.Flags())
	cmd.Flags().IntVar(&cvFolds, "cv", 10, "Number of cross-validation folds")
	_ = cmd.MarkFlagRequired("train")
	return cmd
}
