package cmd

import (
	"fmt"
	"log/slog"

	"textclf/internal/config"
	"textclf/internal/training"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

func addLoggingFlags(flags *pflag.FlagSet, envFile, logLevel *string) {
	flags.StringVar(envFile, "env", "", "path of a dotenv file to load before anything else")
	flags.StringVar(logLevel, "log-level", "info", "log level: debug, info, warn or error")
}

// NewTrainerCommand returns the root command of the trainer binary. deps
// carries the frameworks and tokenizer loaders compiled into the binary.
func NewTrainerCommand(deps training.Deps) *cobra.Command {
	var envFile, logLevel string

	cmd := &cobra.Command{
		Use:   "trainer RECIPE [key=value ...]",
		Short: "Fine-tune a text classification model as described by a recipe file",
		Long: "Loads the recipe, applies dotted-path key=value overrides on top of it and runs\n" +
			"the training job: dataset loading, tokenization, training, evaluation and upload.",
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := LoadEnv(envFile); err != nil {
				return err
			}
			return SetupLogging(logLevel)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(args[0], args[1:])
			if err != nil {
				return err
			}

			if err := training.Run(cmd.Context(), cfg, deps); err != nil {
				return fmt.Errorf("training failed: %w", err)
			}

			slog.Info("training job complete", "output_dir", cfg.Trainer.OutputDir)
			return nil
		},
	}

	addLoggingFlags(cmd.Flags(), &envFile, &logLevel)
	return cmd
}
