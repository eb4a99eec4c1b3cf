package training

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"textclf/internal/config"
	"textclf/internal/core/types"
	"textclf/internal/datasets"
	"textclf/internal/hub"
	"textclf/internal/metrics"
	"textclf/internal/storage"
	"textclf/internal/tokenizer"
)

type Deps struct {
	Frameworks Frameworks
	Tokenizers tokenizer.Loaders
	Datasets   *datasets.Loader

	// HubEndpoint defaults to the public hub.
	HubEndpoint string
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("error writing %s: %w", path, err)
	}
	return nil
}

func boundMetricArgs(problem types.ProblemType, labels types.LabelMapping) map[string]any {
	switch problem {
	case types.Multiclass:
		return map[string]any{"num_classes": labels.Len()}
	case types.Multilabel:
		return map[string]any{"num_labels": labels.Len()}
	default:
		return map[string]any{}
	}
}

func modelCard(cfg *config.TrainingConfig, problem types.ProblemType, labels types.LabelMapping, args TrainingArguments, evalResults map[string]float64) hub.ModelCard {
	return hub.ModelCard{
		ModelName:     cfg.ModelCard.ModelName,
		Language:      cfg.ModelCard.Language,
		License:       cfg.ModelCard.License,
		FinetunedFrom: cfg.ModelCard.FinetunedFrom,
		Tasks:         cfg.ModelCard.Tasks,
		Datasets:      cfg.ModelCard.Dataset,
		ProblemType:   string(problem),
		Labels:        labels.Names(),
		EvalResults:   evalResults,
		Hyperparameters: map[string]any{
			"learning_rate":    args.LearningRate,
			"train_batch_size": args.PerDeviceTrainBatchSize,
			"eval_batch_size":  args.PerDeviceEvalBatchSize,
			"num_epochs":       args.NumTrainEpochs,
			"weight_decay":     args.WeightDecay,
			"seed":             args.Seed,
		},
	}
}

// Run executes a full fine-tuning job described by cfg.
func Run(ctx context.Context, cfg *config.TrainingConfig, deps Deps) error {
	framework, err := deps.Frameworks.Get(cfg.Trainer.Framework)
	if err != nil {
		return err
	}

	args, err := ParseTrainingArguments(cfg.Trainer.Args)
	if err != nil {
		return err
	}
	args.OutputDir = cfg.Trainer.OutputDir
	if _, set := cfg.Trainer.Args["seed"]; !set && cfg.Seed != nil {
		args.Seed = *cfg.Seed
	}

	token := hub.TokenFromEnv(cfg.HubToken)

	loader := deps.Datasets
	if loader == nil {
		loader = datasets.NewLoader(datasets.DefaultDatasetsServerURL)
	}

	train, err := loader.Load(ctx, cfg.TrainData, token, cfg.Seed)
	if err != nil {
		return err
	}
	var eval datasets.Dataset
	if cfg.EvalData != nil {
		if eval, err = loader.Load(ctx, *cfg.EvalData, token, cfg.Seed); err != nil {
			return err
		}
	}

	labels, problem, err := InferLabels(ctx, train, cfg.Processing.Target)
	if err != nil {
		return err
	}
	slog.Info("inferred label space", "problem_type", problem, "labels", labels.Names())

	if train, err = EncodeLabels(train, cfg.Processing.Target, labels, problem); err != nil {
		return fmt.Errorf("error encoding train labels: %w", err)
	}
	if eval != nil {
		if eval, err = EncodeLabels(eval, cfg.Processing.Target, labels, problem); err != nil {
			return fmt.Errorf("error encoding eval labels: %w", err)
		}
	}

	tokenizers := deps.Tokenizers
	if tokenizers == nil {
		tokenizers = tokenizer.DefaultLoaders()
	}
	tok, err := tokenizers.Load(ctx, cfg.Tokenizer, token)
	if err != nil {
		return err
	}

	if train, err = Tokenize(ctx, train, tok, cfg.Processing, problem); err != nil {
		return fmt.Errorf("error tokenizing train dataset: %w", err)
	}
	if eval != nil {
		if eval, err = Tokenize(ctx, eval, tok, cfg.Processing, problem); err != nil {
			return fmt.Errorf("error tokenizing eval dataset: %w", err)
		}
	}

	var fs storage.FileSystem = storage.NewLocalFileSystem()
	if remote := cfg.Trainer.RemoteStorage; remote != nil {
		if fs, err = storage.Resolve(ctx, remote.OutputDir, remote.Options); err != nil {
			return fmt.Errorf("error resolving remote storage: %w", err)
		}
	}

	var callbacks []Callback
	if remote := cfg.Trainer.RemoteStorage; remote != nil {
		cb, err := NewRemoteSaveCallback(ctx, fs, remote.OutputDir)
		if err != nil {
			return err
		}
		callbacks = append(callbacks, cb)
	}
	if cfg.Trainer.EarlyStopping != nil {
		cb, err := NewEarlyStoppingCallback(args, *cfg.Trainer.EarlyStopping)
		if err != nil {
			return err
		}
		callbacks = append(callbacks, cb)
	}

	resumeFrom := ""
	if checkpoint := cfg.Trainer.ResumeFromCheckpoint; checkpoint != "" {
		if resumeFrom, err = materializeCheckpoint(ctx, fs, checkpoint, args.OutputDir); err != nil {
			return err
		}
	}

	if err := os.MkdirAll(args.OutputDir, os.ModePerm); err != nil {
		return fmt.Errorf("error creating output dir: %w", err)
	}

	scorers, err := metrics.Resolve(problem, cfg.Metrics, boundMetricArgs(problem, labels))
	if err != nil {
		return err
	}

	hubEndpoint := deps.HubEndpoint
	if hubEndpoint == "" {
		hubEndpoint = hub.DefaultEndpoint
	}

	trainer, err := framework.NewTrainer(ctx, TrainerParams{
		Args:           args,
		Model:          cfg.Model,
		Labels:         labels,
		ProblemType:    problem,
		Tokenizer:      tok,
		TrainDataset:   train,
		EvalDataset:    eval,
		Callbacks:      callbacks,
		ComputeMetrics: metrics.ComputeMetrics(scorers),
		Hub:            hub.NewClient(hubEndpoint, token),
		HubToken:       token,
	})
	if err != nil {
		return fmt.Errorf("error creating trainer: %w", err)
	}

	slog.Info("starting training", "framework", cfg.Trainer.Framework, "output_dir", args.OutputDir, "resume_from", resumeFrom)
	out, err := trainer.Train(ctx, resumeFrom)
	if err != nil {
		return fmt.Errorf("error training model: %w", err)
	}
	if err := writeJSON(filepath.Join(args.OutputDir, "train_results.json"), out.Metrics); err != nil {
		return err
	}

	var evalResults map[string]float64
	if eval != nil {
		if evalResults, err = trainer.Evaluate(ctx); err != nil {
			return fmt.Errorf("error evaluating model: %w", err)
		}
		if err := writeJSON(filepath.Join(args.OutputDir, "eval_results.json"), evalResults); err != nil {
			return err
		}
		slog.Info("final evaluation", "results", evalResults)
	}

	card := modelCard(cfg, problem, labels, args, evalResults)
	if args.PushToHub {
		if err := trainer.PushToHub(ctx, card); err != nil {
			return fmt.Errorf("error pushing model to hub: %w", err)
		}
	} else {
		if err := trainer.SaveModel(ctx, args.OutputDir); err != nil {
			return fmt.Errorf("error saving model: %w", err)
		}
		if cfg.ModelCard.Update {
			if err := card.Write(args.OutputDir); err != nil {
				return err
			}
		}
	}

	if remote := cfg.Trainer.RemoteStorage; remote != nil {
		slog.Info("uploading output dir", "local", args.OutputDir, "remote", remote.OutputDir)
		if err := uploadOutputDir(ctx, fs, args.OutputDir, remote.OutputDir); err != nil {
			return fmt.Errorf("error uploading output dir to %s: %w", remote.OutputDir, err)
		}
	}

	slog.Info("training completed", "output_dir", args.OutputDir, "global_step", out.GlobalStep)
	return nil
}

// uploadOutputDir copies each top level entry of outputDir under remoteDir.
// Entries with the same name are replaced, anything else already stored
// under remoteDir is left alone.
func uploadOutputDir(ctx context.Context, fs storage.FileSystem, outputDir, remoteDir string) error {
	entries, err := os.ReadDir(outputDir)
	if err != nil {
		return fmt.Errorf("error reading output dir: %w", err)
	}
	for _, entry := range entries {
		local := filepath.Join(outputDir, entry.Name())
		if err := fs.Put(ctx, local, remoteJoin(remoteDir, entry.Name())); err != nil {
			return fmt.Errorf("error uploading %s: %w", local, err)
		}
	}
	return nil
}
