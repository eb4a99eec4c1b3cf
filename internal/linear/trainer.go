package linear

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"math"
	"math/rand/v2"
	"os"
	"path"
	"path/filepath"
	"time"

	"textclf/internal/datasets"
	"textclf/internal/training"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
)

// FromScratch as model name starts training from zero weights.
const FromScratch = "linear"

type Framework struct {
	// CacheDir receives models downloaded from the hub.
	CacheDir string
}

var _ training.Framework = Framework{}

type Trainer struct {
	params    training.TrainerParams
	args      training.TrainingArguments
	model     *Model
	optimizer sgd

	// train is set for materialized train data, stream otherwise.
	train  []example
	stream datasets.Dataset

	state    training.TrainerState
	lastEval map[string]float64
}

var _ training.Trainer = (*Trainer)(nil)

func (f Framework) NewTrainer(ctx context.Context, params training.TrainerParams) (training.Trainer, error) {
	args := params.Args
	if params.TrainDataset == nil {
		return nil, fmt.Errorf("train dataset is required")
	}
	if args.EvalStrategy != training.StrategyNo && params.EvalDataset == nil {
		return nil, fmt.Errorf("eval_strategy '%s' requires an eval dataset", args.EvalStrategy)
	}

	model, err := f.initModel(ctx, params)
	if err != nil {
		return nil, err
	}

	t := &Trainer{
		params:    params,
		args:      args,
		model:     model,
		optimizer: sgd{weightDecay: args.WeightDecay},
	}

	switch ds := params.TrainDataset.(type) {
	case *datasets.Materialized:
		t.train = make([]example, 0, ds.Len())
		for ex, err := range model.examples(ctx, ds) {
			if err != nil {
				return nil, fmt.Errorf("invalid train example: %w", err)
			}
			t.train = append(t.train, ex)
		}
		if len(t.train) == 0 {
			return nil, fmt.Errorf("train dataset is empty")
		}
	default:
		if args.MaxSteps <= 0 {
			return nil, fmt.Errorf("max_steps must be set when training on a streaming dataset")
		}
		t.stream = ds
	}

	return t, nil
}

// initModel starts from zero weights, or from a saved linear model found
// locally or on the hub. A saved model whose shape does not match the label
// space or feature count is discarded.
func (f Framework) initModel(ctx context.Context, params training.TrainerParams) (*Model, error) {
	fresh := NewModel(params.ProblemType, params.Labels, params.Args.NumFeatures)
	ref := params.Model
	if ref.NameOrPath == FromScratch {
		slog.Info("training linear model from scratch", "labels", params.Labels.Len(), "num_features", params.Args.NumFeatures)
		return fresh, nil
	}

	dir := filepath.Join(ref.NameOrPath, ref.Subfolder)
	if !isModelDir(dir) {
		var err error
		if dir, err = f.download(ctx, params); err != nil {
			return nil, err
		}
	}

	cfg, err := LoadConfig(dir)
	if err != nil {
		return nil, err
	}
	if cfg.NumLabels != params.Labels.Len() || cfg.NumFeatures != params.Args.NumFeatures {
		slog.Warn("pretrained linear model does not match, reinitializing weights",
			"model", ref.NameOrPath, "num_labels", cfg.NumLabels, "expected_labels", params.Labels.Len(),
			"num_features", cfg.NumFeatures, "expected_features", params.Args.NumFeatures)
		return fresh, nil
	}
	if err := fresh.loadWeights(dir); err != nil {
		return nil, err
	}
	slog.Info("loaded pretrained linear model", "model", ref.NameOrPath, "dir", dir)
	return fresh, nil
}

func (f Framework) download(ctx context.Context, params training.TrainerParams) (string, error) {
	ref := params.Model
	if params.Hub == nil {
		return "", fmt.Errorf("model %s is not a local linear model and no hub client is configured", ref.NameOrPath)
	}

	cacheDir := f.CacheDir
	if cacheDir == "" {
		userCache, err := os.UserCacheDir()
		if err != nil {
			return "", fmt.Errorf("error locating cache dir: %w", err)
		}
		cacheDir = filepath.Join(userCache, "textclf", "models")
	}
	dir := filepath.Join(cacheDir, ref.NameOrPath, ref.Revision, ref.Subfolder)

	for _, name := range []string{configFile, weightsFile} {
		remote := path.Join(ref.Subfolder, name)
		if err := params.Hub.DownloadFile(ctx, ref.NameOrPath, ref.Revision, remote, filepath.Join(dir, name)); err != nil {
			return "", fmt.Errorf("error downloading model %s: %w", ref.NameOrPath, err)
		}
	}
	return dir, nil
}

type batch struct {
	examples []example
	epoch    int
	// last marks the final batch of an epoch.
	last bool
}

func (t *Trainer) stepsPerEpoch() int {
	if t.train == nil {
		return 0
	}
	return (len(t.train) + t.args.PerDeviceTrainBatchSize - 1) / t.args.PerDeviceTrainBatchSize
}

func (t *Trainer) maxSteps() int {
	if t.args.MaxSteps > 0 {
		return t.args.MaxSteps
	}
	return int(math.Ceil(t.args.NumTrainEpochs * float64(t.stepsPerEpoch())))
}

// batches yields train batches starting after the first skip steps. Every
// epoch of materialized data is shuffled with a permutation that only
// depends on the seed and the epoch, so a resumed run sees the same batches.
func (t *Trainer) batches(ctx context.Context, skip int) iter.Seq2[batch, error] {
	size := t.args.PerDeviceTrainBatchSize
	if t.train != nil {
		perEpoch := t.stepsPerEpoch()
		return func(yield func(batch, error) bool) {
			for epoch := skip / perEpoch; ; epoch++ {
				rng := rand.New(rand.NewPCG(uint64(t.args.Seed), uint64(epoch)))
				perm := rng.Perm(len(t.train))
				first := 0
				if epoch == skip/perEpoch {
					first = skip % perEpoch
				}
				for b := first; b < perEpoch; b++ {
					if err := ctx.Err(); err != nil {
						yield(batch{}, err)
						return
					}
					end := min((b+1)*size, len(perm))
					exs := make([]example, 0, end-b*size)
					for _, idx := range perm[b*size : end] {
						exs = append(exs, t.train[idx])
					}
					if !yield(batch{examples: exs, epoch: epoch, last: b == perEpoch-1}, nil) {
						return
					}
				}
			}
		}
	}

	return func(yield func(batch, error) bool) {
		toSkip := skip * size
		for epoch := 0; ; epoch++ {
			var exs []example
			seen := 0
			for ex, err := range t.model.examples(ctx, t.stream) {
				if err != nil {
					yield(batch{}, err)
					return
				}
				seen++
				if toSkip > 0 {
					toSkip--
					continue
				}
				exs = append(exs, ex)
				if len(exs) == size {
					if !yield(batch{examples: exs, epoch: epoch}, nil) {
						return
					}
					exs = nil
				}
			}
			if seen == 0 {
				yield(batch{}, fmt.Errorf("train dataset is empty"))
				return
			}
			if len(exs) > 0 {
				if !yield(batch{examples: exs, epoch: epoch, last: true}, nil) {
					return
				}
			}
		}
	}
}

func (t *Trainer) step(b batch, lr float64) float64 {
	g := newGradients(t.model.labels.Len())
	scale := 1 / float64(len(b.examples))
	loss := 0.0
	for _, ex := range b.examples {
		loss += t.model.accumulate(g, ex, scale)
	}
	t.optimizer.step(t.model, g, lr)
	return loss * scale
}

func (t *Trainer) epochProgress(b batch) float64 {
	if perEpoch := t.stepsPerEpoch(); perEpoch > 0 {
		return float64(t.state.GlobalStep) / float64(perEpoch)
	}
	return float64(b.epoch)
}

func (t *Trainer) newProgressBar(maxSteps int) *progressbar.ProgressBar {
	if t.args.DisableTqdm {
		return nil
	}
	return progressbar.NewOptions(maxSteps,
		progressbar.OptionSetDescription("training"),
		progressbar.OptionSetWidth(30),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionClearOnFinish(),
	)
}

func (t *Trainer) Train(ctx context.Context, resumeFrom string) (training.TrainOutput, error) {
	t.state = training.TrainerState{RunID: uuid.NewString()}
	if resumeFrom != "" {
		if err := t.resume(resumeFrom); err != nil {
			return training.TrainOutput{}, err
		}
	}

	maxSteps := t.maxSteps()
	t.state.MaxSteps = maxSteps
	startStep := t.state.GlobalStep

	bar := t.newProgressBar(maxSteps)
	if bar != nil {
		_ = bar.Set(startStep)
		defer bar.Finish() //nolint:errcheck
	}

	slog.Info("training linear model", "run_id", t.state.RunID, "examples", len(t.train), "max_steps", maxSteps,
		"start_step", startStep, "batch_size", t.args.PerDeviceTrainBatchSize, "learning_rate", t.args.LearningRate)

	start := time.Now()
	var totalLoss, windowLoss float64
	windowSteps := 0
	control := &training.Control{}

	for b, err := range t.batches(ctx, startStep) {
		if err != nil {
			return training.TrainOutput{}, err
		}
		if t.state.GlobalStep >= maxSteps {
			break
		}

		lr := linearSchedule(t.args.LearningRate, t.state.GlobalStep, maxSteps)
		loss := t.step(b, lr)
		t.state.GlobalStep++
		t.state.Epoch = t.epochProgress(b)
		totalLoss += loss
		windowLoss += loss
		windowSteps++
		if bar != nil {
			_ = bar.Add(1)
		}

		step := t.state.GlobalStep
		if t.args.LoggingSteps > 0 && step%t.args.LoggingSteps == 0 {
			entry := map[string]float64{"loss": windowLoss / float64(windowSteps), "learning_rate": lr, "epoch": t.state.Epoch, "step": float64(step)}
			t.state.LogHistory = append(t.state.LogHistory, entry)
			slog.Info("training progress", "step", step, "loss", entry["loss"], "learning_rate", lr, "epoch", t.state.Epoch)
			windowLoss, windowSteps = 0, 0
		}

		control.ShouldSave = false
		evalNow := (t.args.EvalStrategy == training.StrategySteps && step%t.args.EvalInterval() == 0) ||
			(t.args.EvalStrategy == training.StrategyEpoch && b.last)
		if evalNow {
			results, err := t.Evaluate(ctx)
			if err != nil {
				return training.TrainOutput{}, err
			}
			for _, cb := range t.params.Callbacks {
				if err := cb.OnEvaluate(ctx, t.args, t.state, results, control); err != nil {
					return training.TrainOutput{}, err
				}
			}
		}

		saveNow := (t.args.SaveStrategy == training.StrategySteps && t.args.SaveSteps > 0 && step%t.args.SaveSteps == 0) ||
			(t.args.SaveStrategy == training.StrategyEpoch && b.last)
		if saveNow || control.ShouldSave {
			if err := t.saveCheckpoint(ctx); err != nil {
				return training.TrainOutput{}, err
			}
		}

		if control.ShouldTrainingStop {
			slog.Info("training stopped by callback", "step", step)
			break
		}
		if step >= maxSteps {
			break
		}
	}

	if t.args.LoadBestModelAtEnd && t.state.BestModelCheckpoint != "" {
		slog.Info("loading best model", "checkpoint", t.state.BestModelCheckpoint, "metric", t.args.BestMetricKey(), "value", *t.state.BestMetric)
		if err := t.model.loadWeights(t.state.BestModelCheckpoint); err != nil {
			return training.TrainOutput{}, fmt.Errorf("error loading best model: %w", err)
		}
	}

	trained := t.state.GlobalStep - startStep
	trainLoss := 0.0
	if trained > 0 {
		trainLoss = totalLoss / float64(trained)
	}
	out := training.TrainOutput{
		GlobalStep:   t.state.GlobalStep,
		TrainingLoss: trainLoss,
		Metrics: map[string]float64{
			"train_loss":    trainLoss,
			"train_runtime": time.Since(start).Seconds(),
			"epoch":         t.state.Epoch,
		},
	}
	slog.Info("training finished", "run_id", t.state.RunID, "global_step", out.GlobalStep, "train_loss", trainLoss)
	return out, nil
}

func (t *Trainer) Evaluate(ctx context.Context) (map[string]float64, error) {
	if t.params.EvalDataset == nil {
		return nil, errors.New("no eval dataset to evaluate on")
	}

	var preds [][]float32
	var targets [][]int32
	lossSum := 0.0
	for ex, err := range t.model.examples(ctx, t.params.EvalDataset) {
		if err != nil {
			return nil, fmt.Errorf("invalid eval example: %w", err)
		}
		logits := t.model.logits(ex.x)
		row := make([]float32, len(logits))
		for i, l := range logits {
			row[i] = float32(l)
		}
		preds = append(preds, row)
		targets = append(targets, ex.target())
		lossSum += t.model.accumulate(nil, ex, 1)
	}
	if len(preds) == 0 {
		return nil, errors.New("eval dataset is empty")
	}

	results := map[string]float64{"eval_loss": lossSum / float64(len(preds))}
	if t.params.ComputeMetrics != nil {
		scores, err := t.params.ComputeMetrics(preds, targets)
		if err != nil {
			return nil, err
		}
		for name, v := range scores {
			results["eval_"+name] = v
		}
	}

	entry := map[string]float64{"step": float64(t.state.GlobalStep), "epoch": t.state.Epoch}
	for k, v := range results {
		entry[k] = v
	}
	t.state.LogHistory = append(t.state.LogHistory, entry)
	t.lastEval = results

	slog.Info("evaluation", "step", t.state.GlobalStep, "results", results)
	return results, nil
}
