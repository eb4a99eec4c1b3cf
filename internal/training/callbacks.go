package training

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"strings"

	"textclf/internal/config"
	"textclf/internal/storage"
)

// RemoteSaveCallback mirrors every checkpoint to a remote directory as soon
// as it is written.
type RemoteSaveCallback struct {
	fs        storage.FileSystem
	remoteDir string
}

var _ Callback = (*RemoteSaveCallback)(nil)

func NewRemoteSaveCallback(ctx context.Context, fs storage.FileSystem, remoteDir string) (*RemoteSaveCallback, error) {
	if err := fs.MakeDirs(ctx, remoteDir); err != nil {
		return nil, fmt.Errorf("error creating remote output dir %s: %w", remoteDir, err)
	}
	return &RemoteSaveCallback{fs: fs, remoteDir: remoteDir}, nil
}

func (c *RemoteSaveCallback) OnSave(ctx context.Context, args TrainingArguments, state TrainerState) error {
	name := CheckpointName(state.GlobalStep)
	local := filepath.Join(args.OutputDir, name)
	remote := remoteJoin(c.remoteDir, name)

	slog.Info("uploading checkpoint", "local", local, "remote", remote)
	if err := c.fs.Put(ctx, local, remote); err != nil {
		return fmt.Errorf("error uploading checkpoint %s to %s: %w", local, remote, err)
	}
	return nil
}

func (c *RemoteSaveCallback) OnEvaluate(context.Context, TrainingArguments, TrainerState, map[string]float64, *Control) error {
	return nil
}

func remoteJoin(root, name string) string {
	return strings.TrimSuffix(root, "/") + "/" + name
}

// EarlyStoppingCallback stops training once the tracked metric failed to
// improve by more than threshold for patience evaluations in a row.
type EarlyStoppingCallback struct {
	patience  int
	threshold float64

	best    *float64
	waiting int
}

var _ Callback = (*EarlyStoppingCallback)(nil)

func NewEarlyStoppingCallback(args TrainingArguments, cfg config.EarlyStopping) (*EarlyStoppingCallback, error) {
	if !args.LoadBestModelAtEnd {
		return nil, fmt.Errorf("early stopping requires load_best_model_at_end to be true")
	}
	if args.MetricForBestModel == "" {
		return nil, fmt.Errorf("early stopping requires metric_for_best_model to be set")
	}
	if args.EvalStrategy == StrategyNo {
		return nil, fmt.Errorf("early stopping requires an eval_strategy other than 'no'")
	}
	if cfg.Patience < 1 {
		return nil, fmt.Errorf("early stopping patience must be at least 1, got %d", cfg.Patience)
	}
	return &EarlyStoppingCallback{patience: cfg.Patience, threshold: cfg.Threshold}, nil
}

func (c *EarlyStoppingCallback) OnSave(context.Context, TrainingArguments, TrainerState) error {
	return nil
}

func (c *EarlyStoppingCallback) OnEvaluate(_ context.Context, args TrainingArguments, state TrainerState, metrics map[string]float64, control *Control) error {
	key := args.BestMetricKey()
	value, ok := metrics[key]
	if !ok {
		slog.Warn("early stopping metric missing from evaluation, skipping", "metric", key)
		return nil
	}

	improved := c.best == nil
	if !improved {
		better := value < *c.best
		if args.IsGreaterBetter() {
			better = value > *c.best
		}
		improved = better && math.Abs(value-*c.best) > c.threshold
	}

	if improved {
		c.best = &value
		c.waiting = 0
		return nil
	}

	c.waiting++
	if c.waiting >= c.patience {
		slog.Info("early stopping", "metric", key, "best", *c.best, "patience", c.patience, "step", state.GlobalStep)
		control.ShouldTrainingStop = true
	}
	return nil
}
