package linear

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"textclf/internal/hub"
	"textclf/internal/training"
)

const (
	stateFile        = "trainer_state.json"
	trainingArgsFile = "training_args.json"

	checkpointPrefix = "checkpoint-"
)

func (t *Trainer) resume(dir string) error {
	var state training.TrainerState
	if err := readJSON(filepath.Join(dir, stateFile), &state); err != nil {
		return fmt.Errorf("error reading trainer state from %s: %w", dir, err)
	}
	if err := t.model.loadWeights(dir); err != nil {
		return fmt.Errorf("error loading checkpoint %s: %w", dir, err)
	}
	if state.RunID == "" {
		state.RunID = t.state.RunID
	}
	t.state = state
	slog.Info("resuming from checkpoint", "checkpoint", dir, "run_id", state.RunID, "global_step", state.GlobalStep)
	return nil
}

// writeModel stores everything needed to load the model for inference.
func (t *Trainer) writeModel(dir string) error {
	if err := t.model.Save(dir); err != nil {
		return err
	}
	if t.params.Tokenizer != nil {
		if err := t.params.Tokenizer.Save(dir); err != nil {
			return fmt.Errorf("error saving tokenizer: %w", err)
		}
	}
	return writeJSON(filepath.Join(dir, trainingArgsFile), t.args)
}

func (t *Trainer) saveCheckpoint(ctx context.Context) error {
	dir := filepath.Join(t.args.OutputDir, training.CheckpointName(t.state.GlobalStep))
	if err := t.writeModel(dir); err != nil {
		return fmt.Errorf("error saving checkpoint: %w", err)
	}

	t.updateBest(dir)
	if err := writeJSON(filepath.Join(dir, stateFile), t.state); err != nil {
		return err
	}
	slog.Info("saved checkpoint", "dir", dir, "step", t.state.GlobalStep)

	if err := t.rotateCheckpoints(); err != nil {
		return err
	}

	for _, cb := range t.params.Callbacks {
		if err := cb.OnSave(ctx, t.args, t.state); err != nil {
			return err
		}
	}
	return nil
}

// updateBest records dir as the best checkpoint when the latest evaluation
// improved on the tracked metric.
func (t *Trainer) updateBest(dir string) {
	if t.lastEval == nil || (t.args.MetricForBestModel == "" && !t.args.LoadBestModelAtEnd) {
		return
	}
	value, ok := t.lastEval[t.args.BestMetricKey()]
	if !ok {
		slog.Warn("metric for best model missing from evaluation", "metric", t.args.BestMetricKey())
		return
	}

	best := t.state.BestMetric
	better := best == nil || value < *best
	if best != nil && t.args.IsGreaterBetter() {
		better = value > *best
	}
	if better {
		t.state.BestMetric = &value
		t.state.BestModelCheckpoint = dir
	}
}

type checkpoint struct {
	step int
	dir  string
}

func listCheckpoints(outputDir string) ([]checkpoint, error) {
	entries, err := os.ReadDir(outputDir)
	if err != nil {
		return nil, fmt.Errorf("error listing checkpoints: %w", err)
	}
	var out []checkpoint
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), checkpointPrefix) {
			continue
		}
		step, err := strconv.Atoi(strings.TrimPrefix(e.Name(), checkpointPrefix))
		if err != nil {
			continue
		}
		out = append(out, checkpoint{step: step, dir: filepath.Join(outputDir, e.Name())})
	}
	slices.SortFunc(out, func(a, b checkpoint) int { return a.step - b.step })
	return out, nil
}

// rotateCheckpoints deletes the oldest checkpoints beyond save_total_limit.
// The best checkpoint is never deleted.
func (t *Trainer) rotateCheckpoints() error {
	if t.args.SaveTotalLimit == nil || *t.args.SaveTotalLimit <= 0 {
		return nil
	}
	checkpoints, err := listCheckpoints(t.args.OutputDir)
	if err != nil {
		return err
	}

	excess := len(checkpoints) - *t.args.SaveTotalLimit
	for _, c := range checkpoints {
		if excess <= 0 {
			break
		}
		if c.dir == t.state.BestModelCheckpoint {
			continue
		}
		slog.Info("deleting older checkpoint", "dir", c.dir, "save_total_limit", *t.args.SaveTotalLimit)
		if err := os.RemoveAll(c.dir); err != nil {
			return fmt.Errorf("error deleting checkpoint %s: %w", c.dir, err)
		}
		excess--
	}
	return nil
}

func (t *Trainer) SaveModel(_ context.Context, dir string) error {
	if err := t.writeModel(dir); err != nil {
		return fmt.Errorf("error saving model to %s: %w", dir, err)
	}
	slog.Info("saved model", "dir", dir)
	return nil
}

// PushToHub saves the model with its card into the output dir and commits it,
// without checkpoints, to hub_model_id or a repo named after the output dir.
func (t *Trainer) PushToHub(ctx context.Context, card hub.ModelCard) error {
	if t.params.Hub == nil {
		return fmt.Errorf("push_to_hub requires a hub client")
	}

	repoID := t.args.HubModelID
	if repoID == "" {
		repoID = filepath.Base(filepath.Clean(t.args.OutputDir))
	}

	if err := t.SaveModel(ctx, t.args.OutputDir); err != nil {
		return err
	}
	if err := card.Write(t.args.OutputDir); err != nil {
		return err
	}
	if err := t.params.Hub.CreateRepo(ctx, repoID, t.args.HubPrivateRepo); err != nil {
		return err
	}

	skip := func(rel string) bool {
		first, _, _ := strings.Cut(rel, "/")
		return strings.HasPrefix(first, checkpointPrefix)
	}
	return t.params.Hub.UploadFolder(ctx, repoID, t.args.OutputDir, "Update model card.", skip)
}
