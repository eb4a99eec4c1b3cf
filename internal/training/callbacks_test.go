package training

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"textclf/internal/config"
	"textclf/internal/storage"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), os.ModePerm))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

func readTree(t *testing.T, root string) map[string]string {
	t.Helper()
	files := map[string]string{}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(root, path)
		files[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	require.NoError(t, err)
	return files
}

func TestRemoteSaveCallbackMirrorsCheckpoint(t *testing.T) {
	ctx := context.Background()
	outputDir := t.TempDir()
	remoteDir := filepath.Join(t.TempDir(), "remote", "run")

	cb, err := NewRemoteSaveCallback(ctx, storage.NewLocalFileSystem(), remoteDir)
	require.NoError(t, err)
	assert.DirExists(t, remoteDir)

	args := DefaultTrainingArguments()
	args.OutputDir = outputDir

	checkpoint := filepath.Join(outputDir, "checkpoint-10")
	writeTree(t, checkpoint, map[string]string{
		"model.json":          `{"weights": [[0.5]]}`,
		"trainer_state.json":  `{"global_step": 10}`,
		"tokenizer/vocab.txt": "a\nb\n",
	})
	require.NoError(t, cb.OnSave(ctx, args, TrainerState{GlobalStep: 10}))

	remoteCheckpoint := filepath.Join(remoteDir, "checkpoint-10")
	if diff := cmp.Diff(readTree(t, checkpoint), readTree(t, remoteCheckpoint)); diff != "" {
		t.Fatalf("remote checkpoint differs (-local +remote):\n%s", diff)
	}

	// saving the same step again overwrites the remote copy
	require.NoError(t, os.Remove(filepath.Join(checkpoint, "tokenizer", "vocab.txt")))
	writeTree(t, checkpoint, map[string]string{"model.json": `{"weights": [[0.7]]}`})
	require.NoError(t, cb.OnSave(ctx, args, TrainerState{GlobalStep: 10}))
	assert.Equal(t, readTree(t, checkpoint), readTree(t, remoteCheckpoint))

	err = cb.OnSave(ctx, args, TrainerState{GlobalStep: 20})
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestEarlyStoppingRequirements(t *testing.T) {
	cfg := config.EarlyStopping{Patience: 2, Threshold: 0.01}

	args := DefaultTrainingArguments()
	_, err := NewEarlyStoppingCallback(args, cfg)
	require.ErrorContains(t, err, "load_best_model_at_end")

	args.LoadBestModelAtEnd = true
	_, err = NewEarlyStoppingCallback(args, cfg)
	require.ErrorContains(t, err, "metric_for_best_model")

	args.MetricForBestModel = "f1"
	_, err = NewEarlyStoppingCallback(args, cfg)
	require.ErrorContains(t, err, "eval_strategy")

	args.EvalStrategy = StrategySteps
	_, err = NewEarlyStoppingCallback(args, cfg)
	require.NoError(t, err)
}

func TestEarlyStoppingStopsAfterPatience(t *testing.T) {
	args := DefaultTrainingArguments()
	args.LoadBestModelAtEnd = true
	args.MetricForBestModel = "f1"
	args.EvalStrategy = StrategySteps

	cb, err := NewEarlyStoppingCallback(args, config.EarlyStopping{Patience: 2, Threshold: 0.01})
	require.NoError(t, err)

	control := &Control{}
	// 0.605 improves by less than the threshold
	for _, f1 := range []float64{0.5, 0.6, 0.605} {
		require.NoError(t, cb.OnEvaluate(context.Background(), args, TrainerState{}, map[string]float64{"eval_f1": f1}, control))
		assert.False(t, control.ShouldTrainingStop, f1)
	}

	require.NoError(t, cb.OnEvaluate(context.Background(), args, TrainerState{}, map[string]float64{"eval_f1": 0.55}, control))
	assert.True(t, control.ShouldTrainingStop)
}

func TestParseTrainingArguments(t *testing.T) {
	args, err := ParseTrainingArguments(map[string]any{
		"num_train_epochs":    "2",
		"evaluation_strategy": "epoch",
		"save_strategy":       "epoch",
		"save_total_limit":    1,
		"fp16":                true,
	})
	require.NoError(t, err)
	assert.Equal(t, 2.0, args.NumTrainEpochs)
	assert.Equal(t, StrategyEpoch, args.EvalStrategy)
	require.NotNil(t, args.SaveTotalLimit)
	assert.Equal(t, 1, *args.SaveTotalLimit)
	assert.Equal(t, 8, args.PerDeviceTrainBatchSize)
	assert.Equal(t, "eval_loss", args.BestMetricKey())
	assert.False(t, args.IsGreaterBetter())

	_, err = ParseTrainingArguments(map[string]any{"save_strategy": "sometimes"})
	require.ErrorContains(t, err, "invalid save_strategy")

	_, err = ParseTrainingArguments(map[string]any{"load_best_model_at_end": true, "eval_strategy": "epoch"})
	require.ErrorContains(t, err, "strategy to match")

	_, err = ParseTrainingArguments(map[string]any{"learning_rate": "fast"})
	require.ErrorContains(t, err, "invalid training arguments")
}
