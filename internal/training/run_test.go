package training

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"textclf/internal/config"
	"textclf/internal/hub"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFramework struct {
	created int
	params  TrainerParams
}

func (f *fakeFramework) NewTrainer(_ context.Context, params TrainerParams) (Trainer, error) {
	f.created++
	f.params = params
	return &fakeTrainer{params: params}, nil
}

// fakeTrainer writes one checkpoint and reports fixed metrics.
type fakeTrainer struct {
	params     TrainerParams
	resumeFrom string
}

func (f *fakeTrainer) Train(ctx context.Context, resumeFrom string) (TrainOutput, error) {
	f.resumeFrom = resumeFrom
	state := TrainerState{GlobalStep: 1}
	dir := filepath.Join(f.params.Args.OutputDir, CheckpointName(1))
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return TrainOutput{}, err
	}
	if err := os.WriteFile(filepath.Join(dir, "weights.bin"), []byte("w1"), 0o644); err != nil {
		return TrainOutput{}, err
	}
	for _, cb := range f.params.Callbacks {
		if err := cb.OnSave(ctx, f.params.Args, state); err != nil {
			return TrainOutput{}, err
		}
	}
	return TrainOutput{GlobalStep: 1, Metrics: map[string]float64{"train_loss": 0.25}}, nil
}

func (f *fakeTrainer) Evaluate(context.Context) (map[string]float64, error) {
	return map[string]float64{"eval_loss": 0.5, "eval_f1": 1}, nil
}

func (f *fakeTrainer) SaveModel(_ context.Context, dir string) error {
	return os.WriteFile(filepath.Join(dir, "model.bin"), []byte("final"), 0o644)
}

func (f *fakeTrainer) PushToHub(context.Context, hub.ModelCard) error {
	return nil
}

func testConfig(t *testing.T) *config.TrainingConfig {
	t.Helper()
	dataDir := t.TempDir()
	writeTree(t, dataDir, map[string]string{
		"train.jsonl": "{\"text\": \"good movie\", \"label\": \"pos\"}\n{\"text\": \"bad movie\", \"label\": \"neg\"}\n",
		"test.jsonl":  "{\"text\": \"great film\", \"label\": \"pos\"}\n",
	})

	train := config.DatasetSpec{NameOrPath: dataDir, Split: "train", Revision: "main", BufferSize: 1000}
	eval := train
	eval.Split = "test"
	seed := int64(7)

	return &config.TrainingConfig{
		Model:      config.ModelRef{NameOrPath: "linear", Revision: "main"},
		Tokenizer:  config.TokenizerRef{NameOrPath: "hashing", Revision: "main"},
		TrainData:  train,
		EvalData:   &eval,
		Processing: config.Processing{Feature: "text", Target: []string{"label"}},
		Trainer: config.TrainerSpec{
			Framework: "fake",
			OutputDir: filepath.Join(t.TempDir(), "output"),
			Args:      map[string]any{},
		},
		Seed:    &seed,
		Metrics: []config.Metric{{Name: "f1", Type: "f1"}},
	}
}

func TestRunMirrorsOutputAndWritesResults(t *testing.T) {
	cfg := testConfig(t)
	remoteDir := filepath.Join(t.TempDir(), "remote")
	cfg.Trainer.RemoteStorage = &config.RemoteStorage{OutputDir: remoteDir, Options: map[string]any{}}

	framework := &fakeFramework{}
	err := Run(context.Background(), cfg, Deps{Frameworks: Frameworks{"fake": framework}})
	require.NoError(t, err)

	require.Equal(t, 1, framework.created)
	assert.Equal(t, []string{"neg", "pos"}, framework.params.Labels.Names())
	assert.Equal(t, int64(7), framework.params.Args.Seed)
	assert.Len(t, framework.params.Callbacks, 1)

	var evalResults map[string]float64
	data, err := os.ReadFile(filepath.Join(cfg.Trainer.OutputDir, "eval_results.json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &evalResults))
	assert.Equal(t, map[string]float64{"eval_loss": 0.5, "eval_f1": 1}, evalResults)
	assert.FileExists(t, filepath.Join(cfg.Trainer.OutputDir, "train_results.json"))

	assert.Equal(t, readTree(t, cfg.Trainer.OutputDir), readTree(t, remoteDir))
	assert.FileExists(t, filepath.Join(remoteDir, "checkpoint-1", "weights.bin"))
	assert.FileExists(t, filepath.Join(remoteDir, "model.bin"))
}

func TestRunMissingCheckpointFailsBeforeTrainer(t *testing.T) {
	cfg := testConfig(t)
	cfg.Trainer.ResumeFromCheckpoint = filepath.Join(t.TempDir(), "checkpoint-500")

	framework := &fakeFramework{}
	err := Run(context.Background(), cfg, Deps{Frameworks: Frameworks{"fake": framework}})
	require.ErrorIs(t, err, ErrCheckpointNotFound)
	assert.Contains(t, err.Error(), "checkpoint-500")
	assert.Zero(t, framework.created)
	assert.NoDirExists(t, cfg.Trainer.OutputDir)
}

func TestRunKeepsExistingRemoteFiles(t *testing.T) {
	cfg := testConfig(t)
	remoteDir := filepath.Join(t.TempDir(), "remote")
	writeTree(t, remoteDir, map[string]string{
		"checkpoint-100/weights.bin": "w100",
		"unrelated.txt":              "keep me",
		"model.bin":                  "stale",
	})
	cfg.Trainer.RemoteStorage = &config.RemoteStorage{OutputDir: remoteDir, Options: map[string]any{}}

	require.NoError(t, Run(context.Background(), cfg, Deps{Frameworks: Frameworks{"fake": &fakeFramework{}}}))

	remote := readTree(t, remoteDir)
	assert.Equal(t, "w100", remote["checkpoint-100/weights.bin"])
	assert.Equal(t, "keep me", remote["unrelated.txt"])
	assert.Equal(t, "final", remote["model.bin"])
	assert.Equal(t, "w1", remote["checkpoint-1/weights.bin"])
}

func TestRunResumesFromCheckpoint(t *testing.T) {
	cfg := testConfig(t)
	remoteDir := filepath.Join(t.TempDir(), "remote")
	writeTree(t, filepath.Join(remoteDir, "checkpoint-3"), map[string]string{"weights.bin": "w3"})
	cfg.Trainer.RemoteStorage = &config.RemoteStorage{OutputDir: remoteDir, Options: map[string]any{}}
	cfg.Trainer.ResumeFromCheckpoint = filepath.Join(remoteDir, "checkpoint-3")

	framework := &fakeFramework{}
	require.NoError(t, Run(context.Background(), cfg, Deps{Frameworks: Frameworks{"fake": framework}}))

	local := filepath.Join(cfg.Trainer.OutputDir, "checkpoint-3")
	data, err := os.ReadFile(filepath.Join(local, "weights.bin"))
	require.NoError(t, err)
	assert.Equal(t, "w3", string(data))
}

func TestRunRejectsUnknownFrameworkAndMetric(t *testing.T) {
	cfg := testConfig(t)
	cfg.Trainer.Framework = "torch"
	err := Run(context.Background(), cfg, Deps{Frameworks: Frameworks{"fake": &fakeFramework{}}})
	require.ErrorContains(t, err, "unsupported training framework 'torch'")

	cfg = testConfig(t)
	cfg.Metrics = []config.Metric{{Name: "mcc", Type: "matthews"}}
	framework := &fakeFramework{}
	err = Run(context.Background(), cfg, Deps{Frameworks: Frameworks{"fake": framework}})
	require.ErrorContains(t, err, "invalid metric type")
	assert.Zero(t, framework.created)
}
