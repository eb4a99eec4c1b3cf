package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRecipe = `
model:
  name_or_path: distilbert-base-uncased
tokenizer:
  name_or_path: distilbert-base-uncased
train_data:
  name_or_path: ./data/emotions
  split: train
  buffer_size: 10
  rename_columns:
    sentence: text
eval_data:
  name_or_path: ./data/emotions
  split: validation
processing:
  target: [joy, anger]
trainer:
  output_dir: ./out
  early_stopping:
    patience: 5
  args:
    num_train_epochs: 1
    learning_rate: 0.01
metrics:
  - name: f1_macro
    type: f1
    args:
      average: macro
  - name: acc
    type: accuracy
`

func loadTestRecipe(t *testing.T, recipe string, overrides ...string) (*TrainingConfig, error) {
	t.Helper()
	return load(rawbytes.Provider([]byte(recipe)), overrides)
}

func TestLoadAppliesDefaultsUnderRecipe(t *testing.T) {
	cfg, err := loadTestRecipe(t, testRecipe)
	require.NoError(t, err)

	assert.Equal(t, "main", cfg.Model.Revision)
	assert.Equal(t, "linear", cfg.Trainer.Framework)
	assert.Equal(t, "text", cfg.Processing.Feature)
	assert.Equal(t, []string{"joy", "anger"}, cfg.Processing.Target)

	assert.Equal(t, 10, cfg.TrainData.BufferSize)
	assert.True(t, cfg.TrainData.Shuffle)
	assert.Equal(t, map[string]string{"sentence": "text"}, cfg.TrainData.RenameColumns)

	require.NotNil(t, cfg.EvalData)
	assert.Equal(t, "validation", cfg.EvalData.Split)
	assert.Equal(t, 1000, cfg.EvalData.BufferSize)
	assert.Equal(t, "main", cfg.EvalData.Revision)

	require.NotNil(t, cfg.Trainer.EarlyStopping)
	assert.Equal(t, EarlyStopping{Patience: 5, Threshold: 0.001}, *cfg.Trainer.EarlyStopping)
	assert.Nil(t, cfg.Trainer.RemoteStorage)
	assert.Nil(t, cfg.Seed)

	want := []Metric{
		{Name: "f1_macro", Type: "f1", Args: map[string]any{"average": "macro"}},
		{Name: "acc", Type: "accuracy"},
	}
	if diff := cmp.Diff(want, cfg.Metrics); diff != "" {
		t.Errorf("metrics mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadOverridePriority(t *testing.T) {
	cfg, err := loadTestRecipe(t, testRecipe,
		"train_data.buffer_size=20",
		"eval_data.buffer_size=7",
		"trainer.args.num_train_epochs=3",
		"trainer.args.push_to_hub=false",
		"seed=1234",
		"processing.target=[label]",
	)
	require.NoError(t, err)

	// CLI beats recipe, recipe beats default.
	assert.Equal(t, 20, cfg.TrainData.BufferSize)
	assert.Equal(t, 7, cfg.EvalData.BufferSize)
	assert.EqualValues(t, 3, cfg.Trainer.Args["num_train_epochs"])
	assert.Equal(t, false, cfg.Trainer.Args["push_to_hub"])
	assert.EqualValues(t, 0.01, cfg.Trainer.Args["learning_rate"])
	require.NotNil(t, cfg.Seed)
	assert.Equal(t, int64(1234), *cfg.Seed)
	assert.Equal(t, []string{"label"}, cfg.Processing.Target)
}

func TestLoadOverrideCreatesOptionalSection(t *testing.T) {
	cfg, err := loadTestRecipe(t, testRecipe, "trainer.remote_storage.output_dir=s3://bucket/run")
	require.NoError(t, err)

	require.NotNil(t, cfg.Trainer.RemoteStorage)
	assert.Equal(t, "s3://bucket/run", cfg.Trainer.RemoteStorage.OutputDir)
}

func TestLoadMissingFields(t *testing.T) {
	_, err := loadTestRecipe(t, `
train_data:
  split: train
eval_data:
  name_or_path: foo
trainer:
  remote_storage:
    options: {anon: true}
metrics:
  - type: f1
`)
	require.ErrorIs(t, err, ErrMissingField)
	for _, key := range []string{
		"model.name_or_path",
		"tokenizer.name_or_path",
		"train_data.name_or_path",
		"eval_data.split",
		"trainer.output_dir",
		"trainer.remote_storage.output_dir",
		"metrics.0.name",
	} {
		assert.Contains(t, err.Error(), key)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	_, err := loadTestRecipe(t, testRecipe, "trainer.outptu_dir=./typo")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outptu_dir")

	_, err = loadTestRecipe(t, testRecipe+"\nunknown_section: 1\n")
	require.Error(t, err)
}

func TestLoadRejectsMalformedOverride(t *testing.T) {
	_, err := loadTestRecipe(t, testRecipe, "seed")
	require.ErrorIs(t, err, ErrInvalidOverride)

	_, err = loadTestRecipe(t, testRecipe, "--seed=3")
	require.ErrorIs(t, err, ErrInvalidOverride)
}

func TestLoadRecipeFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	require.ErrorIs(t, err, ErrRecipeNotFound)

	path := filepath.Join(t.TempDir(), "recipe.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testRecipe), 0o644))

	cfg, err := Load(path, []string{"trainer.output_dir=/tmp/other"})
	require.NoError(t, err)
	assert.Equal(t, "/tmp/other", cfg.Trainer.OutputDir)
}

func TestLoadHubTokenTrueUsesStoredToken(t *testing.T) {
	cfg, err := loadTestRecipe(t, testRecipe+"hub_token: true\n")
	require.NoError(t, err)
	assert.Empty(t, cfg.HubToken)

	cfg, err = loadTestRecipe(t, testRecipe, "hub_token=true")
	require.NoError(t, err)
	assert.Empty(t, cfg.HubToken)

	cfg, err = loadTestRecipe(t, testRecipe+"hub_token: hf_abc\n")
	require.NoError(t, err)
	assert.Equal(t, "hf_abc", cfg.HubToken)

	_, err = loadTestRecipe(t, testRecipe+"hub_token: false\n")
	require.ErrorContains(t, err, "hub_token must be a token string or true")
}
