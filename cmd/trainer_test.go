package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"textclf/internal/config"
	"textclf/internal/linear"
	"textclf/internal/training"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSentimentData(t *testing.T, dir string) {
	t.Helper()
	words := map[string][]string{"pos": {"great", "lovely"}, "neg": {"awful", "boring"}}
	var lines []string
	for i := 0; i < 8; i++ {
		label := "pos"
		if i%2 == 1 {
			label = "neg"
		}
		line, err := json.Marshal(map[string]string{"text": "it was " + words[label][i/2%2], "label": label})
		require.NoError(t, err)
		lines = append(lines, string(line))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "train.jsonl"), []byte(strings.Join(lines, "\n")), 0o644))
}

func TestTrainerCommand(t *testing.T) {
	dir := t.TempDir()
	writeSentimentData(t, dir)
	output := filepath.Join(dir, "output")

	recipe := filepath.Join(dir, "recipe.yaml")
	require.NoError(t, os.WriteFile(recipe, []byte(fmt.Sprintf(`
model:
  name_or_path: linear
tokenizer:
  name_or_path: hashing
train_data:
  name_or_path: %s
  split: train
trainer:
  output_dir: %s
  args:
    num_train_epochs: 5
    disable_tqdm: true
metrics:
  - name: acc
    type: accuracy
`, dir, output)), 0o644))

	deps := training.Deps{Frameworks: training.Frameworks{linear.FromScratch: linear.Framework{}}}
	command := NewTrainerCommand(deps)
	command.SetArgs([]string{"--log-level", "warn", recipe, "trainer.args.num_train_epochs=1", "trainer.args.save_strategy=no"})
	require.NoError(t, command.Execute())

	assert.FileExists(t, filepath.Join(output, "model.json"))
	assert.FileExists(t, filepath.Join(output, "train_results.json"))
	assert.NoFileExists(t, filepath.Join(output, "eval_results.json"))

	var args training.TrainingArguments
	data, err := os.ReadFile(filepath.Join(output, "training_args.json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &args))
	assert.Equal(t, 1.0, args.NumTrainEpochs)
	assert.Equal(t, training.StrategyNo, args.SaveStrategy)

	entries, err := os.ReadDir(output)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), "checkpoint-"), e.Name())
	}
}

func TestTrainerCommandErrors(t *testing.T) {
	deps := training.Deps{Frameworks: training.Frameworks{linear.FromScratch: linear.Framework{}}}

	command := NewTrainerCommand(deps)
	command.SetArgs([]string{filepath.Join(t.TempDir(), "missing.yaml")})
	require.ErrorIs(t, command.Execute(), config.ErrRecipeNotFound)

	command = NewTrainerCommand(deps)
	command.SetArgs([]string{"--log-level", "loud", "recipe.yaml"})
	require.ErrorContains(t, command.Execute(), "invalid log level 'loud'")

	command = NewTrainerCommand(deps)
	command.SetArgs([]string{})
	require.Error(t, command.Execute())

	command = NewTrainerCommand(deps)
	command.SetArgs([]string{"--env", filepath.Join(t.TempDir(), "missing.env"), "recipe.yaml"})
	require.ErrorContains(t, command.Execute(), "error loading .env file")
}

func TestLoadEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("TEXTCLF_TEST_VALUE=from-file\n"), 0o644))
	t.Setenv("TEXTCLF_TEST_VALUE", "")
	require.NoError(t, os.Unsetenv("TEXTCLF_TEST_VALUE"))

	require.NoError(t, LoadEnv(path))
	assert.Equal(t, "from-file", os.Getenv("TEXTCLF_TEST_VALUE"))
	require.NoError(t, LoadEnv(""))
}
