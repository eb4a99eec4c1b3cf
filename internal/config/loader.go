package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

var (
	ErrRecipeNotFound  = errors.New("recipe not found")
	ErrInvalidOverride = errors.New("invalid override")
	ErrMissingField    = errors.New("missing mandatory config field")
)

// Load builds a TrainingConfig by merging, in increasing priority, the schema
// defaults, the recipe file and dotted-path key=value overrides.
func Load(recipe string, overrides []string) (*TrainingConfig, error) {
	if _, err := os.Stat(recipe); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrRecipeNotFound, recipe)
		}
		return nil, fmt.Errorf("error reading recipe %s: %w", recipe, err)
	}

	slog.Info("loading recipe", "path", recipe, "overrides", len(overrides))
	return load(file.Provider(recipe), overrides)
}

func load(recipe koanf.Provider, overrides []string) (*TrainingConfig, error) {
	user := koanf.New(".")
	if err := user.Load(recipe, yaml.Parser()); err != nil {
		return nil, fmt.Errorf("error parsing recipe: %w", err)
	}

	if err := applyOverrides(user, overrides); err != nil {
		return nil, err
	}
	if err := resolveHubToken(user); err != nil {
		return nil, err
	}

	k := koanf.New(".")
	if err := k.Load(structs.Provider(defaults(user.Exists), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("error loading config defaults: %w", err)
	}
	if err := k.Merge(user); err != nil {
		return nil, fmt.Errorf("error merging recipe: %w", err)
	}

	var cfg TrainingConfig
	err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			Result:           &cfg,
			TagName:          "koanf",
			WeaklyTypedInput: true,
			ErrorUnused:      true,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("error decoding config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyOverrides(k *koanf.Koanf, overrides []string) error {
	for _, override := range overrides {
		key, raw, ok := strings.Cut(override, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" || strings.HasPrefix(key, "-") {
			return fmt.Errorf("%w: '%s', expected key=value", ErrInvalidOverride, override)
		}

		value, err := parseOverrideValue(raw)
		if err != nil {
			return fmt.Errorf("%w: '%s': %w", ErrInvalidOverride, override, err)
		}

		// Drop the previous subtree so that a scalar can replace a section and
		// a list replaces a list instead of being merged into it.
		k.Delete(key)
		if err := k.Set(key, value); err != nil {
			return fmt.Errorf("%w: '%s': %w", ErrInvalidOverride, override, err)
		}
	}
	return nil
}

// resolveHubToken accepts hub_token: true as a request for the stored token,
// which is the HF_TOKEN fallback applied when no token is configured.
func resolveHubToken(k *koanf.Koanf) error {
	enabled, ok := k.Get("hub_token").(bool)
	if !ok {
		return nil
	}
	if !enabled {
		return fmt.Errorf("hub_token must be a token string or true, remove it to train without a configured token")
	}
	k.Delete("hub_token")
	return nil
}

// Values are parsed as YAML so that numbers, booleans and flow-style lists
// and maps keep their types.
func parseOverrideValue(raw string) (any, error) {
	if strings.TrimSpace(raw) == "" {
		return "", nil
	}
	var value any
	if err := yamlv3.Unmarshal([]byte(raw), &value); err != nil {
		return nil, err
	}
	return value, nil
}

// Validate reports every mandatory field left unset after merging.
func (c *TrainingConfig) Validate() error {
	var missing []string
	require := func(key, value string) {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, key)
		}
	}

	require("model.name_or_path", c.Model.NameOrPath)
	require("tokenizer.name_or_path", c.Tokenizer.NameOrPath)
	require("train_data.name_or_path", c.TrainData.NameOrPath)
	require("train_data.split", c.TrainData.Split)
	if c.EvalData != nil {
		require("eval_data.name_or_path", c.EvalData.NameOrPath)
		require("eval_data.split", c.EvalData.Split)
	}
	require("trainer.output_dir", c.Trainer.OutputDir)
	if c.Trainer.RemoteStorage != nil {
		require("trainer.remote_storage.output_dir", c.Trainer.RemoteStorage.OutputDir)
	}
	for i, m := range c.Metrics {
		require(fmt.Sprintf("metrics.%d.name", i), m.Name)
		require(fmt.Sprintf("metrics.%d.type", i), m.Type)
	}
	if len(c.Processing.Target) == 0 {
		missing = append(missing, "processing.target")
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingField, strings.Join(missing, ", "))
	}
	return nil
}
