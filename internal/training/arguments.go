package training

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/go-viper/mapstructure/v2"
)

type IntervalStrategy string

const (
	StrategyNo    IntervalStrategy = "no"
	StrategySteps IntervalStrategy = "steps"
	StrategyEpoch IntervalStrategy = "epoch"
)

// TrainingArguments is the typed view of trainer.args. Keys it does not know
// are accepted and reported as ignored.
type TrainingArguments struct {
	OutputDir string `mapstructure:"-" json:"output_dir"`

	NumTrainEpochs          float64          `mapstructure:"num_train_epochs" json:"num_train_epochs"`
	MaxSteps                int              `mapstructure:"max_steps" json:"max_steps"`
	PerDeviceTrainBatchSize int              `mapstructure:"per_device_train_batch_size" json:"per_device_train_batch_size"`
	PerDeviceEvalBatchSize  int              `mapstructure:"per_device_eval_batch_size" json:"per_device_eval_batch_size"`
	LearningRate            float64          `mapstructure:"learning_rate" json:"learning_rate"`
	WeightDecay             float64          `mapstructure:"weight_decay" json:"weight_decay"`
	LoggingSteps            int              `mapstructure:"logging_steps" json:"logging_steps"`
	SaveStrategy            IntervalStrategy `mapstructure:"save_strategy" json:"save_strategy"`
	SaveSteps               int              `mapstructure:"save_steps" json:"save_steps"`
	SaveTotalLimit          *int             `mapstructure:"save_total_limit" json:"save_total_limit"`
	EvalStrategy            IntervalStrategy `mapstructure:"eval_strategy" json:"eval_strategy"`
	EvalSteps               int              `mapstructure:"eval_steps" json:"eval_steps"`
	LoadBestModelAtEnd      bool             `mapstructure:"load_best_model_at_end" json:"load_best_model_at_end"`
	MetricForBestModel      string           `mapstructure:"metric_for_best_model" json:"metric_for_best_model"`
	GreaterIsBetter         *bool            `mapstructure:"greater_is_better" json:"greater_is_better"`
	Seed                    int64            `mapstructure:"seed" json:"seed"`
	PushToHub               bool             `mapstructure:"push_to_hub" json:"push_to_hub"`
	HubModelID              string           `mapstructure:"hub_model_id" json:"hub_model_id"`
	HubPrivateRepo          bool             `mapstructure:"hub_private_repo" json:"hub_private_repo"`
	DisableTqdm             bool             `mapstructure:"disable_tqdm" json:"disable_tqdm"`

	// NumFeatures sizes the hashed input space of the linear framework.
	NumFeatures int `mapstructure:"num_features" json:"num_features"`
}

func DefaultTrainingArguments() TrainingArguments {
	return TrainingArguments{
		NumTrainEpochs:          3,
		MaxSteps:                -1,
		PerDeviceTrainBatchSize: 8,
		PerDeviceEvalBatchSize:  8,
		LearningRate:            5e-5,
		LoggingSteps:            500,
		SaveStrategy:            StrategySteps,
		SaveSteps:               500,
		EvalStrategy:            StrategyNo,
		Seed:                    42,
		NumFeatures:             1 << 14,
	}
}

// ParseTrainingArguments decodes raw on top of the defaults. The legacy
// evaluation_strategy key is accepted as an alias of eval_strategy.
func ParseTrainingArguments(raw map[string]any) (TrainingArguments, error) {
	raw = maps.Clone(raw)
	if legacy, ok := raw["evaluation_strategy"]; ok {
		if _, set := raw["eval_strategy"]; !set {
			raw["eval_strategy"] = legacy
		}
		delete(raw, "evaluation_strategy")
	}

	args := DefaultTrainingArguments()
	var md mapstructure.Metadata
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &args,
		Metadata:         &md,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return TrainingArguments{}, err
	}
	if err := decoder.Decode(raw); err != nil {
		return TrainingArguments{}, fmt.Errorf("invalid training arguments: %w", err)
	}

	if len(md.Unused) > 0 {
		slices.Sort(md.Unused)
		slog.Warn("ignoring unsupported training arguments", "args", md.Unused)
	}

	if err := args.validate(); err != nil {
		return TrainingArguments{}, err
	}
	return args, nil
}

func validStrategy(s IntervalStrategy) bool {
	return s == StrategyNo || s == StrategySteps || s == StrategyEpoch
}

func (a TrainingArguments) validate() error {
	if !validStrategy(a.SaveStrategy) {
		return fmt.Errorf("invalid save_strategy '%s'", a.SaveStrategy)
	}
	if !validStrategy(a.EvalStrategy) {
		return fmt.Errorf("invalid eval_strategy '%s'", a.EvalStrategy)
	}
	if a.PerDeviceTrainBatchSize <= 0 || a.PerDeviceEvalBatchSize <= 0 {
		return fmt.Errorf("batch sizes must be positive")
	}
	if a.NumFeatures <= 0 {
		return fmt.Errorf("num_features must be positive")
	}
	if a.LoadBestModelAtEnd {
		if a.EvalStrategy != a.SaveStrategy {
			return fmt.Errorf("load_best_model_at_end requires the save and eval strategy to match, got save_strategy '%s' and eval_strategy '%s'", a.SaveStrategy, a.EvalStrategy)
		}
		if a.EvalStrategy == StrategySteps && a.SaveSteps%a.evalSteps() != 0 {
			return fmt.Errorf("load_best_model_at_end requires save_steps (%d) to be a multiple of eval_steps (%d)", a.SaveSteps, a.evalSteps())
		}
	}
	return nil
}

// evalSteps falls back to logging_steps when eval_steps is unset.
func (a TrainingArguments) evalSteps() int {
	if a.EvalSteps > 0 {
		return a.EvalSteps
	}
	return max(1, a.LoggingSteps)
}

func (a TrainingArguments) EvalInterval() int {
	return a.evalSteps()
}

// BestMetricKey is the evaluation key compared when tracking the best model.
func (a TrainingArguments) BestMetricKey() string {
	name := a.MetricForBestModel
	if name == "" {
		name = "loss"
	}
	if !strings.HasPrefix(name, "eval_") {
		name = "eval_" + name
	}
	return name
}

// IsGreaterBetter defaults to true unless the best model is chosen by a loss.
func (a TrainingArguments) IsGreaterBetter() bool {
	if a.GreaterIsBetter != nil {
		return *a.GreaterIsBetter
	}
	return a.MetricForBestModel != "" && !strings.HasSuffix(a.MetricForBestModel, "loss")
}
