package training

import (
	"context"
	"fmt"

	"textclf/internal/config"
	"textclf/internal/core/types"
	"textclf/internal/datasets"
	"textclf/internal/hub"
	"textclf/internal/metrics"
	"textclf/internal/tokenizer"
)

// TrainerState is the progress of a run. It is stored with every checkpoint
// so that training can be resumed.
type TrainerState struct {
	RunID               string               `json:"run_id"`
	GlobalStep          int                  `json:"global_step"`
	Epoch               float64              `json:"epoch"`
	MaxSteps            int                  `json:"max_steps"`
	LogHistory          []map[string]float64 `json:"log_history"`
	BestMetric          *float64             `json:"best_metric"`
	BestModelCheckpoint string               `json:"best_model_checkpoint"`
}

// Control lets callbacks steer the training loop.
type Control struct {
	ShouldTrainingStop bool
	ShouldSave         bool
}

type Callback interface {
	// OnSave runs after a checkpoint directory has been fully written.
	OnSave(ctx context.Context, args TrainingArguments, state TrainerState) error

	OnEvaluate(ctx context.Context, args TrainingArguments, state TrainerState, metrics map[string]float64, control *Control) error
}

type TrainerParams struct {
	Args           TrainingArguments
	Model          config.ModelRef
	Labels         types.LabelMapping
	ProblemType    types.ProblemType
	Tokenizer      tokenizer.Tokenizer
	TrainDataset   datasets.Dataset
	EvalDataset    datasets.Dataset
	Callbacks      []Callback
	ComputeMetrics metrics.EvalFunc
	Hub            *hub.Client
	HubToken       string
}

type TrainOutput struct {
	GlobalStep   int                `json:"global_step"`
	TrainingLoss float64            `json:"training_loss"`
	Metrics      map[string]float64 `json:"metrics"`
}

type Trainer interface {
	// Train runs the training loop, continuing from the checkpoint directory
	// resumeFrom when it is not empty.
	Train(ctx context.Context, resumeFrom string) (TrainOutput, error)

	// Evaluate scores the eval dataset. Keys are prefixed with "eval_".
	Evaluate(ctx context.Context) (map[string]float64, error)

	SaveModel(ctx context.Context, dir string) error

	PushToHub(ctx context.Context, card hub.ModelCard) error
}

type Framework interface {
	NewTrainer(ctx context.Context, params TrainerParams) (Trainer, error)
}

type Frameworks map[string]Framework

func (f Frameworks) Get(name string) (Framework, error) {
	framework, ok := f[name]
	if !ok {
		return nil, fmt.Errorf("unsupported training framework '%s'", name)
	}
	return framework, nil
}

// CheckpointName is the directory name of the checkpoint saved at step.
func CheckpointName(step int) string {
	return fmt.Sprintf("checkpoint-%d", step)
}
