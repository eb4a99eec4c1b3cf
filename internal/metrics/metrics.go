package metrics

import (
	"fmt"
	"log/slog"
	"maps"
	"math"
	"slices"

	"textclf/internal/config"
	"textclf/internal/core/types"

	"github.com/go-viper/mapstructure/v2"
)

// Scorer computes one metric from raw model outputs and integer targets.
// Targets hold one class id per row, or one 0/1 entry per label for
// multilabel problems.
type Scorer func(preds [][]float32, target [][]int32) (float64, error)

type MetricType string

const (
	Accuracy  MetricType = "accuracy"
	Precision MetricType = "precision"
	Recall    MetricType = "recall"
	F1        MetricType = "f1"
	AUROC     MetricType = "auroc"
)

type Average string

const (
	Micro    Average = "micro"
	Macro    Average = "macro"
	Weighted Average = "weighted"
	None     Average = "none"
)

// Args are the arguments bound to every metric: num_classes or num_labels
// from the label space and the user supplied args of each metric.
type Args struct {
	NumClasses  int      `mapstructure:"num_classes"`
	NumLabels   int      `mapstructure:"num_labels"`
	Average     Average  `mapstructure:"average"`
	Threshold   *float64 `mapstructure:"threshold"`
	IgnoreIndex *int     `mapstructure:"ignore_index"`
}

func (a Args) threshold() float64 {
	if a.Threshold != nil {
		return *a.Threshold
	}
	return 0.5
}

func (a Args) average() (Average, error) {
	switch a.Average {
	case "":
		return Macro, nil
	case None:
		// Per class scores can't be reported as a single number.
		return Macro, nil
	case Micro, Macro, Weighted:
		return a.Average, nil
	default:
		return "", fmt.Errorf("invalid average '%s', expected micro, macro, weighted or none", a.Average)
	}
}

type scorerFactory func(Args) (Scorer, error)

var (
	binaryMetrics = map[MetricType]scorerFactory{
		Accuracy:  binaryStatScorer(func(s stat) float64 { return s.accuracy() }),
		Precision: binaryStatScorer(func(s stat) float64 { return s.precision() }),
		Recall:    binaryStatScorer(func(s stat) float64 { return s.recall() }),
		F1:        binaryStatScorer(func(s stat) float64 { return s.f1() }),
		AUROC:     binaryAUROC,
	}

	multiclassMetrics = map[MetricType]scorerFactory{
		Accuracy:  multiclassStatScorer(func(s stat) float64 { return s.recall() }),
		Precision: multiclassStatScorer(func(s stat) float64 { return s.precision() }),
		Recall:    multiclassStatScorer(func(s stat) float64 { return s.recall() }),
		F1:        multiclassStatScorer(func(s stat) float64 { return s.f1() }),
		AUROC:     multiclassAUROC,
	}

	multilabelMetrics = map[MetricType]scorerFactory{
		Accuracy:  multilabelStatScorer(func(s stat) float64 { return s.accuracy() }),
		Precision: multilabelStatScorer(func(s stat) float64 { return s.precision() }),
		Recall:    multilabelStatScorer(func(s stat) float64 { return s.recall() }),
		F1:        multilabelStatScorer(func(s stat) float64 { return s.f1() }),
		AUROC:     multilabelAUROC,
	}
)

func metricTable(problem types.ProblemType) (map[MetricType]scorerFactory, error) {
	switch problem {
	case types.Binary:
		return binaryMetrics, nil
	case types.Multiclass:
		return multiclassMetrics, nil
	case types.Multilabel:
		return multilabelMetrics, nil
	default:
		return nil, fmt.Errorf("invalid problem type: %s", problem)
	}
}

func decodeArgs(bound map[string]any, user map[string]any) (Args, error) {
	merged := maps.Clone(bound)
	if merged == nil {
		merged = map[string]any{}
	}
	for k, v := range user {
		merged[k] = v
	}

	var args Args
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &args,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return Args{}, err
	}
	if err := decoder.Decode(merged); err != nil {
		return Args{}, err
	}
	return args, nil
}

// Resolve builds one scorer per metric spec from the table of problem.
// bound holds the arguments shared by every metric, such as num_classes.
func Resolve(problem types.ProblemType, specs []config.Metric, bound map[string]any) (map[string]Scorer, error) {
	table, err := metricTable(problem)
	if err != nil {
		return nil, err
	}

	scorers := make(map[string]Scorer, len(specs))
	for _, spec := range specs {
		factory, ok := table[MetricType(spec.Type)]
		if !ok {
			return nil, fmt.Errorf("invalid metric type '%s' for metric '%s'", spec.Type, spec.Name)
		}
		args, err := decodeArgs(bound, spec.Args)
		if err != nil {
			return nil, fmt.Errorf("invalid args for metric '%s': %w", spec.Name, err)
		}
		scorer, err := factory(args)
		if err != nil {
			return nil, fmt.Errorf("invalid args for metric '%s': %w", spec.Name, err)
		}
		scorers[spec.Name] = scorer
	}

	slog.Info("resolved metrics", "problem_type", problem, "metrics", slices.Sorted(maps.Keys(scorers)))
	return scorers, nil
}

type EvalFunc func(preds [][]float32, labels [][]int32) (map[string]float64, error)

// ComputeMetrics returns the evaluation function handed to the trainer. Every
// score is rounded to 5 decimal digits.
func ComputeMetrics(scorers map[string]Scorer) EvalFunc {
	return func(preds [][]float32, labels [][]int32) (map[string]float64, error) {
		out := make(map[string]float64, len(scorers))
		for name, scorer := range scorers {
			score, err := scorer(preds, labels)
			if err != nil {
				return nil, fmt.Errorf("error computing metric '%s': %w", name, err)
			}
			out[name] = Round(score, 5)
		}
		return out, nil
	}
}

func Round(x float64, decimals int) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return x
	}
	p := math.Pow(10, float64(decimals))
	return math.RoundToEven(x*p) / p
}
