package metrics_test

import (
	"testing"

	"textclf/internal/config"
	"textclf/internal/core/types"
	"textclf/internal/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func score(t *testing.T, problem types.ProblemType, metric config.Metric, bound map[string]any, preds [][]float32, target [][]int32) float64 {
	t.Helper()
	scorers, err := metrics.Resolve(problem, []config.Metric{metric}, bound)
	require.NoError(t, err)
	value, err := scorers[metric.Name](preds, target)
	require.NoError(t, err)
	return value
}

func column(values ...int32) [][]int32 {
	out := make([][]int32, len(values))
	for i, v := range values {
		out[i] = []int32{v}
	}
	return out
}

var (
	multiclassPreds = [][]float32{
		{0.16, 0.26, 0.58},
		{0.22, 0.61, 0.17},
		{0.71, 0.09, 0.20},
		{0.05, 0.82, 0.13},
	}
	multiclassTarget = column(2, 1, 0, 0)
	numClasses3      = map[string]any{"num_classes": 3}
)

func TestMulticlassF1(t *testing.T) {
	macro := score(t, types.Multiclass, config.Metric{Name: "f1", Type: "f1"}, numClasses3, multiclassPreds, multiclassTarget)
	assert.InDelta(t, 0.77778, macro, 1e-4)

	micro := score(t, types.Multiclass, config.Metric{Name: "f1", Type: "f1", Args: map[string]any{"average": "micro"}}, numClasses3, multiclassPreds, multiclassTarget)
	assert.InDelta(t, 0.75, micro, 1e-6)

	// supports are 2, 1 and 1
	weighted := score(t, types.Multiclass, config.Metric{Name: "f1", Type: "f1", Args: map[string]any{"average": "weighted"}}, numClasses3, multiclassPreds, multiclassTarget)
	assert.InDelta(t, (2*(2.0/3)+2.0/3+1)/4, weighted, 1e-6)
}

func TestMulticlassAccuracyAndIgnoreIndex(t *testing.T) {
	acc := score(t, types.Multiclass, config.Metric{Name: "acc", Type: "accuracy", Args: map[string]any{"average": "micro"}}, numClasses3, multiclassPreds, multiclassTarget)
	assert.InDelta(t, 0.75, acc, 1e-6)

	target := column(2, 1, 0, -100)
	acc = score(t, types.Multiclass, config.Metric{Name: "acc", Type: "accuracy", Args: map[string]any{"ignore_index": -100}}, numClasses3, multiclassPreds, target)
	assert.InDelta(t, 1.0, acc, 1e-6)
}

func TestMulticlassMacroSkipsAbsentClasses(t *testing.T) {
	preds := [][]float32{{0.9, 0.05, 0.05}, {0.1, 0.8, 0.1}}
	precision := score(t, types.Multiclass, config.Metric{Name: "p", Type: "precision"}, numClasses3, preds, column(0, 1))
	assert.InDelta(t, 1.0, precision, 1e-6)
}

func TestMulticlassAUROC(t *testing.T) {
	preds := [][]float32{
		{0.75, 0.05, 0.05, 0.05, 0.05},
		{0.05, 0.75, 0.05, 0.05, 0.05},
		{0.05, 0.05, 0.75, 0.05, 0.05},
		{0.05, 0.05, 0.05, 0.75, 0.05},
	}
	value := score(t, types.Multiclass, config.Metric{Name: "auc", Type: "auroc"}, map[string]any{"num_classes": 5}, preds, column(0, 1, 3, 2))
	assert.InDelta(t, 0.53333, value, 1e-4)

	_, err := metrics.Resolve(types.Multiclass, []config.Metric{{Name: "auc", Type: "auroc", Args: map[string]any{"average": "micro"}}}, map[string]any{"num_classes": 5})
	require.Error(t, err)
}

func TestBinaryMetrics(t *testing.T) {
	preds := [][]float32{{0.11}, {0.22}, {0.84}, {0.73}, {0.33}, {0.92}}
	target := column(0, 1, 0, 1, 0, 1)

	f1 := score(t, types.Binary, config.Metric{Name: "f1", Type: "f1"}, nil, preds, target)
	assert.InDelta(t, 0.66667, f1, 1e-4)

	acc := score(t, types.Binary, config.Metric{Name: "acc", Type: "accuracy"}, nil, preds, target)
	assert.InDelta(t, 4.0/6, acc, 1e-6)

	strict := score(t, types.Binary, config.Metric{Name: "f1", Type: "f1", Args: map[string]any{"threshold": 0.8}}, nil, preds, target)
	assert.InDelta(t, 0.4, strict, 1e-6)
}

func TestBinaryAUROC(t *testing.T) {
	value := score(t, types.Binary, config.Metric{Name: "auc", Type: "auroc"}, nil, [][]float32{{0}, {0.5}, {0.7}, {0.8}}, column(0, 1, 1, 0))
	assert.InDelta(t, 0.5, value, 1e-6)

	// logits of both classes are reduced to the positive class probability
	logits := [][]float32{{2, -1}, {-1, 3}, {0.5, 0.2}, {-2, 2}}
	value = score(t, types.Binary, config.Metric{Name: "auc", Type: "auroc"}, nil, logits, column(0, 1, 0, 1))
	assert.InDelta(t, 1.0, value, 1e-6)
}

func TestMultilabelMetrics(t *testing.T) {
	preds := [][]float32{{0.11, 0.22, 0.84}, {0.73, 0.33, 0.92}}
	target := [][]int32{{0, 1, 0}, {1, 0, 1}}
	bound := map[string]any{"num_labels": 3}

	f1 := score(t, types.Multilabel, config.Metric{Name: "f1", Type: "f1"}, bound, preds, target)
	assert.InDelta(t, 0.55556, f1, 1e-4)

	acc := score(t, types.Multilabel, config.Metric{Name: "acc", Type: "accuracy", Args: map[string]any{"average": "micro"}}, bound, preds, target)
	assert.InDelta(t, 4.0/6, acc, 1e-6)

	scorers, err := metrics.Resolve(types.Multilabel, []config.Metric{{Name: "f1", Type: "f1"}}, bound)
	require.NoError(t, err)
	_, err = scorers["f1"](preds, [][]int32{{0, 1}, {1, 0}})
	require.ErrorIs(t, err, metrics.ErrShapeMismatch)
}

func TestResolveErrors(t *testing.T) {
	_, err := metrics.Resolve("regression", []config.Metric{{Name: "f1", Type: "f1"}}, nil)
	require.ErrorContains(t, err, "invalid problem type")

	_, err = metrics.Resolve(types.Binary, []config.Metric{{Name: "mcc", Type: "matthews"}}, nil)
	require.ErrorContains(t, err, "invalid metric type 'matthews'")

	_, err = metrics.Resolve(types.Multiclass, []config.Metric{{Name: "f1", Type: "f1", Args: map[string]any{"averaging": "macro"}}}, numClasses3)
	require.ErrorContains(t, err, "invalid args for metric 'f1'")

	_, err = metrics.Resolve(types.Multiclass, []config.Metric{{Name: "f1", Type: "f1", Args: map[string]any{"average": "samples"}}}, numClasses3)
	require.ErrorContains(t, err, "invalid average 'samples'")
}

func TestComputeMetricsRounds(t *testing.T) {
	scorers, err := metrics.Resolve(types.Multiclass, []config.Metric{
		{Name: "f1", Type: "f1"},
		{Name: "accuracy", Type: "accuracy", Args: map[string]any{"average": "micro"}},
	}, numClasses3)
	require.NoError(t, err)

	results, err := metrics.ComputeMetrics(scorers)(multiclassPreds, multiclassTarget)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"f1": 0.77778, "accuracy": 0.75}, results)
}
