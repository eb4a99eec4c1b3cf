package training

import (
	"context"
	"testing"

	"textclf/internal/core/types"
	"textclf/internal/datasets"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInferLabelsProblemType(t *testing.T) {
	ctx := context.Background()

	multi := datasets.NewMaterialized([]datasets.Record{{"text": "x", "toxic": 1, "spam": 0}}, []string{"spam", "text", "toxic"}, nil)
	labels, problem, err := InferLabels(ctx, multi, []string{"toxic", "spam"})
	require.NoError(t, err)
	assert.Equal(t, types.Multilabel, problem)
	assert.Equal(t, []string{"toxic", "spam"}, labels.Names())

	binary := datasets.NewMaterialized(nil, []string{"label", "text"}, datasets.Features{"label": {"neg", "pos"}})
	labels, problem, err = InferLabels(ctx, binary, []string{"label"})
	require.NoError(t, err)
	assert.Equal(t, types.Binary, problem)
	id, ok := labels.ID("pos")
	require.True(t, ok)
	assert.Equal(t, 1, id)

	multiclass := datasets.NewMaterialized(nil, []string{"label", "text"}, datasets.Features{"label": {"a", "b", "c"}})
	_, problem, err = InferLabels(ctx, multiclass, []string{"label"})
	require.NoError(t, err)
	assert.Equal(t, types.Multiclass, problem)
}

func TestInferLabelsScansDistinctValues(t *testing.T) {
	rows := []datasets.Record{
		{"text": "a", "label": "sad"},
		{"text": "b", "label": "joy"},
		{"text": "c", "label": "anger"},
	}
	ds := datasets.NewMaterialized(rows, []string{"label", "text"}, nil)

	labels, problem, err := InferLabels(context.Background(), ds, []string{"label"})
	require.NoError(t, err)
	assert.Equal(t, types.Multiclass, problem)
	assert.Equal(t, []string{"anger", "joy", "sad"}, labels.Names())

	encoded, err := EncodeLabels(ds, []string{"label"}, labels, problem)
	require.NoError(t, err)
	m := encoded.(*datasets.Materialized)
	assert.Equal(t, 2, m.Row(0)["label"])
	assert.Equal(t, labels.Names(), m.Features()["label"])

	// already encoded datasets with the same labels pass through
	again, err := EncodeLabels(encoded, []string{"label"}, labels, problem)
	require.NoError(t, err)
	assert.Same(t, encoded, again)

	other := datasets.NewMaterialized(nil, []string{"label"}, datasets.Features{"label": {"x", "y"}})
	_, err = EncodeLabels(other, []string{"label"}, labels, problem)
	require.ErrorContains(t, err, "do not match")
}

func TestInferLabelsErrors(t *testing.T) {
	ctx := context.Background()

	single := datasets.NewMaterialized([]datasets.Record{{"label": "only"}, {"label": "only"}}, []string{"label"}, nil)
	_, _, err := InferLabels(ctx, single, []string{"label"})
	require.ErrorContains(t, err, "at least 2 are required")

	_, _, err = InferLabels(ctx, single, []string{"target"})
	require.ErrorIs(t, err, datasets.ErrColumnNotFound)

	_, _, err = InferLabels(ctx, single, nil)
	require.Error(t, err)
}
