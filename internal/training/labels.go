package training

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"textclf/internal/core/types"
	"textclf/internal/datasets"
)

// InferLabels derives the label space and problem type from the train split.
// Several targets make a multilabel problem whose labels are the target
// columns. A single target takes its class names from the dataset features,
// or from the sorted distinct values of the column when it has none.
func InferLabels(ctx context.Context, train datasets.Dataset, targets []string) (types.LabelMapping, types.ProblemType, error) {
	if len(targets) == 0 {
		return types.LabelMapping{}, "", fmt.Errorf("at least one target column is required")
	}

	for _, target := range targets {
		if !slices.Contains(train.Columns(), target) {
			return types.LabelMapping{}, "", fmt.Errorf("target column '%s' not found in train dataset: %w", target, datasets.ErrColumnNotFound)
		}
	}

	if len(targets) > 1 {
		mapping, err := types.NewLabelMapping(targets)
		if err != nil {
			return types.LabelMapping{}, "", err
		}
		return mapping, types.Multilabel, nil
	}

	names, ok := train.Features().ClassNames(targets[0])
	if !ok {
		slog.Info("target column has no class labels, scanning distinct values", "column", targets[0])
		var err error
		if names, err = datasets.DistinctValues(ctx, train, targets[0]); err != nil {
			return types.LabelMapping{}, "", fmt.Errorf("error collecting labels of column '%s': %w", targets[0], err)
		}
	}

	if len(names) < 2 {
		return types.LabelMapping{}, "", fmt.Errorf("target column '%s' has %d classes, at least 2 are required", targets[0], len(names))
	}

	mapping, err := types.NewLabelMapping(names)
	if err != nil {
		return types.LabelMapping{}, "", err
	}

	problem := types.Binary
	if len(names) > 2 {
		problem = types.Multiclass
	}
	return mapping, problem, nil
}

// EncodeLabels class-encodes the target column of ds with mapping when the
// dataset does not already carry the same class labels. Multilabel targets
// are left untouched.
func EncodeLabels(ds datasets.Dataset, targets []string, mapping types.LabelMapping, problem types.ProblemType) (datasets.Dataset, error) {
	if problem == types.Multilabel {
		return ds, nil
	}

	target := targets[0]
	if names, ok := ds.Features().ClassNames(target); ok {
		if !slices.Equal(names, mapping.Names()) {
			return nil, fmt.Errorf("class labels %v of column '%s' do not match the train labels %v", names, target, mapping.Names())
		}
		return ds, nil
	}
	return datasets.EncodeClassLabels(ds, target, mapping.Names())
}
