package linear

import (
	"context"
	"fmt"
	"iter"

	"textclf/internal/core/types"
	"textclf/internal/datasets"
	"textclf/internal/training"
)

type example struct {
	x     []feature
	label int
	multi []float64
}

func int32s(v any) ([]int32, error) {
	switch x := v.(type) {
	case []int32:
		return x, nil
	case []any:
		out := make([]int32, len(x))
		for i, e := range x {
			f, err := datasets.ToFloat(e)
			if err != nil {
				return nil, err
			}
			out[i] = int32(f)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected a list of ids, got %T", v)
	}
}

func float64s(v any) ([]float64, error) {
	switch x := v.(type) {
	case []float32:
		out := make([]float64, len(x))
		for i, e := range x {
			out[i] = float64(e)
		}
		return out, nil
	case []any:
		out := make([]float64, len(x))
		for i, e := range x {
			f, err := datasets.ToFloat(e)
			if err != nil {
				return nil, err
			}
			out[i] = f
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected a list of label values, got %T", v)
	}
}

func (m *Model) toExample(rec datasets.Record) (example, error) {
	ids, err := int32s(rec[training.InputIDsColumn])
	if err != nil {
		return example{}, fmt.Errorf("invalid %s: %w", training.InputIDsColumn, err)
	}
	var mask []int32
	if raw, ok := rec[training.AttentionMaskColumn]; ok {
		if mask, err = int32s(raw); err != nil {
			return example{}, fmt.Errorf("invalid %s: %w", training.AttentionMaskColumn, err)
		}
	}

	ex := example{x: m.featurize(ids, mask)}
	if m.problem == types.Multilabel {
		if ex.multi, err = float64s(rec[training.LabelsColumn]); err != nil {
			return example{}, err
		}
		if len(ex.multi) != m.labels.Len() {
			return example{}, fmt.Errorf("example has %d labels, expected %d", len(ex.multi), m.labels.Len())
		}
		return ex, nil
	}

	label, err := datasets.ToFloat(rec[training.LabelsColumn])
	if err != nil {
		return example{}, fmt.Errorf("invalid %s: %w", training.LabelsColumn, err)
	}
	ex.label = int(label)
	if ex.label < 0 || ex.label >= m.labels.Len() {
		return example{}, fmt.Errorf("label id %d out of range for %d labels", ex.label, m.labels.Len())
	}
	return ex, nil
}

func (m *Model) examples(ctx context.Context, ds datasets.Dataset) iter.Seq2[example, error] {
	return func(yield func(example, error) bool) {
		for rec, err := range ds.All(ctx) {
			if err != nil {
				yield(example{}, err)
				return
			}
			ex, err := m.toExample(rec)
			if !yield(ex, err) || err != nil {
				return
			}
		}
	}
}

// target is the metric target row of ex: the class id, or one 0/1 entry per
// label.
func (ex example) target() []int32 {
	if ex.multi == nil {
		return []int32{int32(ex.label)}
	}
	out := make([]int32, len(ex.multi))
	for i, v := range ex.multi {
		out[i] = int32(v)
	}
	return out
}
