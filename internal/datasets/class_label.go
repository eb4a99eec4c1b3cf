package datasets

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
)

// LabelString is the canonical string form of a raw label value.
func LabelString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case json.Number:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

// ToFloat converts numeric-looking values, as found in json and csv sources.
func ToFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case json.Number:
		return x.Float64()
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, fmt.Errorf("value '%s' is not numeric", x)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("value %v of type %T is not numeric", v, v)
	}
}

// DistinctValues scans column and returns its distinct values in sorted order.
// Values are compared numerically when all of them parse as numbers.
func DistinctValues(ctx context.Context, ds Dataset, column string) ([]string, error) {
	if !slices.Contains(ds.Columns(), column) {
		return nil, fmt.Errorf("%w: %s", ErrColumnNotFound, column)
	}

	seen := map[string]any{}
	for rec, err := range ds.All(ctx) {
		if err != nil {
			return nil, err
		}
		v, ok := rec[column]
		if !ok || v == nil {
			continue
		}
		seen[LabelString(v)] = v
	}

	values := slices.Collect(maps.Keys(seen))
	numeric := true
	for _, v := range seen {
		if _, err := ToFloat(v); err != nil {
			numeric = false
			break
		}
	}

	if numeric {
		slices.SortFunc(values, func(a, b string) int {
			fa, _ := ToFloat(seen[a])
			fb, _ := ToFloat(seen[b])
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			}
			return 0
		})
	} else {
		slices.Sort(values)
	}
	return values, nil
}

// EncodeClassLabels replaces the values of column by their position in names
// and records names as the column's class labels. Values outside names are an
// error.
func EncodeClassLabels(ds Dataset, column string, names []string) (Dataset, error) {
	if !slices.Contains(ds.Columns(), column) {
		return nil, fmt.Errorf("%w: %s", ErrColumnNotFound, column)
	}

	ids := make(map[string]int, len(names))
	for i, name := range names {
		ids[name] = i
	}

	features := maps.Clone(ds.Features())
	if features == nil {
		features = Features{}
	}
	features[column] = names

	encode := func(rec Record) (Record, error) {
		v, ok := rec[column]
		if !ok {
			return nil, fmt.Errorf("record is missing label column '%s'", column)
		}
		id, ok := ids[LabelString(v)]
		if !ok {
			return nil, fmt.Errorf("unknown label '%s' in column '%s'", LabelString(v), column)
		}
		out := maps.Clone(rec)
		out[column] = id
		return out, nil
	}

	switch d := ds.(type) {
	case *Materialized:
		rows := make([]Record, d.Len())
		for i := range rows {
			rec, err := encode(d.Row(i))
			if err != nil {
				return nil, fmt.Errorf("row %d: %w", i, err)
			}
			rows[i] = rec
		}
		return NewMaterialized(rows, d.Columns(), features), nil
	case *Streaming:
		return d.Map(encode, d.Columns(), features), nil
	default:
		return nil, fmt.Errorf("unsupported dataset type %T", ds)
	}
}
