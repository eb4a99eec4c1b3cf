package datasets

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"math/rand/v2"
	"slices"
)

var (
	ErrColumnNotFound = errors.New("column not found")
	ErrColumnExists   = errors.New("column already exists")
)

type Record map[string]any

// Features holds the class label names of categorical columns. Columns
// without an entry carry plain values.
type Features map[string][]string

func (f Features) ClassNames(column string) ([]string, bool) {
	names, ok := f[column]
	return names, ok && len(names) > 0
}

// Dataset is either a Materialized dataset held in memory or a Streaming one
// that is read lazily every time it is iterated.
type Dataset interface {
	Columns() []string
	Features() Features
	All(ctx context.Context) iter.Seq2[Record, error]
}

type MapFunc func(Record) (Record, error)

type Materialized struct {
	rows     []Record
	indices  []int
	columns  []string
	features Features
}

var _ Dataset = (*Materialized)(nil)

func NewMaterialized(rows []Record, columns []string, features Features) *Materialized {
	if features == nil {
		features = Features{}
	}
	return &Materialized{rows: rows, columns: columns, features: features}
}

func (m *Materialized) Columns() []string {
	return m.columns
}

func (m *Materialized) Features() Features {
	return m.features
}

func (m *Materialized) Len() int {
	if m.indices != nil {
		return len(m.indices)
	}
	return len(m.rows)
}

func (m *Materialized) Row(i int) Record {
	if m.indices != nil {
		return m.rows[m.indices[i]]
	}
	return m.rows[i]
}

func (m *Materialized) All(ctx context.Context) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		for i := 0; i < m.Len(); i++ {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			if !yield(m.Row(i), nil) {
				return
			}
		}
	}
}

// Rows returns the rows in their current logical order.
func (m *Materialized) Rows() []Record {
	if m.indices == nil {
		return m.rows
	}
	rows := make([]Record, len(m.indices))
	for i, idx := range m.indices {
		rows[i] = m.rows[idx]
	}
	return rows
}

func (m *Materialized) Column(name string) ([]any, error) {
	if !slices.Contains(m.columns, name) {
		return nil, fmt.Errorf("%w: %s", ErrColumnNotFound, name)
	}
	values := make([]any, m.Len())
	for i := range values {
		values[i] = m.Row(i)[name]
	}
	return values, nil
}

// Shuffle permutes the rows through an index mapping. The permutation only
// depends on seed.
func (m *Materialized) Shuffle(seed uint64) *Materialized {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	perm := rng.Perm(m.Len())
	if m.indices != nil {
		for i, p := range perm {
			perm[i] = m.indices[p]
		}
	}
	return &Materialized{rows: m.rows, indices: perm, columns: m.columns, features: m.features}
}

// FlattenIndices rewrites the rows so that the index mapping is no longer
// needed.
func (m *Materialized) FlattenIndices() *Materialized {
	return &Materialized{rows: m.Rows(), columns: m.columns, features: m.features}
}

func (m *Materialized) RenameColumns(mapping map[string]string) (*Materialized, error) {
	if len(mapping) == 0 {
		return m, nil
	}
	columns, features, err := renameSchema(m.columns, m.features, mapping)
	if err != nil {
		return nil, err
	}

	rows := make([]Record, m.Len())
	for i := range rows {
		rows[i] = renameRecord(m.Row(i), mapping)
	}
	return &Materialized{rows: rows, columns: columns, features: features}, nil
}

type Streaming struct {
	source   func(ctx context.Context) iter.Seq2[Record, error]
	columns  []string
	features Features
}

var _ Dataset = (*Streaming)(nil)

func NewStreaming(columns []string, features Features, source func(ctx context.Context) iter.Seq2[Record, error]) *Streaming {
	if features == nil {
		features = Features{}
	}
	return &Streaming{source: source, columns: columns, features: features}
}

func (s *Streaming) Columns() []string {
	return s.columns
}

func (s *Streaming) Features() Features {
	return s.features
}

func (s *Streaming) All(ctx context.Context) iter.Seq2[Record, error] {
	return s.source(ctx)
}

// Map applies fn lazily while iterating. columns and features describe the
// records fn produces.
func (s *Streaming) Map(fn MapFunc, columns []string, features Features) *Streaming {
	source := s.source
	return NewStreaming(columns, features, func(ctx context.Context) iter.Seq2[Record, error] {
		return func(yield func(Record, error) bool) {
			for rec, err := range source(ctx) {
				if err != nil {
					yield(nil, err)
					return
				}
				out, err := fn(rec)
				if !yield(out, err) || err != nil {
					return
				}
			}
		}
	})
}

func (s *Streaming) RenameColumns(mapping map[string]string) (*Streaming, error) {
	if len(mapping) == 0 {
		return s, nil
	}
	columns, features, err := renameSchema(s.columns, s.features, mapping)
	if err != nil {
		return nil, err
	}
	return s.Map(func(rec Record) (Record, error) {
		return renameRecord(rec, mapping), nil
	}, columns, features), nil
}

// Shuffle fills a buffer of bufferSize records and emits a random one each
// time a new record arrives. Records further apart than the buffer keep their
// relative order, so the result is only a local shuffle.
func (s *Streaming) Shuffle(seed uint64, bufferSize int) *Streaming {
	bufferSize = max(1, bufferSize)
	source := s.source
	return NewStreaming(s.columns, s.features, func(ctx context.Context) iter.Seq2[Record, error] {
		return func(yield func(Record, error) bool) {
			rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
			buffer := make([]Record, 0, bufferSize)
			for rec, err := range source(ctx) {
				if err != nil {
					yield(nil, err)
					return
				}
				if len(buffer) < bufferSize {
					buffer = append(buffer, rec)
					continue
				}
				i := rng.IntN(bufferSize)
				out := buffer[i]
				buffer[i] = rec
				if !yield(out, nil) {
					return
				}
			}
			rng.Shuffle(len(buffer), func(i, j int) { buffer[i], buffer[j] = buffer[j], buffer[i] })
			for _, rec := range buffer {
				if !yield(rec, nil) {
					return
				}
			}
		}
	})
}

func renameSchema(columns []string, features Features, mapping map[string]string) ([]string, Features, error) {
	targets := make(map[string]string, len(mapping))
	for from, to := range mapping {
		if !slices.Contains(columns, from) {
			return nil, nil, fmt.Errorf("cannot rename column '%s': %w", from, ErrColumnNotFound)
		}
		if other, ok := targets[to]; ok {
			return nil, nil, fmt.Errorf("cannot rename both '%s' and '%s' to '%s': %w", other, from, to, ErrColumnExists)
		}
		targets[to] = from
		if _, renamed := mapping[to]; slices.Contains(columns, to) && !renamed {
			return nil, nil, fmt.Errorf("cannot rename column '%s' to '%s': %w", from, to, ErrColumnExists)
		}
	}

	renamedColumns := make([]string, len(columns))
	for i, col := range columns {
		if to, ok := mapping[col]; ok {
			renamedColumns[i] = to
		} else {
			renamedColumns[i] = col
		}
	}

	renamedFeatures := make(Features, len(features))
	for col, names := range features {
		if to, ok := mapping[col]; ok {
			renamedFeatures[to] = names
		} else {
			renamedFeatures[col] = names
		}
	}

	return renamedColumns, renamedFeatures, nil
}

func renameRecord(rec Record, mapping map[string]string) Record {
	out := make(Record, len(rec))
	for k, v := range rec {
		if to, ok := mapping[k]; ok {
			out[to] = v
		} else {
			out[k] = v
		}
	}
	return out
}
