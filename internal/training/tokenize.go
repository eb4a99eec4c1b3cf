package training

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"

	"textclf/internal/config"
	"textclf/internal/core/types"
	"textclf/internal/datasets"
	"textclf/internal/tokenizer"
	"textclf/internal/utils"
)

const (
	LabelsColumn        = "labels"
	InputIDsColumn      = "input_ids"
	AttentionMaskColumn = "attention_mask"

	// Rows handed to a worker at once when processing is not batched.
	defaultChunkSize = 1000
)

var TokenizedColumns = []string{LabelsColumn, InputIDsColumn, AttentionMaskColumn}

type chunk struct {
	start int
	rows  []datasets.Record
}

// Tokenize turns every example into {labels, input_ids, attention_mask} and
// drops all other columns. Materialized datasets are processed in parallel
// by processing.num_proc workers, streaming ones are mapped lazily.
func Tokenize(ctx context.Context, ds datasets.Dataset, tok tokenizer.Tokenizer, proc config.Processing, problem types.ProblemType) (datasets.Dataset, error) {
	if !slices.Contains(ds.Columns(), proc.Feature) {
		return nil, fmt.Errorf("feature column '%s' not found: %w", proc.Feature, datasets.ErrColumnNotFound)
	}

	features := datasets.Features{}
	if problem != types.Multilabel {
		if names, ok := ds.Features().ClassNames(proc.Target[0]); ok {
			features[LabelsColumn] = names
		}
	}

	batched := proc.BatchSize != nil && *proc.BatchSize > 0

	switch d := ds.(type) {
	case *datasets.Streaming:
		return d.Map(func(rec datasets.Record) (datasets.Record, error) {
			out, err := tokenizeRows(tok, []datasets.Record{rec}, proc, problem, false)
			if err != nil {
				return nil, err
			}
			return out[0], nil
		}, TokenizedColumns, features), nil
	case *datasets.Materialized:
		workers, err := utils.NumWorkers(proc.NumProc)
		if err != nil {
			return nil, err
		}
		chunkSize := defaultChunkSize
		if batched {
			chunkSize = *proc.BatchSize
		}

		rows, err := tokenizeMaterialized(ctx, d, tok, proc, problem, batched, chunkSize, workers)
		if err != nil {
			return nil, err
		}
		slog.Info("tokenized dataset", "rows", len(rows), "workers", workers, "batched", batched)
		return datasets.NewMaterialized(rows, TokenizedColumns, features), nil
	default:
		return nil, fmt.Errorf("unsupported dataset type %T", ds)
	}
}

func tokenizeMaterialized(ctx context.Context, ds *datasets.Materialized, tok tokenizer.Tokenizer, proc config.Processing, problem types.ProblemType, batched bool, chunkSize, workers int) ([]datasets.Record, error) {
	numChunks := (ds.Len() + chunkSize - 1) / chunkSize
	chunks := make([]chunk, numChunks)
	for i := range chunks {
		start := i * chunkSize
		end := min(start+chunkSize, ds.Len())
		rows := make([]datasets.Record, 0, end-start)
		for j := start; j < end; j++ {
			rows = append(rows, ds.Row(j))
		}
		chunks[i] = chunk{start: start, rows: rows}
	}

	tokenized, err := utils.MapInPool(ctx, chunks, workers, func(c chunk) ([]datasets.Record, error) {
		out, err := tokenizeRows(tok, c.rows, proc, problem, batched)
		if err != nil {
			return nil, fmt.Errorf("rows %d-%d: %w", c.start, c.start+len(c.rows)-1, err)
		}
		return out, nil
	})
	if err != nil {
		return nil, fmt.Errorf("error tokenizing dataset: %w", err)
	}

	rows := make([]datasets.Record, 0, ds.Len())
	for _, c := range tokenized {
		rows = append(rows, c...)
	}
	return rows, nil
}

func tokenizeRows(tok tokenizer.Tokenizer, rows []datasets.Record, proc config.Processing, problem types.ProblemType, batched bool) ([]datasets.Record, error) {
	texts := make([]string, len(rows))
	labels := make([]any, len(rows))
	for i, rec := range rows {
		text, ok := rec[proc.Feature].(string)
		if !ok {
			return nil, fmt.Errorf("feature column '%s' must hold text, got %T", proc.Feature, rec[proc.Feature])
		}
		texts[i] = text

		label, err := exampleLabels(rec, proc.Target, problem)
		if err != nil {
			return nil, err
		}
		labels[i] = label
	}

	var encodings []tokenizer.Encoding
	if batched {
		encodings = tok.EncodeBatch(texts)
	} else {
		encodings = make([]tokenizer.Encoding, len(texts))
		for i, text := range texts {
			encodings[i] = tok.Encode(text)
		}
	}

	out := make([]datasets.Record, len(rows))
	for i, enc := range encodings {
		out[i] = datasets.Record{
			LabelsColumn:        labels[i],
			InputIDsColumn:      enc.InputIDs,
			AttentionMaskColumn: enc.AttentionMask,
		}
	}
	return out, nil
}

// exampleLabels stacks the target columns into a float vector for multilabel
// problems and returns the class id otherwise.
func exampleLabels(rec datasets.Record, targets []string, problem types.ProblemType) (any, error) {
	if problem == types.Multilabel {
		vec := make([]float32, len(targets))
		for i, target := range targets {
			v, err := datasets.ToFloat(rec[target])
			if err != nil {
				return nil, fmt.Errorf("target column '%s': %w", target, err)
			}
			vec[i] = float32(v)
		}
		return vec, nil
	}

	v, err := datasets.ToFloat(rec[targets[0]])
	if err != nil {
		return nil, fmt.Errorf("target column '%s': %w", targets[0], err)
	}
	if v != math.Trunc(v) {
		return nil, fmt.Errorf("target column '%s' holds non integer class id %v", targets[0], v)
	}
	return int(v), nil
}
