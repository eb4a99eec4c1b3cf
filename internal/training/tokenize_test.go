package training

import (
	"context"
	"fmt"
	"iter"
	"testing"

	"textclf/internal/config"
	"textclf/internal/core/types"
	"textclf/internal/datasets"
	"textclf/internal/tokenizer"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, ds datasets.Dataset) []datasets.Record {
	t.Helper()
	var out []datasets.Record
	for rec, err := range ds.All(context.Background()) {
		require.NoError(t, err)
		out = append(out, rec)
	}
	return out
}

func intPtr(v int) *int {
	return &v
}

func TestTokenizeMaterialized(t *testing.T) {
	tok := tokenizer.NewHashingTokenizer(1024, 8)

	rows := make([]datasets.Record, 25)
	for i := range rows {
		rows[i] = datasets.Record{"text": fmt.Sprintf("example number %d", i), "label": i % 2, "extra": "dropped"}
	}
	ds := datasets.NewMaterialized(rows, []string{"extra", "label", "text"}, datasets.Features{"label": {"neg", "pos"}})

	proc := config.Processing{BatchSize: intPtr(4), NumProc: intPtr(3), Feature: "text", Target: []string{"label"}}
	out, err := Tokenize(context.Background(), ds, tok, proc, types.Binary)
	require.NoError(t, err)

	assert.Equal(t, TokenizedColumns, out.Columns())
	assert.Equal(t, []string{"neg", "pos"}, out.Features()[LabelsColumn])

	records := collect(t, out)
	require.Len(t, records, 25)
	for i, rec := range records {
		assert.Len(t, rec, 3)
		assert.Equal(t, i%2, rec[LabelsColumn])
		assert.Equal(t, tok.Encode(fmt.Sprintf("example number %d", i)).InputIDs, rec[InputIDsColumn])
		assert.Equal(t, []int32{1, 1, 1}, rec[AttentionMaskColumn])
	}
}

func TestTokenizeMultilabelStreaming(t *testing.T) {
	tok := tokenizer.NewHashingTokenizer(1024, 8)
	rows := []datasets.Record{
		{"text": "buy now", "spam": 1.0, "toxic": 0.0},
		{"text": "you idiot", "spam": "0", "toxic": "1"},
	}
	ds := datasets.NewStreaming([]string{"spam", "text", "toxic"}, nil, func(ctx context.Context) iter.Seq2[datasets.Record, error] {
		return func(yield func(datasets.Record, error) bool) {
			for _, r := range rows {
				if !yield(r, nil) {
					return
				}
			}
		}
	})

	proc := config.Processing{Feature: "text", Target: []string{"toxic", "spam"}}
	out, err := Tokenize(context.Background(), ds, tok, proc, types.Multilabel)
	require.NoError(t, err)
	_, streaming := out.(*datasets.Streaming)
	assert.True(t, streaming)

	records := collect(t, out)
	assert.Equal(t, []float32{0, 1}, records[0][LabelsColumn])
	assert.Equal(t, []float32{1, 0}, records[1][LabelsColumn])
}

func TestTokenizeErrors(t *testing.T) {
	tok := tokenizer.NewHashingTokenizer(1024, 8)
	proc := config.Processing{Feature: "text", Target: []string{"label"}}

	ds := datasets.NewMaterialized([]datasets.Record{{"text": 3, "label": 0}}, []string{"label", "text"}, nil)
	_, err := Tokenize(context.Background(), ds, tok, proc, types.Binary)
	require.ErrorContains(t, err, "must hold text")

	ds = datasets.NewMaterialized([]datasets.Record{{"text": "a", "label": 0.5}}, []string{"label", "text"}, nil)
	_, err = Tokenize(context.Background(), ds, tok, proc, types.Binary)
	require.ErrorContains(t, err, "non integer class id")

	proc.Feature = "sentence"
	_, err = Tokenize(context.Background(), ds, tok, proc, types.Binary)
	require.ErrorIs(t, err, datasets.ErrColumnNotFound)
}
