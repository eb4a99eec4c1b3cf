package datasets

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

var supportedExtensions = []string{".jsonl", ".json", ".csv"}

type datasetInfo struct {
	Features map[string]struct {
		Type  string   `json:"_type"`
		Names []string `json:"names"`
	} `json:"features"`
}

func readFeatures(dir string) (Features, error) {
	data, err := os.ReadFile(filepath.Join(dir, "dataset_info.json"))
	if errors.Is(err, fs.ErrNotExist) {
		return Features{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error reading dataset_info.json: %w", err)
	}

	var info datasetInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("error parsing dataset_info.json: %w", err)
	}

	features := Features{}
	for col, feature := range info.Features {
		if len(feature.Names) > 0 {
			features[col] = feature.Names
		}
	}
	return features, nil
}

// findSplitFile locates the file holding split inside a dataset directory.
func findSplitFile(dir, split string) (string, error) {
	for _, sub := range []string{"", "data"} {
		for _, ext := range supportedExtensions {
			path := filepath.Join(dir, sub, split+ext)
			if info, err := os.Stat(path); err == nil && !info.IsDir() {
				return path, nil
			}
		}
	}
	return "", fmt.Errorf("no file for split '%s' found in %s (expected %s.jsonl, %s.json or %s.csv)", split, dir, split, split, split)
}

// loadLocal loads a single file, or the split file of a dataset directory.
func loadLocal(ctx context.Context, path, split string, streaming bool) (Dataset, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("error reading dataset %s: %w", path, err)
	}

	features := Features{}
	file := path
	if info.IsDir() {
		if features, err = readFeatures(path); err != nil {
			return nil, err
		}
		if file, err = findSplitFile(path, split); err != nil {
			return nil, err
		}
	} else {
		slog.Debug("loading dataset from single file, split is ignored", "path", path, "split", split)
	}

	source, err := fileSource(file)
	if err != nil {
		return nil, err
	}

	if streaming {
		columns, err := peekColumns(ctx, source)
		if err != nil {
			return nil, fmt.Errorf("error reading %s: %w", file, err)
		}
		return NewStreaming(columns, features, source), nil
	}

	var rows []Record
	var columns []string
	for rec, err := range source(ctx) {
		if err != nil {
			return nil, fmt.Errorf("error reading %s: %w", file, err)
		}
		for col := range rec {
			if !slices.Contains(columns, col) {
				columns = append(columns, col)
			}
		}
		rows = append(rows, rec)
	}
	slices.Sort(columns)

	slog.Info("loaded local dataset", "path", file, "rows", len(rows), "columns", columns)
	return NewMaterialized(rows, columns, features), nil
}

func peekColumns(ctx context.Context, source func(context.Context) iter.Seq2[Record, error]) ([]string, error) {
	for rec, err := range source(ctx) {
		if err != nil {
			return nil, err
		}
		columns := make([]string, 0, len(rec))
		for col := range rec {
			columns = append(columns, col)
		}
		slices.Sort(columns)
		return columns, nil
	}
	return nil, nil
}

func fileSource(path string) (func(context.Context) iter.Seq2[Record, error], error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".jsonl", ".json":
		return func(ctx context.Context) iter.Seq2[Record, error] {
			return readJSON(ctx, path)
		}, nil
	case ".csv":
		return func(ctx context.Context) iter.Seq2[Record, error] {
			return readCSV(ctx, path)
		}, nil
	default:
		return nil, fmt.Errorf("unsupported dataset file extension '%s' for %s", ext, path)
	}
}

// readJSON reads either json lines or a single json array of objects.
func readJSON(ctx context.Context, path string) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		file, err := os.Open(path)
		if err != nil {
			yield(nil, err)
			return
		}
		defer file.Close()

		reader := bufio.NewReader(file)
		first, err := peekNonSpace(reader)
		if err == io.EOF {
			return
		}
		if err != nil {
			yield(nil, err)
			return
		}

		decoder := json.NewDecoder(reader)
		if first == '[' {
			if _, err := decoder.Token(); err != nil {
				yield(nil, err)
				return
			}
		}

		for line := 1; decoder.More(); line++ {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			var rec Record
			if err := decoder.Decode(&rec); err != nil {
				yield(nil, fmt.Errorf("record %d: %w", line, err))
				return
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}

func peekNonSpace(r *bufio.Reader) (byte, error) {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		if !bytes.ContainsRune([]byte(" \t\r\n"), rune(b)) {
			return b, r.UnreadByte()
		}
	}
}

func readCSV(ctx context.Context, path string) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		file, err := os.Open(path)
		if err != nil {
			yield(nil, err)
			return
		}
		defer file.Close()

		reader := csv.NewReader(file)
		header, err := reader.Read()
		if err == io.EOF {
			return
		}
		if err != nil {
			yield(nil, fmt.Errorf("error reading csv header: %w", err))
			return
		}

		for {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			row, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
			rec := make(Record, len(header))
			for i, col := range header {
				rec[col] = row[i]
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}
