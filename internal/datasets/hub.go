package datasets

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultDatasetsServerURL = "https://datasets-server.huggingface.co"

	// The datasets server never returns more than 100 rows per request.
	rowsPerPage = 100
)

type hubFeature struct {
	Name string `json:"name"`
	Type struct {
		Type  string   `json:"_type"`
		Names []string `json:"names"`
	} `json:"type"`
}

type rowsResponse struct {
	Features []hubFeature `json:"features"`
	Rows     []struct {
		RowIdx int    `json:"row_idx"`
		Row    Record `json:"row"`
	} `json:"rows"`
	NumRowsTotal int `json:"num_rows_total"`
}

type splitsResponse struct {
	Splits []struct {
		Dataset string `json:"dataset"`
		Config  string `json:"config"`
		Split   string `json:"split"`
	} `json:"splits"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type hubClient struct {
	client *resty.Client
}

func newHubClient(baseURL, token string) *hubClient {
	client := resty.New().SetBaseURL(baseURL).SetTimeout(60 * time.Second)
	if token != "" {
		client.SetAuthToken(token)
	}
	return &hubClient{client: client}
}

func (h *hubClient) get(ctx context.Context, endpoint string, params map[string]string, out any) error {
	res, err := h.client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		SetQueryParams(params).
		Get(endpoint)
	if err != nil {
		return fmt.Errorf("error requesting %s from datasets server: %w", endpoint, err)
	}

	if !res.IsSuccess() {
		var errRes errorResponse
		if json.Unmarshal(res.Body(), &errRes) == nil && errRes.Error != "" {
			return fmt.Errorf("datasets server returned status %d for dataset %s: %s", res.StatusCode(), params["dataset"], errRes.Error)
		}
		return fmt.Errorf("datasets server returned status %d for dataset %s", res.StatusCode(), params["dataset"])
	}

	if err := json.Unmarshal(res.Body(), out); err != nil {
		return fmt.Errorf("error parsing response from datasets server: %w", err)
	}
	return nil
}

// resolveConfig picks the dataset config serving split when none was given,
// preferring the one named "default".
func (h *hubClient) resolveConfig(ctx context.Context, dataset, split string) (string, error) {
	var splits splitsResponse
	if err := h.get(ctx, "/splits", map[string]string{"dataset": dataset}, &splits); err != nil {
		return "", err
	}

	config := ""
	for _, s := range splits.Splits {
		if s.Split != split {
			continue
		}
		if s.Config == "default" {
			return s.Config, nil
		}
		if config == "" {
			config = s.Config
		}
	}
	if config == "" {
		return "", fmt.Errorf("split '%s' not found for dataset %s", split, dataset)
	}
	return config, nil
}

func (h *hubClient) rows(ctx context.Context, dataset, config, split string, offset int) (*rowsResponse, error) {
	var page rowsResponse
	err := h.get(ctx, "/rows", map[string]string{
		"dataset": dataset,
		"config":  config,
		"split":   split,
		"offset":  strconv.Itoa(offset),
		"length":  strconv.Itoa(rowsPerPage),
	}, &page)
	if err != nil {
		return nil, err
	}
	return &page, nil
}

func pageSchema(page *rowsResponse) ([]string, Features) {
	columns := make([]string, 0, len(page.Features))
	features := Features{}
	for _, f := range page.Features {
		columns = append(columns, f.Name)
		if f.Type.Type == "ClassLabel" && len(f.Type.Names) > 0 {
			features[f.Name] = f.Type.Names
		}
	}
	return columns, features
}

func pageRecords(page *rowsResponse) []Record {
	rows := make([]Record, 0, len(page.Rows))
	for _, r := range page.Rows {
		rows = append(rows, r.Row)
	}
	return rows
}

func (h *hubClient) load(ctx context.Context, dataset, config, split string, streaming bool, workers int) (Dataset, error) {
	if config == "" {
		var err error
		if config, err = h.resolveConfig(ctx, dataset, split); err != nil {
			return nil, err
		}
	}

	first, err := h.rows(ctx, dataset, config, split, 0)
	if err != nil {
		return nil, err
	}
	columns, features := pageSchema(first)
	total := first.NumRowsTotal

	if streaming {
		return NewStreaming(columns, features, func(ctx context.Context) iter.Seq2[Record, error] {
			return func(yield func(Record, error) bool) {
				page := first
				for offset := 0; offset < total; offset += rowsPerPage {
					if offset > 0 {
						var err error
						if page, err = h.rows(ctx, dataset, config, split, offset); err != nil {
							yield(nil, err)
							return
						}
					}
					for _, rec := range pageRecords(page) {
						if !yield(rec, nil) {
							return
						}
					}
				}
			}
		}), nil
	}

	numPages := (total + rowsPerPage - 1) / rowsPerPage
	pages := make([][]Record, max(numPages, 1))
	pages[0] = pageRecords(first)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := 1; i < numPages; i++ {
		g.Go(func() error {
			page, err := h.rows(gctx, dataset, config, split, i*rowsPerPage)
			if err != nil {
				return err
			}
			pages[i] = pageRecords(page)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	rows := make([]Record, 0, total)
	for _, page := range pages {
		rows = append(rows, page...)
	}

	slog.Info("loaded hub dataset", "dataset", dataset, "config", config, "split", split, "rows", len(rows))
	return NewMaterialized(rows, columns, features), nil
}
