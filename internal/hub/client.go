package hub

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const DefaultEndpoint = "https://huggingface.co"

var ErrFileNotFound = errors.New("file not found on hub")

type Client struct {
	client *resty.Client
}

func NewClient(endpoint, token string) *Client {
	client := resty.New().SetBaseURL(endpoint).SetTimeout(5 * time.Minute)
	if token != "" {
		client.SetAuthToken(token)
	}
	return &Client{client: client}
}

// TokenFromEnv returns token when set, otherwise the HF_TOKEN environment
// variable.
func TokenFromEnv(token string) string {
	if token != "" {
		return token
	}
	return os.Getenv("HF_TOKEN")
}

func responseError(res *resty.Response, action string) error {
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(res.Body(), &body) == nil && body.Error != "" {
		return fmt.Errorf("%s: hub returned status %d: %s", action, res.StatusCode(), body.Error)
	}
	return fmt.Errorf("%s: hub returned status %d", action, res.StatusCode())
}

// DownloadFile fetches a single file of a model repo into dest.
func (c *Client) DownloadFile(ctx context.Context, repoID, revision, filename, dest string) error {
	if revision == "" {
		revision = "main"
	}
	if err := os.MkdirAll(filepath.Dir(dest), os.ModePerm); err != nil {
		return fmt.Errorf("error creating directory for %s: %w", dest, err)
	}

	endpoint := fmt.Sprintf("/%s/resolve/%s/%s", repoID, revision, strings.TrimPrefix(filename, "/"))
	res, err := c.client.R().
		SetContext(ctx).
		SetOutput(dest).
		Get(endpoint)
	if err != nil {
		return fmt.Errorf("error downloading %s from %s: %w", filename, repoID, err)
	}
	if res.StatusCode() == http.StatusNotFound {
		_ = os.Remove(dest)
		return fmt.Errorf("%w: %s/%s@%s", ErrFileNotFound, repoID, filename, revision)
	}
	if !res.IsSuccess() {
		_ = os.Remove(dest)
		return responseError(res, fmt.Sprintf("error downloading %s from %s", filename, repoID))
	}

	slog.Debug("downloaded hub file", "repo", repoID, "file", filename, "revision", revision)
	return nil
}

type createRepoRequest struct {
	Name         string `json:"name"`
	Organization string `json:"organization,omitempty"`
	Private      bool   `json:"private"`
	Type         string `json:"type"`
}

// CreateRepo creates a model repo. An already existing repo is not an error.
func (c *Client) CreateRepo(ctx context.Context, repoID string, private bool) error {
	req := createRepoRequest{Name: repoID, Private: private, Type: "model"}
	if org, name, ok := strings.Cut(repoID, "/"); ok {
		req.Organization, req.Name = org, name
	}

	res, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(req).
		Post("/api/repos/create")
	if err != nil {
		return fmt.Errorf("error creating repo %s: %w", repoID, err)
	}
	if res.StatusCode() == http.StatusConflict {
		slog.Info("hub repo already exists", "repo", repoID)
		return nil
	}
	if !res.IsSuccess() {
		return responseError(res, fmt.Sprintf("error creating repo %s", repoID))
	}

	slog.Info("created hub repo", "repo", repoID, "private", private)
	return nil
}

type commitLine struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

type commitHeader struct {
	Summary     string `json:"summary"`
	Description string `json:"description"`
}

type commitFile struct {
	Content  string `json:"content"`
	Path     string `json:"path"`
	Encoding string `json:"encoding"`
}

// UploadFolder commits every file below dir to the main branch of repoID in a
// single commit. Paths matching skip are left out.
func (c *Client) UploadFolder(ctx context.Context, repoID, dir, message string, skip func(rel string) bool) error {
	var body bytes.Buffer
	encoder := json.NewEncoder(&body)
	if err := encoder.Encode(commitLine{Key: "header", Value: commitHeader{Summary: message}}); err != nil {
		return err
	}

	files := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if skip != nil && rel != "." && skip(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		files++
		return encoder.Encode(commitLine{Key: "file", Value: commitFile{
			Content:  base64.StdEncoding.EncodeToString(data),
			Path:     rel,
			Encoding: "base64",
		}})
	})
	if err != nil {
		return fmt.Errorf("error collecting files from %s: %w", dir, err)
	}

	res, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/x-ndjson").
		SetBody(body.Bytes()).
		Post(fmt.Sprintf("/api/models/%s/commit/main", repoID))
	if err != nil {
		return fmt.Errorf("error uploading to %s: %w", repoID, err)
	}
	if !res.IsSuccess() {
		return responseError(res, fmt.Sprintf("error uploading to %s", repoID))
	}

	slog.Info("pushed folder to hub", "repo", repoID, "files", files)
	return nil
}
