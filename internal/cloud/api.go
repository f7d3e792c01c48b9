package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const defaultTimeout = 60 * time.Second

// API is the HTTP implementation of Provider.
type API struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// Option configures an API client.
type Option func(*API)

// WithHTTPClient overrides the underlying HTTP client (used in tests).
func WithHTTPClient(c *http.Client) Option {
	return func(a *API) { a.client = c }
}

// NewAPI creates an HTTP Provider for the given API endpoint.
func NewAPI(baseURL, apiKey string, opts ...Option) (*API, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("cloud: base URL is required")
	}
	a := &API{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// apiErrorBody is the provider's JSON error envelope.
type apiErrorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// do performs one API request, decoding a JSON response into out when out is
// non-nil. Non-2xx responses become *APIError (404 with a missing-file code
// becomes ErrNotFound).
func (a *API) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("cloud: marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("cloud: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("cloud: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("cloud: decode %s %s response: %w", method, path, err)
	}
	return nil
}

// decodeError turns a non-2xx response into a typed error.
func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	var envelope apiErrorBody
	_ = json.Unmarshal(data, &envelope)

	code := envelope.Error.Code
	msg := envelope.Error.Message
	if msg == "" {
		msg = strings.TrimSpace(string(data))
	}
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, msg)
	}
	return &APIError{StatusCode: resp.StatusCode, Code: code, Message: msg}
}

func (a *API) CreateSnapshot(ctx context.Context, spec SnapshotSpec) (*Snapshot, error) {
	var snap Snapshot
	if err := a.do(ctx, http.MethodPost, "/snapshots", spec, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (a *API) GetSnapshot(ctx context.Context, id string) (*Snapshot, error) {
	var snap Snapshot
	if err := a.do(ctx, http.MethodGet, "/snapshots/"+url.PathEscape(id), nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (a *API) ListSnapshots(ctx context.Context) ([]*Snapshot, error) {
	var snaps []*Snapshot
	if err := a.do(ctx, http.MethodGet, "/snapshots", nil, &snaps); err != nil {
		return nil, err
	}
	return snaps, nil
}

func (a *API) DeleteSnapshot(ctx context.Context, id string) error {
	return a.do(ctx, http.MethodDelete, "/snapshots/"+url.PathEscape(id), nil, nil)
}

func (a *API) StartInstance(ctx context.Context, snapshotID string) (*Instance, error) {
	body := map[string]string{"snapshot_id": snapshotID}
	var inst Instance
	if err := a.do(ctx, http.MethodPost, "/instances", body, &inst); err != nil {
		return nil, err
	}
	return &inst, nil
}

func (a *API) GetInstance(ctx context.Context, id string) (*Instance, error) {
	var inst Instance
	if err := a.do(ctx, http.MethodGet, "/instances/"+url.PathEscape(id), nil, &inst); err != nil {
		return nil, err
	}
	return &inst, nil
}

func (a *API) ListInstances(ctx context.Context) ([]*Instance, error) {
	var insts []*Instance
	if err := a.do(ctx, http.MethodGet, "/instances", nil, &insts); err != nil {
		return nil, err
	}
	return insts, nil
}

func (a *API) StopInstance(ctx context.Context, id string) error {
	return a.do(ctx, http.MethodPost, "/instances/"+url.PathEscape(id)+"/stop", nil, nil)
}

// branchResponse is the provider's branch result: the snapshot taken of the
// source instance plus the started clones.
type branchResponse struct {
	Snapshot  *Snapshot   `json:"snapshot"`
	Instances []*Instance `json:"instances"`
}

func (a *API) Branch(ctx context.Context, instanceID string, count int) (*Snapshot, []*Instance, error) {
	if count < 1 {
		return nil, nil, fmt.Errorf("cloud: branch count must be at least 1")
	}
	body := map[string]int{"count": count}
	var resp branchResponse
	if err := a.do(ctx, http.MethodPost, "/instances/"+url.PathEscape(instanceID)+"/branch", body, &resp); err != nil {
		return nil, nil, err
	}
	return resp.Snapshot, resp.Instances, nil
}

func (a *API) Exec(ctx context.Context, instanceID, command string) (*ExecResult, error) {
	body := map[string]string{"command": command}
	var res ExecResult
	if err := a.do(ctx, http.MethodPost, "/instances/"+url.PathEscape(instanceID)+"/exec", body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (a *API) SetMetadata(ctx context.Context, instanceID string, metadata map[string]string) error {
	body := map[string]map[string]string{"metadata": metadata}
	return a.do(ctx, http.MethodPost, "/instances/"+url.PathEscape(instanceID)+"/metadata", body, nil)
}

// FetchFile downloads a remote file to localPath. The body is streamed to a
// temporary file first so a failed transfer never leaves a truncated file at
// localPath.
func (a *API) FetchFile(ctx context.Context, instanceID, remotePath, localPath string) error {
	endpoint := fmt.Sprintf("%s/instances/%s/files?path=%s",
		a.baseURL, url.PathEscape(instanceID), url.QueryEscape(remotePath))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("cloud: build request: %w", err)
	}
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("cloud: fetch %s from %s: %w", remotePath, instanceID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}

	tmp, err := os.CreateTemp(filepath.Dir(localPath), ".fetch-*")
	if err != nil {
		return fmt.Errorf("cloud: create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("cloud: download %s: %w", remotePath, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("cloud: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, localPath); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("cloud: place %s: %w", localPath, err)
	}
	return nil
}
