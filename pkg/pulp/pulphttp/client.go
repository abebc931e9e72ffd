// Package pulphttp implements pulp.Client against the Pulp 2 REST API.
package pulphttp

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/release-engineering/pulp-push/pkg/logger"
	"github.com/release-engineering/pulp-push/pkg/pulp"
)

const apiPrefix = "/pulp/api/v2"

// Config holds connection settings for a Pulp 2 server.
type Config struct {
	// URL is the base server URL, e.g. https://pulp.example.com.
	URL      string
	Username string
	Password string

	InsecureSkipVerify bool

	// MaxConcurrency bounds in-flight requests against the server.
	MaxConcurrency int64

	// TaskPollMax bounds how long to await a single spawned task.
	TaskPollMax time.Duration

	RetryMax int
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.MaxConcurrency <= 0 {
		out.MaxConcurrency = 8
	}
	if out.TaskPollMax <= 0 {
		out.TaskPollMax = 2 * time.Hour
	}
	if out.RetryMax <= 0 {
		out.RetryMax = 3
	}
	return out
}

// Client is a pulp.Client speaking the Pulp 2 REST API.
//
// Request concurrency is bounded by a weighted semaphore so that a single
// busy pipeline stage cannot starve the others of connections.
type Client struct {
	cfg  Config
	base *url.URL
	http *http.Client
	sem  *semaphore.Weighted
	log  logger.Logger
}

var _ pulp.Client = (*Client)(nil)

func NewClient(cfg Config, log logger.Logger) (*Client, error) {
	cfg = cfg.withDefaults()

	base, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("pulphttp: invalid server URL %q: %w", cfg.URL, err)
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.RetryMax
	rc.Logger = nil
	if cfg.InsecureSkipVerify {
		rc.HTTPClient.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	return &Client{
		cfg:  cfg,
		base: base,
		http: rc.StandardClient(),
		sem:  semaphore.NewWeighted(cfg.MaxConcurrency),
		log:  log,
	}, nil
}

type searchBody struct {
	Criteria struct {
		Filters map[string]any `json:"filters"`
	} `json:"criteria"`
}

func newSearchBody(filters map[string]any) searchBody {
	var b searchBody
	b.Criteria.Filters = filters
	return b
}

func (c *Client) SearchContent(ctx context.Context, crit *pulp.Criteria) ([]pulp.Unit, error) {
	types := crit.UnitTypes()
	if len(types) == 0 {
		return nil, fmt.Errorf("pulphttp: content search without unit type: %s", crit)
	}

	var out []pulp.Unit
	for _, t := range types {
		var docs []unitDoc
		path := fmt.Sprintf("%s/content/units/%s/search/", apiPrefix, t)
		if err := c.do(ctx, http.MethodPost, path, newSearchBody(filters(crit)), &docs); err != nil {
			return nil, err
		}
		for _, doc := range docs {
			unit, err := doc.toUnit(t)
			if err != nil {
				return nil, err
			}
			out = append(out, unit)
		}
	}
	return out, nil
}

func (c *Client) SearchRepository(ctx context.Context, crit *pulp.Criteria) ([]pulp.Repository, error) {
	var docs []repoDoc
	path := apiPrefix + "/repositories/search/"
	if err := c.do(ctx, http.MethodPost, path, newSearchBody(filters(crit)), &docs); err != nil {
		return nil, err
	}

	out := make([]pulp.Repository, 0, len(docs))
	for _, doc := range docs {
		out = append(out, &repository{client: c, id: doc.ID})
	}
	return out, nil
}

func (c *Client) GetRepository(ctx context.Context, id string) (pulp.Repository, error) {
	var doc repoDoc
	path := fmt.Sprintf("%s/repositories/%s/", apiPrefix, id)
	err := c.do(ctx, http.MethodGet, path, nil, &doc)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", pulp.ErrRepositoryNotFound, id)
		}
		return nil, err
	}
	return &repository{client: c, id: doc.ID}, nil
}

func (c *Client) CopyContent(ctx context.Context, src, dest pulp.Repository, crit *pulp.Criteria, opts pulp.CopyOptions) ([]*pulp.Task, error) {
	body := map[string]any{
		"source_repo_id": src.ID(),
		"criteria":       map[string]any{"filters": map[string]any{"unit": filters(crit)}},
	}
	if opts.RequireSignedRPMs {
		body["override_config"] = map[string]any{"require_signed": true}
	}

	var resp spawnedTasks
	path := fmt.Sprintf("%s/repositories/%s/actions/associate/", apiPrefix, dest.ID())
	if err := c.do(ctx, http.MethodPost, path, body, &resp); err != nil {
		return nil, err
	}
	return c.awaitTasks(ctx, resp)
}

func (c *Client) UpdateContent(ctx context.Context, unit pulp.Unit) error {
	unitID, delta, err := updateDelta(unit)
	if err != nil {
		return err
	}

	path := fmt.Sprintf("%s/content/units/%s/%s/", apiPrefix, unit.Type(), unitID)
	return c.do(ctx, http.MethodPut, path, map[string]any{"delta": delta}, nil)
}

// do performs one bounded request with JSON request/response bodies.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer c.sem.Release(1)

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}

	u := *c.base
	u.Path = strings.TrimSuffix(u.Path, "/") + path

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Client-Request-Id", uuid.NewString())
	if c.cfg.Username != "" {
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &httpError{status: resp.StatusCode, method: method, path: path, detail: string(detail)}
	}

	if out == nil {
		_, err = io.Copy(io.Discard, resp.Body)
		return err
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type httpError struct {
	status int
	method string
	path   string
	detail string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("pulphttp: %s %s: HTTP %d: %s", e.method, e.path, e.status, e.detail)
}

func isNotFound(err error) bool {
	he, ok := err.(*httpError)
	return ok && he.status == http.StatusNotFound
}

type spawnedTasks struct {
	SpawnedTasks []struct {
		TaskID string `json:"task_id"`
	} `json:"spawned_tasks"`
}

type taskDoc struct {
	TaskID string `json:"task_id"`
	State  string `json:"state"`
	Error  *struct {
		Description string `json:"description"`
	} `json:"error"`
	Result *struct {
		UnitsSuccessful []unitDoc `json:"units_successful"`
	} `json:"result"`
}

// awaitTasks polls every spawned task until completion, with exponential
// backoff between polls.
func (c *Client) awaitTasks(ctx context.Context, spawned spawnedTasks) ([]*pulp.Task, error) {
	out := make([]*pulp.Task, 0, len(spawned.SpawnedTasks))
	for _, st := range spawned.SpawnedTasks {
		task, err := c.awaitTask(ctx, st.TaskID)
		if err != nil {
			return nil, err
		}
		out = append(out, task)
	}
	return out, nil
}

func (c *Client) awaitTask(ctx context.Context, taskID string) (*pulp.Task, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = c.cfg.TaskPollMax

	var doc taskDoc
	poll := func() error {
		path := fmt.Sprintf("%s/tasks/%s/", apiPrefix, taskID)
		if err := c.do(ctx, http.MethodGet, path, nil, &doc); err != nil {
			return backoff.Permanent(err)
		}
		switch doc.State {
		case "finished":
			return nil
		case "error", "canceled":
			reason := doc.State
			if doc.Error != nil {
				reason = doc.Error.Description
			}
			return backoff.Permanent(&pulp.TaskFailedError{TaskID: taskID, Reason: reason})
		default:
			return fmt.Errorf("task %s still %s", taskID, doc.State)
		}
	}

	if err := backoff.Retry(poll, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}

	task := &pulp.Task{ID: taskID}
	if doc.Result != nil {
		for _, ud := range doc.Result.UnitsSuccessful {
			unit, err := ud.toUnit(pulp.UnitType(ud.TypeID))
			if err != nil {
				c.log.Debug("ignoring unparseable task result unit", zap.String("task", taskID))
				continue
			}
			task.Units = append(task.Units, unit)
		}
	}
	return task, nil
}

// uploadRequest drives the Pulp 2 three-step upload: create an upload
// request, send the file, then import into the target repo.
func (c *Client) uploadRequest(ctx context.Context, repoID, unitTypeID, src string, unitKey, unitMetadata map[string]any) (*pulp.Task, error) {
	var created struct {
		UploadID string `json:"upload_id"`
	}
	if err := c.do(ctx, http.MethodPost, apiPrefix+"/content/uploads/", map[string]any{}, &created); err != nil {
		return nil, err
	}
	// Best effort cleanup of the upload request itself.
	defer func() {
		path := fmt.Sprintf("%s/content/uploads/%s/", apiPrefix, created.UploadID)
		_ = c.do(context.WithoutCancel(ctx), http.MethodDelete, path, nil, nil)
	}()

	if src != "" {
		if err := c.sendFile(ctx, created.UploadID, src); err != nil {
			return nil, err
		}
	}

	body := map[string]any{
		"upload_id":     created.UploadID,
		"unit_type_id":  unitTypeID,
		"unit_key":      unitKey,
		"unit_metadata": unitMetadata,
	}
	var resp spawnedTasks
	path := fmt.Sprintf("%s/repositories/%s/actions/import_upload/", apiPrefix, repoID)
	if err := c.do(ctx, http.MethodPost, path, body, &resp); err != nil {
		return nil, err
	}

	tasks, err := c.awaitTasks(ctx, resp)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return &pulp.Task{}, nil
	}
	return tasks[0], nil
}

const uploadChunkSize = 1 << 20

func (c *Client) sendFile(ctx context.Context, uploadID, src string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	buf := make([]byte, uploadChunkSize)
	offset := int64(0)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			if err := c.sendChunk(ctx, uploadID, offset, buf[:n]); err != nil {
				return err
			}
			offset += int64(n)
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (c *Client) sendChunk(ctx context.Context, uploadID string, offset int64, chunk []byte) error {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer c.sem.Release(1)

	u := *c.base
	u.Path = strings.TrimSuffix(u.Path, "/") +
		fmt.Sprintf("%s/content/uploads/%s/%d/", apiPrefix, uploadID, offset)

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u.String(), bytes.NewReader(chunk))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if c.cfg.Username != "" {
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return &httpError{status: resp.StatusCode, method: http.MethodPut, path: u.Path}
	}
	_, err = io.Copy(io.Discard, resp.Body)
	return err
}
