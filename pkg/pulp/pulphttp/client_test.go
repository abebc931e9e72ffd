package pulphttp

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/release-engineering/pulp-push/pkg/logger"
	"github.com/release-engineering/pulp-push/pkg/pulp"
)

func newTestClient(t *testing.T, handler http.Handler, mutate func(*Config)) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := Config{
		URL:      srv.URL,
		Username: "admin",
		Password: "hunter2",
		RetryMax: 1,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	client, err := NewClient(cfg, logger.NewNoopLogger())
	require.NoError(t, err)
	return client
}

func TestSearchContent(t *testing.T) {
	var gotBody []byte
	var gotUser, gotPass string

	mux := http.NewServeMux()
	mux.HandleFunc("/pulp/api/v2/content/units/rpm/search/", func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotUser, gotPass, _ = r.BasicAuth()
		fmt.Fprint(w, `[{
			"_id": "unit-1",
			"name": "bash-5.0-1.el8.x86_64.rpm",
			"checksums": {"sha256": "aabb"},
			"repository_memberships": ["all-rpm-content", "repo-a"],
			"pulp_user_metadata": {
				"signing_key": "key1",
				"cdn_path": "/content/origin/rpms/bash/5.0/1.el8/key1/bash-5.0-1.el8.x86_64.rpm"
			}
		}]`)
	})

	client := newTestClient(t, mux, nil)
	crit := pulp.And(pulp.WithUnitType(pulp.RPMUnitType), pulp.WithField("sha256sum", "aabb"))

	units, err := client.SearchContent(context.Background(), crit)
	require.NoError(t, err)
	require.Len(t, units, 1)

	unit := units[0].(*pulp.RPMUnit)
	require.Equal(t, "unit-1", unit.UnitID)
	require.Equal(t, "bash-5.0-1.el8.x86_64.rpm", unit.Name)
	require.Equal(t, "aabb", unit.SHA256Sum)
	require.Equal(t, "key1", unit.SigningKey)
	require.Equal(t, []string{"all-rpm-content", "repo-a"}, unit.RepositoryMemberships)

	// The unit type selects the endpoint; only field predicates appear
	// in the wire filters.
	require.JSONEq(t, `{"criteria": {"filters": {"sha256sum": "aabb"}}}`, string(gotBody))
	require.Equal(t, "admin", gotUser)
	require.Equal(t, "hunter2", gotPass)
}

func TestSearchContentRequiresUnitType(t *testing.T) {
	client := newTestClient(t, http.NewServeMux(), nil)

	_, err := client.SearchContent(context.Background(), pulp.WithField("sha256sum", "aabb"))
	require.ErrorContains(t, err, "without unit type")
}

func TestGetRepository(t *testing.T) {
	var testcases = map[string]struct {
		repoID  string
		status  int
		body    string
		wantErr error
	}{
		`found`: {
			repoID: "repo-a",
			status: http.StatusOK,
			body:   `{"id": "repo-a"}`,
		},
		`missing`: {
			repoID:  "no-such-repo",
			status:  http.StatusNotFound,
			body:    `{"error_message": "not found"}`,
			wantErr: pulp.ErrRepositoryNotFound,
		},
	}

	for name, tc := range testcases {
		t.Run(name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("/pulp/api/v2/repositories/", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				fmt.Fprint(w, tc.body)
			})
			client := newTestClient(t, mux, nil)

			repo, err := client.GetRepository(context.Background(), tc.repoID)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.repoID, repo.ID())
		})
	}
}

func TestCopyContentAwaitsTask(t *testing.T) {
	var testcases = map[string]struct {
		// task states served in order; the last repeats
		states    []string
		taskBody  string
		wantUnits int
		wantErr   string
	}{
		`finishes_after_poll`: {
			states: []string{"running", "finished"},
			taskBody: `{
				"task_id": "task-1",
				"state": "finished",
				"result": {"units_successful": [{
					"_content_type_id": "rpm",
					"_id": "unit-1",
					"name": "bash-5.0-1.el8.x86_64.rpm",
					"checksums": {"sha256": "aabb"}
				}]}
			}`,
			wantUnits: 1,
		},
		`task_error`: {
			states:   []string{"error"},
			taskBody: `{"task_id": "task-1", "state": "error", "error": {"description": "worker died"}}`,
			wantErr:  "worker died",
		},
	}

	for name, tc := range testcases {
		t.Run(name, func(t *testing.T) {
			var polls atomic.Int32

			mux := http.NewServeMux()
			mux.HandleFunc("/pulp/api/v2/repositories/repo-a/actions/associate/", func(w http.ResponseWriter, _ *http.Request) {
				fmt.Fprint(w, `{"spawned_tasks": [{"task_id": "task-1"}]}`)
			})
			mux.HandleFunc("/pulp/api/v2/tasks/task-1/", func(w http.ResponseWriter, _ *http.Request) {
				n := int(polls.Add(1)) - 1
				if n >= len(tc.states) {
					n = len(tc.states) - 1
				}
				if tc.states[n] == tc.states[len(tc.states)-1] {
					fmt.Fprint(w, tc.taskBody)
					return
				}
				fmt.Fprintf(w, `{"task_id": "task-1", "state": %q}`, tc.states[n])
			})

			client := newTestClient(t, mux, nil)
			src := &repository{client: client, id: "all-rpm-content"}
			dest := &repository{client: client, id: "repo-a"}
			crit := pulp.WithField("sha256sum", "aabb")

			tasks, err := client.CopyContent(context.Background(), src, dest, crit, pulp.CopyOptions{})
			if tc.wantErr != "" {
				var failed *pulp.TaskFailedError
				require.ErrorAs(t, err, &failed)
				require.Equal(t, "task-1", failed.TaskID)
				require.Contains(t, failed.Reason, tc.wantErr)
				return
			}
			require.NoError(t, err)
			require.Len(t, tasks, 1)
			require.Len(t, tasks[0].Units, tc.wantUnits)
			require.GreaterOrEqual(t, int(polls.Load()), len(tc.states))
		})
	}
}

func TestUploadRPMSequence(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "bash-5.0-1.el8.x86_64.rpm")
	content := []byte("rpm bytes")
	require.NoError(t, os.WriteFile(src, content, 0o600))

	var mu sync.Mutex
	var sequence []string
	var chunk []byte
	var importBody []byte

	record := func(r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		sequence = append(sequence, r.Method+" "+r.URL.Path)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/pulp/api/v2/content/uploads/", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		switch r.Method {
		case http.MethodPost:
			fmt.Fprint(w, `{"upload_id": "upload-1"}`)
		case http.MethodPut:
			body, _ := io.ReadAll(r.Body)
			mu.Lock()
			chunk = body
			mu.Unlock()
		case http.MethodDelete:
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/pulp/api/v2/repositories/all-rpm-content/actions/import_upload/", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		importBody, _ = io.ReadAll(r.Body)
		fmt.Fprint(w, `{"spawned_tasks": [{"task_id": "task-1"}]}`)
	})
	mux.HandleFunc("/pulp/api/v2/tasks/task-1/", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		fmt.Fprint(w, `{"task_id": "task-1", "state": "finished"}`)
	})

	client := newTestClient(t, mux, nil)
	repo := &repository{client: client, id: "all-rpm-content"}

	task, err := repo.UploadRPM(context.Background(), src, pulp.UploadRPMOptions{
		CdnPath: "/content/origin/rpms/bash/5.0/1.el8/key1/bash-5.0-1.el8.x86_64.rpm",
	})
	require.NoError(t, err)
	require.Equal(t, "task-1", task.ID)

	require.Equal(t, []string{
		"POST /pulp/api/v2/content/uploads/",
		"PUT /pulp/api/v2/content/uploads/upload-1/0/",
		"POST /pulp/api/v2/repositories/all-rpm-content/actions/import_upload/",
		"GET /pulp/api/v2/tasks/task-1/",
		"DELETE /pulp/api/v2/content/uploads/upload-1/",
	}, sequence)
	require.Equal(t, content, chunk)
	require.Contains(t, string(importBody), `"unit_type_id":"rpm"`)
	require.Contains(t, string(importBody), "cdn_path")
}

func TestRequestConcurrencyBounded(t *testing.T) {
	var inflight, peak atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/pulp/api/v2/repositories/", func(w http.ResponseWriter, _ *http.Request) {
		n := inflight.Add(1)
		defer inflight.Add(-1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		// Long enough that unbounded requests would overlap.
		time.Sleep(20 * time.Millisecond)
		fmt.Fprint(w, `{"id": "repo-a"}`)
	})

	client := newTestClient(t, mux, func(cfg *Config) {
		cfg.MaxConcurrency = 1
	})

	errs := make(chan error, 8)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.GetRepository(context.Background(), "repo-a")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, int32(1), peak.Load())
}
