// Copyright 2023 The emqx-go Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ok(context.Context) error { return nil }

func failing(context.Context) error { return errors.New("down") }

func TestRunAllPassing(t *testing.T) {
	c := NewChecker("node-1")
	c.Register("a", ok, true)
	c.Register("b", ok, false)

	status := c.Run(context.Background())
	assert.True(t, status.Healthy())
	assert.Equal(t, "node-1", status.Node)
	assert.Len(t, status.Checks, 2)
	assert.Equal(t, "passed", status.Checks["a"].Status)
	assert.Positive(t, status.Goroutines)
	assert.Positive(t, status.MemoryUsed)
}

func TestNonCriticalFailureKeepsHealthy(t *testing.T) {
	c := NewChecker("n")
	c.Register("optional", failing, false)

	status := c.Run(context.Background())
	assert.True(t, status.Healthy())
	assert.Equal(t, CheckResult{Status: "failed", Message: "down"}, status.Checks["optional"])
}

func TestCriticalFailure(t *testing.T) {
	c := NewChecker("n")
	c.Register("backend", failing, true)

	status := c.Run(context.Background())
	assert.False(t, status.Healthy())
	assert.Equal(t, "unhealthy", status.Status)

	c.Register("backend", ok, true)
	assert.True(t, c.Run(context.Background()).Healthy())
}

func TestChecksGetADeadline(t *testing.T) {
	c := NewChecker("n")
	c.Register("deadline", func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); !ok {
			return errors.New("no deadline")
		}
		return nil
	}, true)
	assert.True(t, c.Run(context.Background()).Healthy())
}

func TestRoutes(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	c := NewChecker("n")
	c.Register("switch", func(context.Context) error {
		if healthy.Load() {
			return nil
		}
		return errors.New("off")
	}, true)

	mux := http.NewServeMux()
	c.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	get := func(path string) *http.Response {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	assert.Equal(t, http.StatusOK, get("/health/live").StatusCode)
	assert.Equal(t, http.StatusOK, get("/health/ready").StatusCode)

	resp := get("/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	var status Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, "passed", status.Checks["switch"].Status)

	healthy.Store(false)
	assert.Equal(t, http.StatusServiceUnavailable, get("/health/ready").StatusCode)
	assert.Equal(t, http.StatusServiceUnavailable, get("/health").StatusCode)
	assert.Equal(t, http.StatusOK, get("/health/live").StatusCode)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/health", nil)
	require.NoError(t, err)
	postResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	postResp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, postResp.StatusCode)
}
