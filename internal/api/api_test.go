package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meeting-insights-go/internal/api"
	"meeting-insights-go/internal/failure"
	"meeting-insights-go/internal/logger"
	"meeting-insights-go/internal/workflow"
)

type fakeEngine struct {
	started   []string
	instances map[string]*workflow.Instance
}

func (f *fakeEngine) Start(_ context.Context, input string) (string, error) {
	if input == "broken" {
		return "", failure.InvalidInput("workflow.Start", "audio reference is required")
	}
	f.started = append(f.started, input)
	id := fmt.Sprintf("inst-%d", len(f.started))
	f.instances[id] = &workflow.Instance{ID: id, Input: input, State: workflow.StateRunning, Stage: workflow.StageSubmit}
	return id, nil
}

func (f *fakeEngine) Status(_ context.Context, id string) (*workflow.Instance, error) {
	inst, ok := f.instances[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", workflow.ErrNotFound, id)
	}
	return inst, nil
}

func (f *fakeEngine) Cancel(_ context.Context, id string) error {
	inst, ok := f.instances[id]
	if !ok {
		return fmt.Errorf("%w: %s", workflow.ErrNotFound, id)
	}
	if inst.State.Terminal() {
		return fmt.Errorf("%w: %s is %s", workflow.ErrTerminal, id, inst.State)
	}
	inst.State = workflow.StateCancelled
	return nil
}

func setup(t *testing.T) (*fakeEngine, func(*http.Request) (*http.Response, []byte)) {
	t.Helper()
	eng := &fakeEngine{instances: map[string]*workflow.Instance{}}
	app := api.New(eng, logger.Discard()).App()

	return eng, func(req *http.Request) (*http.Response, []byte) {
		t.Helper()
		resp, err := app.Test(req)
		require.NoError(t, err)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp, body
	}
}

func TestStartMeeting(t *testing.T) {
	tests := []struct {
		name   string
		req    func() *http.Request
		status int
		input  string
	}{
		{
			name:   "post json",
			req:    func() *http.Request { return jsonRequest(http.MethodPost, "/api/meetings/start", `{"blobName":"standup.wav"}`) },
			status: http.StatusAccepted,
			input:  "standup.wav",
		},
		{
			name:   "post empty body uses default",
			req:    func() *http.Request { return httptest.NewRequest(http.MethodPost, "/api/meetings/start", nil) },
			status: http.StatusAccepted,
			input:  "",
		},
		{
			name:   "get with query",
			req:    func() *http.Request { return httptest.NewRequest(http.MethodGet, "/api/meetings/start?blobName=retro.mp3", nil) },
			status: http.StatusAccepted,
			input:  "retro.mp3",
		},
		{
			name:   "invalid json",
			req:    func() *http.Request { return jsonRequest(http.MethodPost, "/api/meetings/start", `{"blobName":`) },
			status: http.StatusBadRequest,
		},
		{
			name:   "path traversal",
			req:    func() *http.Request { return jsonRequest(http.MethodPost, "/api/meetings/start", `{"blobName":"../secret"}`) },
			status: http.StatusBadRequest,
		},
		{
			name:   "engine rejects input",
			req:    func() *http.Request { return jsonRequest(http.MethodPost, "/api/meetings/start", `{"blobName":"broken"}`) },
			status: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng, do := setup(t)
			resp, body := do(tt.req())
			assert.Equal(t, tt.status, resp.StatusCode, string(body))

			if tt.status != http.StatusAccepted {
				assert.Empty(t, eng.started)
				assert.Contains(t, resp.Header.Get("Content-Type"), "json")
				return
			}

			var out api.StartResponse
			require.NoError(t, json.Unmarshal(body, &out))
			assert.Equal(t, "inst-1", out.ID)
			assert.True(t, strings.HasSuffix(out.StatusURL, "/api/meetings/inst-1"), out.StatusURL)
			assert.Equal(t, []string{tt.input}, eng.started)
		})
	}
}

func TestGetMeeting(t *testing.T) {
	eng, do := setup(t)
	eng.instances["abc"] = &workflow.Instance{ID: "abc", State: workflow.StateFailed, Stage: workflow.StagePoll,
		Failure: &workflow.Failure{Stage: workflow.StagePoll, Kind: failure.KindTerminalProvider, Reason: "disk full"}}

	resp, body := do(httptest.NewRequest(http.MethodGet, "/api/meetings/abc", nil))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var inst workflow.Instance
	require.NoError(t, json.Unmarshal(body, &inst))
	assert.Equal(t, workflow.StateFailed, inst.State)
	assert.Equal(t, "disk full", inst.Failure.Reason)

	resp, body = do(httptest.NewRequest(http.MethodGet, "/api/meetings/missing", nil))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, string(body), "meeting_not_found")
}

func TestCancelMeeting(t *testing.T) {
	eng, do := setup(t)
	eng.instances["run"] = &workflow.Instance{ID: "run", State: workflow.StateRunning}
	eng.instances["done"] = &workflow.Instance{ID: "done", State: workflow.StateSucceeded}

	resp, _ := do(httptest.NewRequest(http.MethodPost, "/api/meetings/run/cancel", nil))
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, workflow.StateCancelled, eng.instances["run"].State)

	resp, _ = do(httptest.NewRequest(http.MethodPost, "/api/meetings/done/cancel", nil))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = do(httptest.NewRequest(http.MethodPost, "/api/meetings/nope/cancel", nil))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthz(t *testing.T) {
	_, do := setup(t)
	resp, body := do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}
