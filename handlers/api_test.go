// Copyright (C) 2025 Nirman AI (deveshjha247@gmail.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deveshjha247/Nirman/controller"
	"github.com/deveshjha247/Nirman/datatypes"
	"github.com/deveshjha247/Nirman/events"
	"github.com/deveshjha247/Nirman/genai"
	"github.com/deveshjha247/Nirman/planner"
	"github.com/deveshjha247/Nirman/renderer"
	"github.com/deveshjha247/Nirman/storage/badgerstore"
)

type failingGenerator struct{}

func (failingGenerator) Generate(context.Context, genai.Request) (genai.Response, error) {
	return genai.Response{}, errors.New("provider unreachable")
}

type testAPI struct {
	api    *API
	ctrl   *controller.Controller
	store  *badgerstore.Store
	bus    *events.Bus
	engine *gin.Engine
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := badgerstore.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := badgerstore.NewStore(db)
	bus := events.NewBus()
	router := genai.NewRouter(map[string]genai.Generator{
		genai.ProviderOpenAI: failingGenerator{},
		genai.ProviderClaude: failingGenerator{},
		genai.ProviderGemini: failingGenerator{},
	})

	ctrl, err := controller.New(controller.Config{
		Store:    store,
		Emitter:  events.NewEmitter(store, bus),
		Bus:      bus,
		Planner:  planner.New(router, store, nil),
		Renderer: renderer.New(router, nil),
	})
	require.NoError(t, err)

	api := NewAPI(ctrl, store, bus, nil)
	api.keepAliveInterval = 50 * time.Millisecond

	engine := gin.New()
	registerTestRoutes(engine, api)
	return &testAPI{api: api, ctrl: ctrl, store: store, bus: bus, engine: engine}
}

// registerTestRoutes mirrors routes.SetupRoutes without the otel
// middleware (the routes package depends on handlers, not vice versa).
func registerTestRoutes(engine *gin.Engine, api *API) {
	engine.GET("/healthz", api.HandleHealth)
	v1 := engine.Group("/v1")
	v1.POST("/build", api.HandleBuild)
	v1.GET("/jobs/:id", api.HandleGetJob)
	v1.GET("/jobs/:id/events", api.HandleJobEvents)
	v1.GET("/jobs/:id/stream", api.HandleStream)
	v1.POST("/jobs/:id/cancel", api.HandleCancel)
	v1.GET("/artifacts/:id", api.HandleGetArtifact)
	v1.GET("/projects/:id/specs", api.HandleProjectSpecs)
	v1.GET("/learning/preferences/:user_id", api.HandleGetPreferences)
	v1.GET("/learning/insights/:user_id", api.HandleGetInsights)
	v1.GET("/learning/config/:user_id", api.HandleGetLearningConfig)
	v1.PUT("/learning/config/:user_id", api.HandlePutLearningConfig)
}

func (ta *testAPI) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ta.engine.ServeHTTP(rec, req)
	return rec
}

// buildAndWait submits a build and waits for its pipeline to finish.
func (ta *testAPI) buildAndWait(t *testing.T, prompt string) string {
	t.Helper()
	rec := ta.do(t, http.MethodPost, "/v1/build", datatypes.BuildRequest{Prompt: prompt})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp datatypes.BuildResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	ta.ctrl.Wait()
	return resp.JobID
}

func TestHandleHealth(t *testing.T) {
	ta := newTestAPI(t)
	rec := ta.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleBuild(t *testing.T) {
	ta := newTestAPI(t)

	rec := ta.do(t, http.MethodPost, "/v1/build", datatypes.BuildRequest{Prompt: "landing page"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp datatypes.BuildResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.JobID)
	assert.Equal(t, datatypes.JobQueued, resp.Status)
	assert.Equal(t, "/v1/jobs/"+resp.JobID+"/stream", resp.StreamURL)
	ta.ctrl.Wait()
}

func TestHandleBuild_EmptyPromptRejected(t *testing.T) {
	ta := newTestAPI(t)
	rec := ta.do(t, http.MethodPost, "/v1/build", datatypes.BuildRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleGetJob(t *testing.T) {
	ta := newTestAPI(t)
	jobID := ta.buildAndWait(t, "portfolio page")

	rec := ta.do(t, http.MethodGet, "/v1/jobs/"+jobID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var job datatypes.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, datatypes.JobSuccess, job.Status)
	assert.Equal(t, datatypes.MaxProgress, job.Progress)

	rec = ta.do(t, http.MethodGet, "/v1/jobs/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleJobEvents(t *testing.T) {
	ta := newTestAPI(t)
	jobID := ta.buildAndWait(t, "pricing page")

	rec := ta.do(t, http.MethodGet, "/v1/jobs/"+jobID+"/events", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Events []datatypes.BuildEvent `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Events)
	assert.Equal(t, datatypes.EventJobStarted, resp.Events[0].Type)
	assert.Equal(t, datatypes.EventJobCompleted, resp.Events[len(resp.Events)-1].Type)

	rec = ta.do(t, http.MethodGet, "/v1/jobs/missing/events", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleCancel(t *testing.T) {
	ta := newTestAPI(t)
	ctx := context.Background()

	job := &datatypes.Job{ID: "job-1", Prompt: "p", Status: datatypes.JobQueued}
	require.NoError(t, ta.store.CreateJob(ctx, job))

	rec := ta.do(t, http.MethodPost, "/v1/jobs/job-1/cancel", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Second cancel is a 200 no-op.
	rec = ta.do(t, http.MethodPost, "/v1/jobs/job-1/cancel", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ta.do(t, http.MethodPost, "/v1/jobs/missing/cancel", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleCancel_FinishedJobConflicts(t *testing.T) {
	ta := newTestAPI(t)
	jobID := ta.buildAndWait(t, "about page")

	rec := ta.do(t, http.MethodPost, "/v1/jobs/"+jobID+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), string(datatypes.JobSuccess))
}

func TestHandleGetArtifact(t *testing.T) {
	ta := newTestAPI(t)
	jobID := ta.buildAndWait(t, "docs site")

	job, err := ta.store.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	require.NotEmpty(t, job.ArtifactID)

	rec := ta.do(t, http.MethodGet, "/v1/artifacts/"+job.ArtifactID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "<html")

	rec = ta.do(t, http.MethodGet, "/v1/artifacts/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleProjectSpecs(t *testing.T) {
	ta := newTestAPI(t)

	rec := ta.do(t, http.MethodPost, "/v1/build", datatypes.BuildRequest{
		Prompt: "saas landing", ProjectID: "proj-1",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	ta.ctrl.Wait()

	rec = ta.do(t, http.MethodGet, "/v1/projects/proj-1/specs", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Versions []datatypes.SpecVersion `json:"versions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Versions, 1)

	rec = ta.do(t, http.MethodGet, "/v1/projects/empty/specs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"versions":[]`)
}

func TestHandleStream_FinishedJobReplaysAndEnds(t *testing.T) {
	ta := newTestAPI(t)
	jobID := ta.buildAndWait(t, "bakery site")

	rec := ta.do(t, http.MethodGet, "/v1/jobs/"+jobID+"/stream", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Contains(t, body, "event: JOB_STARTED\n")
	assert.Contains(t, body, "event: JOB_COMPLETED\n")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(body), `data: {"status":"SUCCESS"}`),
		"stream must end with a stream_end frame, got tail: %q", tail(body))

	rec = ta.do(t, http.MethodGet, "/v1/jobs/missing/stream", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleStream_LiveTail(t *testing.T) {
	ta := newTestAPI(t)
	ctx := context.Background()

	job := &datatypes.Job{ID: "job-live", Prompt: "p", Status: datatypes.JobQueued}
	require.NoError(t, ta.store.CreateJob(ctx, job))
	_, err := ta.store.TransitionJob(ctx, "job-live", datatypes.JobRunning, nil)
	require.NoError(t, err)

	emitter := events.NewEmitter(ta.store, ta.bus)
	_, err = emitter.Emit(ctx, datatypes.BuildEvent{
		JobID: "job-live", Type: datatypes.EventJobStarted, Message: "build started",
	})
	require.NoError(t, err)

	server := httptest.NewServer(ta.engine)
	defer server.Close()

	resp, err := http.Get(server.URL + "/v1/jobs/job-live/stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	scanner := bufio.NewScanner(resp.Body)
	lines := make(chan string, 64)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	requireLine(t, lines, "event: JOB_STARTED")

	// Emitted after attach: must arrive over the live channel.
	_, err = emitter.Emit(ctx, datatypes.BuildEvent{
		JobID: "job-live", Type: datatypes.EventCodegenStarted, Message: "generating",
	})
	require.NoError(t, err)
	requireLine(t, lines, "event: CODEGEN_STARTED")

	// Cancel closes the job's subscriptions and ends the stream.
	rec := ta.do(t, http.MethodPost, "/v1/jobs/job-live/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	requireLine(t, lines, "event: JOB_CANCELLED")
	requireLine(t, lines, "event: stream_end")
}

// requireLine waits for an exact line on the stream.
func requireLine(t *testing.T, lines <-chan string, want string) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				t.Fatalf("stream closed before line %q", want)
			}
			if line == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for line %q", want)
		}
	}
}

func tail(s string) string {
	if len(s) <= 120 {
		return s
	}
	return s[len(s)-120:]
}

func TestLearningConfigRoundTrip(t *testing.T) {
	ta := newTestAPI(t)

	// Defaults before any write.
	rec := ta.do(t, http.MethodGet, "/v1/learning/config/u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var cfg datatypes.LearningConfig
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cfg))
	assert.True(t, cfg.PersonalizationEnabled)
	assert.True(t, cfg.GlobalLearningEnabled)

	rec = ta.do(t, http.MethodPut, "/v1/learning/config/u1", learningConfigRequest{
		PersonalizationEnabled: false,
		GlobalLearningEnabled:  true,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ta.do(t, http.MethodGet, "/v1/learning/config/u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cfg))
	assert.False(t, cfg.PersonalizationEnabled)
}

func TestHandleGetPreferences_NotFound(t *testing.T) {
	ta := newTestAPI(t)
	rec := ta.do(t, http.MethodGet, "/v1/learning/preferences/u1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleGetInsights_EmptyProfile(t *testing.T) {
	ta := newTestAPI(t)
	rec := ta.do(t, http.MethodGet, "/v1/learning/insights/u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		TopSections  []string `json:"top_sections"`
		PatternCount int      `json:"pattern_count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.TopSections)
	assert.Zero(t, resp.PatternCount)
}
