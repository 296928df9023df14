package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/mediascout/internal/dedupe"
	"github.com/sells-group/mediascout/internal/extract"
	"github.com/sells-group/mediascout/internal/model"
	"github.com/sells-group/mediascout/internal/orchestrator"
	"github.com/sells-group/mediascout/internal/scrape"
	"github.com/sells-group/mediascout/internal/store"
	"github.com/sells-group/mediascout/internal/throttle"
	"github.com/sells-group/mediascout/pkg/jina"
)

const staffPage = `# Newsroom

Maria Keller - Climate Reporter
Email: maria.keller@daily-planet.test
`

type stubQueryGen struct{}

func (stubQueryGen) Generate(_ context.Context, _ model.SearchConfiguration) ([]model.GeneratedQuery, error) {
	return []model.GeneratedQuery{{Text: "newsroom staff directory", Type: model.QueryBase}}, nil
}

type stubSearcher struct{}

func (stubSearcher) Search(_ context.Context, _ string, _ int) (*jina.SearchResponse, error) {
	return &jina.SearchResponse{Code: 200, Data: []jina.SearchHit{
		{URL: "https://daily-planet.test/staff", Title: "Newsroom", Description: "Our reporters"},
	}}, nil
}

type stubScraper struct{}

func (stubScraper) Scrape(_ context.Context, url string) (*scrape.Result, error) {
	return &scrape.Result{
		Page:   scrape.Page{URL: url, Title: "Newsroom", Markdown: staffPage, StatusCode: 200},
		Source: "local_http",
	}, nil
}

func newTestEnv(t *testing.T) *appEnv {
	t.Helper()

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "mediascout.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })

	throttler := throttle.New(throttle.Config{
		RequestsPerSecond: 100,
		RequestsPerMinute: 1000,
		RequestsPerHour:   10000,
		MinDelay:          time.Millisecond,
	})

	orch := orchestrator.New(
		orchestrator.DefaultConfig(),
		st,
		stubQueryGen{},
		stubSearcher{},
		stubScraper{},
		extract.New(nil, extract.StrategyRuleBased),
		dedupe.New(dedupe.Config{}),
		throttler,
	)

	return &appEnv{Store: st, Orchestrator: orch, Throttler: throttler}
}

func TestRouter_Health(t *testing.T) {
	router := newRouter(context.Background(), newTestEnv(t))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")

	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestRouter_CreateSearch_InvalidJSON(t *testing.T) {
	router := newRouter(context.Background(), newTestEnv(t))

	req := httptest.NewRequest(http.MethodPost, "/searches", bytes.NewReader([]byte("{not json")))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "invalid request body")
}

func TestRouter_CreateSearch_EmptyCriteria(t *testing.T) {
	router := newRouter(context.Background(), newTestEnv(t))

	body, _ := json.Marshal(map[string]any{"user_id": "u1", "config": map[string]any{}})
	req := httptest.NewRequest(http.MethodPost, "/searches", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "empty search criteria")
}

func TestRouter_SearchFlow(t *testing.T) {
	env := newTestEnv(t)
	router := newRouter(context.Background(), env)

	payload := map[string]any{
		"user_id": "u1",
		"config": map[string]any{
			"criteria": map[string]any{
				"query": "climate journalists germany",
				"beats": []string{"climate"},
			},
		},
	}
	body, _ := json.Marshal(payload)

	req := httptest.NewRequest(http.MethodPost, "/searches", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusAccepted, rr.Code)
	var accepted map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &accepted))
	id := accepted["search_id"]
	require.NotEmpty(t, id)

	require.Eventually(t, func() bool {
		job, err := env.Store.GetSearch(context.Background(), id)
		return err == nil && job.Stage.Terminal()
	}, 10*time.Second, 20*time.Millisecond, "search never reached a terminal stage")

	getReq := httptest.NewRequest(http.MethodGet, "/searches/"+id, nil)
	getRR := httptest.NewRecorder()
	router.ServeHTTP(getRR, getReq)

	require.Equal(t, http.StatusOK, getRR.Code)
	var got struct {
		Search   model.SearchJob          `json:"search"`
		Contacts []model.ExtractedContact `json:"contacts"`
	}
	require.NoError(t, json.Unmarshal(getRR.Body.Bytes(), &got))
	assert.Equal(t, model.StageCompleted, got.Search.Stage)
	require.Len(t, got.Contacts, 1)
	assert.Equal(t, "Maria Keller", got.Contacts[0].Name)

	listReq := httptest.NewRequest(http.MethodGet, "/searches?user_id=u1", nil)
	listRR := httptest.NewRecorder()
	router.ServeHTTP(listRR, listReq)

	require.Equal(t, http.StatusOK, listRR.Code)
	var list struct {
		Searches []model.SearchJob `json:"searches"`
	}
	require.NoError(t, json.Unmarshal(listRR.Body.Bytes(), &list))
	assert.Len(t, list.Searches, 1)
}

func TestRouter_GetSearch_Unknown(t *testing.T) {
	router := newRouter(context.Background(), newTestEnv(t))

	req := httptest.NewRequest(http.MethodGet, "/searches/nope", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRouter_CancelSearch_Unknown(t *testing.T) {
	router := newRouter(context.Background(), newTestEnv(t))

	req := httptest.NewRequest(http.MethodPost, "/searches/nope/cancel", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRouter_CancelSearch_Pending(t *testing.T) {
	env := newTestEnv(t)
	router := newRouter(context.Background(), env)

	cfg := model.SearchConfiguration{
		Criteria: model.SearchCriteria{Query: "tech editors"},
	}
	id, err := env.Orchestrator.Start(context.Background(), cfg, "u1")
	require.NoError(t, err)

	body, _ := json.Marshal(map[string]string{"reason": "changed my mind"})
	req := httptest.NewRequest(http.MethodPost, "/searches/"+id+"/cancel", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	job, err := env.Store.GetSearch(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.StageCancelled, job.Stage)
	assert.Equal(t, "changed my mind", job.CancelReason)
}

func TestRouter_ThrottleSnapshot(t *testing.T) {
	router := newRouter(context.Background(), newTestEnv(t))

	req := httptest.NewRequest(http.MethodGet, "/throttle", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	var snapshot map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &snapshot))
}
