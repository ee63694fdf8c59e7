package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"

	"localrag/internal/llm"
	"localrag/internal/models"
	"localrag/internal/pipeline"
	"localrag/internal/vectorstore"
)

type fakeRunner struct {
	mu      sync.Mutex
	result  models.RAGResult
	started chan struct{}
	release chan struct{}
	lastCfg pipeline.Config
}

func (f *fakeRunner) Run(ctx context.Context, cfg pipeline.Config, question string) models.RAGResult {
	f.mu.Lock()
	f.lastCfg = cfg
	f.mu.Unlock()
	if f.started != nil {
		f.started <- struct{}{}
		<-f.release
	}
	return f.result
}

type fakeIndexer struct {
	store vectorstore.Store
	err   error
}

func (f *fakeIndexer) LoadOrCreate(ctx context.Context, folder string) (vectorstore.Store, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.store, nil
}

func (f *fakeIndexer) Update(ctx context.Context, folder string, st vectorstore.Store) error {
	return nil
}

type fakeLister struct{}

func (fakeLister) ListModels(ctx context.Context, filter llm.ModelFilter) []string {
	if filter == llm.FilterEmbedding {
		return []string{"mxbai-embed-large:latest"}
	}
	return []string{"llama3.2:3b-instruct-fp16"}
}

func newTestAPI(runner *fakeRunner) *API {
	return New(
		pipeline.Config{FolderPath: "/docs", TopK: 5},
		runner,
		&fakeIndexer{store: vectorstore.NewMemory()},
		fakeLister{},
		zap.NewNop(),
	)
}

func TestHealth(t *testing.T) {
	api := newTestAPI(&fakeRunner{})
	rec := httptest.NewRecorder()
	api.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" || body["version"] == "" {
		t.Errorf("body = %v", body)
	}
}

func TestAsk(t *testing.T) {
	runner := &fakeRunner{result: models.RAGResult{
		Generation: "Paris.",
		Sources:    []models.Source{{FileName: "france.txt", FilePath: "/docs/france.txt"}},
	}}
	api := newTestAPI(runner)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/ask", strings.NewReader(`{"question":"capital of France?"}`))
	api.Routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var res models.RAGResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if res.Generation != "Paris." || len(res.Sources) != 1 {
		t.Errorf("result = %+v", res)
	}
	if runner.lastCfg.FolderPath != "/docs" {
		t.Errorf("folder = %q", runner.lastCfg.FolderPath)
	}
}

func TestAskFolderOverride(t *testing.T) {
	runner := &fakeRunner{}
	api := newTestAPI(runner)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/ask", strings.NewReader(`{"question":"q","folder":"/other"}`))
	api.Routes().ServeHTTP(rec, req)
	if runner.lastCfg.FolderPath != "/other" {
		t.Errorf("folder = %q, want /other", runner.lastCfg.FolderPath)
	}
}

func TestAskMissingQuestion(t *testing.T) {
	api := newTestAPI(&fakeRunner{})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/ask", strings.NewReader(`{}`))
	api.Routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestAskErrorResult(t *testing.T) {
	api := newTestAPI(&fakeRunner{result: models.RAGResult{Err: "No folder selected. Please select a folder first."}})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/ask", strings.NewReader(`{"question":"q"}`))
	api.Routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", rec.Code)
	}
}

func TestAskRejectsConcurrentRun(t *testing.T) {
	runner := &fakeRunner{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	api := newTestAPI(runner)
	mux := api.Routes()

	done := make(chan struct{})
	go func() {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/ask", strings.NewReader(`{"question":"slow"}`))
		mux.ServeHTTP(rec, req)
		close(done)
	}()
	<-runner.started

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/ask", strings.NewReader(`{"question":"second"}`))
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}

	close(runner.release)
	<-done
}

func TestIndex(t *testing.T) {
	api := newTestAPI(&fakeRunner{})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/index", strings.NewReader(`{"folder":"/docs"}`))
	api.Routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
}

func TestIndexNoFolder(t *testing.T) {
	api := New(pipeline.Config{}, &fakeRunner{}, &fakeIndexer{}, fakeLister{}, zap.NewNop())
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/index", strings.NewReader(`{}`))
	api.Routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestModels(t *testing.T) {
	api := newTestAPI(&fakeRunner{})
	rec := httptest.NewRecorder()
	api.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/models", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string][]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body["llm"]) != 1 || len(body["embedding"]) != 1 {
		t.Errorf("body = %v", body)
	}
}
