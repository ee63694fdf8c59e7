package server

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"localrag/internal/llm"
	"localrag/internal/models"
	"localrag/internal/pipeline"
	"localrag/internal/vectorstore"
	"localrag/internal/version"
)

// AskRunner runs one question through the RAG pipeline.
type AskRunner interface {
	Run(ctx context.Context, cfg pipeline.Config, question string) models.RAGResult
}

// Indexer builds and refreshes the vector store for a folder.
type Indexer interface {
	LoadOrCreate(ctx context.Context, folder string) (vectorstore.Store, error)
	Update(ctx context.Context, folder string, st vectorstore.Store) error
}

// API is the local HTTP surface a desktop shell talks to. One question is
// in flight at a time; a second ask while one runs gets 409.
type API struct {
	cfg    pipeline.Config
	runner AskRunner
	idx    Indexer
	lister llm.ModelLister
	logger *zap.Logger
	mu     sync.Mutex
}

func New(cfg pipeline.Config, runner AskRunner, idx Indexer, lister llm.ModelLister, logger *zap.Logger) *API {
	return &API{cfg: cfg, runner: runner, idx: idx, lister: lister, logger: logger}
}

func (a *API) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", a.handleHealth)
	mux.HandleFunc("POST /ask", a.handleAsk)
	mux.HandleFunc("POST /index", a.handleIndex)
	mux.HandleFunc("GET /models", a.handleModels)
	return mux
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": version.Version})
}

func (a *API) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Question string `json:"question"`
		Folder   string `json:"folder,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Question == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "question is required"})
		return
	}
	if !a.mu.TryLock() {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "another question is already in flight"})
		return
	}
	defer a.mu.Unlock()

	cfg := a.cfg
	if req.Folder != "" {
		cfg.FolderPath = req.Folder
	}
	res := a.runner.Run(r.Context(), cfg, req.Question)
	status := http.StatusOK
	if res.Err != "" {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, res)
}

func (a *API) handleIndex(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Folder string `json:"folder,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	folder := req.Folder
	if folder == "" {
		folder = a.cfg.FolderPath
	}
	if folder == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "folder is required"})
		return
	}
	if !a.mu.TryLock() {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "another operation is already in flight"})
		return
	}
	defer a.mu.Unlock()

	st, err := a.idx.LoadOrCreate(r.Context(), folder)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	}
	defer st.Close()
	if err := a.idx.Update(r.Context(), folder, st); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "folder": folder})
}

func (a *API) handleModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{
		"llm":       a.lister.ListModels(r.Context(), llm.FilterLLM),
		"embedding": a.lister.ListModels(r.Context(), llm.FilterEmbedding),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Run serves the API until SIGINT/SIGTERM, then shuts down gracefully.
func Run(addr string, api *API) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	api.logger.Info("server listening", zap.String("addr", addr))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}
}
