package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"localrag/internal/docs"
	"localrag/internal/llm"
	"localrag/internal/models"
)

// ErrWritePermission reports that the target folder cannot be written to.
// It is detected before any write attempt.
var ErrWritePermission = errors.New("no write permission for folder")

// ErrNoDocuments reports that the folder contains no supported documents.
var ErrNoDocuments = errors.New("no supported documents found in folder")

// ProgressFunc receives lifecycle progress events. Calls are synchronous
// and fire-and-forget; implementations must not block.
type ProgressFunc func(models.Progress)

// NopProgress discards progress events.
func NopProgress(models.Progress) {}

const storeFileName = "index.db"

// StorePath returns the reserved persisted-store location for a folder.
func StorePath(folder string) string {
	return filepath.Join(folder, docs.StoreDirName, storeFileName)
}

// Manager owns the on-disk vector store lifecycle: load-if-exists,
// create-if-absent, incrementally update, persist. One Manager call owns a
// folder's store files at a time; callers serialize concurrent access.
type Manager struct {
	loader      docs.Loader
	emb         llm.Embedder
	model       string
	concurrency int
	logger      *zap.Logger
	onProgress  ProgressFunc
}

func NewManager(loader docs.Loader, emb llm.Embedder, model string, logger *zap.Logger, onProgress ProgressFunc) *Manager {
	if onProgress == nil {
		onProgress = NopProgress
	}
	return &Manager{
		loader:      loader,
		emb:         emb,
		model:       model,
		concurrency: 4,
		logger:      logger,
		onProgress:  onProgress,
	}
}

// LoadOrCreate loads the persisted store for folder, rebuilding it when the
// persisted state does not answer a trivial probe (schema or embedding-model
// change), or creates and persists a fresh one when none exists.
func (m *Manager) LoadOrCreate(ctx context.Context, folder string) (Store, error) {
	if folder == "" {
		return nil, fmt.Errorf("no folder given")
	}
	tr := newTracker(m.onProgress)
	path := StorePath(folder)
	if _, err := os.Stat(path); err == nil {
		tr.emit(models.StatusLoading, "Loading existing vector store...", 0)
		st, err := m.loadExisting(ctx, folder, path, tr)
		if err == nil {
			return st, nil
		}
		m.logger.Warn("rebuilding vector store", zap.String("folder", folder), zap.Error(err))
		tr.emit(models.StatusReinitializing, "Reinitializing vector store...", 0)
		st, err = m.create(ctx, folder, tr)
		if err != nil {
			return nil, err
		}
		tr.emit(models.StatusReinitialized, "Vector store reinitialized and saved successfully", 100)
		return st, nil
	}
	tr.emit(models.StatusCreating, "Creating new vector store...", 0)
	st, err := m.create(ctx, folder, tr)
	if err != nil {
		return nil, err
	}
	tr.emit(models.StatusSaved, "Vector store processing completed", 100)
	return st, nil
}

// loadExisting opens the persisted store and verifies it against the
// configured embedding model with a zero-cost similarity probe.
func (m *Manager) loadExisting(ctx context.Context, folder, path string, tr *tracker) (Store, error) {
	st, err := OpenSQLite(path)
	if err != nil {
		return nil, err
	}
	meta, err := st.Meta(ctx)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("store corrupted: %w", err)
	}
	if meta.Dim <= 0 || meta.Documents == 0 {
		st.Close()
		return nil, fmt.Errorf("store is empty")
	}
	if meta.Model != m.model {
		st.Close()
		return nil, fmt.Errorf("store built with embedding model %s, configured %s", meta.Model, m.model)
	}
	if _, err := st.Search(ctx, make([]float32, meta.Dim), 1); err != nil {
		st.Close()
		return nil, fmt.Errorf("store corrupted: %w", err)
	}
	m.logger.Info("loaded vector store",
		zap.String("folder", folder),
		zap.Int("documents", meta.Documents),
		zap.Int("dim", meta.Dim))
	return st, nil
}

// create enumerates documents, embeds them and persists a fresh index.
func (m *Manager) create(ctx context.Context, folder string, tr *tracker) (Store, error) {
	if err := checkWritable(folder); err != nil {
		return nil, err
	}
	tr.emit(models.StatusLoading, "Loading documents...", 0)
	documents, err := m.loader.Load(folder)
	if err != nil {
		return nil, err
	}
	if len(documents) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoDocuments, folder)
	}
	tr.emit(models.StatusProcessing, fmt.Sprintf("Processing %d documents...", len(documents)), 10)

	tr.emit(models.StatusEmbedding, "Creating embeddings...", 20)
	entries, err := m.embedAll(ctx, documents)
	if err != nil {
		return nil, err
	}
	tr.emit(models.StatusVectorizing, "Creating vector store...", 40)

	path := StorePath(folder)
	st, err := OpenSQLite(path)
	if err != nil {
		// a corrupted file can fail migration; start over from a clean file
		os.Remove(path)
		if st, err = OpenSQLite(path); err != nil {
			return nil, err
		}
	}
	if err := st.Reset(ctx); err != nil {
		st.Close()
		return nil, err
	}
	tr.emit(models.StatusSaving, "Saving vector store...", 99)
	if err := st.Add(ctx, m.model, entries); err != nil {
		st.Close()
		return nil, fmt.Errorf("save vector store: %w", err)
	}
	m.logger.Info("vector store created", zap.String("folder", folder), zap.Int("documents", len(entries)))
	return st, nil
}

// Update re-enumerates documents, diffs by source against the store, embeds
// and persists only the new ones. With nothing new it reports upToDate and
// performs no write.
func (m *Manager) Update(ctx context.Context, folder string, st Store) error {
	tr := newTracker(m.onProgress)
	documents, err := m.loader.Load(folder)
	if err != nil {
		return err
	}
	tr.emit(models.StatusChecking, fmt.Sprintf("Checking %d documents...", len(documents)), 20)

	existing, err := st.Sources(ctx)
	if err != nil {
		return fmt.Errorf("store corrupted: %w", err)
	}
	var fresh []models.Document
	for _, d := range documents {
		if _, ok := existing[d.SourceID]; !ok {
			fresh = append(fresh, d)
		}
	}
	if len(fresh) == 0 {
		tr.emit(models.StatusUpToDate, "Vector store is up to date", 100)
		return nil
	}

	if err := checkWritable(folder); err != nil {
		return err
	}
	tr.emit(models.StatusUpdating, fmt.Sprintf("Adding %d new documents...", len(fresh)), 60)
	entries, err := m.embedAll(ctx, fresh)
	if err != nil {
		return err
	}
	if err := st.Add(ctx, m.model, entries); err != nil {
		return fmt.Errorf("save vector store: %w", err)
	}
	tr.emit(models.StatusUpdated, "Vector store updated and saved successfully", 100)
	m.logger.Info("vector store updated", zap.String("folder", folder), zap.Int("added", len(fresh)))
	return nil
}

// Search embeds the query and returns up to k documents ordered most
// similar first, dropping any whose content is not a valid non-empty string.
func (m *Manager) Search(ctx context.Context, st Store, query string, k int) ([]models.Document, error) {
	vecs, err := m.emb.Embeddings(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	results, err := st.Search(ctx, vecs[0], k)
	if err != nil {
		return nil, err
	}
	out := make([]models.Document, 0, len(results))
	for _, r := range results {
		if strings.TrimSpace(r.Doc.Content) == "" {
			continue
		}
		out = append(out, r.Doc)
	}
	return out, nil
}

// Retrieve is the one-shot path the pipeline uses: obtain the store for the
// folder and run a similarity search against it.
func (m *Manager) Retrieve(ctx context.Context, folder, query string, k int) ([]models.Document, error) {
	st, err := m.LoadOrCreate(ctx, folder)
	if err != nil {
		return nil, err
	}
	defer st.Close()
	return m.Search(ctx, st, query, k)
}

// AddDocuments embeds the given documents (already loaded, e.g. from URLs)
// that the store does not yet contain, and persists them.
func (m *Manager) AddDocuments(ctx context.Context, st Store, documents []models.Document) (int, error) {
	existing, err := st.Sources(ctx)
	if err != nil {
		return 0, err
	}
	seen := make(map[string]struct{})
	var fresh []models.Document
	for _, d := range documents {
		key := d.SourceID + "#" + d.Metadata["chunk"]
		if _, ok := existing[key]; ok {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		d.SourceID = key
		fresh = append(fresh, d)
	}
	if len(fresh) == 0 {
		return 0, nil
	}
	entries, err := m.embedAll(ctx, fresh)
	if err != nil {
		return 0, err
	}
	if err := st.Add(ctx, m.model, entries); err != nil {
		return 0, err
	}
	return len(fresh), nil
}

// embedAll embeds documents with bounded concurrency and joins every
// embedding before returning. Any single failure aborts the whole batch: a
// store with non-uniform coverage would silently degrade retrieval.
func (m *Manager) embedAll(ctx context.Context, documents []models.Document) ([]Entry, error) {
	entries := make([]Entry, len(documents))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for i := range documents {
		g.Go(func() error {
			vecs, err := m.emb.Embeddings(gctx, []string{documents[i].Content})
			if err != nil {
				return fmt.Errorf("embed %s: %w", documents[i].SourceID, err)
			}
			entries[i] = Entry{Doc: documents[i], Vector: vecs[0]}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return entries, nil
}

// checkWritable verifies write permission on the store directory before any
// destructive attempt.
func checkWritable(folder string) error {
	dir := filepath.Join(folder, docs.StoreDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrWritePermission, folder, err)
	}
	probe := filepath.Join(dir, ".perm_check")
	f, err := os.Create(probe)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrWritePermission, folder, err)
	}
	f.Close()
	os.Remove(probe)
	return nil
}

// tracker clamps progress percentages so they never decrease within one
// lifecycle operation and always stay in [0,100].
type tracker struct {
	fn   ProgressFunc
	last int
}

func newTracker(fn ProgressFunc) *tracker { return &tracker{fn: fn} }

func (t *tracker) emit(status models.ProgressStatus, message string, pct int) {
	if pct < t.last {
		pct = t.last
	}
	if pct > 100 {
		pct = 100
	}
	t.last = pct
	t.fn(models.Progress{Status: status, Message: message, Percentage: pct})
}
