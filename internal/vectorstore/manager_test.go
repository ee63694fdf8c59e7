package vectorstore

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"go.uber.org/zap"

	"localrag/internal/models"
)

type fakeLoader struct {
	docs []models.Document
}

func (f *fakeLoader) Load(folder string) ([]models.Document, error) {
	return f.docs, nil
}

// fakeEmbedder returns scripted vectors and counts how many texts it embeds.
type fakeEmbedder struct {
	mu    sync.Mutex
	vecs  map[string][]float32
	calls int
}

func (f *fakeEmbedder) Embeddings(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]float32, len(texts))
	for i, text := range texts {
		f.calls++
		v, ok := f.vecs[text]
		if !ok {
			return nil, errors.New("no vector scripted for " + text)
		}
		out[i] = v
	}
	return out, nil
}

func (f *fakeEmbedder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type progressLog struct {
	mu     sync.Mutex
	events []models.Progress
}

func (p *progressLog) record(ev models.Progress) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *progressLog) last() models.Progress {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.events) == 0 {
		return models.Progress{}
	}
	return p.events[len(p.events)-1]
}

func (p *progressLog) statuses() []models.ProgressStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.ProgressStatus, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Status
	}
	return out
}

func doc(source, content string) models.Document {
	return models.Document{Content: content, SourceID: source, Metadata: map[string]string{"source": source}}
}

func testSetup() (*fakeLoader, *fakeEmbedder, *progressLog) {
	loader := &fakeLoader{docs: []models.Document{
		doc("a.txt", "cats"),
		doc("b.txt", "dogs"),
	}}
	emb := &fakeEmbedder{vecs: map[string][]float32{
		"cats":  {1, 0},
		"dogs":  {0, 1},
		"birds": {0.7, 0.7},
		"query": {1, 0.1},
	}}
	return loader, emb, &progressLog{}
}

func TestManagerCreateAndSearch(t *testing.T) {
	ctx := context.Background()
	folder := t.TempDir()
	loader, emb, prog := testSetup()
	m := NewManager(loader, emb, "test-embed", zap.NewNop(), prog.record)

	st, err := m.LoadOrCreate(ctx, folder)
	if err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}
	defer st.Close()

	if _, err := os.Stat(StorePath(folder)); err != nil {
		t.Errorf("store file not persisted: %v", err)
	}
	if last := prog.last(); last.Status != models.StatusSaved || last.Percentage != 100 {
		t.Errorf("last progress = %+v", last)
	}
	assertMonotonic(t, prog)

	docs, err := m.Search(ctx, st, "query", 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(docs) != 1 || docs[0].SourceID != "a.txt" {
		t.Errorf("search result = %+v", docs)
	}
}

func TestManagerLoadsExistingWithoutReembedding(t *testing.T) {
	ctx := context.Background()
	folder := t.TempDir()
	loader, emb, prog := testSetup()
	m := NewManager(loader, emb, "test-embed", zap.NewNop(), prog.record)

	st, err := m.LoadOrCreate(ctx, folder)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	st.Close()
	created := emb.callCount()

	st, err = m.LoadOrCreate(ctx, folder)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	st.Close()
	if emb.callCount() != created {
		t.Errorf("reload embedded %d new texts, want 0", emb.callCount()-created)
	}
	if last := prog.last(); last.Status != models.StatusLoading {
		t.Errorf("last progress = %+v, want loading", last)
	}
}

func TestManagerUpdateUpToDate(t *testing.T) {
	ctx := context.Background()
	folder := t.TempDir()
	loader, emb, prog := testSetup()
	m := NewManager(loader, emb, "test-embed", zap.NewNop(), prog.record)

	st, err := m.LoadOrCreate(ctx, folder)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer st.Close()
	before := emb.callCount()

	if err := m.Update(ctx, folder, st); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if emb.callCount() != before {
		t.Errorf("no-op update embedded %d texts", emb.callCount()-before)
	}
	if last := prog.last(); last.Status != models.StatusUpToDate || last.Percentage != 100 {
		t.Errorf("last progress = %+v, want upToDate 100", last)
	}
}

func TestManagerUpdateAddsNewDocuments(t *testing.T) {
	ctx := context.Background()
	folder := t.TempDir()
	loader, emb, prog := testSetup()
	m := NewManager(loader, emb, "test-embed", zap.NewNop(), prog.record)

	st, err := m.LoadOrCreate(ctx, folder)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer st.Close()

	loader.docs = append(loader.docs, doc("c.txt", "birds"))
	before := emb.callCount()
	if err := m.Update(ctx, folder, st); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got := emb.callCount() - before; got != 1 {
		t.Errorf("update embedded %d texts, want 1", got)
	}
	if last := prog.last(); last.Status != models.StatusUpdated {
		t.Errorf("last progress = %+v, want updated", last)
	}
	meta, err := st.Meta(ctx)
	if err != nil {
		t.Fatalf("Meta: %v", err)
	}
	if meta.Documents != 3 {
		t.Errorf("documents = %d, want 3", meta.Documents)
	}
}

func TestManagerRebuildsOnModelChange(t *testing.T) {
	ctx := context.Background()
	folder := t.TempDir()
	loader, emb, prog := testSetup()

	st, err := NewManager(loader, emb, "model-a", zap.NewNop(), prog.record).LoadOrCreate(ctx, folder)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	st.Close()

	prog2 := &progressLog{}
	st, err = NewManager(loader, emb, "model-b", zap.NewNop(), prog2.record).LoadOrCreate(ctx, folder)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	defer st.Close()

	var sawReinit bool
	for _, s := range prog2.statuses() {
		if s == models.StatusReinitializing {
			sawReinit = true
		}
	}
	if !sawReinit {
		t.Errorf("statuses = %v, want reinitializing", prog2.statuses())
	}
	if last := prog2.last(); last.Status != models.StatusReinitialized || last.Percentage != 100 {
		t.Errorf("last progress = %+v", last)
	}
	meta, err := st.Meta(ctx)
	if err != nil {
		t.Fatalf("Meta: %v", err)
	}
	if meta.Model != "model-b" {
		t.Errorf("meta model = %q, want model-b", meta.Model)
	}
}

func TestManagerEmptyFolder(t *testing.T) {
	ctx := context.Background()
	m := NewManager(&fakeLoader{}, &fakeEmbedder{}, "m", zap.NewNop(), nil)
	_, err := m.LoadOrCreate(ctx, t.TempDir())
	if !errors.Is(err, ErrNoDocuments) {
		t.Errorf("error = %v, want ErrNoDocuments", err)
	}
}

func TestManagerAddDocumentsDeduplicates(t *testing.T) {
	ctx := context.Background()
	folder := t.TempDir()
	loader, emb, _ := testSetup()
	m := NewManager(loader, emb, "test-embed", zap.NewNop(), nil)

	st, err := m.LoadOrCreate(ctx, folder)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer st.Close()

	web := []models.Document{
		{Content: "birds", SourceID: "https://example.com/page", Metadata: map[string]string{"chunk": "0"}},
		{Content: "birds", SourceID: "https://example.com/page", Metadata: map[string]string{"chunk": "0"}},
	}
	added, err := m.AddDocuments(ctx, st, web)
	if err != nil {
		t.Fatalf("AddDocuments: %v", err)
	}
	if added != 1 {
		t.Errorf("added = %d, want 1", added)
	}
	added, err = m.AddDocuments(ctx, st, web)
	if err != nil {
		t.Fatalf("AddDocuments again: %v", err)
	}
	if added != 0 {
		t.Errorf("re-add added = %d, want 0", added)
	}
}

func assertMonotonic(t *testing.T, p *progressLog) {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	last := 0
	for _, ev := range p.events {
		if ev.Percentage < last {
			t.Errorf("progress went backwards: %d after %d (%s)", ev.Percentage, last, ev.Status)
		}
		if ev.Percentage > 100 {
			t.Errorf("progress above 100: %+v", ev)
		}
		last = ev.Percentage
	}
}
