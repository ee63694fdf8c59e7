package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"localrag/internal/llm"
	"localrag/internal/llm/ollama"
	"localrag/internal/models"
	"localrag/internal/vectorstore"
	"localrag/internal/websearch"
)

// Config is the per-run configuration snapshot. Runs never read ambient
// state: callers copy whatever they need from the application config so two
// runs cannot leak settings into each other.
type Config struct {
	FolderPath       string
	TopK             int
	WebSearchEnabled bool
	SearchAPIKey     string
}

func (c Config) topK() int {
	if c.TopK <= 0 {
		return 5
	}
	return c.TopK
}

// Gateway is what the pipeline needs from the model server.
type Gateway interface {
	llm.Generator
	CheckReachable(ctx context.Context) bool
}

// Retriever obtains candidate documents for a question from a folder's
// vector store.
type Retriever interface {
	Retrieve(ctx context.Context, folder, query string, k int) ([]models.Document, error)
}

// Pipeline is the routing → retrieval → grading → generation state machine.
// A Pipeline value is stateless across runs; all per-run state lives in a
// models.PipelineState created inside Run.
type Pipeline struct {
	gw       Gateway
	ret      Retriever
	search   websearch.Searcher
	reporter Reporter
	logger   *zap.Logger
}

func New(gw Gateway, ret Retriever, search websearch.Searcher, reporter Reporter, logger *zap.Logger) *Pipeline {
	if reporter == nil {
		reporter = NopReporter{}
	}
	return &Pipeline{gw: gw, ret: ret, search: search, reporter: reporter, logger: logger}
}

// Run executes one question through the full pipeline. Every exit is a
// structured RAGResult; no error or panic crosses this boundary.
func (p *Pipeline) Run(ctx context.Context, cfg Config, question string) (res models.RAGResult) {
	logger := p.logger.With(zap.String("run_id", uuid.NewString()))
	defer func() {
		if r := recover(); r != nil {
			logger.Error("pipeline panic", zap.Any("panic", r))
			res = models.RAGResult{Err: fmt.Sprintf("internal pipeline error: %v", r)}
		}
	}()

	if strings.TrimSpace(question) == "" {
		return models.RAGResult{Err: "question must not be empty"}
	}
	p.reporter.Log("start", "Starting RAG pipeline")
	logger.Info("pipeline run started", zap.String("question", question))

	if !p.gw.CheckReachable(ctx) {
		p.reporter.Log("error", "Ollama server not running or inaccessible")
		return models.RAGResult{Err: "Ollama server is not running or not accessible. Please start the Ollama server and try again."}
	}

	st := &models.PipelineState{Question: question}

	p.reporter.Step("route")
	route, err := p.routeQuestion(ctx, cfg, logger, st.Question)
	if err != nil {
		return p.errorResult(err)
	}
	st.Route = route
	p.reporter.Log("route", fmt.Sprintf("Final route decision: %s", st.Route))

	if st.Route == models.RouteWebSearch {
		p.reporter.Step("web_search")
		p.reporter.Log("web_search", "Performing web search...")
		docs, err := p.search.Search(ctx, st.Question)
		if err != nil {
			logger.Warn("web search failed, falling back to vectorstore", zap.Error(err))
			p.reporter.Log("error", fmt.Sprintf("Web search error: %v. Falling back to vectorstore.", err))
			st.Route = models.RouteVectorstore
		} else {
			p.reporter.Log("web_search", "Web search completed")
			st.Documents = docs
			// web results go straight to generation, ungraded
			st.RelevantDocuments = docs
		}
	}

	if st.Route == models.RouteVectorstore {
		if err := p.retrieveAndGrade(ctx, cfg, logger, st); err != nil {
			return p.errorResult(err)
		}
	}

	p.reporter.Step("generate")
	return p.generate(ctx, logger, st)
}

// routeQuestion decides the retrieval branch. Web search is taken only when
// it is enabled, keyed, and the routing model asks for it; everything else
// (including malformed routing output) safely defaults to the vectorstore.
// Only a hard gateway failure is returned as an error.
func (p *Pipeline) routeQuestion(ctx context.Context, cfg Config, logger *zap.Logger, question string) (models.Route, error) {
	if !cfg.WebSearchEnabled {
		p.reporter.Log("route", "Web search is disabled. Using vectorstore.")
		return models.RouteVectorstore, nil
	}
	if cfg.SearchAPIKey == "" {
		p.reporter.Log("route", "Web search is enabled but API key is missing. Using vectorstore.")
		return models.RouteVectorstore, nil
	}
	p.reporter.Log("route", "Routing question")
	res, err := p.gw.GenerateJSON(ctx, routerPrompt(question))
	if err != nil {
		return "", err
	}
	if res.Malformed {
		logger.Warn("malformed routing response, using vectorstore", zap.String("raw", res.Raw))
		return models.RouteVectorstore, nil
	}
	if res.Field("datasource") == string(models.RouteWebSearch) {
		return models.RouteWebSearch, nil
	}
	return models.RouteVectorstore, nil
}

// retrieveAndGrade runs the retrieve → grade loop, rewriting the question
// and retrying at most once when no retrieved document survives grading.
// The RewriteAttempted flag on the state record enforces the bound.
func (p *Pipeline) retrieveAndGrade(ctx context.Context, cfg Config, logger *zap.Logger, st *models.PipelineState) error {
	if cfg.FolderPath == "" {
		return ErrNoFolderSelected
	}
	for {
		p.reporter.Step("retrieve")
		p.reporter.Log("retrieve", "Retrieving relevant documents...")
		docs, err := p.ret.Retrieve(ctx, cfg.FolderPath, st.Question, cfg.topK())
		if err != nil {
			return err
		}
		if len(docs) == 0 {
			return ErrNoDocumentsRetrieved
		}
		p.reporter.Log("retrieve", fmt.Sprintf("Retrieved %d documents", len(docs)))
		st.Documents = docs

		p.reporter.Step("grade")
		st.RelevantDocuments = p.gradeDocuments(ctx, logger, st.Question, docs)
		if len(st.RelevantDocuments) > 0 || st.RewriteAttempted {
			return nil
		}

		p.reporter.Step("transform")
		p.reporter.Log("transform", "Transforming query...")
		st.RewriteAttempted = true
		better, err := p.gw.GenerateText(ctx, rewriterPrompt(st.Question))
		if err != nil {
			logger.Warn("query rewrite failed, generating without context", zap.Error(err))
			return nil
		}
		if q := strings.TrimSpace(better); q != "" {
			p.reporter.Log("transform", fmt.Sprintf("Rewritten question: %s", q))
			st.Question = q
		}
	}
}

// gradeDocuments grades each document independently. A document is relevant
// only when the parsed score is the literal "yes"; malformed output, a
// missing field, or an individual grading failure excludes the document and
// the process continues with the rest.
func (p *Pipeline) gradeDocuments(ctx context.Context, logger *zap.Logger, question string, docs []models.Document) []models.Document {
	p.reporter.Log("grade", "Grading retrieved documents...")
	var relevant []models.Document
	for i, doc := range docs {
		p.reporter.Log("grade", fmt.Sprintf("Grading document %d/%d", i+1, len(docs)))
		res, err := p.gw.GenerateJSON(ctx, graderPrompt(doc.Content, question))
		if err != nil {
			logger.Warn("grading failed, skipping document",
				zap.String("source", doc.SourceID), zap.Error(err))
			p.reporter.Log("grade", fmt.Sprintf("Error grading document %d: %v", i+1, err))
			continue
		}
		grade := models.GradeNotRelevant
		if !res.Malformed && res.Field("score") == "yes" {
			grade = models.GradeRelevant
		}
		if grade == models.GradeRelevant {
			p.reporter.Log("grade", fmt.Sprintf("Document %d relevant", i+1))
			relevant = append(relevant, doc)
		} else {
			p.reporter.Log("grade", fmt.Sprintf("Document %d not relevant", i+1))
		}
	}
	p.reporter.Log("grade", fmt.Sprintf("Grading process completed. %d relevant documents found.", len(relevant)))
	return relevant
}

// generate builds the context from all currently relevant documents and
// produces the final answer. An empty context is valid and yields an
// ungrounded answer with an empty sources list.
func (p *Pipeline) generate(ctx context.Context, logger *zap.Logger, st *models.PipelineState) models.RAGResult {
	var parts []string
	for _, doc := range st.RelevantDocuments {
		parts = append(parts, doc.Content)
	}
	contextStr := strings.Join(parts, "\n\n")
	if contextStr == "" {
		p.reporter.Log("generate", "No relevant documents found. Generating answer based on general knowledge.")
	} else {
		p.reporter.Log("generate", "Generating answer...")
	}

	generation, err := p.gw.GenerateText(ctx, generatePrompt(contextStr, st.Question))
	if err != nil {
		return p.errorResult(err)
	}
	st.Generation = generation
	p.reporter.Log("generate", "Answer generated")
	logger.Info("pipeline run finished", zap.Int("sources", len(st.RelevantDocuments)))

	sources := make([]models.Source, 0, len(st.RelevantDocuments))
	for _, doc := range st.RelevantDocuments {
		if doc.SourceID == "" {
			continue
		}
		sources = append(sources, models.Source{
			FileName: filepath.Base(doc.SourceID),
			FilePath: doc.SourceID,
		})
	}
	return models.RAGResult{Generation: generation, Sources: sources}
}

// errorResult maps an internal error to the single human-readable string
// the caller sees, and mirrors it onto the log stream.
func (p *Pipeline) errorResult(err error) models.RAGResult {
	var msg string
	var modelErr *ollama.ModelError
	switch {
	case errors.Is(err, ErrNoFolderSelected):
		msg = "No folder selected. Please select a folder first."
	case errors.Is(err, ErrNoDocumentsRetrieved):
		msg = "No valid documents retrieved"
	case errors.Is(err, ollama.ErrServerUnreachable):
		msg = "Ollama server is not running or not accessible. Please start the Ollama server and try again."
	case errors.Is(err, vectorstore.ErrWritePermission):
		msg = err.Error()
	case errors.Is(err, websearch.ErrMissingAPIKey):
		msg = "Web search requested but no API key is configured."
	case errors.As(err, &modelErr):
		msg = fmt.Sprintf("Model request failed: %v", modelErr)
	default:
		msg = err.Error()
	}
	p.reporter.Log("error", msg)
	return models.RAGResult{Err: msg}
}
