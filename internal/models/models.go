package models

// Document is one unit of retrievable text. SourceID identifies the origin
// (file path or URL) and is the key used for citation and for de-duplication
// during incremental index updates.
type Document struct {
	Content  string            `json:"content"`
	SourceID string            `json:"sourceID"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Route selects the retrieval branch for a pipeline run.
type Route string

const (
	RouteVectorstore Route = "vectorstore"
	RouteWebSearch   Route = "web_search"
)

// Grade is the per-document relevance verdict for the current question.
type Grade string

const (
	GradeRelevant    Grade = "relevant"
	GradeNotRelevant Grade = "not_relevant"
)

// Source is a citation entry in a successful result.
type Source struct {
	FileName string `json:"fileName"`
	FilePath string `json:"filePath"`
}

// RAGResult is the only thing a pipeline run ever returns: either a
// generation (with zero or more sources) or a human-readable error.
type RAGResult struct {
	Generation string   `json:"generation,omitempty"`
	Sources    []Source `json:"sources,omitempty"`
	Err        string   `json:"error,omitempty"`
}

// PipelineState is the transient per-run record. Created at run start,
// mutated through each stage, discarded at run end.
type PipelineState struct {
	Question          string
	Documents         []Document
	RelevantDocuments []Document
	Route             Route
	Generation        string
	RewriteAttempted  bool
}

// ProgressStatus names a stage of the vector store lifecycle.
type ProgressStatus string

const (
	StatusLoading        ProgressStatus = "loading"
	StatusProcessing     ProgressStatus = "processing"
	StatusEmbedding      ProgressStatus = "embedding"
	StatusVectorizing    ProgressStatus = "vectorizing"
	StatusSaving         ProgressStatus = "saving"
	StatusSaved          ProgressStatus = "saved"
	StatusCreating       ProgressStatus = "creating"
	StatusChecking       ProgressStatus = "checking"
	StatusUpdating       ProgressStatus = "updating"
	StatusUpdated        ProgressStatus = "updated"
	StatusUpToDate       ProgressStatus = "upToDate"
	StatusReinitializing ProgressStatus = "reinitializing"
	StatusReinitialized  ProgressStatus = "reinitialized"
)

// Progress is a single progress event emitted while a store is built,
// loaded or updated. Percentage is in [0,100] and never decreases within
// one operation.
type Progress struct {
	Status     ProgressStatus `json:"status"`
	Message    string         `json:"message"`
	Percentage int            `json:"percentage"`
}
