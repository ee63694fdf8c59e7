package docs

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"localrag/internal/models"
)

// StoreDirName is the reserved subpath inside an indexed folder that holds
// the persisted vector store. The loader never descends into it.
const StoreDirName = ".vector_store"

// Loader supplies raw documents for a folder.
type Loader interface {
	Load(folder string) ([]models.Document, error)
}

var skipDirs = map[string]struct{}{
	StoreDirName: {}, ".git": {}, "node_modules": {},
}

// Extensions reserved for index artifacts plus common non-document binaries.
var deniedExts = map[string]struct{}{
	".ds_store": {}, ".yaml": {}, ".yml": {}, ".pkl": {}, ".npy": {}, ".bin": {}, ".index": {}, ".db": {},
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".webp": {}, ".svg": {}, ".ico": {},
	".zip": {}, ".gz": {}, ".tar": {}, ".xz": {}, ".7z": {}, ".mp4": {}, ".mov": {}, ".mp3": {},
}

// FSLoader loads supported documents (.txt, .md, .json, .csv) beneath a
// folder. Files over MaxFileSize or containing NUL bytes are skipped.
type FSLoader struct {
	MaxFileSize int64
}

func NewFSLoader() *FSLoader {
	return &FSLoader{MaxFileSize: 1 << 20}
}

func (l *FSLoader) Load(folder string) ([]models.Document, error) {
	var docs []models.Document
	err := filepath.WalkDir(folder, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if _, skip := skipDirs[d.Name()]; skip && path != folder {
				return filepath.SkipDir
			}
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if _, deny := deniedExts[ext]; deny || strings.EqualFold(d.Name(), ".DS_Store") {
			return nil
		}
		content, ok := l.loadFile(path, ext)
		if !ok {
			return nil
		}
		docs = append(docs, models.Document{
			Content:  content,
			SourceID: path,
			Metadata: map[string]string{"source": path},
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load documents from %s: %w", folder, err)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].SourceID < docs[j].SourceID })
	return docs, nil
}

func (l *FSLoader) loadFile(path, ext string) (string, bool) {
	info, err := os.Stat(path)
	if err != nil || info.Size() > l.MaxFileSize {
		return "", false
	}
	b, err := os.ReadFile(path)
	if err != nil || looksBinary(b) {
		return "", false
	}
	switch ext {
	case ".txt", ".md":
		return string(b), true
	case ".json":
		return flattenJSON(b)
	case ".csv":
		return flattenCSV(b)
	default:
		return "", false
	}
}

// flattenJSON extracts all string values from a JSON document, top-down,
// so free text inside structured files stays retrievable.
func flattenJSON(b []byte) (string, bool) {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return "", false
	}
	var sb strings.Builder
	collectStrings(v, &sb)
	s := strings.TrimSpace(sb.String())
	return s, s != ""
}

func collectStrings(v any, sb *strings.Builder) {
	switch t := v.(type) {
	case string:
		sb.WriteString(t)
		sb.WriteByte('\n')
	case []any:
		for _, e := range t {
			collectStrings(e, sb)
		}
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			collectStrings(t[k], sb)
		}
	}
}

// flattenCSV renders each row as "header: value" lines separated by blank
// lines, mirroring how row-oriented loaders present tabular text.
func flattenCSV(b []byte) (string, bool) {
	r := csv.NewReader(strings.NewReader(string(b)))
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil || len(rows) == 0 {
		return "", false
	}
	header := rows[0]
	var sb strings.Builder
	for _, row := range rows[1:] {
		for i, cell := range row {
			name := fmt.Sprintf("col%d", i)
			if i < len(header) {
				name = header[i]
			}
			sb.WriteString(name)
			sb.WriteString(": ")
			sb.WriteString(cell)
			sb.WriteByte('\n')
		}
		sb.WriteByte('\n')
	}
	s := strings.TrimSpace(sb.String())
	return s, s != ""
}

// looksBinary rejects content with a NUL byte in the first 8000 bytes.
func looksBinary(b []byte) bool {
	n := len(b)
	if n > 8000 {
		n = 8000
	}
	for i := 0; i < n; i++ {
		if b[i] == 0 {
			return true
		}
	}
	return false
}
