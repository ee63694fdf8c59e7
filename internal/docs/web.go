package docs

import (
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"localrag/internal/models"
)

const maxPageSize = 10 << 20

// URLLoader fetches web pages, strips them to readable text and splits the
// result into retrieval-sized chunks. A page that fails to load is skipped,
// not fatal: indexing proceeds with the rest.
type URLLoader struct {
	http     *http.Client
	splitter *Splitter
	logger   *zap.Logger
}

func NewURLLoader(logger *zap.Logger) *URLLoader {
	return &URLLoader{
		http:     &http.Client{Timeout: 30 * time.Second},
		splitter: NewSplitter(250),
		logger:   logger,
	}
}

func (l *URLLoader) Load(urls []string) ([]models.Document, error) {
	if len(urls) == 0 {
		return nil, fmt.Errorf("no search URLs provided")
	}
	var docs []models.Document
	for _, url := range urls {
		text, err := l.fetch(url)
		if err != nil {
			l.logger.Warn("failed to load document from URL", zap.String("url", url), zap.Error(err))
			continue
		}
		for i, chunk := range l.splitter.Split(text) {
			docs = append(docs, models.Document{
				Content:  chunk,
				SourceID: url,
				Metadata: map[string]string{"source": url, "chunk": fmt.Sprint(i)},
			})
		}
	}
	return docs, nil
}

var spaceRe = regexp.MustCompile(`\s+`)

func (l *URLLoader) fetch(url string) (string, error) {
	resp, err := l.http.Get(url)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("http %d", resp.StatusCode)
	}
	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxPageSize))
	if err != nil {
		return "", err
	}
	doc.Find("script, style, noscript").Remove()
	text := doc.Find("body").Text()
	return strings.TrimSpace(spaceRe.ReplaceAllString(text, " ")), nil
}
