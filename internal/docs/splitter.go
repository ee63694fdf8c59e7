package docs

import "strings"

// Splitter cuts long text into chunks of roughly ChunkSize characters,
// preferring paragraph, line and word boundaries in that order.
type Splitter struct {
	ChunkSize int
}

func NewSplitter(chunkSize int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = 250
	}
	return &Splitter{ChunkSize: chunkSize}
}

var separators = []string{"\n\n", "\n", " "}

func (s *Splitter) Split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	var chunks []string
	for len(text) > s.ChunkSize {
		cut := s.findCut(text)
		chunk := strings.TrimSpace(text[:cut])
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		text = strings.TrimSpace(text[cut:])
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

// findCut picks the latest separator position within ChunkSize, falling
// back to a hard cut when the text has no usable boundary.
func (s *Splitter) findCut(text string) int {
	window := text[:s.ChunkSize]
	for _, sep := range separators {
		if i := strings.LastIndex(window, sep); i > 0 {
			return i + len(sep)
		}
	}
	return s.ChunkSize
}
