// Package chunker splits extracted document text into fixed-size
// overlapping windows for embedding and retrieval.
package chunker

import "fmt"

const (
	DefaultSize    = 800
	DefaultOverlap = 100
)

// Chunker produces sliding windows of Size bytes advancing by
// Size-Overlap. The stride must be positive: a window that never
// advances would loop forever.
type Chunker struct {
	size    int
	overlap int
}

// New validates the size/overlap pair and returns a Chunker.
func New(size, overlap int) (Chunker, error) {
	if size <= 0 {
		return Chunker{}, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 {
		return Chunker{}, fmt.Errorf("chunk overlap must not be negative, got %d", overlap)
	}
	if overlap >= size {
		return Chunker{}, fmt.Errorf("chunk overlap %d must be smaller than chunk size %d", overlap, size)
	}
	return Chunker{size: size, overlap: overlap}, nil
}

// Default returns a Chunker with the standard 800/100 window.
func Default() Chunker {
	c, _ := New(DefaultSize, DefaultOverlap)
	return c
}

// Split returns the overlapping windows of text, starting at offsets
// 0, size-overlap, 2(size-overlap), ... until the offset passes the
// end of the text. The final window is truncated to the text length.
// Empty text produces no chunks.
func (c Chunker) Split(text string) []string {
	if len(text) == 0 {
		return nil
	}

	stride := c.size - c.overlap
	var chunks []string
	for start := 0; start < len(text); start += stride {
		end := start + c.size
		if end > len(text) {
			end = len(text)
		}
		chunks = append(chunks, text[start:end])
	}
	return chunks
}
