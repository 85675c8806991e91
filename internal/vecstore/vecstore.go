// Package vecstore persists policy document chunks with their
// embeddings and serves similarity search over them.
package vecstore

import "context"

// Document type tags. PDF chunks carry the file they came from;
// metadata documents summarize a policy's relational fields.
const (
	TypePDF      = "pdf"
	TypeMetadata = "metadata"
)

// Meta is the metadata attached to every stored record. Chunk is set
// for PDF chunks only (index 0 included); metadata documents carry no
// chunk key.
type Meta struct {
	PolicyID int64  `json:"policy_id"`
	UserID   int64  `json:"user_id"`
	Type     string `json:"type"`
	File     string `json:"file,omitempty"`
	Chunk    *int   `json:"chunk,omitempty"`
}

// Record is one (id, document, metadata, embedding) tuple. Identifiers
// are unique within the collection; upserting an existing id replaces
// the prior record.
type Record struct {
	ID        string
	Document  string
	Meta      Meta
	Embedding []float32
}

// ScoredRecord is a Record with its query distance attached.
// Distance is 1 - cosine similarity, so lower means closer.
type ScoredRecord struct {
	Record
	Distance float32
}

// Filter restricts a similarity search by metadata equality.
// Zero values mean no restriction on that field.
type Filter struct {
	UserID int64
	Type   string
}

// Embedder turns text into vectors. The collection computes embeddings
// itself on upsert and query, so callers never handle vectors directly.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Collection is the interface for vector storage and similarity search
// backends. The default implementation is SQLite with brute-force
// cosine similarity.
type Collection interface {
	// Upsert inserts records, replacing any existing record with the
	// same id. Records without an embedding are embedded first.
	Upsert(ctx context.Context, records []Record) error

	// Query embeds the text and returns the topK nearest records
	// matching the filter, closest first.
	Query(ctx context.Context, text string, topK int, filter Filter) ([]ScoredRecord, error)

	// Get returns a stable page of the full collection without
	// embeddings, ordered by id. Used by the dump utility.
	Get(ctx context.Context, limit, offset int) ([]Record, error)

	// Count returns the number of stored records.
	Count(ctx context.Context) (int, error)

	// DeleteByPolicy removes every record for the given policy and
	// reports how many were deleted.
	DeleteByPolicy(ctx context.Context, policyID int64) (int64, error)
}
