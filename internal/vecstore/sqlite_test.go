package vecstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	_ "modernc.org/sqlite"
)

// openTestDB creates an in-memory SQLite database with the policy_vectors table.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	_, err = db.Exec(`
		CREATE TABLE policy_vectors (
			id TEXT PRIMARY KEY,
			policy_id INTEGER NOT NULL,
			user_id INTEGER NOT NULL,
			doc_type TEXT NOT NULL,
			file TEXT DEFAULT '',
			chunk_index INTEGER DEFAULT 0,
			document TEXT NOT NULL,
			embedding BLOB NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`)
	if err != nil {
		t.Fatalf("creating table: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// stubEmbedder returns fixed vectors per text, falling back to a
// byte-sum direction so unknown texts still embed deterministically.
type stubEmbedder struct {
	vectors map[string][]float32
}

func (s *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if v, ok := s.vectors[text]; ok {
		return v, nil
	}
	var sum float32
	for _, b := range []byte(text) {
		sum += float32(b)
	}
	return []float32{sum, 1, 0}, nil
}

func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := s.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func newTestCollection(t *testing.T, vectors map[string][]float32) *SQLiteCollection {
	t.Helper()
	return NewSQLiteCollection(openTestDB(t), &stubEmbedder{vectors: vectors}, "policy_docs")
}

func pdfRecord(id string, policyID, userID int64, chunk int, doc string, emb []float32) Record {
	return Record{
		ID:       id,
		Document: doc,
		Meta: Meta{
			PolicyID: policyID,
			UserID:   userID,
			Type:     TypePDF,
			File:     "uploads/policy.pdf",
			Chunk:    &chunk,
		},
		Embedding: emb,
	}
}

func TestUpsertAndQuery(t *testing.T) {
	c := newTestCollection(t, map[string][]float32{
		"coverage": {1, 0, 0},
	})

	err := c.Upsert(context.Background(), []Record{
		pdfRecord("42_0", 42, 7, 0, "coverage amount is 50000", []float32{1, 0, 0}),
		pdfRecord("42_1", 42, 7, 1, "exclusions apply", []float32{0, 1, 0}),
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	results, err := c.Query(context.Background(), "coverage", 1, Filter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].ID != "42_0" {
		t.Errorf("ID = %q, want 42_0", results[0].ID)
	}
	if results[0].Distance > 0.01 {
		t.Errorf("Distance = %f, want ~0 for identical direction", results[0].Distance)
	}
}

func TestUpsert_ComputesMissingEmbeddings(t *testing.T) {
	c := newTestCollection(t, map[string][]float32{
		"the document text": {0, 0, 1},
		"the query":         {0, 0, 1},
	})

	rec := pdfRecord("1_0", 1, 1, 0, "the document text", nil)
	if err := c.Upsert(context.Background(), []Record{rec}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	results, err := c.Query(context.Background(), "the query", 1, Filter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if len(results[0].Embedding) != 3 {
		t.Errorf("embedding length = %d, want 3", len(results[0].Embedding))
	}
}

func TestUpsert_ReplacesByID(t *testing.T) {
	c := newTestCollection(t, nil)
	ctx := context.Background()

	first := pdfRecord("42_0", 42, 7, 0, "old text", []float32{1, 0, 0})
	if err := c.Upsert(ctx, []Record{first}); err != nil {
		t.Fatalf("first Upsert: %v", err)
	}

	second := pdfRecord("42_0", 42, 7, 0, "new text", []float32{1, 0, 0})
	if err := c.Upsert(ctx, []Record{second}); err != nil {
		t.Fatalf("second Upsert: %v", err)
	}

	count, err := c.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 1 {
		t.Fatalf("count = %d, want 1 (no duplicates)", count)
	}

	page, err := c.Get(ctx, 10, 0)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if page[0].Document != "new text" {
		t.Errorf("Document = %q, want %q", page[0].Document, "new text")
	}
}

func TestQuery_UserFilter(t *testing.T) {
	c := newTestCollection(t, map[string][]float32{"q": {1, 0, 0}})
	ctx := context.Background()

	err := c.Upsert(ctx, []Record{
		pdfRecord("1_0", 1, 7, 0, "mine", []float32{1, 0, 0}),
		pdfRecord("2_0", 2, 8, 0, "theirs", []float32{1, 0, 0}),
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	results, err := c.Query(ctx, "q", 10, Filter{UserID: 7})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].Meta.UserID != 7 {
		t.Errorf("UserID = %d, want 7", results[0].Meta.UserID)
	}
}

func TestQuery_TypeFilter(t *testing.T) {
	c := newTestCollection(t, map[string][]float32{"q": {1, 0, 0}})
	ctx := context.Background()

	meta := Record{
		ID:        "policy_meta_1",
		Document:  "Policy home owned by user 7",
		Meta:      Meta{PolicyID: 1, UserID: 7, Type: TypeMetadata},
		Embedding: []float32{1, 0, 0},
	}
	err := c.Upsert(ctx, []Record{
		meta,
		pdfRecord("1_0", 1, 7, 0, "pdf chunk", []float32{1, 0, 0}),
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	results, err := c.Query(ctx, "q", 10, Filter{UserID: 7, Type: TypePDF})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].Meta.Type != TypePDF {
		t.Errorf("Type = %q, want pdf", results[0].Meta.Type)
	}
}

func TestQuery_TopKOrdering(t *testing.T) {
	c := newTestCollection(t, map[string][]float32{"q": {1, 0, 0}})
	ctx := context.Background()

	var records []Record
	for i := 0; i < 10; i++ {
		// Increasing angle from the query vector.
		records = append(records, pdfRecord(
			fmt.Sprintf("1_%d", i), 1, 7, i, "text",
			[]float32{1, float32(i) * 0.2, 0}))
	}
	if err := c.Upsert(ctx, records); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	results, err := c.Query(ctx, "q", 3, Filter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	for i := 1; i < len(results); i++ {
		if results[i].Distance < results[i-1].Distance {
			t.Errorf("results not ordered by ascending distance: %v then %v",
				results[i-1].Distance, results[i].Distance)
		}
	}
	if results[0].ID != "1_0" {
		t.Errorf("closest = %q, want 1_0", results[0].ID)
	}
}

func TestQuery_EmptyCollection(t *testing.T) {
	c := newTestCollection(t, nil)

	results, err := c.Query(context.Background(), "anything", 5, Filter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results, want 0", len(results))
	}
}

func TestGet_Pagination(t *testing.T) {
	c := newTestCollection(t, nil)
	ctx := context.Background()

	var records []Record
	for i := 0; i < 5; i++ {
		records = append(records, pdfRecord(
			fmt.Sprintf("9_%d", i), 9, 3, i, "text", []float32{1, 0, 0}))
	}
	if err := c.Upsert(ctx, records); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	page1, err := c.Get(ctx, 3, 0)
	if err != nil {
		t.Fatalf("Get page 1: %v", err)
	}
	page2, err := c.Get(ctx, 3, 3)
	if err != nil {
		t.Fatalf("Get page 2: %v", err)
	}
	page3, err := c.Get(ctx, 3, 6)
	if err != nil {
		t.Fatalf("Get page 3: %v", err)
	}

	if len(page1) != 3 || len(page2) != 2 || len(page3) != 0 {
		t.Errorf("page sizes = %d,%d,%d, want 3,2,0", len(page1), len(page2), len(page3))
	}
	if len(page1) > 0 && len(page1[0].Embedding) != 0 {
		t.Error("Get should omit embeddings")
	}
}

func TestDeleteByPolicy(t *testing.T) {
	c := newTestCollection(t, nil)
	ctx := context.Background()

	err := c.Upsert(ctx, []Record{
		pdfRecord("1_0", 1, 7, 0, "a", []float32{1, 0, 0}),
		pdfRecord("1_1", 1, 7, 1, "b", []float32{1, 0, 0}),
		pdfRecord("2_0", 2, 7, 0, "c", []float32{1, 0, 0}),
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	n, err := c.DeleteByPolicy(ctx, 1)
	if err != nil {
		t.Fatalf("DeleteByPolicy: %v", err)
	}
	if n != 2 {
		t.Errorf("deleted %d, want 2", n)
	}

	count, _ := c.Count(ctx)
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}

func TestMetaJSON_ChunkOnlyForPDF(t *testing.T) {
	chunk := 0
	pdfJSON, err := json.Marshal(Meta{PolicyID: 1, UserID: 7, Type: TypePDF, File: "a.pdf", Chunk: &chunk})
	if err != nil {
		t.Fatal(err)
	}
	// Chunk index zero is a real index and must survive serialization.
	if !strings.Contains(string(pdfJSON), `"chunk":0`) {
		t.Errorf("pdf metadata %s missing chunk 0", pdfJSON)
	}

	metaJSON, err := json.Marshal(Meta{PolicyID: 1, UserID: 7, Type: TypeMetadata})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(metaJSON), `"chunk"`) {
		t.Errorf("metadata document %s should carry no chunk key", metaJSON)
	}
}
