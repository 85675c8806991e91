package vecstore

import (
	"container/heap"
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"
)

// Compile-time check that SQLiteCollection implements Collection.
var _ Collection = (*SQLiteCollection)(nil)

// SQLiteCollection stores vectors in the policy_vectors table and
// performs brute-force cosine similarity search. Embeddings are
// computed through the injected Embedder, so ingestion and retrieval
// always share one embedding path.
type SQLiteCollection struct {
	db       *sql.DB
	embedder Embedder
	name     string
}

// NewSQLiteCollection wraps an existing *sql.DB for vector operations.
// The policy_vectors table must already exist (created via migrations).
func NewSQLiteCollection(db *sql.DB, embedder Embedder, name string) *SQLiteCollection {
	return &SQLiteCollection{db: db, embedder: embedder, name: name}
}

// Name returns the logical collection name.
func (c *SQLiteCollection) Name() string {
	return c.name
}

// Upsert embeds any records lacking a vector, then writes all records
// with INSERT OR REPLACE keyed on id. Re-ingesting a policy with the
// same chunk identifiers overwrites the prior vectors.
func (c *SQLiteCollection) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	var missingIdx []int
	var missingTexts []string
	for i, r := range records {
		if len(r.Embedding) == 0 {
			missingIdx = append(missingIdx, i)
			missingTexts = append(missingTexts, r.Document)
		}
	}
	if len(missingTexts) > 0 {
		vecs, err := c.embedder.EmbedBatch(ctx, missingTexts)
		if err != nil {
			return fmt.Errorf("embedding %d documents: %w", len(missingTexts), err)
		}
		for j, i := range missingIdx {
			records[i].Embedding = vecs[j]
		}
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning upsert transaction: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO policy_vectors (id, policy_id, user_id, doc_type, file, chunk_index, document, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing upsert statement: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		blob := encodeFloat32s(r.Embedding)
		if _, err := stmt.ExecContext(ctx, r.ID, r.Meta.PolicyID, r.Meta.UserID,
			r.Meta.Type, r.Meta.File, r.Meta.Chunk, r.Document, blob); err != nil {
			tx.Rollback()
			return fmt.Errorf("upserting record %s: %w", r.ID, err)
		}
	}

	return tx.Commit()
}

// idScore holds only the id and similarity during the scan phase of
// Query. Full record details are fetched only for top-K winners.
type idScore struct {
	ID    string
	Score float32
}

// Query embeds the text, scans candidate embeddings under the filter,
// keeps the top-K by cosine similarity, then fetches the winners.
func (c *SQLiteCollection) Query(ctx context.Context, text string, topK int, filter Filter) ([]ScoredRecord, error) {
	if topK <= 0 {
		return nil, nil
	}

	vector, err := c.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	queryNorm := norm(vector)
	if queryNorm == 0 {
		return nil, nil
	}

	where, args := filterClause(filter)
	rows, err := c.db.QueryContext(ctx, "SELECT id, embedding FROM policy_vectors"+where, args...)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	h := &idScoreHeap{}
	heap.Init(h)

	// Reusable buffer for decoding embeddings to avoid per-row allocations.
	var buf []float32

	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", id, err)
		}

		score := dotProduct(vector, buf, queryNorm)
		if h.Len() < topK {
			heap.Push(h, idScore{ID: id, Score: score})
		} else if score > (*h)[0].Score {
			(*h)[0] = idScore{ID: id, Score: score}
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}

	if h.Len() == 0 {
		return nil, nil
	}

	topIDs := make([]string, h.Len())
	scores := make(map[string]float32, h.Len())
	for i := len(topIDs) - 1; i >= 0; i-- {
		item := heap.Pop(h).(idScore)
		topIDs[i] = item.ID
		scores[item.ID] = item.Score
	}

	queryArgs := make([]any, len(topIDs))
	for i, id := range topIDs {
		queryArgs[i] = id
	}
	fullQuery := `SELECT id, policy_id, user_id, doc_type, file, chunk_index, document, embedding
		FROM policy_vectors WHERE id IN (?` + strings.Repeat(",?", len(topIDs)-1) + `)`

	fullRows, err := c.db.QueryContext(ctx, fullQuery, queryArgs...)
	if err != nil {
		return nil, fmt.Errorf("fetching top-K records: %w", err)
	}
	defer fullRows.Close()

	var results []ScoredRecord
	for fullRows.Next() {
		r, err := scanRecord(fullRows, true)
		if err != nil {
			return nil, err
		}
		results = append(results, ScoredRecord{Record: r, Distance: 1 - scores[r.ID]})
	}
	if err := fullRows.Err(); err != nil {
		return nil, fmt.Errorf("iterating full records: %w", err)
	}

	// Sort by distance ascending (IN query doesn't preserve order).
	sort.Slice(results, func(i, j int) bool {
		return results[i].Distance < results[j].Distance
	})

	return results, nil
}

// Get returns a page of records ordered by id, embeddings omitted.
func (c *SQLiteCollection) Get(ctx context.Context, limit, offset int) ([]Record, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, policy_id, user_id, doc_type, file, chunk_index, document
		FROM policy_vectors ORDER BY id ASC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("querying page: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		r, err := scanRecord(rows, false)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Count returns the number of stored records.
func (c *SQLiteCollection) Count(ctx context.Context) (int, error) {
	var count int
	err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM policy_vectors").Scan(&count)
	return count, err
}

// DeleteByPolicy removes all records for the given policy id.
func (c *SQLiteCollection) DeleteByPolicy(ctx context.Context, policyID int64) (int64, error) {
	res, err := c.db.ExecContext(ctx, "DELETE FROM policy_vectors WHERE policy_id = ?", policyID)
	if err != nil {
		return 0, fmt.Errorf("deleting records for policy %d: %w", policyID, err)
	}
	return res.RowsAffected()
}

func filterClause(f Filter) (string, []any) {
	var conds []string
	var args []any
	if f.UserID != 0 {
		conds = append(conds, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.Type != "" {
		conds = append(conds, "doc_type = ?")
		args = append(args, f.Type)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanRecord(rows *sql.Rows, withEmbedding bool) (Record, error) {
	var r Record
	if withEmbedding {
		var blob []byte
		if err := rows.Scan(&r.ID, &r.Meta.PolicyID, &r.Meta.UserID, &r.Meta.Type,
			&r.Meta.File, &r.Meta.Chunk, &r.Document, &blob); err != nil {
			return Record{}, fmt.Errorf("scanning record: %w", err)
		}
		embedding, err := decodeFloat32s(blob)
		if err != nil {
			return Record{}, fmt.Errorf("decoding embedding for %s: %w", r.ID, err)
		}
		r.Embedding = embedding
		return r, nil
	}

	if err := rows.Scan(&r.ID, &r.Meta.PolicyID, &r.Meta.UserID, &r.Meta.Type,
		&r.Meta.File, &r.Meta.Chunk, &r.Document); err != nil {
		return Record{}, fmt.Errorf("scanning record: %w", err)
	}
	return r, nil
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32s deserializes little-endian bytes into a new float32
// slice. A length that is not a multiple of 4 indicates data corruption.
func decodeFloat32s(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	v := make([]float32, n)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

// decodeFloat32sInto decodes little-endian bytes into the provided
// buffer, reusing it to avoid per-row allocations during search scans.
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

// norm returns the L2 norm of a vector.
func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// dotProduct computes cosine similarity as dot(a,b) / (aNorm * bNorm).
// aNorm is the precomputed L2 norm of vector a.
func dotProduct(a, b []float32, aNorm float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot float64
	var bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	bNorm := math.Sqrt(bNormSq)
	if bNorm == 0 {
		return 0
	}
	return float32(dot / (float64(aNorm) * bNorm))
}

// idScoreHeap is a min-heap of idScore ordered by Score. Used during
// the scan phase of Query to track top-K candidates by id only.
type idScoreHeap []idScore

func (h idScoreHeap) Len() int           { return len(h) }
func (h idScoreHeap) Less(i, j int) bool { return h[i].Score < h[j].Score }
func (h idScoreHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *idScoreHeap) Push(x any)        { *h = append(*h, x.(idScore)) }
func (h *idScoreHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
