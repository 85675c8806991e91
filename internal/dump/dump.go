// Package dump exports the full vector collection to timestamped
// JSON or CSV snapshot files. Debugging aid, not part of the query path.
package dump

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/insurly/policyrag/internal/vecstore"
)

// pageSize matches the collection's paginated-scan batch size.
const pageSize = 100

// Pager is the slice of the vector collection the dumper needs.
type Pager interface {
	Get(ctx context.Context, limit, offset int) ([]vecstore.Record, error)
}

// Dumper paginates the collection into memory and serializes it.
type Dumper struct {
	collection Pager
	outDir     string
	logger     *slog.Logger
	now        func() time.Time
}

// New creates a Dumper writing files into outDir.
func New(collection Pager, outDir string) *Dumper {
	return &Dumper{
		collection: collection,
		outDir:     outDir,
		logger:     slog.Default(),
		now:        time.Now,
	}
}

// collect pages through the whole collection until an empty page.
func (d *Dumper) collect(ctx context.Context) ([]vecstore.Record, error) {
	var all []vecstore.Record
	offset := 0
	for {
		page, err := d.collection.Get(ctx, pageSize, offset)
		if err != nil {
			return nil, fmt.Errorf("fetching page at offset %d: %w", offset, err)
		}
		if len(page) == 0 {
			break
		}
		all = append(all, page...)
		offset += pageSize
	}
	return all, nil
}

func (d *Dumper) outPath(ext string) (string, error) {
	if err := os.MkdirAll(d.outDir, 0o755); err != nil {
		return "", fmt.Errorf("creating output directory: %w", err)
	}
	name := fmt.Sprintf("dump_%s.%s", d.now().Format("20060102_150405"), ext)
	return filepath.Join(d.outDir, name), nil
}

// JSON writes the collection as an object with parallel ids,
// documents, and metadatas arrays. It returns the written path.
func (d *Dumper) JSON(ctx context.Context) (string, error) {
	records, err := d.collect(ctx)
	if err != nil {
		return "", err
	}

	out := struct {
		IDs       []string        `json:"ids"`
		Documents []string        `json:"documents"`
		Metadatas []vecstore.Meta `json:"metadatas"`
	}{
		IDs:       make([]string, 0, len(records)),
		Documents: make([]string, 0, len(records)),
		Metadatas: make([]vecstore.Meta, 0, len(records)),
	}
	for _, r := range records {
		out.IDs = append(out.IDs, r.ID)
		out.Documents = append(out.Documents, r.Document)
		out.Metadatas = append(out.Metadatas, r.Meta)
	}

	path, err := d.outPath("json")
	if err != nil {
		return "", err
	}

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating dump file: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return "", fmt.Errorf("encoding dump: %w", err)
	}

	d.logger.Info("collection dumped", "path", path, "records", len(records))
	return path, nil
}

// CSV writes one row per record with the metadata JSON-encoded into a
// single cell. It returns the written path.
func (d *Dumper) CSV(ctx context.Context) (string, error) {
	records, err := d.collect(ctx)
	if err != nil {
		return "", err
	}

	path, err := d.outPath("csv")
	if err != nil {
		return "", err
	}

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating dump file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"id", "document", "metadata"}); err != nil {
		return "", fmt.Errorf("writing header: %w", err)
	}
	for _, r := range records {
		meta, err := json.Marshal(r.Meta)
		if err != nil {
			return "", fmt.Errorf("marshalling metadata for %s: %w", r.ID, err)
		}
		if err := w.Write([]string{r.ID, r.Document, string(meta)}); err != nil {
			return "", fmt.Errorf("writing row for %s: %w", r.ID, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("flushing csv: %w", err)
	}

	d.logger.Info("collection dumped", "path", path, "records", len(records))
	return path, nil
}
