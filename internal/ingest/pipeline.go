// Package ingest orchestrates the batch pipeline that loads policy
// PDFs and metadata into the vector collection.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/insurly/policyrag/internal/chunker"
	"github.com/insurly/policyrag/internal/storage"
	"github.com/insurly/policyrag/internal/vecstore"
)

// PolicySource abstracts the relational reads the pipeline needs.
type PolicySource interface {
	PolicyByID(ctx context.Context, id int64) (storage.Policy, error)
	PoliciesAfter(ctx context.Context, afterID int64) ([]storage.Policy, error)
}

// TextExtractor pulls plain text out of a document file, returning ""
// for anything unreadable.
type TextExtractor interface {
	Text(path string) string
}

// Pipeline ingests policies one at a time: a synthesized metadata
// document per policy, then the chunked text of every referenced PDF.
// Runs are single-threaded across policies and documents.
type Pipeline struct {
	policies  PolicySource
	vectors   vecstore.Collection
	extractor TextExtractor
	chunker   chunker.Chunker
	cursor    *Cursor
	root      string
	logger    *slog.Logger
}

// NewPipeline wires a Pipeline. root is the directory policy document
// paths resolve against.
func NewPipeline(policies PolicySource, vectors vecstore.Collection, extractor TextExtractor,
	ch chunker.Chunker, cursor *Cursor, root string) *Pipeline {
	return &Pipeline{
		policies:  policies,
		vectors:   vectors,
		extractor: extractor,
		chunker:   ch,
		cursor:    cursor,
		root:      root,
		logger:    slog.Default(),
	}
}

// Run executes a batch. When specificID > 0 only that policy is
// ingested and the cursor is left untouched; otherwise every policy
// past the cursor is ingested in ascending id order, advancing the
// cursor after each success.
func (p *Pipeline) Run(ctx context.Context, specificID int64) error {
	logger := p.logger.With("run_id", uuid.New().String())

	if specificID > 0 {
		policy, err := p.policies.PolicyByID(ctx, specificID)
		if err != nil {
			return fmt.Errorf("fetching policy %d: %w", specificID, err)
		}
		logger.Info("ingesting specific policy", "policy_id", specificID)
		return p.IngestPolicy(ctx, policy)
	}

	last, err := p.cursor.Load()
	if err != nil {
		return err
	}

	policies, err := p.policies.PoliciesAfter(ctx, last)
	if err != nil {
		return fmt.Errorf("fetching policies after %d: %w", last, err)
	}
	if len(policies) == 0 {
		logger.Info("no new policies to ingest", "cursor", last)
		return nil
	}

	for _, policy := range policies {
		if err := p.IngestPolicy(ctx, policy); err != nil {
			return fmt.Errorf("ingesting policy %d: %w", policy.ID, err)
		}
		if err := p.cursor.Store(policy.ID); err != nil {
			return fmt.Errorf("advancing cursor to %d: %w", policy.ID, err)
		}
	}

	logger.Info("ingestion batch complete", "policies", len(policies))
	return nil
}

// IngestPolicy writes the metadata document and every PDF chunk for
// one policy. The policy's prior records are removed first, so a
// shrunken or reordered document set leaves no stale chunks behind.
// Missing files are skipped with a warning; empty extracted text skips
// chunk generation for that document. Chunk ids take the form
// {policy_id}_{index} with the index running across all of the
// policy's documents.
func (p *Pipeline) IngestPolicy(ctx context.Context, policy storage.Policy) error {
	deleted, err := p.vectors.DeleteByPolicy(ctx, policy.ID)
	if err != nil {
		return fmt.Errorf("clearing prior records for policy %d: %w", policy.ID, err)
	}
	if deleted > 0 {
		p.logger.Info("removed prior records", "policy_id", policy.ID, "records", deleted)
	}

	records := []vecstore.Record{{
		ID:       fmt.Sprintf("policy_meta_%d", policy.ID),
		Document: policy.Summary(),
		Meta: vecstore.Meta{
			PolicyID: policy.ID,
			UserID:   policy.UserID,
			Type:     vecstore.TypeMetadata,
		},
	}}

	chunkIndex := 0
	for _, docPath := range policy.Documents {
		fullPath := filepath.Join(p.root, strings.TrimPrefix(docPath, "/"))

		if _, err := os.Stat(fullPath); err != nil {
			p.logger.Warn("skipping missing file", "path", fullPath, "policy_id", policy.ID)
			continue
		}

		text := p.extractor.Text(fullPath)
		if text == "" {
			p.logger.Warn("no ingestible content", "path", fullPath, "policy_id", policy.ID)
			continue
		}

		chunks := p.chunker.Split(text)
		for _, chunk := range chunks {
			idx := chunkIndex
			records = append(records, vecstore.Record{
				ID:       fmt.Sprintf("%d_%d", policy.ID, idx),
				Document: chunk,
				Meta: vecstore.Meta{
					PolicyID: policy.ID,
					UserID:   policy.UserID,
					Type:     vecstore.TypePDF,
					File:     fullPath,
					Chunk:    &idx,
				},
			})
			chunkIndex++
		}

		p.logger.Info("ingested document", "path", fullPath, "policy_id", policy.ID, "chunks", len(chunks))
	}

	if err := p.vectors.Upsert(ctx, records); err != nil {
		return fmt.Errorf("writing %d records: %w", len(records), err)
	}

	p.logger.Info("ingested policy", "policy_id", policy.ID, "user_id", policy.UserID, "records", len(records))
	return nil
}
