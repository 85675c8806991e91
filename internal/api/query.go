// Package api serves the retrieval endpoint: similarity search over
// the user's ingested policy documents, prompt assembly, and a single
// generation call.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/insurly/policyrag/internal/composer"
	"github.com/insurly/policyrag/internal/storage"
	"github.com/insurly/policyrag/internal/vecstore"
)

const maxRequestBodySize = 1 << 20 // 1MB

// noMatchAnswer is returned without calling the generation API when
// the user has no ingested content at all.
const noMatchAnswer = "No relevant documents found."

// PolicyFetcher reads a user's policy rows for the metadata context path.
type PolicyFetcher interface {
	PoliciesByUser(ctx context.Context, userID int64) ([]storage.Policy, error)
}

// Searcher runs similarity search over the vector collection.
type Searcher interface {
	Query(ctx context.Context, text string, topK int, filter vecstore.Filter) ([]vecstore.ScoredRecord, error)
}

// Generator produces an answer and the raw provider response for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, json.RawMessage, error)
}

// Deps holds the injected services the handlers use.
type Deps struct {
	Policies    PolicyFetcher
	Vectors     Searcher
	Generator   Generator
	Composer    *composer.Composer
	DefaultTopK int
}

// QueryRequest is the POST /query body.
type QueryRequest struct {
	UserID int64  `json:"user_id"`
	Query  string `json:"query"`
	TopK   int    `json:"top_k,omitempty"`
}

// Source attributes one context piece that made it into the prompt.
// File and Chunk are set for PDF chunks; Type is set for metadata documents.
type Source struct {
	SourceIndex int    `json:"source_index"`
	PolicyID    int64  `json:"policy_id"`
	File        string `json:"file,omitempty"`
	Type        string `json:"type,omitempty"`
	Chunk       *int   `json:"chunk,omitempty"`
}

// QueryResponse is the POST /query response body.
type QueryResponse struct {
	Answer            string          `json:"answer"`
	Sources           []Source        `json:"sources"`
	RawGeminiResponse json.RawMessage `json:"raw_gemini_response"`
}

// NewHandler builds the HTTP router for the retrieval service.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	r.Post("/query", handleQuery(deps))

	return r
}

func handleQuery(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req QueryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		resp, qerr := runQuery(r.Context(), deps, req)
		if qerr != nil {
			httpError(w, qerr.status, qerr.errType, "%s", qerr.message)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

// queryError carries the HTTP status mapping for a failed query.
type queryError struct {
	status  int
	errType string
	message string
}

func (e *queryError) Error() string { return e.message }

// runQuery executes the full retrieval flow. It is shared by the HTTP
// handler and the MCP tool.
func runQuery(ctx context.Context, deps Deps, req QueryRequest) (QueryResponse, *queryError) {
	if req.Query == "" || req.UserID == 0 {
		return QueryResponse{}, &queryError{
			status:  http.StatusBadRequest,
			errType: "invalid_request_error",
			message: "user_id and query are required",
		}
	}

	topK := req.TopK
	if topK <= 0 {
		topK = deps.DefaultTopK
	}

	// Metadata path: synthesize one document per policy from the
	// relational fields. A relational failure degrades to PDF-only
	// context rather than failing the request.
	var pieces []composer.Piece
	policies, err := deps.Policies.PoliciesByUser(ctx, req.UserID)
	if err != nil {
		slog.Warn("policy metadata fetch failed, proceeding without it",
			"user_id", req.UserID, "error", err)
		policies = nil
	}
	for _, p := range policies {
		pieces = append(pieces, composer.Piece{
			PolicyID: p.ID,
			Type:     vecstore.TypeMetadata,
			Text:     p.Summary(),
		})
	}

	// Similarity search restricted to the requesting user's PDF chunks.
	results, err := deps.Vectors.Query(ctx, req.Query, topK, vecstore.Filter{
		UserID: req.UserID,
		Type:   vecstore.TypePDF,
	})
	if err != nil {
		return QueryResponse{}, &queryError{
			status:  http.StatusInternalServerError,
			errType: "api_error",
			message: fmt.Sprintf("vector search failed: %v", err),
		}
	}
	for _, res := range results {
		var chunkIdx int
		if res.Meta.Chunk != nil {
			chunkIdx = *res.Meta.Chunk
		}
		pieces = append(pieces, composer.Piece{
			PolicyID: res.Meta.PolicyID,
			Type:     vecstore.TypePDF,
			File:     res.Meta.File,
			Chunk:    chunkIdx,
			Text:     res.Document,
		})
	}

	// Nothing ingested for this user: answer without calling the
	// generation API.
	if len(pieces) == 0 {
		return QueryResponse{
			Answer:            noMatchAnswer,
			Sources:           []Source{},
			RawGeminiResponse: json.RawMessage(`{}`),
		}, nil
	}

	prompt, included := deps.Composer.Build(req.Query, pieces)

	answer, raw, err := deps.Generator.Generate(ctx, prompt)
	if err != nil {
		return QueryResponse{}, &queryError{
			status:  http.StatusBadGateway,
			errType: "api_error",
			message: fmt.Sprintf("generation call failed: %v", err),
		}
	}

	sources := make([]Source, 0, len(included))
	for i, p := range included {
		src := Source{
			SourceIndex: i + 1,
			PolicyID:    p.PolicyID,
		}
		if p.Type == vecstore.TypePDF {
			src.File = p.File
			chunk := p.Chunk
			src.Chunk = &chunk
		} else {
			src.Type = p.Type
		}
		sources = append(sources, src)
	}

	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}

	return QueryResponse{
		Answer:            answer,
		Sources:           sources,
		RawGeminiResponse: raw,
	}, nil
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
