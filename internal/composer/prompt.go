// Package composer assembles the bounded-length prompt sent to the
// generation API.
package composer

import (
	"fmt"
	"strings"
)

const DefaultMaxChars = 3000

const header = "You are an assistant that answers user questions about the user's insurance policies.\n" +
	"Use ONLY the context provided below. If the information is not present, say you don't know.\n\n"

const citeInstruction = "Answer concisely and cite sources like [Source 1], [Source 2]."

// Piece is one candidate context fragment. File is empty for metadata
// documents synthesized from relational fields.
type Piece struct {
	PolicyID int64
	Type     string
	File     string
	Chunk    int
	Text     string
}

// Origin describes where the piece came from for the source label.
func (p Piece) Origin() string {
	if p.File != "" {
		return "File: " + p.File
	}
	return "Metadata"
}

// Composer builds prompts with a character budget on the context section.
type Composer struct {
	MaxChars int
}

// New creates a Composer. If maxChars <= 0 the default (3000) is used.
func New(maxChars int) *Composer {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	return &Composer{MaxChars: maxChars}
}

// Build assembles the prompt: instruction header, then pieces included
// greedily in input order until the next piece would push the context
// section past the budget, then the literal user question and a
// citation instruction. It returns the prompt and the pieces that made
// it in; source indexes in the prompt are 1-based positions within the
// returned slice.
func (c *Composer) Build(query string, pieces []Piece) (string, []Piece) {
	var contextParts []string
	var included []Piece
	total := 0

	for _, p := range pieces {
		entry := fmt.Sprintf("[Source %d] %s | Policy: %d\n%s\n---\n",
			len(included)+1, p.Origin(), p.PolicyID, p.Text)
		if total+len(entry) > c.MaxChars {
			break
		}
		contextParts = append(contextParts, entry)
		included = append(included, p)
		total += len(entry)
	}

	context := strings.TrimSpace(strings.Join(contextParts, "\n"))

	prompt := fmt.Sprintf("%sCONTEXT:\n%s\n\nUser question: %s\n\n%s",
		header, context, query, citeInstruction)
	return prompt, included
}
