package composer

import (
	"fmt"
	"strings"
	"testing"
)

func TestBuild_IncludesLabelsAndQuestion(t *testing.T) {
	c := New(0)
	prompt, included := c.Build("what is my coverage?", []Piece{
		{PolicyID: 42, Type: "metadata", Text: "Policy home, coverage 50000"},
		{PolicyID: 42, Type: "pdf", File: "uploads/home.pdf", Chunk: 0, Text: "Section 1: coverage"},
	})

	if len(included) != 2 {
		t.Fatalf("included %d pieces, want 2", len(included))
	}
	for _, want := range []string{
		"[Source 1] Metadata | Policy: 42",
		"[Source 2] File: uploads/home.pdf | Policy: 42",
		"User question: what is my coverage?",
		"cite sources like [Source 1]",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestBuild_StopsAtBudget(t *testing.T) {
	c := New(300)

	var pieces []Piece
	for i := 0; i < 10; i++ {
		pieces = append(pieces, Piece{
			PolicyID: 1,
			Type:     "pdf",
			File:     "f.pdf",
			Chunk:    i,
			Text:     strings.Repeat("x", 100),
		})
	}

	_, included := c.Build("q", pieces)
	if len(included) == 0 {
		t.Fatal("no pieces included, budget should fit at least one")
	}
	if len(included) >= len(pieces) {
		t.Fatal("all pieces included, budget should have cut some off")
	}

	// Inclusion is greedy in input order: the included pieces are
	// exactly the leading ones.
	for i, p := range included {
		if p.Chunk != i {
			t.Errorf("included[%d].Chunk = %d, want %d (input order)", i, p.Chunk, i)
		}
	}
}

func TestBuild_ContextNeverExceedsBudget(t *testing.T) {
	for _, max := range []int{100, 500, 3000} {
		c := New(max)

		var pieces []Piece
		for i := 0; i < 20; i++ {
			pieces = append(pieces, Piece{
				PolicyID: int64(i),
				Type:     "pdf",
				File:     fmt.Sprintf("doc%d.pdf", i),
				Text:     strings.Repeat("y", 37*(i+1)%200),
			})
		}

		_, included := c.Build("q", pieces)
		total := 0
		for i, p := range included {
			total += len(fmt.Sprintf("[Source %d] %s | Policy: %d\n%s\n---\n",
				i+1, p.Origin(), p.PolicyID, p.Text))
		}
		if total > max {
			t.Errorf("max=%d: context section is %d chars", max, total)
		}
	}
}

func TestBuild_NoPieces(t *testing.T) {
	c := New(0)
	prompt, included := c.Build("anything?", nil)
	if len(included) != 0 {
		t.Errorf("included %d pieces, want 0", len(included))
	}
	if !strings.Contains(prompt, "User question: anything?") {
		t.Error("prompt missing the question")
	}
}

func TestNew_DefaultBudget(t *testing.T) {
	if got := New(0).MaxChars; got != DefaultMaxChars {
		t.Errorf("MaxChars = %d, want %d", got, DefaultMaxChars)
	}
	if got := New(-5).MaxChars; got != DefaultMaxChars {
		t.Errorf("MaxChars = %d, want %d", got, DefaultMaxChars)
	}
}
