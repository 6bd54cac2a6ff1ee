package rag

import (
	"fmt"
	"strings"

	"github.com/tidewater-labs/quarry/internal/core/token"
	"github.com/tidewater-labs/quarry/internal/models"
)

// Piece is one chunk admitted into the assembled context.
type Piece struct {
	Result    models.SearchResult
	Text      string
	Tokens    int
	Truncated bool
}

// Assembler packs ranked search results into a prompt context under a token
// budget. Chunks are admitted greedily in rank order and never split; the
// only exception is a top-ranked chunk that alone exceeds the budget, which
// is truncated so the context is never empty when results exist.
type Assembler struct {
	counter *token.Counter
	budget  int
}

func NewAssembler(counter *token.Counter, budget int) *Assembler {
	if budget < 1 {
		budget = 2000
	}
	return &Assembler{counter: counter, budget: budget}
}

func (a *Assembler) Budget() int { return a.budget }

// Assemble returns the formatted context block and the pieces that made it
// in, in rank order.
func (a *Assembler) Assemble(results []models.SearchResult) (string, []Piece) {
	return a.AssembleWithin(results, a.budget)
}

// AssembleWithin packs under an explicit budget instead of the default,
// for callers that cap context per request.
func (a *Assembler) AssembleWithin(results []models.SearchResult, budget int) (string, []Piece) {
	if budget < 1 {
		budget = a.budget
	}
	if len(results) == 0 {
		return "", nil
	}

	var (
		pieces []Piece
		used   int
	)
	for _, r := range results {
		tokens := a.counter.Count(r.Text)

		if tokens > budget && len(pieces) == 0 {
			text, tokens := a.truncate(r.Text, budget)
			pieces = append(pieces, Piece{Result: r, Text: text, Tokens: tokens, Truncated: true})
			break
		}
		if used+tokens > budget {
			continue
		}
		pieces = append(pieces, Piece{Result: r, Text: r.Text, Tokens: tokens})
		used += tokens
	}

	var b strings.Builder
	for i, p := range pieces {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%d] %s", i+1, p.Text)
	}
	return b.String(), pieces
}

// truncate cuts text at a rune boundary so it fits the token budget, using
// binary search over the prefix length.
func (a *Assembler) truncate(text string, budget int) (string, int) {
	runes := []rune(text)
	lo, hi := 0, len(runes)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if a.counter.Count(string(runes[:mid])) <= budget {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	cut := string(runes[:lo])
	return cut, a.counter.Count(cut)
}
