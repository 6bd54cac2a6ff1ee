package search

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/tidewater-labs/quarry/internal/models"
)

// highlightSpans locates each term (case-insensitive) inside text and
// returns non-overlapping spans in ascending order. Offsets index the
// original text.
func highlightSpans(text string, terms []string) []models.HighlightSpan {
	if text == "" || len(terms) == 0 {
		return nil
	}

	// Lowercasing can change a rune's byte length (İ shrinks, Ⱥ grows), so
	// matching runs over a folded copy while a byte-offset table maps every
	// folded position back to the original text.
	var folded strings.Builder
	folded.Grow(len(text))
	backmap := make([]int, 0, len(text)+1)
	for i, r := range text {
		lr := unicode.ToLower(r)
		for n := utf8.RuneLen(lr); n > 0; n-- {
			backmap = append(backmap, i)
		}
		folded.WriteRune(lr)
	}
	backmap = append(backmap, len(text))
	lower := folded.String()

	var spans []models.HighlightSpan
	seen := make(map[int]bool) // start offsets already claimed
	for _, term := range terms {
		t := strings.ToLower(strings.TrimSpace(term))
		if t == "" {
			continue
		}
		from := 0
		for {
			idx := strings.Index(lower[from:], t)
			if idx < 0 {
				break
			}
			start, end := backmap[from+idx], backmap[from+idx+len(t)]
			if !seen[start] {
				seen[start] = true
				spans = append(spans, models.HighlightSpan{Start: start, End: end, Term: text[start:end]})
			}
			from = from + idx + len(t)
		}
	}

	// Insertion order follows terms, not positions; sort by start offset.
	for i := 1; i < len(spans); i++ {
		for j := i; j > 0 && spans[j].Start < spans[j-1].Start; j-- {
			spans[j], spans[j-1] = spans[j-1], spans[j]
		}
	}
	return spans
}
