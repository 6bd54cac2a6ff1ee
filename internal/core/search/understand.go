package search

import (
	"strings"
)

// Understanding is the outcome of query analysis. Every field degrades
// gracefully: a disabled stage leaves the input untouched.
type Understanding struct {
	Original         string   `json:"original"`
	Corrected        string   `json:"corrected_query"`
	Expansions       []string `json:"query_expansion,omitempty"`
	Intent           string   `json:"intent"`
	IntentConfidence float64  `json:"intent_confidence"`
}

// Understander transforms a raw query before retrieval. Implementations
// must be pure; the engine calls them on every uncached search.
type Understander interface {
	Understand(query string) Understanding
}

// NoopUnderstander passes queries through untouched. The engine works
// correctly with understanding fully disabled.
type NoopUnderstander struct{}

func (NoopUnderstander) Understand(query string) Understanding {
	return Understanding{Original: query, Corrected: query, Intent: "lookup", IntentConfidence: 0.5}
}

// RuleUnderstander does dictionary spell-correction, synonym expansion and
// rule-based intent classification without any model call.
type RuleUnderstander struct {
	synonyms      map[string][]string
	vocabulary    map[string]bool
	maxExpansions int
}

func NewRuleUnderstander() *RuleUnderstander {
	synonyms := map[string][]string{
		"document": {"file", "paper", "report"},
		"error":    {"exception", "fault", "failure", "bug"},
		"create":   {"make", "build", "generate"},
		"delete":   {"remove", "destroy", "erase"},
		"update":   {"modify", "change", "edit"},
		"find":     {"search", "locate", "lookup"},
		"cost":     {"price", "expense", "fee"},
		"config":   {"configuration", "settings", "options"},
		"summary":  {"overview", "synopsis", "abstract"},
		"vector":   {"embedding", "representation"},
	}

	vocab := make(map[string]bool)
	for k, vs := range synonyms {
		vocab[k] = true
		for _, v := range vs {
			vocab[v] = true
		}
	}
	for _, w := range []string{
		"what", "when", "where", "which", "who", "how", "why", "does", "is",
		"the", "this", "that", "show", "list", "explain", "compare",
		"summarize", "describe", "between", "about", "from", "with",
	} {
		vocab[w] = true
	}

	return &RuleUnderstander{synonyms: synonyms, vocabulary: vocab, maxExpansions: 5}
}

func (u *RuleUnderstander) Understand(query string) Understanding {
	out := Understanding{Original: query}

	words := strings.Fields(query)
	corrected := make([]string, len(words))
	for i, w := range words {
		corrected[i] = u.correct(w)
	}
	out.Corrected = strings.Join(corrected, " ")

	// Synonym expansion on corrected terms, capped.
	for _, w := range corrected {
		for _, syn := range u.synonyms[strings.ToLower(w)] {
			if len(out.Expansions) >= u.maxExpansions {
				break
			}
			out.Expansions = append(out.Expansions, syn)
		}
	}

	out.Intent, out.IntentConfidence = classifyIntent(out.Corrected)
	return out
}

// correct replaces a word with a close vocabulary entry when the edit
// distance is small relative to the word's length. The candidate must share
// the first letter; short words only tolerate distance 1, so ordinary
// English words are not rewritten into near-miss vocabulary entries.
func (u *RuleUnderstander) correct(word string) string {
	lower := strings.ToLower(word)
	if len(lower) < 4 || u.vocabulary[lower] {
		return word
	}

	maxDist := 1
	if len(lower) >= 6 {
		maxDist = 2
	}

	best := ""
	bestDist := maxDist + 1
	for candidate := range u.vocabulary {
		if candidate[0] != lower[0] || abs(len(candidate)-len(lower)) > maxDist {
			continue
		}
		d := levenshtein(lower, candidate)
		if d < bestDist || (d == bestDist && best != "" && candidate < best) {
			best, bestDist = candidate, d
		}
	}
	if best == "" {
		return word
	}
	return best
}

func classifyIntent(query string) (string, float64) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return "lookup", 0.0
	}
	if strings.HasSuffix(q, "?") {
		return "question", 0.95
	}
	first := strings.Fields(q)[0]
	switch first {
	case "what", "when", "where", "which", "who", "how", "why", "does", "is", "are", "can":
		return "question", 0.9
	case "summarize", "list", "show", "explain", "compare", "describe", "find":
		return "command", 0.8
	}
	return "lookup", 0.6
}

// levenshtein computes the edit distance between two strings.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, min(curr[j-1]+1, prev[j-1]+cost))
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
