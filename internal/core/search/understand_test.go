package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNoopUnderstanderPassesThrough(t *testing.T) {
	u := NoopUnderstander{}.Understand("raw query text")
	assert.Equal(t, "raw query text", u.Original)
	assert.Equal(t, "raw query text", u.Corrected)
	assert.Empty(t, u.Expansions)
}

func TestRuleUnderstanderCorrectsTypos(t *testing.T) {
	u := NewRuleUnderstander()

	out := u.Understand("find the documnet")
	assert.Equal(t, "find the document", out.Corrected)

	// Known words and short words are left alone.
	out = u.Understand("find the document")
	assert.Equal(t, "find the document", out.Corrected)
	out = u.Understand("dog cat")
	assert.Equal(t, "dog cat", out.Corrected)
}

func TestRuleUnderstanderExpandsSynonyms(t *testing.T) {
	u := NewRuleUnderstander()

	out := u.Understand("delete the document")
	assert.NotEmpty(t, out.Expansions)
	assert.Contains(t, out.Expansions, "remove")
	assert.LessOrEqual(t, len(out.Expansions), 5)
}

func TestRuleUnderstanderClassifiesIntent(t *testing.T) {
	u := NewRuleUnderstander()

	cases := []struct {
		query  string
		intent string
	}{
		{"what is a vector index?", "question"},
		{"how does chunking work", "question"},
		{"summarize the report", "command"},
		{"list recent uploads", "command"},
		{"quarterly revenue figures", "lookup"},
	}
	for _, c := range cases {
		out := u.Understand(c.query)
		assert.Equal(t, c.intent, out.Intent, "query %q", c.query)
		assert.Positive(t, out.IntentConfidence)
	}
}

func TestLevenshtein(t *testing.T) {
	assert.Equal(t, 0, levenshtein("same", "same"))
	assert.Equal(t, 1, levenshtein("cat", "cart"))
	assert.Equal(t, 2, levenshtein("kitten", "sittin"))
	assert.Equal(t, 4, levenshtein("", "word"))
}
