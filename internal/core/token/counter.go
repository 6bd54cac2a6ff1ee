// Package token counts tokens for chunk sizing, context budgeting and cost
// estimation.
package token

import (
	"github.com/pkoukk/tiktoken-go"
)

// Counter counts tokens with the cl100k_base encoding when available and
// falls back to a character heuristic when the encoding cannot be loaded
// (e.g. no cached BPE files in an offline environment).
type Counter struct {
	enc *tiktoken.Tiktoken
}

func NewCounter() *Counter {
	enc, err := tiktoken.GetEncoding(tiktoken.MODEL_CL100K_BASE)
	if err != nil {
		return &Counter{}
	}
	return &Counter{enc: enc}
}

// Count returns the token count of s.
func (c *Counter) Count(s string) int {
	if s == "" {
		return 0
	}
	if c == nil || c.enc == nil {
		return approx(s)
	}
	return len(c.enc.Encode(s, nil, nil))
}

// approx is a cheap token estimator (~4 chars per token).
func approx(s string) int {
	n := len([]rune(s))
	if n <= 0 {
		return 0
	}
	return (n + 3) / 4
}
