package ingest

import (
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/tidewater-labs/quarry/internal/core/token"
	"github.com/tidewater-labs/quarry/internal/models"
)

// Chunker splits extracted text into token-bounded, overlapping chunks with
// stable offsets into the original text.
type Chunker struct {
	counter       *token.Counter
	targetTokens  int
	overlapTokens int
}

func NewChunker(counter *token.Counter, targetTokens, overlapTokens int) *Chunker {
	if targetTokens < 1 {
		targetTokens = 400
	}
	if overlapTokens < 0 {
		overlapTokens = 0
	}
	return &Chunker{counter: counter, targetTokens: targetTokens, overlapTokens: overlapTokens}
}

// fragment is one trimmed line with its span in the original text.
type fragment struct {
	text   string
	start  int
	end    int
	tokens int
}

// Split produces the ordered chunk sequence for a document. Chunk ids are
// derived from (document id, position), so re-ingesting the same document
// yields the same ids and upserts stay idempotent.
func (c *Chunker) Split(documentID, text string) []models.Chunk {
	frags := c.fragments(text)
	if len(frags) == 0 {
		return nil
	}

	var (
		out    []models.Chunk
		buf    []fragment
		tokSum int
		pos    int
	)

	flush := func() {
		if len(buf) == 0 {
			return
		}
		parts := make([]string, len(buf))
		for i, f := range buf {
			parts[i] = f.text
		}
		chunkText := strings.Join(parts, "\n")
		out = append(out, models.Chunk{
			ID:          ChunkID(documentID, pos),
			DocumentID:  documentID,
			Position:    pos,
			Text:        chunkText,
			StartOffset: buf[0].start,
			EndOffset:   buf[len(buf)-1].end,
			TokenCount:  tokSum,
		})
		pos++

		// Keep a tail of roughly overlapTokens as the seed of the next
		// chunk so context bleeds across boundaries.
		if c.overlapTokens > 0 {
			var keep []fragment
			remain := c.overlapTokens
			for j := len(buf) - 1; j >= 0 && remain > 0; j-- {
				keep = append([]fragment{buf[j]}, keep...)
				remain -= buf[j].tokens
			}
			// An overlap tail covering the whole buffer would emit the same
			// chunk forever.
			if len(keep) == len(buf) {
				keep = keep[1:]
			}
			buf = keep
			tokSum = 0
			for _, f := range buf {
				tokSum += f.tokens
			}
		} else {
			buf = buf[:0]
			tokSum = 0
		}
	}

	for _, f := range frags {
		buf = append(buf, f)
		tokSum += f.tokens
		if tokSum >= c.targetTokens {
			flush()
		}
	}
	// Tail, unless it is only the overlap seed of the previous chunk.
	if len(out) == 0 || tailHasNewContent(out[len(out)-1], buf) {
		flush()
	}

	return out
}

func tailHasNewContent(last models.Chunk, buf []fragment) bool {
	for _, f := range buf {
		if f.end > last.EndOffset {
			return true
		}
	}
	return false
}

// fragments splits text into trimmed non-empty lines with original offsets.
func (c *Chunker) fragments(text string) []fragment {
	var out []fragment
	offset := 0
	for _, line := range strings.SplitAfter(text, "\n") {
		raw := strings.TrimSuffix(line, "\n")
		trimmed := strings.TrimSpace(raw)
		if trimmed != "" {
			lead := strings.Index(raw, trimmed)
			start := offset + lead
			out = append(out, fragment{
				text:   trimmed,
				start:  start,
				end:    start + len(trimmed),
				tokens: c.counter.Count(trimmed),
			})
		}
		offset += len(line)
	}
	return out
}

// ChunkID derives the deterministic id of a document's chunk at a position.
func ChunkID(documentID string, position int) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(documentID+"#"+strconv.Itoa(position))).String()
}
