package ingest

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"code.sajari.com/docconv"

	"github.com/tidewater-labs/quarry/internal/core"
)

// DocconvExtractor implements core.DocumentExtractor using sajari/docconv,
// which handles PDF, DOCX, HTML and plain text by MIME type.
type DocconvExtractor struct {
	useReadability bool
}

var _ core.DocumentExtractor = (*DocconvExtractor)(nil)

func NewDocconvExtractor(useReadability bool) *DocconvExtractor {
	return &DocconvExtractor{useReadability: useReadability}
}

func (e *DocconvExtractor) Extract(ctx context.Context, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	// docconv shells out for some formats; plain text short-circuits.
	if strings.HasPrefix(contentType, "text/plain") {
		return string(data), nil
	}

	res, err := docconv.Convert(bytes.NewReader(data), contentType, e.useReadability)
	if err != nil {
		return "", core.NewError(core.CodeExtraction,
			fmt.Sprintf("cannot extract text from %q", contentType), err)
	}
	return res.Body, nil
}
