package ingestion_engine

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"code.sajari.com/docconv"

	"github.com/markdave123-py/contexta-ingest/internal/core"
)

var _ core.DocumentConverter = (*DocconvConverter)(nil)

// DocconvConverter converts documents in-process with sajari/docconv. It is
// used when no external conversion service is configured.
type DocconvConverter struct {
	useReadability bool
}

func NewDocconvConverter(useReadability bool) *DocconvConverter {
	return &DocconvConverter{useReadability: useReadability}
}

func (c *DocconvConverter) Convert(ctx context.Context, filename string, data []byte) (*core.ConversionResult, error) {
	mimeType := docconv.MimeTypeByExtension(filename)
	if mimeType == "application/octet-stream" {
		return nil, fmt.Errorf("docconv: no converter for %q", filename)
	}

	type result struct {
		res *docconv.Response
		err error
	}
	done := make(chan result, 1)

	// docconv has no context support; abandon the goroutine on cancellation.
	go func() {
		res, err := docconv.Convert(bytes.NewReader(data), mimeType, c.useReadability)
		done <- result{res, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("docconv: convert %s: %w", mimeType, r.err)
		}
		return &core.ConversionResult{
			Text:     strings.TrimSpace(r.res.Body),
			ByteSize: int64(len(data)),
		}, nil
	}
}
