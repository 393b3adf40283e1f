package ingestion_engine

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"net/url"
	"path/filepath"
	"strings"
	"unicode/utf8"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/go-resty/resty/v2"

	"github.com/markdave123-py/contexta-ingest/internal/core"
	"github.com/markdave123-py/contexta-ingest/internal/models"
)

var _ core.DocumentExtractor = (*Extractor)(nil)

// Extractor turns uploaded files and single URLs into normalized text.
type Extractor struct {
	cfg       ExtractorConfig
	http      *resty.Client
	markdown  *md.Converter
	converter core.DocumentConverter
	logger    *slog.Logger
}

// NewExtractor builds an Extractor. converter handles office and PDF formats;
// when nil those formats are rejected as unsupported.
func NewExtractor(cfg ExtractorConfig, converter core.DocumentConverter, logger *slog.Logger) *Extractor {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	client := resty.New().
		SetTimeout(cfg.FetchTimeout).
		SetHeader("User-Agent", cfg.UserAgent).
		SetHeader("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.5").
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(5))

	return &Extractor{
		cfg:       cfg,
		http:      client,
		markdown:  md.NewConverter("", true, nil),
		converter: converter,
		logger:    logger.With("component", "extractor"),
	}
}

func (e *Extractor) Extract(ctx context.Context, src core.Source) (*core.ExtractedText, error) {
	switch src.Kind {
	case models.SourceKindFile:
		return e.extractFile(ctx, src)
	case models.SourceKindURL:
		return e.extractURL(ctx, src.Locator)
	default:
		return nil, fmt.Errorf("%w: source kind %q", core.ErrInvalidInput, src.Kind)
	}
}

func (e *Extractor) extractFile(ctx context.Context, src core.Source) (*core.ExtractedText, error) {
	ext := strings.ToLower(filepath.Ext(src.Locator))
	meta := models.ExtractionMetadata{
		OriginalFormat: strings.TrimPrefix(ext, "."),
		FileSizeBytes:  int64(len(src.Data)),
	}

	var text string
	switch {
	case directTextExts[ext]:
		text = decodeText(src.Data)

	case htmlExts[ext]:
		out, err := e.markdown.ConvertString(decodeText(src.Data))
		if err != nil {
			return nil, core.NewExtractionError(core.ErrConversionFailed, src.Locator, err)
		}
		text = out

	case convertibleExts[ext]:
		if e.converter == nil {
			return nil, core.NewExtractionError(core.ErrUnsupportedFormat, src.Locator, fmt.Errorf("no converter configured for %s", ext))
		}
		res, err := e.converter.Convert(ctx, src.Locator, src.Data)
		if err != nil {
			return nil, core.NewExtractionError(core.ErrConversionFailed, src.Locator, err)
		}
		text = res.Text
		meta.ExternalConverterUsed = res.External
		if res.ByteSize > 0 {
			meta.FileSizeBytes = res.ByteSize
		}

	default:
		return nil, core.NewExtractionError(core.ErrUnsupportedFormat, src.Locator, nil)
	}

	text = NormalizeText(text)
	if text == "" {
		return nil, core.NewExtractionError(core.ErrEmptyContent, src.Locator, nil)
	}
	meta.WordCount = WordCount(text)

	e.logger.Debug("file extracted", "file", src.Locator, "format", meta.OriginalFormat, "words", meta.WordCount)
	return &core.ExtractedText{Text: text, Metadata: meta}, nil
}

func (e *Extractor) extractURL(ctx context.Context, raw string) (*core.ExtractedText, error) {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, core.NewExtractionError(core.ErrFetchFailed, raw, fmt.Errorf("invalid url"))
	}

	resp, err := e.http.R().SetContext(ctx).Get(u.String())
	if err != nil {
		return nil, core.NewExtractionError(core.ErrFetchFailed, raw, err)
	}
	if resp.IsError() {
		return nil, core.NewExtractionError(core.ErrFetchFailed, raw, fmt.Errorf("status %d", resp.StatusCode()))
	}

	contentType := resp.Header().Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}

	body := resp.Body()
	meta := models.ExtractionMetadata{FileSizeBytes: int64(len(body))}

	var text string
	switch mediaType {
	case "text/html", "application/xhtml+xml":
		page, err := htmlToText(decodeText(body))
		if err != nil {
			return nil, core.NewExtractionError(core.ErrFetchFailed, raw, err)
		}
		text = page.Text
		meta.Title = page.Title
		meta.OriginalFormat = "html"
	case "text/plain":
		text = decodeText(body)
		meta.OriginalFormat = "text"
	default:
		return nil, core.NewExtractionError(core.ErrUnsupportedContentType, raw, fmt.Errorf("%q", contentType))
	}

	text = NormalizeText(text)
	if utf8.RuneCountInString(text) < e.cfg.MinContentLength {
		return nil, core.NewExtractionError(core.ErrEmptyContent, raw, nil)
	}
	meta.WordCount = WordCount(text)

	e.logger.Debug("url extracted", "url", raw, "status", resp.StatusCode(), "words", meta.WordCount)
	return &core.ExtractedText{Text: text, Metadata: meta}, nil
}

// decodeText strips a UTF-8 BOM and replaces invalid sequences.
func decodeText(b []byte) string {
	s := strings.TrimPrefix(string(b), "\ufeff")
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "\ufffd")
	}
	return s
}
