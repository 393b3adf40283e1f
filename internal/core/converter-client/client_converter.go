package converterclient

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/markdave123-py/contexta-ingest/internal/core"
)

const DefaultTimeout = 2 * time.Minute

var _ core.DocumentConverter = (*Client)(nil)

type convertRequest struct {
	Filename      string `json:"filename"`
	Base64Content string `json:"base64Content"`
}

type convertResponse struct {
	Text     string `json:"text"`
	TextURL  string `json:"textUrl"`
	ByteSize int64  `json:"byteSize"`
}

// Client sends office and PDF documents to the conversion service. Large
// outputs are returned by reference and fetched from textUrl.
type Client struct {
	http *resty.Client
}

func NewClient(baseURL, token string, timeout time.Duration) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("converter service url not set")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout)
	if token != "" {
		c.SetAuthToken(token)
	}
	return &Client{http: c}, nil
}

func (c *Client) Convert(ctx context.Context, filename string, data []byte) (*core.ConversionResult, error) {
	var out convertResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(convertRequest{Filename: filename, Base64Content: base64.StdEncoding.EncodeToString(data)}).
		SetResult(&out).
		Post("/convert")
	if err != nil {
		return nil, fmt.Errorf("convert %s: %w", filename, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("convert %s: status %d: %s", filename, resp.StatusCode(), resp.String())
	}

	text := out.Text
	if text == "" && out.TextURL != "" {
		r, err := c.http.R().SetContext(ctx).Get(out.TextURL)
		if err != nil {
			return nil, fmt.Errorf("fetch converted text: %w", err)
		}
		if r.IsError() {
			return nil, fmt.Errorf("fetch converted text: status %d", r.StatusCode())
		}
		text = r.String()
	}

	size := out.ByteSize
	if size <= 0 {
		size = int64(len(data))
	}
	return &core.ConversionResult{Text: strings.TrimSpace(text), ByteSize: size, External: true}, nil
}
