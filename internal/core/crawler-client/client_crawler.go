package crawlerclient

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/markdave123-py/contexta-ingest/internal/core"
)

const DefaultTimeout = 30 * time.Second

var _ core.CrawlerClient = (*Client)(nil)

// Client talks to the external crawling service.
type Client struct {
	http *resty.Client
}

func NewClient(baseURL, token string, timeout time.Duration) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("crawler service url not set")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		})
	if token != "" {
		c.SetAuthToken(token)
	}
	return &Client{http: c}, nil
}

// Submit starts a crawl job.
func (c *Client) Submit(ctx context.Context, in core.CrawlJobInput) (*core.CrawlJob, error) {
	var job core.CrawlJob
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(in).
		SetResult(&job).
		Post("/jobs")
	if err := check(resp, err, "submit job"); err != nil {
		return nil, err
	}
	if job.ID == "" {
		return nil, fmt.Errorf("submit job: response carried no job id")
	}
	return &job, nil
}

func (c *Client) Status(ctx context.Context, jobID string) (*core.CrawlJob, error) {
	var job core.CrawlJob
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", jobID).
		SetResult(&job).
		Get("/jobs/{id}")
	if err := check(resp, err, "job status"); err != nil {
		return nil, err
	}
	if job.ID == "" {
		job.ID = jobID
	}
	return &job, nil
}

// Results fetches at most limit crawled items; limit <= 0 fetches all.
func (c *Client) Results(ctx context.Context, jobID string, limit int) ([]core.CrawledItem, error) {
	var items []core.CrawledItem
	req := c.http.R().
		SetContext(ctx).
		SetPathParam("id", jobID).
		SetResult(&items)
	if limit > 0 {
		req.SetQueryParam("limit", strconv.Itoa(limit))
	}
	resp, err := req.Get("/jobs/{id}/items")
	if err := check(resp, err, "job items"); err != nil {
		return nil, err
	}
	return items, nil
}

func (c *Client) Abort(ctx context.Context, jobID string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", jobID).
		Post("/jobs/{id}/abort")
	return check(resp, err, "abort job")
}

func check(resp *resty.Response, err error, op string) error {
	if err != nil {
		return fmt.Errorf("crawler %s: %w", op, err)
	}
	if resp.IsError() {
		return fmt.Errorf("crawler %s: status %d: %s", op, resp.StatusCode(), resp.String())
	}
	return nil
}
