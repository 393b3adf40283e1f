package core

import "context"

// CrawlJobInput is what the external crawler receives for one website scan.
type CrawlJobInput struct {
	StartURL        string   `json:"startUrl"`
	MaxPages        int      `json:"maxPages"`
	MaxDepth        int      `json:"maxDepth"`
	IncludeGlobs    []string `json:"includeGlobs,omitempty"`
	ExcludeGlobs    []string `json:"excludeGlobs,omitempty"`
	MaxContentBytes int      `json:"maxContentBytes,omitempty"`
	MaxScrolls      int      `json:"maxScrolls,omitempty"`
}

type CrawlJobStatus string

const (
	CrawlJobQueued    CrawlJobStatus = "queued"
	CrawlJobRunning   CrawlJobStatus = "running"
	CrawlJobSucceeded CrawlJobStatus = "succeeded"
	CrawlJobFailed    CrawlJobStatus = "failed"
	CrawlJobAborted   CrawlJobStatus = "aborted"
)

// Done reports whether the crawler will not change the job any further.
func (s CrawlJobStatus) Done() bool {
	return s == CrawlJobSucceeded || s == CrawlJobFailed || s == CrawlJobAborted
}

type CrawlJob struct {
	ID     string         `json:"jobId"`
	Status CrawlJobStatus `json:"status"`
	Stats  map[string]int `json:"stats,omitempty"`
}

// CrawledItem is one page returned by the crawler.
type CrawledItem struct {
	URL         string `json:"url"`
	Text        string `json:"text"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// CrawlerClient talks to the external web-crawling service.
type CrawlerClient interface {
	Submit(ctx context.Context, in CrawlJobInput) (*CrawlJob, error)
	Status(ctx context.Context, jobID string) (*CrawlJob, error)
	Results(ctx context.Context, jobID string, limit int) ([]CrawledItem, error)
	Abort(ctx context.Context, jobID string) error
}
