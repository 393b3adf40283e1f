package crawl_engine

import "time"

const (
	DefaultPollInterval    = 10 * time.Second
	DefaultMaxPollAttempts = 60
	DefaultMaxDepth        = 5
	DefaultPageConcurrency = 2
	MaxPageConcurrency     = 4
	DefaultCheckpointEvery = 10
	DefaultMaxPages        = 50
	MaxPagesLimit          = 500
	DefaultMaxContentBytes = 2 << 20
	DefaultMaxScrolls      = 5
	DefaultRunPoolSize     = 8
	DefaultCallTimeout     = 30 * time.Second
)

// CrawlConfig tunes the orchestrator.
//
// PollInterval/MaxPollAttempts: how long a crawl job may stay unfinished.
// PageConcurrency:              pages indexed at once per run, capped at MaxPageConcurrency.
// CheckpointEvery:              run counters are persisted every N pages.
// RunPoolSize:                  crawl runs executing at once in this process.
// CallTimeout:                  timeout of every single crawler API call.
type CrawlConfig struct {
	PollInterval    time.Duration
	MaxPollAttempts int
	MaxDepth        int
	PageConcurrency int
	CheckpointEvery int
	DefaultMaxPages int
	MaxContentBytes int
	MaxScrolls      int
	RunPoolSize     int
	CallTimeout     time.Duration
}

func (c *CrawlConfig) withDefaults() *CrawlConfig {
	out := CrawlConfig{}
	if c != nil {
		out = *c
	}
	if out.PollInterval <= 0 {
		out.PollInterval = DefaultPollInterval
	}
	if out.MaxPollAttempts <= 0 {
		out.MaxPollAttempts = DefaultMaxPollAttempts
	}
	if out.MaxDepth <= 0 {
		out.MaxDepth = DefaultMaxDepth
	}
	if out.PageConcurrency <= 0 {
		out.PageConcurrency = DefaultPageConcurrency
	}
	if out.PageConcurrency > MaxPageConcurrency {
		out.PageConcurrency = MaxPageConcurrency
	}
	if out.CheckpointEvery <= 0 {
		out.CheckpointEvery = DefaultCheckpointEvery
	}
	if out.DefaultMaxPages <= 0 {
		out.DefaultMaxPages = DefaultMaxPages
	}
	if out.MaxContentBytes <= 0 {
		out.MaxContentBytes = DefaultMaxContentBytes
	}
	if out.MaxScrolls <= 0 {
		out.MaxScrolls = DefaultMaxScrolls
	}
	if out.RunPoolSize <= 0 {
		out.RunPoolSize = DefaultRunPoolSize
	}
	if out.CallTimeout <= 0 {
		out.CallTimeout = DefaultCallTimeout
	}
	return &out
}

// maxPages resolves the page cap of one scan.
func (c *CrawlConfig) maxPages(requested int) int {
	if requested <= 0 {
		requested = c.DefaultMaxPages
	}
	return min(requested, MaxPagesLimit)
}
