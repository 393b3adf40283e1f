package crawl_engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/markdave123-py/contexta-ingest/internal/core"
)

// pollState is the explicit state of the job status loop.
type pollState struct {
	attempt  int
	interval time.Duration
	deadline time.Time
	max      int
}

func (s pollState) exhausted(now time.Time) bool {
	return s.attempt >= s.max || now.After(s.deadline)
}

// poller waits for a crawl job to reach a terminal status.
type poller struct {
	client      core.CrawlerClient
	clock       core.Clock
	interval    time.Duration
	maxAttempts int
	callTimeout time.Duration
	logger      *slog.Logger
}

// wait polls every interval until the job succeeds, fails or the attempts run
// out. Failed status calls count as attempts and do not end the loop.
func (p *poller) wait(ctx context.Context, jobID string) (*core.CrawlJob, error) {
	st := pollState{
		interval: p.interval,
		max:      p.maxAttempts,
		// Each attempt waits one interval plus at most one bounded status call.
		deadline: p.clock.Now().Add((p.interval + p.callTimeout) * time.Duration(p.maxAttempts)),
	}

	for {
		if st.exhausted(p.clock.Now()) {
			return nil, &core.CrawlError{Kind: core.ErrCrawlTimeout, JobID: jobID}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-p.clock.After(st.interval):
		}
		st.attempt++

		callCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
		job, err := p.client.Status(callCtx, jobID)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			p.logger.Warn("crawl status check failed", "job_id", jobID, "attempt", st.attempt, "error", err)
			continue
		}

		p.logger.Debug("crawl status", "job_id", jobID, "attempt", st.attempt, "status", job.Status)
		if !job.Status.Done() {
			continue
		}
		switch job.Status {
		case core.CrawlJobFailed:
			return nil, &core.CrawlError{Kind: core.ErrCrawlFailed, JobID: jobID}
		case core.CrawlJobAborted:
			return nil, &core.CrawlError{Kind: core.ErrCrawlAborted, JobID: jobID}
		}
		return job, nil
	}
}
