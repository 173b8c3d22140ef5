package workflow

import (
	"context"
	"time"

	"meeting-insights-go/internal/poller"
	"meeting-insights-go/internal/types"
)

type Submitter interface {
	Submit(ctx context.Context, audioRef string) (string, error)
}

// JobPoller tracks a submitted job. used carries the status responses already counted against
// the poll budget; the result reports the new total.
type JobPoller interface {
	Poll(ctx context.Context, jobID string, submittedAt time.Time, used int) (poller.Result, error)
}

type Fetcher interface {
	Fetch(ctx context.Context, resultURL string) (string, error)
}

type Analyzer interface {
	Analyze(ctx context.Context, transcript string) (types.Analysis, error)
}

type Persister interface {
	Persist(ctx context.Context, instanceID string, analysis types.Analysis) (string, error)
}

// Activities bundles the collaborators invoked by each stage.
type Activities struct {
	Submitter Submitter
	Poller    JobPoller
	Fetcher   Fetcher
	Analyzer  Analyzer
	Persister Persister
}
