// Package poller tracks a remote transcription job until it reaches a terminal state or the
// attempt budget runs out.
package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"meeting-insights-go/internal/config"
	"meeting-insights-go/internal/failure"
	"meeting-insights-go/internal/logger"
	"meeting-insights-go/internal/transcription"
)

// NoStatusMessage stands in for a failed job that gave no reason.
const NoStatusMessage = "(no statusMessage returned)"

type State string

const (
	StateRunning   State = "Running"
	StateSucceeded State = "Succeeded"
	StateFailed    State = "Failed"
	StateTimedOut  State = "TimedOut"
)

func (s State) Terminal() bool {
	return s != StateRunning
}

// Next is the poller's transition function. attempts counts status responses observed so
// far, including this one.
func Next(current State, observed transcription.Status, attempts, maxAttempts int) State {
	if current.Terminal() {
		return current
	}
	switch observed {
	case transcription.StatusSucceeded:
		return StateSucceeded
	case transcription.StatusFailed:
		return StateFailed
	}
	if attempts >= maxAttempts {
		return StateTimedOut
	}
	return StateRunning
}

// StatusSource is the part of the transcription client the poller drives.
type StatusSource interface {
	QueryStatus(ctx context.Context, jobID string) (transcription.Job, error)
	ListFiles(ctx context.Context, job transcription.Job) ([]transcription.File, error)
}

// Attempt records one status query for observability.
type Attempt struct {
	Index   int                  `json:"index"`
	At      time.Time            `json:"at"`
	Status  transcription.Status `json:"status"`
	Elapsed time.Duration        `json:"elapsed"`
}

type Result struct {
	State   State  `json:"state"`
	FileURL string `json:"fileUrl,omitempty"`
	// Polled is the number of status responses counted against the budget, including
	// those observed by earlier calls.
	Polled   int       `json:"polled"`
	Attempts []Attempt `json:"attempts"`
}

type Poller struct {
	src         StatusSource
	interval    time.Duration
	maxAttempts int
	log         *logger.Logger
	now         func() time.Time
	wait        func(ctx context.Context, d time.Duration) error
}

func New(src StatusSource, cfg config.Poll, log *logger.Logger) *Poller {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = config.DefaultPollMaxAttempts
	}
	if cfg.Interval < 0 {
		cfg.Interval = config.DefaultPollInterval
	}
	return &Poller{
		src:         src,
		interval:    cfg.Interval,
		maxAttempts: cfg.MaxAttempts,
		log:         log.Component("poller"),
		now:         time.Now,
		wait:        sleep,
	}
}

// sleep suspends until d elapses or ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Poll queries jobID until it succeeds, fails, or the attempt budget is spent. used is the
// number of status responses already observed for this job by earlier calls; they count
// against the same budget, so a retried or resumed poll does not start over. On success it
// returns the URL of the job's JSON transcription file.
//
// A failed query is not a status response and is not counted. Result.Polled is set on every
// return so the caller can carry it into the next call.
//
// Cancelling ctx is honoured only while waiting between queries; a query in flight runs to
// completion.
func (p *Poller) Poll(ctx context.Context, jobID string, submittedAt time.Time, used int) (Result, error) {
	const op = "poller.Poll"
	res := Result{State: StateRunning, Polled: max(used, 0)}
	if jobID == "" {
		return res, failure.InvalidInput(op, "transcriptionJobId is required")
	}
	if res.Polled >= p.maxAttempts {
		res.State = StateTimedOut
		return res, p.timeout(jobID)
	}
	if submittedAt.IsZero() {
		submittedAt = p.now()
	}

	queryCtx := context.WithoutCancel(ctx)
	log := p.log.With("job_id", jobID)

	for {
		job, err := p.src.QueryStatus(queryCtx, jobID)
		if err != nil {
			log.WithError(err).WithField("polled", res.Polled).Warn("status query failed")
			return res, err
		}

		res.Polled++
		at := p.now()
		res.Attempts = append(res.Attempts, Attempt{
			Index:   res.Polled,
			At:      at,
			Status:  job.Status,
			Elapsed: at.Sub(submittedAt),
		})
		res.State = Next(res.State, job.Status, res.Polled, p.maxAttempts)
		log.WithField("attempt", res.Polled).WithField("status", job.Status).Info("polled transcription job")

		switch res.State {
		case StateSucceeded:
			files, err := p.src.ListFiles(queryCtx, job)
			if err != nil {
				return res, err
			}
			fileURL, err := SelectTranscriptFile(files)
			if err != nil {
				log.WithError(err).WithField("files", len(files)).Error("transcript file selection failed")
				return res, err
			}
			res.FileURL = fileURL
			log.WithField("file_url", fileURL).Info("transcription ready")
			return res, nil

		case StateFailed:
			reason := job.StatusMessage
			if reason == "" {
				reason = NoStatusMessage
			}
			log.WithField("reason", reason).Warn("speech batch job failed")
			return res, failure.New(failure.KindTerminalProvider, op, failure.ErrJobFailed, "%s", reason)

		case StateTimedOut:
			return res, p.timeout(jobID)
		}

		if err := p.wait(ctx, p.interval); err != nil {
			return res, failure.New(failure.KindCancelled, op, errors.Join(failure.ErrCancelled, err),
				"cancelled while waiting for job %s", jobID)
		}
	}
}

func (p *Poller) timeout(jobID string) error {
	waited := time.Duration(p.maxAttempts) * p.interval
	return failure.New(failure.KindTimeout, "poller.Poll", failure.ErrPollTimeout,
		"timed out after %d attempts (%s) waiting for job %s", p.maxAttempts, waited, jobID)
}

// SelectTranscriptFile picks the single Transcription file whose content path ends in .json.
// None or several matches are both errors; the listing is not guessed at.
func SelectTranscriptFile(files []transcription.File) (string, error) {
	const op = "poller.SelectTranscriptFile"

	var matches []string
	for _, f := range files {
		if f.IsJSONTranscript() {
			matches = append(matches, f.ContentURL)
		}
	}

	switch len(matches) {
	case 0:
		return "", failure.Schema(op, failure.ErrNoTranscriptFile, failure.ErrNoTranscriptFile.Error())
	case 1:
		return matches[0], nil
	default:
		return "", failure.Schema(op, failure.ErrAmbiguousTranscriptFile,
			fmt.Sprintf("%d .json transcription files in files listing", len(matches)))
	}
}
