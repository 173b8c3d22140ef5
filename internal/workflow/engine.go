// Package workflow drives meeting instances through submit, poll, fetch, analyze and persist,
// checkpointing each stage's output so a restarted process resumes where it stopped.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"meeting-insights-go/internal/config"
	"meeting-insights-go/internal/failure"
	"meeting-insights-go/internal/logger"
	"meeting-insights-go/internal/store"
	"meeting-insights-go/internal/tracing"
	"meeting-insights-go/internal/types"
)

var (
	ErrNotFound       = errors.New("instance not found")
	ErrTerminal       = errors.New("instance already finished")
	ErrAlreadyRunning = errors.New("instance already running")
)

type Options struct {
	Retry config.Retry
	// DefaultInput is used when Start is given no audio reference.
	DefaultInput string
	Tracer       trace.Tracer
}

// handle is the in-process bookkeeping for one running instance.
type handle struct {
	cancel context.CancelFunc

	mu        sync.Mutex
	requested bool
	// finishing is set once the final stage's result has been kept.
	finishing bool
}

// requestCancel records a cancellation request and stops the run. It refuses once the final
// stage's side effect has been accepted.
func (h *handle) requestCancel() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.finishing {
		return false
	}
	h.requested = true
	h.cancel()
	return true
}

func (h *handle) cancelRequested() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.requested
}

// settle decides a finished stage attempt: true means a cancellation is pending and the
// result is discarded. Keeping the result of the last stage closes the handle to later
// requests, so a cancel can never be acknowledged for an instance that then succeeds.
func (h *handle) settle(last bool) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.requested {
		return true
	}
	if last {
		h.finishing = true
	}
	return false
}

type Engine struct {
	store        store.Store
	acts         Activities
	retry        config.Retry
	defaultInput string
	tracer       trace.Tracer
	log          *logger.Logger
	now          func() time.Time

	base context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu      sync.Mutex
	running map[string]*handle
}

func New(st store.Store, acts Activities, opts Options, log *logger.Logger) *Engine {
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry.MaxAttempts = config.DefaultRetryMaxAttempts
	}
	if opts.Retry.MaxInterval <= 0 {
		opts.Retry.MaxInterval = config.DefaultRetryMaxInterval
	}
	if opts.Tracer == nil {
		opts.Tracer = noop.NewTracerProvider().Tracer("workflow")
	}
	base, stop := context.WithCancel(context.Background())
	return &Engine{
		store:        st,
		acts:         acts,
		retry:        opts.Retry,
		defaultInput: opts.DefaultInput,
		tracer:       opts.Tracer,
		log:          log.Component("workflow"),
		now:          time.Now,
		base:         base,
		stop:         stop,
		running:      make(map[string]*handle),
	}
}

// Start creates an instance for input and runs it in the background. It returns once the
// instance's first checkpoint is durable.
func (e *Engine) Start(ctx context.Context, input string) (string, error) {
	inst, err := e.create(ctx, input)
	if err != nil {
		return "", err
	}
	e.launch(inst.ID)
	return inst.ID, nil
}

// Execute creates an instance for input and runs it to completion on the caller's goroutine.
func (e *Engine) Execute(ctx context.Context, input string) (*Instance, error) {
	inst, err := e.create(ctx, input)
	if err != nil {
		return nil, err
	}
	return e.Run(ctx, inst.ID)
}

func (e *Engine) create(ctx context.Context, input string) (*Instance, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		input = e.defaultInput
	}
	if input == "" {
		return nil, failure.InvalidInput("workflow.Start", "audio reference is required")
	}

	now := e.now().UTC()
	inst := &Instance{
		ID:        uuid.NewString(),
		Input:     input,
		Stage:     StageSubmit,
		State:     StateRunning,
		Outputs:   make(map[Stage]json.RawMessage),
		Attempts:  make(map[Stage]int),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.checkpoint(ctx, inst); err != nil {
		return nil, err
	}
	e.log.WithField("instance_id", inst.ID).WithField("input", input).Info("instance created")
	return inst, nil
}

func (e *Engine) launch(id string) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if _, err := e.Run(e.base, id); err != nil && !errors.Is(err, ErrAlreadyRunning) && !errors.Is(err, context.Canceled) {
			e.log.WithError(err).WithField("instance_id", id).Error("instance run aborted")
		}
	}()
}

// Resume relaunches every instance whose last checkpoint is not terminal. Stages with a
// recorded output are not invoked again.
func (e *Engine) Resume(ctx context.Context) (int, error) {
	recs, err := e.store.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active instances: %w", err)
	}

	n := 0
	for _, rec := range recs {
		if e.isRunning(rec.ID) {
			continue
		}
		e.log.WithField("instance_id", rec.ID).Info("resuming instance")
		e.launch(rec.ID)
		n++
	}
	return n, nil
}

// Status returns the last checkpoint of id.
func (e *Engine) Status(ctx context.Context, id string) (*Instance, error) {
	return e.load(ctx, id)
}

// Cancel requests cancellation of id. A running instance stops at its next suspension point;
// an in-flight activity completes and its result is discarded.
func (e *Engine) Cancel(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if h, ok := e.running[id]; ok {
		if !h.requestCancel() {
			return fmt.Errorf("%w: %s is completing", ErrTerminal, id)
		}
		e.log.WithField("instance_id", id).Info("cancellation requested")
		return nil
	}

	// Not running here; Run cannot register while the lock is held.
	inst, err := e.load(ctx, id)
	if err != nil {
		return err
	}
	if inst.State.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrTerminal, id, inst.State)
	}
	_, err = e.finishCancelled(ctx, inst, inst.Stage)
	return err
}

// Shutdown stops background runs at their next suspension point, leaving them resumable,
// and waits for them to return.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.stop()
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) isRunning(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.running[id]
	return ok
}

func (e *Engine) register(id string, h *handle) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.running[id]; ok {
		return false
	}
	e.running[id] = h
	return true
}

func (e *Engine) unregister(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.running, id)
}

// Run drives id from its last checkpoint to a terminal state. A failed or cancelled
// instance is not an error; the returned error reports engine-level problems such as a
// failed checkpoint, or ctx ending before the instance finished.
func (e *Engine) Run(ctx context.Context, id string) (*Instance, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	h := &handle{cancel: cancel}
	if !e.register(id, h) {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, id)
	}
	defer e.unregister(id)

	inst, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if inst.State.Terminal() {
		return inst, nil
	}

	log := e.log.With("instance_id", id)
	for _, stage := range Stages {
		if inst.has(stage) {
			continue
		}

		if runCtx.Err() != nil {
			return e.interrupted(ctx, inst, h, stage)
		}

		out, err := e.runStage(runCtx, inst, stage, log.With("stage", stage))
		if h.settle(stage == Stages[len(Stages)-1] && err == nil) {
			log.WithField("stage", stage).Info("discarding stage result after cancellation")
			return e.finishCancelled(ctx, inst, stage)
		}
		if err != nil {
			if runCtx.Err() != nil {
				return e.interrupted(ctx, inst, h, stage)
			}
			return e.fail(ctx, inst, stage, err)
		}

		if err := inst.record(stage, out); err != nil {
			return e.fail(ctx, inst, stage, err)
		}
		if err := e.checkpoint(ctx, inst); err != nil {
			// The output is not durable, so the instance must not advance.
			_, _ = e.fail(ctx, inst, stage, err)
			return inst, err
		}
		log.WithField("stage", stage).Info("stage completed")
	}

	res, err := inst.aggregate()
	if err != nil {
		return e.fail(ctx, inst, StageDone, err)
	}
	inst.Result = res
	inst.State = StateSucceeded
	if err := e.checkpoint(ctx, inst); err != nil {
		return inst, err
	}
	log.WithField("transcription_job_id", res.TranscriptionJobID).Info("instance succeeded")
	return inst, nil
}

// interrupted handles runCtx ending without a cancellation request: the instance keeps its
// last checkpoint and stays resumable.
func (e *Engine) interrupted(ctx context.Context, inst *Instance, h *handle, stage Stage) (*Instance, error) {
	if h.cancelRequested() {
		return e.finishCancelled(ctx, inst, stage)
	}
	e.log.WithField("instance_id", inst.ID).WithField("stage", stage).Info("instance suspended")
	return inst, context.Cause(ctx)
}

func (e *Engine) fail(ctx context.Context, inst *Instance, stage Stage, err error) (*Instance, error) {
	inst.State = StateFailed
	inst.Failure = &Failure{Stage: stage, Kind: failure.KindOf(err), Reason: failure.ReasonOf(err)}

	e.log.WithError(err).
		WithField("instance_id", inst.ID).
		WithField("stage", stage).
		WithField("kind", inst.Failure.Kind).
		Error("instance failed")

	if cerr := e.checkpoint(ctx, inst); cerr != nil {
		return inst, cerr
	}
	return inst, nil
}

func (e *Engine) finishCancelled(ctx context.Context, inst *Instance, stage Stage) (*Instance, error) {
	inst.State = StateCancelled
	inst.Failure = &Failure{Stage: stage, Kind: failure.KindCancelled, Reason: failure.ErrCancelled.Error()}
	e.log.WithField("instance_id", inst.ID).WithField("stage", stage).Info("instance cancelled")

	if err := e.checkpoint(ctx, inst); err != nil {
		return inst, err
	}
	return inst, nil
}

// runStage invokes stage with bounded exponential backoff. Only transient errors are
// retried; running out of attempts turns the last one into StageFailed.
func (e *Engine) runStage(ctx context.Context, inst *Instance, stage Stage, log *logger.Logger) (any, error) {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(e.retry.InitialInterval),
			backoff.WithMaxInterval(e.retry.MaxInterval),
			backoff.WithMultiplier(2),
			backoff.WithMaxElapsedTime(0),
		), uint64(e.retry.MaxAttempts-1)),
		ctx,
	)

	if inst.Attempts == nil {
		inst.Attempts = make(map[Stage]int)
	}

	var (
		out     any
		attempt int
	)
	operation := func() error {
		attempt++
		inst.Attempts[stage]++
		v, err := e.invoke(ctx, inst, stage, attempt)
		if err != nil {
			if !failure.Retryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		out = v
		return nil
	}
	notify := func(err error, wait time.Duration) {
		log.WithError(err).WithField("attempt", attempt).WithField("retry_in", wait.String()).Warn("stage attempt failed, retrying")
	}

	err := backoff.RetryNotify(operation, policy, notify)
	if err != nil && failure.Retryable(err) {
		return nil, failure.New(failure.KindStageFailed, "workflow."+string(stage), err,
			"retries exhausted after %d attempts: %s", attempt, failure.ReasonOf(err))
	}
	return out, err
}

// invoke runs one attempt of stage inside its own span. Activities other than poll run
// detached from cancellation; the poller honours it between queries.
func (e *Engine) invoke(ctx context.Context, inst *Instance, stage Stage, attempt int) (any, error) {
	spanCtx, span := e.tracer.Start(ctx, "workflow.stage", trace.WithAttributes(
		attribute.String(tracing.InstanceIDKey, inst.ID),
		attribute.String(tracing.StageKey, string(stage)),
		attribute.Int(tracing.AttemptKey, attempt),
	))
	defer span.End()

	out, err := e.dispatch(spanCtx, inst, stage)
	if err != nil {
		tracing.SetError(span, err, attribute.String(tracing.ErrorKindKey, string(failure.KindOf(err))))
	}
	return out, err
}

func (e *Engine) dispatch(ctx context.Context, inst *Instance, stage Stage) (any, error) {
	detached := context.WithoutCancel(ctx)

	switch stage {
	case StageSubmit:
		jobID, err := e.acts.Submitter.Submit(detached, inst.Input)
		if err != nil {
			return nil, err
		}
		return SubmitOutput{TranscriptionJobID: jobID, SubmittedAt: e.now().UTC()}, nil

	case StagePoll:
		var sub SubmitOutput
		if err := inst.Output(StageSubmit, &sub); err != nil {
			return nil, err
		}
		res, err := e.acts.Poller.Poll(ctx, sub.TranscriptionJobID, sub.SubmittedAt, inst.Polled)
		if res.Polled > inst.Polled {
			inst.Polled = res.Polled
			// Keep the spent budget durable across retries and restarts.
			if err != nil {
				if cerr := e.checkpoint(ctx, inst); cerr != nil {
					e.log.WithError(cerr).WithField("instance_id", inst.ID).Warn("poll count checkpoint failed")
				}
			}
		}
		if err != nil {
			return nil, err
		}
		return PollOutput{ResultURL: res.FileURL, Attempts: res.Polled}, nil

	case StageFetch:
		var poll PollOutput
		if err := inst.Output(StagePoll, &poll); err != nil {
			return nil, err
		}
		text, err := e.acts.Fetcher.Fetch(detached, poll.ResultURL)
		if err != nil {
			return nil, err
		}
		return FetchOutput{Transcript: text}, nil

	case StageAnalyze:
		var fetched FetchOutput
		if err := inst.Output(StageFetch, &fetched); err != nil {
			return nil, err
		}
		return e.acts.Analyzer.Analyze(detached, fetched.Transcript)

	case StagePersist:
		var analysis types.Analysis
		if err := inst.Output(StageAnalyze, &analysis); err != nil {
			return nil, err
		}
		ack, err := e.acts.Persister.Persist(detached, inst.ID, analysis)
		if err != nil {
			return nil, err
		}
		return PersistOutput{Ack: ack}, nil
	}
	return nil, fmt.Errorf("unknown stage %q", stage)
}

func (e *Engine) load(ctx context.Context, id string) (*Instance, error) {
	rec, err := e.store.GetInstance(ctx, id)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}

	var inst Instance
	if err := json.Unmarshal(rec.Data, &inst); err != nil {
		return nil, fmt.Errorf("decode instance %s: %w", id, err)
	}
	if inst.Outputs == nil {
		inst.Outputs = make(map[Stage]json.RawMessage)
	}
	if inst.Attempts == nil {
		inst.Attempts = make(map[Stage]int)
	}
	return &inst, nil
}

// checkpoint writes inst durably. The write is detached from cancellation so a cancelled or
// interrupted run can still record its final state.
func (e *Engine) checkpoint(ctx context.Context, inst *Instance) error {
	inst.UpdatedAt = e.now().UTC()
	data, err := json.Marshal(inst)
	if err != nil {
		return failure.New(failure.KindStageFailed, "workflow.checkpoint", err, "encode instance: %v", err)
	}

	err = e.store.SaveInstance(context.WithoutCancel(ctx), store.InstanceRecord{
		ID:        inst.ID,
		State:     string(inst.State),
		Active:    !inst.State.Terminal(),
		Data:      data,
		UpdatedAt: inst.UpdatedAt,
	})
	if err != nil {
		return failure.New(failure.KindStageFailed, "workflow.checkpoint", err, "checkpoint failed: %v", err)
	}
	return nil
}
