package workflow

import (
	"encoding/json"
	"fmt"
	"time"

	"meeting-insights-go/internal/failure"
	"meeting-insights-go/internal/types"
)

// Stage is one step of the fixed pipeline.
type Stage string

const (
	StageSubmit  Stage = "submit"
	StagePoll    Stage = "poll"
	StageFetch   Stage = "fetch"
	StageAnalyze Stage = "analyze"
	StagePersist Stage = "persist"

	// StageDone marks an instance with every output recorded.
	StageDone Stage = "done"
)

// Stages lists the pipeline in execution order.
var Stages = []Stage{StageSubmit, StagePoll, StageFetch, StageAnalyze, StagePersist}

func (s Stage) next() Stage {
	for i, st := range Stages {
		if st == s && i+1 < len(Stages) {
			return Stages[i+1]
		}
	}
	return StageDone
}

type State string

const (
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

func (s State) Terminal() bool {
	return s != StateRunning
}

// Failure records why an instance stopped.
type Failure struct {
	Stage  Stage        `json:"stage"`
	Kind   failure.Kind `json:"kind"`
	Reason string       `json:"reason"`
}

// Result is the aggregated output of a succeeded instance.
type Result struct {
	TranscriptionJobID string         `json:"transcriptionJobId"`
	ResultURL          string         `json:"resultUrl"`
	Analysis           types.Analysis `json:"analysis"`
	PersistStatus      string         `json:"persistStatus"`
}

// Stage outputs as checkpointed.
type (
	SubmitOutput struct {
		TranscriptionJobID string    `json:"transcriptionJobId"`
		SubmittedAt        time.Time `json:"submittedAt"`
	}
	PollOutput struct {
		ResultURL string `json:"resultUrl"`
		Attempts  int    `json:"attempts"`
	}
	FetchOutput struct {
		Transcript string `json:"transcript"`
	}
	PersistOutput struct {
		Ack string `json:"ack"`
	}
)

// Instance is one execution of the pipeline for one audio input.
type Instance struct {
	ID        string                    `json:"id"`
	Input     string                    `json:"input"`
	Stage     Stage                     `json:"stage"`
	State     State                     `json:"state"`
	Outputs   map[Stage]json.RawMessage `json:"outputs"`
	Attempts  map[Stage]int             `json:"attempts,omitempty"`
	// Polled counts transcription status responses observed so far.
	Polled    int                       `json:"polled,omitempty"`
	Result    *Result                   `json:"result,omitempty"`
	Failure   *Failure                  `json:"failure,omitempty"`
	CreatedAt time.Time                 `json:"createdAt"`
	UpdatedAt time.Time                 `json:"updatedAt"`
}

func (i *Instance) has(stage Stage) bool {
	_, ok := i.Outputs[stage]
	return ok
}

// record appends stage's output. Outputs are append-only.
func (i *Instance) record(stage Stage, v any) error {
	if i.has(stage) {
		return fmt.Errorf("output of stage %s already recorded", stage)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s output: %w", stage, err)
	}
	if i.Outputs == nil {
		i.Outputs = make(map[Stage]json.RawMessage)
	}
	i.Outputs[stage] = raw
	i.Stage = stage.next()
	return nil
}

// Output decodes the recorded output of stage into v.
func (i *Instance) Output(stage Stage, v any) error {
	raw, ok := i.Outputs[stage]
	if !ok {
		return fmt.Errorf("no output recorded for stage %s", stage)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %s output: %w", stage, err)
	}
	return nil
}

// aggregate builds the final result from the five outputs.
func (i *Instance) aggregate() (*Result, error) {
	var (
		submit  SubmitOutput
		poll    PollOutput
		persist PersistOutput
		res     Result
	)
	if err := i.Output(StageSubmit, &submit); err != nil {
		return nil, err
	}
	if err := i.Output(StagePoll, &poll); err != nil {
		return nil, err
	}
	if err := i.Output(StageAnalyze, &res.Analysis); err != nil {
		return nil, err
	}
	if err := i.Output(StagePersist, &persist); err != nil {
		return nil, err
	}
	res.TranscriptionJobID = submit.TranscriptionJobID
	res.ResultURL = poll.ResultURL
	res.PersistStatus = persist.Ack
	return &res, nil
}
