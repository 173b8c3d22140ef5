// Package aggregator summarizes the outcome of a batch of meeting instances.
package aggregator

import "meeting-insights-go/internal/workflow"

type Summary struct {
	Total           int                    `json:"total"`
	ByState         map[workflow.State]int `json:"by_state"`
	FailuresByStage map[workflow.Stage]int `json:"failures_by_stage"`
	SuccessRate     float64                `json:"success_rate"`
	ActionItems     int                    `json:"action_items"`
	Decisions       int                    `json:"decisions"`
}

// Succeeded reports whether every instance in the batch succeeded.
func (s Summary) Succeeded() bool {
	return s.ByState[workflow.StateSucceeded] == s.Total
}

func Aggregate(insts []*workflow.Instance) Summary {
	sum := Summary{
		ByState:         map[workflow.State]int{},
		FailuresByStage: map[workflow.Stage]int{},
	}
	for _, inst := range insts {
		if inst == nil {
			continue
		}
		sum.Total++
		sum.ByState[inst.State]++
		if inst.Failure != nil {
			sum.FailuresByStage[inst.Failure.Stage]++
		}
		if inst.Result != nil {
			sum.ActionItems += len(inst.Result.Analysis.ActionItems)
			sum.Decisions += len(inst.Result.Analysis.DecisionsMade)
		}
	}
	if sum.Total > 0 {
		sum.SuccessRate = float64(sum.ByState[workflow.StateSucceeded]) / float64(sum.Total)
	}
	return sum
}
