package schemas

import (
	"time"

	"github.com/quatton/qwatch/pkg/qrun"
)

// SubmitRunRequest represents a request to submit a run
type SubmitRunRequest struct {
	Values  map[string]any `json:"values" required:"false" doc:"Input values keyed by field name; null marks a field left empty"`
	Options map[string]any `json:"options,omitempty" required:"false" doc:"Run options: allow_missing_demo, fail_at, report_failed_stage, probability"`
}

// SubmitRunResponse carries the id of the created run
type SubmitRunResponse struct {
	RunID string `json:"run_id" doc:"Run ID"`
}

// RunResponse is the current snapshot of a run
type RunResponse struct {
	RunID           string                    `json:"run_id" doc:"Run ID"`
	Status          string                    `json:"status" doc:"QUEUED, an upper-case stage key, COMPLETED, FAILED or DATA_MISSING"`
	StepStates      map[string]qrun.StepState `json:"step_states,omitempty" doc:"Per-stage state, reported by pipelines that track it"`
	StepArtifacts   map[string]any            `json:"step_artifacts,omitempty" doc:"Artifact per stage, present once the stage produced output"`
	MissingRequired []string                  `json:"missing_required,omitempty" doc:"Required fields that were missing"`
	Result          *qrun.Result              `json:"result,omitempty" doc:"Final decision, present when COMPLETED"`
	Error           string                    `json:"error,omitempty" doc:"Failure description"`
	FailedStage     string                    `json:"failed_stage,omitempty" doc:"Stage that failed, when reported"`
	UpdatedAt       string                    `json:"updated_at,omitempty" doc:"Timestamp of the snapshot"`
}

// ListRunsResponse lists the live run ids
type ListRunsResponse struct {
	Runs []string `json:"runs" doc:"Run IDs"`
}

// HistoryEntry is a finished run recorded by the simulator
type HistoryEntry struct {
	RunID           string         `json:"run_id" doc:"Run ID"`
	Variant         string         `json:"variant" doc:"Pipeline variant"`
	Status          string         `json:"status" doc:"Terminal status"`
	FailedStage     string         `json:"failed_stage,omitempty" doc:"Stage that failed, when reported"`
	Error           string         `json:"error,omitempty" doc:"Failure description"`
	Probability     *float64       `json:"probability,omitempty" doc:"Result probability, when COMPLETED"`
	MissingRequired []string       `json:"missing_required,omitempty" doc:"Required fields that were missing"`
	Request         map[string]any `json:"request,omitempty" doc:"Submitted values"`
	CreatedAt       time.Time      `json:"created_at" doc:"Submission time"`
	FinishedAt      time.Time      `json:"finished_at" doc:"Time the terminal status was recorded"`
}

// ListHistoryResponse lists recorded runs, newest first
type ListHistoryResponse struct {
	Runs []HistoryEntry `json:"runs" doc:"Recorded runs"`
}
