// Package qrun holds the wire model of a staged inference run as reported by
// the inference service.
package qrun

import (
	"encoding/json"
	"strings"
)

// Status is the run status reported by the service. Besides the values below
// it may be any stage key in upper case, meaning "this stage is executing".
type Status string

const (
	StatusQueued      Status = "QUEUED"
	StatusCompleted   Status = "COMPLETED"
	StatusFailed      Status = "FAILED"
	StatusDataMissing Status = "DATA_MISSING"
)

// IsTerminal reports whether no further transitions follow s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusDataMissing:
		return true
	}
	return false
}

// StageStatus builds the status value announcing that the stage with the
// given catalog key is executing.
func StageStatus(key string) Status {
	return Status(strings.ToUpper(key))
}

// StepState is the per-stage state some pipelines report explicitly.
type StepState string

const (
	StepPending   StepState = "pending"
	StepRunning   StepState = "running"
	StepCompleted StepState = "completed"
	StepFailed    StepState = "failed"
)

// Run is the full run object returned by GET /api/run/{run_id}.
type Run struct {
	RunID           string                     `json:"run_id"`
	Status          Status                     `json:"status"`
	StepStates      map[string]StepState       `json:"step_states,omitempty"`
	StepArtifacts   map[string]json.RawMessage `json:"step_artifacts,omitempty"`
	MissingRequired []string                   `json:"missing_required,omitempty"`
	Result          *Result                    `json:"result,omitempty"`
	Error           string                     `json:"error,omitempty"`
	FailedStage     string                     `json:"failed_stage,omitempty"` // set by services that name the failing stage
	UpdatedAt       string                     `json:"updated_at,omitempty"`
}

// Result is the final decision payload of a completed run.
type Result struct {
	Probability float64            `json:"probability"`
	Label       string             `json:"label,omitempty"`
	Submodels   map[string]float64 `json:"submodels,omitempty"`
	GeneratedAt string             `json:"generated_at,omitempty"`
}

// HasArtifact reports whether the run carries an artifact under key.
func (r *Run) HasArtifact(key string) bool {
	if r == nil || key == "" {
		return false
	}
	_, ok := r.StepArtifacts[key]
	return ok
}

// Clone returns a deep copy so readers never share maps with the writer.
func (r *Run) Clone() *Run {
	if r == nil {
		return nil
	}
	out := *r
	if r.StepStates != nil {
		out.StepStates = make(map[string]StepState, len(r.StepStates))
		for k, v := range r.StepStates {
			out.StepStates[k] = v
		}
	}
	if r.StepArtifacts != nil {
		out.StepArtifacts = make(map[string]json.RawMessage, len(r.StepArtifacts))
		for k, v := range r.StepArtifacts {
			out.StepArtifacts[k] = append(json.RawMessage(nil), v...)
		}
	}
	if r.MissingRequired != nil {
		out.MissingRequired = append([]string(nil), r.MissingRequired...)
	}
	if r.Result != nil {
		res := *r.Result
		if r.Result.Submodels != nil {
			res.Submodels = make(map[string]float64, len(r.Result.Submodels))
			for k, v := range r.Result.Submodels {
				res.Submodels[k] = v
			}
		}
		out.Result = &res
	}
	return &out
}

// SubmitRequest is the body of POST /api/run. A nil value marks a field the
// operator left empty.
type SubmitRequest struct {
	Values  map[string]any `json:"values" yaml:"values"`
	Options map[string]any `json:"options,omitempty" yaml:"options"`
}

// SubmitResponse is the body of a successful POST /api/run.
type SubmitResponse struct {
	RunID string `json:"run_id"`
}

// Field describes one input field of the model.
type Field struct {
	Name     string `json:"name"`
	Label    string `json:"label,omitempty"`
	Required bool   `json:"required"`
	Default  any    `json:"default,omitempty"`
}

// StageInfo is the service's description of one pipeline stage.
type StageInfo struct {
	Key         string `json:"key"`
	Label       string `json:"label"`
	ArtifactKey string `json:"artifact_key,omitempty"`
}

// Meta is the static configuration returned by GET /api/meta.
type Meta struct {
	Variant string      `json:"variant"`
	Model   string      `json:"model"`
	Version string      `json:"version"`
	Fields  []Field     `json:"fields"`
	Stages  []StageInfo `json:"stages,omitempty"`
}

// Defaults returns the default value of every field that declares one.
func (m *Meta) Defaults() map[string]any {
	out := make(map[string]any)
	if m == nil {
		return out
	}
	for _, f := range m.Fields {
		if f.Default != nil {
			out[f.Name] = f.Default
		}
	}
	return out
}
