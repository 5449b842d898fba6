package routes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"

	"github.com/danielgtaylor/huma/v2"
	"github.com/quatton/qwatch/pkg/qapi/schemas"
	"github.com/quatton/qwatch/pkg/qrun"
	"github.com/quatton/qwatch/pkg/qsim"
)

// SubmitRunInput defines the input for submitting a run
type SubmitRunInput struct {
	Body schemas.SubmitRunRequest
}

// SubmitRunOutput is the response for submitting a run
type SubmitRunOutput struct {
	Body schemas.SubmitRunResponse
}

// GetRunInput defines the input for getting a run
type GetRunInput struct {
	RunID string `path:"runId" doc:"Run ID"`
}

// GetRunOutput is the response for getting a run
type GetRunOutput struct {
	Body schemas.RunResponse
}

// ListRunsOutput is the response for listing runs
type ListRunsOutput struct {
	Body schemas.ListRunsResponse
}

// RegisterRuns registers run-related routes
func RegisterRuns(api huma.API, engine *qsim.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "submit-run",
		Method:        http.MethodPost,
		Path:          "/api/run",
		Summary:       "Submit a new run",
		Description:   "Create a run that advances through the pipeline stages",
		Tags:          []string{TagRuns.String()},
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *SubmitRunInput) (*SubmitRunOutput, error) {
		if engine == nil {
			return nil, huma.Error503ServiceUnavailable("simulator not configured")
		}

		id, err := engine.Submit(ctx, qrun.SubmitRequest{
			Values:  input.Body.Values,
			Options: input.Body.Options,
		})
		if err != nil {
			var ve *qsim.ValidationError
			if errors.As(err, &ve) {
				return nil, huma.Error422UnprocessableEntity(ve.Error())
			}
			return nil, huma.Error500InternalServerError(fmt.Sprintf("failed to submit run: %v", err))
		}

		resp := &SubmitRunOutput{}
		resp.Body.RunID = id
		return resp, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-runs",
		Method:      http.MethodGet,
		Path:        "/api/runs",
		Summary:     "List runs",
		Description: "List the ids of runs the simulator still holds",
		Tags:        []string{TagRuns.String()},
	}, func(ctx context.Context, input *struct{}) (*ListRunsOutput, error) {
		resp := &ListRunsOutput{}
		resp.Body.Runs = []string{}
		if engine == nil {
			return resp, nil
		}
		ids, err := engine.Runs(ctx)
		if err != nil {
			return nil, huma.Error500InternalServerError(fmt.Sprintf("failed to list runs: %v", err))
		}
		sort.Strings(ids)
		resp.Body.Runs = append(resp.Body.Runs, ids...)
		return resp, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-run",
		Method:      http.MethodGet,
		Path:        "/api/run/{runId}",
		Summary:     "Get run status",
		Description: "Current status, step states, artifacts and, once finished, the result",
		Tags:        []string{TagRuns.String()},
	}, func(ctx context.Context, input *GetRunInput) (*GetRunOutput, error) {
		if engine == nil {
			return nil, huma.Error503ServiceUnavailable("simulator not configured")
		}

		run, err := engine.Run(ctx, input.RunID)
		if errors.Is(err, qsim.ErrRunNotFound) {
			return nil, huma.Error404NotFound("run not found")
		}
		if err != nil {
			return nil, huma.Error500InternalServerError(fmt.Sprintf("failed to load run: %v", err))
		}

		body, err := toRunResponse(run)
		if err != nil {
			return nil, huma.Error500InternalServerError(err.Error())
		}
		return &GetRunOutput{Body: body}, nil
	})
}

// toRunResponse converts a qrun.Run to a schemas.RunResponse
func toRunResponse(run *qrun.Run) (schemas.RunResponse, error) {
	resp := schemas.RunResponse{
		RunID:           run.RunID,
		Status:          string(run.Status),
		StepStates:      run.StepStates,
		MissingRequired: run.MissingRequired,
		Result:          run.Result,
		Error:           run.Error,
		FailedStage:     run.FailedStage,
		UpdatedAt:       run.UpdatedAt,
	}
	if len(run.StepArtifacts) > 0 {
		resp.StepArtifacts = make(map[string]any, len(run.StepArtifacts))
		for k, raw := range run.StepArtifacts {
			var v any
			if err := json.Unmarshal(raw, &v); err != nil {
				return resp, fmt.Errorf("artifact %s: %w", k, err)
			}
			resp.StepArtifacts[k] = v
		}
	}
	return resp, nil
}
