package routes

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"
	"github.com/quatton/qwatch/pkg/db"
	"github.com/quatton/qwatch/pkg/db/models"
	"github.com/quatton/qwatch/pkg/qapi/schemas"
)

// HistoryReader reads finished runs. *db.History satisfies it.
type HistoryReader interface {
	Get(ctx context.Context, id uuid.UUID) (*models.RunRecord, error)
	Recent(ctx context.Context, limit int) ([]models.RunRecord, error)
}

// ListHistoryInput defines the input for listing recorded runs
type ListHistoryInput struct {
	Limit int `query:"limit" default:"20" minimum:"1" maximum:"200" doc:"Maximum number of runs"`
}

// ListHistoryOutput is the response for listing recorded runs
type ListHistoryOutput struct {
	Body schemas.ListHistoryResponse
}

// GetHistoryInput defines the input for getting a recorded run
type GetHistoryInput struct {
	RunID string `path:"runId" doc:"Run ID"`
}

// GetHistoryOutput is the response for getting a recorded run
type GetHistoryOutput struct {
	Body schemas.HistoryEntry
}

// RegisterHistory registers the routes over the finished-run history. A nil
// reader answers 503, as when the simulator runs without a database.
func RegisterHistory(api huma.API, history HistoryReader) {
	huma.Register(api, huma.Operation{
		OperationID: "list-history",
		Method:      http.MethodGet,
		Path:        "/api/history",
		Summary:     "List recorded runs",
		Description: "Finished runs from the history database, newest first",
		Tags:        []string{TagHistory.String()},
	}, func(ctx context.Context, input *ListHistoryInput) (*ListHistoryOutput, error) {
		if history == nil {
			return nil, huma.Error503ServiceUnavailable("run history not enabled")
		}
		recs, err := history.Recent(ctx, input.Limit)
		if err != nil {
			return nil, huma.Error500InternalServerError(fmt.Sprintf("failed to list history: %v", err))
		}
		resp := &ListHistoryOutput{}
		resp.Body.Runs = make([]schemas.HistoryEntry, 0, len(recs))
		for i := range recs {
			resp.Body.Runs = append(resp.Body.Runs, toHistoryEntry(&recs[i]))
		}
		return resp, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-history",
		Method:      http.MethodGet,
		Path:        "/api/history/{runId}",
		Summary:     "Get a recorded run",
		Tags:        []string{TagHistory.String()},
	}, func(ctx context.Context, input *GetHistoryInput) (*GetHistoryOutput, error) {
		if history == nil {
			return nil, huma.Error503ServiceUnavailable("run history not enabled")
		}
		id, err := uuid.Parse(input.RunID)
		if err != nil {
			return nil, huma.Error404NotFound("run not recorded")
		}
		rec, err := history.Get(ctx, id)
		if errors.Is(err, db.ErrRunNotFound) {
			return nil, huma.Error404NotFound("run not recorded")
		}
		if err != nil {
			return nil, huma.Error500InternalServerError(fmt.Sprintf("failed to load run: %v", err))
		}
		return &GetHistoryOutput{Body: toHistoryEntry(rec)}, nil
	})
}

func toHistoryEntry(rec *models.RunRecord) schemas.HistoryEntry {
	return schemas.HistoryEntry{
		RunID:           rec.ID.String(),
		Variant:         rec.Variant,
		Status:          rec.Status,
		FailedStage:     rec.FailedStage,
		Error:           rec.Error,
		Probability:     rec.Probability,
		MissingRequired: rec.MissingRequired,
		Request:         rec.Request,
		CreatedAt:       rec.CreatedAt,
		FinishedAt:      rec.FinishedAt,
	}
}
