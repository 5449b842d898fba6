package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/quatton/qwatch/pkg/db/models"
	"github.com/uptrace/bun"
)

// ErrRunNotFound is returned by History.Get for unknown ids.
var ErrRunNotFound = errors.New("run not recorded")

// History stores finished simulator runs.
type History struct {
	db bun.IDB
}

func NewHistory(db bun.IDB) *History {
	return &History{db: db}
}

// Record inserts rec; recording the same run twice is a no-op.
func (h *History) Record(ctx context.Context, rec *models.RunRecord) error {
	_, err := h.db.NewInsert().
		Model(rec).
		On("CONFLICT (id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("record run %s: %w", rec.ID, err)
	}
	return nil
}

func (h *History) Get(ctx context.Context, id uuid.UUID) (*models.RunRecord, error) {
	rec := new(models.RunRecord)
	err := h.db.NewSelect().Model(rec).Where("r.id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Recent lists the latest finished runs, newest first.
func (h *History) Recent(ctx context.Context, limit int) ([]models.RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var recs []models.RunRecord
	err := h.db.NewSelect().
		Model(&recs).
		Order("r.finished_at DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return recs, nil
}
