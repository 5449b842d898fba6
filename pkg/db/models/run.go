package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// RunRecord is the finished-run history row written by the simulator once a
// run reaches a terminal status.
type RunRecord struct {
	bun.BaseModel `bun:"table:sim.runs,alias:r"`

	ID              uuid.UUID      `bun:"type:uuid,pk"`
	Variant         string         `bun:",notnull"`
	Status          string         `bun:",notnull"`
	FailedStage     string         `bun:",nullzero"`
	Error           string         `bun:",nullzero"`
	Probability     *float64       `bun:","`
	MissingRequired []string       `bun:",array"`
	Request         map[string]any `bun:"type:jsonb"`

	CreatedAt  time.Time `bun:",nullzero,notnull,default:current_timestamp"`
	FinishedAt time.Time `bun:",nullzero,notnull,default:current_timestamp"`
}
