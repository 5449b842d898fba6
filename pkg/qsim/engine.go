// Package qsim simulates the staged inference service: runs advance through
// the variant's stages on a fixed delay and publish deterministic artifacts.
// Live state sits in a kv.Store so several API replicas can share it.
package qsim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	dbmodels "github.com/quatton/qwatch/pkg/db/models"
	"github.com/quatton/qwatch/pkg/kv"
	"github.com/quatton/qwatch/pkg/qlog"
	"github.com/quatton/qwatch/pkg/qrun"
	"github.com/quatton/qwatch/pkg/qstage"
)

const (
	runPrefix     = "sim:run:"
	historyPrefix = "sim:history:"

	DefaultStageDelay = 800 * time.Millisecond
	DefaultTTL        = 24 * time.Hour
)

// ErrRunNotFound is returned for ids the simulator does not know.
var ErrRunNotFound = errors.New("run not found")

// Recorder persists finished runs. *db.History satisfies it.
type Recorder interface {
	Record(ctx context.Context, rec *dbmodels.RunRecord) error
}

type record struct {
	ID        string         `json:"id"`
	Variant   string         `json:"variant"`
	Values    map[string]any `json:"values"`
	Options   Options        `json:"options"`
	Missing   []string       `json:"missing,omitempty"`
	Delay     time.Duration  `json:"delay"`
	CreatedAt time.Time      `json:"created_at"`
}

// Engine owns the simulated runs of one pipeline variant.
type Engine struct {
	catalog  *qstage.Catalog
	store    kv.Store
	history  Recorder
	logger   *qlog.Logger
	delay    time.Duration
	ttl      time.Duration
	now      func() time.Time
	newID    func() (uuid.UUID, error)
	onEntry  bool
	fields   []qrun.Field
	model    string
	version  string
}

type Option func(*Engine)

func WithStageDelay(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.delay = d
		}
	}
}

func WithTTL(d time.Duration) Option {
	return func(e *Engine) { e.ttl = d }
}

func WithHistory(r Recorder) Option {
	return func(e *Engine) { e.history = r }
}

func WithLogger(l *qlog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New returns an Engine for catalog c keeping state in store.
func New(c *qstage.Catalog, store kv.Store, opts ...Option) *Engine {
	m := models[c.Variant]
	e := &Engine{
		catalog: c,
		store:   store,
		logger:  qlog.Discard(),
		delay:   DefaultStageDelay,
		ttl:     DefaultTTL,
		now:     time.Now,
		newID:   uuid.NewV7,
		fields:  m.fields,
		model:   m.name,
		version: m.version,
	}
	// pipelines whose failing stage is the deepest publisher emit on entry
	if a, ok := c.Inference.(qstage.ArtifactScan); ok && a.FailPublisher {
		e.onEntry = true
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Catalog() *qstage.Catalog {
	return e.catalog
}

// Meta describes the simulated model.
func (e *Engine) Meta() qrun.Meta {
	return qrun.Meta{
		Variant: e.catalog.Variant,
		Model:   e.model,
		Version: e.version,
		Fields:  append([]qrun.Field(nil), e.fields...),
		Stages:  e.catalog.Info(),
	}
}

// Submit validates req and creates a run. Missing required fields do not
// reject the submission; the run reports DATA_MISSING instead.
func (e *Engine) Submit(ctx context.Context, req qrun.SubmitRequest) (string, error) {
	opts, err := decodeOptions(req.Options, e.catalog)
	if err != nil {
		return "", err
	}
	id, err := e.newID()
	if err != nil {
		return "", fmt.Errorf("generate run id: %w", err)
	}

	values := req.Values
	if values == nil {
		values = map[string]any{}
	}
	rec := &record{
		ID:        id.String(),
		Variant:   e.catalog.Variant,
		Values:    values,
		Options:   opts,
		Delay:     e.delay,
		CreatedAt: e.now().UTC(),
	}
	if !opts.AllowMissingDemo {
		rec.Missing = missingRequired(e.fields, values)
	}

	b, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("encode run: %w", err)
	}
	if err := e.store.Set(ctx, runPrefix+rec.ID, b, e.ttl); err != nil {
		return "", fmt.Errorf("store run: %w", err)
	}
	e.logger.Info("run created", "run_id", rec.ID, "variant", rec.Variant, "missing", len(rec.Missing))
	return rec.ID, nil
}

func (e *Engine) load(ctx context.Context, id string) (*record, error) {
	b, err := e.store.Get(ctx, runPrefix+id)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load run: %w", err)
	}
	var rec record
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("decode run %s: %w", id, err)
	}
	return &rec, nil
}

// Run returns the current snapshot of run id. Terminal runs are recorded
// in the history once.
func (e *Engine) Run(ctx context.Context, id string) (*qrun.Run, error) {
	rec, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	run := e.snapshot(rec, e.now())
	if run.Status.IsTerminal() {
		e.record(ctx, rec, run)
	}
	return run, nil
}

// Runs lists the ids of live runs.
func (e *Engine) Runs(ctx context.Context) ([]string, error) {
	keys, err := e.store.Keys(ctx, runPrefix)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(keys))
	for i, k := range keys {
		ids[i] = k[len(runPrefix):]
	}
	return ids, nil
}

// snapshot computes the run state at now. Tick 0 is QUEUED; tick k runs
// stage k-1; past the last stage the run is COMPLETED.
func (e *Engine) snapshot(rec *record, now time.Time) *qrun.Run {
	n := e.catalog.Len()
	delay := rec.Delay
	if delay <= 0 {
		delay = e.delay
	}
	tick := int(now.Sub(rec.CreatedAt) / delay)
	if tick < 0 {
		tick = 0
	}
	run := &qrun.Run{
		RunID:     rec.ID,
		Status:    qrun.StatusQueued,
		UpdatedAt: rec.CreatedAt.Add(time.Duration(tick) * delay).Format(time.RFC3339Nano),
	}
	if tick == 0 {
		e.stepStates(run, -1, qstage.Pending)
		return run
	}

	if len(rec.Missing) > 0 {
		run.Status = qrun.StatusDataMissing
		run.MissingRequired = append([]string(nil), rec.Missing...)
		run.Error = "required fields are missing"
		e.stepStates(run, 0, qstage.Failed)
		return run
	}

	current := tick - 1
	if rec.Options.FailAt != "" {
		st, ok := e.catalog.Stage(rec.Options.FailAt)
		if f := st.Index; ok && current >= f {
			run.Status = qrun.StatusFailed
			run.Error = fmt.Sprintf("%s: injected failure", st.Label)
			if rec.Options.ReportFailedStage {
				run.FailedStage = st.Key
			}
			e.publish(run, rec, f)
			e.stepStates(run, f, qstage.Failed)
			return run
		}
	}

	if current >= n {
		run.Status = qrun.StatusCompleted
		e.publish(run, rec, n)
		run.Result = result(rec, e.catalog, run.UpdatedAt)
		e.stepStates(run, n, qstage.Completed)
		return run
	}

	st := e.catalog.At(current)
	run.Status = qrun.StageStatus(st.Key)
	e.publish(run, rec, current)
	e.stepStates(run, current, qstage.Running)
	return run
}

// publish attaches the artifacts of every stage before upto, and of stage
// upto itself for pipelines that publish on entry.
func (e *Engine) publish(run *qrun.Run, rec *record, upto int) {
	last := upto - 1
	if e.onEntry && upto < e.catalog.Len() {
		last = upto
	}
	for i := 0; i <= last; i++ {
		st := e.catalog.At(i)
		if st.ArtifactKey == "" {
			continue
		}
		if run.StepArtifacts == nil {
			run.StepArtifacts = make(map[string]json.RawMessage)
		}
		run.StepArtifacts[st.ArtifactKey] = artifact(rec, st)
	}
}

// stepStates fills step_states for pipelines that report them: stages before
// at are completed, stage at gets st, the rest stay pending.
func (e *Engine) stepStates(run *qrun.Run, at int, st qstage.State) {
	if !e.catalog.StepStatesAuthoritative {
		return
	}
	run.StepStates = make(map[string]qrun.StepState, e.catalog.Len())
	for i, s := range e.catalog.Stages() {
		switch {
		case i < at || st == qstage.Completed:
			run.StepStates[s.Key] = qrun.StepCompleted
		case i == at:
			run.StepStates[s.Key] = qrun.StepState(st)
		default:
			run.StepStates[s.Key] = qrun.StepPending
		}
	}
}

// record writes a terminal run to the history once; the kv guard keeps
// concurrent pollers from inserting twice.
func (e *Engine) record(ctx context.Context, rec *record, run *qrun.Run) {
	if e.history == nil {
		return
	}
	first, err := e.store.SetNX(ctx, historyPrefix+rec.ID, []byte(run.Status), e.ttl)
	if err != nil {
		e.logger.Warn("history guard failed", "run_id", rec.ID, "error", err)
		return
	}
	if !first {
		return
	}
	id, err := uuid.Parse(rec.ID)
	if err != nil {
		e.logger.Warn("run id is not a uuid, skipping history", "run_id", rec.ID)
		return
	}
	row := &dbmodels.RunRecord{
		ID:              id,
		Variant:         rec.Variant,
		Status:          string(run.Status),
		FailedStage:     run.FailedStage,
		Error:           run.Error,
		MissingRequired: run.MissingRequired,
		Request:         rec.Values,
		CreatedAt:       rec.CreatedAt,
		FinishedAt:      e.now().UTC(),
	}
	if run.Result != nil {
		p := run.Result.Probability
		row.Probability = &p
	}
	if err := e.history.Record(ctx, row); err != nil {
		e.logger.Error("failed to record run history", "run_id", rec.ID, "error", err)
		_ = e.store.Delete(ctx, historyPrefix+rec.ID)
		return
	}
	e.logger.Info("run recorded", "run_id", rec.ID, "status", run.Status)
}
