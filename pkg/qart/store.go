// Package qart keeps the artifacts of the currently tracked run and exports
// finished runs to S3-compatible storage.
package qart

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/quatton/qwatch/pkg/qrun"
	"github.com/quatton/qwatch/pkg/qstage"
)

// IngestResult tells what Ingest did with a payload.
type IngestResult int

const (
	// Accepted payloads became the new snapshot.
	Accepted IngestResult = iota
	// Foreign payloads belong to a run that is not tracked (superseded or never begun).
	Foreign
	// Closed payloads arrived after the tracked run reached a terminal status.
	Closed
	// Stale payloads would have moved progress backwards.
	Stale
)

func (r IngestResult) String() string {
	switch r {
	case Accepted:
		return "accepted"
	case Foreign:
		return "foreign"
	case Closed:
		return "closed"
	case Stale:
		return "stale"
	}
	return fmt.Sprintf("IngestResult(%d)", int(r))
}

// Store holds the latest snapshot of one tracked run. Ingest is the only
// write path; readers get deep copies.
type Store struct {
	catalog *qstage.Catalog
	limits  Limits

	mu           sync.RWMutex
	runID        string
	run          *qrun.Run
	progress     int
	completed    int
	transportErr error
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLimits sets the bounds used by compact projections.
func WithLimits(l Limits) StoreOption {
	return func(s *Store) {
		s.limits = l.withDefaults()
	}
}

// NewStore creates an empty store reading stages from catalog.
func NewStore(catalog *qstage.Catalog, opts ...StoreOption) *Store {
	s := &Store{
		catalog: catalog,
		limits:  DefaultLimits(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Catalog returns the stage catalog the store reads.
func (s *Store) Catalog() *qstage.Catalog {
	return s.catalog
}

// Begin switches the store to runID, discarding everything held for the
// previous run.
func (s *Store) Begin(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runID = runID
	s.run = nil
	s.progress = 0
	s.completed = 0
	s.transportErr = nil
}

// Reset drops the run association so that every payload is foreign until the
// next Begin.
func (s *Store) Reset() {
	s.Begin("")
}

// RunID returns the tracked run id, empty when none.
func (s *Store) RunID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.runID
}

// Ingest merges a freshly fetched payload. Each payload is a full snapshot:
// artifacts it omits are kept from earlier snapshots, artifacts it carries
// replace earlier ones. A terminal status is accepted whenever the run is not
// already terminal.
func (s *Store) Ingest(in *qrun.Run) IngestResult {
	if in == nil {
		return Foreign
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.runID == "" || in.RunID != s.runID {
		return Foreign
	}
	if s.run != nil && s.run.Status.IsTerminal() {
		return Closed
	}

	merged := in.Clone()
	if s.run != nil {
		for k, v := range s.run.StepArtifacts {
			if _, ok := merged.StepArtifacts[k]; ok {
				continue
			}
			if merged.StepArtifacts == nil {
				merged.StepArtifacts = make(map[string]json.RawMessage)
			}
			merged.StepArtifacts[k] = v
		}
	}

	if !merged.Status.IsTerminal() {
		states := qstage.DeriveStageStates(merged, s.catalog)
		p, done := qstage.Progress(states), qstage.CountCompleted(states)
		if p < s.progress || done < s.completed {
			return Stale
		}
		s.progress, s.completed = p, done
	}
	s.run = merged
	return Accepted
}

// MarkTransportFailure records that polling the tracked run failed on the
// client side. The run becomes FAILED locally with an empty service error;
// the cause is kept apart and returned by TransportError.
func (s *Store) MarkTransportFailure(runID string, cause error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.runID == "" || runID != s.runID {
		return false
	}
	if s.run != nil && s.run.Status.IsTerminal() {
		return false
	}
	run := s.run.Clone()
	if run == nil {
		run = &qrun.Run{RunID: runID}
	}
	run.Status = qrun.StatusFailed
	run.Error = ""
	run.Result = nil
	failOpenStep(run, s.catalog)
	s.run = run
	s.transportErr = cause
	return true
}

// failOpenStep marks the running step of a locally failed run as failed so
// reported step states never leave a stage running under a terminal status.
// Without a running step the first unfinished one is blamed.
func failOpenStep(run *qrun.Run, c *qstage.Catalog) {
	if c == nil || len(run.StepStates) == 0 {
		return
	}
	open := ""
	for _, st := range c.Stages() {
		switch run.StepStates[st.Key] {
		case qrun.StepRunning:
			run.StepStates[st.Key] = qrun.StepFailed
			return
		case qrun.StepFailed:
			return
		case qrun.StepCompleted:
		default:
			if open == "" {
				open = st.Key
			}
		}
	}
	if open != "" {
		run.StepStates[open] = qrun.StepFailed
	}
}

// TransportError returns the client-side failure recorded for the run.
func (s *Store) TransportError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.transportErr
}

// Snapshot returns a copy of the latest accepted payload, nil before the
// first one.
func (s *Store) Snapshot() *qrun.Run {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.run.Clone()
}

// States derives the current stage states.
func (s *Store) States() qstage.States {
	return qstage.DeriveStageStates(s.Snapshot(), s.catalog)
}

// Mode selects how Project renders an artifact.
type Mode int

const (
	ProjectRaw Mode = iota
	ProjectCompact
)

// Project returns the artifact of a stage, addressed by stage key or artifact
// key, either verbatim or bounded for display.
func (s *Store) Project(key string, mode Mode) (json.RawMessage, error) {
	artifactKey := key
	if st, ok := s.catalog.Stage(key); ok {
		if st.ArtifactKey == "" {
			return nil, fmt.Errorf("%s: %w", st.Key, ErrNoArtifactKey)
		}
		artifactKey = st.ArtifactKey
	}

	s.mu.RLock()
	var raw json.RawMessage
	if s.run != nil {
		raw = append(json.RawMessage(nil), s.run.StepArtifacts[artifactKey]...)
	}
	s.mu.RUnlock()

	if len(raw) == 0 {
		return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	if mode == ProjectRaw {
		return raw, nil
	}
	return Compact(raw, s.limits)
}
