package qstage

import (
	"github.com/quatton/qwatch/pkg/qrun"
)

// State is the visual state of one stage card.
type State string

const (
	Pending   State = "pending"
	Running   State = "running"
	Completed State = "completed"
	Failed    State = "failed"
)

// States maps stage key to visual state.
type States map[string]State

// FailureInference locates the failing stage of a FAILED run whose payload
// does not name it. It returns a catalog index.
type FailureInference interface {
	FailedIndex(run *qrun.Run, c *Catalog) int
}

// ArtifactScan infers the failing stage from the deepest published artifact.
// The scan is a guess: a stage that publishes a partial artifact before
// failing is reported as completed unless FailPublisher is set.
type ArtifactScan struct {
	// FailPublisher blames the deepest publishing stage itself instead of
	// the stage after it.
	FailPublisher bool
}

// FailedIndex implements FailureInference.
func (a ArtifactScan) FailedIndex(run *qrun.Run, c *Catalog) int {
	deepest := -1
	for i := c.Len() - 1; i >= 0; i-- {
		if run.HasArtifact(c.At(i).ArtifactKey) {
			deepest = i
			break
		}
	}
	if deepest < 0 {
		return 0
	}
	if a.FailPublisher || deepest == c.Len()-1 {
		return deepest
	}
	return deepest + 1
}

// DeriveStageStates computes the visual state of every stage in c from the
// latest run payload. A nil run leaves every stage pending.
func DeriveStageStates(run *qrun.Run, c *Catalog) States {
	states := make(States, c.Len())
	for _, s := range c.stages {
		states[s.Key] = Pending
	}
	if run == nil {
		return states
	}

	if c.StepStatesAuthoritative && len(run.StepStates) > 0 {
		for _, s := range c.stages {
			if st, ok := stepState(run, s.Key); ok {
				states[s.Key] = st
			}
		}
		return states
	}

	switch run.Status {
	case qrun.StatusCompleted:
		for _, s := range c.stages {
			states[s.Key] = Completed
		}
	case qrun.StatusDataMissing:
		states[c.stages[0].Key] = Failed
	case qrun.StatusFailed:
		markThrough(states, c, failedIndex(run, c), Failed)
	default:
		if i := c.IndexOf(run.Status); i >= 0 {
			markThrough(states, c, i, Running)
		}
	}
	return states
}

func failedIndex(run *qrun.Run, c *Catalog) int {
	if run.FailedStage != "" {
		if i := c.index(run.FailedStage); i >= 0 {
			return i
		}
	}
	inf := c.Inference
	if inf == nil {
		inf = ArtifactScan{}
	}
	i := inf.FailedIndex(run, c)
	if i < 0 {
		return 0
	}
	if i >= c.Len() {
		return c.Len() - 1
	}
	return i
}

// markThrough completes every stage before i and sets stage i to st.
func markThrough(states States, c *Catalog, i int, st State) {
	for j := 0; j < i; j++ {
		states[c.stages[j].Key] = Completed
	}
	states[c.stages[i].Key] = st
}

func stepState(run *qrun.Run, key string) (State, bool) {
	v, ok := run.StepStates[key]
	if !ok {
		return "", false
	}
	switch v {
	case qrun.StepPending:
		return Pending, true
	case qrun.StepRunning:
		return Running, true
	case qrun.StepCompleted:
		return Completed, true
	case qrun.StepFailed:
		return Failed, true
	}
	return "", false
}

// CountCompleted returns how many stages are completed.
func CountCompleted(states States) int {
	n := 0
	for _, st := range states {
		if st == Completed {
			n++
		}
	}
	return n
}

// Progress ranks states so that a later snapshot of a healthy run never
// ranks lower than an earlier one.
func Progress(states States) int {
	rank := 0
	for _, st := range states {
		switch st {
		case Completed:
			rank += 2
		case Running:
			rank++
		}
	}
	return rank
}

// Ordered pairs each catalog stage with its state, in catalog order.
func Ordered(states States, c *Catalog) []StageState {
	out := make([]StageState, c.Len())
	for i, s := range c.stages {
		st, ok := states[s.Key]
		if !ok {
			st = Pending
		}
		out[i] = StageState{Stage: s, State: st}
	}
	return out
}

// StageState is a stage together with its current visual state.
type StageState struct {
	Stage Stage
	State State
}
