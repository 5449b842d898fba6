package qstage

import (
	"encoding/json"
	"testing"

	"github.com/quatton/qwatch/pkg/qrun"
)

func artifacts(keys ...string) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(keys))
	for _, k := range keys {
		out[k] = json.RawMessage(`{}`)
	}
	return out
}

func expectStates(t *testing.T, c *Catalog, got States, want ...State) {
	t.Helper()
	if len(want) != c.Len() {
		t.Fatalf("test wants %d states, catalog has %d", len(want), c.Len())
	}
	for i, s := range c.Stages() {
		if got[s.Key] != want[i] {
			t.Errorf("stage %s: expected %s, got %s", s.Key, want[i], got[s.Key])
		}
	}
}

func TestDeriveStageStates_FailedInfersFromArtifacts(t *testing.T) {
	run := &qrun.Run{
		RunID:         "r1",
		Status:        qrun.StatusFailed,
		StepArtifacts: artifacts("ordering", "clipping"),
	}

	got := DeriveStageStates(run, Tabular)

	expectStates(t, Tabular, got,
		Completed, Completed, Completed, Failed, Pending, Pending, Pending)
}

func TestDeriveStageStates_FailedWithoutArtifacts(t *testing.T) {
	run := &qrun.Run{RunID: "r1", Status: qrun.StatusFailed}

	got := DeriveStageStates(run, Tabular)

	expectStates(t, Tabular, got,
		Failed, Pending, Pending, Pending, Pending, Pending, Pending)
}

func TestDeriveStageStates_FailedAtLastStage(t *testing.T) {
	run := &qrun.Run{
		RunID:  "r1",
		Status: qrun.StatusFailed,
		StepArtifacts: artifacts("ordering", "clipping", "imputing", "scaling",
			"inferencing", "explaining"),
	}

	got := DeriveStageStates(run, Tabular)

	expectStates(t, Tabular, got,
		Completed, Completed, Completed, Completed, Completed, Completed, Failed)
}

func TestDeriveStageStates_FailedNamedStageWins(t *testing.T) {
	run := &qrun.Run{
		RunID:         "r1",
		Status:        qrun.StatusFailed,
		FailedStage:   "ORDERING",
		StepArtifacts: artifacts("ordering", "clipping"),
	}

	got := DeriveStageStates(run, Tabular)

	expectStates(t, Tabular, got,
		Completed, Failed, Pending, Pending, Pending, Pending, Pending)
}

func TestDeriveStageStates_FailPublisher(t *testing.T) {
	run := &qrun.Run{
		RunID:         "r1",
		Status:        qrun.StatusFailed,
		StepArtifacts: artifacts("encoded", "branches", "clinical"),
	}

	got := DeriveStageStates(run, Branched)

	expectStates(t, Branched, got,
		Completed, Completed, Completed, Failed, Pending, Pending, Pending)
}

func TestDeriveStageStates_RunningStage(t *testing.T) {
	run := &qrun.Run{RunID: "r1", Status: qrun.StageStatus("scaling")}

	got := DeriveStageStates(run, Tabular)

	expectStates(t, Tabular, got,
		Completed, Completed, Completed, Completed, Running, Pending, Pending)
}

func TestDeriveStageStates_Terminal(t *testing.T) {
	completed := DeriveStageStates(&qrun.Run{Status: qrun.StatusCompleted}, Image)
	expectStates(t, Image, completed, Completed, Completed, Completed, Completed, Completed)

	missing := DeriveStageStates(&qrun.Run{
		Status:          qrun.StatusDataMissing,
		MissingRequired: []string{"entry_age"},
		StepArtifacts:   artifacts("decoded"),
	}, Image)
	expectStates(t, Image, missing, Failed, Pending, Pending, Pending, Pending)
}

func TestDeriveStageStates_QueuedAndUnknown(t *testing.T) {
	for _, status := range []qrun.Status{qrun.StatusQueued, "WARMING_UP", ""} {
		got := DeriveStageStates(&qrun.Run{Status: status}, Tabular)
		if n := CountCompleted(got); n != 0 {
			t.Errorf("status %q: expected 0 completed, got %d", status, n)
		}
		for k, st := range got {
			if st != Pending {
				t.Errorf("status %q: stage %s expected pending, got %s", status, k, st)
			}
		}
	}
}

func TestDeriveStageStates_AuthoritativeStepStates(t *testing.T) {
	run := &qrun.Run{
		Status: qrun.StageStatus("imputing"),
		StepStates: map[string]qrun.StepState{
			"validating": qrun.StepCompleted,
			"ordering":   qrun.StepCompleted,
			"clipping":   qrun.StepFailed,
		},
	}

	got := DeriveStageStates(run, Tabular)

	expectStates(t, Tabular, got,
		Completed, Completed, Failed, Pending, Pending, Pending, Pending)

	// Variants without authoritative step_states ignore them.
	branched := DeriveStageStates(&qrun.Run{
		Status:     qrun.StageStatus("encoding"),
		StepStates: map[string]qrun.StepState{"validating": qrun.StepFailed},
	}, Branched)
	expectStates(t, Branched, branched,
		Completed, Running, Pending, Pending, Pending, Pending, Pending)
}

func TestProgress(t *testing.T) {
	queued := Progress(DeriveStageStates(&qrun.Run{Status: qrun.StatusQueued}, Tabular))
	first := Progress(DeriveStageStates(&qrun.Run{Status: "VALIDATING"}, Tabular))
	second := Progress(DeriveStageStates(&qrun.Run{Status: "ORDERING"}, Tabular))

	if !(queued < first && first < second) {
		t.Fatalf("expected increasing progress, got %d, %d, %d", queued, first, second)
	}
}

func TestNewCatalog_Rejects(t *testing.T) {
	cases := map[string][]Stage{
		"empty":     nil,
		"duplicate": {{Key: "a"}, {Key: "A"}},
		"blank":     {{Key: " "}},
		"terminal":  {{Key: "completed"}},
	}
	for name, stages := range cases {
		if _, err := NewCatalog(name, stages); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestLookup(t *testing.T) {
	c, err := Lookup(" Tabular ")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if c != Tabular {
		t.Fatalf("expected tabular catalog")
	}
	if _, err := Lookup("audio"); err == nil {
		t.Fatal("expected error for unknown variant")
	}
	if st, ok := Tabular.Stage("validating"); !ok || st.ArtifactKey != "" || st.Index != 0 {
		t.Fatalf("unexpected validating stage: %+v", st)
	}
}
