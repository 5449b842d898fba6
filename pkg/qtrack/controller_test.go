package qtrack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/quatton/qwatch/pkg/qart"
	"github.com/quatton/qwatch/pkg/qrun"
	"github.com/quatton/qwatch/pkg/qsdk/qerr"
	"github.com/quatton/qwatch/pkg/qstage"
)

type step struct {
	run  *qrun.Run
	err  error
	gate chan struct{}
}

// fakeService replays a per-run script of responses. The last step repeats.
type fakeService struct {
	mu          sync.Mutex
	ids         []string
	submitGates map[int]chan struct{}
	submitErr   error
	submits     int
	scripts     map[string][]step
	calls       map[string]int
}

func newFakeService(ids ...string) *fakeService {
	return &fakeService{
		ids:         ids,
		submitGates: map[int]chan struct{}{},
		scripts:     map[string][]step{},
		calls:       map[string]int{},
	}
}

func (f *fakeService) SubmitRun(ctx context.Context, _ qrun.SubmitRequest) (string, error) {
	f.mu.Lock()
	n := f.submits
	f.submits++
	gate := f.submitGates[n]
	err := f.submitErr
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return "", err
	}
	return f.ids[n], nil
}

func (f *fakeService) GetRun(ctx context.Context, runID string) (*qrun.Run, error) {
	f.mu.Lock()
	script := f.scripts[runID]
	i := f.calls[runID]
	f.calls[runID]++
	f.mu.Unlock()

	if len(script) == 0 {
		return &qrun.Run{RunID: runID, Status: qrun.StatusQueued}, nil
	}
	if i >= len(script) {
		i = len(script) - 1
	}
	st := script[i]
	if st.gate != nil {
		<-st.gate
	}
	if st.err != nil {
		return nil, st.err
	}
	return st.run.Clone(), nil
}

func (f *fakeService) callsFor(runID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[runID]
}

type recorder struct {
	mu      sync.Mutex
	updates []Update
}

func (r *recorder) Observe(u Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
}

func (r *recorder) all() []Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Update(nil), r.updates...)
}

func runAt(id string, status qrun.Status, artifacts ...string) step {
	run := &qrun.Run{RunID: id, Status: status}
	for _, k := range artifacts {
		if run.StepArtifacts == nil {
			run.StepArtifacts = map[string]json.RawMessage{}
		}
		run.StepArtifacts[k] = json.RawMessage(fmt.Sprintf(`{"from":%q}`, id))
	}
	return step{run: run}
}

func newTestController(svc Service, obs Observer) *Controller {
	store := qart.NewStore(qstage.Tabular)
	return New(svc, store, WithInterval(5*time.Millisecond), WithObserver(obs))
}

func waitSession(t *testing.T, s *Session) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("session %s did not finish: %v", s.RunID, err)
	}
}

func waitCalls(t *testing.T, svc *fakeService, runID string, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for svc.callsFor(runID) < n {
		if time.Now().After(deadline) {
			t.Fatalf("run %s was fetched %d times, want %d", runID, svc.callsFor(runID), n)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestController_StopsPollingAtTerminal(t *testing.T) {
	svc := newFakeService("r1")
	svc.scripts["r1"] = []step{
		runAt("r1", qrun.StatusQueued),
		runAt("r1", "ORDERING", "ordering"),
		runAt("r1", qrun.StatusCompleted, "ordering", "clipping"),
	}
	rec := &recorder{}
	c := newTestController(svc, rec)

	s, err := c.Submit(context.Background(), qrun.SubmitRequest{})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	waitSession(t, s)
	time.Sleep(30 * time.Millisecond)

	if got := svc.callsFor("r1"); got != 3 {
		t.Fatalf("expected exactly 3 fetches, got %d", got)
	}
	if s.State() != SessionClosed || s.Err() != nil {
		t.Fatalf("expected closed session without error, got %v %v", s.State(), s.Err())
	}
	updates := rec.all()
	if len(updates) != 3 || !updates[2].Terminal {
		t.Fatalf("expected 3 updates ending terminal, got %+v", updates)
	}
	for key, st := range updates[2].States {
		if st != qstage.Completed {
			t.Errorf("stage %s should be completed, got %s", key, st)
		}
	}
}

func TestController_TerminalOnFirstFetch(t *testing.T) {
	svc := newFakeService("r1")
	svc.scripts["r1"] = []step{runAt("r1", qrun.StatusCompleted)}
	c := newTestController(svc, nil)

	s, err := c.Submit(context.Background(), qrun.SubmitRequest{})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	waitSession(t, s)
	time.Sleep(20 * time.Millisecond)

	if svc.callsFor("r1") != 1 || s.Polls() != 1 {
		t.Fatalf("expected a single fetch, got %d", svc.callsFor("r1"))
	}
}

func TestController_ServiceFailureOutcome(t *testing.T) {
	failed := runAt("r1", qrun.StatusFailed, "validating", "ordering")
	failed.run.Error = "imputer exploded"
	svc := newFakeService("r1")
	svc.scripts["r1"] = []step{failed}
	c := newTestController(svc, nil)

	s, _ := c.Submit(context.Background(), qrun.SubmitRequest{})
	waitSession(t, s)

	if !qerr.IsCode(s.Err(), qerr.CodeServiceFailed) {
		t.Fatalf("expected service_failed, got %v", s.Err())
	}
	states := c.Store().States()
	if states["clipping"] != qstage.Failed || states["ordering"] != qstage.Completed {
		t.Fatalf("unexpected states %v", states)
	}
}

func TestController_TransportFailure(t *testing.T) {
	svc := newFakeService("r1")
	svc.scripts["r1"] = []step{
		runAt("r1", "CLIPPING", "ordering"),
		{err: errors.New("connection refused")},
	}
	rec := &recorder{}
	c := newTestController(svc, rec)

	s, _ := c.Submit(context.Background(), qrun.SubmitRequest{})
	waitSession(t, s)
	time.Sleep(20 * time.Millisecond)

	if svc.callsFor("r1") != 2 {
		t.Fatalf("polling must stop after the failure, got %d fetches", svc.callsFor("r1"))
	}
	if !qerr.IsCode(s.Err(), qerr.CodePollTransport) {
		t.Fatalf("expected poll_transport outcome, got %v", s.Err())
	}
	snap := c.Store().Snapshot()
	if snap.Status != qrun.StatusFailed || snap.Error != "" {
		t.Fatalf("expected local FAILED without service error, got %+v", snap)
	}
	if c.Store().TransportError() == nil {
		t.Fatal("transport cause not recorded")
	}
	updates := rec.all()
	last := updates[len(updates)-1]
	if last.TransportErr == nil || !last.Terminal {
		t.Fatalf("expected terminal transport update, got %+v", last)
	}
}

func TestController_SubmissionFailure(t *testing.T) {
	svc := newFakeService()
	svc.submitErr = errors.New("dial tcp: refused")
	c := newTestController(svc, nil)

	s, err := c.Submit(context.Background(), qrun.SubmitRequest{})
	if s != nil || !qerr.IsCode(err, qerr.CodeSubmissionFailed) {
		t.Fatalf("expected submission_failed and no session, got %v %v", s, err)
	}
	if c.Store().RunID() != "" || c.Session() != nil {
		t.Fatal("nothing must be tracked after a failed submission")
	}
}

func TestController_SupersedeDropsLateResponse(t *testing.T) {
	release := make(chan struct{})
	svc := newFakeService("A", "B")
	svc.scripts["A"] = []step{{run: runAt("A", "SCALING", "ordering", "clipping", "imputing").run, gate: release}}
	svc.scripts["B"] = []step{
		runAt("B", "ORDERING"),
		runAt("B", qrun.StatusCompleted, "ordering"),
	}
	rec := &recorder{}
	c := newTestController(svc, rec)

	a, err := c.Submit(context.Background(), qrun.SubmitRequest{})
	if err != nil {
		t.Fatalf("Submit A failed: %v", err)
	}
	waitCalls(t, svc, "A", 1)
	b, err := c.Submit(context.Background(), qrun.SubmitRequest{})
	if err != nil {
		t.Fatalf("Submit B failed: %v", err)
	}
	waitSession(t, b)

	close(release)
	waitSession(t, a)

	if !qerr.IsCode(a.Err(), qerr.CodeSuperseded) {
		t.Fatalf("expected A superseded, got %v", a.Err())
	}
	for _, u := range rec.all() {
		if u.RunID != "B" {
			t.Fatalf("update for superseded run delivered: %+v", u)
		}
	}
	snap := c.Store().Snapshot()
	if snap.RunID != "B" || snap.Status != qrun.StatusCompleted {
		t.Fatalf("store must hold B, got %+v", snap)
	}
	if snap.HasArtifact("clipping") {
		t.Fatal("artifact from A leaked into B")
	}
	if svc.callsFor("A") != 1 {
		t.Fatalf("A must not be polled again, got %d", svc.callsFor("A"))
	}
}

func TestController_OvertakenSubmission(t *testing.T) {
	gate := make(chan struct{})
	svc := newFakeService("A", "B")
	svc.submitGates[0] = gate
	svc.scripts["B"] = []step{runAt("B", qrun.StatusCompleted)}
	c := newTestController(svc, nil)

	errc := make(chan error, 1)
	go func() {
		_, err := c.Submit(context.Background(), qrun.SubmitRequest{})
		errc <- err
	}()
	for {
		svc.mu.Lock()
		n := svc.submits
		svc.mu.Unlock()
		if n == 1 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	b, err := c.Submit(context.Background(), qrun.SubmitRequest{})
	if err != nil {
		t.Fatalf("Submit B failed: %v", err)
	}
	close(gate)

	if err := <-errc; !qerr.IsCode(err, qerr.CodeSuperseded) {
		t.Fatalf("expected A superseded, got %v", err)
	}
	waitSession(t, b)
	if c.Session() != b || c.Store().RunID() != "B" {
		t.Fatal("B must stay tracked")
	}
	if svc.callsFor("A") != 0 {
		t.Fatal("overtaken run must never be polled")
	}
}

func TestController_StaleSnapshotIgnored(t *testing.T) {
	svc := newFakeService("r1")
	svc.scripts["r1"] = []step{
		runAt("r1", "SCALING", "ordering", "clipping", "imputing"),
		runAt("r1", "ORDERING"),
		runAt("r1", qrun.StatusCompleted),
	}
	rec := &recorder{}
	c := newTestController(svc, rec)

	s, _ := c.Submit(context.Background(), qrun.SubmitRequest{})
	waitSession(t, s)

	updates := rec.all()
	if len(updates) != 2 {
		t.Fatalf("expected the stale snapshot to be skipped, got %d updates", len(updates))
	}
	if updates[0].Run.Status != "SCALING" || updates[1].Run.Status != qrun.StatusCompleted {
		t.Fatalf("unexpected update order: %s, %s", updates[0].Run.Status, updates[1].Run.Status)
	}
}

func TestController_Close(t *testing.T) {
	svc := newFakeService("r1")
	c := newTestController(svc, nil)

	s, _ := c.Submit(context.Background(), qrun.SubmitRequest{})
	time.Sleep(20 * time.Millisecond)
	c.Close()
	waitSession(t, s)

	polled := svc.callsFor("r1")
	time.Sleep(20 * time.Millisecond)
	if svc.callsFor("r1") != polled {
		t.Fatal("polling continued after Close")
	}
	if !errors.Is(s.Err(), ErrClosed) {
		t.Fatalf("expected closed outcome, got %v", s.Err())
	}
	if _, err := c.Submit(context.Background(), qrun.SubmitRequest{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
