package qtrack

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/quatton/qwatch/pkg/qart"
	"github.com/quatton/qwatch/pkg/qlog"
	"github.com/quatton/qwatch/pkg/qrun"
	"github.com/quatton/qwatch/pkg/qsdk/qerr"
	"github.com/quatton/qwatch/pkg/qstage"
)

// DefaultInterval is the poll period used when none is configured.
const DefaultInterval = 500 * time.Millisecond

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("controller closed")

// Service is the remote side of a run. *qsdk.Client satisfies it.
type Service interface {
	SubmitRun(ctx context.Context, req qrun.SubmitRequest) (string, error)
	GetRun(ctx context.Context, runID string) (*qrun.Run, error)
}

// Update is handed to the Observer after every accepted payload and after a
// transport failure.
type Update struct {
	RunID        string
	Run          *qrun.Run
	States       qstage.States
	Terminal     bool
	TransportErr error
}

// Observer receives run updates. Observers run on the polling goroutine and
// must not call back into the Controller.
type Observer interface {
	Observe(Update)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Update)

func (f ObserverFunc) Observe(u Update) { f(u) }

// Controller submits runs and keeps exactly one of them tracked. A new
// submission supersedes the previous one: its timer is cancelled, the store
// is cleared and any response still in flight for it is dropped.
type Controller struct {
	svc      Service
	store    *qart.Store
	interval time.Duration
	logger   *qlog.Logger
	observer Observer

	// emitMu serialises observer delivery against supersession so no update
	// of an old run can be delivered once a newer Submit has started.
	emitMu sync.Mutex

	mu      sync.Mutex
	gen     uint64
	session *Session
	closed  bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithInterval sets the poll period.
func WithInterval(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *qlog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithObserver registers the update observer.
func WithObserver(o Observer) Option {
	return func(c *Controller) { c.observer = o }
}

// New creates a Controller polling svc and recording into store.
func New(svc Service, store *qart.Store, opts ...Option) *Controller {
	c := &Controller{
		svc:      svc,
		store:    store,
		interval: DefaultInterval,
		logger:   qlog.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Store returns the artifact store the controller writes to.
func (c *Controller) Store() *qart.Store {
	return c.store
}

// Session returns the most recent session, nil before the first successful
// submission.
func (c *Controller) Session() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Submit posts req and starts tracking the returned run. The previous
// session is superseded before the request is sent. When a newer Submit
// overtakes this one while its request is in flight, the run id it got back
// is not tracked and a superseded error is returned.
func (c *Controller) Submit(ctx context.Context, req qrun.SubmitRequest) (*Session, error) {
	c.emitMu.Lock()
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.emitMu.Unlock()
		return nil, ErrClosed
	}
	c.gen++
	gen := c.gen
	c.stopLocked(true)
	c.mu.Unlock()
	c.emitMu.Unlock()

	runID, err := c.svc.SubmitRun(ctx, req)
	if err != nil {
		if qerr.CodeOf(err) == qerr.CodeUnknown {
			err = qerr.New(qerr.CodeSubmissionFailed, err)
		}
		c.logger.Error("run submission failed", "error", err)
		return nil, err
	}

	c.mu.Lock()
	if c.closed || c.gen != gen {
		c.mu.Unlock()
		c.logger.Debug("submission overtaken by a newer one", "run_id", runID)
		return nil, qerr.Newf(qerr.CodeSuperseded, "run %s was superseded before tracking started", runID)
	}
	s := newSession(runID)
	c.session = s
	c.store.Begin(runID)
	c.mu.Unlock()

	c.logger.Info("run submitted", "run_id", runID, "variant", c.store.Catalog().Variant)
	go c.track(s)
	return s, nil
}

// Close stops the active session. The store keeps the last snapshot.
func (c *Controller) Close() {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.stopLocked(false)
}

func (c *Controller) stopLocked(reset bool) {
	if c.session != nil {
		why := qerr.Newf(qerr.CodeSuperseded, "run %s was superseded", c.session.RunID)
		if !reset {
			why = fmt.Errorf("tracking of run %s stopped: %w", c.session.RunID, ErrClosed)
		}
		if c.session.close(why) {
			c.logger.Debug("session stopped", "run_id", c.session.RunID, "reason", why)
		}
	}
	if reset {
		c.session = nil
		c.store.Reset()
	}
}

func (c *Controller) isCurrent(s *Session) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session == s && s.State() != SessionClosed
}

// track fetches once immediately and then on every tick until the session
// closes. A tick that fires while a fetch is running is coalesced by the
// ticker, so fetches never overlap.
func (c *Controller) track(s *Session) {
	defer close(s.done)

	s.setState(SessionPolling)
	if c.poll(s) {
		return
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if c.poll(s) {
				return
			}
		}
	}
}

// poll performs one fetch and reports whether the loop should stop.
func (c *Controller) poll(s *Session) bool {
	if s.ctx.Err() != nil {
		return true
	}
	attempt := s.polls.Add(1)
	log := c.logger.With("run_id", s.RunID, "attempt", attempt)

	run, err := c.svc.GetRun(s.ctx, s.RunID)

	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	if !c.isCurrent(s) {
		log.Debug("dropping response for inactive run")
		return true
	}

	if err != nil {
		if qerr.CodeOf(err) == qerr.CodeUnknown {
			err = qerr.New(qerr.CodePollTransport, err)
		}
		log.Warn("status fetch failed", "error", err)
		if c.store.MarkTransportFailure(s.RunID, err) {
			snap := c.store.Snapshot()
			s.setLast(snap)
			c.emit(Update{
				RunID:        s.RunID,
				Run:          snap,
				States:       qstage.DeriveStageStates(snap, c.store.Catalog()),
				Terminal:     true,
				TransportErr: err,
			})
		}
		s.close(err)
		return true
	}

	switch res := c.store.Ingest(run); res {
	case qart.Accepted:
	case qart.Stale:
		log.Debug("ignoring stale snapshot", "status", run.Status)
		return false
	default:
		log.Debug("snapshot not applied", "result", res.String())
		if res == qart.Closed {
			s.close(outcome(c.store.Snapshot()))
		}
		return true
	}

	snap := c.store.Snapshot()
	s.setLast(snap)
	terminal := snap.Status.IsTerminal()
	c.emit(Update{
		RunID:    s.RunID,
		Run:      snap,
		States:   qstage.DeriveStageStates(snap, c.store.Catalog()),
		Terminal: terminal,
	})
	if !terminal {
		return false
	}

	log.Info("run finished", "status", snap.Status)
	s.close(outcome(snap))
	return true
}

func (c *Controller) emit(u Update) {
	if c.observer != nil {
		c.observer.Observe(u)
	}
}

func outcome(run *qrun.Run) error {
	if run == nil {
		return nil
	}
	switch run.Status {
	case qrun.StatusFailed:
		msg := run.Error
		if msg == "" {
			msg = "service reported failure"
		}
		return qerr.New(qerr.CodeServiceFailed, errors.New(msg))
	case qrun.StatusDataMissing:
		return qerr.New(qerr.CodeDataMissing, fmt.Errorf("missing required fields: %v", run.MissingRequired))
	}
	return nil
}
