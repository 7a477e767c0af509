// Package supervisor owns the detection loop's lifecycle: it constructs the
// opportunity graph model, drives it on a fixed cadence in a dedicated worker
// goroutine, tracks run state, and records a history entry per detected
// opportunity. Every exit path converges to "stopped" or "error"; the
// supervisor is never left in an ambiguous running state.
package supervisor

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"arbscan/internal/application/optimizer"
	"arbscan/internal/application/port"
	"arbscan/internal/domain/model"
)

// ErrAlreadyRunning is returned by Start when a worker is still alive.
var ErrAlreadyRunning = errors.New("supervisor: worker already running")

// Deps carries everything the supervisor needs to build and run the model.
type Deps struct {
	Venues    map[string]port.VenueClient
	Prices    port.PriceSource
	Fees      optimizer.FeeTable
	Solver    port.ModelFactory
	History   port.HistoryRepository
	Publisher port.StatusPublisher // optional
	Sizer     port.Sizer           // optional

	Defaults     optimizer.Params
	LoopInterval time.Duration // sleep between iterations, default 20s
	StopGrace    time.Duration // wait for graceful worker exit, default 60s
}

// Status is the externally visible snapshot of the run.
type Status struct {
	State           model.RunState     `json:"state"`
	Error           string             `json:"error,omitempty"`
	LastOpportunity *model.Opportunity `json:"last_opportunity,omitempty"`
	WorkerAlive     bool               `json:"worker_alive"`
	PID             int                `json:"pid"`
}

// Supervisor is safe for concurrent use by the serving layer; the worker
// goroutine mutates state only through the mutex-guarded setters.
type Supervisor struct {
	deps Deps

	mu            sync.Mutex
	state         model.RunState
	errMsg        string
	lastOpp       *model.Opportunity
	cancel        context.CancelFunc
	done          chan struct{}
	stopRequested bool
	nextParams    optimizer.Params
}

// New builds an idle supervisor. Nil History gets a no-op repository so the
// loop never has to nil-check it.
func New(deps Deps) *Supervisor {
	if deps.LoopInterval <= 0 {
		deps.LoopInterval = 20 * time.Second
	}
	if deps.StopGrace <= 0 {
		deps.StopGrace = 60 * time.Second
	}
	if deps.History == nil {
		deps.History = NoopHistory{}
	}
	return &Supervisor{
		deps:       deps,
		state:      model.StateIdle,
		nextParams: deps.Defaults,
	}
}

// SetParameters replaces the parameter set for the next run: configured
// defaults plus the recognized overrides. Unknown keys are reported back,
// malformed values keep their defaults; a single bad field never fails the
// whole call.
func (s *Supervisor) SetParameters(overrides map[string]any) []string {
	params := s.deps.Defaults
	unknown := params.ApplyOverrides(overrides)
	if len(unknown) > 0 {
		log.Warn().Strs("keys", unknown).Msg("unknown parameter overrides ignored")
	}
	s.mu.Lock()
	s.nextParams = params
	s.mu.Unlock()
	return unknown
}

// Start launches the detection loop in a worker goroutine. Illegal while a
// worker is alive; the current status is attached to the rejection.
func (s *Supervisor) Start(overrides map[string]any) (Status, error) {
	if overrides != nil {
		s.SetParameters(overrides)
	}

	s.mu.Lock()
	if s.workerAliveLocked() {
		st := s.statusLocked()
		s.mu.Unlock()
		log.Warn().Str("state", string(st.State)).Msg("start rejected, worker already running")
		return st, ErrAlreadyRunning
	}
	params := s.nextParams
	s.state = model.StateStarting
	s.errMsg = ""
	s.lastOpp = nil
	s.stopRequested = false

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	st := s.statusLocked()
	s.mu.Unlock()

	go s.runLoop(ctx, params, done)
	log.Info().Int("pid", st.PID).Msg("detection worker started")
	return st, nil
}

// Stop signals cancellation and waits up to the grace period for the worker
// to exit. With no worker alive it is a warning-level no-op.
func (s *Supervisor) Stop() Status {
	s.mu.Lock()
	if !s.workerAliveLocked() {
		log.Warn().Str("state", string(s.state)).Msg("stop requested but no worker is running")
		if !s.state.Terminal() {
			s.state = model.StateStopped
		}
		st := s.statusLocked()
		s.mu.Unlock()
		return st
	}
	s.stopRequested = true
	s.state = model.StateStopping
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	select {
	case <-done:
		log.Info().Msg("worker exited gracefully")
	case <-time.After(s.deps.StopGrace):
		// a goroutine cannot be force-killed; disown it and move on
		log.Error().Dur("grace", s.deps.StopGrace).Msg("worker did not exit within grace period, abandoning")
	}

	s.mu.Lock()
	if s.state != model.StateError {
		s.state = model.StateStopped
	}
	st := s.statusLocked()
	s.mu.Unlock()
	return st
}

// Status returns the current snapshot. A worker found dead without an
// explicit stop moves the state to error here, lazily, instead of via a
// background watchdog.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil && !s.workerAliveLocked() && !s.stopRequested &&
		!s.state.Terminal() && s.state != model.StateStopping {
		log.Warn().Str("state", string(s.state)).Msg("worker found dead, marking error")
		s.state = model.StateError
		if s.errMsg == "" {
			s.errMsg = "worker exited unexpectedly"
		}
	}
	return s.statusLocked()
}

// History returns the most recent opportunity records, newest first.
func (s *Supervisor) History(ctx context.Context, limit int) ([]*model.Opportunity, error) {
	return s.deps.History.List(ctx, limit)
}

func (s *Supervisor) workerAliveLocked() bool {
	if s.done == nil {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

func (s *Supervisor) statusLocked() Status {
	return Status{
		State:           s.state,
		Error:           s.errMsg,
		LastOpportunity: s.lastOpp,
		WorkerAlive:     s.workerAliveLocked(),
		PID:             os.Getpid(),
	}
}

func (s *Supervisor) setState(state model.RunState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Supervisor) fail(err error) {
	log.Error().Err(err).Msg("detection worker failed")
	s.mu.Lock()
	s.state = model.StateError
	s.errMsg = err.Error()
	s.mu.Unlock()
}
