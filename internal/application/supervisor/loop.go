package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"arbscan/internal/application/optimizer"
	"arbscan/internal/domain/model"
)

// sleepStep is the sub-interval at which the idle sleep rechecks
// cancellation, so stop requests are honored promptly.
const sleepStep = time.Second

// runLoop is the worker goroutine body. Data errors are absorbed inside the
// optimizer's refresh steps; anything that escapes to here is fatal for the
// run and moves the state to error. The loop is not auto-restarted.
func (s *Supervisor) runLoop(ctx context.Context, params optimizer.Params, done chan struct{}) {
	defer close(done)
	defer func() {
		if r := recover(); r != nil {
			s.fail(fmt.Errorf("panic in detection loop: %v", r))
		}
	}()

	opt, err := optimizer.New(s.deps.Venues, s.deps.Prices, s.deps.Fees, s.deps.Solver, params)
	if err != nil {
		s.fail(err)
		return
	}
	if err := opt.InitializeUniverse(ctx); err != nil {
		// a stop during the network-bound init makes every fetch fail;
		// that is a cancellation, not a setup failure
		if ctx.Err() != nil {
			s.settle()
			return
		}
		s.fail(err)
		return
	}
	if err := opt.BuildVariables(); err != nil {
		if ctx.Err() != nil {
			s.settle()
			return
		}
		s.fail(err)
		return
	}
	s.setState(model.StateRunning)

	for ctx.Err() == nil {
		cycle, err := opt.DetectCycle(ctx)
		switch {
		case err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
			// stop requested mid-iteration
		case err != nil:
			s.fail(err)
			return
		case cycle != nil && cycle.ProfitFactor > 0:
			s.handleOpportunity(ctx, cycle)
		default:
			s.setState(model.StateNoOpportunity)
		}

		if !s.sleep(ctx) {
			break
		}
	}

	if ctx.Err() == nil {
		log.Warn().Msg("detection loop exited without a stop signal")
	}
	s.settle()
}

// settle is every non-fatal exit path's convergence point.
func (s *Supervisor) settle() {
	s.mu.Lock()
	if s.state != model.StateError {
		s.state = model.StateStopped
	}
	s.mu.Unlock()
	s.publishState()
}

// handleOpportunity sizes the cycle, records it in history and publishes it.
// Storage or publish failures are logged, never fatal.
func (s *Supervisor) handleOpportunity(ctx context.Context, cycle *model.Cycle) {
	s.setState(model.StateFoundOpportunity)
	log.Info().
		Float64("profit_factor", cycle.ProfitFactor).
		Int("hops", len(cycle.Hops)).
		Strs("walk", cycle.Walk()).
		Msg("arbitrage opportunity detected")

	outcome := model.StateFoundOpportunity
	var sizing *model.SizingResult
	if s.deps.Sizer != nil {
		res, err := s.deps.Sizer.Size(ctx, cycle)
		if err != nil {
			log.Warn().Err(err).Msg("sizing stage failed")
		} else {
			sizing = res
			if res.Workable {
				// execution stays disabled; the simulated fill is the outcome
				outcome = model.StateSimulatedTrade
			} else {
				outcome = model.StateNoWorkableSolution
			}
		}
	}
	s.setState(outcome)

	opp := &model.Opportunity{
		ID:           uuid.NewString(),
		Timestamp:    time.Now().UnixMilli(),
		Walk:         cycle.Walk(),
		ProfitFactor: cycle.ProfitFactor,
		Sizing:       sizing,
		Outcome:      string(outcome),
	}

	s.mu.Lock()
	s.lastOpp = opp
	s.mu.Unlock()

	if err := s.deps.History.Append(ctx, opp); err != nil {
		log.Error().Err(err).Str("id", opp.ID).Msg("failed to append history record")
	}
	if s.deps.Publisher != nil {
		if err := s.deps.Publisher.PublishOpportunity(ctx, opp); err != nil {
			log.Warn().Err(err).Str("id", opp.ID).Msg("failed to publish opportunity")
		}
	}
	s.publishState()
}

// sleep waits the loop interval in short steps, returning false once the run
// is cancelled.
func (s *Supervisor) sleep(ctx context.Context) bool {
	deadline := time.Now().Add(s.deps.LoopInterval)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return true
		}
		step := sleepStep
		if remaining < step {
			step = remaining
		}
		timer := time.NewTimer(step)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
	}
}

func (s *Supervisor) publishState() {
	if s.deps.Publisher == nil {
		return
	}
	st := s.Status()
	payload, err := json.Marshal(st)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.deps.Publisher.PublishStatus(ctx, string(st.State), payload); err != nil {
		log.Warn().Err(err).Msg("failed to publish status")
	}
}
