package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"arbscan/internal/application/optimizer"
	"arbscan/internal/application/port"
	"arbscan/internal/domain/model"
	"arbscan/internal/infrastructure/solver"
)

type fakeVenue struct {
	name     string
	pairs    []model.Pair
	assets   []string
	tickers  []model.Ticker
	pairsErr error
}

func (f *fakeVenue) Name() string { return f.name }

func (f *fakeVenue) ListPairs(ctx context.Context) ([]model.Pair, error) {
	return f.pairs, f.pairsErr
}

func (f *fakeVenue) ListAssets(ctx context.Context) ([]string, error) {
	return f.assets, f.pairsErr
}

func (f *fakeVenue) FetchTickers(ctx context.Context) ([]model.Ticker, error) {
	return f.tickers, nil
}

func (f *fakeVenue) FetchOrderBook(ctx context.Context, pair model.Pair, depth int) (*model.OrderBook, error) {
	return &model.OrderBook{}, nil
}

func (f *fakeVenue) FetchFreeBalances(ctx context.Context) (map[string]float64, error) {
	return map[string]float64{}, nil
}

func (f *fakeVenue) FetchWithdrawalFees(ctx context.Context) (map[string]model.WithdrawalFee, error) {
	return map[string]model.WithdrawalFee{}, nil
}

// blockingVenue parks every listing call until the run context is cancelled,
// simulating a slow venue during universe initialization.
type blockingVenue struct {
	fakeVenue
	listing chan struct{} // closed once ListPairs has been entered
	once    sync.Once
}

func (b *blockingVenue) ListPairs(ctx context.Context) ([]model.Pair, error) {
	b.once.Do(func() { close(b.listing) })
	<-ctx.Done()
	return nil, ctx.Err()
}

type fakePrices struct {
	quotes map[string]model.ReferencePrice
}

func (f *fakePrices) Quotes(ctx context.Context, symbols []string) (map[string]model.ReferencePrice, error) {
	return f.quotes, nil
}

type recordingHistory struct {
	mu   sync.Mutex
	opps []*model.Opportunity
}

func (h *recordingHistory) Append(ctx context.Context, opp *model.Opportunity) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.opps = append(h.opps, opp)
	return nil
}

func (h *recordingHistory) List(ctx context.Context, limit int) ([]*model.Opportunity, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*model.Opportunity(nil), h.opps...), nil
}

func (h *recordingHistory) Close() error { return nil }

func (h *recordingHistory) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.opps)
}

type fakeSizer struct {
	workable bool
	panics   bool
}

func (f *fakeSizer) Size(ctx context.Context, cycle *model.Cycle) (*model.SizingResult, error) {
	if f.panics {
		panic("sizer blew up")
	}
	return &model.SizingResult{Workable: f.workable, Notional: 500, EstimatedProfit: 500 * cycle.ProfitFactor}, nil
}

// profitableDeps wires a single-venue universe where a triangle is always
// profitable, so the loop finds an opportunity on its first iteration.
func profitableDeps() Deps {
	venue := &fakeVenue{
		name: "alpha",
		pairs: []model.Pair{
			{Base: "ETH", Quote: "USDT"},
			{Base: "ETH", Quote: "BTC"},
			{Base: "BTC", Quote: "USDT"},
		},
		assets: []string{"ETH", "BTC", "USDT"},
		tickers: []model.Ticker{
			{Venue: "alpha", Base: "ETH", Quote: "USDT", Bid: 1900, Ask: 2000, BaseVolume: 10000},
			{Venue: "alpha", Base: "ETH", Quote: "BTC", Bid: 0.05, Ask: 0.052, BaseVolume: 10000},
			{Venue: "alpha", Base: "BTC", Quote: "USDT", Bid: 41000, Ask: 42000, BaseVolume: 10000},
		},
	}
	params := optimizer.DefaultParams()
	params.AllowInterVenue = false
	params.ConsiderBalance = false

	return Deps{
		Venues:       map[string]port.VenueClient{"alpha": venue},
		Prices:       &fakePrices{quotes: map[string]model.ReferencePrice{"ETH": {Price: 2000}, "BTC": {Price: 41000}, "USDT": {Price: 1}}},
		Solver:       solver.Factory,
		Defaults:     params,
		LoopInterval: 10 * time.Millisecond,
		StopGrace:    2 * time.Second,
	}
}

func waitForState(t *testing.T, s *Supervisor, want model.RunState) Status {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		st := s.Status()
		if st.State == want {
			return st
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %q, last state %q", want, s.Status().State)
	return Status{}
}

func TestStopBeforeStartIsNoOp(t *testing.T) {
	s := New(profitableDeps())
	st := s.Stop()
	if st.State != model.StateIdle {
		t.Errorf("expected idle after stop-before-start, got %q", st.State)
	}
	if st.WorkerAlive {
		t.Error("no worker should be alive")
	}
}

func TestStartRejectsSecondWorker(t *testing.T) {
	s := New(profitableDeps())
	if _, err := s.Start(nil); err != nil {
		t.Fatalf("first start failed: %v", err)
	}
	defer s.Stop()

	if _, err := s.Start(nil); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("expected ErrAlreadyRunning, got %v", err)
	}
}

func TestLifecycleStartDetectStop(t *testing.T) {
	deps := profitableDeps()
	history := &recordingHistory{}
	deps.History = history
	deps.Sizer = &fakeSizer{workable: true}
	s := New(deps)

	st, err := s.Start(nil)
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if !st.WorkerAlive {
		t.Error("worker should be alive after start")
	}

	st = waitForState(t, s, model.StateSimulatedTrade)
	if st.LastOpportunity == nil {
		t.Fatal("expected last opportunity to be recorded")
	}
	if st.LastOpportunity.ProfitFactor <= 0 {
		t.Errorf("expected positive profit factor, got %v", st.LastOpportunity.ProfitFactor)
	}
	if st.LastOpportunity.Sizing == nil || !st.LastOpportunity.Sizing.Workable {
		t.Errorf("expected workable sizing, got %+v", st.LastOpportunity.Sizing)
	}
	if history.count() == 0 {
		t.Error("expected at least one history record")
	}

	st = s.Stop()
	if st.State != model.StateStopped {
		t.Errorf("expected stopped, got %q", st.State)
	}
	if st.WorkerAlive {
		t.Error("worker should be dead after stop")
	}
}

func TestUnworkableSizingOutcome(t *testing.T) {
	deps := profitableDeps()
	deps.Sizer = &fakeSizer{workable: false}
	s := New(deps)

	if _, err := s.Start(nil); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer s.Stop()

	st := waitForState(t, s, model.StateNoWorkableSolution)
	if st.LastOpportunity == nil || st.LastOpportunity.Outcome != string(model.StateNoWorkableSolution) {
		t.Errorf("expected unworkable outcome, got %+v", st.LastOpportunity)
	}
}

func TestHistoryDelegates(t *testing.T) {
	deps := profitableDeps()
	history := &recordingHistory{}
	deps.History = history
	s := New(deps)

	_ = history.Append(context.Background(), &model.Opportunity{ID: "seed"})
	got, err := s.History(context.Background(), 10)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != "seed" {
		t.Errorf("unexpected history %v", got)
	}
}

func TestInitFailureMovesToError(t *testing.T) {
	deps := profitableDeps()
	deps.Venues = map[string]port.VenueClient{
		"alpha": &fakeVenue{name: "alpha", pairsErr: errors.New("listing down")},
	}
	s := New(deps)

	if _, err := s.Start(nil); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	st := waitForState(t, s, model.StateError)
	if st.Error == "" {
		t.Error("expected error message in status")
	}
	if st.WorkerAlive {
		t.Error("worker should be dead after init failure")
	}
}

func TestStopDuringInitEndsStopped(t *testing.T) {
	deps := profitableDeps()
	venue := &blockingVenue{
		fakeVenue: fakeVenue{name: "alpha"},
		listing:   make(chan struct{}),
	}
	deps.Venues = map[string]port.VenueClient{"alpha": venue}
	s := New(deps)

	if _, err := s.Start(nil); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	select {
	case <-venue.listing:
	case <-time.After(3 * time.Second):
		t.Fatal("worker never reached universe initialization")
	}

	// a user-initiated stop mid-init is a cancellation, not a setup failure
	st := s.Stop()
	if st.State != model.StateStopped {
		t.Errorf("expected stopped after stop during init, got %q", st.State)
	}
	if st.Error != "" {
		t.Errorf("expected no error message, got %q", st.Error)
	}
}

func TestPanicInLoopRecoversToError(t *testing.T) {
	deps := profitableDeps()
	deps.Sizer = &fakeSizer{panics: true}
	s := New(deps)

	if _, err := s.Start(nil); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	st := waitForState(t, s, model.StateError)
	if st.Error == "" {
		t.Error("expected panic to surface as error message")
	}
}

func TestRestartAfterStop(t *testing.T) {
	s := New(profitableDeps())
	if _, err := s.Start(nil); err != nil {
		t.Fatalf("first start failed: %v", err)
	}
	s.Stop()

	st, err := s.Start(nil)
	if err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	if st.Error != "" || st.LastOpportunity != nil {
		t.Errorf("restart should clear previous run state, got %+v", st)
	}
	s.Stop()
}

func TestSetParametersReportsUnknownKeys(t *testing.T) {
	s := New(profitableDeps())
	unknown := s.SetParameters(map[string]any{
		"path_length": 3,
		"bogus_knob":  true,
	})
	if len(unknown) != 1 || unknown[0] != "bogus_knob" {
		t.Errorf("expected [bogus_knob], got %v", unknown)
	}
}
