package optimizer

import (
	"context"
	"errors"
	"math"
	"testing"

	"arbscan/internal/application/port"
	"arbscan/internal/domain/model"
	"arbscan/internal/infrastructure/solver"
)

type fakeVenue struct {
	name     string
	pairs    []model.Pair
	assets   []string
	tickers  []model.Ticker
	balances map[string]float64
	fees     map[string]model.WithdrawalFee

	pairsErr   error
	tickersErr error
	feeCalls   int
}

func (f *fakeVenue) Name() string { return f.name }

func (f *fakeVenue) ListPairs(ctx context.Context) ([]model.Pair, error) {
	if f.pairsErr != nil {
		return nil, f.pairsErr
	}
	return f.pairs, nil
}

func (f *fakeVenue) ListAssets(ctx context.Context) ([]string, error) {
	if f.pairsErr != nil {
		return nil, f.pairsErr
	}
	return f.assets, nil
}

func (f *fakeVenue) FetchTickers(ctx context.Context) ([]model.Ticker, error) {
	if f.tickersErr != nil {
		return nil, f.tickersErr
	}
	return f.tickers, nil
}

func (f *fakeVenue) FetchOrderBook(ctx context.Context, pair model.Pair, depth int) (*model.OrderBook, error) {
	return &model.OrderBook{}, nil
}

func (f *fakeVenue) FetchFreeBalances(ctx context.Context) (map[string]float64, error) {
	if f.balances == nil {
		return map[string]float64{}, nil
	}
	return f.balances, nil
}

func (f *fakeVenue) FetchWithdrawalFees(ctx context.Context) (map[string]model.WithdrawalFee, error) {
	f.feeCalls++
	if f.fees == nil {
		return map[string]model.WithdrawalFee{}, nil
	}
	return f.fees, nil
}

var _ port.VenueClient = (*fakeVenue)(nil)

type fakePrices struct {
	quotes map[string]model.ReferencePrice
	err    error
}

func (f *fakePrices) Quotes(ctx context.Context, symbols []string) (map[string]model.ReferencePrice, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.quotes, nil
}

// triangleVenue builds a single venue where USDT -> ETH -> BTC -> USDT is
// profitable and every other walk loses to the spread.
func triangleVenue() *fakeVenue {
	return &fakeVenue{
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
}

func trianglePrices() *fakePrices {
	return &fakePrices{quotes: map[string]model.ReferencePrice{
		"ETH":  {Price: 2000, Rank: 2},
		"BTC":  {Price: 41000, Rank: 1},
		"USDT": {Price: 1, Rank: 3},
	}}
}

func triangleParams() Params {
	p := DefaultParams()
	p.AllowInterVenue = false
	p.ConsiderBalance = false
	p.ConsiderInterVenueBalance = false
	return p
}

func newTriangleOptimizer(t *testing.T, params Params) *Optimizer {
	t.Helper()
	o, err := New(map[string]port.VenueClient{"alpha": triangleVenue()}, trianglePrices(), FeeTable{}, solver.Factory, params)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ctx := context.Background()
	if err := o.InitializeUniverse(ctx); err != nil {
		t.Fatalf("InitializeUniverse failed: %v", err)
	}
	if err := o.BuildVariables(); err != nil {
		t.Fatalf("BuildVariables failed: %v", err)
	}
	return o
}

func TestNewRequiresVenues(t *testing.T) {
	if _, err := New(nil, trianglePrices(), FeeTable{}, solver.Factory, DefaultParams()); err == nil {
		t.Error("expected error with no venues")
	}
	if _, err := New(map[string]port.VenueClient{"alpha": triangleVenue()}, trianglePrices(), FeeTable{}, nil, DefaultParams()); err == nil {
		t.Error("expected error with no solver factory")
	}
}

func TestInitializeUniverseFiltersFiatAndUnpriced(t *testing.T) {
	venue := triangleVenue()
	venue.assets = append(venue.assets, "USD", "OBSCURE")

	o, err := New(map[string]port.VenueClient{"alpha": venue}, trianglePrices(), FeeTable{}, solver.Factory, triangleParams())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := o.InitializeUniverse(context.Background()); err != nil {
		t.Fatalf("InitializeUniverse failed: %v", err)
	}

	nodes := o.Nodes()
	if len(nodes) != 3 {
		t.Fatalf("expected 3 nodes, got %d: %v", len(nodes), nodes)
	}
	for _, n := range nodes {
		if n.Asset == "USD" {
			t.Error("fiat asset survived filtering")
		}
		if n.Asset == "OBSCURE" {
			t.Error("unpriced asset survived filtering")
		}
	}
}

func TestInitializeUniverseIncludesFiatWhenAsked(t *testing.T) {
	venue := triangleVenue()
	venue.assets = append(venue.assets, "USD")
	prices := trianglePrices()
	prices.quotes["USD"] = model.ReferencePrice{Price: 1}

	params := triangleParams()
	params.IncludeFiat = true
	o, err := New(map[string]port.VenueClient{"alpha": venue}, prices, FeeTable{}, solver.Factory, params)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := o.InitializeUniverse(context.Background()); err != nil {
		t.Fatalf("InitializeUniverse failed: %v", err)
	}
	if len(o.Nodes()) != 4 {
		t.Errorf("expected 4 nodes with fiat included, got %d", len(o.Nodes()))
	}
}

func TestInitializeUniverseToleratesDegradedVenue(t *testing.T) {
	broken := &fakeVenue{name: "beta", pairsErr: errors.New("listing down")}
	venues := map[string]port.VenueClient{"alpha": triangleVenue(), "beta": broken}

	o, err := New(venues, trianglePrices(), FeeTable{}, solver.Factory, triangleParams())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := o.InitializeUniverse(context.Background()); err != nil {
		t.Fatalf("expected degraded init to succeed, got %v", err)
	}
	for _, n := range o.Nodes() {
		if n.Venue == "beta" {
			t.Error("nodes from the failed venue should be absent")
		}
	}
}

func TestInitializeUniverseFailsWhenAllVenuesDown(t *testing.T) {
	broken := &fakeVenue{name: "alpha", pairsErr: errors.New("listing down")}
	o, err := New(map[string]port.VenueClient{"alpha": broken}, trianglePrices(), FeeTable{}, solver.Factory, triangleParams())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := o.InitializeUniverse(context.Background()); err == nil {
		t.Error("expected error when every venue is unavailable")
	}
}

func TestBuildVariablesCountsFeasibleEdges(t *testing.T) {
	o := newTriangleOptimizer(t, triangleParams())
	// three pairs, both directions each, no inter-venue edges
	if got := o.VariableCount(); got != 6 {
		t.Errorf("expected 6 decision variables, got %d", got)
	}
}

func TestBuildVariablesRequiresInitialization(t *testing.T) {
	o, err := New(map[string]port.VenueClient{"alpha": triangleVenue()}, trianglePrices(), FeeTable{}, solver.Factory, triangleParams())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := o.BuildVariables(); err == nil {
		t.Error("expected error before InitializeUniverse")
	}
}

func TestDetectCycleFindsTriangle(t *testing.T) {
	o := newTriangleOptimizer(t, triangleParams())

	cycle, err := o.DetectCycle(context.Background())
	if err != nil {
		t.Fatalf("DetectCycle failed: %v", err)
	}
	if cycle == nil {
		t.Fatal("expected a cycle")
	}
	if len(cycle.Hops) != 3 {
		t.Fatalf("expected 3 hops, got %d: %v", len(cycle.Hops), cycle.Walk())
	}
	if !cycle.Closed() {
		t.Errorf("cycle not closed: %v", cycle.Walk())
	}
	if cycle.ProfitFactor <= 0 {
		t.Errorf("expected positive profit factor, got %v", cycle.ProfitFactor)
	}

	// exact transform: profit factor must equal the product of selected
	// rates after fees, minus one
	product := 1.0
	for _, h := range cycle.Hops {
		product *= h.Rate * (1 - h.Fee)
	}
	if math.Abs(cycle.ProfitFactor-(product-1)) > 1e-9 {
		t.Errorf("profit factor %v does not round-trip product %v", cycle.ProfitFactor, product)
	}
	// USDT -> ETH at 1/2000, ETH -> BTC at 0.05, BTC -> USDT at 41000
	wantProfit := (1.0/2000)*0.05*41000 - 1
	if math.Abs(cycle.ProfitFactor-wantProfit) > 1e-9 {
		t.Errorf("expected profit %v, got %v", wantProfit, cycle.ProfitFactor)
	}
}

func TestDetectCycleNoOpportunityWhenRatesLossy(t *testing.T) {
	venue := triangleVenue()
	// shrink the BTC/USDT bid until the triangle loses money
	venue.tickers[2].Bid = 38000
	o, err := New(map[string]port.VenueClient{"alpha": venue}, trianglePrices(), FeeTable{}, solver.Factory, triangleParams())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ctx := context.Background()
	if err := o.InitializeUniverse(ctx); err != nil {
		t.Fatalf("InitializeUniverse failed: %v", err)
	}
	if err := o.BuildVariables(); err != nil {
		t.Fatalf("BuildVariables failed: %v", err)
	}

	cycle, err := o.DetectCycle(ctx)
	if err != nil {
		t.Fatalf("DetectCycle failed: %v", err)
	}
	if cycle != nil && cycle.ProfitFactor > 0 {
		t.Errorf("expected no profitable cycle, got %v", cycle)
	}
}

func TestDetectCycleLiquidityFloorBlocksThinEdges(t *testing.T) {
	venue := triangleVenue()
	// profitable but illiquid: the ETH/BTC leg trades almost nothing
	venue.tickers[1].BaseVolume = 0.0001

	o, err := New(map[string]port.VenueClient{"alpha": venue}, trianglePrices(), FeeTable{}, solver.Factory, triangleParams())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ctx := context.Background()
	if err := o.InitializeUniverse(ctx); err != nil {
		t.Fatalf("InitializeUniverse failed: %v", err)
	}
	if err := o.BuildVariables(); err != nil {
		t.Fatalf("BuildVariables failed: %v", err)
	}

	cycle, err := o.DetectCycle(ctx)
	if err != nil {
		t.Fatalf("DetectCycle failed: %v", err)
	}
	if cycle != nil && cycle.ProfitFactor > 0 {
		t.Errorf("expected liquidity floor to block the cycle, got %v", cycle.Walk())
	}
}

func TestDetectCycleTradingFeesEatThinEdge(t *testing.T) {
	// the triangle clears ~2.5% before fees; 1% per hop wipes it out
	o, err := New(map[string]port.VenueClient{"alpha": triangleVenue()}, trianglePrices(),
		FeeTable{Default: 0.01}, solver.Factory, triangleParams())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ctx := context.Background()
	if err := o.InitializeUniverse(ctx); err != nil {
		t.Fatalf("InitializeUniverse failed: %v", err)
	}
	if err := o.BuildVariables(); err != nil {
		t.Fatalf("BuildVariables failed: %v", err)
	}

	cycle, err := o.DetectCycle(ctx)
	if err != nil {
		t.Fatalf("DetectCycle failed: %v", err)
	}
	if cycle != nil && cycle.ProfitFactor > 0 {
		t.Errorf("expected fees to erase the opportunity, got %v", cycle.ProfitFactor)
	}
}

func TestDetectCyclePreferredStartRotation(t *testing.T) {
	params := triangleParams()
	params.ConsiderBalance = true
	params.SimulatedBalances = map[string]map[string]float64{
		"alpha": {"BTC": 1.0}, // ~41000 USD, well above the notional floor
	}
	o := newTriangleOptimizer(t, params)

	cycle, err := o.DetectCycle(context.Background())
	if err != nil {
		t.Fatalf("DetectCycle failed: %v", err)
	}
	if cycle == nil {
		t.Fatal("expected a cycle")
	}
	if got := cycle.Hops[0].From; got != (model.Node{Venue: "alpha", Asset: "BTC"}) {
		t.Errorf("expected cycle rotated to start at the funded node, starts at %v", got)
	}
}

func TestDetectCycleAcrossVenues(t *testing.T) {
	// BTC is cheap on alpha and dear on beta; the profitable walk buys on
	// alpha, transfers the coin, sells on beta and transfers USDT back.
	alpha := &fakeVenue{
		name:   "alpha",
		pairs:  []model.Pair{{Base: "BTC", Quote: "USDT"}},
		assets: []string{"BTC", "USDT"},
		tickers: []model.Ticker{
			{Venue: "alpha", Base: "BTC", Quote: "USDT", Bid: 99, Ask: 100, BaseVolume: 10000},
		},
		fees: map[string]model.WithdrawalFee{
			"BTC": {Venue: "alpha", Asset: "BTC", USDFee: 2},
		},
	}
	beta := &fakeVenue{
		name:   "beta",
		pairs:  []model.Pair{{Base: "BTC", Quote: "USDT"}},
		assets: []string{"BTC", "USDT"},
		tickers: []model.Ticker{
			{Venue: "beta", Base: "BTC", Quote: "USDT", Bid: 103, Ask: 104, BaseVolume: 10000},
		},
		fees: map[string]model.WithdrawalFee{
			"USDT": {Venue: "beta", Asset: "USDT", USDFee: 2},
		},
	}
	prices := &fakePrices{quotes: map[string]model.ReferencePrice{
		"BTC":  {Price: 100, Rank: 1},
		"USDT": {Price: 1, Rank: 2},
	}}

	params := DefaultParams()
	params.ConsiderBalance = false
	params.ConsiderInterVenueBalance = false

	o, err := New(map[string]port.VenueClient{"alpha": alpha, "beta": beta}, prices, FeeTable{}, solver.Factory, params)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ctx := context.Background()
	if err := o.InitializeUniverse(ctx); err != nil {
		t.Fatalf("InitializeUniverse failed: %v", err)
	}
	if err := o.BuildVariables(); err != nil {
		t.Fatalf("BuildVariables failed: %v", err)
	}
	// 2 trade edges per venue, plus one transfer per funded direction:
	// alpha_BTC -> beta_BTC and beta_USDT -> alpha_USDT
	if got := o.VariableCount(); got != 6 {
		t.Fatalf("expected 6 decision variables, got %d", got)
	}

	cycle, err := o.DetectCycle(ctx)
	if err != nil {
		t.Fatalf("DetectCycle failed: %v", err)
	}
	if cycle == nil {
		t.Fatal("expected a cross-venue cycle")
	}
	if len(cycle.Hops) != 4 {
		t.Fatalf("expected 4 hops, got %v", cycle.Walk())
	}
	transfers := 0
	for _, h := range cycle.Hops {
		if h.Transfer() {
			transfers++
			if h.Rate != 1 {
				t.Errorf("transfer rate must be 1, got %v", h.Rate)
			}
		}
	}
	if transfers != 2 {
		t.Errorf("expected 2 transfer hops, got %d", transfers)
	}
	if cycle.ProfitFactor <= 0 {
		t.Errorf("expected positive profit, got %v", cycle.ProfitFactor)
	}
}

func TestDetectCycleBeforeBuildFails(t *testing.T) {
	o, err := New(map[string]port.VenueClient{"alpha": triangleVenue()}, trianglePrices(), FeeTable{}, solver.Factory, triangleParams())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := o.DetectCycle(context.Background()); err == nil {
		t.Error("expected error before BuildVariables")
	}
}

func TestDetectCycleHonorsCancelledContext(t *testing.T) {
	o := newTriangleOptimizer(t, triangleParams())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := o.DetectCycle(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestWithdrawalFeeRefreshCadence(t *testing.T) {
	venue := triangleVenue()
	params := triangleParams()
	params.WithdrawRefreshEvery = 3
	o, err := New(map[string]port.VenueClient{"alpha": venue}, trianglePrices(), FeeTable{}, solver.Factory, params)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ctx := context.Background()
	if err := o.InitializeUniverse(ctx); err != nil {
		t.Fatalf("InitializeUniverse failed: %v", err)
	}
	if err := o.BuildVariables(); err != nil {
		t.Fatalf("BuildVariables failed: %v", err)
	}
	if venue.feeCalls != 1 {
		t.Fatalf("init should fetch fees exactly once, got %d", venue.feeCalls)
	}

	// init already fetched; iterations 1 and 2 ride on that, iteration 3
	// hits the cadence and refetches
	for i := 0; i < 2; i++ {
		if _, err := o.DetectCycle(ctx); err != nil {
			t.Fatalf("DetectCycle failed: %v", err)
		}
	}
	if venue.feeCalls != 1 {
		t.Errorf("expected no refetch before the cadence, got %d calls", venue.feeCalls)
	}
	if _, err := o.DetectCycle(ctx); err != nil {
		t.Fatalf("DetectCycle failed: %v", err)
	}
	if venue.feeCalls != 2 {
		t.Errorf("expected a refetch on the cadence iteration, got %d calls", venue.feeCalls)
	}
}

func TestDetectCycleToleratesTickerOutage(t *testing.T) {
	venue := triangleVenue()
	o, err := New(map[string]port.VenueClient{"alpha": venue}, trianglePrices(), FeeTable{}, solver.Factory, triangleParams())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ctx := context.Background()
	if err := o.InitializeUniverse(ctx); err != nil {
		t.Fatalf("InitializeUniverse failed: %v", err)
	}
	if err := o.BuildVariables(); err != nil {
		t.Fatalf("BuildVariables failed: %v", err)
	}

	venue.tickersErr = errors.New("rate limited")
	cycle, err := o.DetectCycle(ctx)
	if err != nil {
		t.Fatalf("expected ticker outage to degrade, not fail: %v", err)
	}
	if cycle != nil {
		t.Errorf("no rates means no cycle, got %v", cycle.Walk())
	}
}
