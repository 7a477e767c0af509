package sizing

import (
	"context"
	"errors"
	"testing"

	"arbscan/internal/application/port"
	"arbscan/internal/domain/model"
)

// bookVenue serves a fixed order book per listed pair and errors for
// everything else, the way a real venue rejects unknown symbols.
type bookVenue struct {
	name  string
	books map[string]*model.OrderBook // "BASE/QUOTE" -> book
}

func (v *bookVenue) Name() string                                   { return v.name }
func (v *bookVenue) ListPairs(context.Context) ([]model.Pair, error) { return nil, nil }
func (v *bookVenue) ListAssets(context.Context) ([]string, error)    { return nil, nil }
func (v *bookVenue) FetchTickers(context.Context) ([]model.Ticker, error) {
	return nil, nil
}

func (v *bookVenue) FetchOrderBook(ctx context.Context, pair model.Pair, depth int) (*model.OrderBook, error) {
	book, ok := v.books[pair.String()]
	if !ok {
		return nil, errors.New("unknown symbol")
	}
	return book, nil
}

func (v *bookVenue) FetchFreeBalances(context.Context) (map[string]float64, error) {
	return map[string]float64{}, nil
}

func (v *bookVenue) FetchWithdrawalFees(context.Context) (map[string]model.WithdrawalFee, error) {
	return map[string]model.WithdrawalFee{}, nil
}

func node(venue, asset string) model.Node { return model.Node{Venue: venue, Asset: asset} }

func TestSizeUsesThinnestHop(t *testing.T) {
	venue := &bookVenue{
		name: "alpha",
		books: map[string]*model.OrderBook{
			// selling BTC into USDT hits bids: 2 x 100 + 3 x 99 = 497
			"BTC/USDT": {
				Bids: []model.BookLevel{{Price: 100, Amount: 2}, {Price: 99, Amount: 3}},
				Asks: []model.BookLevel{{Price: 101, Amount: 50}},
			},
			// buying ETH with USDT lifts asks: 10 x 2000 = 20000
			"ETH/USDT": {
				Bids: []model.BookLevel{{Price: 1990, Amount: 10}},
				Asks: []model.BookLevel{{Price: 2000, Amount: 10}},
			},
		},
	}
	sim := New(map[string]port.VenueClient{"alpha": venue}, 20, 10, 2000)

	cycle := &model.Cycle{
		ProfitFactor: 0.01,
		Hops: []model.Hop{
			{From: node("alpha", "USDT"), To: node("alpha", "ETH"), Rate: 0.0005},
			{From: node("alpha", "ETH"), To: node("alpha", "BTC"), Rate: 0.05},
			{From: node("alpha", "BTC"), To: node("alpha", "USDT"), Rate: 100},
		},
	}
	// give the ETH/BTC hop a book too
	venue.books["ETH/BTC"] = &model.OrderBook{
		Bids: []model.BookLevel{{Price: 0.05, Amount: 100000}},
	}

	res, err := sim.Size(context.Background(), cycle)
	if err != nil {
		t.Fatalf("Size failed: %v", err)
	}
	if res.Notional != 497 {
		t.Errorf("expected binding capacity 497 from the BTC/USDT bids, got %v", res.Notional)
	}
	if !res.Workable {
		t.Error("497 clears a 10 USD floor, expected workable")
	}
	if res.EstimatedProfit != 497*0.01 {
		t.Errorf("expected profit 4.97, got %v", res.EstimatedProfit)
	}
}

func TestSizeTransferHopsCappedByTransferSize(t *testing.T) {
	venue := &bookVenue{
		name: "alpha",
		books: map[string]*model.OrderBook{
			"BTC/USDT": {
				Bids: []model.BookLevel{{Price: 100, Amount: 1000}},
				Asks: []model.BookLevel{{Price: 101, Amount: 1000}},
			},
		},
	}
	beta := &bookVenue{
		name: "beta",
		books: map[string]*model.OrderBook{
			"BTC/USDT": {
				Bids: []model.BookLevel{{Price: 102, Amount: 1000}},
				Asks: []model.BookLevel{{Price: 103, Amount: 1000}},
			},
		},
	}
	sim := New(map[string]port.VenueClient{"alpha": venue, "beta": beta}, 20, 10, 2000)

	cycle := &model.Cycle{
		ProfitFactor: 0.02,
		Hops: []model.Hop{
			{From: node("alpha", "USDT"), To: node("alpha", "BTC")},
			{From: node("alpha", "BTC"), To: node("beta", "BTC")}, // transfer
			{From: node("beta", "BTC"), To: node("beta", "USDT")},
			{From: node("beta", "USDT"), To: node("alpha", "USDT")}, // transfer
		},
	}
	res, err := sim.Size(context.Background(), cycle)
	if err != nil {
		t.Fatalf("Size failed: %v", err)
	}
	if res.Notional != 2000 {
		t.Errorf("expected transfer size 2000 to bind, got %v", res.Notional)
	}
}

func TestSizeUnavailableBookMeansUnworkable(t *testing.T) {
	venue := &bookVenue{name: "alpha", books: map[string]*model.OrderBook{}}
	sim := New(map[string]port.VenueClient{"alpha": venue}, 20, 10, 2000)

	cycle := &model.Cycle{
		ProfitFactor: 0.01,
		Hops: []model.Hop{
			{From: node("alpha", "BTC"), To: node("alpha", "USDT")},
			{From: node("alpha", "USDT"), To: node("alpha", "BTC")},
		},
	}
	res, err := sim.Size(context.Background(), cycle)
	if err != nil {
		t.Fatalf("Size failed: %v", err)
	}
	if res.Workable || res.Notional != 0 {
		t.Errorf("missing books should yield zero capacity, got %+v", res)
	}
}

func TestSizeEmptyCycle(t *testing.T) {
	sim := New(nil, 20, 10, 2000)
	res, err := sim.Size(context.Background(), &model.Cycle{})
	if err != nil {
		t.Fatalf("Size failed: %v", err)
	}
	if res.Workable || res.Notional != 0 {
		t.Errorf("empty cycle must be unworkable, got %+v", res)
	}
}
