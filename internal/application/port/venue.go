package port

import (
	"context"

	"arbscan/internal/domain/model"
)

// VenueClient is the market-data gateway for one trading venue. Venue-specific
// protocol quirks stay behind this interface; the detection engine only sees
// pairs, tickers, depth, balances and withdrawal-fee quotes.
type VenueClient interface {
	Name() string

	// Market structure
	ListPairs(ctx context.Context) ([]model.Pair, error)
	ListAssets(ctx context.Context) ([]string, error)

	// Market data
	FetchTickers(ctx context.Context) ([]model.Ticker, error)
	FetchOrderBook(ctx context.Context, pair model.Pair, depth int) (*model.OrderBook, error)

	// Account
	FetchFreeBalances(ctx context.Context) (map[string]float64, error)

	// FetchWithdrawalFees returns the venue's full withdrawal-fee table keyed
	// by asset symbol. Absence of an asset means no quote exists and the asset
	// cannot be withdrawn from this venue.
	FetchWithdrawalFees(ctx context.Context) (map[string]model.WithdrawalFee, error)
}

// PriceSource resolves fiat reference prices for a set of asset symbols.
// A missing credential or failed call degrades to an empty map, not an error
// the caller has to branch on per symbol.
type PriceSource interface {
	Quotes(ctx context.Context, symbols []string) (map[string]model.ReferencePrice, error)
}

// Sizer converts a detected cycle into an executable-size verdict using
// order-book depth and balances. It is the boundary of the sizing stage;
// implementations may simulate rather than place orders.
type Sizer interface {
	Size(ctx context.Context, cycle *model.Cycle) (*model.SizingResult, error)
}
