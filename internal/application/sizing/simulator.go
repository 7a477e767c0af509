// Package sizing holds the simulated trade-sizing stage. It answers one
// question about a detected cycle: how much fiat notional could actually be
// pushed through it, given order-book depth on every trade hop. No orders are
// placed.
package sizing

import (
	"context"
	"math"
	"strings"

	"github.com/rs/zerolog/log"

	"arbscan/internal/application/port"
	"arbscan/internal/domain/model"
)

// Simulator walks order-book depth per hop and reports the binding capacity.
type Simulator struct {
	venues       map[string]port.VenueClient
	depth        int
	minNotional  float64
	transferSize float64
}

// New builds a simulator. depth is the number of book levels sampled per
// hop; transferSize caps inter-venue hops.
func New(venues map[string]port.VenueClient, depth int, minNotional, transferSize float64) *Simulator {
	if depth <= 0 {
		depth = 20
	}
	return &Simulator{
		venues:       venues,
		depth:        depth,
		minNotional:  minNotional,
		transferSize: transferSize,
	}
}

// Size computes the maximum executable fiat notional for the cycle: the
// minimum depth-available notional over its trade hops, capped by the
// transfer size on transfer hops. The result is workable when that notional
// clears the minimum tradable floor.
func (s *Simulator) Size(ctx context.Context, cycle *model.Cycle) (*model.SizingResult, error) {
	if cycle == nil || len(cycle.Hops) == 0 {
		return &model.SizingResult{}, nil
	}

	capacity := math.Inf(1)
	for _, hop := range cycle.Hops {
		if hop.Transfer() {
			capacity = math.Min(capacity, s.transferSize)
			continue
		}
		notional, err := s.hopDepthNotional(ctx, hop)
		if err != nil {
			log.Warn().Err(err).
				Str("from", hop.From.String()).Str("to", hop.To.String()).
				Msg("order book unavailable, hop capacity zero")
			notional = 0
		}
		capacity = math.Min(capacity, notional)
	}
	if math.IsInf(capacity, 1) {
		capacity = 0
	}

	res := &model.SizingResult{
		Workable:        capacity >= s.minNotional,
		Notional:        capacity,
		EstimatedProfit: capacity * cycle.ProfitFactor,
	}
	return res, nil
}

// hopDepthNotional sums the notional available at the top N levels of the
// side the hop consumes: selling the base hits bids, buying it lifts asks.
func (s *Simulator) hopDepthNotional(ctx context.Context, hop model.Hop) (float64, error) {
	client, ok := s.venues[hop.From.Venue]
	if !ok {
		return 0, nil
	}

	pair := model.Pair{Base: strings.ToUpper(hop.From.Asset), Quote: strings.ToUpper(hop.To.Asset)}
	selling := true
	book, err := client.FetchOrderBook(ctx, pair, s.depth)
	if err != nil {
		// the pair may be listed the other way around
		pair = model.Pair{Base: pair.Quote, Quote: pair.Base}
		selling = false
		book, err = client.FetchOrderBook(ctx, pair, s.depth)
		if err != nil {
			return 0, err
		}
	}

	levels := book.Bids
	if !selling {
		levels = book.Asks
	}
	total := 0.0
	for i, lvl := range levels {
		if i >= s.depth {
			break
		}
		total += lvl.Price * lvl.Amount
	}
	return total, nil
}

var _ port.Sizer = (*Simulator)(nil)
