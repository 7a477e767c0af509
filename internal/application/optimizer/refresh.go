package optimizer

import (
	"context"
	"errors"
	"math"
	"slices"

	"github.com/rs/zerolog/log"

	"arbscan/internal/application/port"
	"arbscan/internal/domain/model"
	"arbscan/internal/parallel"
)

// parallelFetch fans one call out across all venues, one worker per venue.
func parallelFetch[R any](ctx context.Context, names []string, fn func(context.Context, string) (R, error)) []parallel.Result[R] {
	return parallel.MapCtx(ctx, names, len(names), fn)
}

// DetectCycle is the per-iteration entry point: refresh all matrices, re-solve
// the model and reconstruct the selected edges into a closed walk. A nil cycle
// means no opportunity this iteration, which is expected and non-fatal. All
// refreshes complete before the solve; no partial-refresh solve happens.
func (o *Optimizer) DetectCycle(ctx context.Context) (*model.Cycle, error) {
	if !o.initialized || o.cm == nil {
		return nil, errors.New("optimizer: detect called before initialization")
	}

	cadence := o.params.WithdrawRefreshEvery
	if cadence < 1 {
		cadence = 1
	}
	if o.iter%cadence == 0 {
		o.refreshWithdrawalFees(ctx)
		o.refreshReferencePrices(ctx)
	}
	o.iter++

	o.refreshBalances(ctx)
	o.refreshRates(ctx)
	o.refreshLiquidity()
	o.refreshCommissions()
	o.updatePreferredStart()
	o.setObjective()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sol, err := o.cm.Solve()
	if err != nil {
		if errors.Is(err, port.ErrInfeasible) || errors.Is(err, port.ErrUnbounded) || errors.Is(err, port.ErrSolveLimit) {
			log.Debug().Err(err).Msg("no solution this iteration")
			return nil, nil
		}
		// a construction bug, not a market condition
		log.Error().Err(err).Msg("solve failed on internal invariant")
		return nil, nil
	}
	if len(sol.Values) != len(o.edges) {
		log.Error().Int("values", len(sol.Values)).Int("variables", len(o.edges)).
			Msg("solution value count mismatch")
		return nil, nil
	}

	return o.extractCycle(sol), nil
}

func (o *Optimizer) refreshWithdrawalFees(ctx context.Context) {
	type feeResult map[string]model.WithdrawalFee
	results := parallelFetch(ctx, o.venueNames, func(ctx context.Context, name string) (feeResult, error) {
		return o.venues[name].FetchWithdrawalFees(ctx)
	})

	fees := make(map[model.Node]model.WithdrawalFee)
	for i, res := range results {
		name := o.venueNames[i]
		if res.Err != nil {
			log.Warn().Err(res.Err).Str("venue", name).Msg("withdrawal fee refresh failed")
			continue
		}
		for asset, fee := range res.Value {
			node := model.Node{Venue: name, Asset: asset}
			if len(o.index) > 0 {
				if _, ok := o.index[node]; !ok {
					continue
				}
			}
			fees[node] = fee
		}
	}
	o.wfees = fees
}

func (o *Optimizer) refreshReferencePrices(ctx context.Context) {
	if len(o.refPrices) == 0 {
		return
	}
	symbols := make([]string, 0, len(o.refPrices))
	for s := range o.refPrices {
		symbols = append(symbols, s)
	}
	slices.Sort(symbols)
	quotes, err := o.prices.Quotes(ctx, symbols)
	if err != nil || len(quotes) == 0 {
		log.Warn().Err(err).Msg("reference price refresh failed, keeping previous prices")
		return
	}
	for s, q := range quotes {
		o.refPrices[s] = q
	}
}

// refreshBalances fetches free balances per venue concurrently, or uses the
// simulated override, and converts to fiat equivalents.
func (o *Optimizer) refreshBalances(ctx context.Context) {
	n := len(o.nodes)
	o.balAmt = make([]float64, n)
	o.balUSD = make([]float64, n)

	perVenue := make(map[string]map[string]float64)
	if o.params.SimulatedBalances != nil {
		for venue, assets := range o.params.SimulatedBalances {
			perVenue[venue] = assets
		}
	} else {
		results := parallelFetch(ctx, o.venueNames, func(ctx context.Context, name string) (map[string]float64, error) {
			return o.venues[name].FetchFreeBalances(ctx)
		})
		for i, res := range results {
			if res.Err != nil {
				log.Warn().Err(res.Err).Str("venue", o.venueNames[i]).Msg("balance refresh failed")
				continue
			}
			perVenue[o.venueNames[i]] = res.Value
		}
	}

	for venue, assets := range perVenue {
		for asset, amount := range assets {
			idx, ok := o.index[model.Node{Venue: venue, Asset: asset}]
			if !ok {
				continue
			}
			o.balAmt[idx] = amount
			if price, ok := o.refPrices[asset]; ok {
				o.balUSD[idx] = amount * price.Price
			}
		}
	}
}

// refreshRates rebuilds the conversion-rate matrix from live tickers: forward
// rate is the bid, reverse is 1/ask, and a missing or zero side makes the
// edge infeasible for this iteration only. Inter-venue transfer edges get
// unit rate in directions that still hold a fee quote.
func (o *Optimizer) refreshRates(ctx context.Context) {
	n := len(o.nodes)
	o.rate = floatMatrix(n)

	results := parallelFetch(ctx, o.venueNames, func(ctx context.Context, name string) ([]model.Ticker, error) {
		return o.venues[name].FetchTickers(ctx)
	})
	o.tickers = o.tickers[:0]
	for i, res := range results {
		if res.Err != nil {
			log.Warn().Err(res.Err).Str("venue", o.venueNames[i]).Msg("ticker refresh failed")
			continue
		}
		o.tickers = append(o.tickers, res.Value...)
	}

	for _, t := range o.tickers {
		from, okF := o.index[model.Node{Venue: t.Venue, Asset: t.Base}]
		to, okT := o.index[model.Node{Venue: t.Venue, Asset: t.Quote}]
		if !okF || !okT {
			continue
		}
		if t.Bid > 0 && t.Ask > 0 {
			o.rate[from][to] = t.Bid
			o.rate[to][from] = 1 / t.Ask
		}
	}

	for _, e := range o.edges {
		from, to := e[0], e[1]
		if o.nodes[from].Venue == o.nodes[to].Venue {
			continue
		}
		if _, ok := o.wfees[o.nodes[from]]; ok {
			o.rate[from][to] = 1
		}
	}
}

// refreshLiquidity bounds each edge by a fiat notional: a small fraction of
// recent traded volume for trades, destination-side balance plus the fee for
// transfers.
func (o *Optimizer) refreshLiquidity() {
	n := len(o.nodes)
	o.liquidity = floatMatrix(n)

	for _, t := range o.tickers {
		from, okF := o.index[model.Node{Venue: t.Venue, Asset: t.Base}]
		to, okT := o.index[model.Node{Venue: t.Venue, Asset: t.Quote}]
		if !okF || !okT {
			continue
		}
		price, ok := o.refPrices[t.Base]
		if !ok {
			continue
		}
		usd := t.BaseVolume * price.Price * o.params.VolumeFraction
		o.liquidity[from][to] = usd
		o.liquidity[to][from] = usd
	}

	for _, e := range o.edges {
		from, to := e[0], e[1]
		if o.nodes[from].Venue == o.nodes[to].Venue {
			continue
		}
		fee, ok := o.wfees[o.nodes[from]]
		if !ok {
			continue
		}
		if o.params.ConsiderInterVenueBalance {
			o.liquidity[from][to] = o.balUSD[to] + fee.USDFee
		} else {
			o.liquidity[from][to] = math.Inf(1)
		}
	}
}

// refreshCommissions fills proportional fees: the venue's trading fee for
// trades, the withdrawal fee as a fraction of the configured inter-venue
// trade size for transfers.
func (o *Optimizer) refreshCommissions() {
	n := len(o.nodes)
	o.commission = floatMatrix(n)

	for _, e := range o.edges {
		from, to := e[0], e[1]
		if o.nodes[from].Venue == o.nodes[to].Venue {
			o.commission[from][to] = o.fees.For(o.nodes[from].Venue)
			continue
		}
		if fee, ok := o.wfees[o.nodes[from]]; ok && o.params.InterVenueTradeSize > 0 {
			o.commission[from][to] = fee.USDFee / o.params.InterVenueTradeSize
		}
	}
}

// updatePreferredStart maintains the constraint forcing the cycle to leave at
// least one node holding a meaningful balance. The constraint is only touched
// when the preferred set actually changes, and removed when it empties.
func (o *Optimizer) updatePreferredStart() {
	if !o.params.ConsiderBalance {
		if o.preferred != nil {
			o.cm.RemoveConstraint(consPreferredStart)
			o.preferred = nil
		}
		return
	}

	var preferred []int
	for i := range o.nodes {
		if o.balUSD[i] >= o.params.MinTradeNotional {
			preferred = append(preferred, i)
		}
	}
	slices.SortStableFunc(preferred, func(a, b int) int {
		switch {
		case o.balUSD[a] > o.balUSD[b]:
			return -1
		case o.balUSD[a] < o.balUSD[b]:
			return 1
		default:
			return a - b
		}
	})

	if slices.Equal(preferred, o.preferred) {
		return
	}
	o.preferred = preferred

	if len(preferred) == 0 {
		o.cm.RemoveConstraint(consPreferredStart)
		return
	}
	var terms []port.Term
	for _, node := range preferred {
		for other := range o.nodes {
			if v := o.varID[node][other]; v >= 0 {
				terms = append(terms, port.Term{Var: v, Coeff: 1})
			}
		}
	}
	if len(terms) == 0 {
		o.cm.RemoveConstraint(consPreferredStart)
		return
	}
	o.cm.AddConstraint(consPreferredStart, terms, port.SenseGE, 1)
}

// setObjective recomputes the per-edge contribution ln(rate × (1−fee)).
// Edges under the liquidity floor or with a non-finite log are forced far
// negative so a bounded optimum can never select them.
func (o *Optimizer) setObjective() {
	for v, e := range o.edges {
		from, to := e[0], e[1]
		w := float64(infeasibleWeight)
		r := o.rate[from][to]
		c := o.commission[from][to]
		if r > 0 && c < 1 && o.liquidity[from][to] >= o.params.MinTradeNotional {
			if l := math.Log(r * (1 - c)); !math.IsInf(l, 0) && !math.IsNaN(l) {
				w = l
			}
		}
		o.weights[v] = w
	}
	o.cm.SetMaximize(o.weights)
}
