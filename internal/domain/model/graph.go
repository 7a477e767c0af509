package model

import "fmt"

// Node is a tradable unit on one venue: the pair (venue, asset).
type Node struct {
	Venue string `json:"venue"`
	Asset string `json:"asset"`
}

func (n Node) String() string {
	return n.Venue + "_" + n.Asset
}

// Pair is a listed trading pair on a venue, base priced in quote.
type Pair struct {
	Base  string `json:"base"`
	Quote string `json:"quote"`
}

func (p Pair) String() string {
	return p.Base + "/" + p.Quote
}

// Ticker carries the current top-of-book and 24h volume for one pair.
type Ticker struct {
	Venue      string  `json:"venue"`
	Base       string  `json:"base"`
	Quote      string  `json:"quote"`
	Bid        float64 `json:"bid"`
	Ask        float64 `json:"ask"`
	BaseVolume float64 `json:"base_volume"` // 24h traded volume in base units
}

// BookLevel is one price level of an order book side.
type BookLevel struct {
	Price  float64 `json:"price"`
	Amount float64 `json:"amount"`
}

// OrderBook is depth to N levels for one pair, best first.
type OrderBook struct {
	Bids []BookLevel `json:"bids"`
	Asks []BookLevel `json:"asks"`
}

// Balance is a free holding on one node with its fiat-equivalent value.
type Balance struct {
	Node     Node    `json:"node"`
	Amount   float64 `json:"amount"`
	USDValue float64 `json:"usd_value"`
}

// WithdrawalFee is a venue's quote for withdrawing one asset. USDRate is the
// fixed fee expressed as a fraction of the configured inter-venue trade size.
type WithdrawalFee struct {
	Venue   string  `json:"venue"`
	Asset   string  `json:"asset"`
	USDFee  float64 `json:"usd_fee"`
	CoinFee float64 `json:"coin_fee"`
	USDRate float64 `json:"usd_rate"`
}

// ReferencePrice is a fiat reference quote for one asset symbol.
type ReferencePrice struct {
	Price float64 `json:"price"`
	Rank  int     `json:"rank"`
}

// Hop is one step of a candidate cycle: a trade within a venue or a transfer
// between venues, with the rate and proportional fee used when it was selected.
type Hop struct {
	From Node    `json:"from"`
	To   Node    `json:"to"`
	Rate float64 `json:"rate"`
	Fee  float64 `json:"fee"`
}

// Transfer reports whether the hop moves an asset between venues rather than
// trading within one.
func (h Hop) Transfer() bool {
	return h.From.Venue != h.To.Venue
}

// Cycle is an ordered closed walk of hops. ProfitFactor is the compounded
// rate-after-fees over the walk minus one; a cycle is an opportunity only
// when it is positive.
type Cycle struct {
	Hops         []Hop   `json:"hops"`
	ProfitFactor float64 `json:"profit_factor"`
}

// Closed reports whether the walk returns to its starting node.
func (c *Cycle) Closed() bool {
	if len(c.Hops) == 0 {
		return false
	}
	for i := 1; i < len(c.Hops); i++ {
		if c.Hops[i].From != c.Hops[i-1].To {
			return false
		}
	}
	return c.Hops[len(c.Hops)-1].To == c.Hops[0].From
}

// Walk returns the node names along the cycle, repeating the start at the end.
func (c *Cycle) Walk() []string {
	if len(c.Hops) == 0 {
		return nil
	}
	out := make([]string, 0, len(c.Hops)+1)
	for _, h := range c.Hops {
		out = append(out, h.From.String())
	}
	out = append(out, c.Hops[len(c.Hops)-1].To.String())
	return out
}

func (c *Cycle) String() string {
	return fmt.Sprintf("cycle(len=%d profit=%.6f)", len(c.Hops), c.ProfitFactor)
}
