// Package optimizer builds a weighted multigraph over (venue, asset) nodes
// and formulates cycle selection as a binary program: maximize the sum of
// ln(rate × (1−fee)) over selected edges subject to flow balance, degree,
// length and preferred-start constraints. A positive optimum exponentiates
// back to a profit factor above zero; anything else is "no opportunity".
package optimizer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"arbscan/internal/application/port"
	"arbscan/internal/domain/model"
	"arbscan/internal/parallel"
)

// fiatAssets are excluded from the node universe unless IncludeFiat is set.
var fiatAssets = map[string]struct{}{
	"USD": {}, "EUR": {}, "GBP": {}, "JPY": {}, "AUD": {}, "CAD": {},
	"CHF": {}, "KRW": {}, "CNY": {}, "RUB": {}, "BRL": {}, "TRY": {},
	"SGD": {}, "HKD": {}, "NZD": {}, "ZAR": {},
}

// FeeTable maps venues to their proportional trading fee, with a default
// fallback for venues not listed.
type FeeTable struct {
	Default float64
	Venue   map[string]float64
}

// For returns the trading fee for a venue.
func (f FeeTable) For(venue string) float64 {
	if fee, ok := f.Venue[venue]; ok {
		return fee
	}
	return f.Default
}

// constraint names used with the solver model
const (
	consPreferredStart = "preferred_start"
	consPathLength     = "path_length"
)

// edge weight that a bounded maximum can never include
const infeasibleWeight = -1e9

// Optimizer is the opportunity graph model. The universe and decision
// variables are built once per run; matrices are rebuilt every detection
// iteration and never shared across goroutines.
type Optimizer struct {
	venues     map[string]port.VenueClient
	venueNames []string
	prices     port.PriceSource
	fees       FeeTable
	factory    port.ModelFactory
	params     Params

	// universe, fixed after InitializeUniverse
	nodes       []model.Node
	index       map[model.Node]int
	pairs       map[string][]model.Pair
	initialized bool

	// variables, fixed after BuildVariables
	cm    port.ConstraintModel
	mask  [][]bool
	varID [][]int
	edges [][2]int

	// per-iteration state
	refPrices  map[string]model.ReferencePrice
	wfees      map[model.Node]model.WithdrawalFee
	tickers    []model.Ticker
	rate       [][]float64
	commission [][]float64
	liquidity  [][]float64
	balAmt     []float64
	balUSD     []float64
	weights    []float64
	preferred  []int
	iter       int
}

// New constructs the model. Fails fast on an empty venue map; individual
// venue outages are tolerated later, during universe initialization.
func New(venues map[string]port.VenueClient, prices port.PriceSource, fees FeeTable, factory port.ModelFactory, params Params) (*Optimizer, error) {
	if len(venues) == 0 {
		return nil, errors.New("optimizer: no venues configured")
	}
	if factory == nil {
		return nil, errors.New("optimizer: no solver factory")
	}
	names := make([]string, 0, len(venues))
	for name := range venues {
		names = append(names, name)
	}
	sort.Strings(names)
	return &Optimizer{
		venues:     venues,
		venueNames: names,
		prices:     prices,
		fees:       fees,
		factory:    factory,
		params:     params,
		index:      make(map[model.Node]int),
		pairs:      make(map[string][]model.Pair),
		refPrices:  make(map[string]model.ReferencePrice),
		wfees:      make(map[model.Node]model.WithdrawalFee),
	}, nil
}

// Params returns the active parameter set.
func (o *Optimizer) Params() Params { return o.params }

// Nodes returns the node universe, valid after InitializeUniverse.
func (o *Optimizer) Nodes() []model.Node { return o.nodes }

// VariableCount returns the number of decision variables, valid after
// BuildVariables.
func (o *Optimizer) VariableCount() int { return len(o.edges) }

type venueUniverse struct {
	pairs  []model.Pair
	assets []string
}

// InitializeUniverse lists markets on every venue, filters fiat, resolves
// reference prices and assigns dense node indices. Network-bound and called
// exactly once before the detection loop; repeat calls are no-ops. A venue
// that errors is skipped so a single outage cannot abort startup.
func (o *Optimizer) InitializeUniverse(ctx context.Context) error {
	if o.initialized {
		return nil
	}

	results := parallel.MapCtx(ctx, o.venueNames, len(o.venueNames), func(ctx context.Context, name string) (venueUniverse, error) {
		client := o.venues[name]
		pairs, err := client.ListPairs(ctx)
		if err != nil {
			return venueUniverse{}, fmt.Errorf("list pairs: %w", err)
		}
		assets, err := client.ListAssets(ctx)
		if err != nil {
			return venueUniverse{}, fmt.Errorf("list assets: %w", err)
		}
		return venueUniverse{pairs: pairs, assets: assets}, nil
	})

	rawNodes := make(map[model.Node]struct{})
	usable := 0
	for i, res := range results {
		name := o.venueNames[i]
		if res.Err != nil {
			log.Warn().Err(res.Err).Str("venue", name).Msg("venue unavailable, skipping")
			continue
		}
		usable++
		o.pairs[name] = res.Value.pairs
		for _, asset := range res.Value.assets {
			asset = strings.ToUpper(asset)
			if _, fiat := fiatAssets[asset]; fiat && !o.params.IncludeFiat {
				continue
			}
			rawNodes[model.Node{Venue: name, Asset: asset}] = struct{}{}
		}
	}
	if usable == 0 {
		return errors.New("optimizer: no usable venues")
	}

	symbolSet := make(map[string]struct{})
	for node := range rawNodes {
		symbolSet[node.Asset] = struct{}{}
	}
	symbols := make([]string, 0, len(symbolSet))
	for s := range symbolSet {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	quotes, err := o.prices.Quotes(ctx, symbols)
	if err != nil {
		log.Warn().Err(err).Msg("reference price fetch failed")
		quotes = map[string]model.ReferencePrice{}
	}
	o.refPrices = quotes

	// a node without a reference price cannot be compared across venues
	o.nodes = o.nodes[:0]
	for node := range rawNodes {
		if _, ok := quotes[node.Asset]; ok {
			o.nodes = append(o.nodes, node)
		}
	}
	sort.Slice(o.nodes, func(i, j int) bool {
		if o.nodes[i].Venue != o.nodes[j].Venue {
			return o.nodes[i].Venue < o.nodes[j].Venue
		}
		return o.nodes[i].Asset < o.nodes[j].Asset
	})
	for i, node := range o.nodes {
		o.index[node] = i
	}

	o.refreshWithdrawalFees(ctx)
	// fees are fresh; the first detection iteration must not re-fetch them
	o.iter = 1

	log.Info().
		Int("venues_usable", usable).
		Int("nodes", len(o.nodes)).
		Int("priced_symbols", len(quotes)).
		Msg("universe initialized")
	o.initialized = true
	return nil
}

// BuildVariables computes the feasibility mask and instantiates one binary
// decision variable per feasible ordered edge, plus the constraints that do
// not change across iterations. Called once, after InitializeUniverse.
func (o *Optimizer) BuildVariables() error {
	if !o.initialized {
		return errors.New("optimizer: universe not initialized")
	}
	n := len(o.nodes)
	o.mask = boolMatrix(n)
	o.varID = intMatrix(n, -1)

	// intra-venue: every listed pair, both directions
	for venue, pairs := range o.pairs {
		for _, p := range pairs {
			from, okF := o.index[model.Node{Venue: venue, Asset: strings.ToUpper(p.Base)}]
			to, okT := o.index[model.Node{Venue: venue, Asset: strings.ToUpper(p.Quote)}]
			if !okF || !okT || from == to {
				continue
			}
			o.mask[from][to] = true
			o.mask[to][from] = true
		}
	}

	// inter-venue: same asset on two venues, feasible only in directions with
	// a withdrawal-fee quote at the source
	if o.params.AllowInterVenue {
		byAsset := make(map[string][]int)
		for i, node := range o.nodes {
			byAsset[node.Asset] = append(byAsset[node.Asset], i)
		}
		for _, group := range byAsset {
			if len(group) < 2 {
				continue
			}
			for _, from := range group {
				if _, ok := o.wfees[o.nodes[from]]; !ok {
					continue
				}
				for _, to := range group {
					if from != to {
						o.mask[from][to] = true
					}
				}
			}
		}
	}

	o.cm = o.factory()
	o.edges = o.edges[:0]
	for from := 0; from < n; from++ {
		for to := 0; to < n; to++ {
			if o.mask[from][to] {
				o.varID[from][to] = len(o.edges)
				o.edges = append(o.edges, [2]int{from, to})
			}
		}
	}
	o.cm.AddBinaryVars(len(o.edges))
	o.weights = make([]float64, len(o.edges))

	o.addStaticConstraints()

	log.Info().Int("variables", len(o.edges)).Msg("decision variables built")
	return nil
}

func (o *Optimizer) addStaticConstraints() {
	n := len(o.nodes)
	for node := 0; node < n; node++ {
		var flow, in, out []port.Term
		for other := 0; other < n; other++ {
			if v := o.varID[node][other]; v >= 0 {
				flow = append(flow, port.Term{Var: v, Coeff: 1})
				out = append(out, port.Term{Var: v, Coeff: 1})
			}
			if v := o.varID[other][node]; v >= 0 {
				flow = append(flow, port.Term{Var: v, Coeff: -1})
				in = append(in, port.Term{Var: v, Coeff: -1})
			}
		}
		if len(flow) == 0 {
			continue
		}
		name := o.nodes[node].String()
		// closed-walk requirement: selected in-degree equals out-degree
		o.cm.AddConstraint("flow_"+name, flow, port.SenseEQ, 0)
		if len(out) > 0 {
			o.cm.AddConstraint("out_"+name, out, port.SenseLE, 1)
		}
		if len(in) > 0 {
			for i := range in {
				in[i].Coeff = 1
			}
			o.cm.AddConstraint("in_"+name, in, port.SenseLE, 1)
		}
	}

	total := make([]port.Term, len(o.edges))
	for v := range o.edges {
		total[v] = port.Term{Var: v, Coeff: 1}
	}
	o.cm.AddConstraint(consPathLength, total, port.SenseLE, float64(o.params.MaxCycleLength))
}

func boolMatrix(n int) [][]bool {
	m := make([][]bool, n)
	for i := range m {
		m[i] = make([]bool, n)
	}
	return m
}

func intMatrix(n, fill int) [][]int {
	m := make([][]int, n)
	for i := range m {
		m[i] = make([]int, n)
		for j := range m[i] {
			m[i][j] = fill
		}
	}
	return m
}

func floatMatrix(n int) [][]float64 {
	m := make([][]float64, n)
	for i := range m {
		m[i] = make([]float64, n)
	}
	return m
}
