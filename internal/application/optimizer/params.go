package optimizer

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"

	"github.com/rs/zerolog/log"
)

// Params is the optimizer's parameter set. It replaces dynamic attribute
// injection with a fixed, typed structure: overrides are validated per field,
// a bad value keeps the default, and unknown keys are reported back instead of
// silently dropped.
type Params struct {
	MaxCycleLength            int
	SimulatedBalances         map[string]map[string]float64 // venue -> asset -> amount; nil means real balances
	InterVenueTradeSize       float64
	MinTradeNotional          float64
	OrderBookDepth            int
	IncludeFiat               bool
	AllowInterVenue           bool
	ConsiderBalance           bool
	ConsiderInterVenueBalance bool

	// WithdrawRefreshEvery is the withdrawal-fee refresh cadence in
	// iterations; fee quotes are the most fragile network call and change
	// rarely, so they are not refetched every cycle.
	WithdrawRefreshEvery int

	// VolumeFraction is the share of recent traded volume considered safely
	// tradable on an intra-venue edge.
	VolumeFraction float64
}

// DefaultParams mirrors the configured baseline the supervisor copies per run.
func DefaultParams() Params {
	return Params{
		MaxCycleLength:            6,
		InterVenueTradeSize:       2000,
		MinTradeNotional:          10,
		OrderBookDepth:            20,
		IncludeFiat:               false,
		AllowInterVenue:           true,
		ConsiderBalance:           true,
		ConsiderInterVenueBalance: true,
		WithdrawRefreshEvery:      50,
		VolumeFraction:            0.01,
	}
}

// ApplyOverrides applies recognized keys onto p, validating each value's type
// and range. A malformed value logs a warning and keeps the current value;
// the returned slice lists keys that are not part of the schema.
func (p *Params) ApplyOverrides(overrides map[string]any) (unknown []string) {
	for key, raw := range overrides {
		switch key {
		case "path_length":
			if v, ok := asInt(raw); ok && v >= 1 {
				p.MaxCycleLength = v
			} else {
				log.Warn().Str("key", key).Interface("value", raw).Msg("invalid override, keeping default")
			}
		case "simulated_balances":
			if v, ok := asBalances(raw); ok {
				p.SimulatedBalances = v
			} else {
				log.Warn().Str("key", key).Interface("value", raw).Msg("invalid override, keeping default")
			}
		case "inter_venue_trade_size":
			if v, ok := asFloat(raw); ok && v > 0 {
				p.InterVenueTradeSize = v
			} else {
				log.Warn().Str("key", key).Interface("value", raw).Msg("invalid override, keeping default")
			}
		case "min_trade_notional":
			if v, ok := asFloat(raw); ok && v > 0 {
				p.MinTradeNotional = v
			} else {
				log.Warn().Str("key", key).Interface("value", raw).Msg("invalid override, keeping default")
			}
		case "order_book_depth":
			if v, ok := asInt(raw); ok && v > 0 {
				p.OrderBookDepth = v
			} else {
				log.Warn().Str("key", key).Interface("value", raw).Msg("invalid override, keeping default")
			}
		case "include_fiat":
			if v, ok := asBool(raw); ok {
				p.IncludeFiat = v
			} else {
				log.Warn().Str("key", key).Interface("value", raw).Msg("invalid override, keeping default")
			}
		case "allow_inter_venue":
			if v, ok := asBool(raw); ok {
				p.AllowInterVenue = v
			} else {
				log.Warn().Str("key", key).Interface("value", raw).Msg("invalid override, keeping default")
			}
		case "consider_balance":
			if v, ok := asBool(raw); ok {
				p.ConsiderBalance = v
			} else {
				log.Warn().Str("key", key).Interface("value", raw).Msg("invalid override, keeping default")
			}
		case "consider_inter_venue_balance":
			if v, ok := asBool(raw); ok {
				p.ConsiderInterVenueBalance = v
			} else {
				log.Warn().Str("key", key).Interface("value", raw).Msg("invalid override, keeping default")
			}
		default:
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)
	return unknown
}

func asInt(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case int64:
		return int(x), true
	case float64:
		if x == math.Trunc(x) {
			return int(x), true
		}
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return int(n), true
		}
	case string:
		if n, err := strconv.Atoi(x); err == nil {
			return n, true
		}
	}
	return 0, false
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case json.Number:
		if f, err := x.Float64(); err == nil {
			return f, true
		}
	case string:
		if f, err := strconv.ParseFloat(x, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

func asBool(v any) (bool, bool) {
	switch x := v.(type) {
	case bool:
		return x, true
	case string:
		switch x {
		case "true", "True", "1":
			return true, true
		case "false", "False", "0":
			return false, true
		}
	}
	return false, false
}

// asBalances accepts the decoded form (venue -> asset -> amount), a generic
// map from JSON decoding, or a raw JSON string.
func asBalances(v any) (map[string]map[string]float64, bool) {
	switch x := v.(type) {
	case nil:
		return nil, true
	case map[string]map[string]float64:
		return x, true
	case string:
		if x == "" {
			return nil, true
		}
		var decoded map[string]map[string]float64
		if err := json.Unmarshal([]byte(x), &decoded); err != nil {
			return nil, false
		}
		return decoded, true
	case map[string]any:
		out := make(map[string]map[string]float64, len(x))
		for venue, inner := range x {
			m, ok := inner.(map[string]any)
			if !ok {
				return nil, false
			}
			out[venue] = make(map[string]float64, len(m))
			for asset, amt := range m {
				f, ok := asFloat(amt)
				if !ok {
					return nil, false
				}
				out[venue][asset] = f
			}
		}
		return out, true
	}
	return nil, false
}
