package model

// RunState is the supervisor's lifecycle state.
type RunState string

const (
	StateIdle               RunState = "idle"
	StateStarting           RunState = "starting"
	StateRunning            RunState = "running"
	StateFoundOpportunity   RunState = "found_opportunity"
	StateNoOpportunity      RunState = "running_no_opportunity"
	StateSimulatedTrade     RunState = "executed_trade_simulation"
	StateNoWorkableSolution RunState = "opportunity_no_workable_solution"
	StateStopping           RunState = "stopping"
	StateStopped            RunState = "stopped"
	StateError              RunState = "error"
)

// Terminal reports whether the state marks a finished run.
func (s RunState) Terminal() bool {
	return s == StateIdle || s == StateStopped || s == StateError
}

// SizingResult is the trade-sizing stage's verdict on a detected cycle.
type SizingResult struct {
	Workable        bool    `json:"workable"`
	Notional        float64 `json:"notional"` // max executable fiat notional
	EstimatedProfit float64 `json:"estimated_profit_usd"`
}

// Opportunity is one history record: a detected cycle plus the downstream
// sizing outcome, if the sizing stage ran.
type Opportunity struct {
	ID           string        `json:"id"`
	Timestamp    int64         `json:"ts_ms"`
	Walk         []string      `json:"walk"` // ordered node names, closed
	ProfitFactor float64       `json:"profit_factor"`
	Sizing       *SizingResult `json:"sizing,omitempty"`
	Outcome      string        `json:"outcome"`
}
