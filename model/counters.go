package model

// Counters are the scalar session totals shown to the player.
type Counters struct {
	// Budget is what remains to spend. It is never negative.
	Budget int `json:"budget" yaml:"budget"`
	// Spent is the sum of every accepted placement and connection cost.
	Spent int `json:"spent" yaml:"spent"`

	TargetRequests    int `json:"targetRequests" yaml:"targetRequests"`
	RemainingRequests int `json:"remainingRequests" yaml:"remainingRequests"`
	RequestsProcessed int `json:"requestsProcessed" yaml:"requestsProcessed"`
	RequestsFailed    int `json:"requestsFailed" yaml:"requestsFailed"`
}

// NewCounters returns counters for a fresh session.
func NewCounters(budget, target int) Counters {
	return Counters{
		Budget:            budget,
		TargetRequests:    target,
		RemainingRequests: target,
	}
}

// InitialBudget is the budget the session started with.
func (c Counters) InitialBudget() int {
	return c.Budget + c.Spent
}

// CanAfford reports whether cost fits in the remaining budget.
func (c Counters) CanAfford(cost int) bool {
	return cost >= 0 && cost <= c.Budget
}

// Finished reports whether every target request has been generated and
// has reached a terminal state.
func (c Counters) Finished() bool {
	return c.RemainingRequests == 0 &&
		c.RequestsProcessed+c.RequestsFailed >= c.TargetRequests
}
