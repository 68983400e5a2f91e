// Package reconcile owns the charge state machine: pending is the only
// non-terminal state and every transition converges toward a terminal one.
package reconcile

import "github.com/smallbiznis/paygate/internal/payment/domain"

// Merge decides what an incoming status does to a charge in state current.
// It never moves a terminal charge; only Reset does that.
func Merge(current, incoming domain.Status) (domain.Status, domain.Outcome) {
	if current == incoming {
		return current, domain.OutcomeDuplicate
	}
	if !current.IsTerminal() {
		return incoming, domain.OutcomeApplied
	}
	if incoming == domain.StatusPending {
		return current, domain.OutcomeStale
	}
	return current, domain.OutcomeConflict
}
