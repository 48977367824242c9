// Package retention decides which accounts are abandoned and may be pruned
// before a recompute batch. An account is abandoned when it joined more
// than Window ago, never bought beyond the signup product and never
// invited anyone.
package retention

import (
	"time"

	"github.com/refledger/ledger-engine/internal/model"
)

// DefaultWindow is how long a new account has to engage before pruning.
const DefaultWindow = 4 * 24 * time.Hour

// Policy holds the pruning thresholds.
type Policy struct {
	Window      time.Duration
	MaxProducts int
	MaxInvites  int
}

// DefaultPolicy prunes accounts older than four days that hold only the
// signup product and have no invites.
func DefaultPolicy() Policy {
	return Policy{Window: DefaultWindow, MaxProducts: 1, MaxInvites: 0}
}

// NewPolicy returns the default policy with a custom window. A
// non-positive window falls back to DefaultWindow.
func NewPolicy(window time.Duration) Policy {
	p := DefaultPolicy()
	if window > 0 {
		p.Window = window
	}
	return p
}

// Criteria renders the policy as a storage predicate evaluated at now.
func (p Policy) Criteria(now time.Time) model.PruneCriteria {
	return model.PruneCriteria{
		JoinedBefore: now.Add(-p.Window),
		MaxProducts:  p.MaxProducts,
		MaxInvites:   p.MaxInvites,
	}
}

// Abandoned reports whether acc would be pruned at now.
func (p Policy) Abandoned(acc *model.Account, now time.Time) bool {
	return p.Criteria(now).Matches(acc)
}
