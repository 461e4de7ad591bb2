package registry

import (
	"fmt"
	"slices"

	"mcpgate/internal/config"
	"mcpgate/internal/gwerrors"
	"mcpgate/pkg/logging"
)

// decision is the outcome of running the conflict policy for one
// registration attempt.
type decision int

const (
	decideRegister decision = iota // register under the requested name
	decideDrop                     // drop silently (logged)
	decideRename                   // register under decision.name instead
	decideReplace                  // evict the holder, register under the requested name
	decideError                    // fail startup
)

// ConflictPolicy resolves exposed-name collisions between backends during
// registration. Stateless; the registry consults it per attempt.
type ConflictPolicy struct {
	strategy  string
	separator string
	rank      map[string]int // backend → priority index, for the priority strategy
}

// NewConflictPolicy builds a policy from validated configuration.
func NewConflictPolicy(cfg config.ConflictPolicyConfig) (*ConflictPolicy, error) {
	policy := &ConflictPolicy{
		strategy:  cfg.Strategy,
		separator: cfg.Separator,
	}
	if policy.separator == "" {
		policy.separator = config.DefaultSeparator
	}

	switch cfg.Strategy {
	case config.ConflictFirstWins, config.ConflictPrefix, config.ConflictError:
	case config.ConflictPriority:
		if len(cfg.Order) == 0 {
			return nil, &gwerrors.ConfigError{
				Field:  "conflict_policy.order",
				Reason: "priority strategy requires a non-empty order list",
			}
		}
		policy.rank = make(map[string]int, len(cfg.Order))
		for i, backend := range cfg.Order {
			policy.rank[backend] = i
		}
	default:
		return nil, &gwerrors.ConfigError{
			Field:  "conflict_policy.strategy",
			Reason: fmt.Sprintf("unknown strategy %q", cfg.Strategy),
		}
	}
	return policy, nil
}

// prefixed returns the backend-prefixed form of a name.
func (p *ConflictPolicy) prefixed(backend, name string) string {
	return backend + p.separator + name
}

// preTransform is applied to every candidate name before the registration
// attempt. Only the prefix strategy rewrites names unconditionally.
func (p *ConflictPolicy) preTransform(backend, name string) string {
	if p.strategy == config.ConflictPrefix {
		return p.prefixed(backend, name)
	}
	return name
}

// resolve decides what to do when backend tries to register name but
// holder already owns it. The returned string is the replacement name for
// decideRename.
func (p *ConflictPolicy) resolve(kind Kind, name, backend, holder string) (decision, string, error) {
	// Resources are identified by URI; a prefixed URI would no longer be
	// a valid URI, so rename outcomes are off the table. First-wins keeps
	// priority semantics intact because registration runs in priority
	// order. The error strategy still fails startup.
	if kind == KindResource && p.strategy != config.ConflictError {
		logging.Info("Registry", "Conflict on resource %q: keeping %s, dropping %s (URIs are never renamed)",
			name, holder, backend)
		return decideDrop, "", nil
	}

	switch p.strategy {
	case config.ConflictFirstWins:
		logging.Info("Registry", "Conflict on %s %q: keeping %s, dropping %s (first-wins)",
			kind, name, holder, backend)
		return decideDrop, "", nil

	case config.ConflictPrefix:
		// Names were already prefixed; a residual collision means two
		// identical (backend, name) pairs, which cannot be routed.
		logging.Warn("Registry", "Residual conflict on prefixed %s %q from %s, dropping", kind, name, backend)
		return decideDrop, "", nil

	case config.ConflictPriority:
		newRank, newListed := p.rank[backend]
		holderRank, holderListed := p.rank[holder]
		// Unlisted backends rank below every listed one.
		newScore := rankScore(newRank, newListed)
		holderScore := rankScore(holderRank, holderListed)
		if newScore < holderScore {
			logging.Info("Registry", "Conflict on %s %q: %s outranks %s, replacing; loser renamed to %q",
				kind, name, backend, holder, p.prefixed(holder, name))
			return decideReplace, p.prefixed(holder, name), nil
		}
		logging.Info("Registry", "Conflict on %s %q: %s holds priority, renaming %s entry to %q",
			kind, name, holder, backend, p.prefixed(backend, name))
		return decideRename, p.prefixed(backend, name), nil

	case config.ConflictError:
		return decideError, "", &gwerrors.ConflictError{
			Kind:    string(kind),
			Name:    name,
			Backend: backend,
			Holder:  holder,
		}

	default:
		return decideError, "", &gwerrors.InternalError{
			Message: "unknown conflict strategy",
			Err:     fmt.Errorf("strategy %q reached resolve", p.strategy),
		}
	}
}

func rankScore(rank int, listed bool) int {
	if !listed {
		return int(^uint(0) >> 1) // max int: unlisted loses to any listed backend
	}
	return rank
}

// orderedBackends sorts backend names for registration. Priority order
// comes first (so winners register before losers); remaining backends keep
// the supplied attach order.
func (p *ConflictPolicy) orderedBackends(attachOrder []string) []string {
	if p.strategy != config.ConflictPriority {
		return attachOrder
	}
	out := make([]string, len(attachOrder))
	copy(out, attachOrder)
	slices.SortStableFunc(out, func(a, b string) int {
		aRank, aListed := p.rank[a]
		bRank, bListed := p.rank[b]
		return rankScore(aRank, aListed) - rankScore(bRank, bListed)
	})
	return out
}
