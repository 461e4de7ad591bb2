package registry

import (
	"path"

	"mcpgate/internal/config"
)

// allowed applies a kind filter to a capability name: deny patterns hide
// first, then a non-empty allow list requires at least one match. Patterns
// use shell glob semantics (* and ?).
func allowed(filter config.KindFilter, name string) bool {
	for _, pattern := range filter.Deny {
		if ok, err := path.Match(pattern, name); err == nil && ok {
			return false
		}
	}
	if len(filter.Allow) == 0 {
		return true
	}
	for _, pattern := range filter.Allow {
		if ok, err := path.Match(pattern, name); err == nil && ok {
			return true
		}
	}
	return false
}

// filterFor picks the filter for a capability kind.
func filterFor(filters config.FiltersConfig, kind Kind) config.KindFilter {
	switch kind {
	case KindTool:
		return filters.Tools
	case KindResource:
		return filters.Resources
	case KindPrompt:
		return filters.Prompts
	default:
		return config.KindFilter{}
	}
}
