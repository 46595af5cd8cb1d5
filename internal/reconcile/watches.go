package reconcile

import (
	"errors"
	"sort"

	"github.com/roach88/watchpatch/internal/cache"
	"github.com/roach88/watchpatch/internal/mutation"
)

// Target is one cached page to reconcile: a watch and the response key
// holding the page.
type Target struct {
	Watch   cache.Watch
	Key     string
	DataKey string
}

// FindWatchesByType returns the targets among watches whose query selects
// the multi resolver for typeName.
func FindWatchesByType(watches []cache.Watch, typeName string) ([]Target, error) {
	return FindWatchesByResolver(watches, mutation.MultiResolverName(typeName))
}

// FindWatchesByResolver returns one target per (watch, response key) whose
// root field is resolver. Watches with equal keys are visited once, and
// the input order does not matter: targets come back ordered by key.
//
// A watch whose query fails to parse is skipped and reported in the
// returned error; the other targets are still returned.
func FindWatchesByResolver(watches []cache.Watch, resolver string) ([]Target, error) {
	var (
		targets []Target
		errs    []error
	)
	seen := make(map[string]bool, len(watches))

	for _, w := range watches {
		key, err := w.Key()
		if err != nil {
			errs = append(errs, &Error{Code: CodeInvalidQuery, Message: "cannot key watch", Err: err})
			continue
		}
		if seen[key] {
			continue
		}
		seen[key] = true

		fields, err := cache.RootFields(w.Query)
		if err != nil {
			errs = append(errs, &Error{Code: CodeInvalidQuery, Message: "cannot parse watch query", WatchKey: key, Err: err})
			continue
		}
		for _, f := range fields {
			if f.Name == resolver {
				targets = append(targets, Target{Watch: w, Key: key, DataKey: f.DataKey})
			}
		}
	}

	sort.Slice(targets, func(i, j int) bool {
		if targets[i].Key != targets[j].Key {
			return targets[i].Key < targets[j].Key
		}
		return targets[i].DataKey < targets[j].DataKey
	})
	return targets, errors.Join(errs...)
}
