package models

import "slices"

// Delta lists the child keys touched by one reconciliation pass.
type Delta[K comparable] struct {
	Added   []K
	Updated []K
	Removed []K
}

// Changed reports whether the key set changed.
func (d Delta[K]) Changed() bool {
	return len(d.Added) > 0 || len(d.Removed) > 0
}

// Empty reports whether nothing was touched.
func (d Delta[K]) Empty() bool {
	return len(d.Added) == 0 && len(d.Updated) == 0 && len(d.Removed) == 0
}

// upsertFunc returns the child to store under key. current and exists describe
// the stored child; created reports whether a new object was constructed.
type upsertFunc[K comparable, V any] func(key K, current V, exists bool) (next V, created bool)

// reconcile makes existing mirror incoming: every incoming key is upserted and
// every other key is deleted. Removed keys are sorted with compare.
func reconcile[K comparable, V any](existing map[K]V, incoming []K, upsert upsertFunc[K, V], compare func(a, b K) int) Delta[K] {
	var delta Delta[K]
	seen := make(map[K]struct{}, len(incoming))

	for _, key := range incoming {
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		current, exists := existing[key]
		next, created := upsert(key, current, exists)
		existing[key] = next
		if created {
			delta.Added = append(delta.Added, key)
		} else {
			delta.Updated = append(delta.Updated, key)
		}
	}

	for key := range existing {
		if _, ok := seen[key]; !ok {
			delete(existing, key)
			delta.Removed = append(delta.Removed, key)
		}
	}
	slices.SortFunc(delta.Removed, compare)

	return delta
}

// accumulate upserts incoming keys without deleting anything.
func accumulate[K comparable, V any](existing map[K]V, incoming []K, upsert upsertFunc[K, V]) Delta[K] {
	var delta Delta[K]
	for _, key := range incoming {
		current, exists := existing[key]
		next, created := upsert(key, current, exists)
		existing[key] = next
		if created {
			delta.Added = append(delta.Added, key)
		} else if !slices.Contains(delta.Updated, key) && !slices.Contains(delta.Added, key) {
			delta.Updated = append(delta.Updated, key)
		}
	}
	return delta
}
