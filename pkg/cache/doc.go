// Package cache implements the dealmesh multi-tier caching layer: a
// bounded in-process LRU tier backed by a shared Redis tier, composed
// behind a namespaced Manager with TTL and stale-while-revalidate
// semantics, tag-based invalidation, payload compression, and hit/miss
// accounting.
//
// A cache failure is never an application failure. Remote-tier errors
// degrade to local-tier-only operation; serialization errors surface as
// a false/empty result plus a logged error. Nothing in this package
// panics into a caller's request path.
//
// The subpackage monitoring supervises a Manager: periodic health
// checks, threshold alerting, metrics export, and scheduled cache
// warming.
package cache
