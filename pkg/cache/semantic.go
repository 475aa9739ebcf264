package cache

import "context"

// SemanticMatcher locates a cached key whose prompt is semantically
// similar to the given one, allowing a near-match to satisfy a lookup
// the exact-key path missed.
//
// Only the no-op implementation exists today: true vector-similarity
// matching is not a committed requirement, and the exact-key path is
// the contract. The interface keeps the seam open without speculating
// on behavior.
type SemanticMatcher interface {
	FindSimilar(ctx context.Context, namespace, prompt string) (key string, ok bool, err error)
}

type noopSemanticMatcher struct{}

// NewNoopSemanticMatcher returns a matcher that never matches.
func NewNoopSemanticMatcher() SemanticMatcher {
	return noopSemanticMatcher{}
}

func (noopSemanticMatcher) FindSimilar(ctx context.Context, namespace, prompt string) (string, bool, error) {
	return "", false, nil
}
