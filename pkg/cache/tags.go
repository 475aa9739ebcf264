package cache

import "sync"

// tagIndex maps tags to the set of cache keys carrying them, with a
// reverse index for O(1) key removal. The index is process-local and
// eventually consistent: a key missing from the index just shrinks the
// invalidation set, it is never a correctness problem elsewhere.
type tagIndex struct {
	mu    sync.Mutex
	byTag map[string]map[string]struct{}
	byKey map[string]map[string]struct{}
}

func newTagIndex() *tagIndex {
	return &tagIndex{
		byTag: make(map[string]map[string]struct{}),
		byKey: make(map[string]map[string]struct{}),
	}
}

// Add associates key with each of the given tags.
func (t *tagIndex) Add(key string, tags []string) {
	if len(tags) == 0 {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for _, tag := range tags {
		if t.byTag[tag] == nil {
			t.byTag[tag] = make(map[string]struct{})
		}
		t.byTag[tag][key] = struct{}{}

		if t.byKey[key] == nil {
			t.byKey[key] = make(map[string]struct{})
		}
		t.byKey[key][tag] = struct{}{}
	}
}

// RemoveKey drops key from every tag set referencing it.
func (t *tagIndex) RemoveKey(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for tag := range t.byKey[key] {
		delete(t.byTag[tag], key)
		if len(t.byTag[tag]) == 0 {
			delete(t.byTag, tag)
		}
	}
	delete(t.byKey, key)
}

// Keys returns the union of key sets for the given tags. Unknown tags
// contribute nothing.
func (t *tagIndex) Keys(tags []string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	union := make(map[string]struct{})
	for _, tag := range tags {
		for key := range t.byTag[tag] {
			union[key] = struct{}{}
		}
	}

	keys := make([]string, 0, len(union))
	for key := range union {
		keys = append(keys, key)
	}
	return keys
}

// RemoveKeysWithPrefix drops every indexed key starting with prefix.
// Used by namespace clears, where keys embed their namespace.
func (t *tagIndex) RemoveKeysWithPrefix(prefix string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for key, tags := range t.byKey {
		if len(key) < len(prefix) || key[:len(prefix)] != prefix {
			continue
		}
		for tag := range tags {
			delete(t.byTag[tag], key)
			if len(t.byTag[tag]) == 0 {
				delete(t.byTag, tag)
			}
		}
		delete(t.byKey, key)
	}
}

// Reset drops the whole index.
func (t *tagIndex) Reset() {
	t.mu.Lock()
	t.byTag = make(map[string]map[string]struct{})
	t.byKey = make(map[string]map[string]struct{})
	t.mu.Unlock()
}
