package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTagIndex_AddAndKeys(t *testing.T) {
	idx := newTagIndex()

	idx.Add("k1", []string{"t1"})
	idx.Add("k2", []string{"t1", "t2"})
	idx.Add("k3", nil)

	assert.ElementsMatch(t, []string{"k1", "k2"}, idx.Keys([]string{"t1"}))
	assert.ElementsMatch(t, []string{"k2"}, idx.Keys([]string{"t2"}))

	// Union across tags, no duplicates
	assert.ElementsMatch(t, []string{"k1", "k2"}, idx.Keys([]string{"t1", "t2"}))

	assert.Empty(t, idx.Keys([]string{"unknown"}))
}

func TestTagIndex_RemoveKey(t *testing.T) {
	idx := newTagIndex()

	idx.Add("k1", []string{"t1", "t2"})
	idx.Add("k2", []string{"t1"})

	idx.RemoveKey("k1")

	assert.ElementsMatch(t, []string{"k2"}, idx.Keys([]string{"t1"}))
	assert.Empty(t, idx.Keys([]string{"t2"}))

	// Removing an unknown key is a no-op
	idx.RemoveKey("ghost")
}

func TestTagIndex_RemoveKeysWithPrefix(t *testing.T) {
	idx := newTagIndex()

	idx.Add("query:aaa", []string{"t1"})
	idx.Add("query:bbb", []string{"t1"})
	idx.Add("session:ccc", []string{"t1"})

	idx.RemoveKeysWithPrefix("query:")

	assert.ElementsMatch(t, []string{"session:ccc"}, idx.Keys([]string{"t1"}))
}

func TestTagIndex_Reset(t *testing.T) {
	idx := newTagIndex()

	idx.Add("k1", []string{"t1"})
	idx.Reset()

	assert.Empty(t, idx.Keys([]string{"t1"}))
}
