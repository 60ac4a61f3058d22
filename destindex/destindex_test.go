package destindex

import (
	"testing"

	"github.com/hooklift/assert"
)

func TestInsertTake(t *testing.T) {
	idx := New(0)
	idx.Insert("a.txt", State{Size: 5})

	s, ok := idx.Take("a.txt")
	assert.Cond(t, ok, "expected row to be present")
	assert.Equals(t, uint64(5), s.Size)

	_, ok = idx.Take("a.txt")
	assert.Cond(t, !ok, "row must be gone after being taken once")
}

func TestRemainingAreDeletionCandidates(t *testing.T) {
	idx := New(0)
	idx.Insert("a.txt", State{})
	idx.Insert("b.txt", State{})
	idx.Take("a.txt")

	var remaining []string
	idx.Remaining(func(path string, _ State) { remaining = append(remaining, path) })
	assert.Equals(t, []string{"b.txt"}, remaining)
	assert.Equals(t, 1, idx.Len())
}
