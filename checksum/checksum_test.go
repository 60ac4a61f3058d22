package checksum

import (
	"testing"

	"github.com/hooklift/assert"
)

// TestRollEquivalence covers spec testable property #4: the rolling weak
// hash advanced one byte from B[k..k+w] must equal the weak hash computed
// fresh on B[k+1..k+w+1].
func TestRollEquivalence(t *testing.T) {
	buf := []byte("the quick brown fox jumps over the lazy dog")
	const window = 8

	fresh := NewWeak(buf[0:window])
	rolling := fresh

	for k := 0; k+window+1 <= len(buf); k++ {
		rolling = rolling.Roll(buf[k], buf[k+window])
		fresh = NewWeak(buf[k+1 : k+1+window])
		assert.Equals(t, fresh.Sum(), rolling.Sum())
	}
}

func TestWeakSumStable(t *testing.T) {
	a := NewWeak([]byte("abcd"))
	b := NewWeak([]byte("abcd"))
	assert.Equals(t, a.Sum(), b.Sum())

	c := NewWeak([]byte("abce"))
	assert.Cond(t, a.Sum() != c.Sum(), "distinct blocks should usually hash differently")
}

func TestStrongSumDeterministic(t *testing.T) {
	h1 := StrongSum([]byte("hello world"))
	h2 := StrongSum([]byte("hello world"))
	assert.Equals(t, h1, h2)

	h3 := StrongSum([]byte("hello worle"))
	assert.Cond(t, string(h1) != string(h3), "different content must hash differently")
}
