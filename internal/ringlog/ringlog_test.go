package ringlog

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestLog_AppendWraps(t *testing.T) {
	t.Parallel()

	l := New[int](3)
	assert.Equal(t, 0, l.Len())
	assert.Empty(t, l.Entries())

	l.Append(1)
	l.Append(2)
	assert.Equal(t, []int{1, 2}, l.Entries())

	l.Append(3)
	l.Append(4)
	l.Append(5)
	assert.Equal(t, 3, l.Len())
	assert.Equal(t, 3, l.Cap())
	assert.Equal(t, []int{3, 4, 5}, l.Entries())
}

func TestLog_MinimumCapacity(t *testing.T) {
	t.Parallel()

	l := New[int](0)
	l.Append(7)
	l.Append(8)
	assert.Equal(t, 1, l.Cap())
	assert.Equal(t, []int{8}, l.Entries())
}

func TestLog_Dump(t *testing.T) {
	t.Parallel()

	l := New[string](2)
	l.Append("first")
	l.Append("second")
	l.Append("third")

	var buf bytes.Buffer
	l.Dump(&buf, "  ")
	assert.Equal(t, "  second\n  third\n", buf.String())
}

func TestKeyedHistory_PutGet(t *testing.T) {
	t.Parallel()

	h := NewKeyedHistory[int, string](2)
	_, ok := h.Get(1)
	assert.False(t, ok)

	h.Put(2, "b1")
	h.Put(1, "a1")
	h.Put(2, "b2")
	h.Put(2, "b3")

	v, ok := h.Get(2)
	require.True(t, ok)
	assert.Equal(t, "b3", v)

	assert.Equal(t, 2, h.Len())
	assert.Equal(t, []int{1, 2}, h.Keys())
	assert.Equal(t, []string{"b2", "b3"}, h.History(2))
	assert.Equal(t, []string{"a1"}, h.History(1))
	assert.Nil(t, h.History(3))
}

func TestKeyedHistory_Dump(t *testing.T) {
	t.Parallel()

	h := NewKeyedHistory[int, string](30)

	var empty bytes.Buffer
	h.Dump(&empty, " ")
	assert.Equal(t, " <empty>\n", empty.String())

	h.Put(3, "c")
	h.Put(1, "a")

	var buf bytes.Buffer
	h.Dump(&buf, " ")
	assert.Equal(t, " 1:\n  a\n 3:\n  c\n", buf.String())
}

func TestPropertyLogKeepsNewestEntries(t *testing.T) {
	t.Parallel()
	rapid.Check(t, func(t *rapid.T) {
		capacity := rapid.IntRange(1, 40).Draw(t, "capacity")
		values := rapid.SliceOf(rapid.Int()).Draw(t, "values")

		l := New[int](capacity)
		for _, v := range values {
			l.Append(v)
		}

		want := values
		if len(want) > capacity {
			want = want[len(want)-capacity:]
		}
		got := l.Entries()
		if len(got) != len(want) {
			t.Fatalf("len mismatch: got %d want %d", len(got), len(want))
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("entry %d: got %d want %d", i, got[i], want[i])
			}
		}
	})
}

func TestPropertyKeyedHistoryKeysSorted(t *testing.T) {
	t.Parallel()
	rapid.Check(t, func(t *rapid.T) {
		keys := rapid.SliceOf(rapid.IntRange(-50, 50)).Draw(t, "keys")

		h := NewKeyedHistory[int, int](5)
		for i, k := range keys {
			h.Put(k, i)
		}

		got := h.Keys()
		for i := 1; i < len(got); i++ {
			if got[i-1] >= got[i] {
				t.Fatalf("keys not strictly ascending: %v", got)
			}
		}
	})
}
