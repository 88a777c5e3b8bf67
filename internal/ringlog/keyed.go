package ringlog

import (
	"cmp"
	"fmt"
	"io"
	"slices"
)

// KeyedHistory maps keys to their latest value and keeps a bounded history of
// every value put for each key. Keys iterate in ascending order.
type KeyedHistory[K cmp.Ordered, V any] struct {
	capacity int
	keys     []K
	latest   map[K]V
	history  map[K]*Log[V]
}

// NewKeyedHistory creates a KeyedHistory that keeps up to capacity values per key.
func NewKeyedHistory[K cmp.Ordered, V any](capacity int) *KeyedHistory[K, V] {
	return &KeyedHistory[K, V]{
		capacity: capacity,
		latest:   make(map[K]V),
		history:  make(map[K]*Log[V]),
	}
}

// Put stores v as the latest value for k and appends it to k's history.
func (h *KeyedHistory[K, V]) Put(k K, v V) {
	log, ok := h.history[k]
	if !ok {
		log = New[V](h.capacity)
		h.history[k] = log
		i, _ := slices.BinarySearch(h.keys, k)
		h.keys = slices.Insert(h.keys, i, k)
	}
	h.latest[k] = v
	log.Append(v)
}

// Get returns the latest value stored for k.
func (h *KeyedHistory[K, V]) Get(k K) (V, bool) {
	v, ok := h.latest[k]
	return v, ok
}

// Len returns the number of keys.
func (h *KeyedHistory[K, V]) Len() int {
	return len(h.keys)
}

// Keys returns the keys in ascending order.
func (h *KeyedHistory[K, V]) Keys() []K {
	return slices.Clone(h.keys)
}

// History returns the retained values for k, oldest first.
func (h *KeyedHistory[K, V]) History(k K) []V {
	log, ok := h.history[k]
	if !ok {
		return nil
	}
	return log.Entries()
}

// Dump writes each key followed by its history, one level deeper.
func (h *KeyedHistory[K, V]) Dump(w io.Writer, indent string) {
	if len(h.keys) == 0 {
		fmt.Fprintf(w, "%s<empty>\n", indent)
		return
	}
	for _, k := range h.keys {
		fmt.Fprintf(w, "%s%v:\n", indent, k)
		h.history[k].Dump(w, indent+" ")
	}
}
