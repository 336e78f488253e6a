package rutabaga

import (
	"maps"
	"slices"
)

// table maps guest ids to live objects.
type table[T any] struct {
	items map[uint32]T
}

func newTable[T any]() table[T] {
	return table[T]{items: make(map[uint32]T)}
}

func (t *table[T]) get(id uint32) (T, bool) {
	v, ok := t.items[id]
	return v, ok
}

func (t *table[T]) has(id uint32) bool {
	_, ok := t.items[id]
	return ok
}

// insert adds v under id. It reports false if id is taken.
func (t *table[T]) insert(id uint32, v T) bool {
	if _, ok := t.items[id]; ok {
		return false
	}
	t.items[id] = v
	return true
}

func (t *table[T]) remove(id uint32) (T, bool) {
	v, ok := t.items[id]
	if ok {
		delete(t.items, id)
	}
	return v, ok
}

func (t *table[T]) len() int { return len(t.items) }

// ids returns the keys in ascending order.
func (t *table[T]) ids() []uint32 {
	return slices.Sorted(maps.Keys(t.items))
}
