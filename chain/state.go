package chain

// Map is a journaled key/value store for contract state. Values are treated
// as immutable: callers replace a value with Set rather than mutating what
// Get returned, otherwise a revert cannot restore it.
type Map[K comparable, V any] struct {
	chain *Chain
	data  map[K]V
}

// NewMap allocates contract storage bound to c's journal.
func NewMap[K comparable, V any](c *Chain) *Map[K, V] {
	return &Map[K, V]{chain: c, data: make(map[K]V)}
}

func (m *Map[K, V]) Get(key K) (V, bool) {
	v, ok := m.data[key]
	return v, ok
}

func (m *Map[K, V]) Set(key K, value V) {
	prev, existed := m.data[key]
	m.chain.journal.append(func() {
		if existed {
			m.data[key] = prev
		} else {
			delete(m.data, key)
		}
	})
	m.data[key] = value
}

// Seed writes key without journaling it. It is meant for deployment-time
// initial values, before the map is touched by any transaction.
func (m *Map[K, V]) Seed(key K, value V) {
	m.data[key] = value
}

func (m *Map[K, V]) Delete(key K) {
	prev, existed := m.data[key]
	if !existed {
		return
	}
	m.chain.journal.append(func() { m.data[key] = prev })
	delete(m.data, key)
}

func (m *Map[K, V]) Len() int {
	return len(m.data)
}

// Range calls fn for every entry in unspecified order until fn returns false.
func (m *Map[K, V]) Range(fn func(K, V) bool) {
	for k, v := range m.data {
		if !fn(k, v) {
			return
		}
	}
}

// Var is a single journaled storage slot.
type Var[T any] struct {
	chain *Chain
	value T
}

func NewVar[T any](c *Chain, initial T) *Var[T] {
	return &Var[T]{chain: c, value: initial}
}

func (v *Var[T]) Get() T {
	return v.value
}

func (v *Var[T]) Set(value T) {
	prev := v.value
	v.chain.journal.append(func() { v.value = prev })
	v.value = value
}
