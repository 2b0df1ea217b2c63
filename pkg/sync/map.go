package sync

import "sync"

// TypedSyncMap is a thin generic wrapper around sync.Map which removes the
// need for type assertions at every call site.
type TypedSyncMap[K comparable, V any] struct {
	m sync.Map
}

func (m *TypedSyncMap[K, V]) Delete(key K) { m.m.Delete(key) }

func (m *TypedSyncMap[K, V]) Load(key K) (V, bool) {
	v, ok := m.m.Load(key)
	if !ok {
		return *new(V), ok
	}

	if vv, ok := v.(V); ok {
		return vv, true
	}
	return *new(V), false
}

func (m *TypedSyncMap[K, V]) Store(key K, value V) { m.m.Store(key, value) }

// CompareAndDelete deletes the entry for key only if it is currently mapped to old.
func (m *TypedSyncMap[K, V]) CompareAndDelete(key K, old V) bool {
	return m.m.CompareAndDelete(key, old)
}

// Range calls fn for every key/value in the map until fn returns false. The
// same caveats as sync.Map.Range apply regarding concurrent modification.
func (m *TypedSyncMap[K, V]) Range(fn func(K, V) bool) {
	m.m.Range(func(key, value any) bool {
		k, ok := key.(K)
		if !ok {
			return true
		}
		v, ok := value.(V)
		if !ok {
			return true
		}

		return fn(k, v)
	})
}
