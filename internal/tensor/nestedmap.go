package tensor

import (
	"fmt"
	"sort"
)

// NestedMap is a named mapping of field tensors. It is the structured-record
// contract between record processors, the batcher and the decoder. Flattening
// is always in sorted key order so that the field ordering is deterministic
// regardless of insertion order.
type NestedMap map[string]*Tensor

// Keys returns the field names in sorted order.
func (m NestedMap) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Flatten returns the field tensors in sorted key order.
func (m NestedMap) Flatten() []*Tensor {
	keys := m.Keys()
	out := make([]*Tensor, len(keys))
	for i, k := range keys {
		out[i] = m[k]
	}
	return out
}

// Pack builds a NestedMap from parallel key and tensor slices.
func Pack(keys []string, ts []*Tensor) (NestedMap, error) {
	if len(keys) != len(ts) {
		return nil, fmt.Errorf("tensor: Pack got %d keys but %d tensors", len(keys), len(ts))
	}
	m := make(NestedMap, len(keys))
	for i, k := range keys {
		if _, dup := m[k]; dup {
			return nil, fmt.Errorf("tensor: Pack got duplicate key %q", k)
		}
		m[k] = ts[i]
	}
	return m, nil
}

// Copy returns a shallow copy of the map.
func (m NestedMap) Copy() NestedMap {
	out := make(NestedMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
