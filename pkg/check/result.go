package check

import (
	"sort"
	"strings"
)

// SuccessKey is the overall outcome flag written by the outermost check.
const SuccessKey = "success"

// Results is the flat, namespaced set of observations from one check run.
// Values are strings, numbers, booleans, byte slices, times, or small
// maps (certificate details, response headers).
type Results map[string]any

// NewResults creates an empty Results set.
func NewResults() Results {
	return make(Results)
}

// Bool returns the value at key if it is a boolean true.
// Missing and non-boolean values are false.
func (r Results) Bool(key string) bool {
	b, ok := r[key].(bool)
	return ok && b
}

// Merge copies every key of other into r, overwriting existing keys.
func (r Results) Merge(other Results) {
	for k, v := range other {
		r[k] = v
	}
}

// Clone returns a shallow copy of r.
func (r Results) Clone() Results {
	out := make(Results, len(r))
	out.Merge(r)
	return out
}

// Keys returns all keys in sorted order.
func (r Results) Keys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Layers returns the names of layers that recorded a "<layer>.success" flag,
// in sorted order.
func (r Results) Layers() []string {
	var layers []string
	for _, k := range r.Keys() {
		if layer, ok := strings.CutSuffix(k, "."+SuccessKey); ok {
			layers = append(layers, layer)
		}
	}
	return layers
}

// LayersSucceeded reports whether at least one "<layer>.success" flag exists
// and every one of them is true.
func (r Results) LayersSucceeded() bool {
	layers := r.Layers()
	if len(layers) == 0 {
		return false
	}
	for _, layer := range layers {
		if !r.Bool(layer + "." + SuccessKey) {
			return false
		}
	}
	return true
}

// Succeeded reports whether the overall flag and every layer flag are true.
func (r Results) Succeeded() bool {
	return r.Bool(SuccessKey) && r.LayersSucceeded()
}
