package pipeline

import (
	"maps"
)

// Key is a typed slot in the per-request extension map.
// Keys are namespaced so plugins written for different tenants never collide.
type Key[T any] struct {
	namespace string
	name      string
}

// NewKey declares a typed extension key
func NewKey[T any](namespace, name string) Key[T] {
	return Key[T]{namespace: namespace, name: name}
}

// String returns the fully qualified key name
func (k Key[T]) String() string {
	return k.namespace + "." + k.name
}

// Extensions carries annotations between plugins for a single request
type Extensions struct {
	values map[string]any
}

func newExtensions() *Extensions {
	return &Extensions{values: make(map[string]any)}
}

// Set stores a value under a typed key
func Set[T any](ext *Extensions, key Key[T], value T) {
	ext.values[key.String()] = value
}

// Get returns the value stored under a typed key
func Get[T any](ext *Extensions, key Key[T]) (T, bool) {
	v, ok := ext.values[key.String()]
	if !ok {
		var zero T
		return zero, false
	}
	typed, ok := v.(T)
	return typed, ok
}

// Has reports whether a key has been set
func Has[T any](ext *Extensions, key Key[T]) bool {
	_, ok := ext.values[key.String()]
	return ok
}

// Len returns the number of annotations recorded
func (e *Extensions) Len() int {
	return len(e.values)
}

// Snapshot returns a shallow copy of all annotations keyed by "namespace.name"
func (e *Extensions) Snapshot() map[string]any {
	return maps.Clone(e.values)
}
