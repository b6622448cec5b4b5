package position

// Lookup is the result of resolving an entity by key: Found or NotFound.
type Lookup[T any] struct {
	value T
	found bool
}

// Found wraps a resolved entity.
func Found[T any](value T) Lookup[T] {
	return Lookup[T]{value: value, found: true}
}

// NotFound reports that no entity exists for the key.
func NotFound[T any]() Lookup[T] {
	return Lookup[T]{}
}

// Get returns the entity and whether it was found.
func (l Lookup[T]) Get() (T, bool) {
	return l.value, l.found
}

// OrElse returns the entity, or fallback when not found.
func (l Lookup[T]) OrElse(fallback T) T {
	if l.found {
		return l.value
	}
	return fallback
}
