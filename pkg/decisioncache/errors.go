package decisioncache

import "errors"

var (
	// ErrCacheUnavailable is returned when the cache backend cannot be reached
	ErrCacheUnavailable = errors.New("decision cache unavailable")

	// ErrCorruptEntry is returned when a stored decision cannot be decoded
	ErrCorruptEntry = errors.New("corrupt decision cache entry")
)
