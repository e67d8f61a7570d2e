package serverdata

import "github.com/gridcache/servercache/cache"

// Options configures a ServerData instance.
type Options struct {
	// WhenDataStartLoading is invoked exactly once per loading episode:
	// on the 0->1 transition of the number of pending slots across the
	// whole cache, single- and batch-path alike.
	WhenDataStartLoading func()
}

// DefaultOptions returns an Options with no notification hook.
func DefaultOptions() Options {
	return Options{}
}

// BatchOptions configures the per-(model,method) BatchEndpoint
// registered the first time BatchGet is called for that pair.
type BatchOptions struct {
	SuccessCallback func(req cache.Request)
	FailureCallback func(req cache.Request)
}
