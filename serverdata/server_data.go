// Package serverdata exposes ServerData, the façade the formula
// evaluation engine talks to: one synchronous Get, one asynchronous
// Fetch, and one batched BatchGet, all backed by a single
// RequestCache shared across a Single endpoint and a registry of
// per-(model,method) Batch endpoints.
package serverdata

import (
	"context"
	"sync"

	"github.com/gridcache/servercache/cache"
	"github.com/gridcache/servercache/endpoint"
	"github.com/gridcache/servercache/rpc"
	"github.com/gridcache/servercache/scheduler"
)

type batchKey struct {
	model  string
	method string
}

// ServerData is the client-side server-data cache. It owns one
// RequestCache, one Single endpoint, and lazily creates a Batch
// endpoint per distinct (model, method) pair the first time BatchGet
// addresses it.
type ServerData struct {
	cache  *cache.RequestCache
	single *endpoint.Single
	caller rpc.Caller
	sched  scheduler.Scheduler

	mu        sync.Mutex
	batches   map[batchKey]*endpoint.Batch
	batchOpts map[batchKey]BatchOptions

	episodeMu sync.Mutex
	loading   bool
	onStart   func()
}

// New creates a ServerData driven by caller for RPCs and sched for
// deferring batch flushes to the next tick.
func New(caller rpc.Caller, sched scheduler.Scheduler, opts ...Options) *ServerData {
	conf := DefaultOptions()
	if len(opts) > 0 {
		conf = opts[0]
	}

	sd := &ServerData{
		caller:    caller,
		sched:     sched,
		batches:   make(map[batchKey]*endpoint.Batch),
		batchOpts: make(map[batchKey]BatchOptions),
		onStart:   conf.WhenDataStartLoading,
	}
	sd.cache = cache.NewCache(cache.WithPendingCountObserver(sd.onPendingChange))
	sd.single = endpoint.NewSingle(sd.cache, caller)
	return sd
}

// onPendingChange fires whenDataStartLoading exactly once per loading
// episode, on the 0->1 transition of the pending-slot count across
// the whole cache (single- and batch-path slots share the same
// counter since they share the same cache).
func (sd *ServerData) onPendingChange(count int) {
	sd.episodeMu.Lock()
	defer sd.episodeMu.Unlock()

	switch {
	case count > 0 && !sd.loading:
		sd.loading = true
		if sd.onStart != nil {
			sd.onStart()
		}
	case count == 0:
		sd.loading = false
	}
}

// Get is the synchronous access mode. It returns the resolved value,
// re-raises a previously captured RpcError, or returns
// cache.ErrNotReady while the value is loading.
func (sd *ServerData) Get(model, method string, args []any) (any, error) {
	return sd.single.Get(cache.NewRequest(model, method, args))
}

// Fetch is the asynchronous access mode.
func (sd *ServerData) Fetch(ctx context.Context, model, method string, args []any) (any, error) {
	return sd.single.Fetch(ctx, cache.NewRequest(model, method, args))
}

// BatchGet is the batched access mode: args is always the
// single-element slice [key], so its fingerprint coincides with the
// single-path fingerprint for the same (model, method, key) — cross-
// path deduplication falls out of that shared fingerprint for free.
func (sd *ServerData) BatchGet(model, method string, key any) (any, error) {
	req := cache.NewRequest(model, method, []any{key})
	return sd.batchFor(model, method).Get(req)
}

// ConfigureBatch registers success/failure observability callbacks
// for a (model, method) pair's Batch endpoint. It must be called
// before the first BatchGet for that pair; the Batch endpoint is
// created lazily on first use and its callbacks are fixed at that
// point.
func (sd *ServerData) ConfigureBatch(model, method string, opts BatchOptions) {
	sd.mu.Lock()
	defer sd.mu.Unlock()
	sd.batchOpts[batchKey{model, method}] = opts
}

func (sd *ServerData) batchFor(model, method string) *endpoint.Batch {
	key := batchKey{model, method}

	sd.mu.Lock()
	defer sd.mu.Unlock()

	if b, ok := sd.batches[key]; ok {
		return b
	}

	opts := sd.batchOpts[key]
	cfg := endpoint.BatchConfig{
		SuccessCallback: opts.SuccessCallback,
		FailureCallback: opts.FailureCallback,
	}
	b := endpoint.NewBatch(model, method, sd.cache, sd.caller, sd.sched, cfg)
	sd.batches[key] = b
	return b
}
