package endpoint

import (
	"context"
	"fmt"
	"sync"

	"github.com/gridcache/servercache/cache"
	"github.com/gridcache/servercache/rpc"
	"github.com/gridcache/servercache/scheduler"
)

// BatchConfig configures a Batch endpoint's observability hooks.
type BatchConfig struct {
	// SuccessCallback is invoked once per request that settles
	// Resolved, whether via the combined batch RPC or the fallback
	// retry, in accumulator order.
	SuccessCallback func(req cache.Request)
	// FailureCallback is invoked once per request that settles
	// Rejected during fallback retry (a whole-batch success never
	// rejects any individual request).
	FailureCallback func(req cache.Request)
}

// DefaultBatchConfig returns a BatchConfig with no callbacks.
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{}
}

// Batch is the per-(model,method) batching coordinator: it
// accumulates Requests arriving within one scheduler tick, issues one
// combined RPC, and on whole-batch failure falls back to sequential
// per-request retries that isolate a poisonous key from its siblings.
type Batch struct {
	model  string
	method string
	cache  *cache.RequestCache
	caller rpc.Caller
	sched  scheduler.Scheduler
	cfg    BatchConfig

	mu             sync.Mutex
	accumulator    []cache.Request
	flushScheduled bool
}

// NewBatch creates a Batch endpoint for the given (model, method)
// pair. All requests Enqueue'd on it must carry that model and
// method.
func NewBatch(model, method string, c *cache.RequestCache, caller rpc.Caller, sched scheduler.Scheduler, cfg ...BatchConfig) *Batch {
	conf := DefaultBatchConfig()
	if len(cfg) > 0 {
		conf = cfg[0]
	}
	return &Batch{
		model:  model,
		method: method,
		cache:  c,
		caller: caller,
		sched:  sched,
		cfg:    conf,
	}
}

var _ Endpoint = (*Batch)(nil)

// Submit implements Endpoint; it is an alias for Enqueue.
func (b *Batch) Submit(req cache.Request) { b.Enqueue(req) }

// Enqueue adds req to the next flush's accumulator, scheduling that
// flush on the first miss since the last idle period. It panics with
// ErrBatchArgShape if req does not carry exactly one positional
// argument — the batch-key convention.
func (b *Batch) Enqueue(req cache.Request) {
	if len(req.Args) != 1 {
		panic(ErrBatchArgShape)
	}

	fp := req.Fingerprint()
	if err := b.cache.InsertPending(fp, cache.OwnerBatch); err != nil {
		// already pending (single-path or another batch beat us to
		// it) or already settled — this request just rides along.
		return
	}

	b.mu.Lock()
	b.accumulator = append(b.accumulator, req)
	shouldSchedule := !b.flushScheduled
	b.flushScheduled = true
	b.mu.Unlock()

	if shouldSchedule {
		b.sched.NextTick(b.flush)
	}
}

// Get implements Endpoint's synchronous contract, routing misses
// through Enqueue rather than issuing an RPC directly.
func (b *Batch) Get(req cache.Request) (any, error) {
	fp := req.Fingerprint()
	if snap, ok := b.cache.Lookup(fp); ok {
		return syncResult(snap)
	}
	b.Enqueue(req)
	return nil, cache.ErrNotReady
}

// flush runs on the scheduler's tick: it snapshots and clears the
// accumulator, issues one combined RPC, and on failure falls back to
// sequential per-request retries.
func (b *Batch) flush() {
	b.mu.Lock()
	snapshot := b.accumulator
	b.accumulator = nil
	b.flushScheduled = false
	b.mu.Unlock()

	if len(snapshot) == 0 {
		return
	}

	keys := make([]any, len(snapshot))
	for i, r := range snapshot {
		keys[i] = r.BatchKey()
	}

	values, err := b.callKeys(keys)
	if err == nil {
		for i, r := range snapshot {
			b.cache.Resolve(r.Fingerprint(), values[i])
			b.invokeSuccess(r)
		}
		return
	}

	// Fallback retry: sequential, preserving accumulator order.
	for _, r := range snapshot {
		single, rerr := b.callKeys([]any{r.BatchKey()})
		fp := r.Fingerprint()
		if rerr != nil {
			b.cache.Reject(fp, &cache.RpcError{Model: b.model, Method: b.method, Err: rerr})
			b.invokeFailure(r)
			continue
		}
		b.cache.Resolve(fp, single[0])
		b.invokeSuccess(r)
	}
}

// callKeys issues one rpc.Caller.Call for the given batched keys and
// validates that the response is a sequence aligned positionally with
// keys.
func (b *Batch) callKeys(keys []any) ([]any, error) {
	raw, err := b.caller.Call(context.Background(), b.model, b.method, []any{keys})
	if err != nil {
		return nil, err
	}
	values, ok := raw.([]any)
	if !ok || len(values) != len(keys) {
		return nil, fmt.Errorf("endpoint: batch response shape mismatch: got %T (want []any of len %d)", raw, len(keys))
	}
	return values, nil
}

func (b *Batch) invokeSuccess(req cache.Request) {
	if b.cfg.SuccessCallback != nil {
		b.cfg.SuccessCallback(req)
	}
}

func (b *Batch) invokeFailure(req cache.Request) {
	if b.cfg.FailureCallback != nil {
		b.cfg.FailureCallback(req)
	}
}
