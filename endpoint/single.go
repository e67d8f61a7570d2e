package endpoint

import (
	"context"

	"github.com/gridcache/servercache/cache"
	"github.com/gridcache/servercache/rpc"
)

// Single drives one Request at a time through an rpc.Caller, writing
// the outcome into the shared RequestCache and releasing any waiters.
type Single struct {
	cache  *cache.RequestCache
	caller rpc.Caller
}

// NewSingle creates a Single endpoint bound to cache c and caller.
func NewSingle(c *cache.RequestCache, caller rpc.Caller) *Single {
	return &Single{cache: c, caller: caller}
}

var _ Endpoint = (*Single)(nil)

// Submit implements Endpoint.
func (s *Single) Submit(req cache.Request) {
	fp := req.Fingerprint()
	if err := s.cache.InsertPending(fp, cache.OwnerSingle); err != nil {
		// already pending or settled elsewhere — nothing to do.
		return
	}
	go s.run(req, fp)
}

// Get implements Endpoint. It never blocks.
func (s *Single) Get(req cache.Request) (any, error) {
	fp := req.Fingerprint()
	if snap, ok := s.cache.Lookup(fp); ok {
		return syncResult(snap)
	}
	s.Submit(req)
	return nil, cache.ErrNotReady
}

// Fetch is the asynchronous access mode: it returns the value once
// settled, deduplicating concurrent identical calls onto the same Slot
// when they arrive through this same Single. If the pending Slot was
// instead created by a Batch for the identical (model, method, args)
// triple, Fetch both attaches to it AND issues its own concurrent RPC
// — a cross-path race kept intentionally rather than suppressed,
// since existing callers rely on it.
func (s *Single) Fetch(ctx context.Context, req cache.Request) (any, error) {
	fp := req.Fingerprint()
	if snap, ok := s.cache.Lookup(fp); ok {
		switch {
		case snap.State != cache.Pending:
			return syncResult(snap)
		case snap.Owner == cache.OwnerSingle:
			return s.await(ctx, fp)
		default:
			go s.run(req, fp)
			return s.await(ctx, fp)
		}
	}
	s.Submit(req)
	return s.await(ctx, fp)
}

func (s *Single) run(req cache.Request, fp string) {
	value, err := s.caller.Call(context.Background(), req.Model, req.Method, req.Args)
	if err != nil {
		s.cache.Reject(fp, &cache.RpcError{Model: req.Model, Method: req.Method, Err: err})
		return
	}
	s.cache.Resolve(fp, value)
}

// await blocks until fp's slot settles or ctx is done.
func (s *Single) await(ctx context.Context, fp string) (any, error) {
	ch, ok := s.cache.AddWaiter(fp)
	if !ok {
		// settled between the caller's Lookup/Submit and here.
		if snap, exists := s.cache.Lookup(fp); exists {
			return syncResult(snap)
		}
		return nil, cache.ErrNotReady
	}

	select {
	case <-ch:
		snap, _ := s.cache.Lookup(fp)
		return syncResult(snap)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
