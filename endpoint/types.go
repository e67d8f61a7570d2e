// Package endpoint implements the two request-driving strategies:
// Single, which issues one RPC per Request, and Batch, which
// accumulates same-(model,method) Requests for one tick and issues a
// single combined RPC with a sequential fallback retry on partial
// failure.
package endpoint

import (
	"errors"

	"github.com/gridcache/servercache/cache"
)

// Endpoint is the common capability shape both Single and Batch
// expose, modeled as variants of one interface rather than through
// inheritance.
type Endpoint interface {
	// Submit starts fetching req in the background if it is not
	// already in flight or settled. Fire-and-forget: the result lands
	// in the shared cache.
	Submit(req cache.Request)

	// Get is the synchronous contract: it returns the resolved value,
	// re-raises a captured rejection, or returns cache.ErrNotReady if
	// the value is still loading.
	Get(req cache.Request) (any, error)
}

// ErrBatchArgShape is a programming error: a Request routed to a
// Batch endpoint did not carry exactly one positional argument (the
// batched key). This module enforces that convention rather than
// silently dropping extra args.
var ErrBatchArgShape = errors.New("endpoint: batched request must have exactly one positional argument")

// syncResult reads a terminal snapshot's Value/Err pair, or
// cache.ErrNotReady if it is still pending.
func syncResult(snap cache.Snapshot) (any, error) {
	switch snap.State {
	case cache.Resolved:
		return snap.Value, nil
	case cache.Rejected:
		return nil, snap.Err
	default:
		return nil, cache.ErrNotReady
	}
}
