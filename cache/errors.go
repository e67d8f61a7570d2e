package cache

import "errors"

// ErrNotReady is the distinguished signal raised by a synchronous Get
// when the slot is pending or absent. Callers distinguish it from a
// genuine RpcError with errors.Is so a formula engine can render a
// loading marker instead of an error marker.
var ErrNotReady = errors.New("cache: value not yet loaded")

// RpcError wraps an error returned by the RpcCaller. It is stored on a
// Slot verbatim and re-raised on every subsequent Get/Fetch for the
// same fingerprint. Unwrap exposes the original error so errors.Is/
// errors.As reach through it.
type RpcError struct {
	Model  string
	Method string
	Err    error
}

func (e *RpcError) Error() string {
	return "cache: rpc call " + e.Model + "." + e.Method + " failed: " + e.Err.Error()
}

func (e *RpcError) Unwrap() error { return e.Err }
