// Package cache holds the request cache primitives shared by the single
// and batch endpoints: the Request value object, the Slot state machine,
// and the RequestCache mapping fingerprint to Slot.
package cache

import (
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/ethereum/go-ethereum/crypto"
)

// Request identifies a single (model, method, args) invocation against
// the remote procedure interface. It is immutable after construction and
// is addressed by its Fingerprint, not by identity.
//
// By convention the first positional argument is the "batched key" used
// by BatchEndpoint (endpoint.Batch). A Request routed to a batch must
// carry that key and nothing else; endpoint.Batch rejects any other
// shape. See BatchKey.
type Request struct {
	Model  string
	Method string
	Args   []any
}

// NewRequest constructs a Request. args may be nil for a call that
// takes none.
func NewRequest(model, method string, args []any) Request {
	return Request{Model: model, Method: method, Args: args}
}

// BatchKey returns the first positional argument, the convention used by
// BatchEndpoint to group requests. It panics if Args is empty — callers
// that route through the batch path must supply at least the key.
func (r Request) BatchKey() any {
	if len(r.Args) == 0 {
		panic("cache: Request.BatchKey called with no args")
	}
	return r.Args[0]
}

// Fingerprint returns the canonical string identity of the request. Two
// Requests with structurally equal (model, method, args) — arrays
// compared positionally, objects compared by sorted keys — share a
// fingerprint and therefore a Slot.
//
// Encoding is delegated to goccy/go-json, which marshals map keys in
// sorted order the same way encoding/json does, so a plain marshal of
// the triple already satisfies the canonicalization rule. The JSON is
// then condensed with Keccak256 to keep fingerprints a fixed, compact
// width regardless of argument size.
func (r Request) Fingerprint() string {
	encoded, err := json.Marshal([]any{r.Model, r.Method, r.Args})
	if err != nil {
		// Args are required to be JSON-serializable; a failure here is
		// a programming error in the caller, not a recoverable cache
		// condition.
		panic(fmt.Sprintf("cache: request is not JSON-serializable: %v", err))
	}
	return crypto.Keccak256Hash(encoded).Hex()
}
