package rpc

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"golang.org/x/sync/singleflight"
)

// rpcRequest and rpcResponse frame a (model, method, args) call over
// JSON-RPC, the way an RPCRequest/RPCResponse pair frames a (method,
// params) call, adapted to this module's wider triple.
type rpcRequest struct {
	ID     int64  `json:"id"`
	Model  string `json:"model"`
	Method string `json:"method"`
	Args   []any  `json:"args"`
}

type rpcResponse struct {
	ID     int64         `json:"id"`
	Result any           `json:"result,omitempty"`
	Error  *rpcErrorBody `json:"error,omitempty"`
}

type rpcErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcErrorBody) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// HTTPCallerConfig configures an HTTPCaller.
type HTTPCallerConfig struct {
	// RetryCount is the number of retry attempts after the first try.
	RetryCount int
	// RetryDelay is the base delay for exponential backoff between
	// retries: RetryDelay * 2^attempt.
	RetryDelay time.Duration
	// Timeout bounds each individual HTTP round trip.
	Timeout time.Duration
	// Headers are sent with every request.
	Headers map[string]string
	// Client overrides the underlying *http.Client.
	Client *http.Client
}

// DefaultHTTPCallerConfig returns the usual defaults: three retries,
// 150ms base backoff, a ten second timeout.
func DefaultHTTPCallerConfig() HTTPCallerConfig {
	return HTTPCallerConfig{
		RetryCount: 3,
		RetryDelay: 150 * time.Millisecond,
		Timeout:    10 * time.Second,
	}
}

// HTTPCaller is a JSON-RPC-over-HTTP rpc.Caller. It retries transient
// failures with exponential backoff and collapses concurrent
// identical outbound requests with singleflight — a transport-level
// concern distinct from the cache's own Slot-level deduplication.
type HTTPCaller struct {
	url      string
	cfg      HTTPCallerConfig
	client   *http.Client
	idGen    int64
	inflight singleflight.Group
}

// NewHTTPCaller creates an HTTPCaller posting JSON-RPC bodies to url.
func NewHTTPCaller(url string, cfg ...HTTPCallerConfig) *HTTPCaller {
	conf := DefaultHTTPCallerConfig()
	if len(cfg) > 0 {
		conf = cfg[0]
	}
	client := conf.Client
	if client == nil {
		client = &http.Client{Timeout: conf.Timeout}
	}
	return &HTTPCaller{url: url, cfg: conf, client: client}
}

// Call implements rpc.Caller.
func (c *HTTPCaller) Call(ctx context.Context, model, method string, args []any) (any, error) {
	dedupeKey := fmt.Sprintf("%s.%s:%v", model, method, args)
	v, err, _ := c.inflight.Do(dedupeKey, func() (any, error) {
		return c.callWithRetry(ctx, model, method, args)
	})
	return v, err
}

func (c *HTTPCaller) callWithRetry(ctx context.Context, model, method string, args []any) (any, error) {
	body := rpcRequest{
		ID:     atomic.AddInt64(&c.idGen, 1),
		Model:  model,
		Method: method,
		Args:   args,
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.RetryCount; attempt++ {
		result, err := c.do(ctx, body)
		if err == nil {
			return result, nil
		}
		lastErr = err

		// an error reported by the server itself is not transient
		if _, ok := err.(*rpcErrorBody); ok {
			break
		}
		if attempt >= c.cfg.RetryCount {
			break
		}
		delay := c.cfg.RetryDelay * time.Duration(int64(1)<<uint(attempt))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, lastErr
}

func (c *HTTPCaller) do(ctx context.Context, body rpcRequest) (any, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("rpc: failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("rpc: failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rpc: request to %s failed: %w", c.url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("rpc: failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("rpc: %s returned status %s: %s", c.url, resp.Status, string(raw))
	}

	var decoded rpcResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("rpc: failed to unmarshal response: %w", err)
	}
	if decoded.Error != nil {
		return nil, decoded.Error
	}
	return decoded.Result, nil
}
