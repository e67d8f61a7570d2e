package rpc_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"

	"github.com/gridcache/servercache/rpc"
)

var _ = ginkgo.Describe("HTTPCaller", func() {
	var server *httptest.Server
	var calls int32

	ginkgo.AfterEach(func() {
		if server != nil {
			server.Close()
		}
		atomic.StoreInt32(&calls, 0)
	})

	ginkgo.It("decodes a successful result", func() {
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			var req map[string]any
			_ = json.NewDecoder(r.Body).Decode(&req)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id":     req["id"],
				"result": "0x1",
			})
		}))

		caller := rpc.NewHTTPCaller(server.URL)
		result, err := caller.Call(context.Background(), "chain", "chainId", []any{})

		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		gomega.Expect(result).To(gomega.Equal("0x1"))
	})

	ginkgo.It("surfaces an RPC-level error without retrying", func() {
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id": 1,
				"error": map[string]any{
					"code":    -32601,
					"message": "method not found",
				},
			})
		}))

		caller := rpc.NewHTTPCaller(server.URL)
		_, err := caller.Call(context.Background(), "chain", "bogus", []any{})

		gomega.Expect(err).To(gomega.HaveOccurred())
		gomega.Expect(err.Error()).To(gomega.ContainSubstring("method not found"))
		gomega.Expect(atomic.LoadInt32(&calls)).To(gomega.Equal(int32(1)))
	})

	ginkgo.It("retries transport failures with backoff until it succeeds", func() {
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			n := atomic.AddInt32(&calls, 1)
			if n < 3 {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"id": 1, "result": "ok"})
		}))

		caller := rpc.NewHTTPCaller(server.URL, rpc.HTTPCallerConfig{
			RetryCount: 3,
			RetryDelay: time.Millisecond,
			Timeout:    time.Second,
		})
		result, err := caller.Call(context.Background(), "chain", "getBlock", []any{})

		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		gomega.Expect(result).To(gomega.Equal("ok"))
		gomega.Expect(atomic.LoadInt32(&calls)).To(gomega.Equal(int32(3)))
	})

	ginkgo.It("collapses concurrent identical calls into one round trip", func() {
		release := make(chan struct{})
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			<-release
			_ = json.NewEncoder(w).Encode(map[string]any{"id": 1, "result": "shared"})
		}))

		caller := rpc.NewHTTPCaller(server.URL)

		done := make(chan any, 2)
		for i := 0; i < 2; i++ {
			go func() {
				v, err := caller.Call(context.Background(), "chain", "getBalance", []any{"0xabc"})
				gomega.Expect(err).NotTo(gomega.HaveOccurred())
				done <- v
			}()
		}

		gomega.Eventually(func() int32 { return atomic.LoadInt32(&calls) }).Should(gomega.Equal(int32(1)))
		close(release)

		gomega.Expect(<-done).To(gomega.Equal("shared"))
		gomega.Expect(<-done).To(gomega.Equal("shared"))
	})
})
