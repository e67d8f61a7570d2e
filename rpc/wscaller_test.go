package rpc_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"

	"github.com/gridcache/servercache/rpc"
)

// echoEnvelope mirrors the unexported wsEnvelope wire shape closely
// enough to drive a fake server: {id, model, method, args} in,
// {id, result} or {id, error} out.
type echoEnvelope struct {
	ID     int64  `json:"id"`
	Model  string `json:"model"`
	Method string `json:"method"`
	Args   []any  `json:"args"`
}

func newEchoServer(handle func(echoEnvelope) (any, string)) *httptest.Server {
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var env echoEnvelope
			if err := json.Unmarshal(msg, &env); err != nil {
				continue
			}
			result, errMsg := handle(env)
			reply := map[string]any{"id": env.ID}
			if errMsg != "" {
				reply["error"] = map[string]any{"code": -32000, "message": errMsg}
			} else {
				reply["result"] = result
			}
			out, _ := json.Marshal(reply)
			if err := conn.WriteMessage(websocket.TextMessage, out); err != nil {
				return
			}
		}
	}))
}

var _ = ginkgo.Describe("WebSocketCaller", func() {
	var server *httptest.Server

	ginkgo.AfterEach(func() {
		if server != nil {
			server.Close()
		}
	})

	wsURL := func(s *httptest.Server) string {
		return "ws" + strings.TrimPrefix(s.URL, "http")
	}

	ginkgo.It("round-trips a call over the persistent connection", func() {
		server = newEchoServer(func(env echoEnvelope) (any, string) {
			return env.Method + ":" + env.Model, ""
		})

		caller, err := rpc.NewWebSocketCaller(wsURL(server))
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		defer caller.Close()

		result, err := caller.Call(context.Background(), "chain", "chainId", []any{})
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		gomega.Expect(result).To(gomega.Equal("chainId:chain"))
	})

	ginkgo.It("surfaces a server-reported error", func() {
		server = newEchoServer(func(env echoEnvelope) (any, string) {
			return nil, "boom"
		})

		caller, err := rpc.NewWebSocketCaller(wsURL(server))
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		defer caller.Close()

		_, err = caller.Call(context.Background(), "chain", "bogus", []any{})
		gomega.Expect(err).To(gomega.HaveOccurred())
		gomega.Expect(err.Error()).To(gomega.ContainSubstring("boom"))
	})

	ginkgo.It("correlates concurrent calls by id", func() {
		server = newEchoServer(func(env echoEnvelope) (any, string) {
			return env.Args[0], ""
		})

		caller, err := rpc.NewWebSocketCaller(wsURL(server))
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		defer caller.Close()

		type outcome struct {
			value any
			err   error
		}
		results := make(chan outcome, 2)
		for _, v := range []any{"a", "b"} {
			v := v
			go func() {
				value, err := caller.Call(context.Background(), "chain", "echo", []any{v})
				results <- outcome{value, err}
			}()
		}

		seen := map[any]bool{}
		for i := 0; i < 2; i++ {
			o := <-results
			gomega.Expect(o.err).NotTo(gomega.HaveOccurred())
			seen[o.value] = true
		}
		gomega.Expect(seen).To(gomega.HaveKey("a"))
		gomega.Expect(seen).To(gomega.HaveKey("b"))
	})

	ginkgo.It("rejects calls after Close", func() {
		server = newEchoServer(func(env echoEnvelope) (any, string) { return "ok", "" })

		caller, err := rpc.NewWebSocketCaller(wsURL(server))
		gomega.Expect(err).NotTo(gomega.HaveOccurred())

		gomega.Expect(caller.Close()).To(gomega.Succeed())

		_, err = caller.Call(context.Background(), "chain", "chainId", []any{})
		gomega.Expect(err).To(gomega.MatchError(rpc.ErrSocketClosed))
	})
})
