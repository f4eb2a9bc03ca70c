package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"

	"multiwatch/internal/jsonrpc"
)

var aggregator = common.HexToAddress("0xeefba1e63905ef1d7acba5a8513c70307c1ce441")

func testRequest(id int64) Request {
	return Request{ID: id, To: aggregator, Data: []byte{0x25, 0x2d, 0xba, 0x42}}
}

func rpcHandler(t *testing.T, respond func(req *jsonrpc.Request) string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req jsonrpc.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(respond(&req)))
	}
}

func TestHTTPCall(t *testing.T) {
	srv := httptest.NewServer(rpcHandler(t, func(req *jsonrpc.Request) string {
		call, block, err := req.EthCallParams()
		if err != nil {
			t.Errorf("params: %v", err)
		}
		if !req.ID.Equal(1) {
			t.Errorf("http id should be 1, got %s", req.ID)
		}
		if call.Data != "0x252dba42" || block != "latest" {
			t.Errorf("unexpected params: %+v %s", call, block)
		}
		return `{"jsonrpc":"2.0","id":1,"result":"0xc0ffee"}`
	}))
	defer srv.Close()

	out, err := NewHTTP(srv.URL, nil).Call(context.Background(), testRequest(42))
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if len(out) != 3 || out[0] != 0xc0 || out[2] != 0xee {
		t.Fatalf("unexpected result: %x", out)
	}
}

func TestHTTPEmptyAndErrorResponses(t *testing.T) {
	srv := httptest.NewServer(rpcHandler(t, func(req *jsonrpc.Request) string {
		return `{"jsonrpc":"2.0","id":1}`
	}))
	defer srv.Close()

	if _, err := NewHTTP(srv.URL, nil).Call(context.Background(), testRequest(1)); !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("expected empty response, got %v", err)
	}

	errSrv := httptest.NewServer(rpcHandler(t, func(req *jsonrpc.Request) string {
		return `{"jsonrpc":"2.0","id":1,"error":{"code":-32000,"message":"execution reverted"}}`
	}))
	defer errSrv.Close()

	_, err := NewHTTP(errSrv.URL, nil).Call(context.Background(), testRequest(1))
	var rpcErr *jsonrpc.Error
	if !errors.As(err, &rpcErr) || rpcErr.Code != -32000 {
		t.Fatalf("expected rpc error, got %v", err)
	}

	badSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer badSrv.Close()

	if _, err := NewHTTP(badSrv.URL, nil).Call(context.Background(), testRequest(1)); err == nil || !strings.Contains(err.Error(), "503") {
		t.Fatalf("expected status error, got %v", err)
	}
}

type fakeProvider struct {
	raw    string
	method string
	args   []interface{}
}

func (f *fakeProvider) CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	f.method = method
	f.args = args
	return json.Unmarshal([]byte(f.raw), result)
}

func TestProviderCall(t *testing.T) {
	p := &fakeProvider{raw: `"0x01"`}
	out, err := NewProvider(p).Call(context.Background(), Request{To: aggregator, Data: []byte{1}, Block: "0x10"})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if len(out) != 1 || out[0] != 1 {
		t.Fatalf("unexpected result: %x", out)
	}
	if p.method != "eth_call" || len(p.args) != 2 || p.args[1] != "0x10" {
		t.Fatalf("unexpected invocation: %s %v", p.method, p.args)
	}

	if _, err := NewProvider(&fakeProvider{raw: `null`}).Call(context.Background(), testRequest(1)); !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("expected empty response, got %v", err)
	}
}

// wsServer answers eth_call frames with respond; an empty reply sends nothing.
func wsServer(t *testing.T, respond func(req *jsonrpc.Request) []string) *httptest.Server {
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			req, err := jsonrpc.ParseRequest(data)
			if err != nil {
				t.Errorf("parse request: %v", err)
				return
			}
			for _, frame := range respond(req) {
				if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
					return
				}
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestIsWebSocketURL(t *testing.T) {
	if !IsWebSocketURL("wss://mainnet.infura.io/ws") || !IsWebSocketURL("WS://localhost:8546") {
		t.Fatalf("websocket urls not detected")
	}
	if IsWebSocketURL("https://mainnet.infura.io") {
		t.Fatalf("http url detected as websocket")
	}
}

func TestWSCallMatchesID(t *testing.T) {
	srv := wsServer(t, func(req *jsonrpc.Request) []string {
		id := req.ID.String()
		return []string{
			`{"jsonrpc":"2.0","id":999,"result":"0xdead"}`,
			`{"jsonrpc":"2.0","id":` + id + `,"result":"0xbeef"}`,
		}
	})
	defer srv.Close()

	var opened int32
	conn, err := DialWS(context.Background(), wsURL(srv), WSOptions{
		OnOpen: func() { atomic.AddInt32(&opened, 1) },
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if atomic.LoadInt32(&opened) != 1 {
		t.Fatalf("open callback not invoked")
	}
	if conn.State() != Connected {
		t.Fatalf("unexpected state: %s", conn.State())
	}

	out, err := conn.Call(context.Background(), testRequest(7))
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if len(out) != 2 || out[0] != 0xbe || out[1] != 0xef {
		t.Fatalf("matched wrong frame: %x", out)
	}
}

func TestWSCallTimeout(t *testing.T) {
	srv := wsServer(t, func(req *jsonrpc.Request) []string {
		return []string{`{"jsonrpc":"2.0","id":12345,"result":"0x01"}`}
	})
	defer srv.Close()

	conn, err := DialWS(context.Background(), wsURL(srv), WSOptions{ResponseTimeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	_, err = conn.Call(context.Background(), testRequest(1))
	if !errors.Is(err, ErrResponseTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if conn.State() != Connected {
		t.Fatalf("timeout must not close the socket, state %s", conn.State())
	}
}

func TestWSCloseCallback(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		time.Sleep(20 * time.Millisecond)
		conn.Close()
	}))
	defer srv.Close()

	closed := make(chan error, 1)
	conn, err := DialWS(context.Background(), wsURL(srv), WSOptions{
		OnClose: func(err error) { closed <- err },
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatalf("close callback not invoked")
	}
	if conn.State() != Disconnected {
		t.Fatalf("unexpected state: %s", conn.State())
	}
	if _, err := conn.Call(context.Background(), testRequest(1)); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected not connected, got %v", err)
	}
}

func TestWSDialFailureFiresClose(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(srv)
	srv.Close()

	closed := make(chan error, 1)
	c := NewWSConn(url, WSOptions{OnClose: func(err error) { closed <- err }})
	if err := c.Connect(context.Background()); err == nil {
		t.Fatalf("expected dial error")
	}
	select {
	case <-closed:
	default:
		t.Fatalf("close callback not invoked on dial failure")
	}
}
