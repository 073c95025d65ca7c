package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func newTickerServer(t *testing.T, frames []string, subs chan<- string) *httptest.Server {
	t.Helper()
	up := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		subs <- string(msg)
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		// hold the connection until the client goes away
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func TestStreamSubscribesAndDecodes(t *testing.T) {
	subs := make(chan string, 1)
	srv := newTickerServer(t, []string{
		`{"result":null,"id":1}`,
		`{"stream":"btcusdt@miniTicker","data":{"e":"24hrMiniTicker","E":1714521600000,"s":"BTCUSDT","c":"50100.50","o":"49000","h":"51000","l":"48000","v":"1234.5","q":"0"}}`,
		`{"e":"24hrMiniTicker","E":1714521601000,"s":"ETHUSDT","c":"3050.25","v":"99"}`,
	}, subs)
	defer srv.Close()

	c := New(Config{
		URL:            "ws" + strings.TrimPrefix(srv.URL, "http"),
		Symbols:        []string{"BTCUSDT", "eth/usdt"},
		ReconnectDelay: 10 * time.Millisecond,
	}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.Subscribe(ctx); err != ErrNotConnected {
		t.Fatalf("expected ErrNotConnected before Connect, got %v", err)
	}
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if !c.IsConnected() {
		t.Fatalf("expected connected")
	}
	ticks, _ := c.Read(ctx)
	if err := c.Subscribe(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	select {
	case msg := <-subs:
		if !strings.Contains(msg, `"btcusdt@miniTicker"`) || !strings.Contains(msg, `"ethusdt@miniTicker"`) {
			t.Fatalf("unexpected subscribe frame %s", msg)
		}
	case <-ctx.Done():
		t.Fatalf("no subscribe frame")
	}

	got := map[string]float64{}
	for len(got) < 2 {
		select {
		case tk := <-ticks:
			got[tk.Symbol] = tk.Price
		case <-ctx.Done():
			t.Fatalf("timed out, got %v", got)
		}
	}
	if got["BTCUSDT"] != 50100.50 || got["ETHUSDT"] != 3050.25 {
		t.Fatalf("unexpected ticks %v", got)
	}

	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	for range ticks {
	}
	if c.IsConnected() {
		t.Fatalf("expected disconnected after close")
	}
}

func TestDecodeTickIgnoresOtherFrames(t *testing.T) {
	for _, f := range []string{`{"result":null,"id":1}`, `not json`, `{"e":"trade","s":"BTCUSDT","c":"1"}`, `{"e":"24hrMiniTicker","s":"BTCUSDT","c":"0"}`} {
		if _, ok := decodeTick([]byte(f)); ok {
			t.Fatalf("frame %s should be ignored", f)
		}
	}
}
