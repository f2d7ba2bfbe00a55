package chain

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// headsServer confirms an eth_subscribe request and then pushes the given
// block numbers.
func headsServer(t *testing.T, numbers ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()

		_, msg, err := c.ReadMessage()
		if err != nil {
			return
		}
		var req wsRequest
		if err := json.Unmarshal(msg, &req); err != nil {
			return
		}
		if req.Method != "eth_subscribe" || req.Params[0] != "newHeads" {
			return
		}
		_ = c.WriteJSON(map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": "0xcd0c3e8af590364c09d0fa6a1210faf5"})

		for _, n := range numbers {
			_ = c.WriteJSON(map[string]interface{}{
				"jsonrpc": "2.0",
				"method":  "eth_subscription",
				"params": map[string]interface{}{
					"subscription": "0xcd0c3e8af590364c09d0fa6a1210faf5",
					"result":       map[string]string{"number": n, "hash": "0xhash" + n},
				},
			})
		}
		// Notification for another subscription is ignored.
		_ = c.WriteJSON(map[string]interface{}{
			"jsonrpc": "2.0",
			"method":  "eth_subscription",
			"params": map[string]interface{}{
				"subscription": "0xother",
				"result":       map[string]string{"number": "0xff"},
			},
		})

		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWSClient_SubscribeNewHeads(t *testing.T) {
	srv := headsServer(t, "0x10", "0x11")
	defer srv.Close()

	ctx := context.Background()
	client, err := NewWSClient(ctx, wsURL(srv), nil, nil)
	require.NoError(t, err)
	defer client.Close()

	heads, err := client.SubscribeNewHeads(ctx)
	require.NoError(t, err)

	var got []uint64
	timeout := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case h := <-heads:
			got = append(got, h.Number)
		case <-timeout:
			t.Fatalf("timed out, got %v", got)
		}
	}
	assert.Equal(t, []uint64{16, 17}, got)

	select {
	case h := <-heads:
		t.Fatalf("unexpected head %d from foreign subscription", h.Number)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWSClient_CloseClosesHeads(t *testing.T) {
	srv := headsServer(t)
	defer srv.Close()

	ctx := context.Background()
	client, err := NewWSClient(ctx, wsURL(srv), nil, nil)
	require.NoError(t, err)

	heads, err := client.SubscribeNewHeads(ctx)
	require.NoError(t, err)

	require.NoError(t, client.Close())
	require.NoError(t, client.Close(), "second close is a no-op")

	_, ok := <-heads
	assert.False(t, ok)

	_, err = client.SubscribeNewHeads(ctx)
	assert.Error(t, err)
}

func TestWSClient_DialFailure(t *testing.T) {
	_, err := NewWSClient(context.Background(), "ws://127.0.0.1:1", nil, nil)
	assert.Error(t, err)
}
