package chain

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tokenAddr = "0x5fbdb2315678afecb367f032d93f642f64180aa3"

func topic(addr string) string {
	return "0x000000000000000000000000" + addr[2:]
}

// rpcServer answers JSON-RPC requests with handler's result.
func rpcServer(t *testing.T, handler func(req rpcRequest) (interface{}, *rpcError)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		result, rpcErr := handler(req)

		resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestHTTPClient_BlockNumber(t *testing.T) {
	srv := rpcServer(t, func(req rpcRequest) (interface{}, *rpcError) {
		assert.Equal(t, "eth_blockNumber", req.Method)
		return "0x1b4", nil
	})
	defer srv.Close()

	n, err := NewHTTPClient(srv.URL).BlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(436), n)
}

func TestHTTPClient_GetTransferLogs(t *testing.T) {
	alice := "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	bob := "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"

	srv := rpcServer(t, func(req rpcRequest) (interface{}, *rpcError) {
		require.Equal(t, "eth_getLogs", req.Method)
		filter := req.Params[0].(map[string]interface{})
		assert.Equal(t, tokenAddr, filter["address"])
		assert.Equal(t, "0xa", filter["fromBlock"])
		assert.Equal(t, "0x14", filter["toBlock"])

		return []map[string]interface{}{
			{
				"address":         tokenAddr,
				"topics":          []string{TransferTopic, topic(ZeroAddress), topic(alice)},
				"data":            "0x00000000000000000000000000000000000000000000003635c9adc5dea00000", // 1000e18
				"blockNumber":     "0xb",
				"transactionHash": "0xAB01",
				"logIndex":        "0x0",
			},
			{
				"address":         tokenAddr,
				"topics":          []string{TransferTopic, topic(alice), topic(bob)},
				"data":            "0x00000000000000000000000000000000000000000000000006f05b59d3b20000", // 0.5e18
				"blockNumber":     "0xc",
				"transactionHash": "0xab02",
				"logIndex":        "0x1",
			},
			{
				"address":         tokenAddr,
				"topics":          []string{TransferTopic, topic(alice), topic(bob)},
				"data":            "0x01",
				"blockNumber":     "0xc",
				"transactionHash": "0xab03",
				"removed":         true,
			},
		}, nil
	})
	defer srv.Close()

	logs, err := NewHTTPClient(srv.URL).GetTransferLogs(context.Background(), tokenAddr, 10, 20)
	require.NoError(t, err)
	require.Len(t, logs, 2)

	assert.True(t, logs[0].IsMint())
	assert.Equal(t, alice, logs[0].To)
	assert.Equal(t, "1000", logs[0].Value.String())
	assert.Equal(t, uint64(11), logs[0].Block)
	assert.Equal(t, "0xab01", logs[0].TxHash)

	assert.False(t, logs[1].IsMint())
	assert.Equal(t, alice, logs[1].From)
	assert.Equal(t, bob, logs[1].To)
	assert.Equal(t, "0.5", logs[1].Value.String())
	assert.Equal(t, uint64(1), logs[1].LogIndex)
}

func TestHTTPClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":"0x2"}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, WithRetryDelay(time.Millisecond), WithMaxDelay(5*time.Millisecond))
	n, err := c.BlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPClient_RPCErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := rpcServer(t, func(req rpcRequest) (interface{}, *rpcError) {
		calls.Add(1)
		return nil, &rpcError{Code: -32005, Message: "query returned more than 10000 results"}
	})
	defer srv.Close()

	_, err := NewHTTPClient(srv.URL, WithRetryDelay(time.Millisecond)).GetTransferLogs(context.Background(), tokenAddr, 0, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "-32005")
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPClient_MaxRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, WithMaxRetries(1), WithRetryDelay(time.Millisecond))
	_, err := c.BlockNumber(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retries exceeded")
}
