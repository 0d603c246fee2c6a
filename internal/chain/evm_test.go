package chain

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rpcServer(t *testing.T, handler func(method string, params []json.RawMessage) (any, *rpcError)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     int64             `json:"id"`
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		result, rpcErr := handler(req.Method, req.Params)
		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func fastConfig() ClientConfig {
	return ClientConfig{
		RequestTimeout: time.Second,
		MaxRetries:     1,
		RetryDelay:     time.Millisecond,
	}
}

func TestEVMSource_Height(t *testing.T) {
	srv := rpcServer(t, func(method string, _ []json.RawMessage) (any, *rpcError) {
		require.Equal(t, "eth_blockNumber", method)
		return "0x1a4", nil
	})
	defer srv.Close()

	src, err := NewEVMSource([]string{srv.URL}, fastConfig())
	require.NoError(t, err)

	h, err := src.Height(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(420), h)
}

func TestEVMSource_BlockHash(t *testing.T) {
	wantHash := "0x" + strings.Repeat("ab", 32)
	srv := rpcServer(t, func(method string, params []json.RawMessage) (any, *rpcError) {
		require.Equal(t, "eth_getBlockByNumber", method)
		var num string
		require.NoError(t, json.Unmarshal(params[0], &num))
		require.Equal(t, "0x64", num)
		return map[string]any{"hash": wantHash}, nil
	})
	defer srv.Close()

	src, err := NewEVMSource([]string{srv.URL}, fastConfig())
	require.NoError(t, err)

	h, err := src.BlockHash(context.Background(), 100)
	require.NoError(t, err)
	for _, b := range h {
		assert.Equal(t, byte(0xab), b)
	}
}

func TestEVMSource_NullBlock(t *testing.T) {
	srv := rpcServer(t, func(string, []json.RawMessage) (any, *rpcError) {
		return nil, nil
	})
	defer srv.Close()

	src, err := NewEVMSource([]string{srv.URL}, fastConfig())
	require.NoError(t, err)

	_, err = src.BlockHash(context.Background(), 9999)
	assert.ErrorContains(t, err, "not available")
}

func TestEVMSource_Failover(t *testing.T) {
	bad := rpcServer(t, func(string, []json.RawMessage) (any, *rpcError) {
		return nil, &rpcError{Code: -32000, Message: "overloaded"}
	})
	defer bad.Close()

	good := rpcServer(t, func(string, []json.RawMessage) (any, *rpcError) {
		return "0x10", nil
	})
	defer good.Close()

	src, err := NewEVMSource([]string{bad.URL, good.URL}, fastConfig())
	require.NoError(t, err)

	h, err := src.Height(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(16), h)
}

func TestEVMSource_NoNodes(t *testing.T) {
	_, err := NewEVMSource(nil, fastConfig())
	assert.Error(t, err)
}
