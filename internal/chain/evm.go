package chain

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fairstake/betledger/pkg/logger"
	"github.com/fairstake/betledger/pkg/ratelimiter"
	"github.com/fairstake/betledger/pkg/retry"
)

type ClientConfig struct {
	RequestTimeout time.Duration
	MaxRetries     int
	RetryDelay     time.Duration
	RPS            int // per-node request rate, 0 for a sane default
	Burst          int
}

// EVMSource reads heights and block hashes over EVM JSON-RPC, failing
// over across the configured nodes.
type EVMSource struct {
	nodes    []string
	hc       *http.Client
	cfg      ClientConfig
	limiters *ratelimiter.PerNode

	mu    sync.Mutex
	rpcID int64
}

func NewEVMSource(nodes []string, cfg ClientConfig) (*EVMSource, error) {
	if len(nodes) == 0 {
		return nil, fmt.Errorf("at least one RPC node is required")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = retry.DefaultMaxAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = retry.DefaultInterval
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = cfg.RPS
	}

	return &EVMSource{
		nodes:    nodes,
		hc:       &http.Client{Timeout: cfg.RequestTimeout},
		cfg:      cfg,
		limiters: ratelimiter.NewPerNode(cfg.RPS, cfg.Burst),
		rpcID:    1,
	}, nil
}

func (c *EVMSource) Height(ctx context.Context) (uint64, error) {
	raw, err := c.call(ctx, "eth_blockNumber", []any{})
	if err != nil {
		return 0, err
	}

	var hexHeight string
	if err := json.Unmarshal(raw, &hexHeight); err != nil {
		return 0, fmt.Errorf("decode block number: %w", err)
	}
	return parseHexUint(hexHeight)
}

func (c *EVMSource) BlockHash(ctx context.Context, height uint64) ([32]byte, error) {
	raw, err := c.call(ctx, "eth_getBlockByNumber", []any{fmt.Sprintf("0x%x", height), false})
	if err != nil {
		return [32]byte{}, err
	}
	if bytes.Equal(raw, []byte("null")) {
		return [32]byte{}, fmt.Errorf("block %d not available", height)
	}

	var block struct {
		Hash string `json:"hash"`
	}
	if err := json.Unmarshal(raw, &block); err != nil {
		return [32]byte{}, fmt.Errorf("decode block: %w", err)
	}
	return parseHash(block.Hash)
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// call tries every node in order, retrying each with a constant
// interval before failing over to the next.
func (c *EVMSource) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	var lastErr error
	for _, node := range c.nodes {
		var result json.RawMessage
		err := retry.Constant(func() error {
			var callErr error
			result, callErr = c.callNode(ctx, node, method, params)
			return callErr
		}, c.cfg.RetryDelay, c.cfg.MaxRetries)
		if err == nil {
			return result, nil
		}

		lastErr = err
		logger.Warn("RPC node failed, trying next", "node", node, "method", method, "err", err)
	}
	return nil, fmt.Errorf("all %d nodes failed: %w", len(c.nodes), lastErr)
}

func (c *EVMSource) callNode(ctx context.Context, node, method string, params any) (json.RawMessage, error) {
	if err := c.limiters.For(node).Wait(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	reqID := c.rpcID
	c.rpcID++
	c.mu.Unlock()

	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: reqID, Method: method, Params: params})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, node, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(raw, &rpcResp); err != nil {
		return nil, fmt.Errorf("unmarshal RPC response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}
	return rpcResp.Result, nil
}

func parseHexUint(s string) (uint64, error) {
	v, err := strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 64)
	if err != nil {
		return 0, fmt.Errorf("parse hex number %q: %w", s, err)
	}
	return v, nil
}

func parseHash(s string) ([32]byte, error) {
	var h [32]byte
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return h, fmt.Errorf("parse block hash %q: %w", s, err)
	}
	if len(b) != len(h) {
		return h, fmt.Errorf("block hash %q: want %d bytes, got %d", s, len(h), len(b))
	}
	copy(h[:], b)
	return h, nil
}
