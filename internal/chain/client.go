package chain

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kinode-dao/storekeeper/internal/infrastructure/logging"
)

// Reader performs read-only registry lookups over JSON-RPC.
type Reader struct {
	http     *resty.Client
	rpcURL   string
	registry Address
	logger   *logging.Logger
}

// NewReader creates a registry reader against the given RPC endpoint.
func NewReader(rpcURL string, registry Address, timeout time.Duration, logger *logging.Logger) *Reader {
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetHeader("Content-Type", "application/json")

	return &Reader{
		http:     client,
		rpcURL:   rpcURL,
		registry: registry,
		logger:   logger,
	}
}

// Registry returns the registry address the reader queries.
func (r *Reader) Registry() Address {
	return r.registry
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      string        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcCallObject struct {
	To   string `json:"to"`
	Data string `json:"data"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result string    `json:"result"`
	Error  *rpcError `json:"error"`
}

// Get looks up the registry entry for a namehash. A node that has
// never been minted decodes to a zero entry, not an error.
func (r *Reader) Get(ctx context.Context, namehash [32]byte) (Entry, error) {
	out, err := r.ethCall(ctx, r.registry, EncodeGet(namehash))
	if err != nil {
		return Entry{}, err
	}
	if len(out) == 0 {
		return Entry{}, nil
	}
	entry, err := DecodeGetResult(out)
	if err != nil {
		return Entry{}, fmt.Errorf("decode get result: %w", err)
	}
	return entry, nil
}

func (r *Reader) ethCall(ctx context.Context, to Address, data []byte) ([]byte, error) {
	// A unique id per call keeps interleaved RPC logs attributable.
	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      uuid.NewString(),
		Method:  "eth_call",
		Params: []interface{}{
			rpcCallObject{To: to.Hex(), Data: ToHex(data)},
			"latest",
		},
	}

	var resp rpcResponse
	res, err := r.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&resp).
		Post(r.rpcURL)
	if err != nil {
		return nil, fmt.Errorf("eth_call: %w", err)
	}
	if res.IsError() {
		return nil, fmt.Errorf("eth_call: rpc status %d", res.StatusCode())
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("eth_call: rpc error %d: %s", resp.Error.Code, resp.Error.Message)
	}

	out, err := FromHex(resp.Result)
	if err != nil {
		return nil, fmt.Errorf("eth_call: malformed result: %w", err)
	}
	r.logger.Debug("registry call",
		zap.String("to", to.Hex()),
		zap.Int("request_bytes", len(data)),
		zap.Int("result_bytes", len(out)))
	return out, nil
}
