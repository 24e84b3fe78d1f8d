package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"
)

// EscrowState mirrors the node's record view.
type EscrowState struct {
	ID                    uint64 `json:"id"`
	Depositor             string `json:"depositor"`
	Counterparty          string `json:"counterparty"`
	Amount                string `json:"amount"`
	Description           string `json:"description"`
	CreatedAt             int64  `json:"createdAt"`
	CancelDeadline        int64  `json:"cancelDeadline"`
	Status                string `json:"status"`
	DepositorConfirmed    bool   `json:"depositorConfirmed"`
	CounterpartyConfirmed bool   `json:"counterpartyConfirmed"`
}

// EscrowCreateRequest is the gateway-side creation payload.
type EscrowCreateRequest struct {
	Depositor    string `json:"depositor"`
	Counterparty string `json:"counterparty"`
	Amount       string `json:"amount"`
	Description  string `json:"description"`
}

// NodeClient is the thin JSON-RPC surface the gateway consumes.
type NodeClient interface {
	EscrowCreate(ctx context.Context, req EscrowCreateRequest) (*EscrowState, error)
	EscrowGet(ctx context.Context, id uint64) (*EscrowState, error)
	EscrowConfirm(ctx context.Context, id uint64, caller, side string) (*EscrowState, error)
	EscrowCancel(ctx context.Context, id uint64, caller, side string) (*EscrowState, error)
}

// RPCError carries the node's JSON-RPC error so HTTP handlers can translate
// the code into a status.
type RPCError struct {
	Code    int
	Message string
	Data    string
}

func (e *RPCError) Error() string {
	if e.Data != "" {
		return fmt.Sprintf("rpc error %d: %s (%s)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// RPCNodeClient implements NodeClient against the escrowd JSON-RPC server.
type RPCNodeClient struct {
	baseURL   string
	authToken string
	http      *http.Client
	nextID    atomic.Int64
}

func NewRPCNodeClient(baseURL, authToken string) *RPCNodeClient {
	return &RPCNodeClient{
		baseURL:   baseURL,
		authToken: authToken,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type jsonRPCRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	ID      int64       `json:"id"`
}

type jsonRPCResponse struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      int64            `json:"id"`
	Result  json.RawMessage  `json:"result"`
	Error   *jsonRPCErrorObj `json:"error"`
}

type jsonRPCErrorObj struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *RPCNodeClient) call(ctx context.Context, method string, params interface{}, out interface{}) error {
	body, err := json.Marshal(jsonRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  []interface{}{params},
		ID:      c.nextID.Add(1),
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	var decoded jsonRPCResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return fmt.Errorf("decode rpc response: %w", err)
	}
	if decoded.Error != nil {
		data := ""
		if len(decoded.Error.Data) > 0 {
			var asString string
			if err := json.Unmarshal(decoded.Error.Data, &asString); err == nil {
				data = asString
			} else {
				data = string(decoded.Error.Data)
			}
		}
		return &RPCError{Code: decoded.Error.Code, Message: decoded.Error.Message, Data: data}
	}
	if out == nil {
		return nil
	}
	if len(decoded.Result) == 0 {
		return errors.New("rpc response missing result")
	}
	return json.Unmarshal(decoded.Result, out)
}

func (c *RPCNodeClient) EscrowCreate(ctx context.Context, req EscrowCreateRequest) (*EscrowState, error) {
	var state EscrowState
	if err := c.call(ctx, "escrow_create", req, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (c *RPCNodeClient) EscrowGet(ctx context.Context, id uint64) (*EscrowState, error) {
	var state EscrowState
	if err := c.call(ctx, "escrow_get", map[string]interface{}{"id": id}, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (c *RPCNodeClient) EscrowConfirm(ctx context.Context, id uint64, caller, side string) (*EscrowState, error) {
	method, err := sideMethod("escrow_confirmDepositor", "escrow_confirmCounterparty", side)
	if err != nil {
		return nil, err
	}
	var state EscrowState
	if err := c.call(ctx, method, map[string]interface{}{"id": id, "caller": caller}, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (c *RPCNodeClient) EscrowCancel(ctx context.Context, id uint64, caller, side string) (*EscrowState, error) {
	method, err := sideMethod("escrow_cancelDepositor", "escrow_cancelCounterparty", side)
	if err != nil {
		return nil, err
	}
	var state EscrowState
	if err := c.call(ctx, method, map[string]interface{}{"id": id, "caller": caller}, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func sideMethod(depositor, counterparty, side string) (string, error) {
	switch side {
	case "depositor":
		return depositor, nil
	case "counterparty":
		return counterparty, nil
	default:
		return "", fmt.Errorf("side must be depositor or counterparty (got %q)", side)
	}
}
