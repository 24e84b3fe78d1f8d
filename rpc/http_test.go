package rpc

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"escrowd/core"
	"escrowd/crypto"
	"escrowd/escrow"
	"escrowd/storage"
)

const testToken = "test-token"

type testParty struct {
	bech32   string
	identity escrow.Identity
}

func newTestParty(t *testing.T) testParty {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	addr := key.PubKey().Address()
	return testParty{bech32: addr.String(), identity: addr.Raw()}
}

type testEnv struct {
	server       *httptest.Server
	node         *core.Node
	authority    testParty
	depositor    testParty
	counterparty testParty
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	t.Setenv(TokenEnvVar, testToken)

	authority := newTestParty(t)
	depositor := newTestParty(t)
	counterparty := newTestParty(t)

	node, err := core.NewNode(storage.NewMemDB(), escrow.Params{
		FeeBps:           250,
		CancelWindowSecs: 3600,
		Authority:        authority.identity,
	}, nil)
	require.NoError(t, err)

	srv := httptest.NewServer(NewServer(node).Handler())
	t.Cleanup(srv.Close)
	return &testEnv{
		server:       srv,
		node:         node,
		authority:    authority,
		depositor:    depositor,
		counterparty: counterparty,
	}
}

func (env *testEnv) call(t *testing.T, method string, params interface{}, token string) (*http.Response, RPCResponse) {
	t.Helper()
	payload := map[string]interface{}{
		"jsonrpc": jsonRPCVersion,
		"id":      1,
		"method":  method,
	}
	if params != nil {
		payload["params"] = []interface{}{params}
	}
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, env.server.URL, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := env.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded RPCResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func (env *testEnv) mustResult(t *testing.T, method string, params interface{}, out interface{}) {
	t.Helper()
	resp, decoded := env.call(t, method, params, testToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Nil(t, decoded.Error, "rpc error: %+v", decoded.Error)
	raw, err := json.Marshal(decoded.Result)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, out))
}

func (env *testEnv) mint(t *testing.T, to string, amount string) {
	t.Helper()
	var result balanceResult
	env.mustResult(t, "bank_mint", bankMintParams{
		Caller: env.authority.bech32,
		To:     to,
		Amount: amount,
	}, &result)
}

func (env *testEnv) create(t *testing.T, amount string) escrowJSON {
	t.Helper()
	env.mint(t, env.depositor.bech32, amount)
	var rec escrowJSON
	env.mustResult(t, "escrow_create", escrowCreateParams{
		Depositor:    env.depositor.bech32,
		Counterparty: env.counterparty.bech32,
		Amount:       amount,
		Description:  "marketplace order",
	}, &rec)
	return rec
}

func TestRPCFullSettlementFlow(t *testing.T) {
	env := newTestEnv(t)
	rec := env.create(t, "1000")
	require.Equal(t, uint64(0), rec.ID)
	require.Equal(t, "awaiting_confirmation", rec.Status)

	var after escrowJSON
	env.mustResult(t, "escrow_confirmCounterparty", escrowActorParams{
		ID: rec.ID, Caller: env.counterparty.bech32,
	}, &after)
	require.Equal(t, "awaiting_confirmation", after.Status)
	require.True(t, after.CounterpartyConfirmed)

	env.mustResult(t, "escrow_confirmDepositor", escrowActorParams{
		ID: rec.ID, Caller: env.depositor.bech32,
	}, &after)
	require.Equal(t, "completed", after.Status)

	var balance balanceResult
	env.mustResult(t, "bank_balance", bankBalanceParams{Address: env.counterparty.bech32}, &balance)
	require.Equal(t, "975", balance.Balance)

	env.mustResult(t, "admin_feeBalance", adminCallerParams{}, &balance)
	require.Equal(t, "25", balance.Balance)

	var withdrawn withdrawResult
	env.mustResult(t, "admin_withdrawFees", adminCallerParams{Caller: env.authority.bech32}, &withdrawn)
	require.Equal(t, "25", withdrawn.Amount)
}

func TestRPCCancelFlow(t *testing.T) {
	env := newTestEnv(t)
	rec := env.create(t, "500")

	var can canCancelResult
	env.mustResult(t, "escrow_canCancel", escrowIDParams{ID: rec.ID}, &can)
	require.True(t, can.CanCancel)
	require.Greater(t, can.RemainingSecs, int64(0))

	var after escrowJSON
	env.mustResult(t, "escrow_cancelDepositor", escrowActorParams{
		ID: rec.ID, Caller: env.depositor.bech32,
	}, &after)
	require.Equal(t, "cancelled_by_depositor", after.Status)

	var balance balanceResult
	env.mustResult(t, "bank_balance", bankBalanceParams{Address: env.depositor.bech32}, &balance)
	require.Equal(t, "500", balance.Balance)
}

func TestRPCListQueries(t *testing.T) {
	env := newTestEnv(t)
	env.create(t, "100")
	env.create(t, "200")

	var ids []uint64
	env.mustResult(t, "escrow_listByDepositor", escrowPartyParams{Party: env.depositor.bech32}, &ids)
	require.Equal(t, []uint64{0, 1}, ids)

	env.mustResult(t, "escrow_listByCounterparty", escrowPartyParams{Party: env.counterparty.bech32}, &ids)
	require.Equal(t, []uint64{0, 1}, ids)

	env.mustResult(t, "escrow_listByDepositor", escrowPartyParams{Party: env.authority.bech32}, &ids)
	require.Empty(t, ids)
}

func TestRPCAdminSurface(t *testing.T) {
	env := newTestEnv(t)

	var params paramsResult
	env.mustResult(t, "admin_setFeeBps", adminFeeParams{Caller: env.authority.bech32, FeeBps: 100}, &params)
	require.Equal(t, uint32(100), params.FeeBps)

	env.mustResult(t, "admin_setCancelWindow", adminWindowParams{
		Caller: env.authority.bech32, CancelWindowSecs: 7200,
	}, &params)
	require.Equal(t, int64(7200), params.CancelWindowSecs)

	env.mustResult(t, "admin_transferAuthority", adminTransferParams{
		Caller: env.authority.bech32, NewAuthority: env.depositor.bech32,
	}, &params)
	require.Equal(t, env.depositor.bech32, params.Authority)

	// The old authority is now rejected.
	resp, decoded := env.call(t, "admin_setFeeBps", adminFeeParams{
		Caller: env.authority.bech32, FeeBps: 10,
	}, testToken)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.NotNil(t, decoded.Error)
	require.Equal(t, codeEscrowForbidden, decoded.Error.Code)
}

func TestRPCAuthRequiredForMutations(t *testing.T) {
	env := newTestEnv(t)

	resp, decoded := env.call(t, "escrow_create", escrowCreateParams{
		Depositor:    env.depositor.bech32,
		Counterparty: env.counterparty.bech32,
		Amount:       "100",
		Description:  "x",
	}, "")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.NotNil(t, decoded.Error)
	require.Equal(t, codeUnauthorized, decoded.Error.Code)

	resp, decoded = env.call(t, "bank_mint", bankMintParams{
		Caller: env.authority.bech32, To: env.depositor.bech32, Amount: "1",
	}, "wrong-token")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.NotNil(t, decoded.Error)

	// Reads stay open.
	resp, decoded = env.call(t, "admin_feeBalance", adminCallerParams{}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Nil(t, decoded.Error)
}

func TestRPCErrorMapping(t *testing.T) {
	env := newTestEnv(t)
	rec := env.create(t, "1000")

	cases := []struct {
		name     string
		method   string
		params   interface{}
		httpCode int
		rpcCode  int
	}{
		{"unknown id", "escrow_get", escrowIDParams{ID: 99}, http.StatusNotFound, codeEscrowNotFound},
		{"wrong caller", "escrow_confirmDepositor", escrowActorParams{ID: rec.ID, Caller: env.counterparty.bech32}, http.StatusForbidden, codeEscrowForbidden},
		{"bad address", "escrow_get", map[string]interface{}{"id": "not-a-number"}, http.StatusBadRequest, codeEscrowInvalidParams},
		{"zero amount", "escrow_create", escrowCreateParams{
			Depositor: env.depositor.bech32, Counterparty: env.counterparty.bech32,
			Amount: "0", Description: "x",
		}, http.StatusBadRequest, codeEscrowInvalidParams},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, decoded := env.call(t, tc.method, tc.params, testToken)
			require.Equal(t, tc.httpCode, resp.StatusCode)
			require.NotNil(t, decoded.Error)
			require.Equal(t, tc.rpcCode, decoded.Error.Code)
		})
	}
}

func TestRPCInvalidStateMapping(t *testing.T) {
	env := newTestEnv(t)
	rec := env.create(t, "1000")

	var after escrowJSON
	env.mustResult(t, "escrow_cancelCounterparty", escrowActorParams{
		ID: rec.ID, Caller: env.counterparty.bech32,
	}, &after)
	require.Equal(t, "cancelled_by_counterparty", after.Status)

	resp, decoded := env.call(t, "escrow_confirmDepositor", escrowActorParams{
		ID: rec.ID, Caller: env.depositor.bech32,
	}, testToken)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.NotNil(t, decoded.Error)
	require.Equal(t, codeEscrowInvalidState, decoded.Error.Code)
}

func TestRPCProtocolErrors(t *testing.T) {
	env := newTestEnv(t)

	resp, decoded := env.call(t, "no_such_method", nil, testToken)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, codeMethodNotFound, decoded.Error.Code)

	req, err := http.NewRequest(http.MethodPost, env.server.URL, bytes.NewReader([]byte("{not json")))
	require.NoError(t, err)
	raw, err := env.server.Client().Do(req)
	require.NoError(t, err)
	defer raw.Body.Close()
	var parseResp RPCResponse
	require.NoError(t, json.NewDecoder(raw.Body).Decode(&parseResp))
	require.Equal(t, codeParseError, parseResp.Error.Code)

	resp, decoded = env.call(t, "escrow_get", nil, testToken)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, codeEscrowInvalidParams, decoded.Error.Code)
}

func TestRPCVersionCheck(t *testing.T) {
	env := newTestEnv(t)
	body := []byte(`{"jsonrpc":"1.0","id":1,"method":"escrow_get","params":[{"id":0}]}`)
	req, err := http.NewRequest(http.MethodPost, env.server.URL, bytes.NewReader(body))
	require.NoError(t, err)
	resp, err := env.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var decoded RPCResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	require.Equal(t, codeInvalidRequest, decoded.Error.Code)
}
