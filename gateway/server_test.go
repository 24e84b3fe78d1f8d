package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const (
	testSecret = "super-secret"
	testIssuer = "escrowd-gateway"
)

// stubNodeClient returns canned responses and records the last call.
type stubNodeClient struct {
	state      *EscrowState
	err        error
	lastMethod string
	lastSide   string
	lastCaller string
	lastID     uint64
}

func (s *stubNodeClient) EscrowCreate(_ context.Context, req EscrowCreateRequest) (*EscrowState, error) {
	s.lastMethod = "create"
	return s.state, s.err
}

func (s *stubNodeClient) EscrowGet(_ context.Context, id uint64) (*EscrowState, error) {
	s.lastMethod = "get"
	s.lastID = id
	return s.state, s.err
}

func (s *stubNodeClient) EscrowConfirm(_ context.Context, id uint64, caller, side string) (*EscrowState, error) {
	s.lastMethod = "confirm"
	s.lastID = id
	s.lastCaller = caller
	s.lastSide = side
	return s.state, s.err
}

func (s *stubNodeClient) EscrowCancel(_ context.Context, id uint64, caller, side string) (*EscrowState, error) {
	s.lastMethod = "cancel"
	s.lastID = id
	s.lastCaller = caller
	s.lastSide = side
	return s.state, s.err
}

func testState() *EscrowState {
	return &EscrowState{
		ID:           7,
		Depositor:    "esc1depositor",
		Counterparty: "esc1counterparty",
		Amount:       "1000",
		Description:  "order",
		Status:       "awaiting_confirmation",
	}
}

func signToken(t *testing.T, secret, issuer, subject, scope string, expires time.Time) string {
	t.Helper()
	claims := gatewayClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		Scope: scope,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func validToken(t *testing.T) string {
	return signToken(t, testSecret, testIssuer, "client-1", ScopeEscrow, time.Now().Add(time.Hour))
}

func newGateway(t *testing.T, node NodeClient) *httptest.Server {
	t.Helper()
	auth := NewAuthenticator(testSecret, testIssuer, time.Minute)
	srv := httptest.NewServer(NewServer(auth, node).Router())
	t.Cleanup(srv.Close)
	return srv
}

func doRequest(t *testing.T, srv *httptest.Server, method, path, token string, body interface{}) *http.Response {
	t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		require.NoError(t, err)
	}
	req, err := http.NewRequest(method, srv.URL+path, bytes.NewReader(payload))
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func TestHealthzIsOpen(t *testing.T) {
	srv := newGateway(t, &stubNodeClient{})
	resp := doRequest(t, srv, http.MethodGet, "/healthz", "", nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRequestIDHeader(t *testing.T) {
	srv := newGateway(t, &stubNodeClient{})
	resp := doRequest(t, srv, http.MethodGet, "/healthz", "", nil)
	defer resp.Body.Close()
	require.NotEmpty(t, resp.Header.Get(headerRequestID))
}

func TestAuthenticationRequired(t *testing.T) {
	srv := newGateway(t, &stubNodeClient{state: testState()})
	cases := []struct {
		name  string
		token string
	}{
		{"missing token", ""},
		{"wrong secret", signToken(t, "other-secret", testIssuer, "client-1", ScopeEscrow, time.Now().Add(time.Hour))},
		{"wrong issuer", signToken(t, testSecret, "someone-else", "client-1", ScopeEscrow, time.Now().Add(time.Hour))},
		{"expired", signToken(t, testSecret, testIssuer, "client-1", ScopeEscrow, time.Now().Add(-2*time.Hour))},
		{"no subject", signToken(t, testSecret, testIssuer, "", ScopeEscrow, time.Now().Add(time.Hour))},
		{"missing scope", signToken(t, testSecret, testIssuer, "client-1", "", time.Now().Add(time.Hour))},
		{"foreign scope", signToken(t, testSecret, testIssuer, "client-1", "billing", time.Now().Add(time.Hour))},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := doRequest(t, srv, http.MethodGet, "/v1/escrows/7", tc.token, nil)
			defer resp.Body.Close()
			require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		})
	}
}

func TestCreateEscrow(t *testing.T) {
	node := &stubNodeClient{state: testState()}
	srv := newGateway(t, node)
	resp := doRequest(t, srv, http.MethodPost, "/v1/escrows", validToken(t), EscrowCreateRequest{
		Depositor:    "esc1depositor",
		Counterparty: "esc1counterparty",
		Amount:       "1000",
		Description:  "order",
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, "create", node.lastMethod)

	var state EscrowState
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&state))
	require.Equal(t, uint64(7), state.ID)
}

func TestGetEscrow(t *testing.T) {
	node := &stubNodeClient{state: testState()}
	srv := newGateway(t, node)
	resp := doRequest(t, srv, http.MethodGet, "/v1/escrows/7", validToken(t), nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, uint64(7), node.lastID)
}

func TestGetEscrowBadID(t *testing.T) {
	srv := newGateway(t, &stubNodeClient{state: testState()})
	resp := doRequest(t, srv, http.MethodGet, "/v1/escrows/not-a-number", validToken(t), nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestConfirmAndCancelForwardSide(t *testing.T) {
	node := &stubNodeClient{state: testState()}
	srv := newGateway(t, node)

	resp := doRequest(t, srv, http.MethodPost, "/v1/escrows/7/confirm", validToken(t), actionRequest{
		Caller: "esc1depositor", Side: "depositor",
	})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "confirm", node.lastMethod)
	require.Equal(t, "depositor", node.lastSide)
	require.Equal(t, "esc1depositor", node.lastCaller)

	resp = doRequest(t, srv, http.MethodPost, "/v1/escrows/7/cancel", validToken(t), actionRequest{
		Caller: "esc1counterparty", Side: "counterparty",
	})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "cancel", node.lastMethod)
	require.Equal(t, "counterparty", node.lastSide)
}

func TestMissingBodyRejected(t *testing.T) {
	srv := newGateway(t, &stubNodeClient{state: testState()})
	resp := doRequest(t, srv, http.MethodPost, "/v1/escrows/7/confirm", validToken(t), nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestNodeErrorTranslation(t *testing.T) {
	cases := []struct {
		name   string
		code   int
		status int
	}{
		{"not found", -32022, http.StatusNotFound},
		{"forbidden", -32023, http.StatusForbidden},
		{"invalid state", -32024, http.StatusConflict},
		{"precondition", -32025, http.StatusUnprocessableEntity},
		{"transfer", -32026, http.StatusConflict},
		{"invalid params", -32021, http.StatusBadRequest},
		{"node auth", -32001, http.StatusForbidden},
		{"unknown", -32000, http.StatusBadGateway},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			node := &stubNodeClient{err: &RPCError{Code: tc.code, Message: "rejected"}}
			srv := newGateway(t, node)
			resp := doRequest(t, srv, http.MethodGet, "/v1/escrows/7", validToken(t), nil)
			defer resp.Body.Close()
			require.Equal(t, tc.status, resp.StatusCode)

			var body errorBody
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			require.NotEmpty(t, body.Error)
		})
	}
}

func TestPerSubjectRateLimit(t *testing.T) {
	node := &stubNodeClient{state: testState()}
	srv := newGateway(t, node)
	token := validToken(t)

	var throttled bool
	for i := 0; i < clientRequestBurst+5; i++ {
		resp := doRequest(t, srv, http.MethodGet, "/v1/escrows/7", token, nil)
		resp.Body.Close()
		if resp.StatusCode == http.StatusTooManyRequests {
			throttled = true
			break
		}
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	require.True(t, throttled, "burst should exhaust the per-subject limiter")
}

func TestSubjectStoredInContext(t *testing.T) {
	auth := NewAuthenticator(testSecret, testIssuer, time.Minute)
	var seen string
	handler := auth.Middleware(ScopeEscrow)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = Subject(r.Context())
	}))
	srv := httptest.NewServer(handler)
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, testIssuer, "client-42", ScopeEscrow, time.Now().Add(time.Hour)))
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, "client-42", seen)
}
