package rpc

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"paylock/core/events"
	"paylock/crypto"
	"paylock/native/escrow"
	"paylock/storage"
)

type testEnv struct {
	server   *Server
	router   http.Handler
	engine   *escrow.Engine
	recorder *events.Recorder
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := storage.NewMemDB()
	state := storage.NewState(db)
	payout := storage.NewAccountPayout(db)
	recorder := events.NewRecorder()

	engine := escrow.NewEngine()
	engine.SetState(state)
	engine.SetPayoutSink(payout)
	engine.SetEmitter(recorder)

	server := NewServer(engine, recorder)
	return &testEnv{
		server:   server,
		router:   server.Router(),
		engine:   engine,
		recorder: recorder,
	}
}

func testAddress(t *testing.T, fill byte) string {
	t.Helper()
	raw := make([]byte, 20)
	for i := range raw {
		raw[i] = fill
	}
	return crypto.NewAddress(crypto.PayPrefix, raw).String()
}

func (env *testEnv) call(t *testing.T, method string, params interface{}, headers map[string]string) (*rpcResponse, int) {
	t.Helper()
	reqBody := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  []interface{}{params},
	}
	raw, err := json.Marshal(reqBody)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(raw))
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	var resp rpcResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return &resp, rec.Code
}

const testContentHash = "abababababababababababababababababababababababababababababababab"

func TestLifecycleOverRPC(t *testing.T) {
	env := newTestEnv(t)
	creator := testAddress(t, 0x11)
	counterparty := testAddress(t, 0x22)

	resp, status := env.call(t, "escrow_create", map[string]string{
		"caller":       creator,
		"counterparty": counterparty,
		"contentHash":  testContentHash,
		"amount":       "100",
		"deposit":      "100",
	}, nil)
	require.Equal(t, http.StatusOK, status)
	require.Nil(t, resp.Error)

	var created contractJSON
	require.NoError(t, json.Unmarshal(resp.Result, &created))
	require.Equal(t, uint64(1), created.ID)
	require.Equal(t, "created", created.Status)
	require.Equal(t, creator, created.Creator)
	require.Equal(t, counterparty, created.Counterparty)

	resp, _ = env.call(t, "escrow_sign", map[string]interface{}{
		"id": created.ID, "caller": counterparty,
	}, nil)
	require.Nil(t, resp.Error)

	resp, _ = env.call(t, "escrow_confirmDirect", map[string]interface{}{
		"id": created.ID, "caller": creator,
	}, nil)
	require.Nil(t, resp.Error)

	resp, _ = env.call(t, "escrow_getStatus", map[string]interface{}{"id": created.ID}, nil)
	require.Nil(t, resp.Error)
	var statusResult map[string]string
	require.NoError(t, json.Unmarshal(resp.Result, &statusResult))
	require.Equal(t, "completed", statusResult["status"])

	resp, _ = env.call(t, "escrow_withdraw", map[string]string{"caller": counterparty}, nil)
	require.Nil(t, resp.Error)
	var withdrawResult map[string]string
	require.NoError(t, json.Unmarshal(resp.Result, &withdrawResult))
	require.Equal(t, "100", withdrawResult["amount"])

	resp, status = env.call(t, "escrow_withdraw", map[string]string{"caller": counterparty}, nil)
	require.Equal(t, http.StatusConflict, status)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeConflict, resp.Error.Code)
}

func TestErrorCodeMapping(t *testing.T) {
	env := newTestEnv(t)
	creator := testAddress(t, 0x11)
	counterparty := testAddress(t, 0x22)

	resp, status := env.call(t, "escrow_getStatus", map[string]interface{}{"id": 42}, nil)
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, codeNotFound, resp.Error.Code)

	resp, status = env.call(t, "escrow_create", map[string]string{
		"caller":       "garbage",
		"counterparty": counterparty,
		"contentHash":  testContentHash,
		"amount":       "100",
		"deposit":      "100",
	}, nil)
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, codeInvalidParams, resp.Error.Code)

	resp, _ = env.call(t, "escrow_create", map[string]string{
		"caller":       creator,
		"counterparty": counterparty,
		"contentHash":  testContentHash,
		"amount":       "100",
		"deposit":      "100",
	}, nil)
	require.Nil(t, resp.Error)

	// Signing as the creator is a role violation.
	resp, status = env.call(t, "escrow_sign", map[string]interface{}{
		"id": 1, "caller": creator,
	}, nil)
	require.Equal(t, http.StatusForbidden, status)
	require.Equal(t, codeForbidden, resp.Error.Code)

	// Mismatched deposits map to invalid params.
	resp, _ = env.call(t, "escrow_create", map[string]string{
		"caller":       creator,
		"counterparty": counterparty,
		"contentHash":  testContentHash,
		"amount":       "100",
		"deposit":      "99",
	}, nil)
	require.Equal(t, codeInvalidParams, resp.Error.Code)
}

func TestMethodNotFound(t *testing.T) {
	env := newTestEnv(t)
	resp, status := env.call(t, "escrow_unknown", map[string]string{}, nil)
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, codeMethodNotFound, resp.Error.Code)
}

func TestBearerTokenAuth(t *testing.T) {
	t.Setenv(authTokenEnv, "sekrit")
	env := newTestEnv(t)
	counterparty := testAddress(t, 0x22)

	resp, status := env.call(t, "escrow_sign", map[string]interface{}{
		"id": 1, "caller": counterparty,
	}, nil)
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, codeUnauthorized, resp.Error.Code)

	// Read-only methods stay open.
	resp, status = env.call(t, "escrow_getStatus", map[string]interface{}{"id": 1}, nil)
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, codeNotFound, resp.Error.Code)

	// A valid token passes auth and reaches the engine.
	resp, status = env.call(t, "escrow_sign", map[string]interface{}{
		"id": 1, "caller": counterparty,
	}, map[string]string{"Authorization": "Bearer sekrit"})
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, codeNotFound, resp.Error.Code)
}

func TestEventsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	creator := testAddress(t, 0x11)
	counterparty := testAddress(t, 0x22)

	resp, _ := env.call(t, "escrow_create", map[string]string{
		"caller":       creator,
		"counterparty": counterparty,
		"contentHash":  testContentHash,
		"amount":       "100",
		"deposit":      "100",
	}, nil)
	require.Nil(t, resp.Error)

	resp, _ = env.call(t, "escrow_events", map[string]interface{}{}, nil)
	require.Nil(t, resp.Error)

	var log []map[string]interface{}
	require.NoError(t, json.Unmarshal(resp.Result, &log))
	require.Len(t, log, 1)
	require.Equal(t, escrow.EventTypeContractCreated, log[0]["type"])
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())
}

func TestParseHelpers(t *testing.T) {
	_, err := parseAmount("")
	require.Error(t, err)
	_, err = parseAmount("12x")
	require.Error(t, err)
	amount, err := parseAmount(" 150 ")
	require.NoError(t, err)
	require.Equal(t, int64(150), amount.Int64())

	_, err = parseHash32("abcd")
	require.Error(t, err)
	_, err = parseHash32("zz" + testContentHash[2:])
	require.Error(t, err)
	hash, err := parseHash32("0x" + testContentHash)
	require.NoError(t, err)
	require.Equal(t, byte(0xAB), hash[0])
}
