package rpc

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"paylock/core/events"
	"paylock/native/escrow"
	"paylock/observability"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
	authTokenEnv    = "PAYLOCK_RPC_TOKEN"
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeUnauthorized   = -32001
	codeInvalidParams  = -32021
	codeNotFound       = -32022
	codeForbidden      = -32023
	codeConflict       = -32024
	codeInternal       = -32025
)

// Server exposes the escrow engine over JSON-RPC 2.0. Mutating methods
// require the bearer token when one is configured; the caller identity itself
// is a request parameter, verified upstream by whatever transport fronts the
// service.
type Server struct {
	engine    *escrow.Engine
	recorder  *events.Recorder
	authToken string
}

// NewServer wires the RPC surface around an engine and an event recorder. The
// recorder may be nil when no audit log is exposed.
func NewServer(engine *escrow.Engine, recorder *events.Recorder) *Server {
	token := strings.TrimSpace(os.Getenv(authTokenEnv))
	return &Server{
		engine:    engine,
		recorder:  recorder,
		authToken: token,
	}
}

// Router builds the HTTP routes: the JSON-RPC endpoint, a health probe and
// the Prometheus scrape endpoint.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/", s.handle)
	return r
}

// Start serves the router, instrumented for tracing, until the listener fails.
func (s *Server) Start(addr string) error {
	fmt.Printf("Starting JSON-RPC server on %s\n", addr)
	return http.ListenAndServe(addr, otelhttp.NewHandler(s.Router(), "paylock.rpc"))
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	body := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	var req RPCRequest
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "parse_error", err.Error())
		return
	}
	if req.JSONRPC != jsonRPCVersion || strings.TrimSpace(req.Method) == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "invalid_request", nil)
		return
	}

	start := time.Now()
	handler, ok := s.methods()[req.Method]
	if !ok {
		observability.RPCMetrics().Observe(req.Method, "unknown", start)
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method_not_found", req.Method)
		return
	}
	handler(w, r, &req)
	observability.RPCMetrics().Observe(req.Method, "handled", start)
}

type methodHandler func(http.ResponseWriter, *http.Request, *RPCRequest)

func (s *Server) methods() map[string]methodHandler {
	return map[string]methodHandler{
		"escrow_create":              s.handleCreate,
		"escrow_sign":                s.handleSign,
		"escrow_setDeliveryTracking": s.handleSetDeliveryTracking,
		"escrow_confirmDelivery":     s.handleConfirmDelivery,
		"escrow_approveDelivery":     s.handleApproveDelivery,
		"escrow_forceApprove":        s.handleForceApprove,
		"escrow_confirmDirect":       s.handleConfirmDirect,
		"escrow_withdraw":            s.handleWithdraw,
		"escrow_withdrawFor":         s.handleWithdrawFor,
		"escrow_deactivate":          s.handleDeactivate,
		"escrow_setOracle":           s.handleSetOracle,
		"escrow_get":                 s.handleGet,
		"escrow_getStatus":           s.handleGetStatus,
		"escrow_getContentHash":      s.handleGetContentHash,
		"escrow_events":              s.handleEvents,
	}
}

// requireAuth enforces the bearer token on mutating methods. With no token
// configured the check is a no-op (development mode).
func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.authToken == "" {
		return nil
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return &RPCError{Code: codeUnauthorized, Message: "unauthorized", Data: "missing bearer token"}
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
		return &RPCError{Code: codeUnauthorized, Message: "unauthorized", Data: "invalid bearer token"}
	}
	return nil
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

// writeEngineError maps engine error kinds onto JSON-RPC error codes.
func writeEngineError(w http.ResponseWriter, req *RPCRequest, err error) {
	status := http.StatusConflict
	code := codeConflict
	message := "conflict"
	switch {
	case errors.Is(err, escrow.ErrNotFound):
		status, code, message = http.StatusNotFound, codeNotFound, "not_found"
	case errors.Is(err, escrow.ErrUnauthorized):
		status, code, message = http.StatusForbidden, codeForbidden, "forbidden"
	case errors.Is(err, escrow.ErrInvalidCounterparty),
		errors.Is(err, escrow.ErrInvalidContentHash),
		errors.Is(err, escrow.ErrInvalidOracle),
		errors.Is(err, escrow.ErrInvalidAmount),
		errors.Is(err, escrow.ErrAmountMismatch):
		status, code, message = http.StatusBadRequest, codeInvalidParams, "invalid_params"
	case errors.Is(err, escrow.ErrWrongStatus),
		errors.Is(err, escrow.ErrAlreadySet),
		errors.Is(err, escrow.ErrHashMismatch),
		errors.Is(err, escrow.ErrTimeoutNotReached),
		errors.Is(err, escrow.ErrNoFunds),
		errors.Is(err, escrow.ErrReentrant),
		errors.Is(err, escrow.ErrTransferFailed):
		// conflict defaults
	default:
		status, code, message = http.StatusInternalServerError, codeInternal, "internal_error"
	}
	observability.RPCMetrics().RecordError(req.Method, fmt.Sprintf("%d", code))
	writeError(w, status, req.ID, code, message, err.Error())
}
