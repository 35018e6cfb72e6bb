package rpc

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"paylock/crypto"
	"paylock/native/escrow"
)

type createParams struct {
	Caller       string `json:"caller"`
	Counterparty string `json:"counterparty"`
	ContentHash  string `json:"contentHash"`
	Amount       string `json:"amount"`
	Deposit      string `json:"deposit"`
}

type idParams struct {
	ID uint64 `json:"id"`
}

type actorParams struct {
	ID     uint64 `json:"id"`
	Caller string `json:"caller"`
}

type secretParams struct {
	ID     uint64 `json:"id"`
	Caller string `json:"caller"`
	Secret string `json:"secret"`
}

type withdrawParams struct {
	Caller string `json:"caller"`
}

type oracleParams struct {
	Oracle string `json:"oracle"`
}

type contractJSON struct {
	ID               uint64 `json:"id"`
	Creator          string `json:"creator"`
	Counterparty     string `json:"counterparty"`
	Amount           string `json:"amount"`
	ContentHash      string `json:"contentHash"`
	Status           string `json:"status"`
	DeliveryRequired bool   `json:"deliveryRequired"`
	TrackingHash     string `json:"trackingHash,omitempty"`
	ConfirmedAt      int64  `json:"oracleConfirmedAt,omitempty"`
	CreatedAt        int64  `json:"createdAt"`
}

func contractToJSON(c *escrow.ManagedContract) contractJSON {
	out := contractJSON{
		ID:               c.ID,
		Creator:          crypto.NewAddress(crypto.PayPrefix, c.Creator[:]).String(),
		Counterparty:     crypto.NewAddress(crypto.PayPrefix, c.Counterparty[:]).String(),
		Amount:           c.Amount.String(),
		ContentHash:      hex.EncodeToString(c.ContentHash[:]),
		Status:           c.Status.String(),
		DeliveryRequired: c.DeliveryRequired,
		ConfirmedAt:      c.OracleConfirmedAt,
		CreatedAt:        c.CreatedAt,
	}
	if c.DeliveryTrackingHash != ([32]byte{}) {
		out.TrackingHash = hex.EncodeToString(c.DeliveryTrackingHash[:])
	}
	return out
}

func decodeParams(req *RPCRequest, dst interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("exactly one parameter object expected")
	}
	return json.Unmarshal(req.Params[0], dst)
}

func parseAddress(raw string) ([20]byte, error) {
	var out [20]byte
	addr, err := crypto.DecodeAddress(strings.TrimSpace(raw))
	if err != nil {
		return out, err
	}
	copy(out[:], addr.Bytes())
	return out, nil
}

func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid decimal amount: %s", raw)
	}
	return amount, nil
}

func parseHash32(raw string) ([32]byte, error) {
	var out [32]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return out, fmt.Errorf("invalid hex hash: %w", err)
	}
	if len(decoded) != 32 {
		return out, fmt.Errorf("hash must be 32 bytes, got %d", len(decoded))
	}
	copy(out[:], decoded)
	return out, nil
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params createParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	creator, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	counterparty, err := parseAddress(params.Counterparty)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	contentHash, err := parseHash32(params.ContentHash)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	deposit, err := parseAmount(params.Deposit)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	contract, err := s.engine.Create(creator, counterparty, contentHash, amount, deposit)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	writeResult(w, req.ID, contractToJSON(contract))
}

func (s *Server) actorCall(w http.ResponseWriter, r *http.Request, req *RPCRequest, call func(uint64, [20]byte) error) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params actorParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := call(params.ID, caller); err != nil {
		writeEngineError(w, req, err)
		return
	}
	status, err := s.engine.Status(params.ID)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"status": status.String()})
}

func (s *Server) secretCall(w http.ResponseWriter, r *http.Request, req *RPCRequest, call func(uint64, [20]byte, []byte) error) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params secretParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	secret := strings.TrimSpace(params.Secret)
	if secret == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "secret required")
		return
	}
	if err := call(params.ID, caller, []byte(secret)); err != nil {
		writeEngineError(w, req, err)
		return
	}
	status, err := s.engine.Status(params.ID)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"status": status.String()})
}

func (s *Server) handleSign(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.actorCall(w, r, req, s.engine.Sign)
}

func (s *Server) handleSetDeliveryTracking(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.secretCall(w, r, req, s.engine.SetDeliveryTracking)
}

func (s *Server) handleConfirmDelivery(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.secretCall(w, r, req, s.engine.ConfirmDeliveryByOracle)
}

func (s *Server) handleApproveDelivery(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.actorCall(w, r, req, s.engine.ApproveDeliveryAsCreator)
}

func (s *Server) handleForceApprove(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.actorCall(w, r, req, s.engine.ForceApproveAfterTimeout)
}

func (s *Server) handleConfirmDirect(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.actorCall(w, r, req, s.engine.ConfirmCompletionDirect)
}

func (s *Server) handleDeactivate(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.actorCall(w, r, req, s.engine.Deactivate)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params withdrawParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := s.engine.Withdraw(caller)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"amount": amount.String()})
}

func (s *Server) handleWithdrawFor(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params actorParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := s.engine.WithdrawFor(params.ID, caller)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"amount": amount.String()})
}

func (s *Server) handleSetOracle(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params oracleParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	oracle, err := parseAddress(params.Oracle)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.engine.SetOracle(oracle); err != nil {
		writeEngineError(w, req, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params idParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	contract, err := s.engine.Get(params.ID)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	writeResult(w, req.ID, contractToJSON(contract))
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params idParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	status, err := s.engine.Status(params.ID)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"status": status.String()})
}

func (s *Server) handleGetContentHash(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params idParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	hash, err := s.engine.ContentHash(params.ID)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"contentHash": hex.EncodeToString(hash[:])})
}

func (s *Server) handleEvents(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if s.recorder == nil {
		writeResult(w, req.ID, []struct{}{})
		return
	}
	writeResult(w, req.ID, s.recorder.Events())
}
