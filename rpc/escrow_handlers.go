package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"escrowd/crypto"
	"escrowd/escrow"
)

const (
	codeEscrowInvalidParams = -32021
	codeEscrowNotFound      = -32022
	codeEscrowForbidden     = -32023
	codeEscrowInvalidState  = -32024
	codeEscrowPrecondition  = -32025
	codeEscrowTransfer      = -32026
)

type escrowCreateParams struct {
	Depositor    string `json:"depositor"`
	Counterparty string `json:"counterparty"`
	Amount       string `json:"amount"`
	Description  string `json:"description"`
}

type escrowActorParams struct {
	ID     uint64 `json:"id"`
	Caller string `json:"caller"`
}

type escrowIDParams struct {
	ID uint64 `json:"id"`
}

type escrowPartyParams struct {
	Party string `json:"party"`
}

type escrowJSON struct {
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

func escrowToJSON(rec *escrow.Record) escrowJSON {
	depositor, _ := crypto.NewAddress(rec.Depositor[:])
	counterparty, _ := crypto.NewAddress(rec.Counterparty[:])
	return escrowJSON{
		ID:                    rec.ID,
		Depositor:             depositor.String(),
		Counterparty:          counterparty.String(),
		Amount:                rec.Amount.String(),
		Description:           rec.Description,
		CreatedAt:             rec.CreatedAt,
		CancelDeadline:        rec.CancelDeadline,
		Status:                rec.Status.String(),
		DepositorConfirmed:    rec.DepositorConfirmed,
		CounterpartyConfirmed: rec.CounterpartyConfirmed,
	}
}

func decodeSingleParam(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("exactly one parameter object expected")
	}
	return json.Unmarshal(req.Params[0], out)
}

func parseBech32Address(raw string) (escrow.Identity, error) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(raw))
	if err != nil {
		return escrow.Identity{}, err
	}
	return addr.Raw(), nil
}

func parsePositiveBigInt(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	if value.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	return value, nil
}

// writeEscrowError maps the engine's typed error kinds onto JSON-RPC codes so
// callers can react to the specific rejection.
func writeEscrowError(w http.ResponseWriter, id interface{}, err error) {
	switch {
	case errors.Is(err, escrow.ErrNotFound):
		writeError(w, http.StatusNotFound, id, codeEscrowNotFound, "not_found", err.Error())
	case errors.Is(err, escrow.ErrUnauthorized):
		writeError(w, http.StatusForbidden, id, codeEscrowForbidden, "unauthorized", err.Error())
	case errors.Is(err, escrow.ErrInvalidState):
		writeError(w, http.StatusConflict, id, codeEscrowInvalidState, "invalid_state", err.Error())
	case errors.Is(err, escrow.ErrPreconditionFailed):
		writeError(w, http.StatusUnprocessableEntity, id, codeEscrowPrecondition, "precondition_failed", err.Error())
	case errors.Is(err, escrow.ErrTransferFailed):
		writeError(w, http.StatusConflict, id, codeEscrowTransfer, "transfer_failed", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, id, codeServerError, "internal_error", err.Error())
	}
}

func (s *Server) handleEscrowCreate(w http.ResponseWriter, req *RPCRequest) {
	var params escrowCreateParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	depositor, err := parseBech32Address(params.Depositor)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	counterparty, err := parseBech32Address(params.Counterparty)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := parsePositiveBigInt(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	rec, err := s.node.EscrowCreate(depositor, counterparty, amount, params.Description)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, escrowToJSON(rec))
}

func (s *Server) actorCall(w http.ResponseWriter, req *RPCRequest, call func(uint64, escrow.Identity) (*escrow.Record, error)) {
	var params escrowActorParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	rec, err := call(params.ID, caller)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, escrowToJSON(rec))
}

func (s *Server) handleEscrowConfirmDepositor(w http.ResponseWriter, req *RPCRequest) {
	s.actorCall(w, req, s.node.EscrowConfirmDepositor)
}

func (s *Server) handleEscrowConfirmCounterparty(w http.ResponseWriter, req *RPCRequest) {
	s.actorCall(w, req, s.node.EscrowConfirmCounterparty)
}

func (s *Server) handleEscrowCancelDepositor(w http.ResponseWriter, req *RPCRequest) {
	s.actorCall(w, req, s.node.EscrowCancelDepositor)
}

func (s *Server) handleEscrowCancelCounterparty(w http.ResponseWriter, req *RPCRequest) {
	s.actorCall(w, req, s.node.EscrowCancelCounterparty)
}

func (s *Server) handleEscrowGet(w http.ResponseWriter, req *RPCRequest) {
	var params escrowIDParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	rec, err := s.node.EscrowGet(params.ID)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, escrowToJSON(rec))
}

func (s *Server) listCall(w http.ResponseWriter, req *RPCRequest, list func(escrow.Identity) ([]uint64, error)) {
	var params escrowPartyParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	party, err := parseBech32Address(params.Party)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	ids, err := list(party)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ids)
}

func (s *Server) handleEscrowListByDepositor(w http.ResponseWriter, req *RPCRequest) {
	s.listCall(w, req, s.node.EscrowListByDepositor)
}

func (s *Server) handleEscrowListByCounterparty(w http.ResponseWriter, req *RPCRequest) {
	s.listCall(w, req, s.node.EscrowListByCounterparty)
}

type canCancelResult struct {
	CanCancel     bool  `json:"canCancel"`
	RemainingSecs int64 `json:"remainingSecs"`
}

func (s *Server) handleEscrowCanCancel(w http.ResponseWriter, req *RPCRequest) {
	var params escrowIDParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	ok, remaining, err := s.node.EscrowCanDepositorCancel(params.ID)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, canCancelResult{CanCancel: ok, RemainingSecs: remaining})
}
