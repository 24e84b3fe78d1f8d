package rpc

import (
	"net/http"

	"escrowd/crypto"
	"escrowd/escrow"
)

type adminFeeParams struct {
	Caller string `json:"caller"`
	FeeBps uint32 `json:"feeBps"`
}

type adminWindowParams struct {
	Caller           string `json:"caller"`
	CancelWindowSecs int64  `json:"cancelWindowSecs"`
}

type adminTransferParams struct {
	Caller       string `json:"caller"`
	NewAuthority string `json:"newAuthority"`
}

type adminCallerParams struct {
	Caller string `json:"caller"`
}

type bankMintParams struct {
	Caller string `json:"caller"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type bankBalanceParams struct {
	Address string `json:"address"`
}

type paramsResult struct {
	Version          uint64 `json:"version"`
	FeeBps           uint32 `json:"feeBps"`
	CancelWindowSecs int64  `json:"cancelWindowSecs"`
	Authority        string `json:"authority"`
}

func paramsToResult(p escrow.Params) paramsResult {
	authority, _ := crypto.NewAddress(p.Authority[:])
	return paramsResult{
		Version:          p.Version,
		FeeBps:           p.FeeBps,
		CancelWindowSecs: p.CancelWindowSecs,
		Authority:        authority.String(),
	}
}

func (s *Server) handleAdminSetFeeBps(w http.ResponseWriter, req *RPCRequest) {
	var params adminFeeParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	updated, err := s.node.AdminSetFeeBps(caller, params.FeeBps)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, paramsToResult(updated))
}

func (s *Server) handleAdminSetCancelWindow(w http.ResponseWriter, req *RPCRequest) {
	var params adminWindowParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	updated, err := s.node.AdminSetCancelWindow(caller, params.CancelWindowSecs)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, paramsToResult(updated))
}

func (s *Server) handleAdminTransferAuthority(w http.ResponseWriter, req *RPCRequest) {
	var params adminTransferParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	next, err := parseBech32Address(params.NewAuthority)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	updated, err := s.node.AdminTransferAuthority(caller, next)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, paramsToResult(updated))
}

type withdrawResult struct {
	Amount string `json:"amount"`
}

func (s *Server) handleAdminWithdrawFees(w http.ResponseWriter, req *RPCRequest) {
	var params adminCallerParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := s.node.AdminWithdrawFees(caller)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, withdrawResult{Amount: amount.String()})
}

type balanceResult struct {
	Balance string `json:"balance"`
}

func (s *Server) handleAdminFeeBalance(w http.ResponseWriter, req *RPCRequest) {
	balance, err := s.node.FeeBalance()
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, balanceResult{Balance: balance.String()})
}

func (s *Server) handleBankMint(w http.ResponseWriter, req *RPCRequest) {
	var params bankMintParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	to, err := parseBech32Address(params.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := parsePositiveBigInt(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.BankMint(caller, to, amount); err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	balance, err := s.node.BankBalance(to)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, balanceResult{Balance: balance.String()})
}

func (s *Server) handleBankBalance(w http.ResponseWriter, req *RPCRequest) {
	var params bankBalanceParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	addr, err := parseBech32Address(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	balance, err := s.node.BankBalance(addr)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, balanceResult{Balance: balance.String()})
}
