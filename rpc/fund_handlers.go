package rpc

import (
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strings"

	"meritchain/native/fund"
)

type fundDepositParams struct {
	From   string `json:"from"`
	Amount string `json:"amount"`
}

type fundVerifyParams struct {
	Caller  string `json:"caller"`
	Student string `json:"student"`
}

type fundBatchVerifyParams struct {
	Caller   string   `json:"caller"`
	Students []string `json:"students"`
}

type fundSetScoreParams struct {
	Caller    string `json:"caller"`
	Student   string `json:"student"`
	Score     uint32 `json:"score"`
	ProofHash string `json:"proofHash"`
}

type fundDistributeParams struct {
	Caller  string `json:"caller"`
	Student string `json:"student"`
}

type fundEnrollmentProofParams struct {
	Caller       string `json:"caller"`
	Student      string `json:"student"`
	DocumentHash string `json:"documentHash"`
}

type fundTransferAdminParams struct {
	Caller string `json:"caller"`
	Next   string `json:"next"`
}

type fundGetStudentParams struct {
	Student string `json:"student"`
}

type fundListEventsParams struct {
	After uint64 `json:"after,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

type studentJSON struct {
	Address    string `json:"address"`
	Status     string `json:"status"`
	Verified   bool   `json:"verified"`
	HasScore   bool   `json:"hasScore"`
	MeritScore uint32 `json:"meritScore"`
	ProofHash  string `json:"proofHash,omitempty"`
	Received   bool   `json:"received"`
	ScoredAt   uint64 `json:"scoredAt,omitempty"`
}

func formatStudentJSON(record *fund.StudentRecord) studentJSON {
	if record == nil {
		return studentJSON{}
	}
	out := studentJSON{
		Address:    formatAddress(record.Address),
		Status:     record.Status().String(),
		Verified:   record.Verified,
		HasScore:   record.HasScore,
		MeritScore: record.MeritScore,
		Received:   record.Received,
		ScoredAt:   record.ScoredAt,
	}
	if record.ProofHash != ([32]byte{}) {
		out.ProofHash = formatHash32(record.ProofHash)
	}
	return out
}

func decodeSingleParam(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return errors.New("exactly one parameter object expected")
	}
	return json.Unmarshal(req.Params[0], out)
}

func parseAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, errors.New("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, errors.New("amount must be a base-10 integer")
	}
	return amount, nil
}

func (s *Server) handleFundDeposit(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params fundDepositParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	from, err := parseBech32Address(params.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.Deposit(from, amount); err != nil {
		writeFundError(w, req.ID, err)
		return
	}
	total, err := s.node.TotalFunds()
	if err != nil {
		writeFundError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{
		"donor":      params.From,
		"amount":     amount.String(),
		"totalFunds": total.String(),
	})
}

func (s *Server) handleFundVerifyStudent(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params fundVerifyParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	student, err := parseBech32Address(params.Student)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	record, err := s.node.VerifyStudent(caller, student)
	if err != nil {
		writeFundError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatStudentJSON(record))
}

func (s *Server) handleFundBatchVerifyStudents(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params fundBatchVerifyParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	students := make([][20]byte, 0, len(params.Students))
	for _, raw := range params.Students {
		student, err := parseBech32Address(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
			return
		}
		students = append(students, student)
	}
	if err := s.node.BatchVerifyStudents(caller, students); err != nil {
		writeFundError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]int{"verified": len(students)})
}

func (s *Server) handleFundSetMeritScore(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params fundSetScoreParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	student, err := parseBech32Address(params.Student)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	proofHash, err := parseHash32(params.ProofHash)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	record, err := s.node.SetMeritScore(caller, student, params.Score, proofHash)
	if err != nil {
		writeFundError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatStudentJSON(record))
}

func (s *Server) handleFundDistribute(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params fundDistributeParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	student, err := parseBech32Address(params.Student)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := s.node.Distribute(caller, student)
	if err != nil {
		writeFundError(w, req.ID, err)
		return
	}
	total, err := s.node.TotalFunds()
	if err != nil {
		writeFundError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{
		"student":    params.Student,
		"amount":     amount.String(),
		"totalFunds": total.String(),
	})
}

func (s *Server) handleFundStoreEnrollmentProof(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params fundEnrollmentProofParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	student, err := parseBech32Address(params.Student)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	documentHash, err := parseHash32(params.DocumentHash)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.StoreEnrollmentProof(caller, student, documentHash); err != nil {
		writeFundError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{
		"student":      params.Student,
		"documentHash": formatHash32(documentHash),
	})
}

func (s *Server) handleFundTransferAdmin(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params fundTransferAdminParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	next, err := parseBech32Address(params.Next)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.TransferAdmin(caller, next); err != nil {
		writeFundError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"admin": params.Next})
}

func (s *Server) handleFundGetStudent(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params fundGetStudentParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	student, err := parseBech32Address(params.Student)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	record, ok, err := s.node.GetStudent(student)
	if err != nil {
		writeFundError(w, req.ID, err)
		return
	}
	if !ok {
		record = &fund.StudentRecord{Address: student}
	}
	writeResult(w, req.ID, formatStudentJSON(record))
}

func (s *Server) handleFundTotalFunds(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "no parameters expected")
		return
	}
	total, err := s.node.TotalFunds()
	if err != nil {
		writeFundError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"totalFunds": total.String()})
}

func (s *Server) handleFundListEvents(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params fundListEventsParams
	if len(req.Params) > 0 {
		if err := decodeSingleParam(req, &params); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
			return
		}
	}
	events := s.node.Events(params.After, params.Limit)
	writeResult(w, req.ID, map[string]interface{}{
		"events":         events,
		"latestSequence": s.node.LatestSequence(),
	})
}

// writeFundError translates ledger failures to RPC error envelopes. Every
// precondition failure surfaces as invalid_params with the sentinel text so
// callers can match on it.
func writeFundError(w http.ResponseWriter, id interface{}, err error) {
	if err == nil {
		return
	}
	status := http.StatusInternalServerError
	code := codeServerError
	message := "internal_error"
	switch {
	case errors.Is(err, fund.ErrUnauthorized):
		status = http.StatusForbidden
		code = codeUnauthorized
		message = "forbidden"
	case errors.Is(err, fund.ErrInvalidAmount),
		errors.Is(err, fund.ErrNotVerified),
		errors.Is(err, fund.ErrInvalidScore),
		errors.Is(err, fund.ErrNoMeritScore),
		errors.Is(err, fund.ErrAlreadyDistributed),
		errors.Is(err, fund.ErrInsufficientFunds),
		errors.Is(err, fund.ErrScoreFrozen),
		errors.Is(err, fund.ErrInsufficientBalance):
		status = http.StatusBadRequest
		code = codeInvalidParams
		message = "invalid_params"
	}
	writeError(w, status, id, code, message, err.Error())
}
