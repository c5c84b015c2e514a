package rpc

import (
	"errors"
	"net/http"

	"meritchain/native/credential"
)

type credentialMintParams struct {
	Caller     string `json:"caller"`
	To         string `json:"to"`
	University string `json:"university"`
	StudentID  string `json:"studentId"`
}

type credentialGetParams struct {
	TokenID uint64 `json:"tokenId"`
}

type credentialUpdateStatusParams struct {
	Caller  string `json:"caller"`
	TokenID uint64 `json:"tokenId"`
	Active  bool   `json:"active"`
}

type credentialOwnerParams struct {
	Owner string `json:"owner"`
}

type enrollmentJSON struct {
	TokenID    uint64 `json:"tokenId"`
	Owner      string `json:"owner"`
	University string `json:"university"`
	StudentID  string `json:"studentId"`
	EnrolledAt uint64 `json:"enrolledAt"`
	Active     bool   `json:"active"`
}

func formatEnrollmentJSON(record *credential.Enrollment) enrollmentJSON {
	if record == nil {
		return enrollmentJSON{}
	}
	return enrollmentJSON{
		TokenID:    record.TokenID,
		Owner:      formatAddress(record.Owner),
		University: record.University,
		StudentID:  record.StudentID,
		EnrolledAt: record.EnrolledAt,
		Active:     record.Active,
	}
}

func (s *Server) handleCredentialMint(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params credentialMintParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	to, err := parseBech32Address(params.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	tokenID, err := s.node.MintCredential(caller, to, params.University, params.StudentID)
	if err != nil {
		writeCredentialError(w, req.ID, err)
		return
	}
	record, err := s.node.GetCredential(tokenID)
	if err != nil {
		writeCredentialError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatEnrollmentJSON(record))
}

func (s *Server) handleCredentialGet(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params credentialGetParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	record, err := s.node.GetCredential(params.TokenID)
	if err != nil {
		writeCredentialError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatEnrollmentJSON(record))
}

func (s *Server) handleCredentialUpdateStatus(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params credentialUpdateStatusParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	record, err := s.node.UpdateCredentialStatus(caller, params.TokenID, params.Active)
	if err != nil {
		writeCredentialError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatEnrollmentJSON(record))
}

func (s *Server) handleCredentialHasActiveEnrollment(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params credentialOwnerParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	owner, err := parseBech32Address(params.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	active, err := s.node.HasActiveEnrollment(owner)
	if err != nil {
		writeCredentialError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"active": active})
}

func writeCredentialError(w http.ResponseWriter, id interface{}, err error) {
	if err == nil {
		return
	}
	status := http.StatusInternalServerError
	code := codeServerError
	message := "internal_error"
	switch {
	case errors.Is(err, credential.ErrUnauthorized):
		status = http.StatusForbidden
		code = codeUnauthorized
		message = "forbidden"
	case errors.Is(err, credential.ErrNotFound):
		status = http.StatusNotFound
		code = codeInvalidParams
		message = "not_found"
	case errors.Is(err, credential.ErrNonTransferable):
		status = http.StatusBadRequest
		code = codeInvalidParams
		message = "invalid_params"
	}
	writeError(w, status, id, code, message, err.Error())
}
