package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// StudentState mirrors the fund_getStudent RPC result.
type StudentState struct {
	Address    string `json:"address"`
	Status     string `json:"status"`
	Verified   bool   `json:"verified"`
	HasScore   bool   `json:"hasScore"`
	MeritScore uint32 `json:"meritScore"`
	ProofHash  string `json:"proofHash,omitempty"`
	Received   bool   `json:"received"`
	ScoredAt   uint64 `json:"scoredAt,omitempty"`
}

// NodeEvent mirrors one entry of the fund_listEvents RPC result.
type NodeEvent struct {
	Sequence   uint64            `json:"sequence"`
	Timestamp  int64             `json:"timestamp"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// NodeClient is a thin JSON-RPC client used by the gateway.
type NodeClient interface {
	VerifyStudent(ctx context.Context, caller, student string) (*StudentState, error)
	SetMeritScore(ctx context.Context, caller, student string, score uint32, proofHash string) (*StudentState, error)
	Distribute(ctx context.Context, caller, student string) (amount, totalFunds string, err error)
	GetStudent(ctx context.Context, student string) (*StudentState, error)
	TotalFunds(ctx context.Context) (string, error)
	ListEvents(ctx context.Context, after uint64, limit int) ([]NodeEvent, uint64, error)
	HasActiveEnrollment(ctx context.Context, owner string) (bool, error)
}

// RPCNodeClient implements NodeClient against the meritd JSON-RPC server.
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

func (c *RPCNodeClient) VerifyStudent(ctx context.Context, caller, student string) (*StudentState, error) {
	params := map[string]string{"caller": caller, "student": student}
	var result StudentState
	if err := c.call(ctx, "fund_verifyStudent", []interface{}{params}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *RPCNodeClient) SetMeritScore(ctx context.Context, caller, student string, score uint32, proofHash string) (*StudentState, error) {
	params := map[string]interface{}{
		"caller":    caller,
		"student":   student,
		"score":     score,
		"proofHash": proofHash,
	}
	var result StudentState
	if err := c.call(ctx, "fund_setMeritScore", []interface{}{params}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *RPCNodeClient) Distribute(ctx context.Context, caller, student string) (string, string, error) {
	params := map[string]string{"caller": caller, "student": student}
	var result struct {
		Amount     string `json:"amount"`
		TotalFunds string `json:"totalFunds"`
	}
	if err := c.call(ctx, "fund_distribute", []interface{}{params}, &result); err != nil {
		return "", "", err
	}
	return result.Amount, result.TotalFunds, nil
}

func (c *RPCNodeClient) GetStudent(ctx context.Context, student string) (*StudentState, error) {
	var result StudentState
	if err := c.call(ctx, "fund_getStudent", []interface{}{map[string]string{"student": student}}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *RPCNodeClient) TotalFunds(ctx context.Context) (string, error) {
	var result struct {
		TotalFunds string `json:"totalFunds"`
	}
	if err := c.call(ctx, "fund_totalFunds", []interface{}{}, &result); err != nil {
		return "", err
	}
	return result.TotalFunds, nil
}

func (c *RPCNodeClient) ListEvents(ctx context.Context, after uint64, limit int) ([]NodeEvent, uint64, error) {
	params := map[string]interface{}{"after": after}
	if limit > 0 {
		params["limit"] = limit
	}
	var result struct {
		Events         []NodeEvent `json:"events"`
		LatestSequence uint64      `json:"latestSequence"`
	}
	if err := c.call(ctx, "fund_listEvents", []interface{}{params}, &result); err != nil {
		return nil, 0, err
	}
	return result.Events, result.LatestSequence, nil
}

func (c *RPCNodeClient) HasActiveEnrollment(ctx context.Context, owner string) (bool, error) {
	var result struct {
		Active bool `json:"active"`
	}
	if err := c.call(ctx, "credential_hasActiveEnrollment", []interface{}{map[string]string{"owner": owner}}, &result); err != nil {
		return false, err
	}
	return result.Active, nil
}

func (c *RPCNodeClient) call(ctx context.Context, method string, params interface{}, out interface{}) error {
	id := c.nextID.Add(1)
	bodyStruct := jsonRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      id,
	}
	buf, err := json.Marshal(bodyStruct)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(c.authToken) != "" {
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
		return fmt.Errorf("node rpc %s: decode response: %w", method, err)
	}
	if decoded.Error != nil {
		return fmt.Errorf("node rpc %s: %s (%s)", method, decoded.Error.Message, strings.TrimSpace(string(decoded.Error.Data)))
	}
	if out != nil {
		if err := json.Unmarshal(decoded.Result, out); err != nil {
			return fmt.Errorf("node rpc %s: decode result: %w", method, err)
		}
	}
	return nil
}
