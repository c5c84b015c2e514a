package rpc

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"meritchain/core"
	"meritchain/crypto"
	"meritchain/storage"
)

const testToken = "test-token"

func testAddress(fill byte) [20]byte {
	var addr [20]byte
	for i := range addr {
		addr[i] = fill
	}
	return addr
}

func bech32Addr(addr [20]byte) string {
	return crypto.NewAddress(crypto.MeritPrefix, append([]byte(nil), addr[:]...)).String()
}

func newTestServer(t *testing.T) (*Server, *core.Node, [20]byte) {
	t.Helper()
	admin := testAddress(0x01)
	node := core.NewNode(storage.NewMemDB(), admin)
	server := NewServer(node, slog.Default())
	server.SetAuthToken(testToken)
	return server, node, admin
}

func call(t *testing.T, server *Server, token, method string, params ...interface{}) RPCResponse {
	t.Helper()
	rawParams := make([]json.RawMessage, 0, len(params))
	for _, param := range params {
		encoded, err := json.Marshal(param)
		if err != nil {
			t.Fatalf("marshal param: %v", err)
		}
		rawParams = append(rawParams, encoded)
	}
	body, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  rawParams,
	})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, req)

	var resp RPCResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v (%s)", err, recorder.Body.String())
	}
	return resp
}

func resultMap(t *testing.T, resp RPCResponse) map[string]interface{} {
	t.Helper()
	if resp.Error != nil {
		t.Fatalf("unexpected RPC error: %+v", resp.Error)
	}
	out, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("result is not an object: %#v", resp.Result)
	}
	return out
}

func TestMethodNotFound(t *testing.T) {
	server, _, _ := newTestServer(t)
	resp := call(t, server, "", "fund_unknown")
	if resp.Error == nil || resp.Error.Code != codeMethodNotFound {
		t.Fatalf("expected method-not-found, got %+v", resp.Error)
	}
}

func TestMutatingMethodsRequireAuth(t *testing.T) {
	server, _, admin := newTestServer(t)
	student := testAddress(0x03)

	resp := call(t, server, "", "fund_verifyStudent", map[string]string{
		"caller":  bech32Addr(admin),
		"student": bech32Addr(student),
	})
	if resp.Error == nil || resp.Error.Code != codeUnauthorized {
		t.Fatalf("expected unauthorized, got %+v", resp.Error)
	}

	resp = call(t, server, "wrong-token", "fund_verifyStudent", map[string]string{
		"caller":  bech32Addr(admin),
		"student": bech32Addr(student),
	})
	if resp.Error == nil || resp.Error.Code != codeUnauthorized {
		t.Fatalf("expected unauthorized with bad token, got %+v", resp.Error)
	}
}

func TestScholarshipFlowOverRPC(t *testing.T) {
	server, node, admin := newTestServer(t)
	donor := testAddress(0x02)
	student := testAddress(0x03)
	if err := node.Credit(donor, big.NewInt(10_000_000_000)); err != nil {
		t.Fatalf("credit: %v", err)
	}

	resp := call(t, server, testToken, "fund_deposit", map[string]string{
		"from":   bech32Addr(donor),
		"amount": "10000000000",
	})
	deposit := resultMap(t, resp)
	if deposit["totalFunds"] != "10000000000" {
		t.Fatalf("totalFunds = %v", deposit["totalFunds"])
	}

	resp = call(t, server, testToken, "fund_verifyStudent", map[string]string{
		"caller":  bech32Addr(admin),
		"student": bech32Addr(student),
	})
	verified := resultMap(t, resp)
	if verified["verified"] != true {
		t.Fatalf("student not verified: %v", verified)
	}

	resp = call(t, server, testToken, "fund_setMeritScore", map[string]interface{}{
		"caller":    bech32Addr(admin),
		"student":   bech32Addr(student),
		"score":     80,
		"proofHash": "0x" + string(bytes.Repeat([]byte("ab"), 32)),
	})
	scored := resultMap(t, resp)
	if scored["meritScore"] != float64(80) {
		t.Fatalf("score = %v", scored["meritScore"])
	}

	resp = call(t, server, testToken, "fund_distribute", map[string]string{
		"caller":  bech32Addr(admin),
		"student": bech32Addr(student),
	})
	distributed := resultMap(t, resp)
	if distributed["amount"] != "80000000" {
		t.Fatalf("payout = %v", distributed["amount"])
	}
	if distributed["totalFunds"] != "9920000000" {
		t.Fatalf("totalFunds = %v", distributed["totalFunds"])
	}

	resp = call(t, server, "", "fund_totalFunds")
	total := resultMap(t, resp)
	if total["totalFunds"] != "9920000000" {
		t.Fatalf("totalFunds = %v", total["totalFunds"])
	}

	resp = call(t, server, "", "fund_getStudent", map[string]string{
		"student": bech32Addr(student),
	})
	record := resultMap(t, resp)
	if record["received"] != true || record["status"] != "distributed" {
		t.Fatalf("unexpected record %v", record)
	}
}

func TestInvalidScoreSurfacesSentinel(t *testing.T) {
	server, _, admin := newTestServer(t)
	student := testAddress(0x03)

	resp := call(t, server, testToken, "fund_verifyStudent", map[string]string{
		"caller":  bech32Addr(admin),
		"student": bech32Addr(student),
	})
	resultMap(t, resp)

	resp = call(t, server, testToken, "fund_setMeritScore", map[string]interface{}{
		"caller":    bech32Addr(admin),
		"student":   bech32Addr(student),
		"score":     101,
		"proofHash": "0x" + string(bytes.Repeat([]byte("ab"), 32)),
	})
	if resp.Error == nil || resp.Error.Code != codeInvalidParams {
		t.Fatalf("expected invalid params, got %+v", resp.Error)
	}
}

func TestListEventsOverRPC(t *testing.T) {
	server, node, admin := newTestServer(t)
	donor := testAddress(0x02)
	if err := node.Credit(donor, big.NewInt(1_000)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	resultMap(t, call(t, server, testToken, "fund_deposit", map[string]string{
		"from":   bech32Addr(donor),
		"amount": "500",
	}))
	resultMap(t, call(t, server, testToken, "fund_verifyStudent", map[string]string{
		"caller":  bech32Addr(admin),
		"student": bech32Addr(testAddress(0x03)),
	}))

	resp := call(t, server, "", "fund_listEvents", map[string]interface{}{"after": 0})
	listed := resultMap(t, resp)
	events, ok := listed["events"].([]interface{})
	if !ok || len(events) != 2 {
		t.Fatalf("expected 2 events, got %#v", listed["events"])
	}
	first, _ := events[0].(map[string]interface{})
	if first["type"] != "fund.deposited" {
		t.Fatalf("first event = %v", first)
	}
}

func TestCredentialFlowOverRPC(t *testing.T) {
	server, _, admin := newTestServer(t)
	student := testAddress(0x03)

	resp := call(t, server, testToken, "credential_mint", map[string]string{
		"caller":     bech32Addr(admin),
		"to":         bech32Addr(student),
		"university": "State U",
		"studentId":  "S1",
	})
	minted := resultMap(t, resp)
	if minted["tokenId"] != float64(1) || minted["active"] != true {
		t.Fatalf("unexpected mint result %v", minted)
	}
	if minted["university"] != "State U" || minted["studentId"] != "S1" {
		t.Fatalf("unexpected mint metadata %v", minted)
	}
	if minted["enrolledAt"] == float64(0) {
		t.Fatal("enrolledAt must be set")
	}

	resp = call(t, server, "", "credential_hasActiveEnrollment", map[string]string{
		"owner": bech32Addr(student),
	})
	if resultMap(t, resp)["active"] != true {
		t.Fatal("expected active enrollment")
	}

	resp = call(t, server, testToken, "credential_updateStatus", map[string]interface{}{
		"caller":  bech32Addr(admin),
		"tokenId": 1,
		"active":  false,
	})
	if resultMap(t, resp)["active"] != false {
		t.Fatal("expected inactive credential")
	}

	resp = call(t, server, "", "credential_hasActiveEnrollment", map[string]string{
		"owner": bech32Addr(student),
	})
	if resultMap(t, resp)["active"] != false {
		t.Fatal("expected inactive enrollment")
	}

	resp = call(t, server, "", "credential_get", map[string]interface{}{"tokenId": 42})
	if resp.Error == nil || resp.Error.Message != "not_found" {
		t.Fatalf("expected not_found, got %+v", resp.Error)
	}
}

func TestForeignAddressPrefixRejected(t *testing.T) {
	server, _, _ := newTestServer(t)
	foreignBytes := testAddress(0x05)
	foreign := crypto.NewAddress(crypto.AddressPrefix("nhb"), append([]byte(nil), foreignBytes[:]...)).String()

	resp := call(t, server, testToken, "fund_getStudent", map[string]string{"student": foreign})
	if resp.Error == nil || resp.Error.Code != codeInvalidParams {
		t.Fatalf("expected invalid params for foreign prefix, got %+v", resp.Error)
	}

	resp = call(t, server, testToken, "fund_deposit", map[string]string{"from": foreign, "amount": "100"})
	if resp.Error == nil || resp.Error.Code != codeInvalidParams {
		t.Fatalf("expected invalid params for foreign donor, got %+v", resp.Error)
	}
}
