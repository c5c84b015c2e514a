package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"meritchain/native/merit"
)

const testJWTSecret = "gateway-test-secret"

type mockNodeClient struct {
	verifyCalls []string
	scoreCalls  []struct {
		Student string
		Score   uint32
		Proof   string
	}
	distributeCalls []struct {
		Caller  string
		Student string
	}
	enrollmentCalls  []string
	verifyErr        error
	scoreErr         error
	distributeErr    error
	distributeAmount string
	distributeTotal  string
	enrollmentActive bool
	total            string
	events           []NodeEvent
}

func (m *mockNodeClient) VerifyStudent(_ context.Context, _, student string) (*StudentState, error) {
	if m.verifyErr != nil {
		return nil, m.verifyErr
	}
	m.verifyCalls = append(m.verifyCalls, student)
	return &StudentState{Address: student, Status: "verified", Verified: true}, nil
}

func (m *mockNodeClient) SetMeritScore(_ context.Context, _, student string, score uint32, proof string) (*StudentState, error) {
	if m.scoreErr != nil {
		return nil, m.scoreErr
	}
	m.scoreCalls = append(m.scoreCalls, struct {
		Student string
		Score   uint32
		Proof   string
	}{student, score, proof})
	return &StudentState{
		Address:    student,
		Status:     "scored",
		Verified:   true,
		HasScore:   true,
		MeritScore: score,
		ProofHash:  proof,
	}, nil
}

func (m *mockNodeClient) Distribute(_ context.Context, caller, student string) (string, string, error) {
	if m.distributeErr != nil {
		return "", "", m.distributeErr
	}
	m.distributeCalls = append(m.distributeCalls, struct {
		Caller  string
		Student string
	}{caller, student})
	return m.distributeAmount, m.distributeTotal, nil
}

func (m *mockNodeClient) GetStudent(_ context.Context, student string) (*StudentState, error) {
	return &StudentState{Address: student}, nil
}

func (m *mockNodeClient) TotalFunds(context.Context) (string, error) {
	if m.total == "" {
		return "0", nil
	}
	return m.total, nil
}

func (m *mockNodeClient) ListEvents(context.Context, uint64, int) ([]NodeEvent, uint64, error) {
	latest := uint64(0)
	if n := len(m.events); n > 0 {
		latest = m.events[n-1].Sequence
	}
	return m.events, latest, nil
}

func (m *mockNodeClient) HasActiveEnrollment(_ context.Context, owner string) (bool, error) {
	m.enrollmentCalls = append(m.enrollmentCalls, owner)
	return m.enrollmentActive, nil
}

type stubScorer struct {
	result *merit.Result
	err    error
}

func (s *stubScorer) Score(context.Context, merit.Application) (*merit.Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func newTestServer(t *testing.T, node NodeClient, scorer MeritScorer) *Server {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "gateway.db"))
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	cfg := Config{
		AdminAddress:      "mrt1adminadminadminadminadminadmin",
		RequestsPerMinute: 6000,
		RequestBurst:      100,
		NodeTimeout:       5 * time.Second,
	}
	srv := NewServer(cfg, NewAuthenticator(testJWTSecret), nil, node, scorer, store, nil)
	srv.nowFn = func() time.Time { return time.Unix(1_700_000_000, 0) }
	return srv
}

func issueToken(t *testing.T, subject string) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func postJSON(t *testing.T, handler http.Handler, path, token string, payload interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func sampleApplication() merit.Application {
	return merit.Application{
		StudentID:      "STU-2024-001",
		Address:        "mrt1studentstudentstudentstudent",
		GPA:            3.5,
		FinancialNeed:  60,
		VolunteerHours: 120,
		AcademicYear:   "junior",
		Major:          "Computer Science",
		University:     "State University",
	}
}

func TestProcessApplicationRequiresToken(t *testing.T) {
	srv := newTestServer(t, &mockNodeClient{}, nil)
	rec := postJSON(t, srv.Router(), "/applications/process", "", sampleApplication(), nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestProcessApplicationFallbackScoring(t *testing.T) {
	node := &mockNodeClient{}
	srv := newTestServer(t, node, nil)
	token := issueToken(t, "operator")

	rec := postJSON(t, srv.Router(), "/applications/process", token, sampleApplication(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp applicationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	// round(3.5/4*50)=44, round(60/100*30)=18, round(min(120/200,1)*20)=12
	if resp.Score != 74 {
		t.Fatalf("expected fallback score 74, got %d", resp.Score)
	}
	if resp.Source != "fallback" {
		t.Fatalf("expected fallback source, got %q", resp.Source)
	}
	if !resp.Submitted {
		t.Fatal("expected submitted response")
	}
	if len(node.verifyCalls) != 1 || len(node.scoreCalls) != 1 {
		t.Fatalf("expected one verify and one score call, got %d/%d", len(node.verifyCalls), len(node.scoreCalls))
	}
	if node.scoreCalls[0].Score != 74 {
		t.Fatalf("expected score 74 submitted, got %d", node.scoreCalls[0].Score)
	}
	if node.scoreCalls[0].Proof != resp.ProofHash {
		t.Fatal("proof hash sent on chain must match the response")
	}
}

func TestProcessApplicationUsesAIScore(t *testing.T) {
	node := &mockNodeClient{}
	scorer := &stubScorer{result: &merit.Result{
		Score:     88,
		Reasoning: "Strong academics and significant community involvement.",
		Breakdown: merit.Breakdown{GPAScore: 46, FinancialNeedScore: 24, VolunteerScore: 18, TotalScore: 88},
	}}
	srv := newTestServer(t, node, scorer)

	rec := postJSON(t, srv.Router(), "/applications/process", issueToken(t, "operator"), sampleApplication(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp applicationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Score != 88 || resp.Source != "ai" {
		t.Fatalf("expected AI score 88, got %d via %q", resp.Score, resp.Source)
	}
}

func TestProcessApplicationFallsBackWhenAIFails(t *testing.T) {
	node := &mockNodeClient{}
	srv := newTestServer(t, node, &stubScorer{err: errors.New("model timeout")})

	rec := postJSON(t, srv.Router(), "/applications/process", issueToken(t, "operator"), sampleApplication(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp applicationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Source != "fallback" || resp.Score != 74 {
		t.Fatalf("expected fallback score 74, got %d via %q", resp.Score, resp.Source)
	}
}

func TestScoreEndpointSkipsChainWrites(t *testing.T) {
	node := &mockNodeClient{}
	srv := newTestServer(t, node, nil)

	rec := postJSON(t, srv.Router(), "/applications/score", issueToken(t, "operator"), sampleApplication(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp applicationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Submitted {
		t.Fatal("score endpoint must not submit")
	}
	if len(node.verifyCalls) != 0 || len(node.scoreCalls) != 0 {
		t.Fatal("score endpoint must not touch the node")
	}
}

func TestProcessApplicationIdempotency(t *testing.T) {
	node := &mockNodeClient{}
	srv := newTestServer(t, node, nil)
	token := issueToken(t, "operator")
	headers := map[string]string{headerIdempotencyKey: "key-1"}

	first := postJSON(t, srv.Router(), "/applications/process", token, sampleApplication(), headers)
	if first.Code != http.StatusOK {
		t.Fatalf("first request failed: %d", first.Code)
	}
	second := postJSON(t, srv.Router(), "/applications/process", token, sampleApplication(), headers)
	if second.Code != http.StatusOK {
		t.Fatalf("replay failed: %d", second.Code)
	}
	if !bytes.Equal(first.Body.Bytes(), second.Body.Bytes()) {
		t.Fatal("replay must return the cached response body")
	}
	if len(node.scoreCalls) != 1 {
		t.Fatalf("replay must not resubmit, got %d score calls", len(node.scoreCalls))
	}

	changed := sampleApplication()
	changed.GPA = 2.0
	conflict := postJSON(t, srv.Router(), "/applications/process", token, changed, headers)
	if conflict.Code != http.StatusConflict {
		t.Fatalf("expected 409 for reused key with different payload, got %d", conflict.Code)
	}
}

func TestProcessApplicationValidation(t *testing.T) {
	srv := newTestServer(t, &mockNodeClient{}, nil)
	token := issueToken(t, "operator")

	cases := []struct {
		name   string
		mutate func(*merit.Application)
	}{
		{"missing address", func(a *merit.Application) { a.Address = "" }},
		{"missing student id", func(a *merit.Application) { a.StudentID = " " }},
		{"gpa above scale", func(a *merit.Application) { a.GPA = 4.5 }},
		{"negative need", func(a *merit.Application) { a.FinancialNeed = -1 }},
		{"negative hours", func(a *merit.Application) { a.VolunteerHours = -5 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			app := sampleApplication()
			tc.mutate(&app)
			rec := postJSON(t, srv.Router(), "/applications/process", token, app, nil)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rec.Code)
			}
		})
	}
}

func TestProcessApplicationNodeFailure(t *testing.T) {
	node := &mockNodeClient{verifyErr: errors.New("node unavailable")}
	srv := newTestServer(t, node, nil)

	rec := postJSON(t, srv.Router(), "/applications/process", issueToken(t, "operator"), sampleApplication(), nil)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
}

func TestFundStatsAggregatesEvents(t *testing.T) {
	node := &mockNodeClient{
		total: "10000000000",
		events: []NodeEvent{
			{Sequence: 1, Timestamp: 100, Type: "fund.deposited", Attributes: map[string]string{"donor": "aa", "amount": "6000000000"}},
			{Sequence: 2, Timestamp: 200, Type: "fund.deposited", Attributes: map[string]string{"donor": "bb", "amount": "4080000000"}},
			{Sequence: 3, Timestamp: 300, Type: "fund.studentVerified", Attributes: map[string]string{"student": "cc"}},
			{Sequence: 4, Timestamp: 400, Type: "fund.payout", Attributes: map[string]string{"student": "cc", "amount": "80000000"}},
		},
	}
	srv := newTestServer(t, node, nil)

	req := httptest.NewRequest(http.MethodGet, "/fund/stats", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp fundStats
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.TotalFunds != "10000000000" {
		t.Fatalf("unexpected total: %q", resp.TotalFunds)
	}
	if resp.TotalDonated != "10080000000" || resp.DonationCount != 2 {
		t.Fatalf("unexpected donation stats: %s over %d", resp.TotalDonated, resp.DonationCount)
	}
	if resp.TotalDistributed != "80000000" || resp.ScholarshipCount != 1 {
		t.Fatalf("unexpected scholarship stats: %s over %d", resp.TotalDistributed, resp.ScholarshipCount)
	}
	if len(resp.RecentDonations) != 2 || resp.RecentDonations[0].Address != "bb" {
		t.Fatalf("expected newest donation first, got %+v", resp.RecentDonations)
	}
	if len(resp.RecentScholarships) != 1 || resp.RecentScholarships[0].Amount != "80000000" {
		t.Fatalf("unexpected scholarships: %+v", resp.RecentScholarships)
	}
}

func TestFundStatsCapsRecentLists(t *testing.T) {
	node := &mockNodeClient{total: "0"}
	for i := 0; i < recentStatsLimit+3; i++ {
		node.events = append(node.events, NodeEvent{
			Sequence:   uint64(i + 1),
			Timestamp:  int64(i),
			Type:       "fund.deposited",
			Attributes: map[string]string{"donor": fmt.Sprintf("d%d", i), "amount": "1"},
		})
	}
	srv := newTestServer(t, node, nil)

	req := httptest.NewRequest(http.MethodGet, "/fund/stats", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	var resp fundStats
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.DonationCount != recentStatsLimit+3 {
		t.Fatalf("count must include every event, got %d", resp.DonationCount)
	}
	if len(resp.RecentDonations) != recentStatsLimit {
		t.Fatalf("recent list must be capped at %d, got %d", recentStatsLimit, len(resp.RecentDonations))
	}
	if resp.RecentDonations[0].Address != fmt.Sprintf("d%d", recentStatsLimit+2) {
		t.Fatalf("expected newest donor first, got %q", resp.RecentDonations[0].Address)
	}
}

func TestDistributeRouteRequiresToken(t *testing.T) {
	srv := newTestServer(t, &mockNodeClient{}, nil)
	rec := postJSON(t, srv.Router(), "/fund/distribute", "", map[string]string{"student": "mrt1student"}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestDistributeRouteUsesAdminCaller(t *testing.T) {
	node := &mockNodeClient{distributeAmount: "80000000", distributeTotal: "9920000000"}
	srv := newTestServer(t, node, nil)

	rec := postJSON(t, srv.Router(), "/fund/distribute", issueToken(t, "operator"), map[string]string{"student": "mrt1student"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["amount"] != "80000000" || resp["totalFunds"] != "9920000000" {
		t.Fatalf("unexpected payout response: %+v", resp)
	}
	if len(node.distributeCalls) != 1 {
		t.Fatalf("expected one distribute call, got %d", len(node.distributeCalls))
	}
	if node.distributeCalls[0].Caller != srv.cfg.AdminAddress || node.distributeCalls[0].Student != "mrt1student" {
		t.Fatalf("unexpected call: %+v", node.distributeCalls[0])
	}
}

func TestDistributeRouteNodeFailure(t *testing.T) {
	node := &mockNodeClient{distributeErr: errors.New("fund: student already received scholarship")}
	srv := newTestServer(t, node, nil)

	rec := postJSON(t, srv.Router(), "/fund/distribute", issueToken(t, "operator"), map[string]string{"student": "mrt1student"}, nil)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
}

func TestEnrollmentRoute(t *testing.T) {
	node := &mockNodeClient{enrollmentActive: true}
	srv := newTestServer(t, node, nil)

	req := httptest.NewRequest(http.MethodGet, "/enrollments/mrt1student", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Address string `json:"address"`
		Active  bool   `json:"active"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Active || resp.Address != "mrt1student" {
		t.Fatalf("unexpected enrollment response: %+v", resp)
	}
	if len(node.enrollmentCalls) != 1 || node.enrollmentCalls[0] != "mrt1student" {
		t.Fatalf("unexpected node calls: %+v", node.enrollmentCalls)
	}
}

func TestRecentEventsPublic(t *testing.T) {
	node := &mockNodeClient{events: []NodeEvent{
		{Sequence: 1, Type: "fund.deposited", Attributes: map[string]string{"amount": "100"}},
		{Sequence: 2, Type: "fund.studentVerified", Attributes: map[string]string{}},
	}}
	srv := newTestServer(t, node, nil)

	req := httptest.NewRequest(http.MethodGet, "/events/recent?limit=10", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Events         []NodeEvent `json:"events"`
		LatestSequence uint64      `json:"latestSequence"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Events) != 2 || resp.LatestSequence != 2 {
		t.Fatalf("unexpected events payload: %+v", resp)
	}
}

func TestRecentApplicationsListsNewestFirst(t *testing.T) {
	node := &mockNodeClient{}
	srv := newTestServer(t, node, nil)
	token := issueToken(t, "operator")
	router := srv.Router()

	for i := 0; i < 3; i++ {
		app := sampleApplication()
		app.StudentID = fmt.Sprintf("STU-%d", i)
		srv.nowFn = func() time.Time { return time.Unix(1_700_000_000+int64(i*60), 0) }
		rec := postJSON(t, router, "/applications/score", token, app, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("score request %d failed: %d", i, rec.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/applications/recent?limit=2", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Applications []ApplicationRecord `json:"applications"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Applications) != 2 {
		t.Fatalf("expected 2 applications, got %d", len(resp.Applications))
	}
	if resp.Applications[0].StudentID != "STU-2" {
		t.Fatalf("expected newest first, got %q", resp.Applications[0].StudentID)
	}
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, &mockNodeClient{}, nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
