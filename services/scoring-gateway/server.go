package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"meritchain/native/fund"
	"meritchain/native/merit"
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	maxRequestBody       = 1 << 20 // 1 MiB
)

// Server is the HTTP front-end that scores applications and anchors results
// on the ledger.
type Server struct {
	cfg    Config
	auth   *Authenticator
	limits *RateLimiter
	node   NodeClient
	scorer MeritScorer
	store  *SQLiteStore
	logger *slog.Logger
	nowFn  func() time.Time
}

func NewServer(cfg Config, auth *Authenticator, limits *RateLimiter, node NodeClient, scorer MeritScorer, store *SQLiteStore, logger *slog.Logger) *Server {
	if auth == nil {
		panic("authenticator required")
	}
	if node == nil {
		panic("node client required")
	}
	if store == nil {
		panic("sqlite store required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if limits == nil {
		limits = NewRateLimiter(cfg.RequestsPerMinute, cfg.RequestBurst)
	}
	return &Server{
		cfg:    cfg,
		auth:   auth,
		limits: limits,
		node:   node,
		scorer: scorer,
		store:  store,
		logger: logger.With("component", "scoring-gateway"),
		nowFn:  time.Now,
	}
}

// Router assembles the HTTP routes with their middleware.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(s.limits.Middleware)

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/fund/stats", s.handleFundStats)
	r.Get("/events/recent", s.handleRecentEvents)
	r.Get("/enrollments/{address}", s.handleEnrollment)

	r.Group(func(protected chi.Router) {
		protected.Use(s.auth.Middleware)
		protected.Post("/applications/process", s.handleProcessApplication)
		protected.Post("/applications/score", s.handleScoreApplication)
		protected.Get("/applications/recent", s.handleRecentApplications)
		protected.Post("/fund/distribute", s.handleDistribute)
	})

	return r
}

type applicationResponse struct {
	ApplicationID string          `json:"applicationId"`
	Score         uint32          `json:"score"`
	Reasoning     string          `json:"reasoning"`
	Breakdown     merit.Breakdown `json:"breakdown"`
	ProofHash     string          `json:"proofHash"`
	Source        string          `json:"source"`
	Submitted     bool            `json:"submitted"`
	Student       *StudentState   `json:"student,omitempty"`
}

// handleProcessApplication scores the application and anchors the result on
// the ledger: the student is verified, then the score and proof hash are
// recorded through the node.
func (s *Server) handleProcessApplication(w http.ResponseWriter, r *http.Request) {
	s.handleApplication(w, r, true)
}

// handleScoreApplication scores the application without touching the ledger.
func (s *Server) handleScoreApplication(w http.ResponseWriter, r *http.Request) {
	s.handleApplication(w, r, false)
}

func (s *Server) handleApplication(w http.ResponseWriter, r *http.Request, submit bool) {
	subject := SubjectFromContext(r.Context())
	body, err := s.readRequestBody(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	key := strings.TrimSpace(r.Header.Get(headerIdempotencyKey))
	requestHash := hashRequest(r.Method, r.URL.Path, body)
	if key != "" {
		cached, cacheErr := s.store.LookupIdempotency(r.Context(), subject, key, requestHash)
		if cacheErr != nil {
			status := http.StatusInternalServerError
			if errors.Is(cacheErr, ErrIdempotencyMismatch) {
				status = http.StatusConflict
			}
			s.writeError(w, status, cacheErr)
			return
		}
		if cached != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(cached.Status)
			_, _ = w.Write(cached.Body)
			return
		}
	}

	var app merit.Application
	if err := json.Unmarshal(body, &app); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON payload: %w", err))
		return
	}
	if err := validateApplication(app); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	result, source := s.score(r.Context(), app)
	now := s.nowFn()
	proof := proofHash(app, result.Score, now.Unix())
	response := applicationResponse{
		ApplicationID: uuid.NewString(),
		Score:         result.Score,
		Reasoning:     result.Reasoning,
		Breakdown:     result.Breakdown,
		ProofHash:     proof,
		Source:        source,
		Submitted:     submit,
	}

	if submit {
		ctx, cancel := context.WithTimeout(r.Context(), s.cfg.NodeTimeout)
		defer cancel()
		if _, err := s.node.VerifyStudent(ctx, s.cfg.AdminAddress, app.Address); err != nil {
			s.writeError(w, http.StatusBadGateway, fmt.Errorf("verify student: %w", err))
			return
		}
		student, err := s.node.SetMeritScore(ctx, s.cfg.AdminAddress, app.Address, result.Score, proof)
		if err != nil {
			s.writeError(w, http.StatusBadGateway, fmt.Errorf("set merit score: %w", err))
			return
		}
		response.Student = student
	}

	record := ApplicationRecord{
		ID:             response.ApplicationID,
		StudentAddress: app.Address,
		StudentID:      app.StudentID,
		Score:          result.Score,
		Reasoning:      result.Reasoning,
		ProofHash:      proof,
		Source:         source,
		Submitted:      submit,
		CreatedAt:      now,
	}
	if err := s.store.SaveApplication(r.Context(), record); err != nil {
		s.logger.Error("persist application", "error", err, "application", record.ID)
	}

	encoded, err := json.Marshal(response)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if key != "" {
		if err := s.store.SaveIdempotency(r.Context(), subject, key, requestHash, http.StatusOK, encoded); err != nil {
			s.logger.Error("persist idempotency key", "error", err)
		}
	}
	s.audit(r.Context(), subject, r, body, http.StatusOK, encoded)
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(encoded)
}

// score runs the AI scorer and falls back to the deterministic formula on any
// failure.
func (s *Server) score(ctx context.Context, app merit.Application) (*merit.Result, string) {
	if s.scorer != nil {
		result, err := s.scorer.Score(ctx, app)
		if err == nil {
			return result, "ai"
		}
		s.logger.Warn("AI scoring failed, using fallback", "error", err, "student", app.StudentID)
	}
	result := merit.Fallback(app)
	return &result, "fallback"
}

type distributeRequest struct {
	Student string `json:"student"`
}

// handleDistribute triggers the on-ledger payout for a student using the
// configured admin identity.
func (s *Server) handleDistribute(w http.ResponseWriter, r *http.Request) {
	subject := SubjectFromContext(r.Context())
	body, err := s.readRequestBody(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	var payload distributeRequest
	if err := json.Unmarshal(body, &payload); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON payload: %w", err))
		return
	}
	if strings.TrimSpace(payload.Student) == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("student is required"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.NodeTimeout)
	defer cancel()
	amount, totalFunds, err := s.node.Distribute(ctx, s.cfg.AdminAddress, payload.Student)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, fmt.Errorf("distribute: %w", err))
		return
	}

	encoded, err := json.Marshal(map[string]string{
		"student":    payload.Student,
		"amount":     amount,
		"totalFunds": totalFunds,
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.audit(r.Context(), subject, r, body, http.StatusOK, encoded)
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(encoded)
}

// handleEnrollment reports whether the address holds an active enrollment
// credential on the ledger.
func (s *Server) handleEnrollment(w http.ResponseWriter, r *http.Request) {
	address := strings.TrimSpace(chi.URLParam(r, "address"))
	if address == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("address is required"))
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.NodeTimeout)
	defer cancel()
	active, err := s.node.HasActiveEnrollment(ctx, address)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"address": address,
		"active":  active,
	})
}

func (s *Server) handleRecentApplications(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20)
	records, err := s.store.RecentApplications(r.Context(), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"applications": records})
}

// recentStatsLimit caps the per-category activity lists on /fund/stats.
const recentStatsLimit = 5

type fundActivity struct {
	Address   string `json:"address"`
	Amount    string `json:"amount"`
	Timestamp int64  `json:"timestamp"`
}

type fundStats struct {
	TotalFunds         string         `json:"totalFunds"`
	Admin              string         `json:"admin"`
	TotalDonated       string         `json:"totalDonated"`
	DonationCount      int            `json:"donationCount"`
	TotalDistributed   string         `json:"totalDistributed"`
	ScholarshipCount   int            `json:"scholarshipCount"`
	RecentDonations    []fundActivity `json:"recentDonations"`
	RecentScholarships []fundActivity `json:"recentScholarships"`
}

func (s *Server) handleFundStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.NodeTimeout)
	defer cancel()
	total, err := s.node.TotalFunds(ctx)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err)
		return
	}
	events, _, err := s.node.ListEvents(ctx, 0, 0)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err)
		return
	}
	stats := aggregateFundStats(events)
	stats.TotalFunds = total
	stats.Admin = s.cfg.AdminAddress
	s.writeJSON(w, http.StatusOK, stats)
}

// aggregateFundStats folds deposit and payout events into donor statistics.
// Events arrive oldest first; the recent lists come back newest first.
func aggregateFundStats(events []NodeEvent) fundStats {
	donated := new(big.Int)
	distributed := new(big.Int)
	stats := fundStats{
		RecentDonations:    []fundActivity{},
		RecentScholarships: []fundActivity{},
	}
	for _, event := range events {
		amount, ok := new(big.Int).SetString(event.Attributes["amount"], 10)
		if !ok {
			continue
		}
		switch event.Type {
		case fund.EventTypeDeposited:
			donated.Add(donated, amount)
			stats.DonationCount++
			stats.RecentDonations = prependRecent(stats.RecentDonations, fundActivity{
				Address:   event.Attributes["donor"],
				Amount:    amount.String(),
				Timestamp: event.Timestamp,
			})
		case fund.EventTypePayout:
			distributed.Add(distributed, amount)
			stats.ScholarshipCount++
			stats.RecentScholarships = prependRecent(stats.RecentScholarships, fundActivity{
				Address:   event.Attributes["student"],
				Amount:    amount.String(),
				Timestamp: event.Timestamp,
			})
		}
	}
	stats.TotalDonated = donated.String()
	stats.TotalDistributed = distributed.String()
	return stats
}

func prependRecent(items []fundActivity, item fundActivity) []fundActivity {
	items = append([]fundActivity{item}, items...)
	if len(items) > recentStatsLimit {
		items = items[:recentStatsLimit]
	}
	return items
}

func (s *Server) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	after := uint64(queryInt(r, "after", 0))
	limit := queryInt(r, "limit", 50)
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.NodeTimeout)
	defer cancel()
	events, latest, err := s.node.ListEvents(ctx, after, limit)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err)
		return
	}
	if events == nil {
		events = []NodeEvent{}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"events":         events,
		"latestSequence": latest,
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func validateApplication(app merit.Application) error {
	if strings.TrimSpace(app.Address) == "" {
		return errors.New("address is required")
	}
	if strings.TrimSpace(app.StudentID) == "" {
		return errors.New("studentId is required")
	}
	if app.GPA < 0 || app.GPA > 4.0 {
		return errors.New("gpa must be between 0 and 4.0")
	}
	if app.FinancialNeed < 0 || app.FinancialNeed > 100 {
		return errors.New("financialNeed must be between 0 and 100")
	}
	if app.VolunteerHours < 0 {
		return errors.New("volunteerHours must not be negative")
	}
	return nil
}

func (s *Server) readRequestBody(r *http.Request) ([]byte, error) {
	reader := http.MaxBytesReader(nil, r.Body, maxRequestBody)
	defer func() {
		_ = reader.Close()
	}()
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, errors.New("request body required")
	}
	return body, nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) audit(ctx context.Context, subject string, r *http.Request, requestBody []byte, status int, responseBody []byte) {
	if err := s.store.Audit(ctx, subject, r.Method, r.URL.Path, requestBody, status, responseBody); err != nil {
		s.logger.Error("audit write failed", "error", err)
	}
}

func hashRequest(method, path string, body []byte) string {
	sum := sha256.New()
	sum.Write([]byte(method))
	sum.Write([]byte{0})
	sum.Write([]byte(path))
	sum.Write([]byte{0})
	sum.Write(body)
	return hex.EncodeToString(sum.Sum(nil))
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val < 0 {
		return fallback
	}
	return val
}
