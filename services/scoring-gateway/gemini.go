package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"meritchain/native/merit"
)

// MeritScorer produces a merit score for an application. Implementations may
// fail; callers fall back to the deterministic formula.
type MeritScorer interface {
	Score(ctx context.Context, app merit.Application) (*merit.Result, error)
}

var errNoScorer = errors.New("AI scorer not configured")

// GeminiScorer calls the Generative Language API and parses the structured
// JSON assessment out of the model reply.
type GeminiScorer struct {
	apiKey  string
	baseURL string
	model   string
	http    *http.Client
}

// NewGeminiScorer constructs a scorer with sane defaults. Returns nil when no
// API key is configured; the caller then relies on the fallback formula only.
func NewGeminiScorer(baseURL, model, apiKey string) *GeminiScorer {
	if strings.TrimSpace(apiKey) == "" {
		return nil
	}
	return &GeminiScorer{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		http:    &http.Client{Timeout: 20 * time.Second},
	}
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

// aiAssessment is the JSON structure the model is instructed to return.
type aiAssessment struct {
	Score     float64 `json:"score"`
	Reasoning string  `json:"reasoning"`
	Breakdown struct {
		GPAScore           float64 `json:"gpaScore"`
		FinancialNeedScore float64 `json:"financialNeedScore"`
		VolunteerScore     float64 `json:"volunteerScore"`
		TotalScore         float64 `json:"totalScore"`
	} `json:"breakdown"`
}

func (g *GeminiScorer) Score(ctx context.Context, app merit.Application) (*merit.Result, error) {
	if g == nil {
		return nil, errNoScorer
	}
	prompt := buildPrompt(app)
	payload := geminiRequest{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: prompt}}}},
	}
	buf, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", g.baseURL, g.model, g.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := g.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("gemini generateContent failed: status=%d", resp.StatusCode)
	}
	var decoded geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, err
	}
	if len(decoded.Candidates) == 0 || len(decoded.Candidates[0].Content.Parts) == 0 {
		return nil, errors.New("gemini reply contained no candidates")
	}
	return parseAssessment(decoded.Candidates[0].Content.Parts[0].Text)
}

func buildPrompt(app merit.Application) string {
	extra := app.AdditionalInfo
	if strings.TrimSpace(extra) == "" {
		extra = "None"
	}
	return fmt.Sprintf(`You are an AI scholarship assessment system. Calculate a fair merit score (0-100) for this student.

SCORING CRITERIA:
- GPA Score (0-50 points): Based on GPA out of 4.0 scale
- Financial Need Score (0-30 points): Higher need = higher score (0-100 scale)
- Volunteer Score (0-20 points): Based on volunteer hours

Student Data:
- Student ID: %s
- GPA: %.2f/4.0
- Financial Need: %.0f/100
- Volunteer Hours: %.0f
- Academic Year: %s
- Major: %s
- University: %s
- Additional Info: %s

Respond with a JSON object in this exact format:
{
  "score": <final score 0-100>,
  "reasoning": "<2-3 sentence explanation>",
  "breakdown": {
    "gpaScore": <0-50>,
    "financialNeedScore": <0-30>,
    "volunteerScore": <0-20>,
    "totalScore": <sum of above>
  }
}`,
		app.StudentID, app.GPA, app.FinancialNeed, app.VolunteerHours,
		app.AcademicYear, app.Major, app.University, extra)
}

// parseAssessment extracts the JSON assessment from a model reply, tolerating
// surrounding prose and markdown fences, and clamps every component before
// trusting it.
func parseAssessment(text string) (*merit.Result, error) {
	cleaned := strings.TrimSpace(text)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")

	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start < 0 || end <= start {
		return nil, errors.New("no JSON object in model reply")
	}

	var assessment aiAssessment
	if err := json.Unmarshal([]byte(cleaned[start:end+1]), &assessment); err != nil {
		return nil, fmt.Errorf("malformed assessment JSON: %w", err)
	}
	if strings.TrimSpace(assessment.Reasoning) == "" {
		return nil, errors.New("assessment missing reasoning")
	}

	breakdown := merit.Sanitize(merit.Breakdown{
		GPAScore:           merit.Clamp(assessment.Breakdown.GPAScore, merit.MaxGPAPoints),
		FinancialNeedScore: merit.Clamp(assessment.Breakdown.FinancialNeedScore, merit.MaxNeedPoints),
		VolunteerScore:     merit.Clamp(assessment.Breakdown.VolunteerScore, merit.MaxVolunteerPoints),
		TotalScore:         merit.Clamp(assessment.Breakdown.TotalScore, merit.MaxScore),
	})
	score := merit.Clamp(assessment.Score, merit.MaxScore)
	return &merit.Result{
		Score:     score,
		Reasoning: assessment.Reasoning,
		Breakdown: breakdown,
	}, nil
}

// proofHash commits to the applicant data and the awarded score. The same
// hash is anchored on the ledger through fund_setMeritScore.
func proofHash(app merit.Application, score uint32, timestamp int64) string {
	canonical, _ := json.Marshal(struct {
		StudentID      string  `json:"studentId"`
		Address        string  `json:"address"`
		GPA            float64 `json:"gpa"`
		FinancialNeed  float64 `json:"financialNeed"`
		VolunteerHours float64 `json:"volunteerHours"`
		Score          uint32  `json:"score"`
		Timestamp      int64   `json:"timestamp"`
	}{
		StudentID:      app.StudentID,
		Address:        app.Address,
		GPA:            app.GPA,
		FinancialNeed:  app.FinancialNeed,
		VolunteerHours: app.VolunteerHours,
		Score:          score,
		Timestamp:      timestamp,
	})
	return "0x" + hex.EncodeToString(ethcrypto.Keccak256(canonical))
}
