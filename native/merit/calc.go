// Package merit computes deterministic scholarship merit scores. It backs the
// scoring gateway when the AI scorer is unavailable or returns output that
// fails validation, and clamps every externally supplied score before it is
// trusted.
package merit

import (
	"fmt"
	"math"
)

const (
	// MaxScore is the upper bound for a total merit score.
	MaxScore = 100
	// MaxGPAPoints is the weight of the academic component.
	MaxGPAPoints = 50
	// MaxNeedPoints is the weight of the financial-need component.
	MaxNeedPoints = 30
	// MaxVolunteerPoints is the weight of the community-service component.
	MaxVolunteerPoints = 20

	gpaScale = 4.0
	// volunteerSaturationHours is the service level past which no further
	// points accrue.
	volunteerSaturationHours = 200.0
)

// Application carries the applicant attributes that feed scoring.
type Application struct {
	StudentID      string  `json:"studentId"`
	Address        string  `json:"address"`
	GPA            float64 `json:"gpa"`
	FinancialNeed  float64 `json:"financialNeed"`
	VolunteerHours float64 `json:"volunteerHours"`
	AcademicYear   string  `json:"academicYear"`
	Major          string  `json:"major"`
	University     string  `json:"university"`
	AdditionalInfo string  `json:"additionalInfo,omitempty"`
}

// Breakdown itemizes how a total score was assembled. Each component is
// clamped to its weight and the total to MaxScore.
type Breakdown struct {
	GPAScore           uint32 `json:"gpaScore"`
	FinancialNeedScore uint32 `json:"financialNeedScore"`
	VolunteerScore     uint32 `json:"volunteerScore"`
	TotalScore         uint32 `json:"totalScore"`
}

// Result is a scored application with its human-readable rationale.
type Result struct {
	Score     uint32    `json:"score"`
	Reasoning string    `json:"reasoning"`
	Breakdown Breakdown `json:"breakdown"`
}

// Clamp bounds v to [0, max].
func Clamp(v float64, max uint32) uint32 {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	rounded := math.Round(v)
	if rounded >= float64(max) {
		return max
	}
	return uint32(rounded)
}

// Fallback computes the deterministic score for an application. The weights
// are fixed: academics up to 50 points, financial need up to 30, volunteer
// service up to 20 saturating at 200 hours.
func Fallback(app Application) Result {
	gpaScore := Clamp(app.GPA/gpaScale*MaxGPAPoints, MaxGPAPoints)
	needScore := Clamp(app.FinancialNeed/100*MaxNeedPoints, MaxNeedPoints)
	volunteerScore := Clamp(math.Min(app.VolunteerHours/volunteerSaturationHours, 1)*MaxVolunteerPoints, MaxVolunteerPoints)
	total := gpaScore + needScore + volunteerScore
	if total > MaxScore {
		total = MaxScore
	}

	reasoning := fmt.Sprintf(
		"Merit score calculated using academic and financial criteria: GPA score: %d/%d (%.1f/4.0), Financial need: %d/%d (%.0f%% need), Volunteer service: %d/%d (%.0f hours). %s",
		gpaScore, MaxGPAPoints, app.GPA,
		needScore, MaxNeedPoints, app.FinancialNeed,
		volunteerScore, MaxVolunteerPoints, app.VolunteerHours,
		tier(total),
	)

	return Result{
		Score:     total,
		Reasoning: reasoning,
		Breakdown: Breakdown{
			GPAScore:           gpaScore,
			FinancialNeedScore: needScore,
			VolunteerScore:     volunteerScore,
			TotalScore:         total,
		},
	}
}

// Sanitize bounds an externally produced breakdown so no component exceeds
// its weight and the total stays within [0, MaxScore].
func Sanitize(b Breakdown) Breakdown {
	out := Breakdown{
		GPAScore:           minUint32(b.GPAScore, MaxGPAPoints),
		FinancialNeedScore: minUint32(b.FinancialNeedScore, MaxNeedPoints),
		VolunteerScore:     minUint32(b.VolunteerScore, MaxVolunteerPoints),
	}
	out.TotalScore = minUint32(b.TotalScore, MaxScore)
	return out
}

func minUint32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

func tier(total uint32) string {
	switch {
	case total >= 80:
		return "Excellent candidate with strong academic performance and significant need/service."
	case total >= 60:
		return "Good candidate with solid qualifications for scholarship support."
	default:
		return "Potential candidate who could benefit from scholarship assistance."
	}
}
