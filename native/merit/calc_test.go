package merit

import "testing"

func TestFallbackWeights(t *testing.T) {
	cases := []struct {
		name           string
		app            Application
		wantGPA        uint32
		wantNeed       uint32
		wantVolunteer  uint32
		wantTotal      uint32
	}{
		{
			name:          "perfect applicant",
			app:           Application{GPA: 4.0, FinancialNeed: 100, VolunteerHours: 200},
			wantGPA:       50,
			wantNeed:      30,
			wantVolunteer: 20,
			wantTotal:     100,
		},
		{
			name:          "typical applicant",
			app:           Application{GPA: 3.5, FinancialNeed: 60, VolunteerHours: 120},
			wantGPA:       44,
			wantNeed:      18,
			wantVolunteer: 12,
			wantTotal:     74,
		},
		{
			name:          "volunteer hours saturate",
			app:           Application{GPA: 2.0, FinancialNeed: 0, VolunteerHours: 5_000},
			wantGPA:       25,
			wantNeed:      0,
			wantVolunteer: 20,
			wantTotal:     45,
		},
		{
			name:      "zero applicant",
			app:       Application{},
			wantTotal: 0,
		},
		{
			name:          "out of range inputs clamp",
			app:           Application{GPA: 9.9, FinancialNeed: 400, VolunteerHours: -10},
			wantGPA:       50,
			wantNeed:      30,
			wantVolunteer: 0,
			wantTotal:     80,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Fallback(tc.app)
			b := got.Breakdown
			if b.GPAScore != tc.wantGPA || b.FinancialNeedScore != tc.wantNeed || b.VolunteerScore != tc.wantVolunteer {
				t.Fatalf("breakdown = %+v, want gpa=%d need=%d volunteer=%d", b, tc.wantGPA, tc.wantNeed, tc.wantVolunteer)
			}
			if got.Score != tc.wantTotal || b.TotalScore != tc.wantTotal {
				t.Fatalf("total = %d (breakdown %d), want %d", got.Score, b.TotalScore, tc.wantTotal)
			}
			if got.Reasoning == "" {
				t.Fatal("reasoning must not be empty")
			}
		})
	}
}

func TestFallbackDeterministic(t *testing.T) {
	app := Application{GPA: 3.2, FinancialNeed: 75, VolunteerHours: 90}
	first := Fallback(app)
	second := Fallback(app)
	if first != second {
		t.Fatalf("fallback must be deterministic: %+v vs %+v", first, second)
	}
}

func TestClamp(t *testing.T) {
	cases := []struct {
		in   float64
		max  uint32
		want uint32
	}{
		{-3, 50, 0},
		{0, 50, 0},
		{43.75, 50, 44},
		{43.4, 50, 43},
		{50, 50, 50},
		{120, 50, 50},
	}
	for _, tc := range cases {
		if got := Clamp(tc.in, tc.max); got != tc.want {
			t.Fatalf("Clamp(%v, %d) = %d, want %d", tc.in, tc.max, got, tc.want)
		}
	}
}

func TestSanitize(t *testing.T) {
	in := Breakdown{GPAScore: 80, FinancialNeedScore: 31, VolunteerScore: 20, TotalScore: 131}
	got := Sanitize(in)
	want := Breakdown{GPAScore: 50, FinancialNeedScore: 30, VolunteerScore: 20, TotalScore: 100}
	if got != want {
		t.Fatalf("Sanitize = %+v, want %+v", got, want)
	}
}
