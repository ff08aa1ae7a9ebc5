package tuner

import (
	"fmt"
	"time"

	"github.com/tutor-agent/backend/internal/scoring"
	"github.com/tutor-agent/backend/internal/storage/sqlite"
)

// Report summarizes one feedback window for operators.
type Report struct {
	WindowStart       time.Time
	WindowEnd         time.Time
	TotalInteractions int
	DirectAnswers     int
	DegradedAnswers   int
	PositiveCount     int
	NeutralCount      int
	NegativeCount     int
	AvgUnderstanding  float64
	AvgSatisfaction   float64
	AvgFinalScore     float64
	PositiveRate      float64
	Weights           scoring.Weights
}

// BuildReport aggregates the feedback window into a Report.
func BuildReport(window []sqlite.InteractionFeedback, windowStart, windowEnd time.Time, weights scoring.Weights) *Report {
	report := &Report{
		WindowStart:       windowStart,
		WindowEnd:         windowEnd,
		TotalInteractions: len(window),
		Weights:           weights,
	}

	if len(window) == 0 {
		return report
	}

	var totalUnderstanding, totalSatisfaction, totalFinal float64

	for _, pair := range window {
		if pair.Interaction.DirectAnswer {
			report.DirectAnswers++
		}
		if pair.Interaction.Degraded {
			report.DegradedAnswers++
		}

		switch {
		case pair.Feedback.Reaction == "positive":
			report.PositiveCount++
		case pair.Feedback.Reaction == "neutral":
			report.NeutralCount++
		default:
			report.NegativeCount++
		}

		totalUnderstanding += pair.Feedback.Understanding
		totalSatisfaction += pair.Feedback.Satisfaction
		totalFinal += pair.Interaction.FinalScore
	}

	n := float64(len(window))
	report.AvgUnderstanding = totalUnderstanding / n
	report.AvgSatisfaction = totalSatisfaction / n
	report.AvgFinalScore = totalFinal / n
	report.PositiveRate = float64(report.PositiveCount+report.NeutralCount) / n * 100

	return report
}

// Format renders the report as operator-readable text.
func (r *Report) Format() string {
	return fmt.Sprintf(`Feedback Tuning Report
======================
Window: %s to %s
Total Interactions: %d
Direct Answers: %d
Degraded Answers: %d

Reactions:
- Positive: %d
- Neutral: %d
- Negative: %d
- Positive Rate: %.1f%%

Average Scores:
- Understanding: %.2f
- Satisfaction: %.2f
- Final Score: %.3f

Active Weights:
- Base: %.3f
- Personal: %.3f
- Global: %.3f
- Context: %.3f
`,
		r.WindowStart.Format(time.RFC3339), r.WindowEnd.Format(time.RFC3339),
		r.TotalInteractions,
		r.DirectAnswers,
		r.DegradedAnswers,
		r.PositiveCount, r.NeutralCount, r.NegativeCount,
		r.PositiveRate,
		r.AvgUnderstanding,
		r.AvgSatisfaction,
		r.AvgFinalScore,
		r.Weights.Base, r.Weights.Personal, r.Weights.Global, r.Weights.Context,
	)
}
