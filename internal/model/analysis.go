package model

import "time"

// Urgency is the triage level derived from a study's positive findings.
type Urgency string

const (
	UrgencyRoutine    Urgency = "routine"
	UrgencySemiUrgent Urgency = "semi-urgent"
	UrgencyUrgent     Urgency = "urgent"
	UrgencyEmergent   Urgency = "emergent"
)

// Finding is one predicted condition with the model's confidence in [0,1].
type Finding struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// AnalysisResult holds the structured outcome of one analysis run.  It is
// written exactly once, by the transition into the completed state, and is
// immutable afterwards; re-analysis attaches a fresh result that supersedes
// this one.
type AnalysisResult struct {
	StudyID         string    `json:"study_id"`
	Modality        string    `json:"modality"`
	TopPredictions  []Finding `json:"top_predictions"`
	PositiveFinding []Finding `json:"positive_findings"`
	Urgency         Urgency   `json:"urgency"`
	Recommendations string    `json:"recommendations"`
	ReportDegraded  bool      `json:"report_degraded"`
	ModelUsed       string    `json:"model_used"`
	CreatedAt       time.Time `json:"created_at"`
}
