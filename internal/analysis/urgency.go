package analysis

import "github.com/rayvin/radiology-assistant/internal/model"

// ConfidenceThreshold is the reporting cutoff: predictions at or above it
// count as positive findings.
const ConfidenceThreshold = 0.65

// urgencyByPathology is the clinical triage policy, one fixed urgency per
// pathology label.  Labels follow the chest pathology vocabulary the
// inference models emit.
var urgencyByPathology = map[string]model.Urgency{
	"Atelectasis":                model.UrgencyRoutine,
	"Cardiomegaly":               model.UrgencySemiUrgent,
	"Consolidation":              model.UrgencyUrgent,
	"Edema":                      model.UrgencyEmergent,
	"Effusion":                   model.UrgencySemiUrgent,
	"Emphysema":                  model.UrgencyRoutine,
	"Fibrosis":                   model.UrgencySemiUrgent,
	"Hernia":                     model.UrgencyRoutine,
	"Infiltration":               model.UrgencySemiUrgent,
	"Mass":                       model.UrgencyUrgent,
	"Nodule":                     model.UrgencyRoutine,
	"Pleural_Thickening":         model.UrgencyRoutine,
	"Pneumonia":                  model.UrgencyUrgent,
	"Pneumothorax":               model.UrgencyEmergent,
	"Enlarged Cardiomediastinum": model.UrgencySemiUrgent,
	"Lung Opacity":               model.UrgencyRoutine,
	"Fracture":                   model.UrgencySemiUrgent,
	"Support Devices":            model.UrgencyUrgent,
}

var urgencyRank = map[model.Urgency]int{
	model.UrgencyRoutine:    1,
	model.UrgencySemiUrgent: 2,
	model.UrgencyUrgent:     3,
	model.UrgencyEmergent:   4,
}

// PositiveFindings returns exactly the subset of predictions whose
// confidence clears the reporting threshold, preserving order.
func PositiveFindings(predictions []model.Finding) []model.Finding {
	out := make([]model.Finding, 0, len(predictions))
	for _, p := range predictions {
		if p.Confidence >= ConfidenceThreshold {
			out = append(out, p)
		}
	}
	return out
}

// ClassifyUrgency derives the study triage level as the maximum urgency
// over the positive findings.  No positive findings means routine.  A
// positive finding missing from the policy table counts as semi-urgent: an
// unmapped positive still warrants review, so the floor is conservative.
func ClassifyUrgency(findings []model.Finding) model.Urgency {
	out := model.UrgencyRoutine
	for _, f := range findings {
		u, ok := urgencyByPathology[f.Label]
		if !ok {
			u = model.UrgencySemiUrgent
		}
		if urgencyRank[u] > urgencyRank[out] {
			out = u
		}
	}
	return out
}
