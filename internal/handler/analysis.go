package handler

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/rayvin/radiology-assistant/internal/analysis"
	"github.com/rayvin/radiology-assistant/internal/middleware"
	"github.com/rayvin/radiology-assistant/internal/model"
)

// Analyzer runs the analysis pipeline for one study.
type Analyzer interface {
	Analyze(ctx context.Context, studyID string) (model.AnalysisResult, error)
}

// AnalysisHandler serves the analyze endpoints.  Pipeline failures are part
// of the domain: the study lands in the failed state and the response says
// so with a 200, never a 500.
type AnalysisHandler struct {
	Studies      *StudyHandler
	Orchestrator Analyzer
}

func NewAnalysisHandler(studies *StudyHandler, orch Analyzer) *AnalysisHandler {
	return &AnalysisHandler{Studies: studies, Orchestrator: orch}
}

// Analyze uploads a new study and runs the pipeline on it immediately.
func (h *AnalysisHandler) Analyze(c echo.Context) error {
	studyID, _, ok := h.Studies.receiveStudy(c)
	if !ok {
		return nil // response already written
	}
	return h.run(c, studyID)
}

// AnalyzeExisting re-runs the pipeline on a study that was uploaded (or
// analyzed) earlier.  A study currently analyzing is rejected with 409; a
// completed or failed study gets a replacement result.
func (h *AnalysisHandler) AnalyzeExisting(c echo.Context) error {
	return h.run(c, c.Param("study_id"))
}

func (h *AnalysisHandler) run(c echo.Context, studyID string) error {
	result, err := h.Orchestrator.Analyze(c.Request().Context(), studyID)
	if err != nil {
		var pipeErr *analysis.PipelineError
		switch {
		case errors.Is(err, analysis.ErrStudyNotFound):
			return detail(c, http.StatusNotFound, "study not found")
		case errors.Is(err, analysis.ErrAnalysisInProgress):
			return detail(c, http.StatusConflict, "analysis already in progress for this study")
		case errors.As(err, &pipeErr):
			return c.JSON(http.StatusOK, echo.Map{
				"study_id": studyID,
				"status":   model.StudyFailed,
				"stage":    pipeErr.Stage,
				"detail":   pipeErr.Err.Error(),
			})
		default:
			log.Printf("analyze %s: %v", studyID, err)
			return detail(c, http.StatusInternalServerError, "analysis failed unexpectedly")
		}
	}

	return c.JSON(http.StatusOK, echo.Map{
		"study_id":          studyID,
		"status":            model.StudyCompleted,
		"modality":          result.Modality,
		"model_used":        result.ModelUsed,
		"top_predictions":   result.TopPredictions,
		"positive_findings": result.PositiveFinding,
		"urgency":           result.Urgency,
		"recommendations":   result.Recommendations,
		"report_degraded":   result.ReportDegraded,
		"analyzed_by":       middleware.Username(c),
		"analyzed_at":       result.CreatedAt,
	})
}
