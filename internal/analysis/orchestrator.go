// Package analysis drives a study through its lifecycle: it owns the
// uploaded->analyzing->completed/failed transitions and is the only writer
// of analysis results.  The inference and report collaborators are external
// services reached through narrow interfaces.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rayvin/radiology-assistant/internal/dicomio"
	"github.com/rayvin/radiology-assistant/internal/inference"
	"github.com/rayvin/radiology-assistant/internal/model"
	"github.com/rayvin/radiology-assistant/internal/repository"
)

// Typed failures the handlers branch on.
var (
	// ErrStudyNotFound means the study id does not exist.
	ErrStudyNotFound = errors.New("study not found")
	// ErrAnalysisInProgress means another analysis holds the study; callers
	// may poll and retry rather than queue.
	ErrAnalysisInProgress = errors.New("analysis already in progress")
)

// Pipeline stages, for error reporting.
const (
	StageMetadata  = "metadata"
	StageInference = "inference"
)

// PipelineError is an analysis failure attributable to a pipeline stage.
// The study ends in the failed state and the error travels to the caller as
// a typed value rather than a generic 500.
type PipelineError struct {
	Stage string
	Err   error
}

func (e *PipelineError) Error() string { return fmt.Sprintf("analysis %s: %v", e.Stage, e.Err) }
func (e *PipelineError) Unwrap() error { return e.Err }

// StudyStore is the slice of the study repository the orchestrator needs.
// BeginAnalysis must be an atomic compare-and-set on study state.
type StudyStore interface {
	Get(ctx context.Context, id string) (model.Study, error)
	BeginAnalysis(ctx context.Context, id string) error
	SetModality(ctx context.Context, id, modality string) error
	MarkFailed(ctx context.Context, id string) error
	Complete(ctx context.Context, id string, result model.AnalysisResult) error
}

// Inferencer is the external inference collaborator.
type Inferencer interface {
	Analyze(ctx context.Context, studyID, modality string, files []string) (inference.Result, error)
}

// Reporter is the external report generation collaborator.
type Reporter interface {
	Generate(ctx context.Context, modality string, findings []model.Finding, urgency model.Urgency) (string, error)
}

// MetadataFunc extracts routing metadata from a study's files.  The default
// is dicomio.ExtractStudyMetadata; tests substitute their own.
type MetadataFunc func(paths []string) (dicomio.StudyMetadata, error)

// Orchestrator coordinates one analysis run per call.  It holds no per-study
// state of its own: the single-flight guarantee lives entirely in the
// store's BeginAnalysis compare-and-set, so multiple processes sharing the
// database stay correct.
type Orchestrator struct {
	studies  StudyStore
	infer    Inferencer
	reporter Reporter
	metadata MetadataFunc

	inferTimeout  time.Duration
	reportTimeout time.Duration
}

func NewOrchestrator(studies StudyStore, infer Inferencer, reporter Reporter, inferTimeout, reportTimeout time.Duration) *Orchestrator {
	return &Orchestrator{
		studies:       studies,
		infer:         infer,
		reporter:      reporter,
		metadata:      dicomio.ExtractStudyMetadata,
		inferTimeout:  inferTimeout,
		reportTimeout: reportTimeout,
	}
}

// SetMetadataFunc overrides DICOM metadata extraction.
func (o *Orchestrator) SetMetadataFunc(fn MetadataFunc) { o.metadata = fn }

// Analyze drives a study to completed or failed and returns the attached
// result.  Completed and failed studies may be re-analyzed; the fresh result
// supersedes the prior one.  A study already analyzing yields
// ErrAnalysisInProgress.  Collaborator calls are bounded by the configured
// timeouts so a hung service ends in a failed study, not a stuck one.
func (o *Orchestrator) Analyze(ctx context.Context, studyID string) (model.AnalysisResult, error) {
	study, err := o.studies.Get(ctx, studyID)
	if errors.Is(err, repository.ErrNotFound) {
		return model.AnalysisResult{}, ErrStudyNotFound
	}
	if err != nil {
		return model.AnalysisResult{}, err
	}
	if len(study.Files) == 0 {
		return model.AnalysisResult{}, &PipelineError{Stage: StageMetadata, Err: errors.New("study has no files")}
	}

	// The sole serialization point: exactly one of two concurrent callers
	// passes this transition.
	err = o.studies.BeginAnalysis(ctx, studyID)
	if errors.Is(err, repository.ErrConflict) {
		return model.AnalysisResult{}, ErrAnalysisInProgress
	}
	if errors.Is(err, repository.ErrNotFound) {
		return model.AnalysisResult{}, ErrStudyNotFound
	}
	if err != nil {
		return model.AnalysisResult{}, err
	}

	// Re-read the file set now that the transition froze it: files may have
	// been appended between the first load and the compare-and-set, and the
	// stored result must cover exactly the frozen set.
	study, err = o.studies.Get(ctx, studyID)
	if err != nil {
		return model.AnalysisResult{}, o.fail(ctx, studyID, StageMetadata, err)
	}

	paths := make([]string, len(study.Files))
	for i, f := range study.Files {
		paths[i] = f.StoragePath
	}

	meta, err := o.metadata(paths)
	if err != nil {
		return model.AnalysisResult{}, o.fail(ctx, studyID, StageMetadata, err)
	}
	if err := o.studies.SetModality(ctx, studyID, meta.Modality); err != nil {
		return model.AnalysisResult{}, o.fail(ctx, studyID, StageMetadata, err)
	}

	ictx, cancel := context.WithTimeout(ctx, o.inferTimeout)
	res, err := o.infer.Analyze(ictx, studyID, meta.Modality, paths)
	cancel()
	if err != nil {
		return model.AnalysisResult{}, o.fail(ctx, studyID, StageInference, err)
	}

	positives := PositiveFindings(res.Predictions)
	urgency := ClassifyUrgency(positives)

	// Report generation is best-effort: a failure degrades the result
	// instead of failing the study.
	rctx, cancel := context.WithTimeout(ctx, o.reportTimeout)
	recommendations, rerr := o.reporter.Generate(rctx, meta.Modality, positives, urgency)
	cancel()
	degraded := rerr != nil
	if degraded {
		recommendations = ""
	}

	result := model.AnalysisResult{
		StudyID:         studyID,
		Modality:        meta.Modality,
		TopPredictions:  res.Predictions,
		PositiveFinding: positives,
		Urgency:         urgency,
		Recommendations: recommendations,
		ReportDegraded:  degraded,
		ModelUsed:       res.Model,
		CreatedAt:       time.Now().UTC(),
	}
	if err := o.studies.Complete(ctx, studyID, result); err != nil {
		return model.AnalysisResult{}, err
	}
	return result, nil
}

// fail moves the study to failed and wraps the cause.  The state write uses
// a context detached from the caller's cancellation: a timed-out request
// must still leave the study in failed, not stranded in analyzing.
func (o *Orchestrator) fail(ctx context.Context, studyID, stage string, cause error) error {
	mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	_ = o.studies.MarkFailed(mctx, studyID)
	return &PipelineError{Stage: stage, Err: cause}
}
