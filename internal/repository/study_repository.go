package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rayvin/radiology-assistant/internal/model"
)

// StudyRepo provides data access to the studies, study_files and
// analysis_results tables.  It is the only writer of study existence and
// file membership; the analysis orchestrator drives lifecycle transitions
// through BeginAnalysis / MarkFailed / Complete.
type StudyRepo struct{ DB *sql.DB }

func NewStudyRepo(db *sql.DB) *StudyRepo { return &StudyRepo{DB: db} }

// findingsPayload is the JSON shape persisted in analysis_results.findings_json.
type findingsPayload struct {
	TopPredictions   []model.Finding `json:"top_predictions"`
	PositiveFindings []model.Finding `json:"positive_findings"`
}

// Create inserts a new study in the uploaded state together with its initial
// file set.
func (r *StudyRepo) Create(ctx context.Context, id, owner string, files []model.StudyFile) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err = tx.ExecContext(ctx,
		"INSERT INTO studies (id, owner, state) VALUES (?,?,?)",
		id, owner, string(model.StudyUploaded)); err != nil {
		return err
	}
	if err = insertFilesTx(ctx, tx, id, 0, files); err != nil {
		return err
	}
	return tx.Commit()
}

// AppendFiles adds files to a study that is still in the uploaded state.
// Once analysis has begun the file set is frozen and this returns
// ErrInvalidState.  The state check and insert share a transaction with a
// row lock so a concurrent BeginAnalysis cannot interleave.
func (r *StudyRepo) AppendFiles(ctx context.Context, studyID string, files []model.StudyFile) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var state string
	err = tx.QueryRowContext(ctx, "SELECT state FROM studies WHERE id=? FOR UPDATE", studyID).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if model.StudyState(state) != model.StudyUploaded {
		return ErrInvalidState
	}

	var next int
	if err = tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(position)+1,0) FROM study_files WHERE study_id=?", studyID).Scan(&next); err != nil {
		return err
	}
	if err = insertFilesTx(ctx, tx, studyID, next, files); err != nil {
		return err
	}
	return tx.Commit()
}

// Get loads a study with its ordered file set.
func (r *StudyRepo) Get(ctx context.Context, id string) (model.Study, error) {
	var (
		s        model.Study
		state    string
		modality sql.NullString
	)
	err := r.DB.QueryRowContext(ctx,
		"SELECT id,owner,state,modality,created_at FROM studies WHERE id=? LIMIT 1", id).
		Scan(&s.ID, &s.Owner, &state, &modality, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Study{}, ErrNotFound
	}
	if err != nil {
		return model.Study{}, err
	}
	s.State = model.StudyState(state)
	s.Modality = modality.String

	rows, err := r.DB.QueryContext(ctx,
		"SELECT filename,storage_path FROM study_files WHERE study_id=? ORDER BY position", id)
	if err != nil {
		return model.Study{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var f model.StudyFile
		if err := rows.Scan(&f.Filename, &f.StoragePath); err != nil {
			return model.Study{}, err
		}
		s.Files = append(s.Files, f)
	}
	return s, rows.Err()
}

// StudySummary is a listing row: study header plus the urgency of its most
// recent analysis, if any.
type StudySummary struct {
	Study      model.Study
	FileCount  int
	Urgency    model.Urgency // empty when never analyzed
	AnalyzedAt *time.Time    // time of the latest analysis, nil when never analyzed
}

// ListAll returns the most recent studies with file counts and latest
// urgency.  Used by the radiologist/admin dashboard.
func (r *StudyRepo) ListAll(ctx context.Context, limit int) ([]StudySummary, error) {
	return r.list(ctx, "", limit)
}

// ListOwnedBy returns the most recent studies uploaded by one user.
func (r *StudyRepo) ListOwnedBy(ctx context.Context, owner string, limit int) ([]StudySummary, error) {
	return r.list(ctx, owner, limit)
}

func (r *StudyRepo) list(ctx context.Context, owner string, limit int) ([]StudySummary, error) {
	query := `SELECT s.id, s.owner, s.state, s.modality, s.created_at,
		(SELECT COUNT(*) FROM study_files f WHERE f.study_id = s.id),
		COALESCE((SELECT ar.urgency FROM analysis_results ar
			WHERE ar.study_id = s.id ORDER BY ar.created_at DESC, ar.id DESC LIMIT 1), ''),
		(SELECT ar.created_at FROM analysis_results ar
			WHERE ar.study_id = s.id ORDER BY ar.created_at DESC, ar.id DESC LIMIT 1)
		FROM studies s`
	args := []any{}
	if owner != "" {
		query += " WHERE s.owner=?"
		args = append(args, owner)
	}
	query += " ORDER BY s.created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StudySummary
	for rows.Next() {
		var (
			sum        StudySummary
			state      string
			modality   sql.NullString
			urgency    string
			analyzedAt sql.NullTime
		)
		if err := rows.Scan(&sum.Study.ID, &sum.Study.Owner, &state, &modality,
			&sum.Study.CreatedAt, &sum.FileCount, &urgency, &analyzedAt); err != nil {
			return nil, err
		}
		sum.Study.State = model.StudyState(state)
		sum.Study.Modality = modality.String
		sum.Urgency = model.Urgency(urgency)
		if analyzedAt.Valid {
			t := analyzedAt.Time
			sum.AnalyzedAt = &t
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Delete removes a study with its files and results.  Returns ErrNotFound
// when the study does not exist.
func (r *StudyRepo) Delete(ctx context.Context, id string) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, "DELETE FROM studies WHERE id=?", id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	if _, err = tx.ExecContext(ctx, "DELETE FROM study_files WHERE study_id=?", id); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, "DELETE FROM analysis_results WHERE study_id=?", id); err != nil {
		return err
	}
	return tx.Commit()
}

// BeginAnalysis atomically transitions a study into analyzing.  The UPDATE's
// WHERE clause is the compare-and-set: of two concurrent callers only one
// matches a row, the other observes zero affected rows and receives
// ErrConflict (or ErrNotFound when the study does not exist at all).
// completed and failed studies may re-enter analyzing, which implements
// re-analysis by replacement.
func (r *StudyRepo) BeginAnalysis(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE studies SET state=? WHERE id=? AND state IN (?,?,?)",
		string(model.StudyAnalyzing), id,
		string(model.StudyUploaded), string(model.StudyCompleted), string(model.StudyFailed))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	var one int
	err = r.DB.QueryRowContext(ctx, "SELECT 1 FROM studies WHERE id=? LIMIT 1", id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return ErrConflict
}

// SetModality records the detected modality once analysis has identified it.
func (r *StudyRepo) SetModality(ctx context.Context, id, modality string) error {
	_, err := r.DB.ExecContext(ctx, "UPDATE studies SET modality=? WHERE id=?", modality, id)
	return err
}

// MarkFailed moves an analyzing study to failed.  No result row is written;
// the failure reason travels back to the caller as a typed error.
func (r *StudyRepo) MarkFailed(ctx context.Context, id string) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE studies SET state=? WHERE id=? AND state=?",
		string(model.StudyFailed), id, string(model.StudyAnalyzing))
	return err
}

// Complete transitions analyzing -> completed and attaches the analysis
// result in the same transaction, so a result row can only ever be written
// by that transition.
func (r *StudyRepo) Complete(ctx context.Context, id string, result model.AnalysisResult) error {
	payload, err := json.Marshal(findingsPayload{
		TopPredictions:   result.TopPredictions,
		PositiveFindings: result.PositiveFinding,
	})
	if err != nil {
		return fmt.Errorf("marshal findings: %w", err)
	}

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		"UPDATE studies SET state=? WHERE id=? AND state=?",
		string(model.StudyCompleted), id, string(model.StudyAnalyzing))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO analysis_results
		(study_id, modality, findings_json, urgency, recommendations, report_degraded, model_used)
		VALUES (?,?,?,?,?,?,?)`,
		id, result.Modality, string(payload), string(result.Urgency),
		result.Recommendations, result.ReportDegraded, result.ModelUsed); err != nil {
		return err
	}
	return tx.Commit()
}

// LatestResult loads the most recent analysis result for a study, or
// ErrNotFound when the study has never completed an analysis.
func (r *StudyRepo) LatestResult(ctx context.Context, studyID string) (model.AnalysisResult, error) {
	var (
		out     model.AnalysisResult
		raw     string
		urgency string
	)
	err := r.DB.QueryRowContext(ctx,
		`SELECT modality, findings_json, urgency, recommendations, report_degraded, model_used, created_at
		FROM analysis_results WHERE study_id=? ORDER BY created_at DESC, id DESC LIMIT 1`, studyID).
		Scan(&out.Modality, &raw, &urgency, &out.Recommendations, &out.ReportDegraded, &out.ModelUsed, &out.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.AnalysisResult{}, ErrNotFound
	}
	if err != nil {
		return model.AnalysisResult{}, err
	}
	var payload findingsPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return model.AnalysisResult{}, fmt.Errorf("unmarshal findings: %w", err)
	}
	out.StudyID = studyID
	out.TopPredictions = payload.TopPredictions
	out.PositiveFinding = payload.PositiveFindings
	out.Urgency = model.Urgency(urgency)
	return out, nil
}

func insertFilesTx(ctx context.Context, tx *sql.Tx, studyID string, startPos int, files []model.StudyFile) error {
	if len(files) == 0 {
		return nil
	}
	query := "INSERT INTO study_files (study_id, filename, storage_path, position) VALUES "
	args := make([]any, 0, len(files)*4)
	for i, f := range files {
		if i > 0 {
			query += ","
		}
		query += "(?,?,?,?)"
		args = append(args, studyID, f.Filename, f.StoragePath, startPos+i)
	}
	_, err := tx.ExecContext(ctx, query, args...)
	return err
}
