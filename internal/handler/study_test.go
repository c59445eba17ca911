package handler

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rayvin/radiology-assistant/internal/middleware"
	"github.com/rayvin/radiology-assistant/internal/model"
	"github.com/rayvin/radiology-assistant/internal/repository"
)

// memStudyStore is an in-memory StudyStore.
type memStudyStore struct {
	studies map[string]model.Study
	results map[string]model.AnalysisResult
	sums    []repository.StudySummary
}

func newMemStudyStore() *memStudyStore {
	return &memStudyStore{
		studies: make(map[string]model.Study),
		results: make(map[string]model.AnalysisResult),
	}
}

func (m *memStudyStore) Create(_ context.Context, id, owner string, files []model.StudyFile) error {
	m.studies[id] = model.Study{ID: id, Owner: owner, State: model.StudyUploaded, Files: files}
	return nil
}

func (m *memStudyStore) AppendFiles(_ context.Context, id string, files []model.StudyFile) error {
	s, ok := m.studies[id]
	if !ok {
		return repository.ErrNotFound
	}
	if s.State != model.StudyUploaded {
		return repository.ErrInvalidState
	}
	s.Files = append(s.Files, files...)
	m.studies[id] = s
	return nil
}

func (m *memStudyStore) LatestResult(_ context.Context, id string) (model.AnalysisResult, error) {
	r, ok := m.results[id]
	if !ok {
		return model.AnalysisResult{}, repository.ErrNotFound
	}
	return r, nil
}

func (m *memStudyStore) Get(_ context.Context, id string) (model.Study, error) {
	s, ok := m.studies[id]
	if !ok {
		return model.Study{}, repository.ErrNotFound
	}
	return s, nil
}

func (m *memStudyStore) ListAll(context.Context, int) ([]repository.StudySummary, error) {
	return m.sums, nil
}

func (m *memStudyStore) ListOwnedBy(_ context.Context, owner string, _ int) ([]repository.StudySummary, error) {
	var out []repository.StudySummary
	for _, s := range m.studies {
		if s.Owner == owner {
			out = append(out, repository.StudySummary{Study: s, FileCount: len(s.Files)})
		}
	}
	return out, nil
}

func (m *memStudyStore) Delete(_ context.Context, id string) error {
	if _, ok := m.studies[id]; !ok {
		return repository.ErrNotFound
	}
	delete(m.studies, id)
	return nil
}

func multipartBody(t *testing.T, filenames ...string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, name := range filenames {
		fw, err := w.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = fw.Write([]byte("DICM fake payload"))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func uploadRequest(t *testing.T, h *StudyHandler, filenames ...string) *httptest.ResponseRecorder {
	t.Helper()
	body, ctype := multipartBody(t, filenames...)
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set(echo.HeaderContentType, ctype)
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(req, rec)
	c.Set(middleware.CtxUsername, "mallory")
	_ = h.Upload(c)
	return rec
}

func TestUpload(t *testing.T) {
	store := newMemStudyStore()
	h := NewStudyHandler(store, t.TempDir())

	rec := uploadRequest(t, h, "chest.dcm", "chest2.DICOM", "noext")

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, float64(3), body["files_uploaded"])
	assert.Equal(t, "mallory", body["uploaded_by"])

	id := body["study_id"].(string)
	s, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.StudyUploaded, s.State)
	require.Len(t, s.Files, 3)

	// Files are on disk under the study directory.
	for _, f := range s.Files {
		_, err := os.Stat(f.StoragePath)
		assert.NoError(t, err, f.StoragePath)
	}
}

func TestUploadRejectsBadExtension(t *testing.T) {
	h := NewStudyHandler(newMemStudyStore(), t.TempDir())

	rec := uploadRequest(t, h, "report.pdf")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "unsupported file type")
}

func TestUploadRejectsEmptyForm(t *testing.T) {
	h := NewStudyHandler(newMemStudyStore(), t.TempDir())

	rec := uploadRequest(t, h)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadSanitizesPathTraversal(t *testing.T) {
	store := newMemStudyStore()
	root := t.TempDir()
	h := NewStudyHandler(store, root)

	rec := uploadRequest(t, h, "../../etc/passwd.dcm")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	id := decode(t, rec)["study_id"].(string)
	s, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, s.Files, 1)
	assert.Equal(t, "passwd.dcm", s.Files[0].Filename)
	// The stored path never escapes the study directory.
	rel, err := filepath.Rel(root, s.Files[0].StoragePath)
	require.NoError(t, err)
	assert.False(t, filepath.IsAbs(rel))
	assert.NotContains(t, rel, "..")
}

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"chest.dcm":          "chest.dcm",
		"../../secret.dcm":   "secret.dcm",
		`..\..\win\path.dcm`: "path.dcm",
		"/abs/path.dcm":      "path.dcm",
		"..":                 "unnamed",
		"":                   "unnamed",
	}
	for in, want := range cases {
		assert.Equal(t, want, sanitizeFilename(in), "input %q", in)
	}
}

func TestAllowedExtension(t *testing.T) {
	assert.True(t, allowedExtension("a.dcm"))
	assert.True(t, allowedExtension("a.DCM"))
	assert.True(t, allowedExtension("a.dicom"))
	assert.True(t, allowedExtension("noext"))
	assert.False(t, allowedExtension("a.pdf"))
	assert.False(t, allowedExtension("a.dcm.exe"))
}

func TestListStudiesStats(t *testing.T) {
	now := time.Now().UTC()
	yesterday := now.Add(-48 * time.Hour)
	store := newMemStudyStore()
	store.sums = []repository.StudySummary{
		{Study: model.Study{ID: "a", State: model.StudyCompleted}, FileCount: 1, Urgency: model.UrgencyEmergent, AnalyzedAt: &now},
		{Study: model.Study{ID: "b", State: model.StudyCompleted}, FileCount: 3, Urgency: model.UrgencyRoutine, AnalyzedAt: &yesterday},
		{Study: model.Study{ID: "c", State: model.StudyUploaded}, FileCount: 2},
		{Study: model.Study{ID: "d", State: model.StudyAnalyzing}, FileCount: 1},
		{Study: model.Study{ID: "e", State: model.StudyFailed}, FileCount: 1},
	}
	h := NewStudyHandler(store, t.TempDir())

	req := httptest.NewRequest(http.MethodGet, "/api/studies", nil)
	rec := httptest.NewRecorder()
	require.NoError(t, h.ListStudies(echo.New().NewContext(req, rec)))

	body := decode(t, rec)
	stats := body["stats"].(map[string]any)
	assert.Equal(t, float64(5), stats["total"])
	assert.Equal(t, float64(1), stats["analyzed_today"])
	assert.Equal(t, float64(2), stats["pending"]) // uploaded + analyzing
	assert.Equal(t, float64(1), stats["urgent"])  // urgent or emergent
	assert.Len(t, body["studies"], 5)
}

func TestListMyStudies(t *testing.T) {
	store := newMemStudyStore()
	h := NewStudyHandler(store, t.TempDir())

	require.Equal(t, http.StatusCreated, uploadRequest(t, h, "a.dcm").Code)
	require.Equal(t, http.StatusCreated, uploadRequest(t, h, "b.dcm").Code)

	req := httptest.NewRequest(http.MethodGet, "/api/my-studies", nil)
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(req, rec)
	c.Set(middleware.CtxUsername, "mallory")
	require.NoError(t, h.ListMyStudies(c))

	body := decode(t, rec)
	assert.Equal(t, float64(2), body["total"])

	// A different user sees nothing.
	rec = httptest.NewRecorder()
	c = echo.New().NewContext(req, rec)
	c.Set(middleware.CtxUsername, "other")
	require.NoError(t, h.ListMyStudies(c))
	assert.Equal(t, float64(0), decode(t, rec)["total"])
}

func TestDeleteStudy(t *testing.T) {
	store := newMemStudyStore()
	root := t.TempDir()
	h := NewStudyHandler(store, root)

	rec := uploadRequest(t, h, "chest.dcm")
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decode(t, rec)["study_id"].(string)

	req := httptest.NewRequest(http.MethodDelete, "/api/study/"+id, nil)
	drec := httptest.NewRecorder()
	c := echo.New().NewContext(req, drec)
	c.SetParamNames("study_id")
	c.SetParamValues(id)
	require.NoError(t, h.DeleteStudy(c))
	assert.Equal(t, http.StatusOK, drec.Code)

	_, err := store.Get(context.Background(), id)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = os.Stat(filepath.Join(root, id))
	assert.True(t, os.IsNotExist(err))
}

func appendRequest(t *testing.T, h *StudyHandler, studyID, username, role string, filenames ...string) *httptest.ResponseRecorder {
	t.Helper()
	body, ctype := multipartBody(t, filenames...)
	req := httptest.NewRequest(http.MethodPost, "/api/upload/"+studyID, body)
	req.Header.Set(echo.HeaderContentType, ctype)
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(req, rec)
	c.Set(middleware.CtxUsername, username)
	c.Set(middleware.CtxRole, role)
	c.SetParamNames("study_id")
	c.SetParamValues(studyID)
	_ = h.AppendToStudy(c)
	return rec
}

func TestAppendToStudy(t *testing.T) {
	store := newMemStudyStore()
	h := NewStudyHandler(store, t.TempDir())

	rec := uploadRequest(t, h, "a.dcm")
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decode(t, rec)["study_id"].(string)

	arec := appendRequest(t, h, id, "mallory", "user", "b.dcm", "c.dcm")
	require.Equal(t, http.StatusOK, arec.Code, arec.Body.String())
	body := decode(t, arec)
	assert.Equal(t, float64(2), body["files_added"])
	assert.Equal(t, float64(3), body["total_files"])

	s, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Len(t, s.Files, 3)
}

func TestAppendToStudyOwnershipEnforced(t *testing.T) {
	store := newMemStudyStore()
	h := NewStudyHandler(store, t.TempDir())

	rec := uploadRequest(t, h, "a.dcm") // owned by mallory
	id := decode(t, rec)["study_id"].(string)

	// Another plain user cannot extend someone else's study.
	arec := appendRequest(t, h, id, "intruder", "user", "b.dcm")
	assert.Equal(t, http.StatusForbidden, arec.Code)

	// A radiologist can.
	arec = appendRequest(t, h, id, "drwho", "radiologist", "b.dcm")
	assert.Equal(t, http.StatusOK, arec.Code)
}

func TestAppendToFrozenStudyConflicts(t *testing.T) {
	store := newMemStudyStore()
	h := NewStudyHandler(store, t.TempDir())

	rec := uploadRequest(t, h, "a.dcm")
	id := decode(t, rec)["study_id"].(string)

	s := store.studies[id]
	s.State = model.StudyAnalyzing
	store.studies[id] = s

	arec := appendRequest(t, h, id, "mallory", "user", "b.dcm")
	assert.Equal(t, http.StatusConflict, arec.Code)
}

func getStudyRequest(t *testing.T, h *StudyHandler, studyID, username, role string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/study/"+studyID, nil)
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(req, rec)
	c.Set(middleware.CtxUsername, username)
	c.Set(middleware.CtxRole, role)
	c.SetParamNames("study_id")
	c.SetParamValues(studyID)
	_ = h.GetStudy(c)
	return rec
}

func TestGetStudy(t *testing.T) {
	store := newMemStudyStore()
	h := NewStudyHandler(store, t.TempDir())

	rec := uploadRequest(t, h, "a.dcm", "b.dcm")
	id := decode(t, rec)["study_id"].(string)

	grec := getStudyRequest(t, h, id, "mallory", "user")
	require.Equal(t, http.StatusOK, grec.Code)
	body := decode(t, grec)
	assert.Equal(t, "uploaded", body["state"])
	assert.Equal(t, float64(2), body["file_count"])
	assert.NotContains(t, body, "result") // nothing analyzed yet

	store.results[id] = model.AnalysisResult{StudyID: id, Urgency: model.UrgencyUrgent}
	grec = getStudyRequest(t, h, id, "drwho", "radiologist")
	require.Equal(t, http.StatusOK, grec.Code)
	body = decode(t, grec)
	require.Contains(t, body, "result")

	// Plain users cannot read studies they do not own.
	grec = getStudyRequest(t, h, id, "intruder", "user")
	assert.Equal(t, http.StatusForbidden, grec.Code)

	grec = getStudyRequest(t, h, "missing", "mallory", "user")
	assert.Equal(t, http.StatusNotFound, grec.Code)
}

func TestDeleteStudyNotFound(t *testing.T) {
	h := NewStudyHandler(newMemStudyStore(), t.TempDir())

	req := httptest.NewRequest(http.MethodDelete, "/api/study/nope", nil)
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(req, rec)
	c.SetParamNames("study_id")
	c.SetParamValues("nope")
	require.NoError(t, h.DeleteStudy(c))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
