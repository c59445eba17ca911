package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/rayvin/radiology-assistant/internal/middleware"
	"github.com/rayvin/radiology-assistant/internal/model"
	"github.com/rayvin/radiology-assistant/internal/repository"
)

const (
	// MaxFileSize is the per-file upload ceiling (500 MB).
	MaxFileSize = 500 << 20
	// MaxFilesPerStudy caps the number of files in one study.
	MaxFilesPerStudy = 1000

	listLimit = 200
)

// StudyStore is the subset of the study repository used by the HTTP layer.
type StudyStore interface {
	Create(ctx context.Context, id, owner string, files []model.StudyFile) error
	AppendFiles(ctx context.Context, studyID string, files []model.StudyFile) error
	Get(ctx context.Context, id string) (model.Study, error)
	ListAll(ctx context.Context, limit int) ([]repository.StudySummary, error)
	ListOwnedBy(ctx context.Context, owner string, limit int) ([]repository.StudySummary, error)
	LatestResult(ctx context.Context, studyID string) (model.AnalysisResult, error)
	Delete(ctx context.Context, id string) error
}

// StudyHandler serves upload, listing and deletion of studies.
type StudyHandler struct {
	Studies    StudyStore
	UploadRoot string
}

func NewStudyHandler(studies StudyStore, uploadRoot string) *StudyHandler {
	return &StudyHandler{Studies: studies, UploadRoot: uploadRoot}
}

// Upload accepts a multipart batch of DICOM files and registers them as a
// new study in the uploaded state.
func (h *StudyHandler) Upload(c echo.Context) error {
	studyID, files, ok := h.receiveStudy(c)
	if !ok {
		return nil // response already written
	}

	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.Filename
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"study_id":       studyID,
		"files_uploaded": len(files),
		"filenames":      names,
		"uploaded_by":    middleware.Username(c),
	})
}

// validateParts extracts the multipart file headers and checks count,
// extension and declared size.  existing is the number of files already in
// the study, so appends cannot push past the ceiling.  On failure it writes
// the error response and returns ok=false.
func validateParts(c echo.Context, existing int) ([]*multipart.FileHeader, bool) {
	form, err := c.MultipartForm()
	if err != nil {
		_ = detail(c, http.StatusBadRequest, "expected multipart form data")
		return nil, false
	}
	parts := form.File["files"]
	if len(parts) == 0 {
		_ = detail(c, http.StatusBadRequest, "no files uploaded")
		return nil, false
	}
	if existing+len(parts) > MaxFilesPerStudy {
		_ = detail(c, http.StatusBadRequest,
			fmt.Sprintf("too many files: maximum %d per study", MaxFilesPerStudy))
		return nil, false
	}
	for _, p := range parts {
		name := sanitizeFilename(p.Filename)
		if !allowedExtension(name) {
			_ = detail(c, http.StatusBadRequest,
				fmt.Sprintf("unsupported file type: %s (expected .dcm or .dicom)", name))
			return nil, false
		}
		if p.Size > MaxFileSize {
			_ = detail(c, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("file %s exceeds the 500MB limit", name))
			return nil, false
		}
	}
	return parts, true
}

// saveParts writes the uploaded parts under dir, numbering them from
// startPos.  On failure it removes the files it wrote, writes the error
// response and returns ok=false.
func saveParts(c echo.Context, dir string, startPos int, parts []*multipart.FileHeader) ([]model.StudyFile, bool) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Printf("upload: mkdir %s: %v", dir, err)
		_ = detail(c, http.StatusInternalServerError, "failed to store files")
		return nil, false
	}

	files := make([]model.StudyFile, 0, len(parts))
	for i, p := range parts {
		name := sanitizeFilename(p.Filename)
		dst := filepath.Join(dir, fmt.Sprintf("%04d_%s", startPos+i, name))
		if err := saveUpload(p, dst); err != nil {
			for _, f := range files {
				_ = os.Remove(f.StoragePath)
			}
			log.Printf("upload: save %s: %v", dst, err)
			_ = detail(c, http.StatusInternalServerError, "failed to store files")
			return nil, false
		}
		files = append(files, model.StudyFile{Filename: name, StoragePath: dst})
	}
	return files, true
}

// receiveStudy validates and stores a multipart upload, creating the study
// row.  On failure it writes the error response and returns ok=false;
// partially written files are removed.
func (h *StudyHandler) receiveStudy(c echo.Context) (string, []model.StudyFile, bool) {
	parts, ok := validateParts(c, 0)
	if !ok {
		return "", nil, false
	}

	studyID := uuid.NewString()
	dir := filepath.Join(h.UploadRoot, studyID)
	files, ok := saveParts(c, dir, 0, parts)
	if !ok {
		_ = os.RemoveAll(dir)
		return "", nil, false
	}

	if err := h.Studies.Create(c.Request().Context(), studyID, middleware.Username(c), files); err != nil {
		_ = os.RemoveAll(dir)
		log.Printf("upload: create study %s: %v", studyID, err)
		_ = detail(c, http.StatusInternalServerError, "failed to create study")
		return "", nil, false
	}
	return studyID, files, true
}

// AppendToStudy adds files to an existing study that has not started
// analysis yet.  The file set freezes on the uploaded -> analyzing
// transition; appends after that point get a 409.
func (h *StudyHandler) AppendToStudy(c echo.Context) error {
	id := c.Param("study_id")
	ctx := c.Request().Context()

	s, err := h.Studies.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return detail(c, http.StatusNotFound, "study not found")
		}
		log.Printf("upload append: load %s: %v", id, err)
		return detail(c, http.StatusInternalServerError, "failed to load study")
	}
	if !canManageStudy(c, s) {
		return detail(c, http.StatusForbidden, "forbidden")
	}

	parts, ok := validateParts(c, len(s.Files))
	if !ok {
		return nil
	}
	files, ok := saveParts(c, filepath.Join(h.UploadRoot, id), len(s.Files), parts)
	if !ok {
		return nil
	}

	if err := h.Studies.AppendFiles(ctx, id, files); err != nil {
		for _, f := range files {
			_ = os.Remove(f.StoragePath)
		}
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return detail(c, http.StatusNotFound, "study not found")
		case errors.Is(err, repository.ErrInvalidState):
			return detail(c, http.StatusConflict, "files can no longer be added to this study")
		}
		log.Printf("upload append: %s: %v", id, err)
		return detail(c, http.StatusInternalServerError, "failed to add files")
	}

	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.Filename
	}
	return c.JSON(http.StatusOK, echo.Map{
		"study_id":    id,
		"files_added": len(files),
		"filenames":   names,
		"total_files": len(s.Files) + len(files),
	})
}

// GetStudy returns one study with its files and, when an analysis has
// completed, the latest result.  Plain users see only their own studies.
func (h *StudyHandler) GetStudy(c echo.Context) error {
	id := c.Param("study_id")
	ctx := c.Request().Context()

	s, err := h.Studies.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return detail(c, http.StatusNotFound, "study not found")
		}
		log.Printf("studies: load %s: %v", id, err)
		return detail(c, http.StatusInternalServerError, "failed to load study")
	}
	if !canManageStudy(c, s) {
		return detail(c, http.StatusForbidden, "forbidden")
	}

	names := make([]string, len(s.Files))
	for i, f := range s.Files {
		names[i] = f.Filename
	}
	resp := echo.Map{
		"study_id":    s.ID,
		"uploaded_by": s.Owner,
		"state":       s.State,
		"modality":    s.Modality,
		"file_count":  len(s.Files),
		"filenames":   names,
		"created_at":  s.CreatedAt,
	}

	if result, err := h.Studies.LatestResult(ctx, id); err == nil {
		resp["result"] = result
	} else if !errors.Is(err, repository.ErrNotFound) {
		log.Printf("studies: latest result %s: %v", id, err)
	}

	return c.JSON(http.StatusOK, resp)
}

// canManageStudy reports whether the caller may read or extend a study:
// radiologists and admins always, plain users only for their own uploads.
func canManageStudy(c echo.Context, s model.Study) bool {
	switch model.Role(middleware.RoleOf(c)) {
	case model.RoleRadiologist, model.RoleAdmin:
		return true
	}
	return s.Owner == middleware.Username(c)
}

// ListStudies returns every study with file counts, latest urgency and
// worklist stats for the dashboard.
func (h *StudyHandler) ListStudies(c echo.Context) error {
	sums, err := h.Studies.ListAll(c.Request().Context(), listLimit)
	if err != nil {
		log.Printf("studies: list: %v", err)
		return detail(c, http.StatusInternalServerError, "failed to list studies")
	}

	today := time.Now().UTC().Truncate(24 * time.Hour)
	var analyzedToday, pending, urgent int
	items := make([]echo.Map, 0, len(sums))
	for _, s := range sums {
		switch s.Study.State {
		case model.StudyUploaded, model.StudyAnalyzing:
			pending++
		}
		if s.AnalyzedAt != nil && !s.AnalyzedAt.UTC().Before(today) {
			analyzedToday++
		}
		if s.Urgency == model.UrgencyUrgent || s.Urgency == model.UrgencyEmergent {
			urgent++
		}
		items = append(items, echo.Map{
			"study_id":    s.Study.ID,
			"uploaded_by": s.Study.Owner,
			"state":       s.Study.State,
			"modality":    s.Study.Modality,
			"file_count":  s.FileCount,
			"urgency":     s.Urgency,
			"created_at":  s.Study.CreatedAt,
			"analyzed_at": s.AnalyzedAt,
		})
	}

	return c.JSON(http.StatusOK, echo.Map{
		"studies": items,
		"stats": echo.Map{
			"total":          len(sums),
			"analyzed_today": analyzedToday,
			"pending":        pending,
			"urgent":         urgent,
		},
	})
}

// ListMyStudies returns the caller's own uploads.  Unlike the dashboard
// listing this is open to every role.
func (h *StudyHandler) ListMyStudies(c echo.Context) error {
	sums, err := h.Studies.ListOwnedBy(c.Request().Context(), middleware.Username(c), listLimit)
	if err != nil {
		log.Printf("studies: list owned: %v", err)
		return detail(c, http.StatusInternalServerError, "failed to list studies")
	}

	items := make([]echo.Map, 0, len(sums))
	for _, s := range sums {
		items = append(items, echo.Map{
			"study_id":    s.Study.ID,
			"state":       s.Study.State,
			"modality":    s.Study.Modality,
			"file_count":  s.FileCount,
			"urgency":     s.Urgency,
			"created_at":  s.Study.CreatedAt,
			"analyzed_at": s.AnalyzedAt,
		})
	}
	return c.JSON(http.StatusOK, echo.Map{"studies": items, "total": len(items)})
}

// DeleteStudy removes a study's rows and its stored files.
func (h *StudyHandler) DeleteStudy(c echo.Context) error {
	id := c.Param("study_id")
	ctx := c.Request().Context()

	if _, err := h.Studies.Get(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return detail(c, http.StatusNotFound, "study not found")
		}
		log.Printf("studies: load %s: %v", id, err)
		return detail(c, http.StatusInternalServerError, "failed to delete study")
	}
	if err := h.Studies.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return detail(c, http.StatusNotFound, "study not found")
		}
		log.Printf("studies: delete %s: %v", id, err)
		return detail(c, http.StatusInternalServerError, "failed to delete study")
	}
	if err := os.RemoveAll(filepath.Join(h.UploadRoot, id)); err != nil {
		log.Printf("studies: remove files for %s: %v", id, err)
	}

	return c.JSON(http.StatusOK, echo.Map{"detail": "study deleted", "study_id": id})
}

// sanitizeFilename strips any client-supplied directory components.
func sanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)
	if name == "." || name == ".." || name == "/" || name == "" {
		return "unnamed"
	}
	return name
}

// allowedExtension accepts .dcm, .dicom or no extension at all (DICOM files
// are frequently exported without one).
func allowedExtension(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".dcm", ".dicom", "":
		return true
	}
	return false
}

func saveUpload(p *multipart.FileHeader, dst string) error {
	src, err := p.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	// LimitReader backstops the declared size check against lying clients.
	if _, err := io.Copy(out, io.LimitReader(src, MaxFileSize+1)); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
