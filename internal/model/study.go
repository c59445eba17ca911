package model

import "time"

// StudyState is the lifecycle state of an uploaded study.
//
//	uploaded  -> analyzing -> completed
//	                       -> failed
//
// The uploaded->analyzing transition is the single-flight serialization
// point: it happens as an atomic compare-and-set in the repository so two
// concurrent analyze calls can never both proceed.  completed and failed
// studies may re-enter analyzing (re-analysis replaces the prior result).
type StudyState string

const (
	StudyUploaded  StudyState = "uploaded"
	StudyAnalyzing StudyState = "analyzing"
	StudyCompleted StudyState = "completed"
	StudyFailed    StudyState = "failed"
)

// StudyFile is one uploaded file belonging to a study: the client-supplied
// filename plus the opaque storage handle it was saved under.
type StudyFile struct {
	Filename    string `json:"filename"`
	StoragePath string `json:"-"`
}

// Study is a user-submitted group of imaging files analyzed as one unit.
// The file set is append-only while the study is `uploaded` and frozen once
// analysis begins.
type Study struct {
	ID        string      // UUID
	Owner     string      // username of the uploader
	State     StudyState  // lifecycle state
	Modality  string      // detected modality; empty until analysis starts
	Files     []StudyFile // ordered file set
	CreatedAt time.Time
}
