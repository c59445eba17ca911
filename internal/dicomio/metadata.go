// Package dicomio extracts the header metadata the analysis pipeline needs
// from uploaded DICOM files.  Pixel parsing stays with the external
// inference collaborator; only the Modality tag is read here, with pixel
// data skipped entirely.
package dicomio

import (
	"errors"
	"fmt"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// Modalities the pipeline accepts.  CR/DX run the 2D radiograph path,
// CT/MR the 3D volume path.
var approvedModalities = map[string]bool{
	"CR": true,
	"DX": true,
	"CT": true,
	"MR": true,
}

var (
	// ErrMixedModality means the files of one study disagree on modality.
	ErrMixedModality = errors.New("study mixes multiple modalities")
	// ErrUnsupportedModality means a modality outside CR/DX/CT/MR.
	ErrUnsupportedModality = errors.New("unsupported modality")
)

// StudyMetadata summarizes what the orchestrator needs to route a study.
type StudyMetadata struct {
	Modality   string
	SliceCount int
}

// IsVolumetric reports whether the study should take the 3D CT/MR path.
func (m StudyMetadata) IsVolumetric() bool {
	return m.Modality == "CT" || m.Modality == "MR"
}

// ExtractStudyMetadata reads the Modality tag from every file and verifies
// that the study is homogeneous and within the approved modality set.
func ExtractStudyMetadata(paths []string) (StudyMetadata, error) {
	if len(paths) == 0 {
		return StudyMetadata{}, errors.New("no files in study")
	}

	modalities := make([]string, 0, len(paths))
	for _, p := range paths {
		m, err := readModality(p)
		if err != nil {
			return StudyMetadata{}, fmt.Errorf("read %s: %w", p, err)
		}
		modalities = append(modalities, m)
	}
	return summarize(modalities)
}

// summarize validates a study's per-file modalities: all files must agree
// and the shared modality must be approved.
func summarize(modalities []string) (StudyMetadata, error) {
	modality := modalities[0]
	for _, m := range modalities[1:] {
		if m != modality {
			return StudyMetadata{}, ErrMixedModality
		}
	}
	if !approvedModalities[modality] {
		return StudyMetadata{}, fmt.Errorf("%w: %s", ErrUnsupportedModality, modality)
	}
	return StudyMetadata{Modality: modality, SliceCount: len(modalities)}, nil
}

func readModality(path string) (string, error) {
	ds, err := dicom.ParseFile(path, nil, dicom.SkipPixelData())
	if err != nil {
		return "", err
	}
	el, err := ds.FindElementByTag(tag.Modality)
	if err != nil {
		return "", fmt.Errorf("modality tag missing: %w", err)
	}
	vals, ok := el.Value.GetValue().([]string)
	if !ok || len(vals) == 0 || vals[0] == "" {
		return "", errors.New("modality tag empty")
	}
	return vals[0], nil
}
