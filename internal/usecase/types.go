package usecase

import (
	"time"

	"github.com/example/diff-finder/internal/artifacts"
	"github.com/example/diff-finder/internal/imagediff"
	"github.com/example/diff-finder/internal/repository"
)

// ResultFiles names the served location of each rendered artifact.
type ResultFiles struct {
	SSIMDifference     string `json:"ssim_difference"`
	BoundedDifferences string `json:"bounded_differences"`
	DrawnDifferences   string `json:"drawn_differences"`
	MaskDifferences    string `json:"mask_differences"`
}

func resultFilesFor(sessionID string) ResultFiles {
	return ResultFiles{
		SSIMDifference:     artifacts.URLPath(sessionID, artifacts.SSIMDifference),
		BoundedDifferences: artifacts.URLPath(sessionID, artifacts.BoundedDifferences),
		DrawnDifferences:   artifacts.URLPath(sessionID, artifacts.DrawnDifferences),
		MaskDifferences:    artifacts.URLPath(sessionID, artifacts.MaskDifferences),
	}
}

// ComparisonMetadata describes the inputs and the regions found.
type ComparisonMetadata struct {
	ReferenceShape         []int `json:"reference_shape"`
	CompareShape           []int `json:"compare_shape"`
	ContoursFound          int   `json:"contours_found"`
	SignificantDifferences int   `json:"significant_differences"`
}

// ComparisonResult is returned to callers of CompareImages.
type ComparisonResult struct {
	SessionID       string             `json:"session_id"`
	SimilarityScore float64            `json:"similarity_score"`
	Results         ResultFiles        `json:"results"`
	Metadata        ComparisonMetadata `json:"metadata"`
}

func resultFromExtraction(sessionID string, ext *imagediff.Extraction) *ComparisonResult {
	return &ComparisonResult{
		SessionID:       sessionID,
		SimilarityScore: ext.SimilarityScore,
		Results:         resultFilesFor(sessionID),
		Metadata: ComparisonMetadata{
			ReferenceShape:         ext.ReferenceShape,
			CompareShape:           ext.CompareShape,
			ContoursFound:          ext.ContoursFound,
			SignificantDifferences: ext.SignificantRegions,
		},
	}
}

func resultFromLog(log *repository.ComparisonLog) *ComparisonResult {
	return &ComparisonResult{
		SessionID:       log.SessionID,
		SimilarityScore: log.SimilarityScore,
		Results:         resultFilesFor(log.SessionID),
		Metadata: ComparisonMetadata{
			ReferenceShape:         log.ReferenceShape,
			CompareShape:           log.CompareShape,
			ContoursFound:          log.ContoursFound,
			SignificantDifferences: log.SignificantDifferences,
		},
	}
}

// PairHistory lists the other comparisons of the same image pair.
type PairHistory struct {
	Comparison *ComparisonResult
	CreatedAt  time.Time
	Previous   []*HistoryEntry
}

// HistoryEntry is one earlier comparison of a pair.
type HistoryEntry struct {
	Result    *ComparisonResult
	CreatedAt time.Time
}
