// Package imagediff finds the regions where two images differ.
//
// Both images are decoded, the compare image is resized to the reference
// dimensions, and both are reduced to grayscale. A windowed structural
// similarity map is computed, binarised, and its external contours become
// regions. Regions larger than Options.MinRegionArea are drawn onto the
// rendered artifacts.
//
// All matrices are owned by the caller of Compare/Extract and must be
// released with Close.
package imagediff

import (
	"errors"
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

var (
	// ErrDecode is returned when input bytes are not a decodable raster image.
	ErrDecode = errors.New("image could not be decoded")
	// ErrEmptyImage is returned when an image has no pixels.
	ErrEmptyImage = errors.New("image is empty")
	// ErrDegenerateShape is returned when an image is smaller than the similarity window.
	ErrDegenerateShape = errors.New("image is smaller than the similarity window")
	// ErrShapeMismatch is returned when the matrices handed to the extractor differ in shape.
	ErrShapeMismatch = errors.New("images differ in shape")
)

const (
	// DefaultMinRegionArea suppresses contour noise.
	DefaultMinRegionArea = 40.0
	// DefaultWindowSize is the side of the square SSIM window.
	DefaultWindowSize = 7
)

var (
	boxColor  = color.RGBA{R: 36, G: 255, B: 12, A: 0}
	fillColor = color.RGBA{R: 0, G: 255, B: 0, A: 0}
)

// Options tunes the difference extractor.
type Options struct {
	// MinRegionArea is the contour area a region must exceed to be significant.
	MinRegionArea float64
	// BinarizeThreshold is the fixed cutoff on the 8-bit similarity map.
	// Zero selects Otsu's method.
	BinarizeThreshold float64
	// WindowSize is the odd side length of the SSIM window.
	WindowSize int
	// BoxThickness is the stroke width of bounding rectangles.
	BoxThickness int
}

// DefaultOptions returns the thresholds the service ships with.
func DefaultOptions() Options {
	return Options{
		MinRegionArea:     DefaultMinRegionArea,
		BinarizeThreshold: 0,
		WindowSize:        DefaultWindowSize,
		BoxThickness:      2,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MinRegionArea < 0 {
		o.MinRegionArea = d.MinRegionArea
	}
	if o.WindowSize < 3 {
		o.WindowSize = d.WindowSize
	}
	if o.WindowSize%2 == 0 {
		o.WindowSize++
	}
	if o.BoxThickness <= 0 {
		o.BoxThickness = d.BoxThickness
	}
	return o
}

// Shape is the [rows, cols, channels] triple of a matrix.
type Shape []int

func shapeOf(m gocv.Mat) Shape {
	return Shape{m.Rows(), m.Cols(), m.Channels()}
}

// Region is one contour found in the binarised difference map.
type Region struct {
	Bounds      image.Rectangle `json:"bounds"`
	Area        float64         `json:"area"`
	Significant bool            `json:"significant"`
}

// Artifacts are the rendered images of one comparison.
type Artifacts struct {
	// SSIMDifference is the binarised similarity map.
	SSIMDifference gocv.Mat
	// BoundedDifferences is the compare image with boxes around significant regions.
	BoundedDifferences gocv.Mat
	// DrawnDifferences is the reference image with significant regions filled.
	DrawnDifferences gocv.Mat
	// MaskDifferences holds only the filled significant regions.
	MaskDifferences gocv.Mat
	// ReferenceBounded is the reference image with boxes around significant regions.
	ReferenceBounded gocv.Mat
}

// Close releases every rendered matrix.
func (a *Artifacts) Close() {
	for _, m := range []*gocv.Mat{
		&a.SSIMDifference,
		&a.BoundedDifferences,
		&a.DrawnDifferences,
		&a.MaskDifferences,
		&a.ReferenceBounded,
	} {
		m.Close()
	}
}

// Extraction is the outcome of the difference extractor.
type Extraction struct {
	SimilarityScore    float64
	Regions            []Region
	ContoursFound      int
	SignificantRegions int
	ReferenceShape     Shape
	CompareShape       Shape
	// CompareResized reports whether the compare image was resized to the reference dimensions.
	CompareResized bool
	Artifacts      Artifacts
}

// Close releases the rendered artifacts.
func (e *Extraction) Close() {
	if e == nil {
		return
	}
	e.Artifacts.Close()
}

// Compare runs the full pipeline on two encoded images.
func Compare(reference, compare []byte, opts Options) (*Extraction, error) {
	pair, err := Load(reference, compare)
	if err != nil {
		return nil, err
	}
	defer pair.Close()

	return Extract(pair, opts)
}
