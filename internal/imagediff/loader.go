package imagediff

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// Pair holds a reference/compare image pair of identical dimensions, in
// colour and in grayscale.
type Pair struct {
	Reference     gocv.Mat
	Compare       gocv.Mat
	ReferenceGray gocv.Mat
	CompareGray   gocv.Mat
	// CompareResized reports whether Compare was resized to the reference dimensions.
	CompareResized bool
}

// Close releases every matrix of the pair.
func (p *Pair) Close() {
	if p == nil {
		return
	}
	p.Reference.Close()
	p.Compare.Close()
	p.ReferenceGray.Close()
	p.CompareGray.Close()
}

// Decode turns encoded image bytes into a 3-channel BGR matrix.
func Decode(data []byte) (gocv.Mat, error) {
	if len(data) == 0 {
		return gocv.NewMat(), ErrEmptyImage
	}
	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err == nil && !mat.Empty() {
		return mat, nil
	}
	mat.Close()
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return gocv.NewMat(), ErrDecode
}

// Validate reports whether data decodes as a raster image.
func Validate(data []byte) error {
	mat, err := Decode(data)
	mat.Close()
	return err
}

// Load decodes both images and normalises them to the reference dimensions.
func Load(reference, compare []byte) (*Pair, error) {
	ref, err := Decode(reference)
	if err != nil {
		return nil, fmt.Errorf("reference image: %w", err)
	}
	cmp, err := Decode(compare)
	if err != nil {
		ref.Close()
		return nil, fmt.Errorf("compare image: %w", err)
	}
	return Normalize(ref, cmp)
}

// Normalize takes ownership of ref and cmp. When their dimensions differ the
// compare image is resized to the reference dimensions with linear
// interpolation. Both are then converted to grayscale.
func Normalize(ref, cmp gocv.Mat) (*Pair, error) {
	pair := &Pair{
		Reference:     ref,
		Compare:       cmp,
		ReferenceGray: gocv.NewMat(),
		CompareGray:   gocv.NewMat(),
	}
	if ref.Empty() || cmp.Empty() {
		pair.Close()
		return nil, ErrEmptyImage
	}

	if ref.Rows() != cmp.Rows() || ref.Cols() != cmp.Cols() {
		resized := gocv.NewMat()
		gocv.Resize(cmp, &resized, image.Pt(ref.Cols(), ref.Rows()), 0, 0, gocv.InterpolationLinear)
		if resized.Empty() {
			resized.Close()
			pair.Close()
			return nil, fmt.Errorf("resize compare image to %dx%d failed", ref.Cols(), ref.Rows())
		}
		cmp.Close()
		pair.Compare = resized
		pair.CompareResized = true
	}

	toGray(pair.Reference, &pair.ReferenceGray)
	toGray(pair.Compare, &pair.CompareGray)
	if pair.ReferenceGray.Empty() || pair.CompareGray.Empty() {
		pair.Close()
		return nil, fmt.Errorf("grayscale conversion failed")
	}
	return pair, nil
}

func toGray(src gocv.Mat, dst *gocv.Mat) {
	switch src.Channels() {
	case 1:
		src.CopyTo(dst)
	case 4:
		gocv.CvtColor(src, dst, gocv.ColorBGRAToGray)
	default:
		gocv.CvtColor(src, dst, gocv.ColorBGRToGray)
	}
}
