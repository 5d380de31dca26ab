package imagediff

import (
	"fmt"

	"gocv.io/x/gocv"
)

// Extract compares the grayscale halves of pair and renders the artifacts.
// pair is not modified; the returned Extraction must be closed.
func Extract(pair *Pair, opts Options) (*Extraction, error) {
	if pair == nil || pair.ReferenceGray.Empty() || pair.CompareGray.Empty() {
		return nil, ErrEmptyImage
	}
	opts = opts.withDefaults()

	score, ssimMap, err := SSIM(pair.ReferenceGray, pair.CompareGray, opts.WindowSize)
	if err != nil {
		return nil, err
	}
	defer ssimMap.Close()

	diff := DifferenceMap(ssimMap)
	defer diff.Close()

	thresh := Binarize(diff, opts.BinarizeThreshold)

	contours := findContours(thresh)
	defer contours.Close()
	regions := classify(contours, opts.MinRegionArea)

	ext := &Extraction{
		SimilarityScore: clampUnit(score),
		Regions:         regions,
		ContoursFound:   len(regions),
		ReferenceShape:  shapeOf(pair.Reference),
		CompareShape:    shapeOf(pair.Compare),
		CompareResized:  pair.CompareResized,
		Artifacts: Artifacts{
			SSIMDifference:     thresh,
			ReferenceBounded:   pair.Reference.Clone(),
			BoundedDifferences: pair.Compare.Clone(),
			DrawnDifferences:   pair.Reference.Clone(),
			MaskDifferences:    gocv.Zeros(pair.Reference.Rows(), pair.Reference.Cols(), pair.Reference.Type()),
		},
	}

	for i, r := range regions {
		if !r.Significant {
			continue
		}
		ext.SignificantRegions++
		gocv.Rectangle(&ext.Artifacts.ReferenceBounded, r.Bounds, boxColor, opts.BoxThickness)
		gocv.Rectangle(&ext.Artifacts.BoundedDifferences, r.Bounds, boxColor, opts.BoxThickness)
		gocv.DrawContours(&ext.Artifacts.MaskDifferences, contours, i, fillColor, -1)
		gocv.DrawContours(&ext.Artifacts.DrawnDifferences, contours, i, fillColor, -1)
	}

	return ext, nil
}

// DifferenceMap scales a floating point similarity map to 8-bit intensity.
// Values are saturated to [0,255].
func DifferenceMap(ssimMap gocv.Mat) gocv.Mat {
	scaled := gocv.NewMat()
	defer scaled.Close()
	gocv.AddWeighted(ssimMap, 255, ssimMap, 0, 0, &scaled)

	out := gocv.NewMat()
	scaled.ConvertTo(&out, gocv.MatTypeCV8U)
	return out
}

// Binarize marks dissimilar pixels of an 8-bit similarity map as 255.
// A cutoff of zero or less selects Otsu's method.
func Binarize(diff gocv.Mat, cutoff float64) gocv.Mat {
	out := gocv.NewMat()
	if cutoff <= 0 {
		gocv.Threshold(diff, &out, 0, 255, gocv.ThresholdBinaryInv+gocv.ThresholdOtsu)
	} else {
		gocv.Threshold(diff, &out, float32(cutoff), 255, gocv.ThresholdBinaryInv)
	}
	return out
}

// FindRegions extracts the external contours of a binary mask and marks
// those whose area exceeds minArea as significant.
func FindRegions(binary gocv.Mat, minArea float64) []Region {
	contours := findContours(binary)
	defer contours.Close()
	return classify(contours, minArea)
}

func findContours(binary gocv.Mat) gocv.PointsVector {
	work := binary.Clone()
	defer work.Close()
	return gocv.FindContours(work, gocv.RetrievalExternal, gocv.ChainApproxSimple)
}

func classify(contours gocv.PointsVector, minArea float64) []Region {
	regions := make([]Region, 0, contours.Size())
	for i := 0; i < contours.Size(); i++ {
		c := contours.At(i)
		area := gocv.ContourArea(c)
		regions = append(regions, Region{
			Bounds:      gocv.BoundingRect(c),
			Area:        area,
			Significant: area > minArea,
		})
	}
	return regions
}

func clampUnit(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// EncodeJPEG encodes a matrix as JPEG bytes.
func EncodeJPEG(m gocv.Mat) ([]byte, error) {
	return encode(gocv.JPEGFileExt, m)
}

// EncodePNG encodes a matrix as PNG bytes.
func EncodePNG(m gocv.Mat) ([]byte, error) {
	return encode(gocv.PNGFileExt, m)
}

func encode(ext gocv.FileExt, m gocv.Mat) ([]byte, error) {
	if m.Empty() {
		return nil, ErrEmptyImage
	}
	buf, err := gocv.IMEncode(ext, m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", ext, err)
	}
	defer buf.Close()
	return append([]byte(nil), buf.GetBytes()...), nil
}
