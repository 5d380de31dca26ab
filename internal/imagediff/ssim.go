package imagediff

import (
	"fmt"
	"image"
	"math"

	"gocv.io/x/gocv"
)

const (
	ssimK1        = 0.01
	ssimK2        = 0.03
	ssimDataRange = 255.0
)

// matPool tracks scratch matrices so they can be released together.
type matPool struct {
	mats []gocv.Mat
}

func (p *matPool) get() gocv.Mat {
	m := gocv.NewMat()
	p.mats = append(p.mats, m)
	return m
}

func (p *matPool) Close() {
	for i := range p.mats {
		p.mats[i].Close()
	}
	p.mats = nil
}

// SSIM computes the mean structural similarity of two single-channel
// matrices of identical shape, and the per-pixel similarity map (CV64F).
//
// Local statistics use a uniform window of side window with sample
// covariance normalisation. The score averages the map after cropping
// window/2 pixels from every border, where the window would leave the
// image. The caller owns the returned map.
func SSIM(a, b gocv.Mat, window int) (float64, gocv.Mat, error) {
	if a.Empty() || b.Empty() {
		return 0, gocv.NewMat(), ErrEmptyImage
	}
	if a.Rows() != b.Rows() || a.Cols() != b.Cols() || a.Channels() != b.Channels() {
		return 0, gocv.NewMat(), fmt.Errorf("%w: %v vs %v", ErrShapeMismatch, shapeOf(a), shapeOf(b))
	}
	if a.Channels() != 1 {
		return 0, gocv.NewMat(), fmt.Errorf("ssim expects single-channel input, got %d channels", a.Channels())
	}
	if a.Rows() < window || a.Cols() < window {
		return 0, gocv.NewMat(), fmt.Errorf("%w: %dx%d < %d", ErrDegenerateShape, a.Cols(), a.Rows(), window)
	}

	var pool matPool
	defer pool.Close()

	x := pool.get()
	y := pool.get()
	a.ConvertTo(&x, gocv.MatTypeCV64F)
	b.ConvertTo(&y, gocv.MatTypeCV64F)

	ksize := image.Pt(window, window)
	blur := func(src gocv.Mat) gocv.Mat {
		dst := pool.get()
		gocv.Blur(src, &dst, ksize)
		return dst
	}
	mul := func(s1, s2 gocv.Mat) gocv.Mat {
		dst := pool.get()
		gocv.Multiply(s1, s2, &dst)
		return dst
	}
	// weighted returns s1*alpha + s2*beta + gamma.
	weighted := func(s1 gocv.Mat, alpha float64, s2 gocv.Mat, beta, gamma float64) gocv.Mat {
		dst := pool.get()
		gocv.AddWeighted(s1, alpha, s2, beta, gamma, &dst)
		return dst
	}

	ux := blur(x)
	uy := blur(y)
	uxx := blur(mul(x, x))
	uyy := blur(mul(y, y))
	uxy := blur(mul(x, y))

	samples := float64(window * window)
	covNorm := samples / (samples - 1)

	ux2 := mul(ux, ux)
	uy2 := mul(uy, uy)
	uxuy := mul(ux, uy)

	vx := weighted(uxx, covNorm, ux2, -covNorm, 0)
	vy := weighted(uyy, covNorm, uy2, -covNorm, 0)
	vxy := weighted(uxy, covNorm, uxuy, -covNorm, 0)

	c1 := math.Pow(ssimK1*ssimDataRange, 2)
	c2 := math.Pow(ssimK2*ssimDataRange, 2)

	a1 := weighted(uxuy, 2, uxuy, 0, c1)
	a2 := weighted(vxy, 2, vxy, 0, c2)
	b1 := weighted(ux2, 1, uy2, 1, c1)
	b2 := weighted(vx, 1, vy, 1, c2)

	num := mul(a1, a2)
	den := mul(b1, b2)

	ssimMap := gocv.NewMat()
	gocv.Divide(num, den, &ssimMap)
	if ssimMap.Empty() {
		ssimMap.Close()
		return 0, gocv.NewMat(), fmt.Errorf("ssim map computation failed")
	}

	pad := (window - 1) / 2
	interior := ssimMap.Region(image.Rect(pad, pad, ssimMap.Cols()-pad, ssimMap.Rows()-pad))
	score := interior.Mean().Val1
	interior.Close()

	if math.IsNaN(score) || math.IsInf(score, 0) {
		ssimMap.Close()
		return 0, gocv.NewMat(), fmt.Errorf("ssim score is not finite")
	}
	return score, ssimMap, nil
}
