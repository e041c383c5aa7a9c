package report

// Page geometry in millimetres (A4 portrait).
const (
	ImageX    = 20.0
	ImageY    = 110.0
	ImageMaxW = 170.0
	ImageMaxH = 100.0
)

// Box is a placed rectangle in millimetres.
type Box struct {
	X, Y, W, H float64
}

// FitWithin scales (w, h) down to fit inside (maxW, maxH) keeping the aspect
// ratio: first to the width limit, then to the height limit. It never
// upscales.
func FitWithin(w, h, maxW, maxH float64) (float64, float64) {
	if w > maxW {
		h *= maxW / w
		w = maxW
	}
	if h > maxH {
		w *= maxH / h
		h = maxH
	}
	return w, h
}
