package facematch

// BBox is an axis-aligned [x1, y1, x2, y2] box in the detector's image coordinates.
type BBox [4]float64

// Bounds returns the box enclosing all landmarks in the x/y plane.
// Empty input yields a zero box.
func Bounds(landmarks Landmarks) BBox {
	if len(landmarks) == 0 {
		return BBox{}
	}
	b := BBox{landmarks[0].X, landmarks[0].Y, landmarks[0].X, landmarks[0].Y}
	for _, p := range landmarks[1:] {
		b[0] = min(b[0], p.X)
		b[1] = min(b[1], p.Y)
		b[2] = max(b[2], p.X)
		b[3] = max(b[3], p.Y)
	}
	return b
}
