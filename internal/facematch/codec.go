package facematch

import (
	"fmt"
	"math"
)

// normEpsilon is the smallest flattened-landmark norm accepted by Encode.
const normEpsilon = 1e-9

// Codec encodes landmark lists into signatures.
type Codec struct {
	LandmarkCount int
}

// NewCodec returns a Codec expecting landmarkCount points per face.
// A non-positive count selects DefaultLandmarkCount.
func NewCodec(landmarkCount int) Codec {
	if landmarkCount <= 0 {
		landmarkCount = DefaultLandmarkCount
	}
	return Codec{LandmarkCount: landmarkCount}
}

// Dim returns the signature dimension (3 coordinates per landmark).
func (c Codec) Dim() int {
	return c.LandmarkCount * 3
}

// Encode flattens landmarks into x,y,z order and scales the vector to unit length.
// No centering is applied.
func (c Codec) Encode(landmarks Landmarks) (Signature, error) {
	if len(landmarks) == 0 {
		return nil, ErrNoFaceDetected
	}
	if len(landmarks) != c.LandmarkCount {
		return nil, fmt.Errorf("%w: got %d landmarks, want %d", ErrMalformedInput, len(landmarks), c.LandmarkCount)
	}

	flat := make([]float64, 0, len(landmarks)*3)
	var sum float64
	for i, p := range landmarks {
		for _, v := range [3]float64{p.X, p.Y, p.Z} {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("%w: landmark %d has non-finite coordinate", ErrMalformedInput, i)
			}
			flat = append(flat, v)
			sum += v * v
		}
	}

	norm := math.Sqrt(sum)
	if norm < normEpsilon {
		return nil, ErrDegenerateInput
	}

	sig := make(Signature, len(flat))
	for i, v := range flat {
		sig[i] = float32(v / norm)
	}
	return sig, nil
}

// EncodeAll encodes every landmark set, failing on the first error.
// The returned error carries the 1-based index of the offending set.
func (c Codec) EncodeAll(sets []Landmarks) ([]Signature, error) {
	sigs := make([]Signature, 0, len(sets))
	for i, l := range sets {
		sig, err := c.Encode(l)
		if err != nil {
			return nil, fmt.Errorf("capture %d: %w", i+1, err)
		}
		sigs = append(sigs, sig)
	}
	return sigs, nil
}
