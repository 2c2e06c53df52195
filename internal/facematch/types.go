// Package facematch turns detected face landmarks into unit-length signatures
// and compares signatures by cosine distance.
package facematch

import (
	"errors"
	"math"
)

// SignaturesPerIdentity is the number of signatures (K) every enrolled identity carries.
const SignaturesPerIdentity = 5

// DefaultLandmarkCount is the landmark count of the face mesh the detector emits.
const DefaultLandmarkCount = 468

// UnitTolerance is the allowed deviation of a stored signature's norm from 1.
const UnitTolerance = 1e-4

var (
	// ErrNoFaceDetected is returned when a landmark set is empty.
	ErrNoFaceDetected = errors.New("no face detected")
	// ErrMalformedInput is returned when a landmark set has the wrong size or non-finite values.
	ErrMalformedInput = errors.New("malformed landmarks")
	// ErrDegenerateInput is returned when the flattened landmarks have (near) zero norm.
	ErrDegenerateInput = errors.New("degenerate landmarks")
)

// Point is a single 3-D landmark.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Landmarks is the ordered landmark list for one face.
type Landmarks []Point

// Signature is a unit-normalized landmark vector.
type Signature []float32

// Norm returns the L2 norm of s.
func (s Signature) Norm() float64 {
	var sum float64
	for _, v := range s {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}

// IsUnit reports whether s has unit length within tol.
func (s Signature) IsUnit(tol float64) bool {
	return math.Abs(s.Norm()-1) <= tol
}

// Candidate is one identity competing in a match, with all of its signatures.
type Candidate struct {
	ID         string
	Signatures []Signature
}

// Match is the outcome of FindBestMatch.
type Match struct {
	ID             string
	Distance       float64
	SecondDistance float64 // best distance of any other identity, +Inf if none
	Found          bool
}
