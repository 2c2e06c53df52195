package facematch

import (
	"math"
	"slices"
	"strconv"
	"strings"
)

// MaxDistance is the distance between opposite signatures. Mismatched,
// empty or all-zero inputs are reported at this distance.
const MaxDistance = 2.0

// dotNorms returns a·b, |a|² and |b|² in one pass.
func dotNorms(a, b Signature) (dot, aa, bb float64) {
	for i, av := range a {
		x, y := float64(av), float64(b[i])
		dot += x * y
		aa += x * x
		bb += y * y
	}
	return dot, aa, bb
}

// CosineDistance is 1 - cos(a, b), clamped to [0, MaxDistance].
// Inputs need not be unit length.
func CosineDistance(a, b Signature) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return MaxDistance
	}
	dot, aa, bb := dotNorms(a, b)
	if aa == 0 || bb == 0 {
		return MaxDistance
	}
	cos := dot / math.Sqrt(aa*bb)
	return 1 - min(max(cos, -1), 1)
}

// MinDistance returns the best-of-K distance from query to any of sigs,
// or +Inf when sigs is empty.
func MinDistance(query Signature, sigs []Signature) float64 {
	best := math.Inf(1)
	for _, s := range sigs {
		if d := CosineDistance(query, s); d < best {
			best = d
		}
	}
	return best
}

// CompareIDs orders identity ids numerically when both are numeric and
// lexically otherwise. Numeric ids sort before non-numeric ones.
func CompareIDs(a, b string) int {
	na, errA := strconv.Atoi(a)
	nb, errB := strconv.Atoi(b)
	switch {
	case errA == nil && errB == nil:
		if na != nb {
			if na < nb {
				return -1
			}
			return 1
		}
		return strings.Compare(a, b)
	case errA == nil:
		return -1
	case errB == nil:
		return 1
	default:
		return strings.Compare(a, b)
	}
}

// SortCandidates sorts candidates in place by ascending id.
func SortCandidates(candidates []Candidate) {
	slices.SortStableFunc(candidates, func(a, b Candidate) int {
		return CompareIDs(a.ID, b.ID)
	})
}

// FindBestMatch scores every candidate by its best-of-K distance to query and
// returns the closest one. Candidates are scanned in ascending id order and an
// exactly equal distance keeps the earlier id. Candidates without signatures
// are skipped.
func FindBestMatch(query Signature, candidates []Candidate) Match {
	ordered := slices.Clone(candidates)
	SortCandidates(ordered)

	m := Match{Distance: math.Inf(1), SecondDistance: math.Inf(1)}
	for _, c := range ordered {
		if len(c.Signatures) == 0 {
			continue
		}
		d := MinDistance(query, c.Signatures)
		switch {
		case !m.Found || d < m.Distance:
			if m.Found {
				m.SecondDistance = m.Distance
			}
			m.ID, m.Distance, m.Found = c.ID, d, true
		case d < m.SecondDistance:
			m.SecondDistance = d
		}
	}
	return m
}
