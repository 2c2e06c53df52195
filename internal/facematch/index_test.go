package facematch

import "testing"

func indexFixture(t *testing.T) []Candidate {
	t.Helper()
	c := NewCodec(4)
	var out []Candidate
	for i, id := range []string{"001", "002", "003"} {
		var sigs []Signature
		for k := range 2 {
			sig, err := c.Encode(makeLandmarks(4, float64(i*10+k+1)))
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			sigs = append(sigs, sig)
		}
		out = append(out, Candidate{ID: id, Signatures: sigs})
	}
	return out
}

func TestSignatureIndex_Empty(t *testing.T) {
	x := NewSignatureIndex()
	x.Build(nil)

	if x.Len() != 0 {
		t.Errorf("Len() = %d, want 0", x.Len())
	}
	if got := x.Candidates(Signature{1, 0, 0}, 1); got != nil {
		t.Errorf("Candidates() on empty index = %v, want nil", got)
	}
	if m := x.Match(Signature{1, 0, 0}); m.Found {
		t.Errorf("Match() on empty index found %+v", m)
	}
}

func TestSignatureIndex_MatchAgreesWithExactScan(t *testing.T) {
	candidates := indexFixture(t)
	x := NewSignatureIndex()
	x.Build(candidates)

	if x.Len() != 6 {
		t.Fatalf("Len() = %d, want 6", x.Len())
	}

	for _, c := range candidates {
		for _, sig := range c.Signatures {
			exact := FindBestMatch(sig, candidates)
			approx := x.Match(sig)
			if approx.ID != exact.ID {
				t.Errorf("index match %q, exact match %q", approx.ID, exact.ID)
			}
			if approx.ID != c.ID {
				t.Errorf("query from %q matched %q", c.ID, approx.ID)
			}
		}
	}
}

func TestSignatureIndex_SkipsMismatchedDimensions(t *testing.T) {
	x := NewSignatureIndex()
	x.Build([]Candidate{
		{ID: "001", Signatures: []Signature{{1, 0, 0}}},
		{ID: "002", Signatures: []Signature{{1, 0}}},
	})

	if x.Len() != 1 {
		t.Errorf("Len() = %d, want 1", x.Len())
	}
	if got := x.Candidates(Signature{1, 0}, 1); got != nil {
		t.Errorf("query with wrong dimension returned %v", got)
	}
}
