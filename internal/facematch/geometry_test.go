package facematch

import "testing"

func TestBounds(t *testing.T) {
	tests := []struct {
		name      string
		landmarks Landmarks
		expected  BBox
	}{
		{
			name:      "empty",
			landmarks: nil,
			expected:  BBox{},
		},
		{
			name:      "single point",
			landmarks: Landmarks{{X: 3, Y: 4, Z: 1}},
			expected:  BBox{3, 4, 3, 4},
		},
		{
			name:      "spread",
			landmarks: Landmarks{{X: 10, Y: 20}, {X: 5, Y: 40}, {X: 30, Y: 15, Z: -2}},
			expected:  BBox{5, 15, 30, 40},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Bounds(tt.landmarks); got != tt.expected {
				t.Errorf("Bounds() = %v, want %v", got, tt.expected)
			}
		})
	}
}
