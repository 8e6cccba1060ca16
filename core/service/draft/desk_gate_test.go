package draft

import "testing"

func TestDecide(t *testing.T) {
	tests := []struct {
		name       string
		confidence int
		threshold  int
		want       bool
	}{
		{"above threshold", 95, 85, true},
		{"exactly at threshold", 85, 85, true},
		{"just below threshold", 84, 85, false},
		{"well below threshold", 40, 85, false},
		{"zero confidence", 0, 85, false},
		{"custom threshold met", 70, 60, true},
		{"custom threshold missed", 50, 60, false},
		{"zero threshold uses default", 85, 0, true},
		{"zero threshold below default", 84, 0, false},
		{"negative threshold uses default", 90, -1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Decide(tt.confidence, tt.threshold)
			if got.AutoSend != tt.want {
				t.Errorf("Decide(%d, %d).AutoSend = %v, want %v",
					tt.confidence, tt.threshold, got.AutoSend, tt.want)
			}
		})
	}
}

func TestDecideMonotonic(t *testing.T) {
	// Raising confidence never flips the gate from send to hold.
	prev := false
	for c := 0; c <= 100; c++ {
		cur := Decide(c, 85).AutoSend
		if prev && !cur {
			t.Fatalf("gate regressed at confidence %d", c)
		}
		prev = cur
	}
}
