package auth

import "testing"

func TestNewHexID_LengthAndUniqueness(t *testing.T) {
	a, err := newHexID()
	if err != nil {
		t.Fatalf("newHexID: %v", err)
	}
	b, err := newHexID()
	if err != nil {
		t.Fatalf("newHexID: %v", err)
	}
	if len(a) != sessionTaskIDBytes*2 {
		t.Fatalf("expected %d hex chars, got %d", sessionTaskIDBytes*2, len(a))
	}
	if a == b {
		t.Fatal("expected two successive ids to differ")
	}
}
