package p2p

import "testing"

func TestChoosePortIsDeterministic(t *testing.T) {
	p1 := ChoosePort("123456789")
	p2 := ChoosePort("123456789")
	p3 := ChoosePort("987654321")

	if p1 != p2 {
		t.Fatalf("ChoosePort not deterministic: %d vs %d", p1, p2)
	}
	if p1 == p3 {
		t.Fatalf("different device ids collided on port %d (unlikely but check the hash)", p1)
	}
	if p1 < portRangeBase {
		t.Fatalf("port %d below range floor %d", p1, portRangeBase)
	}
}
