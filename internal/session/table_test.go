package session

import "testing"

func TestTablePutGetRemove(t *testing.T) {
	tbl := NewTable()
	id := tbl.NextID()
	c := &Client{}

	tbl.Put(id, c)
	if got := tbl.Get(id); got != c {
		t.Fatalf("Get: got %v want %v", got, c)
	}
	if tbl.Len() != 1 {
		t.Fatalf("Len = %d, want 1", tbl.Len())
	}

	tbl.Remove(id)
	if got := tbl.Get(id); got != nil {
		t.Fatalf("Get after Remove: got %v want nil", got)
	}
	if tbl.Len() != 0 {
		t.Fatalf("Len after Remove = %d, want 0", tbl.Len())
	}
}

func TestTableFirstPutBecomesActive(t *testing.T) {
	tbl := NewTable()
	idA := tbl.NextID()
	idB := tbl.NextID()

	tbl.Put(idA, &Client{})
	tbl.Put(idB, &Client{})

	if tbl.Active() != idA {
		t.Fatalf("Active() = %q, want %q", tbl.Active(), idA)
	}
}

func TestTableActiveClearedOnRemove(t *testing.T) {
	tbl := NewTable()
	id := tbl.NextID()
	tbl.Put(id, &Client{})

	tbl.Remove(id)

	if tbl.Active() != "" {
		t.Fatalf("Active() after removing the active session = %q, want empty", tbl.Active())
	}
	if tbl.ActiveSession() != nil {
		t.Fatalf("ActiveSession() after removal should be nil")
	}
}

func TestTableSetActive(t *testing.T) {
	tbl := NewTable()
	idA := tbl.NextID()
	idB := tbl.NextID()
	cB := &Client{}

	tbl.Put(idA, &Client{})
	tbl.Put(idB, cB)
	tbl.SetActive(idB)

	if tbl.Active() != idB {
		t.Fatalf("Active() = %q, want %q", tbl.Active(), idB)
	}
	if tbl.ActiveSession() != cB {
		t.Fatalf("ActiveSession() = %v, want %v", tbl.ActiveSession(), cB)
	}
}

func TestTableNextIDUnique(t *testing.T) {
	tbl := NewTable()
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := tbl.NextID()
		if seen[id] {
			t.Fatalf("NextID produced duplicate %q", id)
		}
		seen[id] = true
	}
}
