package extractor

import "testing"

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{"  inv-2024-0001. ", "INV_0002", "(Bill #: 0003)", ""}
	for _, in := range inputs {
		once := Normalize(in)
		twice := Normalize(once)
		if once != twice {
			t.Errorf("Normalize not idempotent for %q: once=%q twice=%q", in, once, twice)
		}
	}
}

func TestNormalize_StripsPunctuationAndCase(t *testing.T) {
	got := Normalize("  inv-2024-0001. ")
	want := "INV-2024-0001"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestDedupePreserveOrder(t *testing.T) {
	in := []string{"INV-0001", "inv-0001", " INV-0002 ", "INV-0001", "INV-0003"}
	got := DedupePreserveOrder(in)
	want := []string{"INV-0001", "INV-0002", "INV-0003"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("index %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestDedupePreserveOrder_DropsEmpty(t *testing.T) {
	got := DedupePreserveOrder([]string{"", "   ", "INV-0001"})
	if len(got) != 1 || got[0] != "INV-0001" {
		t.Fatalf("expected only INV-0001, got %v", got)
	}
}
