package variants

import "testing"

func TestNormalizeForAggregation_StripsAccentsAndPunctuation(t *testing.T) {
	got := NormalizeForAggregation("Ἐν ἀρχῇ ἦν ὁ λόγος,")
	want := NormalizeForAggregation("εν αρχη ην ο λογος")
	if got != want {
		t.Fatalf("accented and unaccented forms should normalize equal: %q vs %q", got, want)
	}
}

func TestNormalizeForAggregation_CollapsesWhitespace(t *testing.T) {
	got := NormalizeForAggregation("λογος   εν   αρχη")
	want := "λογος εν αρχη"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestNormalizeForAggregation_Lowercases(t *testing.T) {
	got := NormalizeForAggregation("ΛΟΓΟΣ")
	if got != "λογος" {
		t.Fatalf("got %q", got)
	}
}

func TestStripAccents_KeepsCase(t *testing.T) {
	got := StripAccents("Ἐν")
	if got != "Εν" {
		t.Fatalf("got %q, want Εν", got)
	}
}
