package id

import "testing"

func TestNextIsMonotonic(t *testing.T) {
	g := NewGenerator()
	prev := g.Next()
	for i := 0; i < 1000; i++ {
		cur := g.Next()
		if cur.String() <= prev.String() {
			t.Fatalf("ids not strictly increasing: %s then %s", prev, cur)
		}
		prev = cur
	}
}

func TestParseRoundtrip(t *testing.T) {
	g := NewGenerator()
	want := g.Next()
	got, err := Parse(want.String())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got != want {
		t.Fatalf("roundtrip mismatch: %s vs %s", got, want)
	}
}

func TestParseRejectsBadInput(t *testing.T) {
	if _, err := Parse("short"); err == nil {
		t.Fatalf("expected error for short input")
	}
	if _, err := Parse("zz000000000000000000000000000000"); err == nil {
		t.Fatalf("expected error for non-hex input")
	}
}

func TestClockGoingBackwards(t *testing.T) {
	g := NewGenerator()
	orig := NowMs
	defer func() { NowMs = orig }()

	now := int64(5_000)
	NowMs = func() int64 { return now }

	a := g.Next()
	now = 4_000 // clock skew
	b := g.Next()
	if b.Compare(a) <= 0 {
		t.Fatalf("expected b > a despite clock skew")
	}
}
