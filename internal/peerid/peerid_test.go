package peerid

import "testing"

func TestNewGeneratesDistinctNonEmptyIds(t *testing.T) {
	a := New()
	b := New()
	if a == "" || b == "" {
		t.Fatal("expected non-empty peer ids")
	}
	if a == b {
		t.Fatal("expected two calls to New to produce distinct ids")
	}
}

func TestLessIsLexicographic(t *testing.T) {
	if !PeerId("a").Less(PeerId("b")) {
		t.Error("expected \"a\" < \"b\"")
	}
	if PeerId("b").Less(PeerId("a")) {
		t.Error("expected \"b\" not < \"a\"")
	}
}
