package security

import "testing"

func TestHashToken_Deterministic(t *testing.T) {
	a := HashToken("rt_abc")
	b := HashToken("rt_abc")
	if a != b {
		t.Errorf("HashToken not deterministic: %q vs %q", a, b)
	}
	if len(a) != 64 {
		t.Errorf("HashToken length = %d, want 64", len(a))
	}
	if HashToken("rt_abd") == a {
		t.Error("different tokens hashed equal")
	}
}

func TestTokenHashEqual(t *testing.T) {
	stored := HashToken("pr_secret")
	if !TokenHashEqual("pr_secret", stored) {
		t.Error("TokenHashEqual: want true for matching token")
	}
	if TokenHashEqual("pr_other", stored) {
		t.Error("TokenHashEqual: want false for different token")
	}
}
