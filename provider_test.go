package gcpauth

import "testing"

func TestScopeKey_OrderIndependent(t *testing.T) {
	a := ScopeKey([]string{"scope1", "scope2", "scope3"})
	b := ScopeKey([]string{"scope3", "scope1", "scope2"})
	if a != b {
		t.Fatalf("ScopeKey should canonicalize ordering: %q != %q", a, b)
	}
}

func TestScopeKey_Empty(t *testing.T) {
	if k := ScopeKey(nil); k != "" {
		t.Fatalf("ScopeKey(nil) = %q, want empty string", k)
	}
}

func TestScopeKey_DistinctSets(t *testing.T) {
	a := ScopeKey([]string{"scope1"})
	b := ScopeKey([]string{"scope2"})
	if a == b {
		t.Fatalf("distinct scope sets must not collide")
	}
}

func TestJoinScopes(t *testing.T) {
	got := JoinScopes([]string{"scope1", "scope2", "scope3"})
	want := "scope1 scope2 scope3"
	if got != want {
		t.Fatalf("JoinScopes() = %q, want %q", got, want)
	}
}
