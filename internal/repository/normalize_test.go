package repository

import "testing"

func TestCanonicalizeName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Django", "django"},
		{"foo_bar", "foo-bar"},
		{"foo.bar", "foo-bar"},
		{"foo--bar", "foo-bar"},
		{"Foo__.-Bar", "foo-bar"},
		{"numpy", "numpy"},
		{"A", "a"},
		{"zope.interface", "zope-interface"},
	}
	for _, tt := range tests {
		if got := CanonicalizeName(tt.in); got != tt.want {
			t.Errorf("CanonicalizeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCanonicalizeNameIdempotent(t *testing.T) {
	for _, name := range []string{"Some_Project.Name", "already-canonical", "UPPER"} {
		once := CanonicalizeName(name)
		if twice := CanonicalizeName(once); twice != once {
			t.Errorf("CanonicalizeName(%q): %q then %q, want a fixed point", name, once, twice)
		}
	}
}
