package fstype

import "testing"

func TestStaticResolverAlwaysReturnsName(t *testing.T) {
	r := Static("overlay")
	name, err := r.Resolve("/any/path")
	if err != nil {
		t.Fatal(err)
	}
	if name != "overlay" {
		t.Errorf("got %q, want overlay", name)
	}
}
