package cli

import "testing"

func TestGlobToRegexpNameMode(t *testing.T) {
	cases := []struct {
		pattern string
		input   string
		want    bool
	}{
		{"*.go", "main.go", true},
		{"*.go", "sub/main.go", false}, // '*' must not cross '/'
		{"foo?", "foo1", true},
		{"foo?", "foo12", false},
		{"[abc].txt", "a.txt", true},
		{"[abc].txt", "d.txt", false},
		{"[!abc].txt", "d.txt", true},
		{"[!abc].txt", "a.txt", false},
	}
	for _, c := range cases {
		re, err := globToRegexp(c.pattern, false)
		if err != nil {
			t.Fatalf("globToRegexp(%q) error: %v", c.pattern, err)
		}
		got := re.MatchString(c.input)
		if got != c.want {
			t.Errorf("glob %q against %q = %v, want %v", c.pattern, c.input, got, c.want)
		}
	}
}

func TestGlobToRegexpPathMode(t *testing.T) {
	re, err := globToRegexp("*/main.go", true)
	if err != nil {
		t.Fatal(err)
	}
	if !re.MatchString("sub/main.go") {
		t.Errorf("path-mode '*' should cross '/'")
	}
}
