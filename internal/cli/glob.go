package cli

import (
	"regexp"
	"strings"
)

// globToRegexp translates a shell glob (as used by -name/-iname/-path)
// into an anchored regular expression, grounded on the teacher's
// fs/glob_test.go expectations for globToRegexp: '*' matches any run of
// characters except '/', '?' matches exactly one such character, and
// '[...]'/'[!...]' character classes pass through to RE2 almost
// unchanged (only '!' needs rewriting to '^'). With pathMode set (as for
// -path/-ipath), '*' and '?' match '/' as well.
func globToRegexp(glob string, pathMode bool) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteByte('^')
	runes := []rune(glob)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch c {
		case '*':
			if pathMode {
				b.WriteString(".*")
			} else {
				b.WriteString("[^/]*")
			}
		case '?':
			if pathMode {
				b.WriteString(".")
			} else {
				b.WriteString("[^/]")
			}
		case '[':
			j := i + 1
			neg := false
			if j < len(runes) && (runes[j] == '!' || runes[j] == '^') {
				neg = true
				j++
			}
			start := j
			for j < len(runes) && runes[j] != ']' {
				j++
			}
			if j >= len(runes) {
				// Unterminated class: treat '[' as a literal.
				b.WriteString(regexp.QuoteMeta("["))
				continue
			}
			class := string(runes[start:j])
			b.WriteByte('[')
			if neg {
				b.WriteByte('^')
			}
			b.WriteString(escapeClassBody(class))
			b.WriteByte(']')
			i = j
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	b.WriteByte('$')
	return regexp.Compile(b.String())
}

// escapeClassBody passes most bracket-expression characters through
// untouched (ranges like "a-z" must survive). Only a backslash is
// escaped; the closing bracket cannot occur, because the scan above ends
// the class at the first ']'.
func escapeClassBody(s string) string {
	return strings.ReplaceAll(s, `\`, `\\`)
}
