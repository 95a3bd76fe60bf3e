// Package cli implements the command-line expression grammar (spec §6):
// a hand-rolled recursive-descent scanner over argv, because find's
// grammar interleaves positional paths, prefix tests, and parenthesized
// sub-expressions in a way that doesn't map onto a flag-parsing library's
// declarative model (see the module's design notes for why
// spf13/cobra/pflag were left out in favor of this parser).
//
// Grounded on the teacher's lib/rest/url_parse-style small recursive
// descent helpers for error-carrying parsers, and fs/filter's precedence
// handling of include/exclude rule lists (fs/filter_test.go), generalized
// from a flat rule list into full operator precedence with parentheses.
package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/docker/go-units"

	"github.com/lamby/bfs/internal/expr"
	"github.com/lamby/bfs/internal/format"
	"github.com/lamby/bfs/internal/fserrors"
	"github.com/lamby/bfs/internal/fstype"
	"github.com/lamby/bfs/internal/walk"
)

// Options collects the global (non-expression) settings gathered while
// scanning argv: root paths, traversal mode, and the optimizer level.
type Options struct {
	Roots        []string
	Optimize     int
	Follow       walk.FollowMode
	Xdev         bool
	DetectCycles bool
	MinDepth     int
	MaxDepth     int // -1 means unbounded
	Daystart     bool
	PostOrder    bool // -depth: visit a directory's contents before the directory itself

	// NormalizeUnicode enables -unicode-normalize: rewrite directory
	// entry names to NFC before they reach any test, so a name test
	// against a literal in the argv matches regardless of whether the
	// underlying filesystem stores it composed or decomposed.
	NormalizeUnicode bool
}

// DefaultOptions returns the find-compatible defaults (spec §6): -P
// symlink handling, optimizer level 2, no depth bounds.
func DefaultOptions() Options {
	return Options{Optimize: 2, Follow: walk.FollowNone, MaxDepth: -1, DetectCycles: true}
}

// parser holds scanning state over one argv slice.
type parser struct {
	args []string
	pos  int
	opts Options
	env  *format.Env
	out  io.Writer
	now  time.Time
}

// Parse scans args (os.Args[1:]) into an expression tree and the global
// Options that go with it. out is where -print/-printf write by default;
// resolver backs %F; now anchors every relative time test (-mtime,
// -daystart, ...) to a single instant for the whole run.
func Parse(args []string, out io.Writer, resolver fstype.Resolver, now time.Time) (*expr.Node, Options, error) {
	p := &parser{args: args, opts: DefaultOptions(), env: format.NewEnv(resolver), out: out, now: now}
	if err := p.scanRoots(); err != nil {
		return nil, p.opts, err
	}
	if p.atEnd() {
		return nil, p.opts, nil
	}
	root, err := p.parseComma()
	if err != nil {
		return nil, p.opts, err
	}
	if !p.atEnd() {
		return nil, p.opts, fserrors.New(fserrors.KindProtocol, fmt.Errorf("unexpected argument %q", p.peek()))
	}
	if p.opts.Daystart {
		p.now = startOfDay(p.now)
	}
	return root, p.opts, nil
}

func (p *parser) atEnd() bool { return p.pos >= len(p.args) }

func (p *parser) peek() string {
	if p.atEnd() {
		return ""
	}
	return p.args[p.pos]
}

func (p *parser) advance() string {
	tok := p.peek()
	p.pos++
	return tok
}

// scanRoots consumes leading positional arguments that aren't
// expression syntax: anything before the first '-', '(', or '!' token is
// a root path (spec §6 "find [path...] [expression]"). At least one root
// is implied: if none are given, "." is used.
func (p *parser) scanRoots() error {
	for !p.atEnd() {
		tok := p.peek()
		if strings.HasPrefix(tok, "-") || tok == "(" || tok == "!" {
			break
		}
		p.opts.Roots = append(p.opts.Roots, p.advance())
	}
	if len(p.opts.Roots) == 0 {
		p.opts.Roots = []string{"."}
	}
	return nil
}

// parseComma handles the lowest-precedence ',' operator: list every
// expression's result, evaluating all of them for side effects but
// keeping only the last as the overall boolean (spec §4.4).
func (p *parser) parseComma() (*expr.Node, error) {
	left, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	for p.peek() == "," {
		p.advance()
		right, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		left = expr.Comma(left, right)
	}
	return left, nil
}

func (p *parser) parseOr() (*expr.Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek() == "-o" || p.peek() == "-or" {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = expr.Or(left, right)
	}
	return left, nil
}

// parseAnd handles both explicit -a/-and and implicit concatenation
// (two primaries back to back mean "and", spec §4.4).
func (p *parser) parseAnd() (*expr.Node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		if tok == "-a" || tok == "-and" {
			p.advance()
		} else if p.startsPrimary(tok) {
			// implicit and: fall through without consuming
		} else {
			break
		}
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = expr.And(left, right)
	}
	return left, nil
}

func (p *parser) startsPrimary(tok string) bool {
	if tok == "" {
		return false
	}
	if tok == ")" || tok == "," || tok == "-o" || tok == "-or" || tok == "-a" || tok == "-and" {
		return false
	}
	return true
}

func (p *parser) parseNot() (*expr.Node, error) {
	if p.peek() == "!" || p.peek() == "-not" {
		p.advance()
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return expr.Not(operand), nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (*expr.Node, error) {
	tok := p.peek()
	switch tok {
	case "":
		return nil, fserrors.New(fserrors.KindProtocol, fmt.Errorf("unexpected end of expression"))
	case "(":
		p.advance()
		inner, err := p.parseComma()
		if err != nil {
			return nil, err
		}
		if p.peek() != ")" {
			return nil, fserrors.New(fserrors.KindProtocol, fmt.Errorf("expected ')'"))
		}
		p.advance()
		return inner, nil
	}
	return p.parseLeaf()
}

// startOfDay implements -daystart's reference-time adjustment (spec
// §9.1): time-based tests measure from the start of today rather than
// from the exact process-start instant.
func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// requireArg consumes exactly one argument following the already-consumed
// token name, erroring with a protocol-kind error (spec §7) if none remains.
func (p *parser) requireArg(name string) (string, error) {
	if p.atEnd() {
		return "", fserrors.New(fserrors.KindProtocol, fmt.Errorf("%s: missing argument", name))
	}
	return p.advance(), nil
}

// parseIntComparison parses a find-style signed numeric comparison
// argument (e.g. "+1000", "-1000", "1000") used by -uid/-gid.
func parseIntComparison(s string) (cmp func(n, ref int64) bool, ref int64, err error) {
	cmpFn, rest := parseComparison(s)
	n, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return nil, 0, fmt.Errorf("invalid numeric argument %q", s)
	}
	return cmpFn, n, nil
}

func parseComparison(s string) (cmp func(n, ref int64) bool, value string) {
	switch {
	case strings.HasPrefix(s, "+"):
		return func(n, ref int64) bool { return n > ref }, s[1:]
	case strings.HasPrefix(s, "-"):
		return func(n, ref int64) bool { return n < ref }, s[1:]
	default:
		return func(n, ref int64) bool { return n == ref }, s
	}
}

// parseSize parses find's -size argument: an optional +/- comparison
// prefix and a trailing unit suffix (b=512B blocks, c=bytes, k=KiB,
// M=MiB, G=GiB; no suffix means 512B blocks), delegating the numeric
// unit math to github.com/docker/go-units rather than hand-rolling
// multiplier tables.
func parseSize(s string) (cmp func(n, ref int64) bool, bytesPerUnit int64, count int64, err error) {
	cmpFn, rest := parseComparison(s)
	unit := int64(512)
	numPart := rest
	if len(rest) > 0 {
		switch rest[len(rest)-1] {
		case 'b':
			unit, numPart = 512, rest[:len(rest)-1]
		case 'c':
			unit, numPart = 1, rest[:len(rest)-1]
		case 'k':
			unit, numPart = units.KiB, rest[:len(rest)-1]
		case 'M':
			unit, numPart = units.MiB, rest[:len(rest)-1]
		case 'G':
			unit, numPart = units.GiB, rest[:len(rest)-1]
		}
	}
	n, err := strconv.ParseInt(numPart, 10, 64)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("-size: invalid count %q", s)
	}
	return cmpFn, unit, n, nil
}

// parsePermArg parses find's -perm argument: a bare octal mode means an
// exact match, a "-" prefix means "all of these bits are set", and a
// "/" prefix means "any of these bits are set".
func parsePermArg(s string) (match func(mode, want uint32) bool, want uint32, err error) {
	digits := s
	match = func(mode, want uint32) bool { return mode == want }
	switch {
	case strings.HasPrefix(s, "-"):
		digits = s[1:]
		match = func(mode, want uint32) bool { return mode&want == want }
	case strings.HasPrefix(s, "/"):
		digits = s[1:]
		match = func(mode, want uint32) bool { return want == 0 || mode&want != 0 }
	}
	n, err := strconv.ParseUint(digits, 8, 32)
	if err != nil {
		return nil, 0, fmt.Errorf("-perm: invalid mode %q", s)
	}
	return match, uint32(n), nil
}

// parseTimeSpan parses find's -mtime/-atime/-ctime N argument (a count
// of whole 24h periods, signed the same way -size is).
func parseTimeSpan(s string) (cmp func(actual, ref time.Duration) bool, days int64, err error) {
	cmpFn, rest := parseComparison(s)
	n, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return nil, 0, fmt.Errorf("invalid day count %q", s)
	}
	return func(actual, ref time.Duration) bool { return cmpFn(int64(actual), int64(ref)) }, n, nil
}
