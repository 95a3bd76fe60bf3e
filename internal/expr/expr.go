// Package expr implements the expression tree of tests and actions (spec
// §4.4): a small tagged tree with short-circuit boolean combinators, and
// an optimizer that folds constant subexpressions using purity
// information attached to each leaf.
//
// Grounded on the teacher's fs/filter package (rule lists combined with
// include/exclude short-circuit logic, referenced by fs/filter_test.go)
// and fs/glob_test.go's globToRegexp, generalized from a single
// include/exclude decision into a full boolean expression tree.
package expr

import "github.com/lamby/bfs/internal/record"

// Kind tags a Node's variant.
type Kind int

// Node kinds, per spec §4.4.
const (
	KindTest Kind = iota
	KindAction
	KindAnd
	KindOr
	KindNot
	KindComma
	KindTrue
	KindFalse
)

// Eval is the function a leaf test or action node runs against a record.
// It returns the boolean result, or an error if the test or action could
// not be carried out.
type Eval func(*record.Record) (bool, error)

// Node is one element of the expression tree.
type Node struct {
	Kind Kind

	// Leaf fields (KindTest, KindAction).
	Name string // e.g. "-name", "-type", "-print" — for diagnostics; internal/eval matches "-prune" and "-quit" by it
	Run  Eval
	Pure bool // true if Run has no observable side effect and is safe to reorder/drop

	// Interior fields.
	Left, Right *Node // Right unused for KindNot
}

// True and False are the optimizer's canonical always-true/always-false
// singletons; folding rewrites dead subtrees to point at these rather
// than allocating fresh nodes each time.
var (
	True  = &Node{Kind: KindTrue, Name: "(true)"}
	False = &Node{Kind: KindFalse, Name: "(false)"}
)

// Test builds a leaf that only ever returns true/false and never has
// side effects worth preserving (e.g. -name, -type, -size).
func Test(name string, run Eval) *Node {
	return &Node{Kind: KindTest, Name: name, Run: run, Pure: true}
}

// Action builds a leaf with an observable side effect (e.g. -print,
// -delete); the optimizer must never drop or reorder these even when their
// boolean result is statically known.
func Action(name string, run Eval) *Node {
	return &Node{Kind: KindAction, Name: name, Run: run, Pure: false}
}

// And, Or, Not, Comma build the short-circuit combinators (spec §4.4).
func And(l, r *Node) *Node   { return &Node{Kind: KindAnd, Left: l, Right: r} }
func Or(l, r *Node) *Node    { return &Node{Kind: KindOr, Left: l, Right: r} }
func Not(n *Node) *Node      { return &Node{Kind: KindNot, Left: n} }
func Comma(l, r *Node) *Node { return &Node{Kind: KindComma, Left: l, Right: r} }

// IsPure reports whether evaluating n can ever be skipped without
// changing observable behavior: true/false sentinels and tests are pure;
// actions are not; a combinator is pure only if every reachable leaf is.
func IsPure(n *Node) bool {
	switch n.Kind {
	case KindTrue, KindFalse:
		return true
	case KindTest:
		return n.Pure
	case KindAction:
		return false
	case KindNot:
		return IsPure(n.Left)
	case KindAnd, KindOr, KindComma:
		return IsPure(n.Left) && IsPure(n.Right)
	default:
		return false
	}
}

// WithImplicitPrint wraps root the way find does when the command line
// names no action: and(root, print) (spec §4.4 "if no action appears,
// -print is implied"). The caller is expected to have already checked
// ContainsAction(root) before calling this.
func WithImplicitPrint(root *Node, print *Node) *Node {
	return And(root, print)
}

// ContainsAction reports whether n's tree has at least one KindAction
// leaf, used to decide whether WithImplicitPrint applies.
func ContainsAction(n *Node) bool {
	if n == nil {
		return false
	}
	switch n.Kind {
	case KindAction:
		return true
	case KindNot:
		return ContainsAction(n.Left)
	case KindAnd, KindOr, KindComma:
		return ContainsAction(n.Left) || ContainsAction(n.Right)
	default:
		return false
	}
}
