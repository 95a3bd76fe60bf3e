package expr

// Optimize rewrites n according to level (0-4, spec §4.4):
//
//	0  no rewriting at all — evaluate exactly as parsed.
//	1  constant folding (and/or/not over True/False collapse to their
//	   constant result, always safe since True/False carry no side
//	   effects; a pure left operand beside a forcing right constant is
//	   dropped too, so and(pureA, False) -> False and or(pureA, True) ->
//	   True) plus De Morgan's laws, pushing a -not down toward the
//	   leaves it negates so later folding can see through it:
//	   not(and(a,b)) -> or(not a, not b), not(or(a,b)) -> and(not a, not
//	   b), not(not a) -> a.
//	2  purity-based elimination: a pure left-hand side of a comma
//	   sequence — which contributes nothing but a discarded boolean — is
//	   dropped, and True/False identity operands of and/or are dropped
//	   again.
//	3  no additional rewriting beyond level 2.
//	4  a fully pure expression (no test or action with a side effect)
//	   can only ever decide whether to print; once nothing about its
//	   result is observable beyond that one decision, the whole tree is
//	   replaced outright with always-false.
func Optimize(n *Node, level int) *Node {
	if n == nil || level <= 0 {
		return n
	}
	n = foldConstants(n)
	n = deMorgan(n)
	if level >= 2 {
		n = pruneDead(n)
	}
	if level >= 4 && IsPure(n) {
		return False
	}
	return n
}

// foldConstants implements level 1's constant collapsing.
func foldConstants(n *Node) *Node {
	switch n.Kind {
	case KindTest, KindAction, KindTrue, KindFalse:
		return n
	case KindNot:
		l := foldConstants(n.Left)
		switch l {
		case True:
			return False
		case False:
			return True
		}
		return &Node{Kind: KindNot, Left: l}
	case KindAnd:
		l := foldConstants(n.Left)
		r := foldConstants(n.Right)
		if l == False {
			return False
		}
		if r == False && IsPure(l) {
			return False
		}
		if l == True {
			return r
		}
		if r == True {
			return l
		}
		return &Node{Kind: KindAnd, Left: l, Right: r}
	case KindOr:
		l := foldConstants(n.Left)
		r := foldConstants(n.Right)
		if l == True {
			return True
		}
		if r == True && IsPure(l) {
			return True
		}
		if l == False {
			return r
		}
		if r == False {
			return l
		}
		return &Node{Kind: KindOr, Left: l, Right: r}
	case KindComma:
		return &Node{Kind: KindComma, Left: foldConstants(n.Left), Right: foldConstants(n.Right)}
	default:
		return n
	}
}

// deMorgan implements level 1's law rewriting: not(and(a,b)) ->
// or(not a, not b), not(or(a,b)) -> and(not a, not b), not(not a) -> a.
// Only applied when every operand involved is pure, since the rewrite
// changes which operand short-circuits first.
func deMorgan(n *Node) *Node {
	switch n.Kind {
	case KindNot:
		l := deMorgan(n.Left)
		if l.Kind == KindNot {
			return l.Left
		}
		if l.Kind == KindAnd && IsPure(l.Left) && IsPure(l.Right) {
			return &Node{Kind: KindOr, Left: Not(l.Left), Right: Not(l.Right)}
		}
		if l.Kind == KindOr && IsPure(l.Left) && IsPure(l.Right) {
			return &Node{Kind: KindAnd, Left: Not(l.Left), Right: Not(l.Right)}
		}
		return &Node{Kind: KindNot, Left: l}
	case KindAnd, KindOr, KindComma:
		return &Node{Kind: n.Kind, Left: deMorgan(n.Left), Right: deMorgan(n.Right)}
	default:
		return n
	}
}

// pruneDead implements level 2's purity-based elimination: it drops a
// pure left-hand side of a comma sequence that has no observable effect
// of its own, and drops True operands of and / False operands of or
// (identity operands level 1 normally removes already).
func pruneDead(n *Node) *Node {
	switch n.Kind {
	case KindAnd:
		l, r := pruneDead(n.Left), pruneDead(n.Right)
		if l == True {
			return r
		}
		if r == True && IsPure(l) {
			return l
		}
		return &Node{Kind: KindAnd, Left: l, Right: r}
	case KindOr:
		l, r := pruneDead(n.Left), pruneDead(n.Right)
		if l == False {
			return r
		}
		if r == False {
			return l
		}
		return &Node{Kind: KindOr, Left: l, Right: r}
	case KindNot:
		return &Node{Kind: KindNot, Left: pruneDead(n.Left)}
	case KindComma:
		l, r := pruneDead(n.Left), pruneDead(n.Right)
		if IsPure(l) {
			// A pure left-hand side of a comma contributes nothing but
			// its own (discarded) boolean result; comma's value is
			// always the right side, so a pure, action-free left can
			// be dropped entirely.
			return r
		}
		return &Node{Kind: KindComma, Left: l, Right: r}
	default:
		return n
	}
}
