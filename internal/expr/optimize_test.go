package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lamby/bfs/internal/record"
)

func alwaysTrue(name string) *Node {
	return Test(name, func(*record.Record) (bool, error) { return true, nil })
}

func alwaysFalse(name string) *Node {
	return Test(name, func(*record.Record) (bool, error) { return false, nil })
}

func TestFoldConstantsAndShortCircuit(t *testing.T) {
	n := And(False, alwaysTrue("name"))
	got := Optimize(n, 1)
	assert.Equal(t, False, got)

	n2 := Or(True, alwaysFalse("name"))
	got2 := Optimize(n2, 1)
	assert.Equal(t, True, got2)
}

func TestFoldDropsIdentityOperands(t *testing.T) {
	leaf := alwaysTrue("type")
	n := And(True, leaf)
	got := Optimize(n, 1)
	assert.Equal(t, leaf, got)
}

func TestDeMorganRewritesPureNotAtLevelOne(t *testing.T) {
	a := alwaysTrue("a")
	b := alwaysTrue("b")
	n := Not(And(a, b))
	got := Optimize(n, 1)
	assert.Equal(t, KindOr, got.Kind)
	assert.Equal(t, KindNot, got.Left.Kind)
	assert.Equal(t, KindNot, got.Right.Kind)
}

func TestDeMorganDoubleNegationAtLevelOne(t *testing.T) {
	a := alwaysTrue("a")
	n := Not(Not(a))
	got := Optimize(n, 1)
	assert.Same(t, a, got)
}

func TestActionOnLeftSurvivesFold(t *testing.T) {
	var fired bool
	act := Action("print", func(*record.Record) (bool, error) {
		fired = true
		return true, nil
	})
	// and(act, false): short-circuit evaluation always runs act first, so
	// no optimization level may drop it even though the whole expression
	// is statically false once act has run.
	n := And(act, False)
	got := Optimize(n, 4)
	assert.False(t, IsPure(got))
	ok, err := got.evalForTest()
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, fired)
}

func TestActionNeverReachedStaysUnreached(t *testing.T) {
	var fired bool
	act := Action("print", func(*record.Record) (bool, error) {
		fired = true
		return true, nil
	})
	// and(false, act): false on the left already short-circuits the real
	// evaluator too, so folding this to the False sentinel changes
	// nothing observable — act was never going to run either way.
	n := And(False, act)
	got := Optimize(n, 4)
	assert.Equal(t, False, got)
	ok, err := got.evalForTest()
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, fired)
}

// evalForTest is a tiny local evaluator so this package's tests don't
// need to import internal/eval (which itself depends on expr), avoiding
// an import cycle while still exercising the tree the way eval.Eval
// would.
func (n *Node) evalForTest() (bool, error) {
	switch n.Kind {
	case KindTrue:
		return true, nil
	case KindFalse:
		return false, nil
	case KindTest, KindAction:
		return n.Run(nil)
	case KindNot:
		ok, err := n.Left.evalForTest()
		return !ok, err
	case KindAnd:
		ok, err := n.Left.evalForTest()
		if err != nil || !ok {
			return false, err
		}
		return n.Right.evalForTest()
	case KindOr:
		ok, err := n.Left.evalForTest()
		if err != nil || ok {
			return ok, err
		}
		return n.Right.evalForTest()
	default:
		return false, nil
	}
}

func TestContainsActionAndImplicitPrint(t *testing.T) {
	test := alwaysTrue("name")
	assert.False(t, ContainsAction(test))

	print := Action("print", func(*record.Record) (bool, error) { return true, nil })
	withPrint := WithImplicitPrint(test, print)
	assert.True(t, ContainsAction(withPrint))
	assert.Equal(t, KindAnd, withPrint.Kind)
}

func TestLevelFourCollapsesFullyPureExpressionToFalse(t *testing.T) {
	n := And(alwaysTrue("a"), Or(alwaysTrue("b"), Not(alwaysTrue("c"))))
	got := Optimize(n, 4)
	assert.Equal(t, False, got)
}

func TestLevelFourLeavesImpureExpressionAlone(t *testing.T) {
	act := Action("print", func(*record.Record) (bool, error) { return true, nil })
	n := And(alwaysTrue("a"), act)
	got := Optimize(n, 4)
	assert.False(t, IsPure(got))
}
