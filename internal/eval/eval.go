// Package eval walks an *expr.Node tree against a single record,
// implementing the short-circuit semantics of and/or/not/comma (spec
// §4.5). It is deliberately tiny: most of the interesting behavior lives
// in the leaf Eval functions built by internal/cli (which also trigger
// the lazy stat); this package owns control flow and the mutable
// per-evaluation context (quit flag, action field) that -prune/-quit leave behind for
// the walker callback.
package eval

import (
	"time"

	"github.com/lamby/bfs/internal/expr"
	"github.com/lamby/bfs/internal/fserrors"
	"github.com/lamby/bfs/internal/record"
)

// Action mirrors the walker's callback return value (spec §4.5 "mutable
// action field"), kept as its own type here so this package doesn't need
// to import internal/walk; main.go translates between the two.
type Action int

// Action values an expression can leave for the walker.
const (
	ActionContinue Action = iota
	ActionSkipSubtree // -prune
	ActionStop        // -quit
)

// Context is the short-lived evaluation context spec §4.5 describes:
// built fresh per file, referencing the record implicitly through the
// Eval call, carrying the mutable "should quit" flag and "action" field
// that -prune and -quit actions set.
type Context struct {
	Quit   bool
	Action Action
}

// Stats accumulates lightweight evaluation counters (spec §4.5 "rate
// profiling"), grounded on the teacher's accounting.go Stats struct
// (a plain mutex-guarded counter block updated from the hot path).
type Stats struct {
	Evaluated int64
	Matched   int64
	Elapsed   time.Duration
}

// Eval runs root against rec, returning its boolean result. A nil root
// (the empty expression) always matches, mirroring find's behavior with
// no tests at all. ctx may be nil if the caller doesn't need the
// prune/quit signal (e.g. unit tests exercising pure boolean logic).
func Eval(root *expr.Node, rec *record.Record, ctx *Context, st *Stats) (bool, error) {
	if ctx == nil {
		ctx = &Context{}
	}
	if root == nil {
		return true, nil
	}
	start := time.Now()
	ok, err := evalNode(root, rec, ctx)
	if st != nil {
		st.Evaluated++
		st.Elapsed += time.Since(start)
		if ok {
			st.Matched++
		}
	}
	return ok, err
}

func evalNode(n *expr.Node, rec *record.Record, ctx *Context) (bool, error) {
	switch n.Kind {
	case expr.KindTrue:
		return true, nil
	case expr.KindFalse:
		return false, nil
	case expr.KindTest:
		ok, err := n.Run(rec)
		if err != nil {
			return false, fserrors.New(fserrors.KindEvaluation, err)
		}
		return ok, nil
	case expr.KindAction:
		ok, err := n.Run(rec)
		if err != nil {
			return false, fserrors.New(fserrors.KindEvaluation, err)
		}
		switch n.Name {
		case "-prune":
			ctx.Action = ActionSkipSubtree
		case "-quit":
			ctx.Action = ActionStop
			ctx.Quit = true
		}
		return ok, nil
	case expr.KindNot:
		ok, err := evalNode(n.Left, rec, ctx)
		if err != nil {
			return false, err
		}
		return !ok, nil
	case expr.KindAnd:
		ok, err := evalNode(n.Left, rec, ctx)
		if err != nil || !ok {
			return false, err
		}
		if ctx.Quit {
			return false, nil
		}
		return evalNode(n.Right, rec, ctx)
	case expr.KindOr:
		ok, err := evalNode(n.Left, rec, ctx)
		if err != nil || ok {
			return ok, err
		}
		if ctx.Quit {
			return false, nil
		}
		return evalNode(n.Right, rec, ctx)
	case expr.KindComma:
		if _, err := evalNode(n.Left, rec, ctx); err != nil {
			return false, err
		}
		if ctx.Quit {
			return false, nil
		}
		return evalNode(n.Right, rec, ctx)
	default:
		return false, nil
	}
}
