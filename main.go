// Command bfs is a breadth-first, find-compatible file tree walker: it
// explores a directory tree level by level rather than depth-first,
// evaluating a find-style test/action expression against every entry it
// visits.
//
// Grounded on the teacher's cmd/ subcommand wiring style (parse flags,
// build a root Fs, run, translate the result into a process exit code)
// and the fslog/fserrors ambient packages built for this module.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/lamby/bfs/internal/cli"
	"github.com/lamby/bfs/internal/eval"
	"github.com/lamby/bfs/internal/expr"
	"github.com/lamby/bfs/internal/fserrors"
	"github.com/lamby/bfs/internal/fslog"
	"github.com/lamby/bfs/internal/fstype"
	"github.com/lamby/bfs/internal/record"
	"github.com/lamby/bfs/internal/walk"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr *os.File) int {
	resolver := fstype.NewMtabResolver()
	root, opts, err := cli.Parse(args, stdout, resolver, time.Now())
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	printLeaf := expr.Action("-print", func(r *record.Record) (bool, error) {
		fmt.Fprintln(stdout, r.PathString())
		return true, nil
	})
	if root == nil {
		root = printLeaf
	} else if !expr.ContainsAction(root) {
		root = expr.WithImplicitPrint(root, printLeaf)
	}
	root = expr.Optimize(root, opts.Optimize)

	var stats eval.Stats
	walkOpts := walk.Options{
		Follow:           opts.Follow,
		Xdev:             opts.Xdev,
		DetectCycles:     opts.DetectCycles,
		PostOrder:        opts.PostOrder,
		Recover:          true,
		IgnoreRaces:      true,
		NormalizeUnicode: opts.NormalizeUnicode,
	}

	cb := func(rec *record.Record) walk.Action {
		if rec.Type == record.TypeError {
			fslog.Errorf(rec.PathString(), "%v", rec.ErrorCode)
			return walk.ActionContinue
		}
		if opts.MaxDepth >= 0 && rec.Depth > opts.MaxDepth {
			return walk.ActionSkipSubtree
		}
		if rec.Depth < opts.MinDepth {
			return walk.ActionContinue
		}
		var ctx eval.Context
		_, err := eval.Eval(root, rec, &ctx, &stats)
		if err != nil {
			fslog.Errorf(rec.PathString(), "%v", err)
			return walk.ActionContinue
		}
		switch ctx.Action {
		case eval.ActionSkipSubtree:
			return walk.ActionSkipSubtree
		case eval.ActionStop:
			return walk.ActionStop
		default:
			return walk.ActionContinue
		}
	}

	if err := walk.Walk(opts.Roots, walkOpts, cb); err != nil {
		fmt.Fprintln(stderr, err)
		fserrors.Count(err)
	}

	return fserrors.ExitCode()
}
