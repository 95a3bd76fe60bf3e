package cli

import (
	"fmt"
	"os"
	"os/user"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/lamby/bfs/internal/expr"
	"github.com/lamby/bfs/internal/fserrors"
	"github.com/lamby/bfs/internal/format"
	"github.com/lamby/bfs/internal/record"
	"github.com/lamby/bfs/internal/walk"
)

// parseLeaf consumes one test, action, or global option token (and
// whatever arguments it takes) and returns the corresponding *expr.Node.
// Global options (-maxdepth, -xdev, -daystart, ...) are folded into
// p.opts and represented in the tree as expr.True so they behave like a
// no-op test that is always satisfied (spec §4.4 "global options are
// syntactically tests that always succeed").
func (p *parser) parseLeaf() (*expr.Node, error) {
	tok := p.advance()
	switch tok {
	// --- name / path matching -------------------------------------------------
	case "-name", "-iname":
		pat, err := p.requireArg(tok)
		if err != nil {
			return nil, err
		}
		fold := tok == "-iname"
		if fold {
			pat = strings.ToLower(pat)
		}
		re, err := globToRegexp(pat, false)
		if err != nil {
			return nil, fserrors.New(fserrors.KindProtocol, err)
		}
		return expr.Test(tok, func(r *record.Record) (bool, error) {
			name := r.Name()
			if fold {
				name = strings.ToLower(name)
			}
			return re.MatchString(name), nil
		}), nil

	case "-path", "-wholename", "-ipath":
		pat, err := p.requireArg(tok)
		if err != nil {
			return nil, err
		}
		fold := tok == "-ipath"
		if fold {
			pat = strings.ToLower(pat)
		}
		re, err := globToRegexp(pat, true)
		if err != nil {
			return nil, fserrors.New(fserrors.KindProtocol, err)
		}
		return expr.Test(tok, func(r *record.Record) (bool, error) {
			path := r.PathString()
			if fold {
				path = strings.ToLower(path)
			}
			return re.MatchString(path), nil
		}), nil

	case "-regex", "-iregex":
		pat, err := p.requireArg(tok)
		if err != nil {
			return nil, err
		}
		anchored := "^(?:" + pat + ")$"
		if tok == "-iregex" {
			anchored = "(?i)" + anchored
		}
		re, err := regexp.Compile(anchored)
		if err != nil {
			return nil, fserrors.New(fserrors.KindProtocol, err)
		}
		return expr.Test(tok, func(r *record.Record) (bool, error) {
			return re.MatchString(r.PathString()), nil
		}), nil

	// --- type --------------------------------------------------------------
	case "-type":
		arg, err := p.requireArg(tok)
		if err != nil {
			return nil, err
		}
		want, err := typeFromLetter(arg)
		if err != nil {
			return nil, fserrors.New(fserrors.KindProtocol, err)
		}
		return expr.Test(tok, func(r *record.Record) (bool, error) {
			return r.Type == want, nil
		}), nil

	case "-lname", "-ilname":
		pat, err := p.requireArg(tok)
		if err != nil {
			return nil, err
		}
		fold := tok == "-ilname"
		if fold {
			pat = strings.ToLower(pat)
		}
		re, err := globToRegexp(pat, false)
		if err != nil {
			return nil, fserrors.New(fserrors.KindProtocol, err)
		}
		return expr.Test(tok, func(r *record.Record) (bool, error) {
			if r.Type != record.TypeLink {
				return false, nil
			}
			target, err := os.Readlink(r.PathString())
			if err != nil {
				return false, nil
			}
			if fold {
				target = strings.ToLower(target)
			}
			return re.MatchString(target), nil
		}), nil

	// --- ownership -----------------------------------------------------------
	case "-uid":
		arg, err := p.requireArg(tok)
		if err != nil {
			return nil, err
		}
		cmp, want, err := parseIntComparison(arg)
		if err != nil {
			return nil, fserrors.New(fserrors.KindProtocol, err)
		}
		statter := p.statter()
		return expr.Test(tok, func(r *record.Record) (bool, error) {
			if err := r.EnsureStat(statter); err != nil {
				return false, err
			}
			st := r.Sys()
			if st == nil {
				return false, nil
			}
			return cmp(int64(st.Uid), want), nil
		}), nil
	case "-gid":
		arg, err := p.requireArg(tok)
		if err != nil {
			return nil, err
		}
		cmp, want, err := parseIntComparison(arg)
		if err != nil {
			return nil, fserrors.New(fserrors.KindProtocol, err)
		}
		statter := p.statter()
		return expr.Test(tok, func(r *record.Record) (bool, error) {
			if err := r.EnsureStat(statter); err != nil {
				return false, err
			}
			st := r.Sys()
			if st == nil {
				return false, nil
			}
			return cmp(int64(st.Gid), want), nil
		}), nil
	case "-user":
		name, err := p.requireArg(tok)
		if err != nil {
			return nil, err
		}
		u, err := user.Lookup(name)
		if err != nil {
			return nil, fserrors.New(fserrors.KindProtocol, err)
		}
		uid, _ := strconv.ParseUint(u.Uid, 10, 32)
		statter := p.statter()
		return expr.Test(tok, func(r *record.Record) (bool, error) {
			if err := r.EnsureStat(statter); err != nil {
				return false, err
			}
			st := r.Sys()
			if st == nil {
				return false, nil
			}
			return uint64(st.Uid) == uid, nil
		}), nil
	case "-group":
		name, err := p.requireArg(tok)
		if err != nil {
			return nil, err
		}
		g, err := user.LookupGroup(name)
		if err != nil {
			return nil, fserrors.New(fserrors.KindProtocol, err)
		}
		gid, _ := strconv.ParseUint(g.Gid, 10, 32)
		statter := p.statter()
		return expr.Test(tok, func(r *record.Record) (bool, error) {
			if err := r.EnsureStat(statter); err != nil {
				return false, err
			}
			st := r.Sys()
			if st == nil {
				return false, nil
			}
			return uint64(st.Gid) == gid, nil
		}), nil
	case "-nouser":
		statter := p.statter()
		return expr.Test(tok, func(r *record.Record) (bool, error) {
			if err := r.EnsureStat(statter); err != nil {
				return false, err
			}
			st := r.Sys()
			if st == nil {
				return false, nil
			}
			_, err := user.LookupId(strconv.FormatUint(uint64(st.Uid), 10))
			return err != nil, nil
		}), nil
	case "-nogroup":
		statter := p.statter()
		return expr.Test(tok, func(r *record.Record) (bool, error) {
			if err := r.EnsureStat(statter); err != nil {
				return false, err
			}
			st := r.Sys()
			if st == nil {
				return false, nil
			}
			_, err := user.LookupGroupId(strconv.FormatUint(uint64(st.Gid), 10))
			return err != nil, nil
		}), nil
	case "-links":
		arg, err := p.requireArg(tok)
		if err != nil {
			return nil, err
		}
		cmp, want, err := parseIntComparison(arg)
		if err != nil {
			return nil, fserrors.New(fserrors.KindProtocol, err)
		}
		statter := p.statter()
		return expr.Test(tok, func(r *record.Record) (bool, error) {
			if err := r.EnsureStat(statter); err != nil {
				return false, err
			}
			st := r.Sys()
			if st == nil {
				return false, nil
			}
			return cmp(int64(st.Nlink), want), nil
		}), nil
	case "-inum":
		arg, err := p.requireArg(tok)
		if err != nil {
			return nil, err
		}
		cmp, want, err := parseIntComparison(arg)
		if err != nil {
			return nil, fserrors.New(fserrors.KindProtocol, err)
		}
		statter := p.statter()
		return expr.Test(tok, func(r *record.Record) (bool, error) {
			if err := r.EnsureStat(statter); err != nil {
				return false, err
			}
			_, ino, ok := r.DevIno()
			if !ok {
				return false, nil
			}
			return cmp(int64(ino), want), nil
		}), nil
	case "-samefile":
		arg, err := p.requireArg(tok)
		if err != nil {
			return nil, err
		}
		refInfo, err := os.Stat(arg)
		if err != nil {
			return nil, fserrors.New(fserrors.KindPath, err)
		}
		refSt, ok := refInfo.Sys().(*syscall.Stat_t)
		if !ok {
			return nil, fserrors.New(fserrors.KindPath, fmt.Errorf("-samefile: cannot stat %q", arg))
		}
		refDev, refIno := uint64(refSt.Dev), uint64(refSt.Ino)
		statter := p.statter()
		return expr.Test(tok, func(r *record.Record) (bool, error) {
			if err := r.EnsureStat(statter); err != nil {
				return false, err
			}
			dev, ino, ok := r.DevIno()
			return ok && dev == refDev && ino == refIno, nil
		}), nil
	case "-perm":
		arg, err := p.requireArg(tok)
		if err != nil {
			return nil, err
		}
		match, want, err := parsePermArg(arg)
		if err != nil {
			return nil, fserrors.New(fserrors.KindProtocol, err)
		}
		statter := p.statter()
		return expr.Test(tok, func(r *record.Record) (bool, error) {
			if err := r.EnsureStat(statter); err != nil {
				return false, err
			}
			return match(uint32(r.Stat.Mode().Perm()), want), nil
		}), nil

	// --- size ----------------------------------------------------------------
	case "-size":
		arg, err := p.requireArg(tok)
		if err != nil {
			return nil, err
		}
		cmp, unit, count, err := parseSize(arg)
		if err != nil {
			return nil, fserrors.New(fserrors.KindProtocol, err)
		}
		statter := p.statter()
		return expr.Test(tok, func(r *record.Record) (bool, error) {
			if err := r.EnsureStat(statter); err != nil {
				return false, err
			}
			blocks := (r.Stat.Size() + unit - 1) / unit
			return cmp(blocks, count), nil
		}), nil

	// -empty is true for a directory with no entries, or for any other
	// entry whose stat size is 0 (spec's supplemented emptiness test, §9.1
	// Open Question: kept as "size == 0" for every non-directory). Special
	// files such as FIFOs and devices usually report size 0, so they count
	// as empty too.
	case "-empty":
		statter := p.statter()
		return expr.Test(tok, func(r *record.Record) (bool, error) {
			if r.Type == record.TypeDir {
				entries, err := os.ReadDir(r.PathString())
				if err != nil {
					return false, err
				}
				return len(entries) == 0, nil
			}
			if err := r.EnsureStat(statter); err != nil {
				return false, err
			}
			return r.Stat.Size() == 0, nil
		}), nil

	// -hidden is true for any entry whose basename starts with "." other
	// than "." and ".." themselves.
	case "-hidden":
		return expr.Test(tok, func(r *record.Record) (bool, error) {
			name := r.Name()
			return strings.HasPrefix(name, ".") && name != "." && name != "..", nil
		}), nil

	// -sparse delegates to record.Sparse (spec §4.4): allocated blocks *
	// 512 smaller than the logical size.
	case "-sparse":
		statter := p.statter()
		return expr.Test(tok, func(r *record.Record) (bool, error) {
			if err := r.EnsureStat(statter); err != nil {
				return false, err
			}
			return r.Sparse(), nil
		}), nil

	// -readable/-writable/-executable test the calling process's actual
	// access rights via the access(2) syscall rather than interpreting
	// the mode bits ourselves, so they account for capabilities, ACLs,
	// and root's bypass the same way the kernel does.
	case "-readable", "-writable", "-executable":
		var mode uint32
		switch tok {
		case "-readable":
			mode = unix.R_OK
		case "-writable":
			mode = unix.W_OK
		default:
			mode = unix.X_OK
		}
		return expr.Test(tok, func(r *record.Record) (bool, error) {
			return unix.Access(r.PathString(), mode) == nil, nil
		}), nil

	// --- time tests ------------------------------------------------------------
	case "-mtime", "-atime", "-ctime":
		arg, err := p.requireArg(tok)
		if err != nil {
			return nil, err
		}
		cmp, days, err := parseTimeSpan(arg)
		if err != nil {
			return nil, fserrors.New(fserrors.KindProtocol, err)
		}
		field := timeFieldForTest(tok)
		statter := p.statter()
		return expr.Test(tok, func(r *record.Record) (bool, error) {
			if err := r.EnsureStat(statter); err != nil {
				return false, err
			}
			age := p.now.Sub(r.Time(field))
			return cmp(age/(24*time.Hour), time.Duration(days)), nil
		}), nil

	case "-mmin", "-amin", "-cmin":
		arg, err := p.requireArg(tok)
		if err != nil {
			return nil, err
		}
		cmp, minutes, err := parseTimeSpan(arg)
		if err != nil {
			return nil, fserrors.New(fserrors.KindProtocol, err)
		}
		field := timeFieldForMinuteTest(tok)
		statter := p.statter()
		return expr.Test(tok, func(r *record.Record) (bool, error) {
			if err := r.EnsureStat(statter); err != nil {
				return false, err
			}
			age := p.now.Sub(r.Time(field))
			return cmp(age/time.Minute, time.Duration(minutes)), nil
		}), nil

	case "-newer", "-anewer", "-cnewer":
		arg, err := p.requireArg(tok)
		if err != nil {
			return nil, err
		}
		refInfo, err := os.Stat(arg)
		if err != nil {
			return nil, fserrors.New(fserrors.KindPath, err)
		}
		refTime := refInfo.ModTime()
		var field record.TimeField
		switch tok {
		case "-anewer":
			field = record.TimeATime
		case "-cnewer":
			field = record.TimeCTime
		default:
			field = record.TimeMTime
		}
		statter := p.statter()
		return expr.Test(tok, func(r *record.Record) (bool, error) {
			if err := r.EnsureStat(statter); err != nil {
				return false, err
			}
			return r.Time(field).After(refTime), nil
		}), nil

	// --- global options (always-true pseudo-tests) --------------------------
	case "-depth":
		p.opts.PostOrder = true
		return expr.True, nil
	case "-daystart":
		p.opts.Daystart = true
		return expr.True, nil
	case "-xdev":
		p.opts.Xdev = true
		return expr.True, nil
	case "-follow":
		p.opts.Follow = walk.FollowAll
		return expr.True, nil
	case "-unicode-normalize":
		p.opts.NormalizeUnicode = true
		return expr.True, nil
	case "-mindepth":
		arg, err := p.requireArg(tok)
		if err != nil {
			return nil, err
		}
		n, err := strconv.Atoi(arg)
		if err != nil {
			return nil, fserrors.New(fserrors.KindProtocol, err)
		}
		p.opts.MinDepth = n
		return expr.True, nil
	case "-maxdepth":
		arg, err := p.requireArg(tok)
		if err != nil {
			return nil, err
		}
		n, err := strconv.Atoi(arg)
		if err != nil {
			return nil, fserrors.New(fserrors.KindProtocol, err)
		}
		p.opts.MaxDepth = n
		return expr.True, nil
	case "-O0", "-O1", "-O2", "-O3", "-O4":
		p.opts.Optimize = int(tok[2] - '0')
		return expr.True, nil

	// --- constants ------------------------------------------------------------
	case "-true":
		return expr.True, nil
	case "-false":
		return expr.False, nil

	// --- actions -----------------------------------------------------------

	// -prune never itself changes the boolean result of the expression it
	// sits in (it always succeeds); its effect is entirely in the
	// evaluation context it leaves behind (internal/eval sets
	// ActionSkipSubtree by matching this leaf's Name), which the walker
	// callback turns into walk.ActionSkipSubtree.
	case "-prune":
		return expr.Action(tok, func(r *record.Record) (bool, error) {
			return true, nil
		}), nil

	// -quit is the same shape as -prune: it always succeeds, and its
	// observable effect (stopping the whole walk) comes from the
	// evaluation context's Quit flag and Action field.
	case "-quit":
		return expr.Action(tok, func(r *record.Record) (bool, error) {
			return true, nil
		}), nil

	// -delete implies -depth: removing a directory before its children
	// are visited would make the rest of the subtree unreachable.
	case "-delete":
		p.opts.PostOrder = true
		return expr.Action(tok, func(r *record.Record) (bool, error) {
			if err := os.Remove(r.PathString()); err != nil {
				return false, fserrors.New(fserrors.KindPath, err)
			}
			return true, nil
		}), nil

	case "-fprint0":
		path, err := p.requireArg(tok)
		if err != nil {
			return nil, err
		}
		f, err := os.Create(path)
		if err != nil {
			return nil, fserrors.New(fserrors.KindPath, err)
		}
		return expr.Action(tok, func(r *record.Record) (bool, error) {
			fmt.Fprint(f, r.PathString(), "\x00")
			return true, nil
		}), nil

	case "-print":
		out := p.out
		return expr.Action(tok, func(r *record.Record) (bool, error) {
			fmt.Fprintln(out, r.PathString())
			return true, nil
		}), nil
	case "-print0":
		out := p.out
		return expr.Action(tok, func(r *record.Record) (bool, error) {
			fmt.Fprint(out, r.PathString(), "\x00")
			return true, nil
		}), nil
	case "-fprint":
		path, err := p.requireArg(tok)
		if err != nil {
			return nil, err
		}
		f, err := os.Create(path)
		if err != nil {
			return nil, fserrors.New(fserrors.KindPath, err)
		}
		return expr.Action(tok, func(r *record.Record) (bool, error) {
			fmt.Fprintln(f, r.PathString())
			return true, nil
		}), nil
	case "-printf":
		formatStr, err := p.requireArg(tok)
		if err != nil {
			return nil, err
		}
		prog, err := format.Compile(formatStr)
		if err != nil {
			return nil, err
		}
		out := p.out
		env := p.env
		return actionWithStat(tok, prog.NeedStat, p.statter(), func(r *record.Record) (bool, error) {
			return true, prog.Exec(out, env, r)
		}), nil
	case "-fprintf":
		path, err := p.requireArg(tok)
		if err != nil {
			return nil, err
		}
		formatStr, err := p.requireArg(tok)
		if err != nil {
			return nil, err
		}
		prog, err := format.Compile(formatStr)
		if err != nil {
			return nil, err
		}
		f, err := os.Create(path)
		if err != nil {
			return nil, fserrors.New(fserrors.KindPath, err)
		}
		env := p.env
		return actionWithStat(tok, prog.NeedStat, p.statter(), func(r *record.Record) (bool, error) {
			return true, prog.Exec(f, env, r)
		}), nil

	default:
		return nil, fserrors.New(fserrors.KindProtocol, fmt.Errorf("unknown predicate %q", tok))
	}
}

// actionWithStat wraps run so that, when needStat is true, the record is
// stat'd before run executes (e.g. -printf "%s" needs size even though
// printf itself has no boolean test semantics to trigger EnsureStat).
func actionWithStat(name string, needStat bool, statter record.Statter, run expr.Eval) *expr.Node {
	if !needStat {
		return expr.Action(name, run)
	}
	return expr.Action(name, func(r *record.Record) (bool, error) {
		if err := r.EnsureStat(statter); err != nil {
			return false, err
		}
		return run(r)
	})
}

func typeFromLetter(s string) (record.Type, error) {
	if len(s) != 1 {
		return 0, fmt.Errorf("-type: invalid argument %q", s)
	}
	switch s[0] {
	case 'b':
		return record.TypeBlock, nil
	case 'c':
		return record.TypeChar, nil
	case 'd':
		return record.TypeDir, nil
	case 'p':
		return record.TypeFIFO, nil
	case 'f':
		return record.TypeRegular, nil
	case 'l':
		return record.TypeLink, nil
	case 's':
		return record.TypeSocket, nil
	case 'D':
		return record.TypeDoor, nil
	default:
		return 0, fmt.Errorf("-type: unknown type letter %q", s)
	}
}

func timeFieldForTest(tok string) record.TimeField {
	switch tok {
	case "-atime":
		return record.TimeATime
	case "-ctime":
		return record.TimeCTime
	default:
		return record.TimeMTime
	}
}

func timeFieldForMinuteTest(tok string) record.TimeField {
	switch tok {
	case "-amin":
		return record.TimeATime
	case "-cmin":
		return record.TimeCTime
	default:
		return record.TimeMTime
	}
}

// statter returns the Statter the leaf closures use to lazily fill
// r.Stat on first access (spec §4.3.1: stat is deferred until a test or
// action actually needs it).
func (p *parser) statter() record.Statter {
	return func(r *record.Record, follow bool) error {
		path := r.PathString()
		var fi os.FileInfo
		var err error
		if follow {
			fi, err = os.Stat(path)
		} else {
			fi, err = os.Lstat(path)
		}
		if err != nil {
			return err
		}
		r.Stat = fi
		r.Type = record.TypeFromMode(fi.Mode())
		return nil
	}
}
