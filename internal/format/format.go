// Package format compiles and executes the printf-like directive strings
// accepted by -printf/-fprintf (spec §4.5): a format string is compiled
// once into a Program of literal byte runs and directive closures, then
// the Program is executed per record without re-parsing.
//
// Grounded on the teacher's fs/operations.go-style small compiled-step
// helpers and on backend/local/metadata_linux.go's uid/gid-to-name
// lookups, generalized into directive closures over a *record.Record.
package format

import (
	"fmt"
	"io"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/docker/go-units"
	gocache "github.com/patrickmn/go-cache"

	"github.com/lamby/bfs/internal/fserrors"
	"github.com/lamby/bfs/internal/fstype"
	"github.com/lamby/bfs/internal/record"
)

// Env carries the external collaborators a compiled Program needs at
// execution time: the mount-table resolver for %F and the name caches
// for %u/%g.
type Env struct {
	FSType   fstype.Resolver
	userByID *gocache.Cache
	grpByID  *gocache.Cache
}

// NewEnv constructs an Env with fresh, process-lifetime name caches
// (spec §4.4.3: uid/gid name resolution is cached for the life of the
// process, grounded on the teacher's pack dependency
// github.com/patrickmn/go-cache used the same way elsewhere for
// short-lived memoization).
func NewEnv(resolver fstype.Resolver) *Env {
	return &Env{
		FSType:   resolver,
		userByID: gocache.New(gocache.NoExpiration, gocache.NoExpiration),
		grpByID:  gocache.New(gocache.NoExpiration, gocache.NoExpiration),
	}
}

func (e *Env) userName(uid uint32) string {
	key := strconv.FormatUint(uint64(uid), 10)
	if v, ok := e.userByID.Get(key); ok {
		return v.(string)
	}
	name := key
	if u, err := user.LookupId(key); err == nil {
		name = u.Username
	}
	e.userByID.Set(key, name, gocache.NoExpiration)
	return name
}

func (e *Env) groupName(gid uint32) string {
	key := strconv.FormatUint(uint64(gid), 10)
	if v, ok := e.grpByID.Get(key); ok {
		return v.(string)
	}
	name := key
	if g, err := user.LookupGroupId(key); err == nil {
		name = g.Name
	}
	e.grpByID.Set(key, name, gocache.NoExpiration)
	return name
}

// piece is one compiled unit of a format Program.
type piece struct {
	literal []byte
	emit    func(w io.Writer, env *Env, rec *record.Record) error
	needStat bool
}

// Program is a compiled -printf format string.
type Program struct {
	pieces   []piece
	NeedStat bool // true if any directive requires rec.Stat
}

// Compile parses format into a Program. Backslash escapes (\n, \t, \\,
// \0) and %% are handled here; unknown directives return a KindProtocol
// error (spec §7) since a bad format string can never be fixed by
// retrying.
func Compile(format string) (*Program, error) {
	p := &Program{}
	var lit []byte
	flushLit := func() {
		if len(lit) > 0 {
			p.pieces = append(p.pieces, piece{literal: lit})
			lit = nil
		}
	}

	runes := []rune(format)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch c {
		case '\\':
			if i+1 >= len(runes) {
				lit = append(lit, '\\')
				break
			}
			i++
			switch runes[i] {
			case 'n':
				lit = append(lit, '\n')
			case 't':
				lit = append(lit, '\t')
			case '\\':
				lit = append(lit, '\\')
			case '0':
				lit = append(lit, 0)
			default:
				lit = append(lit, '\\', byte(runes[i]))
			}
		case '%':
			if i+1 >= len(runes) {
				lit = append(lit, '%')
				break
			}
			i++
			if runes[i] == '%' {
				lit = append(lit, '%')
				break
			}
			directive, consumed, err := parseDirective(runes[i:])
			if err != nil {
				return nil, fserrors.New(fserrors.KindProtocol, err)
			}
			flushLit()
			p.pieces = append(p.pieces, directive)
			if directive.needStat {
				p.NeedStat = true
			}
			i += consumed - 1
		default:
			lit = append(lit, []byte(string(c))...)
		}
	}
	flushLit()
	return p, nil
}

// parseDirective reads a single %-directive starting at runes[0]
// (already past the leading %), returning the compiled piece and the
// number of runes consumed.
func parseDirective(runes []rune) (piece, int, error) {
	// Two-character time directives: %A@, %T@, %C@, %AY, %TH, ... where
	// the second rune selects a strftime-like conversion. timeDirective
	// handles '@', 'Y', 'm', 'd', 'H', 'M' and 'S'.
	c := runes[0]
	switch c {
	case 'A', 'T', 'C':
		if len(runes) < 2 {
			return piece{}, 0, fmt.Errorf("truncated time directive %%%c", c)
		}
		field := timeFieldFor(c)
		conv := runes[1]
		return timeDirective(field, conv), 2, nil
	}

	switch c {
	case 'p':
		return piece{needStat: false, emit: func(w io.Writer, env *Env, rec *record.Record) error {
			_, err := io.WriteString(w, rec.PathString())
			return err
		}}, 1, nil
	case 'P':
		return piece{emit: func(w io.Writer, env *Env, rec *record.Record) error {
			rel := strings.TrimPrefix(rec.PathString(), rec.Root)
			rel = strings.TrimPrefix(rel, "/")
			_, err := io.WriteString(w, rel)
			return err
		}}, 1, nil
	case 'f':
		return piece{emit: func(w io.Writer, env *Env, rec *record.Record) error {
			_, err := io.WriteString(w, rec.Name())
			return err
		}}, 1, nil
	case 'h':
		return piece{emit: func(w io.Writer, env *Env, rec *record.Record) error {
			_, err := io.WriteString(w, filepath.Dir(rec.PathString()))
			return err
		}}, 1, nil
	case 'd':
		return piece{emit: func(w io.Writer, env *Env, rec *record.Record) error {
			_, err := io.WriteString(w, strconv.Itoa(rec.Depth))
			return err
		}}, 1, nil
	case 'y':
		return piece{emit: func(w io.Writer, env *Env, rec *record.Record) error {
			_, err := io.WriteString(w, typeLetter(rec))
			return err
		}}, 1, nil
	case 's':
		return piece{needStat: true, emit: func(w io.Writer, env *Env, rec *record.Record) error {
			if rec.Stat == nil {
				return nil
			}
			_, err := io.WriteString(w, strconv.FormatInt(rec.Stat.Size(), 10))
			return err
		}}, 1, nil
	case 'k':
		return piece{needStat: true, emit: func(w io.Writer, env *Env, rec *record.Record) error {
			if rec.Stat == nil {
				return nil
			}
			_, err := io.WriteString(w, strconv.FormatInt((rec.Stat.Size()+1023)/1024, 10))
			return err
		}}, 1, nil
	case 'b':
		return piece{needStat: true, emit: func(w io.Writer, env *Env, rec *record.Record) error {
			st := rec.Sys()
			if st == nil {
				return nil
			}
			_, err := io.WriteString(w, strconv.FormatInt(int64(st.Blocks), 10))
			return err
		}}, 1, nil
	case 'm':
		return piece{needStat: true, emit: func(w io.Writer, env *Env, rec *record.Record) error {
			if rec.Stat == nil {
				return nil
			}
			_, err := fmt.Fprintf(w, "%o", rec.Stat.Mode().Perm())
			return err
		}}, 1, nil
	case 'M':
		return piece{needStat: true, emit: func(w io.Writer, env *Env, rec *record.Record) error {
			if rec.Stat == nil {
				return nil
			}
			_, err := io.WriteString(w, rec.Stat.Mode().String())
			return err
		}}, 1, nil
	case 'U':
		return piece{needStat: true, emit: func(w io.Writer, env *Env, rec *record.Record) error {
			st := rec.Sys()
			if st == nil {
				return nil
			}
			_, err := io.WriteString(w, strconv.FormatUint(uint64(st.Uid), 10))
			return err
		}}, 1, nil
	case 'G':
		return piece{needStat: true, emit: func(w io.Writer, env *Env, rec *record.Record) error {
			st := rec.Sys()
			if st == nil {
				return nil
			}
			_, err := io.WriteString(w, strconv.FormatUint(uint64(st.Gid), 10))
			return err
		}}, 1, nil
	case 'u':
		return piece{needStat: true, emit: func(w io.Writer, env *Env, rec *record.Record) error {
			st := rec.Sys()
			if st == nil {
				return nil
			}
			_, err := io.WriteString(w, env.userName(st.Uid))
			return err
		}}, 1, nil
	case 'g':
		return piece{needStat: true, emit: func(w io.Writer, env *Env, rec *record.Record) error {
			st := rec.Sys()
			if st == nil {
				return nil
			}
			_, err := io.WriteString(w, env.groupName(st.Gid))
			return err
		}}, 1, nil
	case 'i':
		return piece{needStat: true, emit: func(w io.Writer, env *Env, rec *record.Record) error {
			st := rec.Sys()
			if st == nil {
				return nil
			}
			_, err := io.WriteString(w, strconv.FormatUint(st.Ino, 10))
			return err
		}}, 1, nil
	case 'n':
		return piece{needStat: true, emit: func(w io.Writer, env *Env, rec *record.Record) error {
			st := rec.Sys()
			if st == nil {
				return nil
			}
			_, err := io.WriteString(w, strconv.FormatUint(uint64(st.Nlink), 10))
			return err
		}}, 1, nil
	case 'l':
		return piece{emit: func(w io.Writer, env *Env, rec *record.Record) error {
			if rec.Type != record.TypeLink {
				return nil
			}
			target, err := readlink(rec.PathString())
			if err != nil {
				return nil
			}
			_, err = io.WriteString(w, target)
			return err
		}}, 1, nil
	case 'F':
		return piece{emit: func(w io.Writer, env *Env, rec *record.Record) error {
			name, err := env.FSType.Resolve(rec.PathString())
			if err != nil {
				name = "unknown"
			}
			_, werr := io.WriteString(w, name)
			return werr
		}}, 1, nil
	case 'H':
		return piece{emit: func(w io.Writer, env *Env, rec *record.Record) error {
			_, err := io.WriteString(w, rec.Root)
			return err
		}}, 1, nil
	default:
		return piece{}, 0, fmt.Errorf("unknown format directive %%%c", c)
	}
}

func timeFieldFor(c rune) record.TimeField {
	switch c {
	case 'A':
		return record.TimeATime
	case 'C':
		return record.TimeCTime
	default:
		return record.TimeMTime
	}
}

// timeDirective compiles the %A./%T./%C. family. The '@' conversion
// emits seconds-since-epoch; spec §9.1 documents that the fractional
// part is always rendered as exactly ten digits, the nine nanosecond
// digits followed by a literal '0' (a deliberately preserved quirk of the
// original tool rather than a true count) so scripts that slice the
// string get a stable width. Other conversion runes not listed in the
// switch render the full RFC 3339 timestamp.
func timeDirective(field record.TimeField, conv rune) piece {
	return piece{needStat: true, emit: func(w io.Writer, env *Env, rec *record.Record) error {
		if rec.Stat == nil {
			return nil
		}
		t := rec.Time(field)
		var s string
		switch conv {
		case '@':
			s = fmt.Sprintf("%d.%09d0", t.Unix(), t.Nanosecond())
		case 'Y':
			s = strconv.Itoa(t.Year())
		case 'm':
			s = fmt.Sprintf("%02d", int(t.Month()))
		case 'd':
			s = fmt.Sprintf("%02d", t.Day())
		case 'H':
			s = fmt.Sprintf("%02d", t.Hour())
		case 'M':
			s = fmt.Sprintf("%02d", t.Minute())
		case 'S':
			s = fmt.Sprintf("%02d", t.Second())
		default:
			s = t.Format(time.RFC3339)
		}
		_, err := io.WriteString(w, s)
		return err
	}}
}

func typeLetter(rec *record.Record) string {
	switch rec.Type {
	case record.TypeDir:
		return "d"
	case record.TypeRegular:
		return "f"
	case record.TypeLink:
		return "l"
	case record.TypeBlock:
		return "b"
	case record.TypeChar:
		return "c"
	case record.TypeFIFO:
		return "p"
	case record.TypeSocket:
		return "s"
	case record.TypeDoor:
		return "D"
	default:
		return "?"
	}
}

// Exec runs p against rec, writing the formatted result to w.
func (p *Program) Exec(w io.Writer, env *Env, rec *record.Record) error {
	for _, pc := range p.pieces {
		if pc.literal != nil {
			if _, err := w.Write(pc.literal); err != nil {
				return err
			}
			continue
		}
		if err := pc.emit(w, env, rec); err != nil {
			return err
		}
	}
	return nil
}

// SizeString renders n bytes as a human-readable size, delegating to the
// teacher-pack dependency github.com/docker/go-units (HumanSize, which
// uses decimal units such as "kB" = 1000 bytes, unlike -size's binary
// k/M/G suffixes). No directive calls it.
func SizeString(n int64) string {
	return units.HumanSize(float64(n))
}
