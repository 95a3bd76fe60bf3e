// Package record defines the per-path metadata record passed from the
// walker to the evaluator, per spec §3 and §6.
package record

import (
	"os"
	"syscall"
	"time"
)

// Type is the file-kind tag, derived either from a readdir result or a
// stat call.
type Type int

// File kinds, per spec §3.
const (
	TypeUnknown Type = iota
	TypeBlock
	TypeChar
	TypeDir
	TypeDoor
	TypeFIFO
	TypeRegular
	TypeLink
	TypeSocket
	TypeError
)

func (t Type) String() string {
	switch t {
	case TypeBlock:
		return "block device"
	case TypeChar:
		return "character device"
	case TypeDir:
		return "directory"
	case TypeDoor:
		return "door"
	case TypeFIFO:
		return "fifo"
	case TypeRegular:
		return "regular file"
	case TypeLink:
		return "symbolic link"
	case TypeSocket:
		return "socket"
	case TypeError:
		return "error"
	default:
		return "unknown"
	}
}

// TypeFromMode derives a Type from an os.FileMode, as stat results do.
func TypeFromMode(mode os.FileMode) Type {
	switch {
	case mode&os.ModeDir != 0:
		return TypeDir
	case mode&os.ModeSymlink != 0:
		return TypeLink
	case mode&os.ModeNamedPipe != 0:
		return TypeFIFO
	case mode&os.ModeSocket != 0:
		return TypeSocket
	case mode&os.ModeDevice != 0:
		if mode&os.ModeCharDevice != 0 {
			return TypeChar
		}
		return TypeBlock
	case mode.IsRegular():
		return TypeRegular
	default:
		return TypeUnknown
	}
}

// Phase is the visit phase of a callback invocation.
type Phase int

// Visit phases, per spec §3/§4.3.2.
const (
	PhasePre Phase = iota
	PhasePost
)

func (p Phase) String() string {
	if p == PhasePost {
		return "post-order"
	}
	return "pre-order"
}

// NoAnchor is the anchor_fd sentinel meaning "resolve relative to the
// process's current working directory" (spec §3, §4.1 resolve).
const NoAnchor = -1

// Record is the metadata record built for every visited path (spec §3).
//
// Invariant: if Stat is non-nil, Type equals the file-kind derived from
// it (TypeFromMode(Stat.Mode())).
type Record struct {
	Path        []byte // full path, mutable buffer reused across visits
	Root        string // the originating start path
	NameOffset  int    // byte offset in Path where the basename begins
	Depth       int    // 0 for a root, +1 per descent
	Type        Type
	Stat        os.FileInfo // lazy, filled on demand by Statter
	AnchorFD    int         // dir fd relative_path resolves against, or NoAnchor
	RelPath     string      // suffix of Path usable with AnchorFD
	FollowLinks bool        // whether symlink resolution is requested for this entry
	Phase       Phase
	ErrorCode   error // non-nil when Type == TypeError
}

// PathString returns the full path as a string.
func (r *Record) PathString() string {
	return string(r.Path)
}

// Name returns the basename of the record.
func (r *Record) Name() string {
	return string(r.Path[r.NameOffset:])
}

// String implements fmt.Stringer so a *Record can be passed straight to
// fslog's subject-first logging calls.
func (r *Record) String() string {
	return r.PathString()
}

// Statter fills in r.Stat (and keeps r.Type consistent with it),
// following a symlink when follow is true. EnsureStat calls it with
// r.FollowLinks.
type Statter func(r *Record, follow bool) error

// EnsureStat calls fn to populate r.Stat if it is not already present.
func (r *Record) EnsureStat(fn Statter) error {
	if r.Stat != nil {
		return nil
	}
	if err := fn(r, r.FollowLinks); err != nil {
		r.Type = TypeError
		r.ErrorCode = err
		return err
	}
	return nil
}

// Sys returns the raw platform stat_t, or nil if unavailable.
func (r *Record) Sys() *syscall.Stat_t {
	if r.Stat == nil {
		return nil
	}
	st, ok := r.Stat.Sys().(*syscall.Stat_t)
	if !ok {
		return nil
	}
	return st
}

// DevIno returns the (device, inode) fingerprint used for cycle
// detection and the "same file" test, and whether it was available.
func (r *Record) DevIno() (dev, ino uint64, ok bool) {
	st := r.Sys()
	if st == nil {
		return 0, 0, false
	}
	return uint64(st.Dev), uint64(st.Ino), true
}

// TimeField identifies which stat timestamp a time-based test refers to.
type TimeField int

// Time fields, per spec §3/§4.4.
const (
	TimeATime TimeField = iota
	TimeCTime
	TimeMTime
)

// Time returns the requested timestamp from the cached stat result.
func (r *Record) Time(field TimeField) time.Time {
	st := r.Sys()
	if st == nil {
		if r.Stat != nil {
			return r.Stat.ModTime()
		}
		return time.Time{}
	}
	switch field {
	case TimeATime:
		return time.Unix(st.Atim.Sec, st.Atim.Nsec)
	case TimeCTime:
		return time.Unix(st.Ctim.Sec, st.Ctim.Nsec)
	default:
		return time.Unix(st.Mtim.Sec, st.Mtim.Nsec)
	}
}

// Sparse reports whether the file is sparse: allocated blocks × 512 is
// smaller than the logical size (spec §4.4).
func (r *Record) Sparse() bool {
	st := r.Sys()
	if st == nil || r.Stat == nil {
		return false
	}
	return int64(st.Blocks)*512 < r.Stat.Size()
}
