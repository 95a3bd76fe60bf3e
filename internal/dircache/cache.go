// Package dircache implements the bounded, priority-ordered cache of open
// directory file handles described in spec §4.1 and §9: entries form a
// tree of non-owning parent pointers with explicit refcounts, and the set
// of currently-open file descriptors is kept in a single array-backed
// min-heap so that, under descriptor pressure, the deepest entry with the
// fewest live descendants is evicted first.
//
// The heap itself is github.com/aalpar/deheap (a teacher dependency),
// which gives Fix/Remove-in-place semantics container/heap also offers
// but wrapped for double-ended use; we only ever pop from the min side.
package dircache

import (
	"github.com/aalpar/deheap"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/lamby/bfs/internal/fserrors"
	"github.com/lamby/bfs/internal/fslog"
)

// closedFD is the sentinel for an Entry whose directory handle is not
// currently open.
const closedFD = -1

// NoAnchor mirrors record.NoAnchor: "resolve relative to the process cwd".
const NoAnchor = -1

// Entry is one directory being tracked by the cache (spec §3).
type Entry struct {
	parent *Entry // weak back reference; never ownership

	Depth            int
	Name             string // basename, with a trailing slash appended by Add
	NameLength       int
	NameOffsetInPath int
	Root             string // the originating command-line root this entry descends from

	refCount  int
	heapIndex int // position in the min-heap, or -1 when not present

	fd int // open directory descriptor, or closedFD

	dev, ino uint64 // for cycle detection; populated on first stat
	haveIno  bool
}

// Parent returns e's parent entry, or nil for a root.
func (e *Entry) Parent() *Entry { return e.parent }

// RefCount returns the number of descendants currently referencing e.
func (e *Entry) RefCount() int { return e.refCount }

// Open reports whether e currently holds an open directory descriptor.
func (e *Entry) Open() bool { return e.fd != closedFD }

// FD returns e's open directory descriptor, or closedFD if none is open.
// Callers use this as the anchorFD for openat calls resolving names
// directly inside e.
func (e *Entry) FD() int { return e.fd }

// DevIno returns the cached (dev, ino) fingerprint for e, if known.
func (e *Entry) DevIno() (dev, ino uint64, ok bool) {
	return e.dev, e.ino, e.haveIno
}

// SetDevIno records the (dev, ino) fingerprint the first time e is
// stat'd, used by the walker's cycle detector (spec §4.3.3).
func (e *Entry) SetDevIno(dev, ino uint64) {
	e.dev, e.ino = dev, ino
	e.haveIno = true
}

// entryHeap adapts []*Entry to deheap's Interface (the same shape as
// container/heap.Interface). Ordering is (depth desc, refcount asc): the
// deepest entry with the fewest references sorts first, so it is the one
// a min-pop evicts (spec §4.1 "the root... is closed first").
type entryHeap []*Entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].Depth != h[j].Depth {
		return h[i].Depth > h[j].Depth
	}
	return h[i].refCount < h[j].refCount
}

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}

func (h *entryHeap) Push(x interface{}) {
	e := x.(*Entry)
	e.heapIndex = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.heapIndex = -1
	*h = old[:n-1]
	return e
}

// Cache is the bounded directory-handle cache.
type Cache struct {
	heap     entryHeap
	capacity int
}

// New creates a Cache with room for at most capacity simultaneously open
// directory descriptors. Capacity is derived at startup, per spec §5,
// from the process's NOFILE limit minus held sink/stdio descriptors plus
// one fd of headroom for the emptiness test.
func New(capacity int) *Cache {
	if capacity < 1 {
		capacity = 1
	}
	c := &Cache{capacity: capacity}
	deheap.Init(&c.heap)
	return c
}

// DefaultCapacity computes a cache capacity from the process's RLIMIT_NOFILE,
// reserving headroom for stdio, output sinks, and the emptiness test's
// one extra fd (spec §5).
func DefaultCapacity(reserved int) int {
	var rlim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rlim); err != nil {
		return 64
	}
	cap := int(rlim.Cur) - reserved - 1
	if cap < 2 {
		cap = 2
	}
	// Never try to track more than a few thousand open dirs even on
	// systems with a huge NOFILE; the heap overhead isn't worth it and
	// it defeats the purpose of bounding in the first place.
	if cap > 4096 {
		cap = 4096
	}
	return cap
}

// Add allocates a new Entry linked to parent, incrementing parent's
// refcount (spec §4.1 add). name should not include a trailing slash;
// Add appends one so later path concatenation needs no separator logic.
func (c *Cache) Add(parent *Entry, name string) *Entry {
	e := &Entry{
		parent:    parent,
		fd:        closedFD,
		heapIndex: -1,
		refCount:  1, // the reference held by whoever is adding it
	}
	if parent != nil {
		e.Depth = parent.Depth + 1
		e.Root = parent.Root
		parent.incref(c)
	}
	if len(name) == 0 || name[len(name)-1] != '/' {
		name += "/"
	}
	e.Name = name
	e.NameLength = len(name)
	return e
}

// Resolve walks up the parent chain until an ancestor with an open fd is
// found, returning that fd and the path suffix beginning after the
// ancestor's stored name (spec §4.1 resolve). If no ancestor is open, it
// returns NoAnchor and fullPath unchanged, meaning "open relative to the
// process's current working directory".
func Resolve(e *Entry, fullPath string) (anchorFD int, relPath string, base *Entry) {
	offset := len(fullPath)
	for cur := e; cur != nil; cur = cur.parent {
		offset -= cur.NameLength
		if cur.Open() {
			return cur.fd, fullPath[offset+cur.NameLength:], cur
		}
	}
	return NoAnchor, fullPath, nil
}

// Open requests a new directory handle for e, opened relative to
// Resolve's result. If the heap is full, the entry at the root of the
// eviction order is closed first; on EMFILE with at least two entries
// already cached, one non-pinned entry is evicted and the open retried
// once (spec §4.1). protect lists entries that must never be evicted to
// make room for this call — e itself, and whichever ancestor Resolve
// used as anchorFD, since closing that ancestor's descriptor out from
// under anchorFD would make the very openat below fail.
func (c *Cache) Open(e *Entry, anchorFD int, relPath string, protect ...*Entry) (int, error) {
	if len(c.heap) >= c.capacity {
		c.evictOne(protect...)
	}
	fd, err := c.openat(anchorFD, relPath)
	if err != nil {
		if errors.Is(err, unix.EMFILE) && len(c.heap) >= 2 {
			c.evictOne(protect...)
			fd, err = c.openat(anchorFD, relPath)
		}
		if err != nil {
			return closedFD, fserrors.New(fserrors.KindResource, err)
		}
	}
	e.fd = fd
	deheap.Push(&c.heap, e)
	return fd, nil
}

func (c *Cache) openat(anchorFD int, relPath string) (int, error) {
	path := relPath
	if path == "" {
		path = "."
	}
	fd := anchorFD
	if fd == NoAnchor {
		fd = unix.AT_FDCWD
	}
	return unix.Openat(fd, path, unix.O_RDONLY|unix.O_DIRECTORY|unix.O_CLOEXEC, 0)
}

// DupForStream duplicates e's cached descriptor so the walker can wrap it
// in a short-lived *os.File for a single readdir pass (spec §4.1: "the fd
// is duplicated so the readdir stream can be closed eagerly while the fd
// itself remains cached for future openats"). The caller owns and closes
// the returned fd; e's own descriptor is untouched.
func (e *Entry) DupForStream() (int, error) {
	return unix.Dup(e.fd)
}

// evictOne closes the cache entry at the head of the eviction order,
// skipping any entry in protect (it is pinned: either being expanded
// right now, or serving as another entry's open anchor) in favor of the
// next-best candidate.
func (c *Cache) evictOne(protect ...*Entry) {
	if len(c.heap) == 0 {
		return
	}
	isProtected := func(e *Entry) bool {
		for _, p := range protect {
			if e == p {
				return true
			}
		}
		return false
	}
	victim := c.heap[0]
	if isProtected(victim) {
		var alt *Entry
		altIdx := -1
		for i, e := range c.heap {
			if isProtected(e) {
				continue
			}
			if alt == nil || c.heap.Less(i, altIdx) {
				alt, altIdx = e, i
			}
		}
		if alt == nil {
			return
		}
		victim = alt
	}
	deheap.Remove(&c.heap, victim.heapIndex)
	fslog.Debugf(victim.Name, "evicting cached directory handle under descriptor pressure")
	_ = unix.Close(victim.fd)
	victim.fd = closedFD
}

// incref increases e's refcount and re-bubbles its heap position (spec
// §4.1 "incref increases the count and bubbles the entry down").
func (e *Entry) incref(c *Cache) {
	e.refCount++
	if e.heapIndex >= 0 {
		deheap.Fix(&c.heap, e.heapIndex)
	}
}

// Incref is the exported form of incref, used when the walker adds a
// second live reference to an already-cached entry.
func (c *Cache) Incref(e *Entry) { e.incref(c) }

// Decref decreases e's refcount and re-bubbles its heap position (spec
// §4.1 "decref decreases and bubbles up"). It reports whether the
// refcount reached zero, at which point the caller must call Free.
func (c *Cache) Decref(e *Entry) (zero bool) {
	e.refCount--
	if e.heapIndex >= 0 {
		deheap.Fix(&c.heap, e.heapIndex)
	}
	return e.refCount == 0
}

// Free closes e's descriptor (if open) and detaches it from the heap.
// Callers must only do this once e's refcount has reached zero (spec
// §3 invariant on Entry lifetime).
func (c *Cache) Free(e *Entry) {
	if e.heapIndex >= 0 {
		deheap.Remove(&c.heap, e.heapIndex)
	}
	if e.Open() {
		_ = unix.Close(e.fd)
		e.fd = closedFD
	}
}

// Len returns the number of directory descriptors currently open. It
// exceeds the configured capacity only when Open finds every cached entry
// protected and so has nothing to evict.
func (c *Cache) Len() int { return len(c.heap) }

// Capacity returns the configured maximum number of open descriptors.
func (c *Cache) Capacity() int { return c.capacity }
