// Package fstype resolves the filesystem type name backing a path, used
// by the %F format directive (spec §4.5, §9.1 supplement). It is kept
// behind a Resolver interface so the formatter can be tested without a
// real mount table.
//
// Grounded on github.com/artyom/mtab, a teacher-pack dependency for
// parsing /proc/mounts-style tables, wrapped the way the teacher wraps
// its own external collaborators (an interface plus one concrete
// implementation constructed once at startup).
package fstype

import (
	"sort"
	"strings"
	"sync"

	"github.com/artyom/mtab"
)

// Resolver maps a path to the name of the filesystem that backs it (e.g.
// "ext4", "tmpfs", "nfs").
type Resolver interface {
	Resolve(path string) (string, error)
}

// MtabResolver implements Resolver by reading the system mount table
// once and matching the longest mount-point prefix, the same strategy
// `df` and GNU find use.
type MtabResolver struct {
	mu      sync.Mutex
	loaded  bool
	entries []mtab.Entry
}

// NewMtabResolver returns a Resolver backed by the live mount table. The
// table is read lazily on first use and cached for the process lifetime;
// a long-running walk that outlives a mount/umount will see a stale
// answer until restarted, which matches find's own behavior.
func NewMtabResolver() *MtabResolver {
	return &MtabResolver{}
}

func (r *MtabResolver) load() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loaded {
		return nil
	}
	entries, err := mtab.Entries()
	if err != nil {
		return err
	}
	// Longest mount point first so a prefix search finds the most
	// specific match (e.g. "/home" before "/").
	sort.Slice(entries, func(i, j int) bool {
		return len(entries[i].Dir) > len(entries[j].Dir)
	})
	r.entries = entries
	r.loaded = true
	return nil
}

// Resolve returns the filesystem type backing path's longest matching
// mount point, or "unknown" if the table could not be read.
func (r *MtabResolver) Resolve(path string) (string, error) {
	if err := r.load(); err != nil {
		return "unknown", err
	}
	for _, e := range r.entries {
		if e.Dir == "/" || path == e.Dir || strings.HasPrefix(path, e.Dir+"/") {
			return e.Type, nil
		}
	}
	return "unknown", nil
}

// staticResolver is a fixed-answer Resolver for tests and for -printf
// callers that never asked for %F (avoids touching /proc/mounts at all).
type staticResolver string

func (s staticResolver) Resolve(string) (string, error) { return string(s), nil }

// Static returns a Resolver that always reports name, for tests.
func Static(name string) Resolver { return staticResolver(name) }
