package dircache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func mkTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "a"), 0o755))
	require.NoError(t, os.Mkdir(filepath.Join(root, "a", "b"), 0o755))
	return root
}

func TestAddTracksDepthAndRefcount(t *testing.T) {
	c := New(8)
	rootEntry := c.Add(nil, "/tmp")
	assert.Equal(t, 0, rootEntry.Depth)
	assert.Equal(t, 1, rootEntry.RefCount())

	child := c.Add(rootEntry, "a")
	assert.Equal(t, 1, child.Depth)
	assert.Equal(t, 2, rootEntry.RefCount(), "adding a child must incref its parent")
}

func TestResolveFallsBackToCwdWhenNothingOpen(t *testing.T) {
	c := New(8)
	root := c.Add(nil, "/tmp")
	child := c.Add(root, "a")
	anchor, rel, base := Resolve(child, "/tmp/a/")
	assert.Equal(t, NoAnchor, anchor)
	assert.Nil(t, base)
	assert.Equal(t, "/tmp/a/", rel)
}

func TestOpenThenResolveUsesCachedAncestor(t *testing.T) {
	dir := mkTree(t)
	c := New(8)
	root := c.Add(nil, dir)

	fd, err := c.Open(root, NoAnchor, dir+"/", root)
	require.NoError(t, err)
	defer unix.Close(fd)
	assert.True(t, root.Open())

	child := c.Add(root, "a")
	anchor, rel, base := Resolve(child, dir+"/a/")
	assert.Equal(t, root, base)
	assert.Equal(t, root.fd, anchor)
	assert.Equal(t, "a/", rel)
}

func TestDupForStreamLeavesCachedFDOpen(t *testing.T) {
	dir := mkTree(t)
	c := New(8)
	root := c.Add(nil, dir)
	_, err := c.Open(root, NoAnchor, dir+"/", root)
	require.NoError(t, err)

	dup, err := root.DupForStream()
	require.NoError(t, err)
	assert.NotEqual(t, root.fd, dup)
	require.NoError(t, unix.Close(dup))
	assert.True(t, root.Open(), "closing the stream's dup must not close the cached fd")
}

func TestDecrefZeroTriggersFree(t *testing.T) {
	dir := mkTree(t)
	c := New(8)
	root := c.Add(nil, dir)
	_, err := c.Open(root, NoAnchor, dir+"/", root)
	require.NoError(t, err)

	child := c.Add(root, "a")
	assert.True(t, c.Decref(child))
	// child's own refcount (held by whoever queued it) reaches zero here.
	// Free does not touch the parent; the caller releases the parent link
	// with a separate Decref, mirroring the walker's garbage-collection pass.
	c.Free(child)
	assert.False(t, c.Decref(root), "root still holds its own reference")
	assert.True(t, c.Decref(root))
	c.Free(root)
	assert.False(t, root.Open())
}

func TestEvictionProtectsActiveAnchor(t *testing.T) {
	dir := mkTree(t)
	c := New(1)
	root := c.Add(nil, dir)
	_, err := c.Open(root, NoAnchor, dir+"/", root)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Len())

	// root is both the entry being resolved against (anchorFD) and
	// protected, so opening child must not evict it out from under the
	// openat call even though the cache is already at capacity.
	child := c.Add(root, "a")
	_, err = c.Open(child, root.fd, "a/", child, root)
	require.NoError(t, err)
	assert.True(t, root.Open())
	assert.True(t, child.Open())
}

func TestDefaultCapacityIsAtLeastTwo(t *testing.T) {
	assert.GreaterOrEqual(t, DefaultCapacity(4), 2)
}
