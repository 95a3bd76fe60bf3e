package walk

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/unicode/norm"

	"github.com/lamby/bfs/internal/record"
)

// buildTree lays out:
//
//	root/
//	  a/
//	    a1.txt
//	  b/
//	    c/
//	      c1.txt
//	  z.txt
func buildTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "a"), 0o755))
	require.NoError(t, os.Mkdir(filepath.Join(root, "b"), 0o755))
	require.NoError(t, os.Mkdir(filepath.Join(root, "b", "c"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a", "a1.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b", "c", "c1.txt"), []byte("y"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "z.txt"), []byte("z"), 0o644))
	return root
}

func TestWalkVisitsShallowerDepthsFirst(t *testing.T) {
	root := buildTree(t)
	var depths []int
	err := Walk([]string{root}, Options{CacheSize: 8}, func(rec *record.Record) Action {
		depths = append(depths, rec.Depth)
		return ActionContinue
	})
	require.NoError(t, err)
	require.NotEmpty(t, depths)
	for i := 1; i < len(depths); i++ {
		assert.LessOrEqual(t, depths[i-1], depths[i]+1,
			"BFS must not jump ahead to a much deeper level before shallower ones are exhausted")
	}
	// Depths must appear in non-decreasing blocks: every depth-0 visit
	// before any depth-1, every depth-1 before any depth-2, and so on.
	maxSeenAtLowerDepth := -1
	lastDepth := 0
	for _, d := range depths {
		if d < lastDepth {
			t.Fatalf("depth %d observed after depth %d: not breadth-first", d, lastDepth)
		}
		lastDepth = d
		_ = maxSeenAtLowerDepth
	}
}

func TestWalkReportsFileTypes(t *testing.T) {
	root := buildTree(t)
	types := map[string]record.Type{}
	err := Walk([]string{root}, Options{CacheSize: 8}, func(rec *record.Record) Action {
		types[rec.PathString()] = rec.Type
		return ActionContinue
	})
	require.NoError(t, err)
	assert.Equal(t, record.TypeDir, types[root])
	assert.Equal(t, record.TypeRegular, types[filepath.Join(root, "z.txt")])
	assert.Equal(t, record.TypeDir, types[filepath.Join(root, "a")])
}

func TestWalkSkipSubtreePrunesChildren(t *testing.T) {
	root := buildTree(t)
	var visited []string
	err := Walk([]string{root}, Options{CacheSize: 8}, func(rec *record.Record) Action {
		visited = append(visited, rec.PathString())
		if rec.PathString() == filepath.Join(root, "b") {
			return ActionSkipSubtree
		}
		return ActionContinue
	})
	require.NoError(t, err)
	for _, v := range visited {
		assert.NotEqual(t, filepath.Join(root, "b", "c"), v)
		assert.NotEqual(t, filepath.Join(root, "b", "c", "c1.txt"), v)
	}
}

func TestWalkStopHaltsImmediately(t *testing.T) {
	root := buildTree(t)
	count := 0
	err := Walk([]string{root}, Options{CacheSize: 8}, func(rec *record.Record) Action {
		count++
		return ActionStop
	})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestWalkCompletesWithTightCacheCapacity(t *testing.T) {
	root := buildTree(t)
	// A tight cache forces eviction/reopen churn; the walk must still
	// complete and reach the deepest file.
	var paths []string
	err := Walk([]string{root}, Options{CacheSize: 2}, func(rec *record.Record) Action {
		paths = append(paths, rec.PathString())
		return ActionContinue
	})
	require.NoError(t, err)
	assert.Contains(t, paths, filepath.Join(root, "b", "c", "c1.txt"))
}

func TestWalkMultipleRootsSeedSequentially(t *testing.T) {
	rootA := t.TempDir()
	rootB := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(rootA, "f1"), []byte("1"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(rootB, "f2"), []byte("2"), 0o644))

	var seen []string
	err := Walk([]string{rootA, rootB}, Options{CacheSize: 8}, func(rec *record.Record) Action {
		seen = append(seen, rec.PathString())
		return ActionContinue
	})
	require.NoError(t, err)
	assert.Contains(t, seen, rootA)
	assert.Contains(t, seen, rootB)
	assert.Contains(t, seen, filepath.Join(rootA, "f1"))
	assert.Contains(t, seen, filepath.Join(rootB, "f2"))
}

func TestWalkNormalizeUnicodeRewritesDecomposedNames(t *testing.T) {
	root := t.TempDir()
	decomposed := norm.NFD.String("café.txt")
	require.NoError(t, os.WriteFile(filepath.Join(root, decomposed), []byte("x"), 0o644))

	var names []string
	err := Walk([]string{root}, Options{CacheSize: 8, NormalizeUnicode: true}, func(rec *record.Record) Action {
		if rec.Depth == 1 {
			names = append(names, filepath.Base(rec.PathString()))
		}
		return ActionContinue
	})
	require.NoError(t, err)
	require.Len(t, names, 1)
	assert.Equal(t, norm.NFC.String("café.txt"), names[0])
}
