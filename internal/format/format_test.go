package format

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lamby/bfs/internal/fstype"
	"github.com/lamby/bfs/internal/record"
)

func TestCompileLiteralAndEscapes(t *testing.T) {
	prog, err := Compile(`hello\tworld\n`)
	require.NoError(t, err)
	var buf bytes.Buffer
	env := NewEnv(fstype.Static("tmpfs"))
	require.NoError(t, prog.Exec(&buf, env, &record.Record{}))
	assert.Equal(t, "hello\tworld\n", buf.String())
}

func TestCompilePathAndNameDirectives(t *testing.T) {
	prog, err := Compile("%p|%f|%d\n")
	require.NoError(t, err)
	rec := &record.Record{Path: []byte("/a/b/c"), NameOffset: 4, Depth: 2}
	var buf bytes.Buffer
	env := NewEnv(fstype.Static("ext4"))
	require.NoError(t, prog.Exec(&buf, env, rec))
	assert.Equal(t, "/a/b/c|c|2\n", buf.String())
}

func TestCompileUnknownDirectiveIsProtocolError(t *testing.T) {
	_, err := Compile("%Q")
	assert.Error(t, err)
}

func TestCompilePercentEscape(t *testing.T) {
	prog, err := Compile("100%%")
	require.NoError(t, err)
	var buf bytes.Buffer
	env := NewEnv(fstype.Static("ext4"))
	require.NoError(t, prog.Exec(&buf, env, &record.Record{}))
	assert.Equal(t, "100%", buf.String())
}

func TestFilesystemTypeDirective(t *testing.T) {
	prog, err := Compile("%F")
	require.NoError(t, err)
	var buf bytes.Buffer
	env := NewEnv(fstype.Static("zfs"))
	require.NoError(t, prog.Exec(&buf, env, &record.Record{Path: []byte("/x")}))
	assert.Equal(t, "zfs", buf.String())
}

func TestNeedStatReflectsDirectives(t *testing.T) {
	withSize, err := Compile("%s")
	require.NoError(t, err)
	assert.True(t, withSize.NeedStat)

	withoutSize, err := Compile("%p")
	require.NoError(t, err)
	assert.False(t, withoutSize.NeedStat)
}
