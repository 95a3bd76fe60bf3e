package record

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypeFromModeCoversCommonKinds(t *testing.T) {
	assert.Equal(t, TypeDir, TypeFromMode(os.ModeDir))
	assert.Equal(t, TypeLink, TypeFromMode(os.ModeSymlink))
	assert.Equal(t, TypeFIFO, TypeFromMode(os.ModeNamedPipe))
	assert.Equal(t, TypeSocket, TypeFromMode(os.ModeSocket))
	assert.Equal(t, TypeRegular, TypeFromMode(0))
}

func TestNameAndPathString(t *testing.T) {
	r := &Record{Path: []byte("/a/b/c"), NameOffset: 4}
	assert.Equal(t, "/a/b/c", r.PathString())
	assert.Equal(t, "c", r.Name())
}

func TestEnsureStatCachesResult(t *testing.T) {
	calls := 0
	statter := func(r *Record, follow bool) error {
		calls++
		fi, err := os.Stat(".")
		if err != nil {
			return err
		}
		r.Stat = fi
		r.Type = TypeFromMode(fi.Mode())
		return nil
	}
	r := &Record{Path: []byte(".")}
	require.NoError(t, r.EnsureStat(statter))
	require.NoError(t, r.EnsureStat(statter))
	assert.Equal(t, 1, calls, "a second EnsureStat call must not re-stat")
}

func TestEnsureStatRecordsErrorType(t *testing.T) {
	boom := assertError("boom")
	statter := func(r *Record, follow bool) error { return boom }
	r := &Record{Path: []byte("/nonexistent")}
	err := r.EnsureStat(statter)
	assert.Error(t, err)
	assert.Equal(t, TypeError, r.Type)
}

type assertError string

func (e assertError) Error() string { return string(e) }
