package eval

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lamby/bfs/internal/expr"
	"github.com/lamby/bfs/internal/record"
)

func leaf(name string, result bool) *expr.Node {
	return expr.Test(name, func(*record.Record) (bool, error) { return result, nil })
}

func TestEvalNilExpressionAlwaysMatches(t *testing.T) {
	ok, err := Eval(nil, &record.Record{}, nil, nil)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvalAndShortCircuits(t *testing.T) {
	var rightRan bool
	left := leaf("false", false)
	right := expr.Test("track", func(*record.Record) (bool, error) {
		rightRan = true
		return true, nil
	})
	ok, err := Eval(expr.And(left, right), &record.Record{}, nil, nil)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, rightRan)
}

func TestEvalOrShortCircuits(t *testing.T) {
	var rightRan bool
	left := leaf("true", true)
	right := expr.Test("track", func(*record.Record) (bool, error) {
		rightRan = true
		return false, nil
	})
	ok, err := Eval(expr.Or(left, right), &record.Record{}, nil, nil)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, rightRan)
}

func TestEvalCommaRunsBothKeepsRight(t *testing.T) {
	var leftRan, rightRan bool
	left := expr.Test("l", func(*record.Record) (bool, error) {
		leftRan = true
		return true, nil
	})
	right := expr.Test("r", func(*record.Record) (bool, error) {
		rightRan = true
		return false, nil
	})
	ok, err := Eval(expr.Comma(left, right), &record.Record{}, nil, nil)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, leftRan)
	assert.True(t, rightRan)
}

func TestEvalNotInverts(t *testing.T) {
	ok, err := Eval(expr.Not(leaf("t", true)), &record.Record{}, nil, nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvalPropagatesLeafError(t *testing.T) {
	boom := expr.Test("boom", func(*record.Record) (bool, error) {
		return false, errors.New("broken")
	})
	_, err := Eval(boom, &record.Record{}, nil, nil)
	assert.Error(t, err)
}

func TestEvalStatsAccumulate(t *testing.T) {
	var st Stats
	_, err := Eval(leaf("t", true), &record.Record{}, nil, &st)
	require.NoError(t, err)
	_, err = Eval(leaf("f", false), &record.Record{}, nil, &st)
	require.NoError(t, err)
	assert.Equal(t, int64(2), st.Evaluated)
	assert.Equal(t, int64(1), st.Matched)
}
