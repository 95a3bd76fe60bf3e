package frontier

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQueueFIFOOrder(t *testing.T) {
	q := New[int]()
	values := []int{1, 2, 3, 4, 5}
	for i := range values {
		q.Push(&values[i])
	}
	assert.Equal(t, 5, q.Len())
	for _, want := range values {
		got := q.Pop()
		if assert.NotNil(t, got) {
			assert.Equal(t, want, *got)
		}
	}
	assert.Equal(t, 0, q.Len())
	assert.Nil(t, q.Pop())
}

func TestQueueGrowsAndWraps(t *testing.T) {
	q := New[int]()
	// Push past the initial capacity so grow() has to run at least once,
	// then drain partially and refill so head/tail wrap around the ring.
	vals := make([]int, 20)
	for i := range vals {
		vals[i] = i
	}
	for i := 0; i < 10; i++ {
		q.Push(&vals[i])
	}
	for i := 0; i < 5; i++ {
		assert.Equal(t, i, *q.Pop())
	}
	for i := 10; i < 20; i++ {
		q.Push(&vals[i])
	}
	for i := 5; i < 20; i++ {
		got := q.Pop()
		if assert.NotNil(t, got) {
			assert.Equal(t, i, *got)
		}
	}
	assert.Nil(t, q.Pop())
}
