package fifo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue(t *testing.T) {
	q := New[int]()
	_, ok := q.TryPop()
	assert.False(t, ok)

	q.Push(1)
	q.Push(2)
	assert.Equal(t, 2, q.Len())

	v, ok := q.TryPop()
	require.True(t, ok)
	assert.Equal(t, 1, v)

	stop := make(chan struct{})
	v, ok = q.Pop(stop)
	require.True(t, ok)
	assert.Equal(t, 2, v)

	close(stop)
	_, ok = q.Pop(stop)
	assert.False(t, ok)
}

func TestPopWakesOnPush(t *testing.T) {
	q := New[string]()
	stop := make(chan struct{})
	defer close(stop)

	got := make(chan string, 1)
	go func() {
		v, _ := q.Pop(stop)
		got <- v
	}()

	time.Sleep(10 * time.Millisecond)
	q.Push("x")

	select {
	case v := <-got:
		assert.Equal(t, "x", v)
	case <-time.After(time.Second):
		t.Fatal("Pop did not wake up")
	}
}
