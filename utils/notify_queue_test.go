package utils

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNotifyQueueOrder(t *testing.T) {
	var mu sync.Mutex
	var got []interface{}
	q := NewNotifyQueue(func(v interface{}) {
		mu.Lock()
		got = append(got, v)
		mu.Unlock()
	})
	for i := 0; i < 100; i++ {
		assert.True(t, q.Push(i))
	}
	q.Close()
	select {
	case <-q.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("queue not drained")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestNotifyQueueAsync(t *testing.T) {
	release := make(chan struct{})
	delivered := make(chan interface{}, 1)
	q := NewNotifyQueue(func(v interface{}) {
		<-release
		delivered <- v
	})
	// Push 不会等待 callback
	assert.True(t, q.Push("a"))
	close(release)
	assert.Equal(t, "a", <-delivered)
}

func TestNotifyQueueClosed(t *testing.T) {
	q := NewNotifyQueue(nil)
	q.Close()
	q.Close()
	assert.False(t, q.Push(1))
	<-q.Done()
}
