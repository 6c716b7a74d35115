package utils

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimeoutManagerExpire(t *testing.T) {
	fired := make(chan struct{})
	m := NewTimeoutManager()
	m.Start(context.Background(), 20*time.Millisecond, func() { close(fired) })
	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatal("timer not fired")
	}
	// 结束以后Reset和Cancel都不会阻塞
	m.Reset()
	m.Cancel()
}

func TestTimeoutManagerCancel(t *testing.T) {
	fired := make(chan struct{}, 1)
	m := NewTimeoutManager()
	m.Start(context.Background(), 50*time.Millisecond, func() { fired <- struct{}{} })
	m.Cancel()
	select {
	case <-fired:
		t.Fatal("timer fired after cancel")
	case <-time.After(150 * time.Millisecond):
	}
	assert.Empty(t, fired)
}
