package utils

import (
	"context"
	"sync"

	"github.com/emirpasic/gods/queues/linkedlistqueue"
	"github.com/fansqz/ether-debugger/utils/gosync"
)

// NotifyQueue 异步、按顺序投递通知
// Push 只负责入队，callback 总是在单独的协程中按入队顺序执行，
// 所以调用方在触发事件的调用返回之后再开始监听也不会丢失事件
type NotifyQueue struct {
	mu       sync.Mutex
	queue    *linkedlistqueue.Queue
	closed   bool
	signal   chan struct{}
	done     chan struct{}
	callback func(interface{})
}

func NewNotifyQueue(callback func(interface{})) *NotifyQueue {
	q := &NotifyQueue{
		queue:    linkedlistqueue.New(),
		signal:   make(chan struct{}, 1),
		done:     make(chan struct{}),
		callback: callback,
	}
	gosync.Go(context.Background(), q.loop)
	return q
}

// Push 入队，队列关闭以后返回false
func (q *NotifyQueue) Push(value interface{}) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.queue.Enqueue(value)
	q.mu.Unlock()
	q.wake()
	return true
}

// Close 不再接收新的通知，已入队的通知仍然会被投递
func (q *NotifyQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()
	q.wake()
}

// Done 所有通知投递完并且队列关闭后被关闭
func (q *NotifyQueue) Done() <-chan struct{} {
	return q.done
}

func (q *NotifyQueue) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *NotifyQueue) loop(ctx context.Context) {
	defer close(q.done)
	for {
		<-q.signal
		for {
			q.mu.Lock()
			value, ok := q.queue.Dequeue()
			closed := q.closed
			q.mu.Unlock()
			if !ok {
				if closed {
					return
				}
				break
			}
			if q.callback != nil {
				q.callback(value)
			}
		}
	}
}
