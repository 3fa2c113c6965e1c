package scanner

import "sync"

// Queue 无界 FIFO：扫描器写、分发器读，Push 从不阻塞。
type Queue struct {
	mu    sync.Mutex
	items []AnomalyEvent
	ready chan struct{}
}

func NewQueue() *Queue {
	return &Queue{ready: make(chan struct{}, 1)}
}

// Push 追加事件并发出就绪通知。
func (q *Queue) Push(ev AnomalyEvent) {
	q.mu.Lock()
	q.items = append(q.items, ev)
	q.mu.Unlock()
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// TryPop 非阻塞取出队首。
func (q *Queue) TryPop() (AnomalyEvent, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return AnomalyEvent{}, false
	}
	ev := q.items[0]
	q.items[0] = AnomalyEvent{}
	q.items = q.items[1:]
	return ev, true
}

// Drain 取出当前全部事件，保持入队顺序。
func (q *Queue) Drain() []AnomalyEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Ready 有新事件入队时可读；多次 Push 可能只合并为一次通知。
func (q *Queue) Ready() <-chan struct{} {
	return q.ready
}
