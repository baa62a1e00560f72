package session

import (
	"container/list"
	"sync"

	"github.com/danmuck/wsclient/internal/protocol/packet"
)

// sendQueue is the outbound deque. New sends go to the back; a packet whose
// send failed goes back to the front so it stays ahead of later packets.
type sendQueue struct {
	mu    sync.Mutex
	items *list.List
	max   int
	wake  chan struct{}
}

func newSendQueue(max int) *sendQueue {
	return &sendQueue{
		items: list.New(),
		max:   max,
		wake:  make(chan struct{}, 1),
	}
}

func (q *sendQueue) pushBack(p packet.Packet) error {
	q.mu.Lock()
	if q.max > 0 && q.items.Len() >= q.max {
		q.mu.Unlock()
		return ErrQueueFull
	}
	q.items.PushBack(p)
	q.mu.Unlock()
	q.signal()
	return nil
}

// pushFront ignores the bound: the packet already held a slot.
func (q *sendQueue) pushFront(p packet.Packet) {
	q.mu.Lock()
	q.items.PushFront(p)
	q.mu.Unlock()
}

func (q *sendQueue) popFront() (packet.Packet, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	front := q.items.Front()
	if front == nil {
		return packet.Packet{}, false
	}
	q.items.Remove(front)
	return front.Value.(packet.Packet), true
}

func (q *sendQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// signal wakes the dispatcher without blocking.
func (q *sendQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
