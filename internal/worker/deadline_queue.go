package worker

import (
	"time"

	"github.com/google/uuid"
)

type deadlineItem struct {
	attemptID uuid.UUID
	at        time.Time
	index     int
}

// deadlineQueue is a container/heap min-heap ordered by deadline.
type deadlineQueue []*deadlineItem

func (q deadlineQueue) Len() int { return len(q) }

func (q deadlineQueue) Less(i, j int) bool { return q[i].at.Before(q[j].at) }

func (q deadlineQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *deadlineQueue) Push(x interface{}) {
	item := x.(*deadlineItem)
	item.index = len(*q)
	*q = append(*q, item)
}

func (q *deadlineQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*q = old[:n-1]
	return item
}
