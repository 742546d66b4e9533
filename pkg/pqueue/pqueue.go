package pqueue

import (
	"container/heap"
	"time"
)

// Item is a value scheduled to fire at Deadline.
type Item[V any] struct {
	Id       string
	Value    V
	Deadline time.Time
	Index    int
}

type MinItem[V any] []*Item[V]

func (heap MinItem[V]) Len() int {
	return len(heap)
}

func (heap MinItem[V]) Less(i, j int) bool {
	return heap[i].Deadline.Before(heap[j].Deadline)
}

func (heap MinItem[V]) Swap(i, j int) {
	heap[i], heap[j] = heap[j], heap[i]
	heap[i].Index = i
	heap[j].Index = j
}

func (heap *MinItem[V]) Push(val any) {
	n := len(*heap)
	item := val.(*Item[V])
	item.Index = n
	*heap = append(*heap, item)
}

func (heap *MinItem[V]) Pop() any {
	old := *heap
	n := len(old)

	item := old[n-1]
	old[n-1] = nil
	item.Index = -1

	*heap = old[0 : n-1]

	return item
}

// PriorityQueue orders items by earliest deadline. It is not safe for concurrent
// use; callers hold their own lock.
type PriorityQueue[V any] struct {
	heap MinItem[V]
}

func New[V any]() *PriorityQueue[V] {
	priorityQueue := PriorityQueue[V]{}
	priorityQueue.heap = make(MinItem[V], 0)

	heap.Init(&priorityQueue.heap)

	return &priorityQueue
}

func (queue *PriorityQueue[V]) Push(item *Item[V]) {
	heap.Push(&queue.heap, item)
}

func (queue *PriorityQueue[V]) Pop() *Item[V] {
	return heap.Pop(&queue.heap).(*Item[V])
}

func (queue *PriorityQueue[V]) Peek() *Item[V] {
	return queue.At(0)
}

// Remove drops the item from the heap. Items already removed are ignored.
func (queue *PriorityQueue[V]) Remove(item *Item[V]) {
	if item.Index < 0 || item.Index >= queue.heap.Len() || queue.heap[item.Index] != item {
		return
	}

	heap.Remove(&queue.heap, item.Index)
}

// Reschedule moves the item to a new deadline.
func (queue *PriorityQueue[V]) Reschedule(item *Item[V], deadline time.Time) {
	item.Deadline = deadline
	heap.Fix(&queue.heap, item.Index)
}

// PopExpired removes and returns every item whose deadline is not after now.
func (queue *PriorityQueue[V]) PopExpired(now time.Time) []*Item[V] {
	var expired []*Item[V]
	for !queue.IsEmpty() && !queue.Peek().Deadline.After(now) {
		expired = append(expired, queue.Pop())
	}

	return expired
}

func (queue *PriorityQueue[V]) At(index int) *Item[V] {
	return queue.heap[index]
}

func (queue PriorityQueue[V]) Len() int {
	return queue.heap.Len()
}

func (queue PriorityQueue[V]) IsEmpty() bool {
	return queue.heap.Len() == 0
}
