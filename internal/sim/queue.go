package sim

import "container/heap"

type scheduled struct {
	at  float64
	seq uint64
	fn  func()
}

// agenda orders callbacks by time, then by insertion.
type agenda []*scheduled

func (a agenda) Len() int { return len(a) }

func (a agenda) Less(i, j int) bool {
	if a[i].at != a[j].at {
		return a[i].at < a[j].at
	}
	return a[i].seq < a[j].seq
}

func (a agenda) Swap(i, j int) { a[i], a[j] = a[j], a[i] }

func (a *agenda) Push(x any) { *a = append(*a, x.(*scheduled)) }

func (a *agenda) Pop() any {
	old := *a
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*a = old[:n-1]
	return item
}

func (a *agenda) push(item *scheduled) { heap.Push(a, item) }

func (a *agenda) pop() *scheduled { return heap.Pop(a).(*scheduled) }

func (a agenda) peek() *scheduled {
	if len(a) == 0 {
		return nil
	}
	return a[0]
}
