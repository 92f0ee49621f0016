package search

import "github.com/vectorvault/nexus/model"

// Result is a single search hit.
type Result struct {
	ID    model.ID
	Score float32
}

// less orders results for final output: descending score, ascending id
// on equal scores. The ordering is total, so identical candidate sets
// always produce identical result lists.
func (r Result) less(o Result) bool {
	if r.Score != o.Score {
		return r.Score > o.Score
	}
	return r.ID < o.ID
}

// topK keeps the k best results seen so far. It is a binary min-heap
// whose root is the weakest kept result, so a new candidate only has to
// beat the root to enter.
type topK struct {
	k     int
	items []Result
}

func newTopK(k int) *topK {
	return &topK{k: k, items: make([]Result, 0, k)}
}

// weaker reports whether a should be evicted before b.
func weaker(a, b Result) bool { return b.less(a) }

func (q *topK) push(r Result) {
	if len(q.items) < q.k {
		q.items = append(q.items, r)
		q.siftUp(len(q.items) - 1)
		return
	}
	if !weaker(q.items[0], r) {
		return
	}
	q.items[0] = r
	q.siftDown(0)
}

func (q *topK) siftUp(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if !weaker(q.items[i], q.items[parent]) {
			break
		}
		q.items[i], q.items[parent] = q.items[parent], q.items[i]
		i = parent
	}
}

func (q *topK) siftDown(i int) {
	n := len(q.items)
	for {
		weakest := i
		if l := 2*i + 1; l < n && weaker(q.items[l], q.items[weakest]) {
			weakest = l
		}
		if r := 2*i + 2; r < n && weaker(q.items[r], q.items[weakest]) {
			weakest = r
		}
		if weakest == i {
			return
		}
		q.items[i], q.items[weakest] = q.items[weakest], q.items[i]
		i = weakest
	}
}

// drain empties the heap and returns its contents in output order.
func (q *topK) drain() []Result {
	out := make([]Result, 0, len(q.items))
	for len(q.items) > 0 {
		last := len(q.items) - 1
		q.items[0], q.items[last] = q.items[last], q.items[0]
		out = append(out, q.items[last])
		q.items = q.items[:last]
		q.siftDown(0)
	}
	// Heap order yields weakest-first; reverse into strongest-first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}
