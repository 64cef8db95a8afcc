package dispatch

import (
	"sync"

	"github.com/adalundhe/rsyncwatch/core/transfer"
)

// pathQueue runs requests for the same path one after another, in arrival
// order, while different paths proceed concurrently. Each busy path owns one
// worker goroutine that exits once its lane is empty.
type pathQueue struct {
	mu    sync.Mutex
	lanes map[string][]transfer.Request
	wg    sync.WaitGroup
	run   func(transfer.Request)
}

func newPathQueue(run func(transfer.Request)) *pathQueue {
	return &pathQueue{
		lanes: make(map[string][]transfer.Request),
		run:   run,
	}
}

func (q *pathQueue) enqueue(path string, req transfer.Request) {
	q.mu.Lock()
	defer q.mu.Unlock()

	pending, busy := q.lanes[path]
	q.lanes[path] = append(pending, req)
	if !busy {
		q.wg.Add(1)
		go q.drain(path)
	}
}

func (q *pathQueue) drain(path string) {
	defer q.wg.Done()

	for {
		q.mu.Lock()
		pending := q.lanes[path]
		if len(pending) == 0 {
			delete(q.lanes, path)
			q.mu.Unlock()
			return
		}
		req := pending[0]
		q.lanes[path] = pending[1:]
		q.mu.Unlock()

		q.run(req)
	}
}

// wait blocks until every enqueued request has run.
func (q *pathQueue) wait() {
	q.wg.Wait()
}
