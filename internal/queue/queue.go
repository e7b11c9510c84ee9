package queue

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Job is a unit of work that the queue will execute.
type Job func(ctx context.Context)

type item struct {
	ctx context.Context
	job Job
}

// GroupQueue runs jobs FIFO per key (a chat channel) while different keys
// run concurrently, limited globally by a weighted semaphore.
type GroupQueue struct {
	sem     *semaphore.Weighted
	mu      sync.Mutex
	queues  map[string][]item
	running map[string]bool
	wg      sync.WaitGroup
}

// New creates a GroupQueue limited to maxConcurrent simultaneous jobs.
func New(maxConcurrent int64) *GroupQueue {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &GroupQueue{
		sem:     semaphore.NewWeighted(maxConcurrent),
		queues:  make(map[string][]item),
		running: make(map[string]bool),
	}
}

// Enqueue appends job to key's queue and returns without waiting. ctx is
// handed to the job; a job whose ctx is done before it gets a slot is dropped.
func (q *GroupQueue) Enqueue(ctx context.Context, key string, job Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.queues[key] = append(q.queues[key], item{ctx: ctx, job: job})
	if q.running[key] {
		return
	}
	q.running[key] = true
	q.wg.Add(1)
	go q.drain(key)
}

// drain is the single worker of one key, so jobs of that key never overlap.
func (q *GroupQueue) drain(key string) {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		items := q.queues[key]
		if len(items) == 0 {
			delete(q.queues, key)
			delete(q.running, key)
			q.mu.Unlock()
			return
		}
		it := items[0]
		q.queues[key] = items[1:]
		q.mu.Unlock()

		if err := q.sem.Acquire(it.ctx, 1); err != nil {
			continue
		}
		it.job(it.ctx)
		q.sem.Release(1)
	}
}

// PendingCount returns the number of queued, not yet started jobs for key.
func (q *GroupQueue) PendingCount(key string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queues[key])
}

// IsRunning reports whether key has a worker.
func (q *GroupQueue) IsRunning(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running[key]
}

// Wait blocks until every queued job has finished.
func (q *GroupQueue) Wait() {
	q.wg.Wait()
}
