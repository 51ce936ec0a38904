package explorer

import "sync"

// Scheduler runs background continuations. Expansion calls never wait on it.
type Scheduler interface {
	Schedule(task func())
}

// GoroutineScheduler runs each task on its own goroutine.
type GoroutineScheduler struct {
	wg sync.WaitGroup
}

var _ Scheduler = (*GoroutineScheduler)(nil)

// NewGoroutineScheduler returns a ready GoroutineScheduler.
func NewGoroutineScheduler() *GoroutineScheduler {
	return &GoroutineScheduler{}
}

// Schedule starts task in the background.
func (s *GoroutineScheduler) Schedule(task func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		task()
	}()
}

// Wait blocks until every scheduled task, including tasks scheduled by tasks, has returned.
func (s *GoroutineScheduler) Wait() {
	s.wg.Wait()
}

// ManualScheduler queues tasks until the caller steps them. Tasks run on the caller's goroutine in FIFO order.
type ManualScheduler struct {
	mu    sync.Mutex
	queue []func()
}

var _ Scheduler = (*ManualScheduler)(nil)

// NewManualScheduler returns an empty ManualScheduler.
func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{}
}

// Schedule enqueues task.
func (s *ManualScheduler) Schedule(task func()) {
	s.mu.Lock()
	s.queue = append(s.queue, task)
	s.mu.Unlock()
}

// Step runs the oldest queued task. It reports false when the queue was empty.
func (s *ManualScheduler) Step() bool {
	s.mu.Lock()
	if len(s.queue) == 0 {
		s.mu.Unlock()
		return false
	}
	task := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]
	s.mu.Unlock()

	task()
	return true
}

// Drain runs tasks until the queue is empty and returns how many ran.
func (s *ManualScheduler) Drain() int {
	count := 0
	for s.Step() {
		count++
	}
	return count
}

// Pending returns the number of queued tasks.
func (s *ManualScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}
