package workerpool

import (
	"errors"
	"runtime"
	"sync"
)

var ErrClosed = errors.New("workerpool: closed")

type WorkerPool struct {
	config    Config
	taskQueue chan func()

	// mu guards closed; senders hold it shared so Close never closes
	// taskQueue under a pending send.
	mu     sync.RWMutex
	closed bool
}

type Config struct {
	WorkerCount  int
	GlobalBuffer int
}

// Room groups tasks whose results are collected together.
type Room[T any] struct {
	resultChan chan T
	wg         sync.WaitGroup
	wp         *WorkerPool
}

func NewWorkerPool(config Config) *WorkerPool {
	if config.WorkerCount < 1 {
		config.WorkerCount = runtime.NumCPU()
	}

	if config.GlobalBuffer < 1 {
		config.GlobalBuffer = 1024
	}

	wp := &WorkerPool{
		config:    config,
		taskQueue: make(chan func(), config.GlobalBuffer),
	}

	for i := 0; i < config.WorkerCount; i++ {
		go wp.worker()
	}

	return wp
}

func (wp *WorkerPool) worker() {
	for run := range wp.taskQueue {
		run()
	}
}

// Close stops accepting tasks. Tasks already queued still run, so every
// accepted task reaches its room and Collect returns.
func (wp *WorkerPool) Close() {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if wp.closed {
		return
	}
	wp.closed = true
	close(wp.taskQueue)
}

// CreateRoom makes a room whose result buffer holds size results.
func CreateRoom[T any](wp *WorkerPool, size int) *Room[T] {
	return &Room[T]{
		resultChan: make(chan T, size),
		wp:         wp,
	}
}

// NewTaskWaitForFreeSlot queues job, blocking while the global queue is full.
// It fails with ErrClosed once the pool is closed.
func (ro *Room[T]) NewTaskWaitForFreeSlot(job func() T) error {
	ro.wp.mu.RLock()
	defer ro.wp.mu.RUnlock()
	if ro.wp.closed {
		return ErrClosed
	}

	ro.wg.Add(1)
	ro.wp.taskQueue <- func() {
		defer ro.wg.Done()
		ro.resultChan <- job()
	}
	return nil
}

// Collect waits for every task of the room and returns their results in
// completion order.
func (ro *Room[T]) Collect() []T {
	go ro.WaitAndClose()
	results := make([]T, 0, cap(ro.resultChan))

	for result := range ro.resultChan {
		results = append(results, result)
	}

	return results
}

func (ro *Room[T]) WaitAndClose() {
	ro.wg.Wait()
	close(ro.resultChan)
}
