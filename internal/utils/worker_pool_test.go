package utils

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWorkerPool_RunsSubmittedTasks(t *testing.T) {
	pool := NewWorkerPool(2)

	var mu sync.Mutex
	ran := 0
	for i := 0; i < 5; i++ {
		pool.Submit(func() {
			mu.Lock()
			ran++
			mu.Unlock()
		})
	}

	assert.True(t, pool.Shutdown(time.Second))
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 5, ran)
}

func TestWorkerPool_TrySubmitReportsFullQueue(t *testing.T) {
	pool := NewWorkerPool(1)

	started := make(chan struct{})
	block := make(chan struct{})
	pool.Submit(func() {
		close(started)
		<-block
	})
	<-started

	// Worker is busy; the queue (capacity 1) takes one more, then refuses.
	assert.True(t, pool.TrySubmit(func() {}))
	assert.False(t, pool.TrySubmit(func() {}))

	close(block)
	assert.True(t, pool.Shutdown(time.Second))
}

func TestWorkerPool_ShutdownTimesOutOnStuckTask(t *testing.T) {
	pool := NewWorkerPool(1)

	started := make(chan struct{})
	block := make(chan struct{})
	defer close(block)
	pool.Submit(func() {
		close(started)
		<-block
	})
	<-started

	assert.False(t, pool.Shutdown(20*time.Millisecond))
}
