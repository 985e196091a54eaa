package main

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWaitDone(t *testing.T) {
	var wg sync.WaitGroup
	release := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-release
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, waitDone(ctx, &wg), context.DeadlineExceeded)

	close(release)
	assert.NoError(t, waitDone(context.Background(), &wg))
}

func TestWaitDone_StopsBeforeReturning(t *testing.T) {
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		finished bool
	)
	ctx, cancel := context.WithCancel(context.Background())
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond)
		mu.Lock()
		finished = true
		mu.Unlock()
	}()

	cancel()
	assert.NoError(t, waitDone(context.Background(), &wg))

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, finished)
}
