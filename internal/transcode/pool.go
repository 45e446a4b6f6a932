package transcode

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"golang.org/x/sync/semaphore"

	"clipflow/internal/apperr"
	"clipflow/internal/logging"
	"clipflow/internal/metrics"
)

var ErrPoolClosed = errors.New("transcode pool closed")

// Pool bounds how many transcodes run at once. Request handlers never encode
// on their own goroutine; they hand work to the pool.
type Pool struct {
	sem    *semaphore.Weighted
	logger logging.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewPool(workers int, logger logging.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(workers)), logger: logger}
}

// Do runs fn on a worker slot and returns its error. It blocks until a slot
// is free and fn has returned.
func (p *Pool) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := p.track(); err != nil {
		return err
	}
	defer p.wg.Done()

	if err := p.acquire(ctx); err != nil {
		return err
	}
	defer p.release()
	return p.run(ctx, fn)
}

// Go schedules fn and returns immediately.
func (p *Pool) Go(ctx context.Context, fn func(context.Context)) error {
	if err := p.track(); err != nil {
		return err
	}
	go func() {
		defer p.wg.Done()
		if err := p.acquire(ctx); err != nil {
			p.logger.Warn(ctx, "transcode job dropped before start", "error", err)
			return
		}
		defer p.release()
		if err := p.run(ctx, func(ctx context.Context) error { fn(ctx); return nil }); err != nil {
			p.logger.Error(ctx, "transcode job failed", "error", err)
		}
	}()
	return nil
}

// Wait stops accepting work and blocks until running and queued jobs finish
// or ctx is done.
func (p *Pool) Wait(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) track() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolClosed
	}
	p.wg.Add(1)
	return nil
}

func (p *Pool) acquire(ctx context.Context) error {
	metrics.QueuedTranscodes.Inc()
	err := p.sem.Acquire(ctx, 1)
	metrics.QueuedTranscodes.Dec()
	if err != nil {
		return err
	}
	metrics.ActiveTranscodes.Inc()
	return nil
}

func (p *Pool) release() {
	metrics.ActiveTranscodes.Dec()
	p.sem.Release(1)
}

func (p *Pool) run(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error(ctx, "transcode job panicked", "panic", r, "stack", string(debug.Stack()))
			err = apperr.Wrap(apperr.KindTranscode, "transcode", fmt.Errorf("panic: %v", r))
		}
	}()
	return fn(ctx)
}
