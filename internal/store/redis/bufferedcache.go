package redis

import (
	"context"
	"errors"
	"log"
	"sync"

	"tvbacktest/internal/backtest"
	"tvbacktest/internal/optimizer"
)

// pendingPut is a cache write held back while the circuit was open.
type pendingPut struct {
	key  string
	data []byte
}

// BufferedCache wraps a Cache so that writes rejected by an open circuit are
// held locally and written once the circuit closes again. Reads are not
// buffered: a rejected Get is reported to the optimizer as an error, which it
// treats as a miss.
type BufferedCache struct {
	*Cache
	ctx context.Context

	mu     sync.Mutex
	buffer []pendingPut
	maxBuf int // max buffered writes before dropping oldest (default: 10000)

	// Callbacks
	OnBuffer func()          // called when a write is buffered (for metrics)
	OnFlush  func(count int) // called after flushing buffered writes
}

var _ optimizer.Cache = (*BufferedCache)(nil)

// NewBufferedCache wraps c. ctx bounds the background flushes.
func NewBufferedCache(ctx context.Context, c *Cache, maxBufferSize int) *BufferedCache {
	if maxBufferSize <= 0 {
		maxBufferSize = 10000
	}
	bc := &BufferedCache{
		Cache:  c,
		ctx:    ctx,
		buffer: make([]pendingPut, 0, 256),
		maxBuf: maxBufferSize,
	}

	prevCallback := c.cb.OnStateChange
	c.cb.OnStateChange = func(from, to State) {
		if prevCallback != nil {
			prevCallback(from, to)
		}
		if to == StateClosed {
			go bc.Flush(bc.ctx)
		}
	}
	return bc
}

// Put writes through the breaker, buffering the write if the circuit is open.
func (bc *BufferedCache) Put(ctx context.Context, key string, m backtest.Metrics) error {
	err := bc.Cache.Put(ctx, key, m)
	if !errors.Is(err, ErrCircuitOpen) {
		return err
	}
	data, err := encodeMetrics(m)
	if err != nil {
		return err
	}
	bc.push(pendingPut{key: key, data: data})
	return nil
}

func (bc *BufferedCache) push(pp ...pendingPut) {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	for _, p := range pp {
		if len(bc.buffer) >= bc.maxBuf {
			bc.buffer = bc.buffer[1:]
		}
		bc.buffer = append(bc.buffer, p)
		if bc.OnBuffer != nil {
			bc.OnBuffer()
		}
	}
}

// Flush writes every buffered entry in one pipeline. On failure the entries
// are put back and the error is returned.
func (bc *BufferedCache) Flush(ctx context.Context) error {
	bc.mu.Lock()
	if len(bc.buffer) == 0 {
		bc.mu.Unlock()
		return nil
	}
	toFlush := bc.buffer
	bc.buffer = make([]pendingPut, 0, 256)
	bc.mu.Unlock()

	pipe := bc.client.Pipeline()
	for _, pp := range toFlush {
		pipe.Set(ctx, pp.key, pp.data, bc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[redis] flush of %d buffered writes failed: %v", len(toFlush), err)
		bc.mu.Lock()
		bc.buffer = append(toFlush, bc.buffer...)
		if over := len(bc.buffer) - bc.maxBuf; over > 0 {
			bc.buffer = bc.buffer[over:]
		}
		bc.mu.Unlock()
		return err
	}

	log.Printf("[redis] flushed %d buffered writes", len(toFlush))
	if bc.OnFlush != nil {
		bc.OnFlush(len(toFlush))
	}
	return nil
}

// PendingCount returns the number of buffered writes waiting to be flushed.
func (bc *BufferedCache) PendingCount() int {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return len(bc.buffer)
}
