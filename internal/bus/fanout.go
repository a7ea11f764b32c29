// Package bus broadcasts appended signals to the delivery side of the
// service (websocket hub, live publisher, notifier). Delivery is lossy by
// design: the durable log write has already happened by the time anything
// reaches the bus, so a slow subscriber only loses its own copy.
package bus

import (
	"context"
	"log"
	"sync"
)

// FanOut broadcasts values from one producer to N subscriber channels.
// A full subscriber channel drops the value for that subscriber instead
// of blocking the producer.
type FanOut[T any] struct {
	mu      sync.RWMutex
	outputs []chan T
	bufSize int
	closed  bool

	// OnDrop is called with the 0-based subscriber index whenever a value
	// is dropped for a slow consumer.
	OnDrop func(subscriberIdx int)
}

// New creates a FanOut whose subscriber channels buffer up to
// outputBufferSize values.
func New[T any](outputBufferSize int) *FanOut[T] {
	return &FanOut[T]{bufSize: outputBufferSize}
}

// Subscribe creates and returns a new subscriber channel. Subscribe after
// Close returns a closed channel.
func (f *FanOut[T]) Subscribe() <-chan T {
	ch := make(chan T, f.bufSize)
	f.mu.Lock()
	if f.closed {
		close(ch)
	} else {
		f.outputs = append(f.outputs, ch)
	}
	f.mu.Unlock()
	return ch
}

// Publish hands one value to every subscriber without blocking.
func (f *FanOut[T]) Publish(v T) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return
	}
	for i, ch := range f.outputs {
		select {
		case ch <- v:
		default:
			if f.OnDrop != nil {
				f.OnDrop(i)
			} else {
				log.Printf("[bus] subscriber %d full, dropping", i)
			}
		}
	}
}

// Run consumes the input channel and publishes each value. It closes all
// subscriber channels when ctx is cancelled or input is closed.
func (f *FanOut[T]) Run(ctx context.Context, input <-chan T) {
	defer f.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-input:
			if !ok {
				return
			}
			f.Publish(v)
		}
	}
}

// Close closes every subscriber channel. Publish after Close is a no-op.
func (f *FanOut[T]) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for _, ch := range f.outputs {
		close(ch)
	}
}

// ChannelStat reports fill level for one subscriber channel.
type ChannelStat struct {
	Len int
	Cap int
}

// ChannelStats returns the fill level of every subscriber channel, used
// for saturation gauges.
func (f *FanOut[T]) ChannelStats() []ChannelStat {
	f.mu.RLock()
	defer f.mu.RUnlock()
	stats := make([]ChannelStat, len(f.outputs))
	for i, ch := range f.outputs {
		stats[i] = ChannelStat{Len: len(ch), Cap: cap(ch)}
	}
	return stats
}
