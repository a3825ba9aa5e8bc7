// Package termout writes incremental text fragments to a terminal sink
// with line-aware debouncing, so stream deltas arrive as readable chunks
// instead of one syscall per token.
package termout

import (
	"strings"
	"sync"
	"time"
)

// Sink receives flushed text. It may buffer internally; the buffer
// guarantees single-threaded access.
type Sink interface {
	Write(text string) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(text string) error

func (f SinkFunc) Write(text string) error { return f(text) }

const (
	defaultFlushInterval = 100 * time.Millisecond
	defaultFlushBytes    = 100
)

// Config controls flush policy.
type Config struct {
	// FlushInterval is the maximum time a fragment may sit unflushed.
	FlushInterval time.Duration
	// FlushBytes flushes once the buffer exceeds this size.
	FlushBytes int
	// Disabled discards appends silently.
	Disabled bool
}

func normalizeConfig(cfg Config) Config {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	if cfg.FlushBytes <= 0 {
		cfg.FlushBytes = defaultFlushBytes
	}
	return cfg
}

// Buffer accumulates text and delivers it to the sink as one chunk when a
// line feed arrives, the buffer grows past the byte threshold, the flush
// interval elapses, or a caller forces it.
type Buffer struct {
	mu     sync.Mutex
	cfg    Config
	sink   Sink
	buf    strings.Builder
	timer  *time.Timer
	sticky error
}

// New returns a buffer owning sink for its lifetime.
func New(sink Sink, cfg Config) *Buffer {
	return &Buffer{cfg: normalizeConfig(cfg), sink: sink}
}

// Append adds text and flushes when policy demands. The returned error is
// the sink's, including one deferred from a timer flush.
func (b *Buffer) Append(text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cfg.Disabled {
		return nil
	}
	if b.sticky != nil {
		err := b.sticky
		b.sticky = nil
		return err
	}
	if text == "" {
		return nil
	}
	b.buf.WriteString(text)

	if strings.Contains(text, "\n") || b.buf.Len() > b.cfg.FlushBytes {
		return b.flushLocked()
	}
	if b.timer == nil {
		b.timer = time.AfterFunc(b.cfg.FlushInterval, b.timerFlush)
	}
	return nil
}

// ForceFlush delivers any buffered text immediately.
func (b *Buffer) ForceFlush() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sticky != nil {
		err := b.sticky
		b.sticky = nil
		return err
	}
	return b.flushLocked()
}

// Len reports the buffered byte count.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}

// Close flushes remaining text and stops the timer.
func (b *Buffer) Close() error {
	err := b.ForceFlush()
	b.mu.Lock()
	b.stopTimerLocked()
	b.mu.Unlock()
	return err
}

func (b *Buffer) timerFlush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.timer = nil
	if err := b.flushLocked(); err != nil && b.sticky == nil {
		b.sticky = err
	}
}

func (b *Buffer) flushLocked() error {
	b.stopTimerLocked()
	if b.buf.Len() == 0 {
		return nil
	}
	chunk := b.buf.String()
	b.buf.Reset()
	if b.sink == nil {
		return nil
	}
	return b.sink.Write(chunk)
}

func (b *Buffer) stopTimerLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}
