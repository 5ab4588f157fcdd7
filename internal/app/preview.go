package app

import (
	"context"
	"sync"
)

// Preview holds the most recent enhanced frame of a session as JPEG.
// Frames are only encoded while someone is watching.
type Preview struct {
	mu       sync.Mutex
	jpeg     []byte
	seq      uint64
	watchers int
	changed  chan struct{}
	closed   bool
}

// NewPreview creates an empty preview.
func NewPreview() *Preview {
	return &Preview{changed: make(chan struct{})}
}

// Watching reports whether any watcher is attached.
func (p *Preview) Watching() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.watchers > 0
}

// Set publishes a new frame and wakes the watchers.
func (p *Preview) Set(seq uint64, jpeg []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.jpeg = jpeg
	p.seq = seq
	close(p.changed)
	p.changed = make(chan struct{})
}

// Latest returns the current frame and its sequence number.
func (p *Preview) Latest() ([]byte, uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.jpeg, p.seq
}

// Watch calls fn with every new frame until ctx is done, the preview is
// closed or fn returns an error.
func (p *Preview) Watch(ctx context.Context, fn func(jpeg []byte) error) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.watchers++
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.watchers--
		p.mu.Unlock()
	}()

	var last uint64
	for {
		p.mu.Lock()
		wait, closed := p.changed, p.closed
		jpeg, seq := p.jpeg, p.seq
		p.mu.Unlock()

		if closed {
			return nil
		}
		if jpeg != nil && seq != last {
			last = seq
			if err := fn(jpeg); err != nil {
				return err
			}
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wait:
		}
	}
}

// Close wakes and detaches every watcher.
func (p *Preview) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.changed)
}
