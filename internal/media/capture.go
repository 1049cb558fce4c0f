package media

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

type captureRef struct {
	stream Stream
	refs   int
}

// Capture is the process-wide owner of capture devices. Camera and
// screen are independent devices; each is acquired at most once and
// shared by reference count, so a second acquire reuses the live
// handle instead of double-opening the device.
type Capture struct {
	mu       sync.Mutex
	provider Provider
	camera   *captureRef
	screen   *captureRef
}

func NewCapture(p Provider) *Capture {
	return &Capture{provider: p}
}

func (c *Capture) AcquireCamera(ctx context.Context, cons Constraints) (Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.camera != nil {
		c.camera.refs++
		return c.camera.stream, nil
	}
	s, err := c.provider.AcquireCamera(ctx, cons)
	if err != nil {
		return nil, err
	}
	c.camera = &captureRef{stream: s, refs: 1}
	log.Debug().Str("module", "media.capture").Str("stream", s.ID()).Msg("camera acquired")
	return s, nil
}

func (c *Capture) ReleaseCamera() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.camera = release(c.camera, "camera")
}

func (c *Capture) AcquireScreen(ctx context.Context) (Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.screen != nil {
		c.screen.refs++
		return c.screen.stream, nil
	}
	s, err := c.provider.AcquireScreen(ctx)
	if err != nil {
		return nil, err
	}
	c.screen = &captureRef{stream: s, refs: 1}
	log.Debug().Str("module", "media.capture").Str("stream", s.ID()).Msg("screen acquired")
	return s, nil
}

func (c *Capture) ReleaseScreen() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.screen = release(c.screen, "screen")
}

// ReleaseAll drops every handle regardless of counts; the last resort
// for process shutdown.
func (c *Capture) ReleaseAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.camera != nil {
		_ = c.camera.stream.Close()
		c.camera = nil
	}
	if c.screen != nil {
		_ = c.screen.stream.Close()
		c.screen = nil
	}
}

func release(ref *captureRef, device string) *captureRef {
	if ref == nil {
		return nil
	}
	ref.refs--
	if ref.refs > 0 {
		return ref
	}
	if err := ref.stream.Close(); err != nil {
		log.Warn().Err(err).Str("module", "media.capture").Str("device", device).Msg("close stream")
	}
	return nil
}
