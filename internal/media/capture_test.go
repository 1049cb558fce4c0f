package media

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/pion/webrtc/v4"
)

type fakeStream struct {
	id     string
	kind   StreamKind
	closed bool
}

func (s *fakeStream) ID() string               { return s.id }
func (s *fakeStream) Kind() StreamKind         { return s.kind }
func (s *fakeStream) Track() webrtc.TrackLocal { return nil }
func (s *fakeStream) Close() error             { s.closed = true; return nil }

type fakeProvider struct {
	cameraAcquires int
	screenAcquires int
	denyCamera     bool
	lastCamera     *fakeStream
	lastScreen     *fakeStream
}

func (p *fakeProvider) AcquireCamera(context.Context, Constraints) (Stream, error) {
	if p.denyCamera {
		return nil, errors.New("permission refused")
	}
	p.cameraAcquires++
	p.lastCamera = &fakeStream{id: fmt.Sprintf("cam-%d", p.cameraAcquires), kind: StreamCamera}
	return p.lastCamera, nil
}

func (p *fakeProvider) AcquireScreen(context.Context) (Stream, error) {
	p.screenAcquires++
	p.lastScreen = &fakeStream{id: fmt.Sprintf("scr-%d", p.screenAcquires), kind: StreamScreen}
	return p.lastScreen, nil
}

func TestCaptureRefCounting(t *testing.T) {
	ctx := context.Background()

	t.Run("second acquire reuses the live handle", func(t *testing.T) {
		p := &fakeProvider{}
		c := NewCapture(p)

		s1, err := c.AcquireCamera(ctx, Constraints{Audio: true, Video: true})
		if err != nil {
			t.Fatal(err)
		}
		s2, err := c.AcquireCamera(ctx, Constraints{Audio: true, Video: true})
		if err != nil {
			t.Fatal(err)
		}
		if s1 != s2 {
			t.Fatal("second acquire returned a different handle")
		}
		if p.cameraAcquires != 1 {
			t.Fatalf("device opened %d times, want 1", p.cameraAcquires)
		}
	})

	t.Run("device closes only at refcount zero", func(t *testing.T) {
		p := &fakeProvider{}
		c := NewCapture(p)

		_, _ = c.AcquireCamera(ctx, Constraints{Video: true})
		_, _ = c.AcquireCamera(ctx, Constraints{Video: true})

		c.ReleaseCamera()
		if p.lastCamera.closed {
			t.Fatal("closed while a reference remained")
		}
		c.ReleaseCamera()
		if !p.lastCamera.closed {
			t.Fatal("not closed at refcount zero")
		}
	})

	t.Run("camera and screen are independent devices", func(t *testing.T) {
		p := &fakeProvider{}
		c := NewCapture(p)

		_, _ = c.AcquireCamera(ctx, Constraints{Video: true})
		_, err := c.AcquireScreen(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if p.cameraAcquires != 1 || p.screenAcquires != 1 {
			t.Fatalf("acquires camera=%d screen=%d, want 1/1", p.cameraAcquires, p.screenAcquires)
		}

		c.ReleaseScreen()
		if !p.lastScreen.closed {
			t.Fatal("screen not closed")
		}
		if p.lastCamera.closed {
			t.Fatal("camera closed by screen release")
		}
	})

	t.Run("ReleaseAll drops everything regardless of counts", func(t *testing.T) {
		p := &fakeProvider{}
		c := NewCapture(p)

		_, _ = c.AcquireCamera(ctx, Constraints{Video: true})
		_, _ = c.AcquireCamera(ctx, Constraints{Video: true})
		_, _ = c.AcquireScreen(ctx)

		c.ReleaseAll()
		if !p.lastCamera.closed || !p.lastScreen.closed {
			t.Fatal("ReleaseAll left devices open")
		}

		// A fresh acquire reopens the device.
		_, _ = c.AcquireCamera(ctx, Constraints{Video: true})
		if p.cameraAcquires != 2 {
			t.Fatalf("camera acquires = %d, want 2", p.cameraAcquires)
		}
	})

	t.Run("denied acquire surfaces the error", func(t *testing.T) {
		p := &fakeProvider{denyCamera: true}
		c := NewCapture(p)
		if _, err := c.AcquireCamera(ctx, Constraints{Video: true}); err == nil {
			t.Fatal("expected denial error")
		}
	})
}
