package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"drowsyguard/internal/config"
)

// ErrDeviceClosed is returned by ReadFrame when the device is not open.
var ErrDeviceClosed = errors.New("capture: device not open")

type Frame struct {
	Image      image.Image
	CapturedAt time.Time
	Seq        uint64
}

// Device is a video source. Open may be called again after Release to
// reconnect. Implementations are used from a single goroutine.
type Device interface {
	Open(ctx context.Context) error
	ReadFrame(ctx context.Context) (Frame, error)
	Release() error
}

func NewDevice(cfg config.CaptureConfig) (Device, error) {
	switch cfg.Source {
	case "", "v4l2":
		return NewFFmpegDevice(FFmpegOptions{
			Binary: cfg.FFmpegPath,
			Input:  fmt.Sprintf("/dev/video%d", cfg.DeviceIndex),
			V4L2:   true,
			Width:  cfg.Width,
			Height: cfg.Height,
		}), nil
	case "url":
		return NewFFmpegDevice(FFmpegOptions{
			Binary: cfg.FFmpegPath,
			Input:  cfg.URL,
			Width:  cfg.Width,
			Height: cfg.Height,
		}), nil
	case "dir":
		return NewDirDevice(cfg.Dir, true), nil
	default:
		return nil, fmt.Errorf("unsupported capture source %q", cfg.Source)
	}
}
