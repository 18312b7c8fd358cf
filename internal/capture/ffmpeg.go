package capture

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"
)

const maxJPEGSize = 8 << 20

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

type FFmpegOptions struct {
	Binary    string
	Input     string
	V4L2      bool
	Width     int
	Height    int
	Framerate int
}

// FFmpegDevice runs ffmpeg and reads its stdout as a stream of MJPEG frames.
type FFmpegDevice struct {
	opts    FFmpegOptions
	mu      sync.Mutex
	cmd     *exec.Cmd
	stdout  io.ReadCloser
	scanner *bufio.Scanner
	seq     uint64
}

func NewFFmpegDevice(opts FFmpegOptions) *FFmpegDevice {
	if opts.Binary == "" {
		opts.Binary = "ffmpeg"
	}
	if opts.Framerate <= 0 {
		opts.Framerate = 30
	}
	return &FFmpegDevice{opts: opts}
}

func (d *FFmpegDevice) Args() []string {
	args := []string{"-hide_banner", "-loglevel", "error"}
	if d.opts.V4L2 {
		args = append(args, "-f", "v4l2", "-framerate", strconv.Itoa(d.opts.Framerate))
		if d.opts.Width > 0 && d.opts.Height > 0 {
			args = append(args, "-video_size", fmt.Sprintf("%dx%d", d.opts.Width, d.opts.Height))
		}
	}
	args = append(args, "-i", d.opts.Input)
	if !d.opts.V4L2 && d.opts.Width > 0 && d.opts.Height > 0 {
		args = append(args, "-vf", fmt.Sprintf("scale=%d:%d", d.opts.Width, d.opts.Height))
	}
	args = append(args, "-f", "image2pipe", "-vcodec", "mjpeg", "-q:v", "5", "-")
	return args
}

func (d *FFmpegDevice) Open(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cmd != nil {
		return nil
	}
	// ctx bounds the process lifetime so a blocked read ends on shutdown.
	cmd := exec.CommandContext(ctx, d.opts.Binary, d.Args()...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg %s: %w", d.opts.Input, err)
	}
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 256<<10), maxJPEGSize)
	scanner.Split(splitJPEG)
	d.cmd = cmd
	d.stdout = stdout
	d.scanner = scanner
	return nil
}

func (d *FFmpegDevice) ReadFrame(ctx context.Context) (Frame, error) {
	d.mu.Lock()
	scanner := d.scanner
	d.mu.Unlock()
	if scanner == nil {
		return Frame{}, ErrDeviceClosed
	}
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return Frame{}, fmt.Errorf("read ffmpeg stream: %w", err)
		}
		return Frame{}, io.ErrUnexpectedEOF
	}
	img, err := jpeg.Decode(bytes.NewReader(scanner.Bytes()))
	if err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	d.seq++
	return Frame{Image: img, CapturedAt: time.Now().UTC(), Seq: d.seq}, nil
}

func (d *FFmpegDevice) Release() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cmd == nil {
		return nil
	}
	var errs []error
	if d.cmd.Process != nil {
		if err := d.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			errs = append(errs, err)
		}
	}
	_ = d.stdout.Close()
	_ = d.cmd.Wait()
	d.cmd = nil
	d.stdout = nil
	d.scanner = nil
	return errors.Join(errs...)
}

// splitJPEG is a bufio.SplitFunc yielding one complete JPEG (SOI..EOI) per
// token. Bytes before an SOI marker are discarded.
func splitJPEG(data []byte, atEOF bool) (advance int, token []byte, err error) {
	start := bytes.Index(data, jpegSOI)
	if start < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		// keep a trailing 0xFF that may start the next marker
		if n := len(data); n > 0 && data[n-1] == 0xFF {
			return n - 1, nil, nil
		}
		return len(data), nil, nil
	}
	end := bytes.Index(data[start+2:], jpegEOI)
	if end < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		if start > 0 {
			return start, nil, nil
		}
		return 0, nil, nil
	}
	stop := start + 2 + end + 2
	return stop, data[start:stop], nil
}
