package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// DirDevice replays the images of a directory in name order.
type DirDevice struct {
	dir   string
	loop  bool
	files []string
	next  int
	open  bool
	seq   uint64
}

func NewDirDevice(dir string, loop bool) *DirDevice {
	return &DirDevice{dir: dir, loop: loop}
}

func (d *DirDevice) Open(ctx context.Context) error {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return fmt.Errorf("open capture dir: %w", err)
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg", ".png":
			files = append(files, filepath.Join(d.dir, e.Name()))
		}
	}
	if len(files) == 0 {
		return fmt.Errorf("capture dir %s has no images", d.dir)
	}
	sort.Strings(files)
	d.files = files
	d.next = 0
	d.open = true
	return nil
}

func (d *DirDevice) ReadFrame(ctx context.Context) (Frame, error) {
	if !d.open {
		return Frame{}, ErrDeviceClosed
	}
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	if d.next >= len(d.files) {
		if !d.loop {
			return Frame{}, errors.New("capture dir exhausted")
		}
		d.next = 0
	}
	path := d.files[d.next]
	d.next++
	f, err := os.Open(path)
	if err != nil {
		return Frame{}, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return Frame{}, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	d.seq++
	return Frame{Image: img, CapturedAt: time.Now().UTC(), Seq: d.seq}, nil
}

func (d *DirDevice) Release() error {
	d.open = false
	d.files = nil
	return nil
}
