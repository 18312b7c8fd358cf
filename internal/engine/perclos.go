package engine

import (
	"sort"
	"time"

	"drowsyguard/internal/model"
)

type frameEntry struct {
	Timestamp time.Time
	Closed    bool
}

// WindowState counts face-present frames inside a trailing time window.
type WindowState struct {
	duration time.Duration
	frames   []frameEntry
	head     int
	total    int
	closed   int
}

func NewWindowState(duration time.Duration) *WindowState {
	return &WindowState{
		duration: duration,
		frames:   make([]frameEntry, 0, 256),
	}
}

func (w *WindowState) Add(ts time.Time, closed bool) {
	w.frames = append(w.frames, frameEntry{Timestamp: ts, Closed: closed})
	w.total++
	if closed {
		w.closed++
	}
}

func (w *WindowState) Evict(cutoff time.Time) {
	for w.head < len(w.frames) {
		f := w.frames[w.head]
		if !f.Timestamp.Before(cutoff) {
			break
		}
		w.total--
		if f.Closed {
			w.closed--
		}
		w.head++
	}
	if w.head > 0 && w.head*2 >= len(w.frames) {
		w.frames = append([]frameEntry{}, w.frames[w.head:]...)
		w.head = 0
	}
}

func (w *WindowState) Metrics() model.PerclosWindow {
	out := model.PerclosWindow{
		WindowSec: int(w.duration.Seconds()),
		Frames:    w.total,
		Closed:    w.closed,
	}
	if w.total > 0 {
		out.Perclos = float64(w.closed) / float64(w.total)
	}
	return out
}

// PerclosTracker keeps one WindowState per configured duration. It is
// owned by the acquisition goroutine and is not safe for concurrent use.
type PerclosTracker struct {
	windows []*WindowState
}

func NewPerclosTracker(durations []time.Duration) *PerclosTracker {
	sorted := append([]time.Duration(nil), durations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	t := &PerclosTracker{}
	for _, d := range sorted {
		if d > 0 {
			t.windows = append(t.windows, NewWindowState(d))
		}
	}
	return t
}

func (t *PerclosTracker) Observe(ts time.Time, ear, threshold float64) []model.PerclosWindow {
	out := make([]model.PerclosWindow, 0, len(t.windows))
	for _, w := range t.windows {
		w.Evict(ts.Add(-w.duration))
		w.Add(ts, ear < threshold)
		out = append(out, w.Metrics())
	}
	return out
}

func (t *PerclosTracker) Reset() {
	for i, w := range t.windows {
		t.windows[i] = NewWindowState(w.duration)
	}
}
