package main

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/v6/progress"

	"ferry/internal/ingest"
)

// progressView shows entry progress while a run is active. On a terminal in
// batch mode it renders live bars; otherwise it prints a line whenever an
// entry's status changes.
type progressView struct {
	mu       sync.Mutex
	out      io.Writer
	color    bool
	writer   progress.Writer
	trackers map[string]*progress.Tracker
	last     map[string]string
	stopped  bool
}

func newProgressView(out io.Writer, bars bool) *progressView {
	v := &progressView{
		out:      out,
		color:    isTerminal(out),
		trackers: make(map[string]*progress.Tracker),
		last:     make(map[string]string),
	}
	if bars && v.color {
		pw := progress.NewWriter()
		pw.SetOutputWriter(out)
		pw.SetAutoStop(false)
		pw.SetTrackerLength(25)
		pw.SetMessageLength(48)
		pw.SetUpdateFrequency(150 * time.Millisecond)
		pw.Style().Visibility.ETA = false
		pw.Style().Visibility.Value = false
		v.writer = pw
		go pw.Render()
	}
	return v
}

// handle is an ingest.Listener.
func (v *progressView) handle(ev ingest.Event) {
	if ev.Kind != ingest.EventEntryUpdated {
		return
	}
	e := ev.Entry
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.stopped {
		return
	}
	if v.writer != nil {
		v.updateTracker(e)
		return
	}
	line := fmt.Sprintf("%s: %s", e.ID, e.Status)
	if e.State == ingest.StateFailed && len(e.Errors) > 0 {
		line += " - " + e.Errors[len(e.Errors)-1]
	}
	if v.last[e.ID] == line || e.Status == "" {
		return
	}
	v.last[e.ID] = line
	fmt.Fprintln(v.out, colorize(line, stateColor(e.State), v.color))
}

func (v *progressView) updateTracker(e ingest.Entry) {
	tracker := v.trackers[e.ID]
	if tracker != nil && (tracker.IsDone() || tracker.IsErrored()) {
		if e.State == ingest.StateDone || e.State == ingest.StateFailed {
			return
		}
		tracker = nil
	}
	if tracker == nil {
		if e.Op == ingest.OpNone && e.State == ingest.StateQueued {
			return
		}
		tracker = &progress.Tracker{Message: e.ID, Total: 100, Units: progress.UnitsDefault}
		v.trackers[e.ID] = tracker
		v.writer.AppendTracker(tracker)
	}
	tracker.UpdateMessage(fmt.Sprintf("%s: %s", e.ID, e.Status))
	tracker.SetValue(int64(e.Progress))
	switch e.State {
	case ingest.StateDone:
		tracker.MarkAsDone()
	case ingest.StateFailed:
		tracker.MarkAsErrored()
	}
}

// stop ends rendering. It is safe to call more than once.
func (v *progressView) stop() {
	v.mu.Lock()
	if v.stopped {
		v.mu.Unlock()
		return
	}
	v.stopped = true
	pw := v.writer
	v.mu.Unlock()
	if pw == nil {
		return
	}
	pw.Stop()
	for pw.IsRenderInProgress() {
		time.Sleep(10 * time.Millisecond)
	}
}
