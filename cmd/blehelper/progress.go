package main

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/term"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// ProgressPrinter displays a phase and a seconds counter on a single terminal line.
//
// Usage:
//
//	p := NewProgressPrinter(cmd.ErrOrStderr(), "Connecting to X", "Connecting")
//	p.Start()
//	defer p.Stop()
//
// Nothing is drawn when w is not a terminal. A ProgressPrinter is single-use.
type ProgressPrinter struct {
	w        io.Writer
	prefix   string
	phase    atomic.Value  // string
	duration time.Duration // > 0 counts down, otherwise counts up
	enabled  bool

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// NewProgressPrinter creates a progress printer that counts up (shows elapsed time).
func NewProgressPrinter(w io.Writer, prefix, phase string) *ProgressPrinter {
	return newProgressPrinter(w, prefix, phase, 0)
}

// NewCountdownProgressPrinter creates a progress printer that counts down from duration.
func NewCountdownProgressPrinter(w io.Writer, prefix, phase string, duration time.Duration) *ProgressPrinter {
	return newProgressPrinter(w, prefix, phase, duration)
}

func newProgressPrinter(w io.Writer, prefix, phase string, duration time.Duration) *ProgressPrinter {
	p := &ProgressPrinter{
		w:        w,
		prefix:   prefix,
		duration: duration,
		enabled:  isTerminal(w),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	p.phase.Store(phase)
	return p
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Start begins drawing in a background goroutine.
func (p *ProgressPrinter) Start() {
	p.startOnce.Do(func() {
		if !p.enabled {
			close(p.done)
			return
		}
		started := time.Now()
		p.draw(0)
		go func() {
			defer close(p.done)
			ticker := time.NewTicker(progressUpdateInterval)
			defer ticker.Stop()
			for {
				select {
				case <-p.stop:
					return
				case <-ticker.C:
					p.draw(p.seconds(time.Since(started)))
				}
			}
		}()
	})
}

func (p *ProgressPrinter) seconds(elapsed time.Duration) int {
	if p.duration <= 0 {
		return int(elapsed.Seconds())
	}
	remaining := p.duration - elapsed
	if remaining <= 0 {
		return 0
	}
	// round to the nearest second
	return int(remaining.Seconds() + 0.5)
}

func (p *ProgressPrinter) draw(seconds int) {
	phase := p.phase.Load().(string)
	if seconds > 0 {
		fmt.Fprintf(p.w, "\r%s (%s %ds)   ", p.prefix, phase, seconds)
		return
	}
	fmt.Fprintf(p.w, "\r%s (%s...)   ", p.prefix, phase)
}

// Phase switches the displayed phase. Safe for concurrent use.
func (p *ProgressPrinter) Phase(phase string) {
	p.phase.Store(phase)
}

// Stop ends drawing and clears the line. Safe to call more than once.
func (p *ProgressPrinter) Stop() {
	p.stopOnce.Do(func() {
		drawn := p.enabled
		p.startOnce.Do(func() {
			drawn = false
			close(p.done)
		})
		close(p.stop)
		<-p.done
		if drawn {
			fmt.Fprint(p.w, clearLineSequence)
		}
	})
}
