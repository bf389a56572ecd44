// Package progress reports per-query lookup progress to the user.
package progress

import (
	"fmt"
	"io"
	"sync"

	"github.com/schollz/progressbar/v3"
)

// Reporter receives lookup progress events.
type Reporter interface {
	Start(total int)
	Fetching(query string)
	Notice(msg string)
	Finish()
}

// New returns the reporter for mode ("lines" or "bar") writing to w.
func New(mode string, w io.Writer) (Reporter, error) {
	switch mode {
	case "lines":
		return NewLines(w), nil
	case "bar":
		return NewBar(w), nil
	default:
		return nil, fmt.Errorf("unsupported progress mode: %s", mode)
	}
}

// Lines prints one line per query and per notice.
type Lines struct {
	w  io.Writer
	mu sync.Mutex
}

// NewLines creates a line reporter.
func NewLines(w io.Writer) *Lines {
	return &Lines{w: w}
}

func (l *Lines) Start(int) {}

func (l *Lines) Fetching(query string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.w, "Fetching: %s\n", query)
}

func (l *Lines) Notice(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.w, msg)
}

func (l *Lines) Finish() {}

// Bar renders a progress bar; notices are printed above it.
type Bar struct {
	w   io.Writer
	mu  sync.Mutex
	bar *progressbar.ProgressBar
}

// NewBar creates a bar reporter. The bar itself is built by Start.
func NewBar(w io.Writer) *Bar {
	return &Bar{w: w}
}

func (b *Bar) Start(total int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bar = progressbar.NewOptions(total,
		progressbar.OptionSetWriter(b.w),
		progressbar.OptionSetDescription("Fetching"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionClearOnFinish(),
	)
}

func (b *Bar) Fetching(query string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.bar == nil {
		return
	}
	b.bar.Describe("Fetching: " + query)
	_ = b.bar.Add(1)
}

func (b *Bar) Notice(msg string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.bar != nil {
		_ = b.bar.Clear()
	}
	fmt.Fprintln(b.w, msg)
}

func (b *Bar) Finish() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.bar == nil {
		return
	}
	_ = b.bar.Finish()
}

// Discard drops every event.
var Discard Reporter = discard{}

type discard struct{}

func (discard) Start(int)       {}
func (discard) Fetching(string) {}
func (discard) Notice(string)   {}
func (discard) Finish()         {}
