// Package progress turns the per-layer event stream of an image pull into a
// single throttled progress line.
//
// An [Aggregator] is a small state machine: [Aggregator.Reset] clears it at
// the start of a pull, [Aggregator.Observe] accumulates one event, and
// [Aggregator.Finish] emits the final line. [Aggregator.Consume] drives all
// three over a decoded pull stream.
package progress

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/go-units"

	resenerrors "resen/internal/errors"
)

const (
	// DefaultInterval is the minimum wall-clock gap between two rendered lines.
	DefaultInterval = time.Second

	barWidth = 50
)

// layer is the last reported byte count of one image layer.
type layer struct {
	current int64
	total   int64
}

// Aggregator accumulates pull-progress events and renders them. It is not
// safe for concurrent use; one Aggregator serves one pull at a time.
type Aggregator struct {
	out      io.Writer
	now      func() time.Time
	interval time.Duration

	layers     map[string]*layer
	totalBytes int64
	start      time.Time
	lastRender time.Time
	percent    float64
	rendered   bool
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		a.now = now
	}
}

// WithInterval sets the render throttle interval.
func WithInterval(d time.Duration) Option {
	return func(a *Aggregator) {
		a.interval = d
	}
}

// New creates an Aggregator that renders to out.
func New(out io.Writer, opts ...Option) *Aggregator {
	a := &Aggregator{
		out:      out,
		now:      time.Now,
		interval: DefaultInterval,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.Reset()
	return a
}

// Reset discards all accumulated state and restarts the elapsed-time clock.
func (a *Aggregator) Reset() {
	a.layers = make(map[string]*layer)
	a.totalBytes = 0
	a.start = a.now()
	a.lastRender = a.start
	a.percent = 0
	a.rendered = false
}

// Observe records one pull event and renders if the throttle interval has
// elapsed. Events without progress information are ignored. An event that
// carries an error is returned as one.
func (a *Aggregator) Observe(msg jsonmessage.JSONMessage) error {
	if msg.Error != nil {
		return msg.Error
	}
	if msg.ErrorMessage != "" {
		return errors.New(msg.ErrorMessage)
	}
	if msg.ProgressMessage == "" || msg.Progress == nil || msg.ID == "" {
		return nil
	}

	l, seen := a.layers[msg.ID]
	if !seen {
		l = &layer{total: msg.Progress.Total}
		a.layers[msg.ID] = l
		a.totalBytes += msg.Progress.Total
	}
	l.current = msg.Progress.Current

	now := a.now()
	if now.Sub(a.lastRender) < a.interval {
		return nil
	}
	a.lastRender = now
	a.render(now)
	return nil
}

// Finish renders the last known state unconditionally and terminates the
// line.
func (a *Aggregator) Finish() {
	a.render(a.now())
	if a.rendered {
		fmt.Fprintln(a.out)
	}
}

// Percent returns the percentage last displayed.
func (a *Aggregator) Percent() float64 {
	return a.percent
}

// Bytes returns the accumulated current and total byte counts.
func (a *Aggregator) Bytes() (current, total int64) {
	for _, l := range a.layers {
		current += l.current
	}
	return current, a.totalBytes
}

// Consume resets the aggregator and feeds it every event of a pull stream
// for ref. Transport, decoding, and in-stream errors are returned as a single
// pull error naming ref, and no final line is rendered for them.
func (a *Aggregator) Consume(ref string, r io.Reader) error {
	a.Reset()

	dec := json.NewDecoder(r)
	for {
		var msg jsonmessage.JSONMessage
		if err := dec.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return a.fail(ref, err)
		}
		if err := a.Observe(msg); err != nil {
			return a.fail(ref, err)
		}
	}

	a.Finish()
	return nil
}

func (a *Aggregator) fail(ref string, err error) error {
	if a.rendered {
		fmt.Fprintln(a.out)
	}
	a.Reset()
	return resenerrors.NewPullError(
		fmt.Sprintf("Failed to pull image %s", ref),
		err.Error(),
		"Check network access to the registry and retry the pull",
		fmt.Errorf("exception encountered while pulling image %s: %w", ref, err),
	)
}

// render writes the progress line for the accumulated state. Nothing is
// written until at least one layer has reported a size.
func (a *Aggregator) render(now time.Time) {
	if a.totalBytes <= 0 {
		return
	}

	current, total := a.Bytes()
	percent := float64(current) / float64(total) * 100
	if percent > 100 {
		percent = 100
	}
	// Layers joining late grow the total, and extraction restarts a layer's
	// counter. The displayed value never moves backwards within one pull.
	if percent < a.percent {
		percent = a.percent
	}
	a.percent = percent
	a.rendered = true

	fmt.Fprint(a.out, formatLine(percent, current, total, now.Sub(a.start)))
}

// formatLine renders e.g.
//
//	\r[=========>                                         ]  18.00 %, 90MiB/500MiB Elapsed time: 0:00:07
func formatLine(percent float64, current, total int64, elapsed time.Duration) string {
	filled := int(percent * barWidth / 100)
	bar := strings.Repeat("=", filled) + ">" + strings.Repeat(" ", barWidth-filled)
	return fmt.Sprintf("\r[%s] %6.2f %%, %s/%s Elapsed time: %s",
		bar, percent, units.BytesSize(float64(current)), units.BytesSize(float64(total)), formatElapsed(elapsed))
}

// formatElapsed renders a duration as h:mm:ss.
func formatElapsed(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	return fmt.Sprintf("%d:%02d:%02d", h, m, s)
}
