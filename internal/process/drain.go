package process

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/zette-dev/heyjamie/internal/log"
)

const (
	// MaxLogLine bounds one forwarded diagnostic line.
	MaxLogLine = 600
	// maxScanLine is the longest line the drain splits; longer output is discarded.
	maxScanLine  = 1024 * 1024
	tailLines    = 20
	maxCaptured  = 16 * 1024 * 1024
	scanBufStart = 64 * 1024
)

// Drain consumes a stream line by line on its own goroutine until
// end-of-stream, forwarding each non-empty line to a sink. It keeps the last
// few lines for error reports.
type Drain struct {
	done chan struct{}

	mu   sync.Mutex
	tail []string
}

// StartDrain begins draining r. sink receives each non-empty line, already
// truncated to MaxLogLine; it may be nil.
func StartDrain(r io.Reader, sink func(line string)) *Drain {
	d := &Drain{done: make(chan struct{})}
	go d.run(r, sink)
	return d
}

func (d *Drain) run(r io.Reader, sink func(string)) {
	defer close(d.done)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, scanBufStart), maxScanLine)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		line = log.Truncate(line, MaxLogLine)
		d.remember(line)
		if sink != nil {
			sink(line)
		}
	}

	err := scanner.Err()
	if errors.Is(err, bufio.ErrTooLong) {
		// Keep the pipe empty so the child never stalls on a full buffer.
		slog.Debug("drain line too long, discarding rest of stream")
		_, err = io.Copy(io.Discard, r)
	}
	if err != nil && !isClosed(err) {
		slog.Debug("drain read failed", "error", err)
	}
}

func (d *Drain) remember(line string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.tail) == tailLines {
		copy(d.tail, d.tail[1:])
		d.tail = d.tail[:tailLines-1]
	}
	d.tail = append(d.tail, line)
}

// Done is closed when the stream has been fully consumed.
func (d *Drain) Done() <-chan struct{} {
	return d.done
}

// Wait blocks until the stream has been fully consumed.
func (d *Drain) Wait() {
	<-d.done
}

// Tail returns the last drained lines joined by newlines.
func (d *Drain) Tail() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return strings.Join(d.tail, "\n")
}

// Capture accumulates a whole stream in memory on its own goroutine.
// Output beyond an internal limit is discarded.
type Capture struct {
	done chan struct{}
	buf  bytes.Buffer
	err  error
}

// StartCapture begins reading r to end-of-stream.
func StartCapture(r io.Reader) *Capture {
	c := &Capture{done: make(chan struct{})}
	go func() {
		defer close(c.done)
		_, c.err = io.Copy(&c.buf, io.LimitReader(r, maxCaptured))
		if c.err == nil {
			_, c.err = io.Copy(io.Discard, r)
		}
		if isClosed(c.err) {
			c.err = nil
		}
	}()
	return c
}

// Done is closed when the stream has been fully read.
func (c *Capture) Done() <-chan struct{} {
	return c.done
}

// Bytes waits for end-of-stream and returns what was read.
func (c *Capture) Bytes() ([]byte, error) {
	<-c.done
	return c.buf.Bytes(), c.err
}

func isClosed(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, os.ErrClosed)
}
