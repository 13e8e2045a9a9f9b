// Package tail implements the bounded log-tail loop: it drains a
// line-oriented stream to a sink for a fixed wall-clock window while an
// optional stimulus callback runs concurrently on its own goroutine.
package tail

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"
)

// LineStream is a line-oriented byte source. ReadLine blocks until a full
// line is available and returns it without its terminator; it returns io.EOF
// when the stream has no more data and any other error when reading fails.
// A call that returns an error returns no line. Close releases the stream;
// the runner calls it exactly once.
type LineStream interface {
	ReadLine() (string, error)
	Close() error
}

// Reason describes why the tail loop stopped.
type Reason int

const (
	// ReasonDrained means the stream reported end of data.
	ReasonDrained Reason = iota
	// ReasonExpired means the wall-clock window elapsed.
	ReasonExpired
	// ReasonCanceled means the caller's context was canceled.
	ReasonCanceled
	// ReasonReadError means a read failed; Result.ReadErr carries the error.
	ReasonReadError
)

func (r Reason) String() string {
	switch r {
	case ReasonDrained:
		return "drained"
	case ReasonExpired:
		return "expired"
	case ReasonCanceled:
		return "canceled"
	case ReasonReadError:
		return "read error"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

// Options configures a tail run.
type Options struct {
	// Window is the maximum wall-clock duration of the read loop. The
	// deadline is checked after each read, never before the first one, so a
	// zero window still performs one read.
	Window time.Duration

	// Sink receives one Write per line, in arrival order. Defaults to
	// io.Discard.
	Sink io.Writer

	// Stimulus, when set, is launched on its own goroutine when Run starts.
	// Its context is canceled when Run returns; Run does not wait for it to
	// finish.
	Stimulus func(ctx context.Context)

	// Logf receives runner diagnostics (close failures). Defaults to
	// log.Printf.
	Logf func(format string, args ...any)
}

// Result reports what a tail run did.
type Result struct {
	Lines   int
	Elapsed time.Duration
	Reason  Reason

	// ReadErr is the error that stopped the loop when Reason is
	// ReasonReadError. It is reported here and nowhere else: a broken
	// stream ends the tail, it does not fail the caller.
	ReadErr error
}

// Run drains stream to opts.Sink until the stream ends, the window expires,
// or ctx is canceled. The stream is closed exactly once before Run returns,
// on every path, including when a read fails.
//
// Run blocks in ReadLine between lines; the deadline is enforced after each
// read, so a stream that stops producing holds the loop until its next line
// or error. Callers tailing remote streams should use sources that emit
// keepalive lines.
func Run(ctx context.Context, stream LineStream, opts Options) Result {
	start := time.Now()

	sink := opts.Sink
	if sink == nil {
		sink = io.Discard
	}
	logf := opts.Logf
	if logf == nil {
		logf = log.Printf
	}

	defer func() {
		if err := stream.Close(); err != nil {
			logf("tail: close stream: %v", err)
		}
	}()

	if opts.Stimulus != nil {
		stimCtx, stimCancel := context.WithCancel(ctx)
		defer stimCancel()
		go opts.Stimulus(stimCtx)
	}

	var res Result
	for {
		line, err := stream.ReadLine()
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				res.Reason = ReasonDrained
			case ctx.Err() != nil:
				// Cancellation often surfaces as a failed read on the
				// underlying connection; report it as such.
				res.Reason = ReasonCanceled
			default:
				res.Reason = ReasonReadError
				res.ReadErr = err
			}
			break
		}
		fmt.Fprintln(sink, line)
		res.Lines++

		if time.Since(start) > opts.Window {
			res.Reason = ReasonExpired
			break
		}
		if ctx.Err() != nil {
			res.Reason = ReasonCanceled
			break
		}
	}
	res.Elapsed = time.Since(start)
	return res
}
