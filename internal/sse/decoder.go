// Package sse implements the upstream half of the Server-Sent Events wire
// codec: a decoder for reading upstream SSE streams (the downstream encoder
// is stream.Writer in package stream). Every provider adapter shares this
// one implementation instead of each hand-rolling line parsing, so
// heartbeat/comment/multi-line-data handling only needs to be correct once.
package sse

import (
	"bufio"
	"context"
	"io"
	"strings"
	"time"
)

// Event is one decoded SSE event: a named type (default "message") plus its
// accumulated data payload (multiple "data:" lines are joined with "\n",
// per the SSE spec).
type Event struct {
	Type string
	Data string
}

// DoneData is the Data of the event Next returns when the upstream sends
// the "data: [DONE]" terminal event.
const DoneData = "[DONE]"

// Decoder reads bytes from an upstream HTTP response body and yields
// decoded Events one at a time. Comment lines (starting with ":", used for
// heartbeats) are skipped transparently.
type Decoder struct {
	r           *bufio.Reader
	idleTimeout time.Duration
}

// NewDecoder wraps r. idleTimeout, if non-zero, bounds how long a single
// Next call will wait for the next line before returning an idle-timeout
// error — guards against upstreams that open a connection and then stall
// without ever sending a byte or a [DONE] sentinel.
func NewDecoder(r io.Reader, idleTimeout time.Duration) *Decoder {
	return &Decoder{r: bufio.NewReaderSize(r, 64*1024), idleTimeout: idleTimeout}
}

// errIdleTimeout marks a Next() failure caused by the idle-read guard
// rather than a real I/O error, so callers can distinguish "upstream went
// quiet" from "connection broke."
type errIdleTimeout struct{}

func (errIdleTimeout) Error() string { return "sse: idle read timeout" }

// IsIdleTimeout reports whether err was produced by the decoder's idle
// timeout guard.
func IsIdleTimeout(err error) bool {
	_, ok := err.(errIdleTimeout)
	return ok
}

// Next reads and returns the next decoded event, or io.EOF when the stream
// ends cleanly. Events are separated by a blank line ("\n\n") per the SSE
// spec; "event:" sets the type, "data:" lines accumulate (joined by "\n"),
// and lines starting with ":" are heartbeats/comments and are ignored.
func (d *Decoder) Next(ctx context.Context) (Event, error) {
	var (
		eventType string
		dataLines []string
		sawAny    bool
	)

	for {
		line, err := d.readLine(ctx)
		if err != nil {
			if err == io.EOF && sawAny && len(dataLines) > 0 {
				return Event{Type: firstNonEmpty(eventType, "message"), Data: strings.Join(dataLines, "\n")}, nil
			}
			return Event{}, err
		}

		line = strings.TrimRight(line, "\r\n")

		// Blank line: end of this event.
		if line == "" {
			if len(dataLines) == 0 {
				if sawAny {
					// An event with only an "event:" line and no data is
					// still a complete, valid frame.
					return Event{Type: firstNonEmpty(eventType, "message"), Data: ""}, nil
				}
				continue
			}
			return Event{Type: firstNonEmpty(eventType, "message"), Data: strings.Join(dataLines, "\n")}, nil
		}

		// Comment / heartbeat line; ignored entirely, so a comment-only
		// frame produces no event.
		if strings.HasPrefix(line, ":") {
			continue
		}

		sawAny = true

		switch {
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		default:
			// Unknown field name; per spec, ignore.
		}
	}
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// readLine reads one line, respecting ctx cancellation and the idle
// timeout by running the blocking read on a background goroutine.
func (d *Decoder) readLine(ctx context.Context) (string, error) {
	type result struct {
		line string
		err  error
	}

	ch := make(chan result, 1)
	go func() {
		line, err := d.r.ReadString('\n')
		ch <- result{line, err}
	}()

	if d.idleTimeout <= 0 {
		select {
		case res := <-ch:
			return res.line, res.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	select {
	case res := <-ch:
		return res.line, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(d.idleTimeout):
		return "", errIdleTimeout{}
	}
}
