package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"strconv"
	"strings"
	"sync"
	"time"
)

// readChunkSize is the size of each read from the underlying stream.
const readChunkSize = 4096

// Event is one decoded Server-Sent-Event frame.
type Event struct {
	Name string
	Data string
	ID   string

	// Retry is the reconnection hint of the frame, zero when absent.
	Retry time.Duration
}

// JSON decodes the event data into v.
func (e Event) JSON(v any) error {
	return json.Unmarshal([]byte(e.Data), v)
}

// Decoder incrementally splits a byte stream into events. Frames may arrive
// split across any number of reads; an incomplete frame stays buffered
// until its terminating blank line is seen.
//
// Each byte is folded and scanned once, so decoding is linear in the size
// of the stream however large a single frame grows.
//
// Decoder is not safe for concurrent use.
type Decoder struct {
	r     io.Reader
	buf   bytes.Buffer
	chunk []byte
	err   error

	// scan is the offset in buf where the search for a frame terminator
	// resumes. Everything before it is known not to hold one.
	scan int
	// cr records a chunk that ended in CR, held back until the next byte
	// shows whether it starts a CRLF pair.
	cr bool
}

// NewDecoder returns a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{
		r:     r,
		chunk: make([]byte, readChunkSize),
	}
}

// Next returns the next event. It returns io.EOF once the stream has ended
// and every buffered frame has been delivered.
func (d *Decoder) Next() (Event, error) {
	for {
		if ev, ok := d.nextFrame(); ok {
			return ev, nil
		}
		if d.err != nil {
			return Event{}, d.err
		}

		n, err := d.r.Read(d.chunk)
		if n > 0 {
			d.append(d.chunk[:n])
		}
		if err == nil {
			continue
		}

		if d.cr {
			d.buf.WriteByte('\r')
			d.cr = false
		}
		if errors.Is(err, io.EOF) {
			// A stream that ends without a final blank line still delivers
			// its last frame.
			if len(bytes.TrimSpace(d.buf.Bytes())) > 0 {
				d.buf.WriteString("\n\n")
			}
			d.err = io.EOF
			continue
		}
		d.err = err
	}
}

// append adds a chunk to the buffer with CRLF folded to LF.
func (d *Decoder) append(p []byte) {
	if d.cr {
		d.cr = false
		if p[0] != '\n' {
			d.buf.WriteByte('\r')
		}
	}
	for len(p) > 0 {
		i := bytes.IndexByte(p, '\r')
		if i < 0 {
			d.buf.Write(p)
			return
		}
		d.buf.Write(p[:i])
		switch {
		case i == len(p)-1:
			d.cr = true
		case p[i+1] != '\n':
			d.buf.WriteByte('\r')
		}
		p = p[i+1:]
	}
}

// nextFrame removes complete frames from the buffer until one yields an
// event. Frames holding only comments or blank lines yield nothing.
func (d *Decoder) nextFrame() (Event, bool) {
	for {
		pending := d.buf.Bytes()
		idx := bytes.Index(pending[d.scan:], frameEnd)
		if idx < 0 {
			// A terminator may start on the last byte already seen.
			d.scan = max(len(pending)-1, 0)
			return Event{}, false
		}
		idx += d.scan
		frame := string(d.buf.Next(idx + len(frameEnd))[:idx])
		d.scan = 0
		if ev, ok := parseFrame(frame); ok {
			return ev, true
		}
	}
}

var frameEnd = []byte("\n\n")

// parseFrame parses the field lines of one frame.
func parseFrame(frame string) (Event, bool) {
	var (
		ev    Event
		data  []string
		found bool
	)

	for _, line := range strings.Split(frame, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}

		field, value, hasColon := strings.Cut(line, ":")
		if hasColon {
			value = strings.TrimPrefix(value, " ")
		}

		switch field {
		case "event":
			ev.Name = value
			found = true
		case "data":
			data = append(data, value)
			found = true
		case "id":
			if !strings.ContainsRune(value, 0) {
				ev.ID = value
				found = true
			}
		case "retry":
			if ms, err := strconv.ParseUint(value, 10, 32); err == nil {
				ev.Retry = time.Duration(ms) * time.Millisecond
				found = true
			}
		}
	}

	ev.Data = strings.Join(data, "\n")
	return ev, found
}

// EventStream owns an open event-stream response body.
type EventStream struct {
	body      io.ReadCloser
	dec       *Decoder
	closeOnce sync.Once
	closeErr  error
}

// NewEventStream wraps body. The stream takes ownership of body.
func NewEventStream(body io.ReadCloser) *EventStream {
	return &EventStream{
		body: body,
		dec:  NewDecoder(body),
	}
}

// Next returns the next event, or io.EOF at the end of the stream.
func (s *EventStream) Next() (Event, error) {
	return s.dec.Next()
}

// Events returns a forward-only sequence over the stream. The body is
// closed when the loop ends for any reason: exhaustion, an error, or the
// consumer breaking out. The sequence can be ranged over once.
func (s *EventStream) Events() iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		defer s.finish()

		for {
			ev, err := s.dec.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(Event{}, err)
				return
			}
			if !yield(ev, nil) {
				return
			}
		}
	}
}

// finish closes the body once iteration is over. A close failure is not
// reported; the loop has already delivered its outcome.
func (s *EventStream) finish() {
	_ = s.Close()
}

// Close releases the underlying body. It is safe to call more than once.
func (s *EventStream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.body.Close()
	})
	return s.closeErr
}
