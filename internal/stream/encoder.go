package stream

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

// ContentType is the media type of a progress stream.
const ContentType = "application/x-ndjson"

const maxFrameBytes = 8 << 20

// Sink consumes frames in order. An error means the consumer is gone.
type Sink interface {
	Write(Frame) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Frame) error

func (f SinkFunc) Write(frame Frame) error {
	return f(frame)
}

// SetHeaders prepares a response for streaming frames through proxies.
func SetHeaders(h http.Header) {
	h.Set("Content-Type", ContentType)
	h.Set("Cache-Control", "no-cache, no-transform")
	h.Set("X-Accel-Buffering", "no")
}

// Encoder writes one JSON object per line and flushes after each frame.
// After the first failed write every later Write returns the same error.
type Encoder struct {
	mu    sync.Mutex
	w     io.Writer
	flush func() error
	err   error
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// NewResponseEncoder flushes through the response controller of w.
func NewResponseEncoder(w http.ResponseWriter) *Encoder {
	rc := http.NewResponseController(w)
	return &Encoder{w: w, flush: rc.Flush}
}

func (e *Encoder) Write(frame Frame) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encode %s frame: %w", frame.Kind(), err)
	}
	data = append(data, '\n')
	if _, err := e.w.Write(data); err != nil {
		e.err = fmt.Errorf("write frame: %w", err)
		return e.err
	}
	if e.flush != nil {
		if err := e.flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
			e.err = fmt.Errorf("flush frame: %w", err)
			return e.err
		}
	}
	return nil
}

// Err reports the sticky write error, if any.
func (e *Encoder) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Tee writes every frame to primary and then to each observer. Observer
// failures are ignored.
func Tee(primary Sink, observers ...Sink) Sink {
	return SinkFunc(func(frame Frame) error {
		err := primary.Write(frame)
		for _, o := range observers {
			_ = o.Write(frame)
		}
		return err
	})
}

// Decoder reads frames written by Encoder. Blank lines are skipped.
type Decoder struct {
	sc *bufio.Scanner
}

func NewDecoder(r io.Reader) *Decoder {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxFrameBytes)
	return &Decoder{sc: sc}
}

// Next returns the next frame, or io.EOF at the end of the stream.
func (d *Decoder) Next() (Record, error) {
	for d.sc.Scan() {
		line := strings.TrimSpace(d.sc.Text())
		if line == "" {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return Record{}, fmt.Errorf("decode frame: %w", err)
		}
		return rec, nil
	}
	if err := d.sc.Err(); err != nil {
		return Record{}, fmt.Errorf("read frame: %w", err)
	}
	return Record{}, io.EOF
}
