// Package progress carries pipeline events over Server-Sent Events and folds
// them back into client state.
//
// Each event is framed as a single "data: <json>\n\n" record whose JSON
// object has a "type" field naming the event.
package progress

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/fpang/storybook-faceswap/internal/faceswap"
)

// maxEventBytes bounds a single decoded event. The complete event carries
// every page result, so this is generous.
const maxEventBytes = 4 << 20

// Encode returns the wire JSON of an event, including its "type" field.
func Encode(e faceswap.Event) ([]byte, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", e.Type(), err)
	}
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("re-read %s event: %w", e.Type(), err)
	}
	typ, _ := json.Marshal(e.Type())
	fields["type"] = typ
	return json.Marshal(fields)
}

// Decode parses the wire JSON of one event.
func Decode(data []byte) (faceswap.Event, error) {
	var head struct {
		Type faceswap.EventType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	switch head.Type {
	case faceswap.EventStart:
		return decodeAs[faceswap.StartEvent](data)
	case faceswap.EventPortraitsStart:
		return decodeAs[faceswap.PortraitsStartEvent](data)
	case faceswap.EventPortraitComplete:
		return decodeAs[faceswap.PortraitCompleteEvent](data)
	case faceswap.EventPortraitsComplete:
		return decodeAs[faceswap.PortraitsCompleteEvent](data)
	case faceswap.EventPageStart:
		return decodeAs[faceswap.PageStartEvent](data)
	case faceswap.EventImage:
		return decodeAs[faceswap.ImageEvent](data)
	case faceswap.EventComplete:
		return decodeAs[faceswap.CompleteEvent](data)
	case faceswap.EventError:
		return decodeAs[faceswap.ErrorEvent](data)
	}
	return nil, fmt.Errorf("decode event: unknown type %q", head.Type)
}

func decodeAs[T faceswap.Event](data []byte) (faceswap.Event, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode %s event: %w", v.Type(), err)
	}
	return v, nil
}

// SetHeaders prepares an HTTP response for an event stream.
func SetHeaders(h http.Header) {
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// Writer writes events as SSE records and flushes after each one. It is safe
// for concurrent use. Write errors are remembered, not returned, so a client
// that went away never disturbs the run.
type Writer struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
	err     error
}

var _ faceswap.EventSink = (*Writer)(nil)

// NewWriter wraps w. If w is an http.Flusher every event is flushed.
func NewWriter(w io.Writer) *Writer {
	f, _ := w.(http.Flusher)
	return &Writer{w: w, flusher: f}
}

// Emit writes one event.
func (w *Writer) Emit(e faceswap.Event) {
	data, err := Encode(e)
	w.mu.Lock()
	defer w.mu.Unlock()
	if err == nil {
		_, err = fmt.Fprintf(w.w, "data: %s\n\n", data)
	}
	if err != nil {
		if w.err == nil {
			log.Warn().Err(err).Str("event", string(e.Type())).Msg("Failed to write progress event")
			w.err = err
		}
		return
	}
	if w.flusher != nil {
		w.flusher.Flush()
	}
}

// Err returns the first write error, if any.
func (w *Writer) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Reader decodes an SSE stream into events.
type Reader struct {
	sc *bufio.Scanner
}

// NewReader reads events from r.
func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxEventBytes)
	return &Reader{sc: sc}
}

// Next returns the next event, or io.EOF at the end of the stream. Comment
// lines and fields other than data are ignored. Multiple data lines in one
// record are joined with newlines.
func (r *Reader) Next() (faceswap.Event, error) {
	var buf bytes.Buffer
	for r.sc.Scan() {
		line := r.sc.Text()
		if line == "" {
			if buf.Len() == 0 {
				continue
			}
			return Decode(buf.Bytes())
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		if field != "data" {
			continue
		}
		if buf.Len() > 0 {
			buf.WriteByte('\n')
		}
		buf.WriteString(strings.TrimPrefix(value, " "))
	}
	if err := r.sc.Err(); err != nil {
		return nil, fmt.Errorf("read event stream: %w", err)
	}
	if buf.Len() > 0 {
		return Decode(buf.Bytes())
	}
	return nil, io.EOF
}

// ErrStreamEnded is returned by Consume when the stream closes before a
// terminal event.
var ErrStreamEnded = errors.New("event stream ended without complete or error event")

// Consume reads events into the reducer until a terminal event. onEvent, if
// set, is called after each event is applied.
func Consume(r io.Reader, red *Reducer, onEvent func(faceswap.Event)) error {
	rd := NewReader(r)
	for {
		e, err := rd.Next()
		if errors.Is(err, io.EOF) {
			return ErrStreamEnded
		}
		if err != nil {
			return err
		}
		red.Apply(e)
		if onEvent != nil {
			onEvent(e)
		}
		switch ev := e.(type) {
		case faceswap.CompleteEvent:
			return nil
		case faceswap.ErrorEvent:
			return fmt.Errorf("run failed: %s", ev.Message)
		}
	}
}
