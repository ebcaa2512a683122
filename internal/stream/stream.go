// Package stream implements the chat streaming wire protocol shared by the
// HTTP and websocket transports.
//
// Each frame is `tag: payload` terminated by a blank line:
//
//	sources: <json array>   sent once, before any content
//	data: <text delta>      zero or more content fragments
//	done: {}                terminates a successful stream
//	error: {"message":...}  terminates a failed stream instead of done
package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/raphaelgruber/ragserve/internal/models"
)

// EventType tags a stream frame. The set is closed.
type EventType string

const (
	EventSources EventType = "sources"
	EventData    EventType = "data"
	EventDone    EventType = "done"
	EventError   EventType = "error"
)

// Event is one frame of a chat stream in transport-neutral form. The
// websocket transport sends these as JSON objects.
type Event struct {
	Type    EventType       `json:"type"`
	Sources []models.Source `json:"sources,omitempty"`
	Delta   string          `json:"delta,omitempty"`
	Message string          `json:"message,omitempty"`
}

// errorPayload is the wire shape of an error frame.
type errorPayload struct {
	Message string `json:"message"`
}

// Writer emits stream frames over an http.ResponseWriter, flushing after
// each frame so deltas reach the client as they are produced.
type Writer struct {
	w       io.Writer
	flusher http.Flusher
}

// NewWriter prepares a streaming response and returns a frame writer.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	return &Writer{w: w, flusher: flusher}, nil
}

// NewWriterTo wraps a plain io.Writer without flushing (used by tests).
func NewWriterTo(w io.Writer) *Writer {
	return &Writer{w: w}
}

func (w *Writer) frame(tag EventType, payload []byte) error {
	if _, err := fmt.Fprintf(w.w, "%s: %s\n\n", tag, payload); err != nil {
		return fmt.Errorf("write %s frame: %w", tag, err)
	}
	if w.flusher != nil {
		w.flusher.Flush()
	}
	return nil
}

// Sources emits the citation list. Must be the first frame of the stream.
func (w *Writer) Sources(sources []models.Source) error {
	if sources == nil {
		sources = []models.Source{}
	}
	payload, err := json.Marshal(sources)
	if err != nil {
		return fmt.Errorf("marshal sources: %w", err)
	}
	return w.frame(EventSources, payload)
}

// Delta emits one content fragment.
func (w *Writer) Delta(text string) error {
	return w.frame(EventData, []byte(text))
}

// Done terminates a successful stream.
func (w *Writer) Done() error {
	return w.frame(EventDone, []byte("{}"))
}

// Error terminates a failed stream. No done frame follows.
func (w *Writer) Error(message string) error {
	payload, err := json.Marshal(errorPayload{Message: message})
	if err != nil {
		return fmt.Errorf("marshal error frame: %w", err)
	}
	return w.frame(EventError, payload)
}
