package stream

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/raphaelgruber/ragserve/internal/models"
)

// Decoder reads stream frames back from the wire. Used by the CLI client.
type Decoder struct {
	r *bufio.Reader
}

// NewDecoder wraps a response body.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Next returns the next frame, or io.EOF when the stream ends.
func (d *Decoder) Next() (*Event, error) {
	raw, err := d.readFrame()
	if err != nil {
		return nil, err
	}

	tag, payload, ok := strings.Cut(raw, ": ")
	if !ok {
		return nil, fmt.Errorf("malformed frame %q", raw)
	}

	switch EventType(tag) {
	case EventSources:
		var sources []models.Source
		if err := json.Unmarshal([]byte(payload), &sources); err != nil {
			return nil, fmt.Errorf("decode sources frame: %w", err)
		}
		return &Event{Type: EventSources, Sources: sources}, nil

	case EventData:
		return &Event{Type: EventData, Delta: payload}, nil

	case EventDone:
		return &Event{Type: EventDone}, nil

	case EventError:
		var p errorPayload
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return nil, fmt.Errorf("decode error frame: %w", err)
		}
		return &Event{Type: EventError, Message: p.Message}, nil

	default:
		return nil, fmt.Errorf("unknown frame tag %q", tag)
	}
}

// readFrame consumes bytes up to the blank-line terminator.
func (d *Decoder) readFrame() (string, error) {
	var sb strings.Builder
	for {
		line, err := d.r.ReadString('\n')
		if err != nil {
			if err == io.EOF && sb.Len() == 0 && line == "" {
				return "", io.EOF
			}
			if err == io.EOF {
				return "", io.ErrUnexpectedEOF
			}
			return "", err
		}
		if line == "\n" && sb.Len() > 0 {
			return strings.TrimSuffix(sb.String(), "\n"), nil
		}
		sb.WriteString(line)
	}
}
