package stream

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/raphaelgruber/ragserve/internal/models"
)

func TestWriter_WireFormat(t *testing.T) {
	var sb strings.Builder
	w := NewWriterTo(&sb)

	sources := []models.Source{
		{Filename: "intro.md", ChunkIndex: 0, Relevance: 0.93},
	}
	if err := w.Sources(sources); err != nil {
		t.Fatalf("Sources() error = %v", err)
	}
	if err := w.Delta("Hello"); err != nil {
		t.Fatalf("Delta() error = %v", err)
	}
	if err := w.Delta(" world"); err != nil {
		t.Fatalf("Delta() error = %v", err)
	}
	if err := w.Done(); err != nil {
		t.Fatalf("Done() error = %v", err)
	}

	want := `sources: [{"filename":"intro.md","chunk_index":0,"relevance":0.93}]` + "\n\n" +
		"data: Hello\n\n" +
		"data:  world\n\n" +
		"done: {}\n\n"
	if sb.String() != want {
		t.Errorf("wire output:\n%q\nwant:\n%q", sb.String(), want)
	}
}

func TestWriter_EmptySourcesSerializesAsArray(t *testing.T) {
	var sb strings.Builder
	w := NewWriterTo(&sb)

	if err := w.Sources(nil); err != nil {
		t.Fatalf("Sources(nil) error = %v", err)
	}
	if sb.String() != "sources: []\n\n" {
		t.Errorf("got %q, want sources: []", sb.String())
	}
}

func TestWriter_ErrorFrame(t *testing.T) {
	var sb strings.Builder
	w := NewWriterTo(&sb)

	if err := w.Error("model unavailable"); err != nil {
		t.Fatalf("Error() error = %v", err)
	}
	want := `error: {"message":"model unavailable"}` + "\n\n"
	if sb.String() != want {
		t.Errorf("got %q, want %q", sb.String(), want)
	}
}

func TestNewWriter_SetsStreamingHeaders(t *testing.T) {
	rec := httptest.NewRecorder()

	w, err := NewWriter(rec)
	if err != nil {
		t.Fatalf("NewWriter() error = %v", err)
	}
	if err := w.Done(); err != nil {
		t.Fatalf("Done() error = %v", err)
	}

	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("Content-Type = %q", got)
	}
	if got := rec.Header().Get("Cache-Control"); got != "no-cache" {
		t.Errorf("Cache-Control = %q", got)
	}
	if !rec.Flushed {
		t.Error("response was not flushed")
	}
}

func TestDecoder_RoundTrip(t *testing.T) {
	var sb strings.Builder
	w := NewWriterTo(&sb)

	_ = w.Sources([]models.Source{{Filename: "a.txt", ChunkIndex: 2, Relevance: 0.5}})
	_ = w.Delta("part one")
	_ = w.Delta("part two")
	_ = w.Done()

	d := NewDecoder(strings.NewReader(sb.String()))

	ev, err := d.Next()
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if ev.Type != EventSources || len(ev.Sources) != 1 || ev.Sources[0].Filename != "a.txt" {
		t.Errorf("first event = %+v, want sources frame", ev)
	}

	var deltas []string
	for {
		ev, err = d.Next()
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		if ev.Type == EventDone {
			break
		}
		if ev.Type != EventData {
			t.Fatalf("unexpected event type %q", ev.Type)
		}
		deltas = append(deltas, ev.Delta)
	}
	if strings.Join(deltas, "") != "part onepart two" {
		t.Errorf("deltas = %v", deltas)
	}

	if _, err := d.Next(); err != io.EOF {
		t.Errorf("after done, Next() error = %v, want io.EOF", err)
	}
}

func TestDecoder_ErrorInsteadOfDone(t *testing.T) {
	var sb strings.Builder
	w := NewWriterTo(&sb)

	_ = w.Sources(nil)
	_ = w.Delta("partial")
	_ = w.Error("upstream failed")

	d := NewDecoder(strings.NewReader(sb.String()))

	var sawError bool
	for {
		ev, err := d.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		if ev.Type == EventDone {
			t.Error("done frame after error")
		}
		if ev.Type == EventError {
			sawError = true
			if ev.Message != "upstream failed" {
				t.Errorf("error message = %q", ev.Message)
			}
		}
	}
	if !sawError {
		t.Error("no error frame decoded")
	}
}

func TestDecoder_TruncatedStream(t *testing.T) {
	d := NewDecoder(strings.NewReader("data: cut off mid"))

	if _, err := d.Next(); err != io.ErrUnexpectedEOF {
		t.Errorf("Next() error = %v, want io.ErrUnexpectedEOF", err)
	}
}
