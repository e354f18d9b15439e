package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/nextlevelbuilder/agentgate/pkg/protocol"
)

// ContentTypeNDJSON is the media type of the live stream.
const ContentTypeNDJSON = "application/x-ndjson"

// WriteNDJSON drains events into w, one JSON object per line, flushing
// after every line when w supports it. It returns when events is closed or
// a write fails.
func WriteNDJSON(w io.Writer, events <-chan protocol.Event) error {
	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for ev := range events {
		if err := enc.Encode(ev); err != nil {
			return fmt.Errorf("write event %s: %w", ev.Event, err)
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
	return nil
}

// Collect drains events and returns all of them plus the terminal event.
// ok is false when the stream closed without a terminal event.
func Collect(events <-chan protocol.Event) (all []protocol.Event, terminal protocol.Event, ok bool) {
	for ev := range events {
		all = append(all, ev)
		if ev.IsTerminal() {
			terminal = ev
			ok = true
		}
	}
	return all, terminal, ok
}
