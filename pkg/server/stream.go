package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/dailyfactoid/factoid/pkg/generator"
)

// handleGenerateStream is the SSE endpoint. Events are emitted as named SSE
// events in orchestration order. A client disconnect stops delivery only;
// the run keeps going so billing resolves.
func (s *Server) handleGenerateStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal", "streaming unsupported")
		return
	}

	params := generateParams{
		Topic: r.URL.Query().Get("topic"),
		Model: r.URL.Query().Get("model"),
	}

	req, reservation := s.admit(w, r, params)
	if req == nil {
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	emit := func(event generator.Event) {
		// The client may be gone; drop delivery but let the run finish.
		if ctx.Err() != nil {
			return
		}
		writeSSE(w, flusher, event)
	}

	// A disconnect cancels the upstream call through ctx, but the run
	// resolves its reservation on a detached context either way.
	if _, err := s.gen.Run(ctx, req, reservation, emit); err != nil {
		s.logger.Debug("streamed generation ended with error",
			"request_id", req.ID, "error", err)
	}
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, event generator.Event) {
	var payload interface{}
	switch event.Kind {
	case generator.KindStatus:
		payload = map[string]string{"stage": string(event.Stage)}
	case generator.KindFactoid:
		payload = event.Factoid
	case generator.KindError:
		payload = map[string]string{
			"code":    string(event.Code),
			"message": event.Message,
		}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Kind, data)
	flusher.Flush()
}
