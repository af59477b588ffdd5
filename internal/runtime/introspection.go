package runtime

import (
	"net/http"

	"github.com/drblury/keelson/internal/runtime/jsoncodec"
)

// registerIntrospection serves the registered handlers and the envelope
// statistics as JSON on port.
func (s *Service) registerIntrospection(port int) {
	s.RegisterHTTPHandler(port, "/api/handlers", http.HandlerFunc(s.handleGetHandlers))
	s.RegisterHTTPHandler(port, "/api/envelopes", http.HandlerFunc(s.handleGetEnvelopes))
}

func (s *Service) handleGetHandlers(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, s.Handlers())
}

func (s *Service) handleGetEnvelopes(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, s.metrics.Snapshot())
}

func (s *Service) writeJSON(w http.ResponseWriter, r *http.Request, v any) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := jsoncodec.NewEncoder(w).Encode(v); err != nil {
		s.Logger.Error("Failed to encode introspection response", err, nil)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}
