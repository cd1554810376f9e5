package health

import (
	"encoding/json"
	"net/http"
)

// HealthHandler serves a compact health check; it answers 503 while the
// remote service is cooling down.
func (m *Monitor) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := m.GetStatus()

		response := map[string]string{"status": string(st.State)}
		w.Header().Set("Content-Type", "application/json")

		if st.State == StateError {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}

		_ = json.NewEncoder(w).Encode(response)
	}
}

// StatusHandler serves the full Status as JSON.
func (m *Monitor) StatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(m.GetStatus())
	}
}
