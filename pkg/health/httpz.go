package health

import (
	"encoding/json"
	"net/http"
)

type endpointResponse struct {
	Healthy bool              `json:"healthy"`
	Checks  map[string]Status `json:"checks"`
}

// Handler serves /healthz: it runs every registered Checker and
// replies 200 when all are healthy, 503 otherwise.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		snapshot := r.CheckAll(req.Context())

		resp := endpointResponse{Healthy: true, Checks: snapshot}
		for _, status := range snapshot {
			if !status.Healthy && !status.InStartPeriod(r.config) {
				resp.Healthy = false
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if !resp.Healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
}
