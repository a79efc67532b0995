package restapi

import (
	"encoding/json"
	"net/http"

	"buszy.nrfz.sg/internal/logging"
)

// HealthResponse represents the JSON response from the health endpoint.
type HealthResponse struct {
	Status   string `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Sessions int    `json:"sessions"`
	Stops    int    `json:"stops"`
}

// healthHandler verifies storage connectivity. It returns 503 Service
// Unavailable when the store is missing or unreachable.
func (api *RestAPI) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if api.Application == nil || api.Store == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(HealthResponse{
			Status: "unavailable",
			Detail: "store not initialized",
		})
		return
	}

	if err := api.Ping(r.Context()); err != nil {
		logging.LogError(api.Logger, "store ping failed", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(HealthResponse{
			Status: "unavailable",
			Detail: "database connection failed",
		})
		return
	}

	resp := HealthResponse{Status: "ok"}
	if api.Sessions != nil {
		resp.Sessions = api.Sessions.Len()
	}
	if api.Stops != nil {
		resp.Stops = len(api.Stops.All())
	}
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}
