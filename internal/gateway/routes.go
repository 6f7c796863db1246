// internal/gateway/routes.go

package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes registers the gateway endpoints
func RegisterRoutes(router *mux.Router, gw *Gateway, enableMetrics bool) {
	router.HandleFunc("/ws", gw.HandleWebSocket).Methods("GET")
	router.HandleFunc("/health", HealthCheck).Methods("GET")

	if enableMetrics {
		router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	}
}

// HealthCheck reports service liveness
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "healthy",
		"time":   time.Now().UTC(),
	})
}
