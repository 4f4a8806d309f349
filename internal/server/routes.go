// Package server wires HTTP handlers into a gorilla/mux router for the relay.
package server

import (
	"net/http"

	"github.com/gorilla/mux"
)

// SetupRoutes configures and returns a router with all application routes.
// Preflight requests on any path get 204, /ws upgrades to the relay, and every
// other path falls through to the plain-text banner.
func SetupRoutes(relay *Relay) *mux.Router {
	router := mux.NewRouter()
	router.Use(corsMiddleware)

	router.Methods(http.MethodOptions).HandlerFunc(PreflightHandler)
	router.HandleFunc("/ws", relay.WebSocketHandler)
	router.HandleFunc("/status", relay.StatusHandler).Methods(http.MethodGet, http.MethodHead)
	router.Handle("/metrics", relay.Metrics().Handler()).Methods(http.MethodGet)
	router.HandleFunc("/test", relay.TestPageHandler).Methods(http.MethodGet)
	router.PathPrefix("/").HandlerFunc(HealthHandler)

	return router
}
