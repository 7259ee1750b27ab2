// Package server implements the HTTP control surface using Echo framework.
//
// Routes: live lifecycle (/api/live/*), event stream (/ws/events), and
// observability (/health/*, /metrics). Handlers split by concern:
// handlers.go, handlers_health.go, stream.go.
package server
