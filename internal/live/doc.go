// Package live implements the client for the bilibili open-platform live
// push service.
//
// It covers the binary packet codec (packet.go), the signed REST lifecycle
// client (client.go), the event dispatcher (dispatcher.go), the per-connection
// session loop (session.go), and the single-session manager (manager.go).
package live
