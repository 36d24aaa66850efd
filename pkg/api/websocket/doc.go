// Package websocket provides real-time event streaming via WebSocket.
//
// Clients can connect to /api/v1/run/ws to receive real-time updates about
// the run: instance lifecycle, cache hits, join starvation.
package websocket
