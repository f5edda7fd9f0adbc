// Package websocket provides real-time event streaming via WebSocket.
//
// Clients connect to /api/v1/runs/:id/ws to receive every stage
// transition of a run; the stream closes after the terminal run event.
package websocket
