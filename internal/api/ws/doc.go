// Package ws streams launcher lifecycle events over WebSocket.
//
// Message Types (Server → Client):
//   - system: sent once after the upgrade
//   - launched, launch_failed, stopped: application lifecycle
//   - window_opened, window_closed: top-level windows
//   - prompt: a security question is waiting on the prompt queue
//   - pong: reply to a client ping
//   - error: the client sent something the server does not understand
//
// Message Types (Client → Server):
//   - ping: keep-alive
//
// Example Usage:
//
//	handler := ws.NewHandler(runtime.Events, logger)
//	router.GET("/events", handler.HandleConnection)
package ws
