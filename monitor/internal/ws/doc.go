// Package ws implements the WebSocket hub for the monitor.
//
// Hub manages a set of connected clients and broadcasts the current fleet
// snapshot to all of them on a configurable interval (default 5s in
// production).
//
// New(store, interval) creates a Hub.
// Hub.Run(ctx) starts the broadcast ticker — blocks until ctx is cancelled,
// then closes all active connections.
// Hub.ServeHTTP upgrades an HTTP connection to WebSocket, sends the current
// fleet snapshot immediately on connect, then streams updates on each tick.
//
// Message format sent to clients:
//
//	{
//	  "event": "fleet",
//	  "data":  { "devices": [...], "alerts": [...], "generated_at": "..." }
//	}
//
// The upgrader accepts all origins. Apply CORS restrictions at the reverse
// proxy level. WebSocket endpoint is mounted at /ws/fleet by the monitor.
package ws
