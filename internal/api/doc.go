// Package api implements the HTTP REST API and WebSocket server for Portal Bridge.
//
// This package provides:
//   - REST endpoints for listing devices, reading cached state and history
//   - Command endpoints (toggle, position, scene) backed by the control plane
//   - A manual discovery trigger
//   - WebSocket hub broadcasting every registry state change
//   - Optional HS256 bearer-token protection of the command endpoints
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Architecture
//
// The server sits between local clients (dashboards, scripts, the HomeKit
// side of this process) and the control plane. Reads are answered from the
// registry cache and never touch the portal; commands go through the control
// plane, which dispatches them over the authenticated portal session.
//
// # Errors
//
// Failures are returned as {status, code, message}. Domain errors map to
// status codes with errors.Is in writeDomainError.
package api
