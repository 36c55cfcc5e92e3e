// Package server implements the ChatRelay WebSocket broadcast engine.
//
// The implementation is organized into specialized files for the wire
// protocol, message log, session registry, hub event loop, per-connection
// clients, configuration, and HTTP wiring to keep the codebase maintainable
// and testable as the project grows.
package server
