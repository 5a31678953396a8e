// Package log provides structured logging for GraphLite using zerolog.
//
// A single global Logger is initialized once via Init and shared by every
// package; component loggers (WithComponent, WithSession, WithGraph) attach
// request-scoped fields without threading a logger through every call.
package log
