// Package server manages http.Server lifecycles: background serving,
// signal-driven graceful shutdown, and asynchronous error reporting.
package server
