// Package httputil provides shared HTTP response/request utilities for handlers.
//
// Handlers use these helpers instead of writing raw http.ResponseWriter
// calls, so every endpoint shares the same JSON error envelope. 5xx bodies
// are always generic; the cause goes to the log.
package httputil
