// Package logx wraps zerolog for the whole process.
//
// A Service owns the sinks (readable console, JSON file, rate-limited
// operator alerts) and can swap them on config reload. Loggers handed out by
// the Service follow those swaps.
package logx
